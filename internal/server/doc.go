// Package server exposes the relay and the config reporter over HTTP.
//
// The chi router carries the health, info, config and test page endpoints
// next to the relay's websocket endpoint. In raw mode the relay shares the
// listener root with the info endpoint; upgrade requests are routed to the
// relay and everything else gets the info document.
package server
