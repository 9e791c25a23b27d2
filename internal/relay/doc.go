// Package relay implements the websocket broadcast relay.
//
// A relay greets every new connection with a welcome envelope and fans every
// payload it receives out to the connections currently in its registry. Two
// transports implement the same Relay interface and one is chosen at
// startup:
//
//   - RawRelay treats each websocket as the broadcast unit and frames
//     envelopes itself as {"type":..., "message":..., "timestamp":...}.
//   - GroupedRelay runs on melody and multiplexes named events and rooms
//     over one websocket as {"event":..., "room":..., "data":...}.
//
// The registry is owned by the relay instance and guarded by a mutex; it is
// never exposed as package state.
package relay
