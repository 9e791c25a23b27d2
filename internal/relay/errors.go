package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrConnClosed is returned when sending to a connection that has closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrQueueFull is returned when a connection's outbound queue is full.
	ErrQueueFull = errors.New("send queue full")
	// ErrUnknownMode is returned by New for a mode it does not implement.
	ErrUnknownMode = errors.New("unknown relay mode")
	// ErrDuplicateConn is returned when a connection id is already registered.
	ErrDuplicateConn = errors.New("connection already registered")
)

// ParseError reports an inbound payload that is not valid structured data.
// The payload is dropped and the connection stays open.
type ParseError struct {
	ConnID string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse payload from %s: %v", e.ConnID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransportError reports a read, write or queue failure on one connection.
// The connection is disconnected; other connections are unaffected.
type TransportError struct {
	ConnID string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ConnID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
