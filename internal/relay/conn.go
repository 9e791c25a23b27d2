package relay

import "sync/atomic"

// State is the lifecycle position of a connection.
type State int32

// Connection states. Closed is terminal; a reconnecting client gets a new
// connection with a new id.
const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one live client link as seen by the relay.
//
// Implementations embed connState, which supplies State and the unexported
// lifecycle hook; the interface is therefore only implementable inside this
// package.
type Conn interface {
	ID() string
	State() State
	// Send queues data for delivery without blocking on network I/O.
	Send(data []byte) error
	// Close releases the transport. It is safe to call more than once.
	Close() error
	lifecycle() *connState
}

type connState struct {
	v atomic.Int32
}

func (s *connState) State() State { return State(s.v.Load()) }

func (s *connState) lifecycle() *connState { return s }

func (s *connState) markOpen() bool {
	return s.v.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// markClosed moves to Closed and reports whether this call did so.
func (s *connState) markClosed() bool {
	return State(s.v.Swap(int32(StateClosed))) != StateClosed
}
