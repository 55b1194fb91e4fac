package mqttcore

import (
	"sync/atomic"
)

// State represents the connection state of a Client.
type State uint32

// Client states.
const (
	// StateDisconnected means no socket is attached.
	StateDisconnected State = iota
	// StateConnecting means a socket is attached and CONNECT was queued.
	StateConnecting
	// StateConnected means the broker accepted the CONNECT.
	StateConnected
	// StateClosed means the client was destroyed.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateHolder stores the state so it can be read without the client lock.
// Writes happen under the client lock.
type stateHolder struct {
	state atomic.Uint32
}

func (h *stateHolder) get() State {
	return State(h.state.Load())
}

func (h *stateHolder) set(s State) {
	h.state.Store(uint32(s))
}

// transition moves to the next state unless the client is already closed.
func (h *stateHolder) transition(to State) bool {
	for {
		from := h.state.Load()
		if State(from) == StateClosed {
			return false
		}
		if h.state.CompareAndSwap(from, uint32(to)) {
			return true
		}
	}
}

func (h *stateHolder) isConnected() bool {
	return h.get() == StateConnected
}

func (h *stateHolder) isClosed() bool {
	return h.get() == StateClosed
}
