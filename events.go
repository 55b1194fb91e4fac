package mqttcore

// EventKind identifies a connection event.
type EventKind int

// Connection events.
const (
	// EventAttach asks the owner to attach a socket by calling Connect.
	// It is raised on the goroutine of the operation that found no socket.
	EventAttach EventKind = iota + 1
	// EventConnected is raised when the broker accepts the CONNECT.
	EventConnected
	// EventDisconnect is raised when the connection is closed by an error
	// or by Disconnect. Client.Err returns the cause.
	EventDisconnect
	// EventTimeout is raised when nothing was received within the idle
	// timeout. The connection is closed right after.
	EventTimeout
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventAttach:
		return "attach"
	case EventConnected:
		return "connected"
	case EventDisconnect:
		return "disconnect"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// EventHandler receives connection events. EventAttach runs on the
// goroutine of the operation that needs a socket. The other events run in
// order on a per-client event goroutine, never on the reader, so handlers
// may call any Client method and wait for acknowledgements. A handler that
// blocks delays later events.
type EventHandler interface {
	OnEvent(c *Client, kind EventKind)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(c *Client, kind EventKind)

// OnEvent calls f(c, kind).
func (f EventHandlerFunc) OnEvent(c *Client, kind EventKind) {
	f(c, kind)
}

// MessageHandler receives messages for a subscription.
//
// A plain handler runs synchronously on the connection's reader goroutine.
// The message aliases the receive buffer and must not be retained, and
// the handler must not wait for acknowledgements on the same client since
// nothing is read until it returns. Wrap a handler with Spawn when it needs
// to block.
type MessageHandler interface {
	OnMessage(msg *Message)
}

// MessageHandlerFunc adapts a function to a synchronous MessageHandler.
type MessageHandlerFunc func(msg *Message)

// OnMessage calls f(msg).
func (f MessageHandlerFunc) OnMessage(msg *Message) {
	f(msg)
}

// spawnedHandler runs its handler on a new goroutine with an owned copy
// of the message.
type spawnedHandler struct {
	handler MessageHandler
}

// OnMessage calls the wrapped handler directly.
func (s *spawnedHandler) OnMessage(msg *Message) {
	s.handler.OnMessage(msg)
}

// Spawn returns a MessageHandler that is invoked on its own goroutine with
// a copy of each message. Destroy waits, up to the drain timeout, for
// spawned handlers to return.
func Spawn(h MessageHandler) MessageHandler {
	if s, ok := h.(*spawnedHandler); ok {
		return s
	}
	return &spawnedHandler{handler: h}
}

// WaitFlags selects how long an operation blocks.
type WaitFlags uint8

const (
	// WaitNone returns once the packet is queued.
	WaitNone WaitFlags = iota
	// WaitSent returns once the packet is fully written to the socket.
	WaitSent
	// WaitAck returns once the exchange completes: the acknowledgement
	// arrived, or for QoS 0 publishes the packet was written.
	WaitAck
)

// ConnectFlags controls the CONNECT packet.
type ConnectFlags uint8

const (
	// ConnectCleanSession asks the broker to discard the previous session.
	ConnectCleanSession ConnectFlags = 1 << iota
)
