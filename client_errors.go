package mqttcore

import (
	"errors"
	"fmt"
)

// Sentinel errors for argument checks - check with errors.Is().
// They are returned synchronously and never change connection state.
var (
	// ErrInvalidClientID is returned when the client identifier cannot be used.
	ErrInvalidClientID = errors.New("invalid client id")

	// ErrInvalidTopic is returned when a topic or filter is invalid.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrMissingArgument is returned when a required argument is nil or empty.
	ErrMissingArgument = errors.New("missing required argument")

	// ErrInvalidOption is returned when a setting is out of range.
	ErrInvalidOption = errors.New("invalid option")

	// ErrQueueFull is returned when the in-flight queue has no room.
	ErrQueueFull = errors.New("message queue full")
)

// Sentinel errors for connection state - check with errors.Is().
var (
	// ErrNotConnected is returned when an operation requires an attached
	// connection, and to every waiter when the connection goes away.
	ErrNotConnected = errors.New("not connected")

	// ErrClientClosed is returned when an operation is attempted after Destroy.
	ErrClientClosed = errors.New("client closed")

	// ErrAlreadyConnected is returned by Connect while a socket is attached.
	ErrAlreadyConnected = errors.New("already connected")
)

// Sentinel errors for fatal protocol issues - check with errors.Is().
// Each one closes the connection.
var (
	// ErrProtocolError wraps malformed or illegal inbound packets.
	ErrProtocolError = errors.New("protocol error")

	// ErrUnexpectedAck is returned when an acknowledgement matches no
	// in-flight message.
	ErrUnexpectedAck = errors.New("unexpected acknowledgement")

	// ErrIdleTimeout is the cause recorded when nothing was received
	// within the idle timeout.
	ErrIdleTimeout = errors.New("idle timeout")

	// ErrPacketIDExhausted is returned when all 65535 packet identifiers
	// are in use.
	ErrPacketIDExhausted = errors.New("packet identifiers exhausted")
)

// ConnectError is returned when the broker refuses the connection.
// Extract with errors.As().
type ConnectError struct {
	Code ConnectReturnCode
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connection refused: %s", e.Code)
}

// SubscribeError is returned when the broker rejects a subscription.
// Extract with errors.As().
type SubscribeError struct {
	Filter string
	Code   byte
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscription to %q rejected (return code 0x%02x)", e.Filter, e.Code)
}

// ConnectionLostError is delivered to every waiter when a fatal error
// closes the connection. It matches ErrNotConnected and unwraps to Cause.
// Extract with errors.As().
type ConnectionLostError struct {
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause == nil {
		return ErrNotConnected.Error()
	}
	return fmt.Sprintf("%s: %v", ErrNotConnected, e.Cause)
}

func (e *ConnectionLostError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrNotConnected}
	}
	return []error{ErrNotConnected, e.Cause}
}

// NewConnectionLostError creates a ConnectionLostError for the given cause.
func NewConnectionLostError(cause error) *ConnectionLostError {
	return &ConnectionLostError{Cause: cause}
}

// protocolError wraps a codec or state error as a fatal protocol error.
func protocolError(err error) error {
	return fmt.Errorf("%w: %w", ErrProtocolError, err)
}
