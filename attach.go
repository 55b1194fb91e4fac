package mqttcore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultAttachTimeout bounds a single AutoAttach dial.
const DefaultAttachTimeout = 30 * time.Second

// AutoAttach is an EventHandler that answers EventAttach by dialing the
// broker and calling Connect. It does not wait for CONNACK: operations
// queued behind the CONNECT go out once the broker accepts it.
//
// Every event, EventAttach included, is passed on to Next afterwards.
type AutoAttach struct {
	// URL is the broker address handed to Dialer.
	URL string

	// Dialer opens the socket. Typically a BreakerDialer around a URLDialer.
	Dialer Dialer

	// Flags are sent with every CONNECT.
	Flags ConnectFlags

	// Timeout bounds the dial. Zero uses DefaultAttachTimeout.
	Timeout time.Duration

	// Next receives events after AutoAttach handled them.
	Next EventHandler

	logger Logger
	mu     sync.Mutex
}

// NewAutoAttach creates an AutoAttach for url. The dialer is wrapped in a
// circuit breaker so a broker that keeps refusing is not hammered by every
// queued operation.
func NewAutoAttach(url string, dialer Dialer, flags ConnectFlags, breaker BreakerConfig, logger Logger) *AutoAttach {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	logger = logger.WithFields(LogFields{LogFieldRemoteAddr: url})

	return &AutoAttach{
		URL:    url,
		Dialer: NewBreakerDialer(url, dialer, breaker, logger),
		Flags:  flags,
		logger: logger,
	}
}

// OnEvent implements EventHandler.
func (a *AutoAttach) OnEvent(c *Client, kind EventKind) {
	if kind == EventAttach {
		a.attach(c)
	}
	if a.Next != nil {
		a.Next.OnEvent(c, kind)
	}
}

func (a *AutoAttach) log() Logger {
	if a.logger == nil {
		return NewNoOpLogger()
	}
	return a.logger
}

// attach dials and connects c unless another caller already did.
func (a *AutoAttach) attach(c *Client) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c.State() != StateDisconnected {
		return
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultAttachTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	sock, err := a.Dialer.Dial(ctx, a.URL)
	if err != nil {
		a.log().Warn("attach dial failed", LogFields{LogFieldError: err.Error()})
		return
	}

	if err := c.Connect(ctx, sock, a.Flags, WaitNone); err != nil {
		sock.Close()
		if !errors.Is(err, ErrAlreadyConnected) {
			a.log().Warn("attach connect failed", LogFields{LogFieldError: err.Error()})
		}
		return
	}

	a.log().Debug("socket attached", LogFields{LogFieldDuration: time.Since(start)})
}
