package mqttcore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

const (
	// readerStopTimeout bounds how long Destroy waits for the reader
	// goroutine after closing the socket.
	readerStopTimeout = time.Second

	// recentAckTTL is how long completed packet identifiers are remembered
	// so late duplicate acknowledgements are ignored.
	recentAckTTL = time.Minute
)

// Client is an MQTT v3.1.1 client connection.
//
// A Client does not dial. When an operation needs a socket and none is
// attached, the client raises EventAttach and the event handler is expected
// to call Connect with a fresh Socket. The client never reconnects on its
// own.
//
// All methods are safe for concurrent use.
type Client struct {
	mu sync.Mutex

	clientID string
	events   EventHandler
	options  *clientOptions
	logger   Logger
	metrics  *clientMetrics

	state stateHolder
	sock  Socket
	// gen changes whenever the socket is attached or dropped so stale
	// readers and timers can tell they no longer apply.
	gen        uint64
	readerDone chan struct{}
	err        error

	queue *queue
	flow  *flowController
	subs  subscriptionList
	// inbound holds QoS 2 messages between PUBREC and PUBREL. It outlives
	// the socket when the session is persistent.
	inbound      map[uint16]*Message
	cleanSession bool

	throttle *throttle
	limiter  *rate.Limiter

	lastRx     time.Time
	lastTx     time.Time
	idleTimer  *time.Timer
	retryTimer *time.Timer

	// pending holds events raised under the lock. unlock moves them to
	// eventQueue, which one goroutine at a time drains in order.
	pending      []EventKind
	eventQueue   []EventKind
	eventRunning bool
	handlers     sync.WaitGroup
}

// New creates a client. The event handler may be nil, in which case
// operations without an attached socket fail with ErrNotConnected.
func New(clientID string, events EventHandler, opts ...Option) (*Client, error) {
	if err := validateClientID(clientID); err != nil {
		return nil, err
	}

	options := applyOptions(opts...)
	if err := options.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		clientID: clientID,
		events:   events,
		options:  options,
		logger:   options.logger.WithFields(LogFields{LogFieldClientID: clientID}),
		metrics:  newClientMetrics(options.metrics, clientID),
		queue:    newQueue(options.maxQueue, recentAckTTL),
		flow:     newFlowController(options.maxInflight),
		inbound:  make(map[uint16]*Message),
		throttle: newThrottle(options.throttle),
		limiter:  newPublishLimiter(options.publishRate, options.publishBurst),
	}

	return c, nil
}

func validateClientID(id string) error {
	if len(id) > maxUint16 {
		return errors.Join(ErrInvalidClientID, ErrFieldTooLong)
	}
	if !utf8.ValidString(id) {
		return errors.Join(ErrInvalidClientID, ErrInvalidUTF8)
	}
	return nil
}

// ClientID returns the client identifier.
func (c *Client) ClientID() string {
	return c.clientID
}

// Connect attaches sock and sends CONNECT. With WaitAck it returns once the
// broker answered: nil if accepted, a *ConnectError if refused.
func (c *Client) Connect(ctx context.Context, sock Socket, flags ConnectFlags, wait WaitFlags) error {
	if sock == nil {
		return ErrMissingArgument
	}

	c.mu.Lock()
	if c.state.isClosed() {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.sock != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}

	pkt := c.connectPacketLocked(flags)
	m := newMessage(pkt, wait)
	if err := m.buf.encode(pkt, c.options.maxMessageSize); err != nil {
		c.mu.Unlock()
		return err
	}

	c.cleanSession = pkt.CleanSession
	if c.cleanSession {
		clear(c.inbound)
	}
	c.attachLocked(sock)
	c.queue.pushFront(m)
	c.flushLocked()
	c.unlock()

	c.logger.Debug("connecting", LogFields{"clean_session": pkt.CleanSession})

	return m.future.wait(ctx, wait)
}

// connectPacketLocked builds the CONNECT packet from the current settings.
func (c *Client) connectPacketLocked(flags ConnectFlags) *ConnectPacket {
	o := c.options
	pkt := &ConnectPacket{
		ClientID:     c.clientID,
		CleanSession: flags&ConnectCleanSession != 0,
		KeepAlive:    keepAliveSeconds(o.keepAlive),
		Username:     o.username,
		Password:     o.password,
	}

	if o.will != nil {
		pkt.WillFlag = true
		pkt.WillTopic = o.will.topic
		pkt.WillPayload = o.will.payload
		pkt.WillQoS = o.will.qos
		pkt.WillRetain = o.will.retain
	}

	return pkt
}

// attachLocked installs sock and starts its reader and idle timer.
func (c *Client) attachLocked(sock Socket) {
	now := time.Now()

	c.sock = sock
	c.gen++
	c.err = nil
	c.lastRx = now
	c.lastTx = now
	c.state.transition(StateConnecting)

	done := make(chan struct{})
	c.readerDone = done
	go c.readLoop(sock, c.gen, done)

	c.scheduleIdleLocked(now)
}

// Disconnect sends DISCONNECT and closes the socket once it is written.
// Subscriptions stay registered for the next Connect.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state.isClosed() {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.sock == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}

	m := newMessage(&DisconnectPacket{}, WaitSent)
	err := c.enqueueLocked(m, &DisconnectPacket{})
	c.unlock()
	if err != nil {
		return err
	}

	c.logger.Debug("disconnecting", nil)

	return m.future.wait(ctx, WaitSent)
}

// Destroy closes the client for good. Every blocked operation returns an
// error matching ErrNotConnected, the socket is closed, timers stop and
// subscriptions are dropped. Destroy then waits, bounded by the drain
// timeout, for the reader and spawned handlers to finish.
//
// Destroy must not be called from a synchronous MessageHandler. Event
// handlers and spawned handlers may call it.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.state.isClosed() {
		c.mu.Unlock()
		return
	}

	readerDone := c.readerDone
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.gen++
	c.stopTimersLocked()
	c.state.set(StateClosed)

	lost := NewConnectionLostError(ErrClientClosed)
	for _, m := range c.queue.drain() {
		c.finishLocked(m, lost)
	}
	c.flow.reset()
	c.subs.clear()
	clear(c.inbound)
	c.pending = nil
	c.eventQueue = nil
	c.mu.Unlock()

	if readerDone != nil {
		select {
		case <-readerDone:
		case <-time.After(readerStopTimeout):
			c.logger.Warn("reader did not stop", nil)
		}
	}

	handlersDone := make(chan struct{})
	go func() {
		c.handlers.Wait()
		close(handlersDone)
	}()

	select {
	case <-handlersDone:
	case <-time.After(c.options.drainTimeout):
		c.logger.Warn("spawned handlers still running after drain timeout", LogFields{
			LogFieldDuration: c.options.drainTimeout,
		})
	}

	c.logger.Debug("client destroyed", nil)
}

// SetCredentials sets the username and password used by the next Connect.
// A nil password sends no password.
func (c *Client) SetCredentials(username string, password []byte) error {
	if len(username) > maxUint16 || len(password) > maxUint16 {
		return ErrFieldTooLong
	}
	if password != nil && username == "" {
		return ErrPasswordWithoutUser
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.options.username = username
	c.options.password = password
	return nil
}

// SetWill sets the will message used by the next Connect. An empty topic
// clears it.
func (c *Client) SetWill(topic string, payload []byte, qos byte, retain bool) error {
	var will *willMessage
	if topic != "" {
		will = &willMessage{topic: topic, payload: payload, qos: qos, retain: retain}
		if err := will.validate(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.options.will = will
	return nil
}

// SetKeepAlive sets the keep-alive interval sent in the next CONNECT and
// used for ping scheduling. Zero disables pings.
func (c *Client) SetKeepAlive(d time.Duration) error {
	if d < 0 || d > maxKeepAlive {
		return fmt.Errorf("%w: keep-alive %s", ErrInvalidOption, d)
	}

	c.mu.Lock()
	c.options.keepAlive = d
	c.rescheduleIdleLocked()
	c.mu.Unlock()
	return nil
}

// SetTimeout sets the idle timeout. Zero disables it.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.options.timeout = max(d, 0)
	c.rescheduleIdleLocked()
	c.mu.Unlock()
}

// SetMessageSize sets the largest remaining length accepted in either
// direction. Zero removes the limit.
func (c *Client) SetMessageSize(n uint32) error {
	if n > maxVarint {
		return ErrPacketTooLarge
	}

	c.mu.Lock()
	c.options.maxMessageSize = n
	c.mu.Unlock()
	return nil
}

// IsConnected reports whether the broker accepted the current connection.
func (c *Client) IsConnected() bool {
	return c.state.isConnected()
}

// State returns the connection state.
func (c *Client) State() State {
	return c.state.get()
}

// Err returns the error that closed the last connection, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// LastActivity returns the time of the most recent read or write.
func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastRx.After(c.lastTx) {
		return c.lastRx
	}
	return c.lastTx
}

// Throttle records a backpressure signal from the broker. Subsequent
// publishes are delayed; the delay decays over time.
func (c *Client) Throttle() {
	c.mu.Lock()
	delay := c.throttle.signal()
	c.mu.Unlock()

	c.metrics.throttleDelay(delay)
	c.logger.Info("publish throttled", LogFields{LogFieldDuration: delay})
}

// unlock releases the lock and hands events raised while it was held to
// the event goroutine. Handlers never run on the reader goroutine, so they
// may wait for acknowledgements.
func (c *Client) unlock() {
	if len(c.pending) > 0 && c.events != nil {
		c.eventQueue = append(c.eventQueue, c.pending...)
		if !c.eventRunning {
			c.eventRunning = true
			go c.runEvents()
		}
	}
	c.pending = nil
	c.mu.Unlock()
}

// runEvents emits queued events in order and exits once the queue is empty.
func (c *Client) runEvents() {
	for {
		c.mu.Lock()
		if len(c.eventQueue) == 0 {
			c.eventRunning = false
			c.mu.Unlock()
			return
		}
		kind := c.eventQueue[0]
		c.eventQueue = c.eventQueue[1:]
		c.mu.Unlock()

		c.emit(kind)
	}
}

func (c *Client) emit(kind EventKind) {
	if c.events != nil {
		c.events.OnEvent(c, kind)
	}
}

// ensureAttached raises EventAttach when no socket is attached, giving the
// owner a chance to call Connect. The caller re-checks under the lock.
func (c *Client) ensureAttached() error {
	c.mu.Lock()
	closed := c.state.isClosed()
	attached := c.sock != nil
	c.mu.Unlock()

	if closed {
		return ErrClientClosed
	}
	if !attached {
		c.emit(EventAttach)
	}
	return nil
}

// enqueueLocked assigns an identifier if needed, encodes p into m and
// queues it for sending. Argument errors leave the connection unchanged.
func (c *Client) enqueueLocked(m *message, p Packet) error {
	if c.state.isClosed() {
		return ErrClientClosed
	}
	if c.sock == nil {
		return ErrNotConnected
	}
	if c.queue.full() {
		return ErrQueueFull
	}

	if m.needsID() {
		id, err := c.queue.allocateID()
		if err != nil {
			c.closeLocked(err, EventDisconnect)
			return NewConnectionLostError(err)
		}
		m.id = id
		if pw, ok := p.(PacketWithID); ok {
			pw.SetPacketID(id)
		}
	}

	if err := m.buf.encode(p, c.options.maxMessageSize); err != nil {
		return err
	}

	c.queue.push(m)
	c.flushLocked()
	return nil
}

// completeLocked finishes an acknowledged message and remembers its id.
func (c *Client) completeLocked(m *message, err error, now time.Time) {
	c.queue.remove(m, now)
	c.finishLocked(m, err)
}

// finishLocked releases the resources of a message that left the queue and
// wakes its waiter.
func (c *Client) finishLocked(m *message, err error) {
	if m.inflight {
		c.flow.release(m.qos)
		m.inflight = false
	}
	m.state = stateComplete
	m.buf.release()
	m.future.complete(err)
}

// closeLocked drops the socket. A non-nil cause becomes the sticky error.
// Every queued message completes with a ConnectionLostError, and kind, if
// non-zero, is raised once the lock is released. Held inbound QoS 2
// messages are kept for a persistent session so the broker's PUBREL after
// reconnect still delivers them.
func (c *Client) closeLocked(cause error, kind EventKind) {
	if c.sock == nil {
		return
	}

	if cause != nil {
		c.err = cause
		c.metrics.connectionError()
		c.logger.Warn("connection closed", LogFields{LogFieldError: cause.Error()})
	} else {
		c.logger.Info("connection closed", nil)
	}

	c.sock.Close()
	c.sock = nil
	c.gen++
	c.stopTimersLocked()
	c.state.transition(StateDisconnected)

	lost := NewConnectionLostError(cause)
	for _, m := range c.queue.drain() {
		c.finishLocked(m, lost)
	}
	c.flow.reset()
	if c.cleanSession {
		clear(c.inbound)
	}

	if kind != 0 {
		c.pending = append(c.pending, kind)
	}
}

func (c *Client) stopTimersLocked() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}
