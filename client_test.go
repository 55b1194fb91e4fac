package mqttcore

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testWait = 5 * time.Second

// mockBroker accepts client sockets on loopback TCP. The test drives each
// accepted connection packet by packet.
type mockBroker struct {
	t        *testing.T
	listener net.Listener
	conns    chan net.Conn

	mu       sync.Mutex
	accepted []net.Conn
	wg       sync.WaitGroup
	once     sync.Once
}

func newMockBroker(t *testing.T) *mockBroker {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &mockBroker{
		t:        t,
		listener: listener,
		conns:    make(chan net.Conn, 4),
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			b.mu.Lock()
			b.accepted = append(b.accepted, conn)
			b.mu.Unlock()
			b.conns <- conn
		}
	}()

	t.Cleanup(b.close)
	return b
}

func (b *mockBroker) addr() string {
	return b.listener.Addr().String()
}

func (b *mockBroker) url() string {
	return "tcp://" + b.addr()
}

func (b *mockBroker) dial() Socket {
	b.t.Helper()
	sock, err := (&TCPDialer{Timeout: testWait}).Dial(context.Background(), b.addr())
	require.NoError(b.t, err)
	return sock
}

func (b *mockBroker) accept() *brokerConn {
	b.t.Helper()
	select {
	case conn := <-b.conns:
		return &brokerConn{t: b.t, conn: conn}
	case <-time.After(testWait):
		b.t.Fatal("no connection accepted")
		return nil
	}
}

func (b *mockBroker) close() {
	b.once.Do(func() {
		b.listener.Close()
		b.wg.Wait()

		b.mu.Lock()
		for _, conn := range b.accepted {
			conn.Close()
		}
		b.mu.Unlock()
	})
}

// brokerConn is the broker side of one client connection.
type brokerConn struct {
	t    *testing.T
	conn net.Conn
}

func (bc *brokerConn) read() Packet {
	bc.t.Helper()
	require.NoError(bc.t, bc.conn.SetReadDeadline(time.Now().Add(testWait)))
	p, _, err := ReadPacket(bc.conn, 0)
	require.NoError(bc.t, err)
	return p
}

func (bc *brokerConn) write(p Packet) {
	bc.t.Helper()
	_, err := WritePacket(bc.conn, p, 0)
	require.NoError(bc.t, err)
}

// handshake answers the CONNECT with an accepting CONNACK.
func (bc *brokerConn) handshake(sessionPresent bool) *ConnectPacket {
	bc.t.Helper()
	connect := expectPacket[*ConnectPacket](bc.t, bc)
	bc.write(&ConnackPacket{SessionPresent: sessionPresent, ReturnCode: ConnectAccepted})
	return connect
}

// expectClosed waits for the client to close the socket.
func (bc *brokerConn) expectClosed() {
	bc.t.Helper()
	require.NoError(bc.t, bc.conn.SetReadDeadline(time.Now().Add(testWait)))
	_, _, err := ReadPacket(bc.conn, 0)
	require.Error(bc.t, err)

	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(bc.t, netErr.Timeout(), "client kept the socket open")
	}
}

// expectSilence checks that nothing arrives within d.
func (bc *brokerConn) expectSilence(d time.Duration) {
	bc.t.Helper()
	require.NoError(bc.t, bc.conn.SetReadDeadline(time.Now().Add(d)))
	p, _, err := ReadPacket(bc.conn, 0)
	if err == nil {
		bc.t.Fatalf("unexpected %s", p.Type())
	}

	var netErr net.Error
	require.True(bc.t, errors.As(err, &netErr) && netErr.Timeout(), "read failed: %v", err)
}

func expectPacket[T Packet](t *testing.T, bc *brokerConn) T {
	t.Helper()
	p := bc.read()
	pkt, ok := p.(T)
	require.True(t, ok, "expected %T, got %s", *new(T), p.Type())
	return pkt
}

// async runs a blocking client call and returns its result channel.
func async(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

func waitResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(testWait):
		t.Fatal("operation did not return")
		return nil
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []EventKind
	next   EventHandler
}

func (r *eventRecorder) OnEvent(c *Client, kind EventKind) {
	r.mu.Lock()
	r.events = append(r.events, kind)
	r.mu.Unlock()

	if r.next != nil {
		r.next.OnEvent(c, kind)
	}
}

func (r *eventRecorder) seen(kind EventKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.events {
		if k == kind {
			return true
		}
	}
	return false
}

func (r *eventRecorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.events {
		if k == kind {
			n++
		}
	}
	return n
}

// messageRecorder keeps owned copies of delivered messages.
type messageRecorder struct {
	ch chan *Message
}

func newMessageRecorder() *messageRecorder {
	return &messageRecorder{ch: make(chan *Message, 32)}
}

func (r *messageRecorder) OnMessage(msg *Message) {
	r.ch <- msg.Clone()
}

func (r *messageRecorder) next(t *testing.T) *Message {
	t.Helper()
	select {
	case msg := <-r.ch:
		return msg
	case <-time.After(testWait):
		t.Fatal("no message delivered")
		return nil
	}
}

func (r *messageRecorder) none(t *testing.T) {
	t.Helper()
	select {
	case msg := <-r.ch:
		t.Fatalf("unexpected delivery on %q", msg.Topic)
	default:
	}
}

// connectClient creates a client and completes the handshake on a fresh
// broker connection.
func connectClient(t *testing.T, b *mockBroker, events EventHandler, opts ...Option) (*Client, *brokerConn) {
	t.Helper()

	c, err := New("test-client", events, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Destroy)

	sock := b.dial()
	result := async(func() error {
		return c.Connect(context.Background(), sock, ConnectCleanSession, WaitAck)
	})

	bc := b.accept()
	bc.handshake(false)
	require.NoError(t, waitResult(t, result))
	require.True(t, c.IsConnected())

	return c, bc
}

// pingRoundTrip completes a PINGREQ exchange. Inbound packets are handled
// in order, so everything the broker sent before is processed once it
// returns.
func pingRoundTrip(t *testing.T, c *Client, bc *brokerConn) {
	t.Helper()
	result := async(func() error { return c.Ping(context.Background()) })
	expectPacket[*PingreqPacket](t, bc)
	bc.write(&PingrespPacket{})
	require.NoError(t, waitResult(t, result))
}

func subscribe(t *testing.T, c *Client, bc *brokerConn, filter string, qos byte, h MessageHandler) {
	t.Helper()
	result := async(func() error {
		return c.Subscribe(context.Background(), filter, qos, h, WaitAck)
	})

	sub := expectPacket[*SubscribePacket](t, bc)
	require.Len(t, sub.Subscriptions, 1)
	assert.Equal(t, filter, sub.Subscriptions[0].TopicFilter)
	assert.Equal(t, qos, sub.Subscriptions[0].QoS)
	bc.write(&SubackPacket{PacketID: sub.PacketID, ReturnCodes: []byte{qos}})

	require.NoError(t, waitResult(t, result))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		opts     []Option
		wantErr  []error
	}{
		{name: "empty client id", clientID: ""},
		{name: "regular", clientID: "sensor-1"},
		{
			name:     "client id too long",
			clientID: strings.Repeat("x", 65536),
			wantErr:  []error{ErrInvalidClientID, ErrFieldTooLong},
		},
		{
			name:     "client id invalid UTF-8",
			clientID: "\xff\xfe",
			wantErr:  []error{ErrInvalidClientID, ErrInvalidUTF8},
		},
		{
			name:     "invalid option",
			clientID: "c",
			opts:     []Option{WithCredentials("", []byte("x"))},
			wantErr:  []error{ErrPasswordWithoutUser},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.clientID, nil, tt.opts...)
			if len(tt.wantErr) > 0 {
				for _, want := range tt.wantErr {
					assert.ErrorIs(t, err, want)
				}
				assert.Nil(t, c)
				return
			}

			require.NoError(t, err)
			defer c.Destroy()
			assert.Equal(t, tt.clientID, c.ClientID())
			assert.Equal(t, StateDisconnected, c.State())
			assert.False(t, c.IsConnected())
			assert.NoError(t, c.Err())
		})
	}
}

func TestClientConnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := newMockBroker(t)
	defer b.close()

	events := &eventRecorder{}
	c, err := New("sensor-1", events,
		WithCredentials("user", []byte("pass")),
		WithKeepAlive(30*time.Second),
		WithWill("dev/sensor-1/status", []byte("offline"), 1, true),
	)
	require.NoError(t, err)
	defer c.Destroy()

	result := async(func() error {
		return c.Connect(context.Background(), b.dial(), ConnectCleanSession, WaitAck)
	})

	bc := b.accept()
	connect := bc.handshake(false)
	require.NoError(t, waitResult(t, result))

	assert.Equal(t, "sensor-1", connect.ClientID)
	assert.True(t, connect.CleanSession)
	assert.Equal(t, uint16(30), connect.KeepAlive)
	assert.Equal(t, "user", connect.Username)
	assert.Equal(t, []byte("pass"), connect.Password)
	assert.True(t, connect.WillFlag)
	assert.Equal(t, "dev/sensor-1/status", connect.WillTopic)
	assert.Equal(t, []byte("offline"), connect.WillPayload)
	assert.Equal(t, byte(1), connect.WillQoS)
	assert.True(t, connect.WillRetain)

	assert.True(t, c.IsConnected())
	assert.Equal(t, StateConnected, c.State())
	assert.Eventually(t, func() bool { return events.seen(EventConnected) }, testWait, 5*time.Millisecond)
	assert.False(t, c.LastActivity().IsZero())
}

func TestClientConnectPersistentSession(t *testing.T) {
	b := newMockBroker(t)

	c, err := New("sensor-1", nil)
	require.NoError(t, err)
	defer c.Destroy()

	require.NoError(t, c.Connect(context.Background(), b.dial(), 0, WaitSent))

	bc := b.accept()
	connect := bc.handshake(true)
	assert.False(t, connect.CleanSession)
	assert.Eventually(t, c.IsConnected, testWait, 5*time.Millisecond)
}

func TestClientConnectRefused(t *testing.T) {
	b := newMockBroker(t)

	events := &eventRecorder{}
	c, err := New("sensor-1", events)
	require.NoError(t, err)
	defer c.Destroy()

	result := async(func() error {
		return c.Connect(context.Background(), b.dial(), ConnectCleanSession, WaitAck)
	})

	bc := b.accept()
	expectPacket[*ConnectPacket](t, bc)
	bc.write(&ConnackPacket{ReturnCode: ConnectRefusedNotAuthorized})

	err = waitResult(t, result)
	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ConnectRefusedNotAuthorized, connErr.Code)

	bc.expectClosed()
	assert.Eventually(t, func() bool { return c.State() == StateDisconnected }, testWait, 5*time.Millisecond)
	assert.ErrorAs(t, c.Err(), &connErr)
	assert.Eventually(t, func() bool { return events.seen(EventDisconnect) }, testWait, 5*time.Millisecond)
	assert.False(t, events.seen(EventConnected))
}

func TestClientConnectErrors(t *testing.T) {
	b := newMockBroker(t)
	c, _ := connectClient(t, b, nil)

	assert.ErrorIs(t, c.Connect(context.Background(), nil, 0, WaitNone), ErrMissingArgument)

	sock := b.dial()
	defer sock.Close()
	assert.ErrorIs(t, c.Connect(context.Background(), sock, 0, WaitNone), ErrAlreadyConnected)

	c.Destroy()
	assert.ErrorIs(t, c.Connect(context.Background(), sock, 0, WaitNone), ErrClientClosed)
	assert.Equal(t, StateClosed, c.State())
}

func TestClientPublishBeforeConnack(t *testing.T) {
	b := newMockBroker(t)

	c, err := New("sensor-1", nil)
	require.NoError(t, err)
	defer c.Destroy()

	result := async(func() error {
		return c.Connect(context.Background(), b.dial(), ConnectCleanSession, WaitAck)
	})

	bc := b.accept()
	expectPacket[*ConnectPacket](t, bc)
	bc.write(&PublishPacket{Topic: "early", Payload: []byte("x")})

	err = waitResult(t, result)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, ErrProtocolError)
	bc.expectClosed()
}

func TestClientPublish(t *testing.T) {
	t.Run("QoS 0", func(t *testing.T) {
		b := newMockBroker(t)
		c, bc := connectClient(t, b, nil)

		require.NoError(t, c.Publish(context.Background(), "dev/1/temp", []byte("21.5"), 0, WaitAck))

		pub := expectPacket[*PublishPacket](t, bc)
		assert.Equal(t, "dev/1/temp", pub.Topic)
		assert.Equal(t, []byte("21.5"), pub.Payload)
		assert.Equal(t, byte(0), pub.QoS)
		assert.Zero(t, pub.PacketID)
		assert.False(t, pub.Retain)
	})

	t.Run("QoS 1", func(t *testing.T) {
		b := newMockBroker(t)
		c, bc := connectClient(t, b, nil)

		result := async(func() error {
			return c.Publish(context.Background(), "dev/1/temp", []byte("21.5"), 1, WaitAck)
		})

		pub := expectPacket[*PublishPacket](t, bc)
		assert.Equal(t, byte(1), pub.QoS)
		assert.NotZero(t, pub.PacketID)
		assert.False(t, pub.DUP)

		bc.write(&PubackPacket{PacketID: pub.PacketID})
		require.NoError(t, waitResult(t, result))
	})

	t.Run("QoS 2", func(t *testing.T) {
		b := newMockBroker(t)
		c, bc := connectClient(t, b, nil)

		result := async(func() error {
			return c.Publish(context.Background(), "dev/1/cmd", []byte("reboot"), 2, WaitAck)
		})

		pub := expectPacket[*PublishPacket](t, bc)
		assert.Equal(t, byte(2), pub.QoS)

		bc.write(&PubrecPacket{PacketID: pub.PacketID})
		rel := expectPacket[*PubrelPacket](t, bc)
		assert.Equal(t, pub.PacketID, rel.PacketID)

		bc.write(&PubcompPacket{PacketID: pub.PacketID})
		require.NoError(t, waitResult(t, result))
	})

	t.Run("retained", func(t *testing.T) {
		b := newMockBroker(t)
		c, bc := connectClient(t, b, nil)

		require.NoError(t, c.PublishRetained(context.Background(), "dev/1/status", []byte("online"), 0, WaitSent))
		pub := expectPacket[*PublishPacket](t, bc)
		assert.True(t, pub.Retain)
	})

	t.Run("payload copied", func(t *testing.T) {
		b := newMockBroker(t)
		c, bc := connectClient(t, b, nil)

		payload := []byte("first")
		result := async(func() error {
			return c.Publish(context.Background(), "t", payload, 1, WaitNone)
		})
		require.NoError(t, waitResult(t, result))
		copy(payload, "XXXXX")

		pub := expectPacket[*PublishPacket](t, bc)
		assert.Equal(t, []byte("first"), pub.Payload)
	})
}

func TestClientPublishValidation(t *testing.T) {
	c, err := New("c", nil)
	require.NoError(t, err)
	defer c.Destroy()

	tests := []struct {
		name    string
		topic   string
		qos     byte
		wantErr error
	}{
		{name: "empty topic", topic: "", wantErr: ErrInvalidTopic},
		{name: "wildcard topic", topic: "dev/+/temp", wantErr: ErrInvalidTopic},
		{name: "multi-level wildcard", topic: "dev/#", wantErr: ErrInvalidTopic},
		{name: "QoS 3", topic: "dev/1", qos: 3, wantErr: ErrInvalidQoS},
		{name: "no socket and no attach handler", topic: "dev/1", wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(context.Background(), tt.topic, nil, tt.qos, WaitNone)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClientPublishTooLarge(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil)

	require.NoError(t, c.SetMessageSize(64))
	err := c.Publish(context.Background(), "dev/1", make([]byte, 128), 0, WaitNone)
	assert.ErrorIs(t, err, ErrPacketTooLarge)

	// the connection is unaffected
	assert.True(t, c.IsConnected())
	pingRoundTrip(t, c, bc)
}

func TestClientInboundTooLarge(t *testing.T) {
	b := newMockBroker(t)
	events := &eventRecorder{}
	c, bc := connectClient(t, b, events, WithMaxMessageSize(32))

	bc.write(&PublishPacket{Topic: "dev/1", Payload: make([]byte, 64)})
	bc.expectClosed()

	assert.Eventually(t, func() bool { return events.seen(EventDisconnect) }, testWait, 5*time.Millisecond)
	assert.ErrorIs(t, c.Err(), ErrProtocolError)
}

func TestClientQueueFull(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil, WithMaxQueue(1))

	require.NoError(t, c.Publish(context.Background(), "t", []byte("1"), 1, WaitNone))
	err := c.Publish(context.Background(), "t", []byte("2"), 1, WaitNone)
	assert.ErrorIs(t, err, ErrQueueFull)

	pub := expectPacket[*PublishPacket](t, bc)
	bc.write(&PubackPacket{PacketID: pub.PacketID})

	assert.Eventually(t, func() bool {
		return c.Publish(context.Background(), "t", []byte("3"), 0, WaitNone) == nil
	}, testWait, 5*time.Millisecond)
}

func TestClientRetransmitSetsDUP(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil, WithRetryTimeout(100*time.Millisecond))

	result := async(func() error {
		return c.Publish(context.Background(), "dev/1/temp", []byte("21.5"), 1, WaitAck)
	})

	first := expectPacket[*PublishPacket](t, bc)
	assert.False(t, first.DUP)

	again := expectPacket[*PublishPacket](t, bc)
	assert.True(t, again.DUP)
	assert.Equal(t, first.PacketID, again.PacketID)
	assert.Equal(t, first.Payload, again.Payload)

	bc.write(&PubackPacket{PacketID: first.PacketID})
	require.NoError(t, waitResult(t, result))

	bc.expectSilence(250 * time.Millisecond)
}

func TestClientRetransmitKeepsPubrel(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil, WithRetryTimeout(100*time.Millisecond))

	result := async(func() error {
		return c.Publish(context.Background(), "dev/1/cmd", []byte("go"), 2, WaitAck)
	})

	pub := expectPacket[*PublishPacket](t, bc)
	bc.write(&PubrecPacket{PacketID: pub.PacketID})
	expectPacket[*PubrelPacket](t, bc)

	// the release phase is resent unchanged
	rel := expectPacket[*PubrelPacket](t, bc)
	assert.Equal(t, pub.PacketID, rel.PacketID)

	bc.write(&PubcompPacket{PacketID: pub.PacketID})
	require.NoError(t, waitResult(t, result))
}

func TestClientOutboundQoS2Duplicates(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil)

	result := async(func() error {
		return c.Publish(context.Background(), "dev/1/cmd", []byte("go"), 2, WaitAck)
	})

	pub := expectPacket[*PublishPacket](t, bc)
	bc.write(&PubrecPacket{PacketID: pub.PacketID})
	expectPacket[*PubrelPacket](t, bc)

	// a repeated PUBREC does not trigger a second PUBREL
	bc.write(&PubrecPacket{PacketID: pub.PacketID})
	bc.expectSilence(100 * time.Millisecond)

	bc.write(&PubcompPacket{PacketID: pub.PacketID})
	require.NoError(t, waitResult(t, result))

	// late duplicates of the finished exchange are harmless
	bc.write(&PubcompPacket{PacketID: pub.PacketID})
	bc.write(&PubrecPacket{PacketID: pub.PacketID})
	pingRoundTrip(t, c, bc)
	assert.True(t, c.IsConnected())
}

func TestClientUnexpectedAck(t *testing.T) {
	b := newMockBroker(t)
	events := &eventRecorder{}
	c, bc := connectClient(t, b, events)

	bc.write(&PubackPacket{PacketID: 77})
	bc.expectClosed()

	assert.Eventually(t, func() bool { return c.State() == StateDisconnected }, testWait, 5*time.Millisecond)
	assert.ErrorIs(t, c.Err(), ErrUnexpectedAck)
	assert.Eventually(t, func() bool { return events.seen(EventDisconnect) }, testWait, 5*time.Millisecond)
}

func TestClientQoS2Deferral(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil)

	require.NoError(t, c.Publish(context.Background(), "q/a", []byte("a"), 2, WaitNone))
	require.NoError(t, c.Publish(context.Background(), "q/b", []byte("b"), 2, WaitNone))
	require.NoError(t, c.Publish(context.Background(), "q/c", []byte("c"), 0, WaitNone))

	first := expectPacket[*PublishPacket](t, bc)
	assert.Equal(t, "q/a", first.Topic)

	// only one QoS 2 exchange at a time; later publishes wait behind it
	// while control packets still go out
	pingRoundTrip(t, c, bc)

	bc.write(&PubrecPacket{PacketID: first.PacketID})
	expectPacket[*PubrelPacket](t, bc)
	bc.expectSilence(50 * time.Millisecond)

	bc.write(&PubcompPacket{PacketID: first.PacketID})

	second := expectPacket[*PublishPacket](t, bc)
	assert.Equal(t, "q/b", second.Topic)
	third := expectPacket[*PublishPacket](t, bc)
	assert.Equal(t, "q/c", third.Topic)
}

func TestClientInflightLimit(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil, WithMaxInflight(1))

	require.NoError(t, c.Publish(context.Background(), "q/a", nil, 1, WaitNone))
	require.NoError(t, c.Publish(context.Background(), "q/b", nil, 1, WaitNone))

	first := expectPacket[*PublishPacket](t, bc)
	assert.Equal(t, "q/a", first.Topic)
	bc.expectSilence(50 * time.Millisecond)

	bc.write(&PubackPacket{PacketID: first.PacketID})
	second := expectPacket[*PublishPacket](t, bc)
	assert.Equal(t, "q/b", second.Topic)
}

func TestClientSubscribeDelivery(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil)

	rec := newMessageRecorder()
	subscribe(t, c, bc, "dev/+/status", 1, rec)

	bc.write(&PublishPacket{Topic: "dev/7/status", Payload: []byte("online"), QoS: 1, PacketID: 5})
	ack := expectPacket[*PubackPacket](t, bc)
	assert.Equal(t, uint16(5), ack.PacketID)

	msg := rec.next(t)
	assert.Equal(t, "dev/7/status", msg.Topic)
	assert.Equal(t, []byte("online"), msg.Payload)
	assert.Equal(t, byte(1), msg.QoS)

	bc.write(&PublishPacket{Topic: "dev/7/other", Payload: []byte("x")})
	bc.write(&PublishPacket{Topic: "dev/7/status", Payload: []byte("retained"), Retain: true})
	pingRoundTrip(t, c, bc)

	msg = rec.next(t)
	assert.Equal(t, []byte("retained"), msg.Payload)
	assert.True(t, msg.Retain)
	rec.none(t)
}

func TestClientSubscribeValidation(t *testing.T) {
	c, err := New("c", nil)
	require.NoError(t, err)
	defer c.Destroy()

	h := newMessageRecorder()
	ctx := context.Background()

	assert.ErrorIs(t, c.Subscribe(ctx, "dev/#/x", 0, h, WaitNone), ErrInvalidTopic)
	assert.ErrorIs(t, c.Subscribe(ctx, "dev/1", 3, h, WaitNone), ErrInvalidQoS)
	assert.ErrorIs(t, c.Subscribe(ctx, "dev/1", 0, nil, WaitNone), ErrMissingArgument)
	assert.ErrorIs(t, c.Subscribe(ctx, "dev/1", 0, h, WaitNone), ErrNotConnected)
	assert.ErrorIs(t, c.SubscribeMaster(ctx, "", 0, WaitNone), ErrInvalidTopic)
	assert.ErrorIs(t, c.Unsubscribe(ctx, "a/#/b", WaitNone), ErrInvalidTopic)
}

func TestClientSubscribeRejected(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil)

	rec := newMessageRecorder()
	result := async(func() error {
		return c.Subscribe(context.Background(), "secret/#", 1, rec, WaitAck)
	})

	sub := expectPacket[*SubscribePacket](t, bc)
	bc.write(&SubackPacket{PacketID: sub.PacketID, ReturnCodes: []byte{SubackFailure}})

	var subErr *SubscribeError
	require.ErrorAs(t, waitResult(t, result), &subErr)
	assert.Equal(t, "secret/#", subErr.Filter)
	assert.Equal(t, SubackFailure, subErr.Code)

	// the handler was dropped
	bc.write(&PublishPacket{Topic: "secret/x", Payload: []byte("x")})
	pingRoundTrip(t, c, bc)
	rec.none(t)
	assert.True(t, c.IsConnected())
}

func TestClientSubscribeMaster(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil)
	ctx := context.Background()

	result := async(func() error { return c.SubscribeMaster(ctx, "dev/#", 1, WaitAck) })
	sub := expectPacket[*SubscribePacket](t, bc)
	assert.Equal(t, "dev/#", sub.Subscriptions[0].TopicFilter)
	bc.write(&SubackPacket{PacketID: sub.PacketID, ReturnCodes: []byte{1}})
	require.NoError(t, waitResult(t, result))

	// covered filters register locally without a SUBSCRIBE
	status := newMessageRecorder()
	temp := newMessageRecorder()
	require.NoError(t, c.Subscribe(ctx, "dev/+/status", 1, status, WaitAck))
	require.NoError(t, c.Subscribe(ctx, "dev/+/temp", 0, temp, WaitAck))

	other := newMessageRecorder()
	subscribe(t, c, bc, "other/x", 0, other)

	bc.write(&PublishPacket{Topic: "dev/3/status", Payload: []byte("up")})
	bc.write(&PublishPacket{Topic: "dev/3/temp", Payload: []byte("20")})
	bc.write(&PublishPacket{Topic: "dev/3/unhandled", Payload: []byte("?")})
	pingRoundTrip(t, c, bc)

	assert.Equal(t, []byte("up"), status.next(t).Payload)
	assert.Equal(t, []byte("20"), temp.next(t).Payload)
	status.none(t)
	temp.none(t)
	other.none(t)

	// removing a covered filter is local too
	require.NoError(t, c.Unsubscribe(ctx, "dev/+/temp", WaitAck))

	result = async(func() error { return c.UnsubscribeMaster(ctx, "dev/#", WaitAck) })
	unsub := expectPacket[*UnsubscribePacket](t, bc)
	assert.Equal(t, []string{"dev/#"}, unsub.TopicFilters)
	bc.write(&UnsubackPacket{PacketID: unsub.PacketID})
	require.NoError(t, waitResult(t, result))

	// unknown master is a no-op
	require.NoError(t, c.UnsubscribeMaster(ctx, "nope/#", WaitAck))
	pingRoundTrip(t, c, bc)
}

func TestClientSubscribeReplacesHandler(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil)

	first := newMessageRecorder()
	second := newMessageRecorder()
	subscribe(t, c, bc, "dev/1", 0, first)
	subscribe(t, c, bc, "dev/1", 0, second)

	bc.write(&PublishPacket{Topic: "dev/1", Payload: []byte("x")})
	pingRoundTrip(t, c, bc)

	second.next(t)
	first.none(t)
}

func TestClientUnsubscribe(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil)
	ctx := context.Background()

	rec := newMessageRecorder()
	subscribe(t, c, bc, "a/b", 1, rec)

	result := async(func() error { return c.Unsubscribe(ctx, "a/b", WaitAck) })
	unsub := expectPacket[*UnsubscribePacket](t, bc)
	assert.Equal(t, []string{"a/b"}, unsub.TopicFilters)
	bc.write(&UnsubackPacket{PacketID: unsub.PacketID})
	require.NoError(t, waitResult(t, result))

	// unknown filters are a no-op and send nothing
	require.NoError(t, c.Unsubscribe(ctx, "x/y", WaitAck))
	pingRoundTrip(t, c, bc)

	bc.write(&PublishPacket{Topic: "a/b", Payload: []byte("late")})
	pingRoundTrip(t, c, bc)
	rec.none(t)
}

func TestClientUnsubscribeCoveredByMaster(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil)
	ctx := context.Background()

	rec := newMessageRecorder()
	subscribe(t, c, bc, "dev/42/status", 1, rec)

	result := async(func() error { return c.SubscribeMaster(ctx, "dev/#", 1, WaitAck) })
	sub := expectPacket[*SubscribePacket](t, bc)
	bc.write(&SubackPacket{PacketID: sub.PacketID, ReturnCodes: []byte{1}})
	require.NoError(t, waitResult(t, result))

	// the master keeps the broker subscription alive, so removal is local
	require.NoError(t, c.Unsubscribe(ctx, "dev/42/status", WaitAck))
	pingRoundTrip(t, c, bc)

	bc.write(&PublishPacket{Topic: "dev/42/status", Payload: []byte("up")})
	pingRoundTrip(t, c, bc)
	rec.none(t)
}

func TestClientInboundQoS2Duplicates(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil)

	var delivered atomic.Int32
	subscribe(t, c, bc, "cmd/#", 2, MessageHandlerFunc(func(_ *Message) {
		delivered.Add(1)
	}))

	pub := &PublishPacket{Topic: "cmd/reboot", Payload: []byte("now"), QoS: 2, PacketID: 9}
	bc.write(pub)
	assert.Equal(t, uint16(9), expectPacket[*PubrecPacket](t, bc).PacketID)

	pub.DUP = true
	bc.write(pub)
	assert.Equal(t, uint16(9), expectPacket[*PubrecPacket](t, bc).PacketID)

	// held until PUBREL
	pingRoundTrip(t, c, bc)
	assert.Equal(t, int32(0), delivered.Load())

	bc.write(&PubrelPacket{PacketID: 9})
	assert.Equal(t, uint16(9), expectPacket[*PubcompPacket](t, bc).PacketID)
	bc.write(&PubrelPacket{PacketID: 9})
	assert.Equal(t, uint16(9), expectPacket[*PubcompPacket](t, bc).PacketID)

	pingRoundTrip(t, c, bc)
	assert.Equal(t, int32(1), delivered.Load())
}

func TestClientInboundQoS2AcrossReconnect(t *testing.T) {
	b := newMockBroker(t)
	ctx := context.Background()

	c, err := New("sensor-1", nil)
	require.NoError(t, err)
	defer c.Destroy()

	reconnect := func(flags ConnectFlags, sessionPresent bool) *brokerConn {
		t.Helper()
		result := async(func() error { return c.Connect(ctx, b.dial(), flags, WaitAck) })
		bc := b.accept()
		bc.handshake(sessionPresent)
		require.NoError(t, waitResult(t, result))
		return bc
	}

	bc := reconnect(0, false)
	rec := newMessageRecorder()
	subscribe(t, c, bc, "cmd/#", 2, rec)

	hold := func(id uint16) {
		t.Helper()
		bc.write(&PublishPacket{Topic: "cmd/reboot", Payload: []byte("now"), QoS: 2, PacketID: id})
		assert.Equal(t, id, expectPacket[*PubrecPacket](t, bc).PacketID)
		bc.conn.Close()
		assert.Eventually(t, func() bool { return c.State() == StateDisconnected }, testWait, 5*time.Millisecond)
	}

	t.Run("persistent session delivers on PUBREL", func(t *testing.T) {
		hold(5)
		bc = reconnect(0, true)

		bc.write(&PubrelPacket{PacketID: 5})
		assert.Equal(t, uint16(5), expectPacket[*PubcompPacket](t, bc).PacketID)

		msg := rec.next(t)
		assert.Equal(t, "cmd/reboot", msg.Topic)
		assert.Equal(t, []byte("now"), msg.Payload)
	})

	t.Run("clean session drops held messages", func(t *testing.T) {
		hold(6)
		bc = reconnect(ConnectCleanSession, false)

		resub := expectPacket[*SubscribePacket](t, bc)
		bc.write(&SubackPacket{PacketID: resub.PacketID, ReturnCodes: []byte{2}})

		bc.write(&PubrelPacket{PacketID: 6})
		assert.Equal(t, uint16(6), expectPacket[*PubcompPacket](t, bc).PacketID)
		pingRoundTrip(t, c, bc)
		rec.none(t)
	})
}

func TestClientSpawnedHandler(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil)

	release := make(chan struct{})
	got := make(chan *Message, 1)
	subscribe(t, c, bc, "jobs/#", 0, Spawn(MessageHandlerFunc(func(msg *Message) {
		<-release
		got <- msg
	})))

	bc.write(&PublishPacket{Topic: "jobs/1", Payload: []byte("work")})

	// the reader keeps going while the handler blocks
	pingRoundTrip(t, c, bc)

	close(release)
	select {
	case msg := <-got:
		assert.Equal(t, "jobs/1", msg.Topic)
		assert.Equal(t, []byte("work"), msg.Payload)
	case <-time.After(testWait):
		t.Fatal("spawned handler did not run")
	}
}

func TestClientDestroyWaitsForSpawnedHandlers(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil, WithDrainTimeout(time.Second))

	var finished atomic.Bool
	started := make(chan struct{})
	subscribe(t, c, bc, "jobs/#", 0, Spawn(MessageHandlerFunc(func(_ *Message) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	})))

	bc.write(&PublishPacket{Topic: "jobs/1"})
	<-started

	c.Destroy()
	assert.True(t, finished.Load())
}

func TestClientPing(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil)
	pingRoundTrip(t, c, bc)
}

func TestClientKeepAlive(t *testing.T) {
	b := newMockBroker(t)

	c, err := New("c", nil, WithKeepAlive(100*time.Millisecond))
	require.NoError(t, err)
	defer c.Destroy()

	require.NoError(t, c.Connect(context.Background(), b.dial(), ConnectCleanSession, WaitSent))
	bc := b.accept()
	connect := bc.handshake(false)
	assert.Equal(t, uint16(1), connect.KeepAlive, "sub-second keep-alive rounds up")

	expectPacket[*PingreqPacket](t, bc)
	bc.write(&PingrespPacket{})
	expectPacket[*PingreqPacket](t, bc)
	bc.write(&PingrespPacket{})

	assert.True(t, c.IsConnected())
}

func TestClientIdleTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := newMockBroker(t)
	defer b.close()

	events := &eventRecorder{}
	c, bc := connectClient(t, b, events, WithKeepAlive(0), WithIdleTimeout(100*time.Millisecond))
	defer c.Destroy()

	bc.expectClosed()

	assert.Eventually(t, func() bool { return events.seen(EventTimeout) }, testWait, 5*time.Millisecond)
	assert.ErrorIs(t, c.Err(), ErrIdleTimeout)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 0, events.count(EventDisconnect))
}

func TestClientSetTimeoutDisables(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil, WithKeepAlive(0), WithIdleTimeout(100*time.Millisecond))

	c.SetTimeout(0)
	bc.expectSilence(250 * time.Millisecond)
	assert.True(t, c.IsConnected())
}

func TestClientConnectionLost(t *testing.T) {
	b := newMockBroker(t)
	events := &eventRecorder{}
	c, bc := connectClient(t, b, events)

	result := async(func() error {
		return c.Publish(context.Background(), "dev/1", []byte("x"), 1, WaitAck)
	})
	expectPacket[*PublishPacket](t, bc)
	bc.conn.Close()

	err := waitResult(t, result)
	assert.ErrorIs(t, err, ErrNotConnected)
	var lost *ConnectionLostError
	require.ErrorAs(t, err, &lost)
	assert.ErrorIs(t, lost.Cause, io.ErrUnexpectedEOF)

	assert.Eventually(t, func() bool { return events.seen(EventDisconnect) }, testWait, 5*time.Millisecond)
	assert.False(t, c.IsConnected())
}

func TestClientResubscribe(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil)
	ctx := context.Background()

	rec := newMessageRecorder()
	subscribe(t, c, bc, "a/b", 1, rec)

	result := async(func() error { return c.SubscribeMaster(ctx, "m/#", 0, WaitAck) })
	sub := expectPacket[*SubscribePacket](t, bc)
	bc.write(&SubackPacket{PacketID: sub.PacketID, ReturnCodes: []byte{0}})
	require.NoError(t, waitResult(t, result))
	require.NoError(t, c.Subscribe(ctx, "m/local", 0, newMessageRecorder(), WaitNone))

	bc.conn.Close()
	assert.Eventually(t, func() bool { return c.State() == StateDisconnected }, testWait, 5*time.Millisecond)

	t.Run("fresh session", func(t *testing.T) {
		result := async(func() error {
			return c.Connect(ctx, b.dial(), ConnectCleanSession, WaitAck)
		})
		bc = b.accept()
		bc.handshake(false)
		require.NoError(t, waitResult(t, result))

		master := expectPacket[*SubscribePacket](t, bc)
		assert.Equal(t, []Subscription{{TopicFilter: "m/#", QoS: 0}}, master.Subscriptions)
		filter := expectPacket[*SubscribePacket](t, bc)
		assert.Equal(t, []Subscription{{TopicFilter: "a/b", QoS: 1}}, filter.Subscriptions)

		bc.write(&SubackPacket{PacketID: master.PacketID, ReturnCodes: []byte{0}})
		bc.write(&SubackPacket{PacketID: filter.PacketID, ReturnCodes: []byte{1}})
		pingRoundTrip(t, c, bc)

		bc.write(&PublishPacket{Topic: "a/b", Payload: []byte("back")})
		assert.Equal(t, []byte("back"), rec.next(t).Payload)
	})

	bc.conn.Close()
	assert.Eventually(t, func() bool { return c.State() == StateDisconnected }, testWait, 5*time.Millisecond)

	t.Run("session present", func(t *testing.T) {
		result := async(func() error {
			return c.Connect(ctx, b.dial(), 0, WaitAck)
		})
		bc = b.accept()
		bc.handshake(true)
		require.NoError(t, waitResult(t, result))

		// nothing is restored
		pingRoundTrip(t, c, bc)
	})
}

func TestClientEventHandlerWaitsForAck(t *testing.T) {
	b := newMockBroker(t)

	subscribed := make(chan error, 1)
	events := EventHandlerFunc(func(c *Client, kind EventKind) {
		if kind != EventConnected {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), testWait)
		defer cancel()
		subscribed <- c.Subscribe(ctx, "a/b", 1, newMessageRecorder(), WaitAck)
	})
	_, bc := connectClient(t, b, events)

	// the reader must keep running while the handler waits for SUBACK
	sub := expectPacket[*SubscribePacket](t, bc)
	assert.Equal(t, "a/b", sub.Subscriptions[0].TopicFilter)
	bc.write(&SubackPacket{PacketID: sub.PacketID, ReturnCodes: []byte{1}})

	select {
	case err := <-subscribed:
		require.NoError(t, err)
	case <-time.After(testWait):
		t.Fatal("event handler did not complete")
	}
}

func TestClientAttachEvent(t *testing.T) {
	b := newMockBroker(t)

	var attaches atomic.Int32
	events := &eventRecorder{next: EventHandlerFunc(func(c *Client, kind EventKind) {
		if kind != EventAttach {
			return
		}
		attaches.Add(1)
		sock, err := (&TCPDialer{}).Dial(context.Background(), b.addr())
		if err != nil {
			return
		}
		if err := c.Connect(context.Background(), sock, ConnectCleanSession, WaitNone); err != nil {
			sock.Close()
		}
	})}

	c, err := New("c", events)
	require.NoError(t, err)
	defer c.Destroy()

	result := async(func() error {
		return c.Publish(context.Background(), "dev/1", []byte("queued"), 1, WaitAck)
	})

	bc := b.accept()
	bc.handshake(false)

	// the publish waited for CONNACK
	pub := expectPacket[*PublishPacket](t, bc)
	assert.Equal(t, []byte("queued"), pub.Payload)
	bc.write(&PubackPacket{PacketID: pub.PacketID})
	require.NoError(t, waitResult(t, result))

	assert.Equal(t, int32(1), attaches.Load())
	assert.Eventually(t, func() bool { return events.seen(EventConnected) }, testWait, 5*time.Millisecond)
}

func TestClientDisconnect(t *testing.T) {
	b := newMockBroker(t)
	events := &eventRecorder{}
	c, bc := connectClient(t, b, events)
	ctx := context.Background()

	rec := newMessageRecorder()
	subscribe(t, c, bc, "keep/me", 0, rec)

	require.NoError(t, c.Disconnect(ctx))
	expectPacket[*DisconnectPacket](t, bc)
	bc.expectClosed()

	assert.Eventually(t, func() bool { return c.State() == StateDisconnected }, testWait, 5*time.Millisecond)
	assert.NoError(t, c.Err())
	assert.Eventually(t, func() bool { return events.seen(EventDisconnect) }, testWait, 5*time.Millisecond)
	assert.ErrorIs(t, c.Disconnect(ctx), ErrNotConnected)

	// subscriptions survive for the next connection
	result := async(func() error { return c.Connect(ctx, b.dial(), ConnectCleanSession, WaitAck) })
	bc = b.accept()
	bc.handshake(false)
	require.NoError(t, waitResult(t, result))

	sub := expectPacket[*SubscribePacket](t, bc)
	assert.Equal(t, "keep/me", sub.Subscriptions[0].TopicFilter)
}

func TestClientDestroy(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := newMockBroker(t)
	defer b.close()

	c, bc := connectClient(t, b, nil)

	result := async(func() error {
		return c.Publish(context.Background(), "dev/1", []byte("x"), 1, WaitAck)
	})
	expectPacket[*PublishPacket](t, bc)

	c.Destroy()

	err := waitResult(t, result)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, ErrClientClosed)
	bc.expectClosed()

	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Publish(context.Background(), "dev/1", nil, 0, WaitNone), ErrClientClosed)
	assert.ErrorIs(t, c.Subscribe(context.Background(), "dev/1", 0, newMessageRecorder(), WaitNone), ErrClientClosed)
	assert.ErrorIs(t, c.Unsubscribe(context.Background(), "dev/1", WaitNone), ErrClientClosed)
	assert.ErrorIs(t, c.Disconnect(context.Background()), ErrClientClosed)

	// idempotent
	c.Destroy()
}

func TestClientWaitContextCancel(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Publish(ctx, "dev/1", []byte("x"), 1, WaitAck)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the publish stays queued and completes normally
	pub := expectPacket[*PublishPacket](t, bc)
	bc.write(&PubackPacket{PacketID: pub.PacketID})
	pingRoundTrip(t, c, bc)
}

func TestClientThrottle(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil, WithThrottle(ThrottleConfig{
		Min:          50 * time.Millisecond,
		Max:          time.Second,
		DecayPercent: 0.01,
	}))

	c.Throttle()

	start := time.Now()
	require.NoError(t, c.Publish(context.Background(), "dev/1", nil, 0, WaitSent))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	expectPacket[*PublishPacket](t, bc)
}

func TestClientPublishRateLimit(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectClient(t, b, nil, WithPublishRate(20, 1))

	start := time.Now()
	for range 3 {
		require.NoError(t, c.Publish(context.Background(), "dev/1", nil, 0, WaitSent))
		expectPacket[*PublishPacket](t, bc)
	}
	// burst of one, then 50ms per token
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestClientSetters(t *testing.T) {
	c, err := New("c", nil)
	require.NoError(t, err)
	defer c.Destroy()

	assert.ErrorIs(t, c.SetCredentials("", []byte("x")), ErrPasswordWithoutUser)
	assert.ErrorIs(t, c.SetCredentials(strings.Repeat("u", 65536), nil), ErrFieldTooLong)
	assert.ErrorIs(t, c.SetWill("dev/+", nil, 0, false), ErrInvalidTopic)
	assert.ErrorIs(t, c.SetWill("dev/1", nil, 3, false), ErrInvalidQoS)
	assert.ErrorIs(t, c.SetKeepAlive(-time.Second), ErrInvalidOption)
	assert.ErrorIs(t, c.SetKeepAlive(maxKeepAlive+time.Second), ErrInvalidOption)
	assert.ErrorIs(t, c.SetMessageSize(maxVarint+1), ErrPacketTooLarge)
	assert.NoError(t, c.SetMessageSize(0))

	b := newMockBroker(t)

	require.NoError(t, c.SetCredentials("late-user", nil))
	require.NoError(t, c.SetWill("dev/c/status", []byte("gone"), 0, false))
	require.NoError(t, c.SetKeepAlive(45*time.Second))

	require.NoError(t, c.Connect(context.Background(), b.dial(), ConnectCleanSession, WaitSent))
	bc := b.accept()
	connect := bc.handshake(false)

	assert.Equal(t, "late-user", connect.Username)
	assert.Nil(t, connect.Password)
	assert.Equal(t, "dev/c/status", connect.WillTopic)
	assert.Equal(t, uint16(45), connect.KeepAlive)

	// an empty topic clears the will for the next connection
	require.NoError(t, c.SetWill("", nil, 0, false))
	require.NoError(t, c.Disconnect(context.Background()))
	expectPacket[*DisconnectPacket](t, bc)

	require.NoError(t, c.Connect(context.Background(), b.dial(), ConnectCleanSession, WaitSent))
	connect = b.accept().handshake(false)
	assert.False(t, connect.WillFlag)
}

func TestClientRecordsMetrics(t *testing.T) {
	b := newMockBroker(t)
	metrics := NewMemoryMetrics()
	c, bc := connectClient(t, b, nil, WithMetrics(metrics))

	result := async(func() error {
		return c.Publish(context.Background(), "dev/1", []byte("x"), 1, WaitAck)
	})
	pub := expectPacket[*PublishPacket](t, bc)
	bc.write(&PubackPacket{PacketID: pub.PacketID})
	require.NoError(t, waitResult(t, result))

	labels := MetricLabels{LabelClientID: "test-client"}
	assert.Equal(t, float64(1), metrics.GetCounter(MetricConnects, labels).Value())
	assert.Equal(t, float64(1), metrics.GetCounter(MetricPacketsSent,
		MetricLabels{LabelClientID: "test-client", LabelPacketType: "PUBLISH"}).Value())
	assert.Positive(t, metrics.GetCounter(MetricBytesSent, labels).Value())
	assert.NotEmpty(t, metrics.Snapshot())
}

func BenchmarkClientPublishQoS0(b *testing.B) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(b, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := ReadPacket(conn, 0); err != nil {
			return
		}
		_, _ = WritePacket(conn, &ConnackPacket{}, 0)
		_, _ = io.Copy(io.Discard, conn)
	}()

	c, err := New("bench", nil)
	require.NoError(b, err)
	defer c.Destroy()

	sock, err := (&TCPDialer{}).Dial(context.Background(), listener.Addr().String())
	require.NoError(b, err)
	require.NoError(b, c.Connect(context.Background(), sock, ConnectCleanSession, WaitAck))

	payload := make([]byte, 64)
	ctx := context.Background()

	b.ReportAllocs()
	for b.Loop() {
		_ = c.Publish(ctx, "bench/topic", payload, 0, WaitNone)
	}
}
