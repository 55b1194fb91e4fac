package mqttcore

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSubprotocol is the subprotocol MQTT brokers expect on upgrade.
const WebSocketSubprotocol = "mqtt"

// ErrWSTextFrame is returned when the broker sends a non-binary WebSocket frame.
var ErrWSTextFrame = errors.New("websocket: unexpected non-binary message")

// WSConn carries the MQTT byte stream over binary WebSocket messages.
// Message boundaries carry no meaning: a packet may span messages and a
// message may hold several packets.
type WSConn struct {
	conn *websocket.Conn
	msg  io.Reader
}

func newWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Read streams the current message and moves to the next one at its end.
func (c *WSConn) Read(p []byte) (int, error) {
	for {
		if c.msg == nil {
			kind, r, err := c.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if kind != websocket.BinaryMessage {
				return 0, ErrWSTextFrame
			}
			c.msg = r
		}

		n, err := c.msg.Read(p)
		if errors.Is(err, io.EOF) {
			c.msg = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

// Write sends b as one binary message.
func (c *WSConn) Write(b []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *WSConn) Close() error {
	return c.conn.Close()
}

func (c *WSConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *WSConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// WSDialer connects to ws:// and wss:// broker URLs.
type WSDialer struct {
	Dialer *websocket.Dialer
	// Header is sent with the upgrade request.
	Header http.Header
}

// NewWSDialer returns a WSDialer that offers the mqtt subprotocol.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			Subprotocols:     []string{WebSocketSubprotocol},
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial performs the upgrade handshake against the URL.
func (d *WSDialer) Dial(ctx context.Context, address string) (Socket, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{Subprotocols: []string{WebSocketSubprotocol}}
	}

	conn, resp, err := dialer.DialContext(ctx, address, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newWSConn(conn), nil
}
