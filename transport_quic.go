package mqttcore

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// mqttALPN is offered during the QUIC handshake.
const mqttALPN = "mqtt"

// QUICConn is one bidirectional stream on a dedicated QUIC connection.
// Closing it tears down the connection as well.
type QUICConn struct {
	conn      *quic.Conn
	stream    *quic.Stream
	closeOnce sync.Once
	closeErr  error
}

func (c *QUICConn) Read(b []byte) (int, error)  { return c.stream.Read(b) }
func (c *QUICConn) Write(b []byte) (int, error) { return c.stream.Write(b) }
func (c *QUICConn) RemoteAddr() net.Addr        { return c.conn.RemoteAddr() }

func (c *QUICConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}

// Close is idempotent. Later calls return nil.
func (c *QUICConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		streamErr := c.stream.Close()
		connErr := c.conn.CloseWithError(0, "")
		if streamErr != nil {
			c.closeErr = streamErr
		} else {
			c.closeErr = connErr
		}
		err = c.closeErr
	})
	return err
}

// QUICDialer reaches brokers that accept MQTT on a QUIC stream.
type QUICDialer struct {
	// TLSConfig is upgraded to TLS 1.3 with the mqtt ALPN if needed.
	TLSConfig  *tls.Config
	QUICConfig *quic.Config
}

// NewQUICDialer returns a dialer using tlsConfig, or a TLS 1.3 default.
func NewQUICDialer(tlsConfig *tls.Config) *QUICDialer {
	return &QUICDialer{TLSConfig: quicTLSConfig(tlsConfig)}
}

// Dial opens a connection to host:port and one stream on it.
func (d *QUICDialer) Dial(ctx context.Context, address string) (Socket, error) {
	conn, err := quic.DialAddr(ctx, address, quicTLSConfig(d.TLSConfig), d.QUICConfig)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "stream open failed")
		return nil, err
	}
	return &QUICConn{conn: conn, stream: stream}, nil
}

// quicTLSConfig returns cfg, or a clone of it raised to TLS 1.3 with the
// mqtt ALPN. The caller's config is never modified.
func quicTLSConfig(cfg *tls.Config) *tls.Config {
	switch {
	case cfg == nil:
		return &tls.Config{MinVersion: tls.VersionTLS13, NextProtos: []string{mqttALPN}}
	case cfg.MinVersion >= tls.VersionTLS13 && len(cfg.NextProtos) > 0:
		return cfg
	}

	out := cfg.Clone()
	out.MinVersion = max(out.MinVersion, tls.VersionTLS13)
	if len(out.NextProtos) == 0 {
		out.NextProtos = []string{mqttALPN}
	}
	return out
}
