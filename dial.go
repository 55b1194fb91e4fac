package mqttcore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// ErrUnsupportedScheme is returned by DialURL for an unknown URL scheme.
var ErrUnsupportedScheme = errors.New("unsupported scheme")

// DialOptions configures URLDialer.
type DialOptions struct {
	// TLSConfig is used for tls, ssl, mqtts, wss and quic. Nil selects a
	// default with TLS 1.2 as the minimum (TLS 1.3 for QUIC).
	TLSConfig *tls.Config

	// Proxy tunnels tcp and tls connections through an HTTP or SOCKS5 proxy.
	Proxy *ProxyConfig

	// ProxyFromEnv consults HTTP_PROXY, HTTPS_PROXY and NO_PROXY when Proxy
	// is nil.
	ProxyFromEnv bool

	// Timeout bounds connection establishment. Zero means no timeout beyond
	// the context.
	Timeout time.Duration

	// Header is sent with the WebSocket handshake.
	Header http.Header
}

// URLDialer dials the broker URL passed as the address. It implements
// Dialer so it can sit behind a BreakerDialer.
type URLDialer struct {
	Options DialOptions
}

// NewURLDialer creates a URLDialer.
func NewURLDialer(opts DialOptions) *URLDialer {
	return &URLDialer{Options: opts}
}

// DialURL connects to a broker URL such as mqtt://host, mqtts://host:8883,
// wss://host/mqtt, unix:///run/mqtt.sock or quic://host.
func DialURL(ctx context.Context, rawURL string, opts DialOptions) (Socket, error) {
	return NewURLDialer(opts).Dial(ctx, rawURL)
}

// Dial connects to the broker URL in address.
func (d *URLDialer) Dial(ctx context.Context, address string) (Socket, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	if d.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Options.Timeout)
		defer cancel()
	}

	sock, err := d.dial(ctx, u, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return sock, nil
}

func (d *URLDialer) dial(ctx context.Context, u *url.URL, address string) (Socket, error) {
	host := hostPort(u)

	switch u.Scheme {
	case "tcp", "mqtt":
		proxyDialer, err := d.resolveProxy(address)
		if err != nil {
			return nil, fmt.Errorf("proxy configuration error: %w", err)
		}
		if proxyDialer != nil {
			return proxyDialer.Dial(ctx, host)
		}
		return (&TCPDialer{}).Dial(ctx, host)

	case "ssl", "tls", "mqtts":
		tlsConfig := d.tlsConfig(u)
		proxyDialer, err := d.resolveProxy(address)
		if err != nil {
			return nil, fmt.Errorf("proxy configuration error: %w", err)
		}
		if proxyDialer == nil {
			return (&TLSDialer{Config: tlsConfig}).Dial(ctx, host)
		}

		conn, err := proxyDialer.DialContext(ctx, "tcp", host)
		if err != nil {
			return nil, err
		}
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		return tlsConn, nil

	case "ws", "wss":
		wsDialer := NewWSDialer()
		wsDialer.Header = d.Options.Header
		if u.Scheme == "wss" {
			wsDialer.Dialer.TLSClientConfig = d.tlsConfig(u)
		}
		if err := d.wsProxy(wsDialer); err != nil {
			return nil, fmt.Errorf("proxy configuration error: %w", err)
		}
		return wsDialer.Dial(ctx, address)

	case "unix":
		// unix:///path/to/socket or unix://localhost/path/to/socket
		socketPath := u.Path
		if socketPath == "" {
			socketPath = u.Host + u.Path
		}
		return NewUnixDialer().Dial(ctx, socketPath)

	case "quic":
		return NewQUICDialer(d.Options.TLSConfig).Dial(ctx, host)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// hostPort returns the host of u with the scheme's default port filled in.
func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}

	switch u.Scheme {
	case "tcp", "mqtt":
		return net.JoinHostPort(u.Hostname(), "1883")
	case "ssl", "tls", "mqtts", "quic":
		return net.JoinHostPort(u.Hostname(), "8883")
	case "ws":
		return net.JoinHostPort(u.Hostname(), "80")
	case "wss":
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return u.Host
}

// tlsConfig returns the configured TLS settings, filling in ServerName
// from the URL when the caller left it empty.
func (d *URLDialer) tlsConfig(u *url.URL) *tls.Config {
	cfg := d.Options.TLSConfig
	if cfg == nil {
		return &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	}
	if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		cfg = cfg.Clone()
		cfg.ServerName = u.Hostname()
	}
	return cfg
}

// resolveProxy returns the proxy dialer for address, or nil if no proxy
// should be used.
func (d *URLDialer) resolveProxy(address string) (*ProxyDialer, error) {
	if p := d.Options.Proxy; p != nil && p.URL != "" {
		return NewProxyDialer(p.URL, p.Username, p.Password)
	}

	if d.Options.ProxyFromEnv {
		proxyURL, err := ProxyFromEnvironment(address)
		if err != nil {
			return nil, err
		}
		if proxyURL != nil {
			return NewProxyDialer(proxyURL.String(), "", "")
		}
	}

	return nil, nil
}

// wsProxy routes the WebSocket handshake through the configured proxy.
func (d *URLDialer) wsProxy(w *WSDialer) error {
	if p := d.Options.Proxy; p != nil && p.URL != "" {
		proxyURL, err := url.Parse(p.URL)
		if err != nil {
			return err
		}
		if p.Username != "" {
			proxyURL.User = url.UserPassword(p.Username, p.Password)
		}
		w.Dialer.Proxy = http.ProxyURL(proxyURL)
		return nil
	}

	if d.Options.ProxyFromEnv {
		w.Dialer.Proxy = http.ProxyFromEnvironment
	}
	return nil
}
