package mqttcore

import (
	"context"
	"net"
	"time"
)

// UnixDialer reaches a broker on the same host through a socket file.
type UnixDialer struct {
	Timeout time.Duration
}

// NewUnixDialer returns a UnixDialer without a timeout.
func NewUnixDialer() *UnixDialer {
	return &UnixDialer{}
}

// Dial connects to the socket file at path, e.g. /run/mosquitto/mqtt.sock.
func (d *UnixDialer) Dial(ctx context.Context, path string) (Socket, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
