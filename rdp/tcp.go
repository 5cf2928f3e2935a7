package rdp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/skypoolhq/skypool/utils"
)

// TCPDialer establishes plain TCP transports to remote desktop endpoints.
// The protocol handshake on top of the socket is driven by the client after
// it takes the connection out of the pool.
type TCPDialer struct {
	// Timeout bounds the dial when the caller's context has no deadline.
	Timeout time.Duration
}

// Connect dials the endpoint and returns the live transport.
func (d *TCPDialer) Connect(ctx context.Context, config Config) (Connection, error) {
	dialer := &net.Dialer{Timeout: d.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", config.Key())
	if err != nil {
		return nil, utils.MakeError("failed to dial %s: %s", config.Key(), err)
	}

	return &tcpConnection{conn: conn, connected: true}, nil
}

type tcpConnection struct {
	lock      sync.Mutex
	conn      net.Conn
	connected bool
}

func (c *tcpConnection) IsConnected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.connected
}

func (c *tcpConnection) Disconnect() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.connected {
		return nil
	}

	c.connected = false

	return c.conn.Close()
}
