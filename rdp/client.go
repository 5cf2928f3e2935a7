// Package rdp pools remote desktop connections so that repeated requests for
// the same machine reuse one open transport instead of paying the handshake
// cost every time. The wire protocol itself lives behind the Dialer and
// Connection interfaces and is not this package's concern.
package rdp

import (
	"context"

	"github.com/skypoolhq/skypool/utils"
)

// Config identifies a remote desktop endpoint and the credentials used to
// reach it.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Key returns the identity of the pooled connection for this config. Two
// configs with the same host and port share a pool entry.
func (c Config) Key() string {
	return utils.Sprintf("%s:%d", c.Host, c.Port)
}

// Connection is one open remote desktop transport.
type Connection interface {
	// IsConnected reports whether the transport is still usable.
	IsConnected() bool
	// Disconnect tears the transport down. Safe to call more than once.
	Disconnect() error
}

// Dialer establishes remote desktop connections. The pool calls it without
// holding any locks, so implementations may block for the full handshake.
type Dialer interface {
	Connect(ctx context.Context, config Config) (Connection, error)
}
