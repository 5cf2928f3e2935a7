package rdp

import (
	"context"
	"errors"
	"sync"
	"time"

	logger "github.com/skypoolhq/skypool/skylogger"
	"github.com/skypoolhq/skypool/utils"
)

// ErrPoolExhausted is returned by GetConnection when the pool already holds
// its maximum number of connections and none can be evicted. Callers may
// retry after a connection is released elsewhere.
var ErrPoolExhausted = errors.New("connection pool is at capacity")

// entry is one pooled connection with its bookkeeping.
type entry struct {
	conn         Connection
	usageCount   int
	lastActivity time.Time
}

// ConnectionPool is a keyed cache of open remote desktop connections,
// bounded by maxConnections, with idle eviction of unused entries. A single
// lock guards the maps; it is never held across a Connect call. An in-flight
// dial holds a reservation that counts toward capacity so two callers cannot
// create an entry for the same key concurrently.
type ConnectionPool struct {
	dialer         Dialer
	maxConnections int

	lock sync.Mutex
	// entries holds live connections keyed by host:port.
	entries map[string]*entry
	// reservations holds a channel per in-flight dial, closed when the dial
	// settles so waiting callers can retry.
	reservations map[string]chan struct{}
}

// NewConnectionPool returns a pool that dials through `dialer` and holds at
// most `maxConnections` connections, counting in-flight dials.
func NewConnectionPool(dialer Dialer, maxConnections int) *ConnectionPool {
	return &ConnectionPool{
		dialer:         dialer,
		maxConnections: maxConnections,
		entries:        make(map[string]*entry),
		reservations:   make(map[string]chan struct{}),
	}
}

// GetConnection returns the pooled connection for the endpoint in `config`,
// dialing a new one if necessary. The returned connection's usage count is
// incremented; the caller must pair this with ReleaseConnection.
func (pool *ConnectionPool) GetConnection(ctx context.Context, config Config) (Connection, error) {
	key := config.Key()

	for {
		pool.lock.Lock()

		if e, ok := pool.entries[key]; ok {
			if e.conn.IsConnected() {
				e.usageCount++
				e.lastActivity = time.Now()
				pool.lock.Unlock()

				return e.conn, nil
			}

			// The connection died since it was pooled. Drop it and dial a
			// fresh one below.
			logger.Warningf("Pooled connection to %s is dead, replacing it", key)
			delete(pool.entries, key)
		}

		if reservation, ok := pool.reservations[key]; ok {
			// Someone else is dialing this endpoint. Wait for their dial to
			// settle, then retry the lookup.
			pool.lock.Unlock()

			select {
			case <-reservation:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if len(pool.entries)+len(pool.reservations) >= pool.maxConnections {
			pool.lock.Unlock()
			return nil, ErrPoolExhausted
		}

		// Reserve the key so capacity and per-key exclusivity hold while we
		// dial without the lock.
		reservation := make(chan struct{})
		pool.reservations[key] = reservation
		pool.lock.Unlock()

		conn, err := pool.dialer.Connect(ctx, config)

		pool.lock.Lock()
		delete(pool.reservations, key)
		close(reservation)

		if err != nil {
			pool.lock.Unlock()
			return nil, utils.MakeError("failed to connect to %s: %s", key, err)
		}

		pool.entries[key] = &entry{
			conn:         conn,
			usageCount:   1,
			lastActivity: time.Now(),
		}
		pool.lock.Unlock()

		return conn, nil
	}
}

// ReleaseConnection decrements the usage count for the endpoint's pooled
// connection. The connection stays open for reuse; idle eviction or Shutdown
// closes it later. Releasing an unknown or already idle key is a no-op.
func (pool *ConnectionPool) ReleaseConnection(config Config) {
	pool.lock.Lock()
	defer pool.lock.Unlock()

	e, ok := pool.entries[config.Key()]
	if !ok {
		return
	}

	if e.usageCount > 0 {
		e.usageCount--
	}
	e.lastActivity = time.Now()
}

// CleanupIdleConnections disconnects and removes every entry that has no
// users and has been idle for longer than `idleThreshold`. Entries with a
// nonzero usage count are never touched. Returns how many connections were
// evicted.
func (pool *ConnectionPool) CleanupIdleConnections(idleThreshold time.Duration) int {
	now := time.Now()

	pool.lock.Lock()

	var victims []Connection
	for key, e := range pool.entries {
		if e.usageCount == 0 && now.Sub(e.lastActivity) > idleThreshold {
			victims = append(victims, e.conn)
			delete(pool.entries, key)
			logger.Infof("Evicting idle connection to %s", key)
		}
	}

	pool.lock.Unlock()

	// Disconnect outside the lock so a slow teardown cannot stall callers.
	for _, conn := range victims {
		if err := conn.Disconnect(); err != nil {
			logger.Errorf("Failed to disconnect idle connection: %s", err)
		}
	}

	return len(victims)
}

// Shutdown disconnects and removes every pooled connection unconditionally.
// Called once during service teardown.
func (pool *ConnectionPool) Shutdown() {
	pool.lock.Lock()

	victims := make([]Connection, 0, len(pool.entries))
	for key, e := range pool.entries {
		victims = append(victims, e.conn)
		delete(pool.entries, key)
	}

	pool.lock.Unlock()

	for _, conn := range victims {
		if err := conn.Disconnect(); err != nil {
			logger.Errorf("Failed to disconnect pooled connection during shutdown: %s", err)
		}
	}
}

// Size returns the number of live entries in the pool.
func (pool *ConnectionPool) Size() int {
	pool.lock.Lock()
	defer pool.lock.Unlock()

	return len(pool.entries)
}

// UsageCount returns the usage count for the endpoint's entry, or 0 when no
// entry exists.
func (pool *ConnectionPool) UsageCount(config Config) int {
	pool.lock.Lock()
	defer pool.lock.Unlock()

	if e, ok := pool.entries[config.Key()]; ok {
		return e.usageCount
	}

	return 0
}
