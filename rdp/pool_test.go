package rdp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockConnection counts disconnects and can be flipped dead to simulate a
// dropped transport.
type mockConnection struct {
	lock         sync.Mutex
	connected    bool
	disconnected int
}

func (c *mockConnection) IsConnected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.connected
}

func (c *mockConnection) Disconnect() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.connected = false
	c.disconnected++
	return nil
}

func (c *mockConnection) kill() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.connected = false
}

// mockDialer hands out mockConnections and records how many dials happened.
type mockDialer struct {
	dials int32
	err   error
	// block, when set, stalls Connect until released. Used to exercise the
	// in-flight reservation path.
	block chan struct{}
}

func (d *mockDialer) Connect(ctx context.Context, config Config) (Connection, error) {
	atomic.AddInt32(&d.dials, 1)

	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if d.err != nil {
		return nil, d.err
	}

	return &mockConnection{connected: true}, nil
}

func TestGetConnectionReusesLiveEntry(t *testing.T) {
	dialer := &mockDialer{}
	pool := NewConnectionPool(dialer, 5)
	config := Config{Host: "10.0.0.1", Port: 3389}

	first, err := pool.GetConnection(context.Background(), config)
	if err != nil {
		t.Fatalf("GetConnection returned an error: %s", err)
	}

	second, err := pool.GetConnection(context.Background(), config)
	if err != nil {
		t.Fatalf("GetConnection returned an error: %s", err)
	}

	if first != second {
		t.Error("expected both calls to return the same pooled connection")
	}

	if got := atomic.LoadInt32(&dialer.dials); got != 1 {
		t.Errorf("expected exactly one dial, got %d", got)
	}

	if got := pool.UsageCount(config); got != 2 {
		t.Errorf("expected usage count 2, got %d", got)
	}

	pool.ReleaseConnection(config)
	pool.ReleaseConnection(config)

	if got := pool.UsageCount(config); got != 0 {
		t.Errorf("expected usage count 0 after releases, got %d", got)
	}

	if !first.IsConnected() {
		t.Error("releasing a connection should not disconnect it")
	}
}

func TestGetConnectionReplacesDeadEntry(t *testing.T) {
	dialer := &mockDialer{}
	pool := NewConnectionPool(dialer, 5)
	config := Config{Host: "10.0.0.1", Port: 3389}

	first, err := pool.GetConnection(context.Background(), config)
	if err != nil {
		t.Fatalf("GetConnection returned an error: %s", err)
	}

	first.(*mockConnection).kill()

	second, err := pool.GetConnection(context.Background(), config)
	if err != nil {
		t.Fatalf("GetConnection returned an error: %s", err)
	}

	if first == second {
		t.Error("expected a dead connection to be replaced, got the same one back")
	}

	if got := atomic.LoadInt32(&dialer.dials); got != 2 {
		t.Errorf("expected two dials, got %d", got)
	}
}

func TestGetConnectionRespectsCapacity(t *testing.T) {
	dialer := &mockDialer{}
	pool := NewConnectionPool(dialer, 2)

	for i, config := range []Config{
		{Host: "10.0.0.1", Port: 3389},
		{Host: "10.0.0.2", Port: 3389},
	} {
		if _, err := pool.GetConnection(context.Background(), config); err != nil {
			t.Fatalf("GetConnection %d returned an error: %s", i, err)
		}
	}

	_, err := pool.GetConnection(context.Background(), Config{Host: "10.0.0.3", Port: 3389})
	if !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}

	if got := pool.Size(); got != 2 {
		t.Errorf("expected pool size 2, got %d", got)
	}
}

func TestGetConnectionPropagatesDialFailure(t *testing.T) {
	dialErr := errors.New("handshake refused")
	dialer := &mockDialer{err: dialErr}
	pool := NewConnectionPool(dialer, 5)

	_, err := pool.GetConnection(context.Background(), Config{Host: "10.0.0.1", Port: 3389})
	if err == nil {
		t.Fatal("expected an error from a failed dial")
	}

	// A failed dial must not leave a reservation behind that blocks the key.
	dialer.err = nil
	if _, err := pool.GetConnection(context.Background(), Config{Host: "10.0.0.1", Port: 3389}); err != nil {
		t.Errorf("expected the key to be dialable after a failure, got %s", err)
	}
}

func TestConcurrentGetConnectionDialsOnce(t *testing.T) {
	dialer := &mockDialer{block: make(chan struct{})}
	pool := NewConnectionPool(dialer, 5)
	config := Config{Host: "10.0.0.1", Port: 3389}

	var wg sync.WaitGroup
	conns := make([]Connection, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = pool.GetConnection(context.Background(), config)
		}(i)
	}

	// Give both goroutines time to reach the dial or the reservation wait,
	// then let the dial finish.
	time.Sleep(50 * time.Millisecond)
	close(dialer.block)
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("GetConnection %d returned an error: %s", i, errs[i])
		}
	}

	if conns[0] != conns[1] {
		t.Error("expected both concurrent callers to share one connection")
	}

	if got := atomic.LoadInt32(&dialer.dials); got != 1 {
		t.Errorf("expected exactly one dial, got %d", got)
	}

	if got := pool.UsageCount(config); got != 2 {
		t.Errorf("expected usage count 2, got %d", got)
	}
}

func TestCleanupIdleConnections(t *testing.T) {
	dialer := &mockDialer{}
	pool := NewConnectionPool(dialer, 5)

	idle := Config{Host: "10.0.0.1", Port: 3389}
	busy := Config{Host: "10.0.0.2", Port: 3389}

	idleConn, err := pool.GetConnection(context.Background(), idle)
	if err != nil {
		t.Fatalf("GetConnection returned an error: %s", err)
	}
	pool.ReleaseConnection(idle)

	busyConn, err := pool.GetConnection(context.Background(), busy)
	if err != nil {
		t.Fatalf("GetConnection returned an error: %s", err)
	}

	// Backdate both entries so the idle threshold has clearly passed.
	pool.lock.Lock()
	for _, e := range pool.entries {
		e.lastActivity = time.Now().Add(-time.Hour)
	}
	pool.lock.Unlock()

	if evicted := pool.CleanupIdleConnections(15 * time.Minute); evicted != 1 {
		t.Errorf("expected 1 eviction, got %d", evicted)
	}

	if idleConn.IsConnected() {
		t.Error("expected the idle connection to be disconnected")
	}

	if !busyConn.IsConnected() {
		t.Error("an in-use connection must never be evicted")
	}

	if got := pool.UsageCount(busy); got != 1 {
		t.Errorf("expected the in-use entry to survive with usage 1, got %d", got)
	}
}

func TestShutdownDisconnectsEverything(t *testing.T) {
	dialer := &mockDialer{}
	pool := NewConnectionPool(dialer, 5)

	configs := []Config{
		{Host: "10.0.0.1", Port: 3389},
		{Host: "10.0.0.2", Port: 3389},
	}

	conns := make([]Connection, 0, len(configs))
	for _, config := range configs {
		conn, err := pool.GetConnection(context.Background(), config)
		if err != nil {
			t.Fatalf("GetConnection returned an error: %s", err)
		}
		conns = append(conns, conn)
	}

	pool.Shutdown()

	for i, conn := range conns {
		if conn.IsConnected() {
			t.Errorf("expected connection %d to be disconnected after shutdown", i)
		}
	}

	if got := pool.Size(); got != 0 {
		t.Errorf("expected an empty pool after shutdown, got %d entries", got)
	}
}
