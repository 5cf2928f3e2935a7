// Package pool implements the virtual machine pool at the heart of the
// service. The Manager owns every pool index: the instance set, the warm
// buffer, the session registry, and the connection pool. All mutation of
// instance state goes through the Manager; nothing else touches the maps.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/skypoolhq/skypool/config"
	"github.com/skypoolhq/skypool/constants"
	"github.com/skypoolhq/skypool/hosts"
	"github.com/skypoolhq/skypool/rdp"
	"github.com/skypoolhq/skypool/session"
	logger "github.com/skypoolhq/skypool/skylogger"
	"github.com/skypoolhq/skypool/types"
	"github.com/skypoolhq/skypool/utils"
)

// PoolState gates scaling so that only one scaling operation is in flight
// per pool at a time.
type PoolState int

const (
	PoolStateStable PoolState = iota
	PoolStateScalingUp
	PoolStateScalingDown
)

func (s PoolState) String() string {
	switch s {
	case PoolStateStable:
		return "stable"
	case PoolStateScalingUp:
		return "scaling up"
	case PoolStateScalingDown:
		return "scaling down"
	default:
		return "unknown"
	}
}

// Sanitizer is the collaborator hook run on a machine before it is returned
// to the warm buffer for reuse by another user.
type Sanitizer interface {
	Sanitize(ctx context.Context, instance types.Instance) error
}

// ManagerConfig collects everything a Manager needs at construction time.
type ManagerConfig struct {
	Region  string
	ImageID string
	Policy  ScalingPolicy

	Host   hosts.HostHandler
	Dialer rdp.Dialer
	// MaxConnections bounds the remote desktop connection pool.
	MaxConnections int

	// UseSpot requests spot capacity for pool machines.
	UseSpot bool
	// SpotHourlyCost and OnDemandHourlyCost feed the informational cost
	// figures in the metrics snapshot.
	SpotHourlyCost     float64
	OnDemandHourlyCost float64

	// Sink, when set, receives periodic metric snapshots.
	Sink MetricsSink
	// Sanitizer, when set, runs before a machine is reused.
	Sanitizer Sanitizer
}

// Manager orchestrates the instance pool for one region.
type Manager struct {
	host      hosts.HostHandler
	region    string
	imageID   string
	policy    ScalingPolicy
	useSpot   bool
	spotCost  float64
	odCost    float64
	sink      MetricsSink
	sanitizer Sanitizer

	registry    *session.Registry
	connections *rdp.ConnectionPool

	// lock guards everything below. It is only ever held for map
	// bookkeeping, never across a provider or transport call.
	lock            sync.Mutex
	instances       map[types.InstanceID]*types.Instance
	warm            map[types.InstanceID]struct{}
	state           PoolState
	lastScaleAction time.Time

	provisionAttempts  int
	provisionSuccesses int

	// ScheduledEventChan receives timer and on-demand scaling events.
	ScheduledEventChan chan ScalingEvent
}

// NewManager validates the policy and returns a Manager ready to process
// events.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, utils.MakeError("invalid scaling policy: %s", err)
	}

	if cfg.Host == nil {
		return nil, utils.MakeError("a host handler is required")
	}

	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 32
	}

	return &Manager{
		host:        cfg.Host,
		region:      cfg.Region,
		imageID:     cfg.ImageID,
		policy:      cfg.Policy,
		useSpot:     cfg.UseSpot,
		spotCost:    cfg.SpotHourlyCost,
		odCost:      cfg.OnDemandHourlyCost,
		sink:        cfg.Sink,
		sanitizer:   cfg.Sanitizer,
		registry:    session.NewRegistry(),
		connections: rdp.NewConnectionPool(cfg.Dialer, cfg.MaxConnections),
		instances:   make(map[types.InstanceID]*types.Instance),
		warm:        make(map[types.InstanceID]struct{}),
	}, nil
}

// Registry exposes the session registry for activity updates from the HTTP
// layer.
func (m *Manager) Registry() *session.Registry {
	return m.registry
}

// Region returns the region this Manager scales.
func (m *Manager) Region() string {
	return m.region
}

// RequestInstance assigns a machine to the user and returns the session
// binding them. It pops the warm buffer first; when the buffer is empty it
// nudges the scaling loop and provisions a machine directly so the caller is
// not blocked behind the warm-up target. On failure no session is created.
func (m *Manager) RequestInstance(ctx context.Context, userID types.UserID, sessionTimeout time.Duration) (session.Session, error) {
	if sessionTimeout <= 0 {
		sessionTimeout = config.GetSessionTimeout()
	}

	instance, ok := m.popWarmInstance()
	if !ok {
		// The warm buffer is empty. Ask the scaling loop to reevaluate and
		// provision directly for this caller in the meantime.
		m.requestScalingEvaluation()

		provisioned, err := m.provisionInstance(ctx)
		if err != nil {
			return session.Session{}, err
		}
		instance = provisioned
	}

	now := time.Now()
	s := &session.Session{
		ID:           session.NewSessionID(),
		UserID:       userID,
		InstanceID:   instance.ID,
		AllocatedAt:  now,
		LastActivity: now,
		Timeout:      sessionTimeout,
		Address:      instance.Address,
		Port:         constants.DefaultRemoteDesktopPort,
	}

	if err := m.registry.Track(s); err != nil {
		// The instance is somehow already assigned. Put it back rather than
		// leak it.
		m.lock.Lock()
		if _, ok := m.instances[instance.ID]; ok {
			m.warm[instance.ID] = struct{}{}
		}
		m.lock.Unlock()

		return session.Session{}, utils.MakeError("failed to track session for user %s: %s", userID, err)
	}

	logger.Infof("Assigned instance %s to user %s with session %s", instance.ID, userID, s.ID)

	return *s, nil
}

// ReleaseInstance removes the instance's session and either returns the
// machine to the warm buffer or terminates it. Releasing an unknown instance
// is a no-op so duplicate cleanup triggers are safe.
func (m *Manager) ReleaseInstance(ctx context.Context, instanceID types.InstanceID, reclaimForReuse bool) error {
	m.lock.Lock()
	instance, ok := m.instances[instanceID]
	if !ok {
		m.lock.Unlock()
		return nil
	}
	current := *instance
	warmCount := len(m.warm)
	m.lock.Unlock()

	if s, ok := m.registry.FindByInstance(instanceID); ok {
		m.connections.ReleaseConnection(rdp.Config{Host: s.Address, Port: s.Port})
		m.registry.Untrack(s.ID)
	}

	if reclaimForReuse && warmCount < m.policy.WarmBufferTarget && current.IsReady() {
		if m.sanitizer != nil {
			if err := m.sanitizer.Sanitize(ctx, current); err != nil {
				logger.Errorf("Failed to sanitize instance %s, terminating it instead of reusing: %s", instanceID, err)
				return m.terminateInstance(ctx, instanceID)
			}
		}

		m.lock.Lock()
		// Reclaim only if the instance was not removed while we sanitized.
		if _, ok := m.instances[instanceID]; ok {
			m.warm[instanceID] = struct{}{}
		}
		m.lock.Unlock()

		logger.Infof("Returned instance %s to the warm buffer", instanceID)

		return nil
	}

	return m.terminateInstance(ctx, instanceID)
}

// terminateInstance spins the machine down and removes it from the pool
// indices once the provider confirms termination.
func (m *Manager) terminateInstance(ctx context.Context, instanceID types.InstanceID) error {
	m.lock.Lock()
	instance, ok := m.instances[instanceID]
	if !ok {
		m.lock.Unlock()
		return nil
	}
	instance.State = types.VMStateTerminating
	delete(m.warm, instanceID)
	current := *instance
	m.lock.Unlock()

	if _, err := m.host.SpinDownInstances(ctx, []types.InstanceID{instanceID}); err != nil {
		return utils.MakeError("failed to terminate instance %s: %s", instanceID, err)
	}

	if err := m.host.WaitForInstanceTermination(ctx, current); err != nil {
		return err
	}

	m.lock.Lock()
	delete(m.instances, instanceID)
	m.lock.Unlock()

	logger.Infof("Terminated instance %s", instanceID)

	return nil
}

// provisionInstance launches one machine, waits for it to be ready, and adds
// it to the instance set. The caller decides whether it lands in the warm
// buffer.
func (m *Manager) provisionInstance(ctx context.Context) (types.Instance, error) {
	m.lock.Lock()
	m.provisionAttempts++
	m.lock.Unlock()

	created, err := m.host.SpinUpInstances(ctx, 1, m.useSpot, m.imageID)
	if err != nil {
		return types.Instance{}, &ProvisioningError{Err: err}
	}

	instance := created[0]

	m.lock.Lock()
	stored := instance
	m.instances[instance.ID] = &stored
	m.lock.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, constants.MaxProvisionWait)
	defer cancel()

	ready, err := m.waitForReady(waitCtx, instance)
	if err != nil {
		// Clean up the partial launch so a failed provision leaves no state.
		m.lock.Lock()
		delete(m.instances, instance.ID)
		m.lock.Unlock()

		if _, terminateErr := m.host.SpinDownInstances(ctx, []types.InstanceID{instance.ID}); terminateErr != nil {
			logger.Errorf("Failed to clean up instance %s after a failed provision: %s", instance.ID, terminateErr)
		}

		return types.Instance{}, &ProvisioningError{Err: err}
	}

	m.lock.Lock()
	m.provisionSuccesses++
	stored = ready
	m.instances[ready.ID] = &stored
	m.lock.Unlock()

	logger.Infof("Instance %s is ready at %s after %s", ready.ID, ready.Address, ready.ReadyAt.Sub(ready.LaunchedAt))

	return ready, nil
}

// waitForReady blocks until the machine is running and has an address,
// polling the provider at a fixed interval after the running-state waiter
// succeeds. The context bounds the whole wait.
func (m *Manager) waitForReady(ctx context.Context, instance types.Instance) (types.Instance, error) {
	if err := m.host.WaitForInstanceReady(ctx, instance); err != nil {
		return types.Instance{}, err
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		described, err := m.host.DescribeInstance(ctx, instance.ID)
		if err != nil {
			return types.Instance{}, err
		}

		if described.IsReady() {
			described.ReadyAt = time.Now()
			return described, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return types.Instance{}, utils.MakeError("timed out waiting for instance %s to become ready: %s", instance.ID, ctx.Err())
		}
	}
}

// popWarmInstance atomically removes one ready instance from the warm buffer.
// Stale entries found along the way are dropped from the buffer and left to
// the monitoring loop. Returns false when no ready warm instance exists.
func (m *Manager) popWarmInstance() (types.Instance, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for id := range m.warm {
		delete(m.warm, id)

		instance, ok := m.instances[id]
		if !ok {
			continue
		}

		if instance.IsReady() {
			return *instance, true
		}

		logger.Warningf("Dropping stale instance %s (state %s) from the warm buffer", id, instance.State)
	}

	return types.Instance{}, false
}

// GetSessionConnection returns a pooled remote desktop connection for the
// session and counts it as user activity.
func (m *Manager) GetSessionConnection(ctx context.Context, sessionID types.SessionID) (rdp.Connection, error) {
	s, ok := m.registry.Find(sessionID)
	if !ok {
		return nil, ErrNotFound
	}

	conn, err := m.connections.GetConnection(ctx, rdp.Config{Host: s.Address, Port: s.Port})
	if err != nil {
		return nil, err
	}

	m.registry.MarkRemoteDesktopReady(sessionID)
	m.registry.UpdateActivity(sessionID)

	return conn, nil
}

// ReleaseSessionConnection releases the session's pooled connection. The
// connection stays open for reuse.
func (m *Manager) ReleaseSessionConnection(sessionID types.SessionID) error {
	s, ok := m.registry.Find(sessionID)
	if !ok {
		return ErrNotFound
	}

	m.connections.ReleaseConnection(rdp.Config{Host: s.Address, Port: s.Port})
	m.registry.UpdateActivity(sessionID)

	return nil
}

// GetPoolMetrics derives a metrics snapshot from the instance set. It never
// calls the provider.
func (m *Manager) GetPoolMetrics() PoolMetrics {
	m.lock.Lock()
	defer m.lock.Unlock()

	metrics := PoolMetrics{
		Region:        m.region,
		WarmInstances: len(m.warm),
	}

	var startupTotal time.Duration
	var startupSamples int

	for _, instance := range m.instances {
		metrics.TotalInstances++

		switch instance.State {
		case types.VMStatePending, types.VMStateLaunching:
			metrics.PendingInstances++
		case types.VMStateRunning:
			metrics.ActiveInstances++
		}

		if instance.State == types.VMStateRunning || instance.State == types.VMStatePending || instance.State == types.VMStateLaunching {
			if instance.Spot {
				metrics.SpotInstances++
				metrics.HourlyCost += m.spotCost
			} else {
				metrics.OnDemandInstances++
				metrics.HourlyCost += m.odCost
			}
		}

		if !instance.ReadyAt.IsZero() && !instance.LaunchedAt.IsZero() {
			startupTotal += instance.ReadyAt.Sub(instance.LaunchedAt)
			startupSamples++
		}
	}

	metrics.SpotSavings = float64(metrics.SpotInstances) * m.spotCost * (onDemandPriceRatio - 1)

	if startupSamples > 0 {
		metrics.AvgStartupTime = startupTotal / time.Duration(startupSamples)
	}

	if m.provisionAttempts > 0 {
		metrics.SuccessRate = float64(m.provisionSuccesses) / float64(m.provisionAttempts)
	} else {
		metrics.SuccessRate = 1
	}

	metrics.Utilization = Utilization(metrics.ActiveInstances, metrics.WarmInstances, metrics.TotalInstances)
	metrics.ActiveSessions = m.registry.Len()

	return metrics
}

// Reconcile rebuilds the in-memory pool indices from the provider's view of
// the region, keyed by the pool management tag. Ready machines without a
// session land in the warm buffer. Called once on startup.
func (m *Manager) Reconcile(ctx context.Context) error {
	listed, err := m.host.ListPoolInstances(ctx)
	if err != nil {
		return utils.MakeError("failed to list pool instances for reconciliation: %s", err)
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	m.instances = make(map[types.InstanceID]*types.Instance)
	m.warm = make(map[types.InstanceID]struct{})

	for _, instance := range listed {
		stored := instance
		m.instances[instance.ID] = &stored

		if _, assigned := m.registry.FindByInstance(instance.ID); !assigned && instance.IsReady() {
			m.warm[instance.ID] = struct{}{}
		}
	}

	logger.Infof("Reconciled pool state from provider: %d instances, %d warm", len(m.instances), len(m.warm))

	return nil
}

// Shutdown tears down the connection pool. Background loops are stopped by
// cancelling the context they run under; this handles what is left.
func (m *Manager) Shutdown() {
	m.connections.Shutdown()
}
