package pool

import (
	"context"
	"time"

	logger "github.com/skypoolhq/skypool/skylogger"
	"github.com/skypoolhq/skypool/types"
	"github.com/skypoolhq/skypool/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CheckScaling runs the scaling decision once. It computes utilization,
// honors the cooldowns and the pool bounds, and launches or terminates warm
// instances accordingly. A tick that finds a scaling operation already in
// flight is a no-op.
func (m *Manager) CheckScaling(scalingCtx context.Context, event ScalingEvent) error {
	contextFields := []interface{}{
		zap.String("id", event.ID),
		zap.Any("type", event.Type),
		zap.String("region", event.Region),
	}

	m.lock.Lock()

	if m.state != PoolStateStable {
		logger.Infow(utils.Sprintf("Pool is already %s, skipping scaling check.", m.state), contextFields)
		m.lock.Unlock()
		return nil
	}

	total := len(m.instances)
	warm := len(m.warm)
	active := 0
	for _, instance := range m.instances {
		if instance.State == types.VMStateRunning {
			active++
		}
	}

	utilization := Utilization(active, warm, total)
	now := time.Now()

	switch {
	case utilization > m.policy.ScaleUpThreshold &&
		now.Sub(m.lastScaleAction) > m.policy.ScaleUpCooldown &&
		total < m.policy.MaxInstances:

		count := utils.Min(m.policy.ScaleUpIncrement, m.policy.MaxInstances-total)
		m.state = PoolStateScalingUp
		m.lastScaleAction = now
		m.lock.Unlock()

		logger.Infow(utils.Sprintf("Utilization %.1f%% is above %.1f%%, scaling up by %d.",
			utilization, m.policy.ScaleUpThreshold, count), contextFields)

		defer m.setStable()

		return m.scaleUp(scalingCtx, count)

	case utilization < m.policy.ScaleDownThreshold &&
		now.Sub(m.lastScaleAction) > m.policy.ScaleDownCooldown &&
		total > m.policy.MinInstances:

		count := utils.Min(m.policy.ScaleDownIncrement, total-m.policy.MinInstances)
		victims := m.pickScaleDownVictims(count)
		if len(victims) == 0 {
			logger.Infow("No unassigned warm instances available, not scaling down.", contextFields)
			m.lock.Unlock()
			return nil
		}

		m.state = PoolStateScalingDown
		m.lastScaleAction = now
		m.lock.Unlock()

		logger.Infow(utils.Sprintf("Utilization %.1f%% is below %.1f%%, scaling down %d warm instances.",
			utilization, m.policy.ScaleDownThreshold, len(victims)), contextFields)

		defer m.setStable()

		return m.scaleDown(scalingCtx, victims)

	default:
		m.lock.Unlock()
		return nil
	}
}

// setStable resets the scaling state flag after an operation finishes.
func (m *Manager) setStable() {
	m.lock.Lock()
	m.state = PoolStateStable
	m.lock.Unlock()
}

// scaleUp provisions `count` warm instances concurrently. A failed launch
// does not abort the others in the batch; the first error is returned after
// every launch has settled.
func (m *Manager) scaleUp(scalingCtx context.Context, count int) error {
	g := new(errgroup.Group)

	for i := 0; i < count; i++ {
		g.Go(func() error {
			instance, err := m.provisionInstance(scalingCtx)
			if err != nil {
				return err
			}

			m.lock.Lock()
			if _, ok := m.instances[instance.ID]; ok {
				m.warm[instance.ID] = struct{}{}
			}
			m.lock.Unlock()

			return nil
		})
	}

	return g.Wait()
}

// pickScaleDownVictims selects up to `count` warm instances for termination
// and removes them from the warm buffer so no concurrent request can claim
// them. Assigned instances are never candidates; the registry check asserts
// the invariant. Caller must hold m.lock.
func (m *Manager) pickScaleDownVictims(count int) []types.InstanceID {
	var victims []types.InstanceID

	for id := range m.warm {
		if len(victims) == count {
			break
		}

		if s, assigned := m.registry.FindByInstance(id); assigned {
			logger.Errorf("Instance %s is in the warm buffer but assigned to session %s, refusing to scale it down", id, s.ID)
			continue
		}

		delete(m.warm, id)
		victims = append(victims, id)
	}

	return victims
}

// scaleDown terminates the given warm instances concurrently.
func (m *Manager) scaleDown(scalingCtx context.Context, victims []types.InstanceID) error {
	logger.Infof("Terminating instances: %s", utils.PrintSlice(victims, 10))

	g := new(errgroup.Group)

	for _, id := range victims {
		id := id
		g.Go(func() error {
			return m.terminateInstance(scalingCtx, id)
		})
	}

	return g.Wait()
}

// ReplenishWarmBuffer launches enough warm instances to bring the buffer
// back up to target, bounded by the pool's max size. Unlike a scale-up, it
// is not subject to the cooldown; it is the steady-state loop that keeps the
// warm target invariant.
func (m *Manager) ReplenishWarmBuffer(scalingCtx context.Context, event ScalingEvent) error {
	contextFields := []interface{}{
		zap.String("id", event.ID),
		zap.Any("type", event.Type),
		zap.String("region", event.Region),
	}

	m.lock.Lock()

	if m.state != PoolStateStable {
		m.lock.Unlock()
		return nil
	}

	missing := utils.Min(m.policy.WarmBufferTarget-len(m.warm), m.policy.MaxInstances-len(m.instances))
	if missing <= 0 {
		m.lock.Unlock()
		return nil
	}

	m.state = PoolStateScalingUp
	m.lock.Unlock()

	logger.Infow(utils.Sprintf("Warm buffer is %d below target, launching replacements.", missing), contextFields)

	defer m.setStable()

	return m.scaleUp(scalingCtx, missing)
}
