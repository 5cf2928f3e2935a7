package pool

import (
	"context"
	"testing"
	"time"
)

func TestCheckScalingScalesUp(t *testing.T) {
	host := newMockHostHandler()
	policy := DefaultScalingPolicy()
	policy.MaxInstances = 5
	policy.ScaleUpIncrement = 2
	m := newTestManager(t, host, policy)

	// Three assigned instances, no warm buffer: utilization 100%.
	addAssignedInstance(t, m, "i-used1", "alice")
	addAssignedInstance(t, m, "i-used2", "bob")
	addAssignedInstance(t, m, "i-used3", "carol")

	if err := m.CheckScaling(context.Background(), m.NewEvent(ScheduledScaleCheckEvent)); err != nil {
		t.Fatalf("CheckScaling returned an error: %s", err)
	}

	if host.launchCount() != 2 {
		t.Errorf("expected 2 launches, got %d", host.launchCount())
	}

	m.lock.Lock()
	warm := len(m.warm)
	state := m.state
	m.lock.Unlock()

	if warm != 2 {
		t.Errorf("expected the new instances to be warm, got %d", warm)
	}

	if state != PoolStateStable {
		t.Errorf("expected the pool to settle back to stable, got %s", state)
	}
}

func TestCheckScalingBoundedByMaxInstances(t *testing.T) {
	host := newMockHostHandler()
	policy := DefaultScalingPolicy()
	policy.MaxInstances = 4
	policy.ScaleUpIncrement = 3
	m := newTestManager(t, host, policy)

	addAssignedInstance(t, m, "i-used1", "alice")
	addAssignedInstance(t, m, "i-used2", "bob")
	addAssignedInstance(t, m, "i-used3", "carol")

	if err := m.CheckScaling(context.Background(), m.NewEvent(ScheduledScaleCheckEvent)); err != nil {
		t.Fatalf("CheckScaling returned an error: %s", err)
	}

	// Only one slot remains below the cap.
	if host.launchCount() != 1 {
		t.Errorf("expected 1 launch, got %d", host.launchCount())
	}
}

func TestCheckScalingRespectsUpCooldown(t *testing.T) {
	host := newMockHostHandler()
	m := newTestManager(t, host, DefaultScalingPolicy())

	addAssignedInstance(t, m, "i-used1", "alice")

	m.lock.Lock()
	m.lastScaleAction = time.Now()
	m.lock.Unlock()

	if err := m.CheckScaling(context.Background(), m.NewEvent(ScheduledScaleCheckEvent)); err != nil {
		t.Fatalf("CheckScaling returned an error: %s", err)
	}

	if host.launchCount() != 0 {
		t.Errorf("expected no launches within the cooldown, got %d", host.launchCount())
	}
}

func TestCheckScalingScalesDownWarmOnly(t *testing.T) {
	host := newMockHostHandler()
	policy := DefaultScalingPolicy()
	policy.MinInstances = 1
	policy.WarmBufferTarget = 1
	policy.ScaleDownIncrement = 5
	m := newTestManager(t, host, policy)

	// One assigned instance and two warm ones: utilization (3-2)/3 = 33%,
	// below the 40% scale down threshold.
	addAssignedInstance(t, m, "i-used1", "alice")
	addWarmInstance(m, "i-warm1")
	addWarmInstance(m, "i-warm2")

	if err := m.CheckScaling(context.Background(), m.NewEvent(ScheduledScaleCheckEvent)); err != nil {
		t.Fatalf("CheckScaling returned an error: %s", err)
	}

	terminated := host.terminatedIDs()
	if len(terminated) != 2 {
		t.Fatalf("expected 2 terminations, got %v", terminated)
	}

	for _, id := range terminated {
		if id == "i-used1" {
			t.Fatal("scale down terminated an assigned instance")
		}
	}

	if _, ok := m.registry.FindByInstance("i-used1"); !ok {
		t.Error("expected the assigned instance to survive the scale down")
	}
}

func TestCheckScalingScaleDownKeepsMinInstances(t *testing.T) {
	host := newMockHostHandler()
	policy := DefaultScalingPolicy()
	policy.MinInstances = 2
	policy.ScaleDownIncrement = 5
	m := newTestManager(t, host, policy)

	addWarmInstance(m, "i-warm1")
	addWarmInstance(m, "i-warm2")
	addWarmInstance(m, "i-warm3")

	if err := m.CheckScaling(context.Background(), m.NewEvent(ScheduledScaleCheckEvent)); err != nil {
		t.Fatalf("CheckScaling returned an error: %s", err)
	}

	if got := len(host.terminatedIDs()); got != 1 {
		t.Errorf("expected exactly 1 termination to stay at the floor, got %d", got)
	}
}

func TestCheckScalingRespectsDownCooldown(t *testing.T) {
	host := newMockHostHandler()
	policy := DefaultScalingPolicy()
	policy.MinInstances = 1
	m := newTestManager(t, host, policy)

	addWarmInstance(m, "i-warm1")
	addWarmInstance(m, "i-warm2")

	m.lock.Lock()
	m.lastScaleAction = time.Now()
	m.lock.Unlock()

	if err := m.CheckScaling(context.Background(), m.NewEvent(ScheduledScaleCheckEvent)); err != nil {
		t.Fatalf("CheckScaling returned an error: %s", err)
	}

	if got := len(host.terminatedIDs()); got != 0 {
		t.Errorf("expected no terminations within the cooldown, got %d", got)
	}
}

func TestCheckScalingSharedCooldownBlocksOppositeDirection(t *testing.T) {
	host := newMockHostHandler()
	policy := DefaultScalingPolicy()
	policy.MinInstances = 1
	m := newTestManager(t, host, policy)

	// An all-warm pool is well below the scale down threshold, but a scale
	// up just ran. Both directions share one cooldown clock, so the pool
	// must not flap into a scale down.
	addWarmInstance(m, "i-warm1")
	addWarmInstance(m, "i-warm2")
	addWarmInstance(m, "i-warm3")

	m.lock.Lock()
	m.lastScaleAction = time.Now()
	m.lock.Unlock()

	if err := m.CheckScaling(context.Background(), m.NewEvent(ScheduledScaleCheckEvent)); err != nil {
		t.Fatalf("CheckScaling returned an error: %s", err)
	}

	if got := len(host.terminatedIDs()); got != 0 {
		t.Errorf("expected no terminations within the cooldown of the last scale action, got %d", got)
	}
}

func TestCheckScalingSkipsWhileScaling(t *testing.T) {
	host := newMockHostHandler()
	m := newTestManager(t, host, DefaultScalingPolicy())

	addAssignedInstance(t, m, "i-used1", "alice")

	m.lock.Lock()
	m.state = PoolStateScalingUp
	m.lock.Unlock()

	if err := m.CheckScaling(context.Background(), m.NewEvent(ScheduledScaleCheckEvent)); err != nil {
		t.Fatalf("CheckScaling returned an error: %s", err)
	}

	if host.launchCount() != 0 {
		t.Errorf("expected a no-op while another scaling operation is in flight, got %d launches", host.launchCount())
	}
}

func TestReplenishWarmBuffer(t *testing.T) {
	host := newMockHostHandler()
	policy := DefaultScalingPolicy()
	policy.WarmBufferTarget = 2
	m := newTestManager(t, host, policy)

	if err := m.ReplenishWarmBuffer(context.Background(), m.NewEvent(ScheduledReplenishEvent)); err != nil {
		t.Fatalf("ReplenishWarmBuffer returned an error: %s", err)
	}

	m.lock.Lock()
	warm := len(m.warm)
	m.lock.Unlock()

	if warm != 2 {
		t.Errorf("expected the warm buffer at target 2, got %d", warm)
	}

	// A second pass with the buffer at target launches nothing.
	if err := m.ReplenishWarmBuffer(context.Background(), m.NewEvent(ScheduledReplenishEvent)); err != nil {
		t.Fatalf("ReplenishWarmBuffer returned an error: %s", err)
	}

	if host.launchCount() != 2 {
		t.Errorf("expected no additional launches at target, got %d total", host.launchCount())
	}
}

func TestReplenishWarmBufferBoundedByMax(t *testing.T) {
	host := newMockHostHandler()
	policy := DefaultScalingPolicy()
	policy.MaxInstances = 3
	policy.WarmBufferTarget = 2
	m := newTestManager(t, host, policy)

	addAssignedInstance(t, m, "i-used1", "alice")
	addAssignedInstance(t, m, "i-used2", "bob")

	if err := m.ReplenishWarmBuffer(context.Background(), m.NewEvent(ScheduledReplenishEvent)); err != nil {
		t.Fatalf("ReplenishWarmBuffer returned an error: %s", err)
	}

	if host.launchCount() != 1 {
		t.Errorf("expected the cap to limit replenishment to 1 launch, got %d", host.launchCount())
	}
}

func TestPolicyValidate(t *testing.T) {
	var policyTests = []struct {
		testName string
		mutate   func(*ScalingPolicy)
		wantErr  bool
	}{
		{"Defaults", func(p *ScalingPolicy) {}, false},
		{"MinAboveMax", func(p *ScalingPolicy) { p.MinInstances = 20 }, true},
		{"ThresholdsInverted", func(p *ScalingPolicy) { p.ScaleDownThreshold = 90 }, true},
		{"ZeroIncrement", func(p *ScalingPolicy) { p.ScaleUpIncrement = 0 }, true},
		{"NegativeMin", func(p *ScalingPolicy) { p.MinInstances = -1 }, true},
		{"ThresholdAbove100", func(p *ScalingPolicy) { p.ScaleUpThreshold = 120 }, true},
	}

	for _, tt := range policyTests {
		t.Run(tt.testName, func(t *testing.T) {
			policy := DefaultScalingPolicy()
			tt.mutate(&policy)

			err := policy.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected a validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected the policy to validate, got %s", err)
			}
		})
	}
}

func TestUtilization(t *testing.T) {
	var utilizationTests = []struct {
		testName string
		want     float64
		got      float64
	}{
		{"EmptyPool", 0, Utilization(0, 0, 0)},
		{"FullyAssigned", 100, Utilization(4, 0, 4)},
		{"HalfWarm", 50, Utilization(4, 2, 4)},
		{"AllWarm", 0, Utilization(3, 3, 3)},
	}

	for _, tt := range utilizationTests {
		t.Run(tt.testName, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("want %.1f, got %.1f", tt.want, tt.got)
			}
		})
	}
}
