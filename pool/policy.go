package pool

import (
	"time"

	"github.com/skypoolhq/skypool/utils"
)

// ScalingPolicy holds the thresholds, bounds, and cooldowns governing when
// the pool grows or shrinks. It is immutable after Validate.
type ScalingPolicy struct {
	// TargetUtilization is the percent utilization the pool aims for. Purely
	// informational; the decision function uses the two thresholds below.
	TargetUtilization float64
	// ScaleUpThreshold is the percent utilization above which the pool grows.
	ScaleUpThreshold float64
	// ScaleDownThreshold is the percent utilization below which the pool
	// shrinks.
	ScaleDownThreshold float64

	// MinInstances and MaxInstances bound the total pool size.
	MinInstances int
	MaxInstances int

	// ScaleUpIncrement and ScaleDownIncrement are how many instances one
	// scaling pass may launch or terminate.
	ScaleUpIncrement   int
	ScaleDownIncrement int

	// ScaleUpCooldown and ScaleDownCooldown are the minimum intervals
	// between scaling actions in each direction.
	ScaleUpCooldown   time.Duration
	ScaleDownCooldown time.Duration

	// WarmBufferTarget is how many ready, unassigned instances the pool
	// keeps in reserve.
	WarmBufferTarget int
}

// DefaultScalingPolicy returns the policy used when no overrides are
// configured.
func DefaultScalingPolicy() ScalingPolicy {
	return ScalingPolicy{
		TargetUtilization:  70,
		ScaleUpThreshold:   85,
		ScaleDownThreshold: 40,
		MinInstances:       2,
		MaxInstances:       10,
		ScaleUpIncrement:   2,
		ScaleDownIncrement: 1,
		ScaleUpCooldown:    5 * time.Minute,
		ScaleDownCooldown:  15 * time.Minute,
		WarmBufferTarget:   2,
	}
}

// Validate checks the policy's internal consistency.
func (p ScalingPolicy) Validate() error {
	if p.MinInstances < 0 || p.MaxInstances <= 0 {
		return utils.MakeError("pool bounds must be positive, got min %d max %d", p.MinInstances, p.MaxInstances)
	}

	if p.MinInstances > p.MaxInstances {
		return utils.MakeError("min pool size %d exceeds max pool size %d", p.MinInstances, p.MaxInstances)
	}

	if p.MinInstances > p.WarmBufferTarget {
		return utils.MakeError("min pool size %d exceeds warm buffer target %d", p.MinInstances, p.WarmBufferTarget)
	}

	if p.ScaleUpThreshold <= p.ScaleDownThreshold {
		return utils.MakeError("scale up threshold %.1f must be above scale down threshold %.1f",
			p.ScaleUpThreshold, p.ScaleDownThreshold)
	}

	if p.ScaleUpThreshold > 100 || p.ScaleDownThreshold < 0 {
		return utils.MakeError("utilization thresholds must be percentages, got up %.1f down %.1f",
			p.ScaleUpThreshold, p.ScaleDownThreshold)
	}

	if p.ScaleUpIncrement <= 0 || p.ScaleDownIncrement <= 0 {
		return utils.MakeError("scaling increments must be positive, got up %d down %d",
			p.ScaleUpIncrement, p.ScaleDownIncrement)
	}

	return nil
}

// Utilization computes percent pool utilization from instance counts. An
// empty pool counts as zero utilization.
func Utilization(active, warm, total int) float64 {
	if total == 0 {
		return 0
	}

	return float64(active-warm) / float64(total) * 100
}
