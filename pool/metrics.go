package pool

import (
	"context"
	"time"
)

// onDemandPriceRatio is the observed ratio between on-demand and spot prices
// for the instance types the pool launches. Used only for the informational
// savings figure in the metrics snapshot.
const onDemandPriceRatio = 1.5

// PoolMetrics is a point-in-time snapshot derived from the instance set. It
// is recomputed on demand and never independently mutated.
type PoolMetrics struct {
	Region string

	TotalInstances   int
	ActiveInstances  int
	PendingInstances int
	WarmInstances    int

	SpotInstances     int
	OnDemandInstances int

	// HourlyCost is the aggregate hourly cost of all live instances.
	HourlyCost float64
	// SpotSavings is the estimated hourly amount saved by running spot
	// capacity instead of on-demand.
	SpotSavings float64

	// AvgStartupTime is the mean launch-to-ready duration across instances
	// that became ready.
	AvgStartupTime time.Duration
	// SuccessRate is the fraction of provisioning attempts that produced a
	// ready instance, 1 when nothing has been attempted yet.
	SuccessRate float64

	// Utilization is the percent of non-warm capacity in use.
	Utilization float64

	// ActiveSessions is the number of tracked user sessions.
	ActiveSessions int
}

// MetricsSink receives pool metric snapshots. Publishing is fire-and-forget;
// implementations log failures instead of propagating them into the pool.
type MetricsSink interface {
	Publish(ctx context.Context, metrics PoolMetrics) error
}
