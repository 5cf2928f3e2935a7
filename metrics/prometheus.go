package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/skypoolhq/skypool/pool"
)

// PoolCollector exposes a pool's metrics snapshot to Prometheus scrapes. The
// snapshot function is called once per scrape, so the values are always
// current without a push loop.
type PoolCollector struct {
	snapshot func() pool.PoolMetrics

	totalInstances    *prometheus.Desc
	activeInstances   *prometheus.Desc
	pendingInstances  *prometheus.Desc
	warmInstances     *prometheus.Desc
	spotInstances     *prometheus.Desc
	onDemandInstances *prometheus.Desc
	activeSessions    *prometheus.Desc
	hourlyCost        *prometheus.Desc
	spotSavings       *prometheus.Desc
	utilization       *prometheus.Desc
	avgStartupSeconds *prometheus.Desc
	successRate       *prometheus.Desc
}

// NewPoolCollector builds a collector over the given snapshot function.
// Register it with prometheus.MustRegister.
func NewPoolCollector(snapshot func() pool.PoolMetrics) *PoolCollector {
	labels := []string{"region"}

	return &PoolCollector{
		snapshot: snapshot,
		totalInstances: prometheus.NewDesc("skypool_instances_total",
			"Total instances in the pool.", labels, nil),
		activeInstances: prometheus.NewDesc("skypool_instances_active",
			"Running instances in the pool.", labels, nil),
		pendingInstances: prometheus.NewDesc("skypool_instances_pending",
			"Instances still booting.", labels, nil),
		warmInstances: prometheus.NewDesc("skypool_instances_warm",
			"Ready instances held in the warm buffer.", labels, nil),
		spotInstances: prometheus.NewDesc("skypool_instances_spot",
			"Instances running on spot capacity.", labels, nil),
		onDemandInstances: prometheus.NewDesc("skypool_instances_on_demand",
			"Instances running on on-demand capacity.", labels, nil),
		activeSessions: prometheus.NewDesc("skypool_sessions_active",
			"Tracked user sessions.", labels, nil),
		hourlyCost: prometheus.NewDesc("skypool_hourly_cost_dollars",
			"Aggregate hourly cost of live instances.", labels, nil),
		spotSavings: prometheus.NewDesc("skypool_spot_savings_dollars",
			"Estimated hourly savings from spot capacity.", labels, nil),
		utilization: prometheus.NewDesc("skypool_utilization_percent",
			"Percent of non-warm capacity in use.", labels, nil),
		avgStartupSeconds: prometheus.NewDesc("skypool_avg_startup_seconds",
			"Mean launch-to-ready duration.", labels, nil),
		successRate: prometheus.NewDesc("skypool_provision_success_rate",
			"Fraction of provisioning attempts that produced a ready instance.", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalInstances
	ch <- c.activeInstances
	ch <- c.pendingInstances
	ch <- c.warmInstances
	ch <- c.spotInstances
	ch <- c.onDemandInstances
	ch <- c.activeSessions
	ch <- c.hourlyCost
	ch <- c.spotSavings
	ch <- c.utilization
	ch <- c.avgStartupSeconds
	ch <- c.successRate
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.snapshot()

	gauge := func(desc *prometheus.Desc, value float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, m.Region)
	}

	gauge(c.totalInstances, float64(m.TotalInstances))
	gauge(c.activeInstances, float64(m.ActiveInstances))
	gauge(c.pendingInstances, float64(m.PendingInstances))
	gauge(c.warmInstances, float64(m.WarmInstances))
	gauge(c.spotInstances, float64(m.SpotInstances))
	gauge(c.onDemandInstances, float64(m.OnDemandInstances))
	gauge(c.activeSessions, float64(m.ActiveSessions))
	gauge(c.hourlyCost, m.HourlyCost)
	gauge(c.spotSavings, m.SpotSavings)
	gauge(c.utilization, m.Utilization)
	gauge(c.avgStartupSeconds, m.AvgStartupTime.Seconds())
	gauge(c.successRate, m.SuccessRate)
}
