// SPDX-License-Identifier: MIT
package metrics

import "github.com/prometheus/client_golang/prometheus"

// PoolStats is the gauge snapshot a pool exposes for scraping.
type PoolStats struct {
	Size          int
	InUse         int
	Idle          int
	OverflowInUse int
	Waiters       int
	Capacity      int
}

// StatsProvider is implemented by pools that want their gauges scraped.
type StatsProvider interface {
	Name() string
	PoolStats() PoolStats
}

// PoolCollector reads live pool gauges at scrape time instead of tracking
// them with racy Set calls on every state change.
type PoolCollector struct {
	provider StatsProvider

	size     *prometheus.Desc
	inUse    *prometheus.Desc
	idle     *prometheus.Desc
	overflow *prometheus.Desc
	waiters  *prometheus.Desc
	capacity *prometheus.Desc
}

// NewPoolCollector builds a collector over the given provider.
func NewPoolCollector(p StatsProvider) *PoolCollector {
	labels := prometheus.Labels{"pool": p.Name()}
	return &PoolCollector{
		provider: p,
		size: prometheus.NewDesc("ballast_pool_size",
			"Configured number of persistent connections", nil, labels),
		inUse: prometheus.NewDesc("ballast_pool_in_use",
			"Connections currently checked out", nil, labels),
		idle: prometheus.NewDesc("ballast_pool_idle",
			"Connections parked and ready for reuse", nil, labels),
		overflow: prometheus.NewDesc("ballast_pool_overflow_in_use",
			"Overflow connections currently checked out", nil, labels),
		waiters: prometheus.NewDesc("ballast_pool_waiters",
			"Callers blocked waiting for a connection", nil, labels),
		capacity: prometheus.NewDesc("ballast_pool_capacity",
			"Maximum concurrent connections (size plus overflow, -1 when unbounded)", nil, labels),
	}
}

// RegisterPool hangs a pool collector on the default registry.
func RegisterPool(p StatsProvider) error {
	return prometheus.Register(NewPoolCollector(p))
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.inUse
	ch <- c.idle
	ch <- c.overflow
	ch <- c.waiters
	ch <- c.capacity
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.provider.PoolStats()
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.overflow, prometheus.GaugeValue, float64(s.OverflowInUse))
	ch <- prometheus.MustNewConstMetric(c.waiters, prometheus.GaugeValue, float64(s.Waiters))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity))
}

var _ prometheus.Collector = (*PoolCollector)(nil)
