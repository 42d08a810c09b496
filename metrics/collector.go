package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/serroba/slidewin/registry"
	"github.com/serroba/slidewin/window"
)

// StatsSource returns a snapshot per partition. *registry.Registry
// implements it.
type StatsSource interface {
	Stats() map[registry.Identifier]window.Stats
}

// Collector implements prometheus.Collector over a StatsSource.
type Collector struct {
	source StatsSource

	available *prometheus.Desc
	queued    *prometheus.Desc
	leases    *prometheus.Desc
}

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string, source StatsSource) *Collector {
	return &Collector{
		source: source,
		available: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "available_permits"),
			"Permits currently available in the sliding window",
			[]string{"partition"}, nil,
		),
		queued: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queued_permits"),
			"Permits requested by acquisitions waiting in the queue",
			[]string{"partition"}, nil,
		),
		leases: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "leases_total"),
			"Total number of leases handed out, by result",
			[]string{"partition", "result"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.available
	ch <- c.queued
	ch <- c.leases
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for key, s := range c.source.Stats() {
		partition := string(key)

		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, float64(s.AvailablePermits), partition)
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(s.QueuedCount), partition)
		ch <- prometheus.MustNewConstMetric(c.leases, prometheus.CounterValue, float64(s.TotalSuccessfulLeases), partition, "successful")
		ch <- prometheus.MustNewConstMetric(c.leases, prometheus.CounterValue, float64(s.TotalFailedLeases), partition, "failed")
	}
}
