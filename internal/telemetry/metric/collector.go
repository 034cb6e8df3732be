package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/rowcache/internal/core/domain"
)

// SnapshotCollector reports values derived from the current snapshot at
// scrape time, so they are exact without a background updater.
type SnapshotCollector struct {
	metadata func() domain.Metadata
	now      func() time.Time

	age   *prometheus.Desc
	size  *prometheus.Desc
	ready *prometheus.Desc
}

// NewSnapshotCollector reads the current metadata through metadata on
// every scrape.
func NewSnapshotCollector(metadata func() domain.Metadata) *SnapshotCollector {
	return &SnapshotCollector{
		metadata: metadata,
		now:      time.Now,
		age: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "snapshot", "age_seconds"),
			"Seconds since the current snapshot was fetched.", nil, nil),
		size: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "snapshot", "size_estimate_bytes"),
			"Estimated JSON size of the current snapshot.", nil, nil),
		ready: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "snapshot", "ready"),
			"1 once a snapshot has been published.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.age
	ch <- c.size
	ch <- c.ready
}

// Collect implements prometheus.Collector.
func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	md := c.metadata()

	ready := 0.0
	if md.Status == domain.StatusSuccess {
		ready = 1
	}
	ch <- prometheus.MustNewConstMetric(c.ready, prometheus.GaugeValue, ready)
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(md.SizeEstimate))

	age := 0.0
	if !md.FetchedAt.IsZero() {
		age = c.now().Sub(md.FetchedAt).Seconds()
	}
	ch <- prometheus.MustNewConstMetric(c.age, prometheus.GaugeValue, age)
}
