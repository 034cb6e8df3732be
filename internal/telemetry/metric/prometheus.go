package metric

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yndnr/rowcache/internal/core/domain"
)

const namespace = "rowcache"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	RefreshTotal    *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	RefreshSkips    *prometheus.CounterVec
	RefreshRunning  prometheus.Gauge
	PersistFailures prometheus.Counter
	SnapshotRecords prometheus.Gauge
	SnapshotTime    prometheus.Gauge
	SnapshotVersion prometheus.Gauge
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with the rowcache metrics and the Go and
// process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Registry{
		registry: reg,

		RefreshTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh attempts by trigger and result.",
		}, []string{"trigger", "result"}),

		RefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of refresh attempts, fetch through publish.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),

		RefreshSkips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_skipped_total",
			Help:      "Refresh requests refused because another refresh was running.",
		}, []string{"trigger"}),

		RefreshRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_running",
			Help:      "1 while a refresh is in progress.",
		}),

		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Snapshots published but not persisted.",
		}),

		SnapshotRecords: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_records",
			Help:      "Records in the current snapshot.",
		}),

		SnapshotTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_timestamp_seconds",
			Help:      "Unix time the current snapshot was fetched.",
		}),

		SnapshotVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_version",
			Help:      "Version of the current snapshot.",
		}),

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registerer exposes the underlying registry for components that add
// their own collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Gatherer exposes the underlying registry for tests and custom handlers.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		Registry:          r.registry,
		EnableOpenMetrics: true,
	})
}

// ObserveRequest records one HTTP request. route is the matched pattern,
// not the raw path, to keep label cardinality bounded.
func (r *Registry) ObserveRequest(route string, code int, elapsed time.Duration) {
	r.RequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	r.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RefreshStarted implements service.RefreshObserver.
func (r *Registry) RefreshStarted(domain.Trigger) {
	r.RefreshRunning.Set(1)
}

// RefreshFinished implements service.RefreshObserver.
func (r *Registry) RefreshFinished(o domain.RefreshOutcome) {
	r.RefreshRunning.Set(0)
	r.RefreshTotal.WithLabelValues(string(o.Trigger), resultLabel(o)).Inc()
	r.RefreshDuration.Observe(o.Duration().Seconds())
}

// RefreshSkipped implements service.RefreshObserver.
func (r *Registry) RefreshSkipped(trigger domain.Trigger) {
	r.RefreshSkips.WithLabelValues(string(trigger)).Inc()
}

// SnapshotPublished implements service.RefreshObserver.
func (r *Registry) SnapshotPublished(md domain.Metadata) {
	r.SnapshotRecords.Set(float64(md.Count))
	r.SnapshotVersion.Set(float64(md.Version))
	if !md.FetchedAt.IsZero() {
		r.SnapshotTime.Set(float64(md.FetchedAt.UnixNano()) / 1e9)
	}
}

// PersistFailed implements service.RefreshObserver.
func (r *Registry) PersistFailed() {
	r.PersistFailures.Inc()
}

// resultLabel maps an outcome to "success" or the failing error code.
func resultLabel(o domain.RefreshOutcome) string {
	if o.Succeeded() {
		return "success"
	}
	if code := domain.GetErrorCode(o.Err); code != "" {
		return code
	}
	return "error"
}
