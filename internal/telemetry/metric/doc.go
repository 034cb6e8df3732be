// Package metric exports rowcache metrics in Prometheus format.
//
//   - prometheus.go: the registry, refresh and HTTP metrics, /metrics handler
//   - collector.go: scrape-time snapshot gauges
//
// The registry is created per process and passed to the components that
// record into it; nothing registers on the global default registry.
package metric
