// Package main provides the entry point for rowcache-server.
//
// The server keeps an in-memory snapshot of a slow upstream export and
// serves it over HTTP:
//
//   - paged, ranged and metadata reads of the current snapshot
//   - scheduled and on-demand refreshes, one at a time
//   - snapshot persistence so restarts serve the last good data
//   - Prometheus metrics on /metrics
//
// Usage:
//
//	rowcache-server [flags]
//	rowcache-server -config /etc/rowcache/rowcache.yaml
//	rowcache-server -config rowcache.yaml -check
//	rowcache-server genkey
//
// Every setting can also come from a ROWCACHE_ environment variable, e.g.
// ROWCACHE_SERVER_API_KEY or ROWCACHE_REFRESH_INTERVAL.
package main
