// Package main provides the entry point for rowcache-cli.
//
// The CLI reads and refreshes a rowcache server over its HTTP API:
//
//   - status, health and snapshot metadata
//   - paged and row-range record reads
//   - refresh requests and task polling
//   - full snapshot export as JSON or CSV
//
// Usage:
//
//	rowcache-cli [global flags] command [flags]
//	rowcache-cli --server http://cache:8380 page --limit 50
//	rowcache-cli export --format csv --out rows.csv
package main
