// Package config defines the rowcache-server configuration.
//
//   - spec.go: ServerConfig and its sections
//   - default.go: default values
//   - verify.go: validation, reporting every problem at once
//   - sanitize.go: a copy safe to log, with secrets masked
//   - convert.go: per-component settings derived from ServerConfig
//
// Values are loaded through internal/infra/confloader from a YAML file and
// ROWCACHE_* environment variables on top of Default().
package config
