// Package config holds the rowcache-cli settings file,
// ~/.rowcache/cli.yaml.
//
// Flags and ROWCACHE_* environment variables override the file; the file
// overrides the built-in defaults.
package config
