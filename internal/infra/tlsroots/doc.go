// Package tlsroots loads TLS trust roots and serving certificates.
//
//   - roots.go: system roots plus extra CA bundles for outbound clients
//   - watcher.go: serving certificate hot reload via fsnotify
package tlsroots
