// Package logger configures structured logging on log/slog.
//
//   - logger.go: handler construction and the runtime-adjustable level
//   - context.go: request-scoped loggers and request IDs
//   - redact.go: masking of secrets in attributes
package logger
