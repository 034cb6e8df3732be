package config

import (
	"maps"
	"strings"

	"github.com/yndnr/rowcache/internal/telemetry/logger"
)

// Sanitize returns a copy of cfg that is safe to log.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	s := *cfg

	s.Server.APIKey = maskSecret(s.Server.APIKey)
	s.Storage.EncryptionKey = maskSecret(s.Storage.EncryptionKey)
	s.Source.HTTP.Password = maskSecret(s.Source.HTTP.Password)
	s.Source.HTTP.URL = logger.RedactURL(s.Source.HTTP.URL)
	s.Source.SQL.DSN = maskDSN(s.Source.SQL.DSN)

	if len(s.Source.HTTP.Headers) > 0 {
		h := maps.Clone(s.Source.HTTP.Headers)
		for k, v := range h {
			if logger.IsSensitiveKey(k) {
				h[k] = maskSecret(v)
			}
		}
		s.Source.HTTP.Headers = h
	}

	return &s
}

// maskSecret keeps the first and last two characters of long secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// maskDSN hides the password in URL-style DSNs. Key/value DSNs that
// mention a password are masked entirely.
func maskDSN(dsn string) string {
	if r := logger.RedactURL(dsn); r != dsn {
		return r
	}
	if strings.Contains(strings.ToLower(dsn), "password") {
		return "****"
	}
	return dsn
}
