package logger

import (
	"log/slog"
	"net/url"
	"strings"
)

// Key fragments that mark an attribute as sensitive.
var sensitiveKeyPatterns = []string{
	"api_key",
	"apikey",
	"secret",
	"token",
	"password",
	"passphrase",
	"dsn",
	"authorization",
	"encryption_key",
}

const redactedValue = "***REDACTED***"

// redactSensitive masks attributes whose key names a secret, and the
// password part of URLs in any string value.
func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		v := a.Value.String()
		if v == "" {
			return a
		}
		if IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
		if strings.Contains(v, "://") {
			return slog.String(a.Key, RedactURL(v))
		}

	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

// IsSensitiveKey reports whether a key name suggests secret content.
func IsSensitiveKey(key string) bool {
	k := strings.ReplaceAll(strings.ToLower(key), "-", "_")
	for _, p := range sensitiveKeyPatterns {
		if strings.Contains(k, p) {
			return true
		}
	}
	return false
}

// RedactURL masks the password of a URL-shaped string such as a database
// DSN. Strings that do not parse as URLs with credentials are returned
// unchanged.
func RedactURL(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	if _, ok := u.User.Password(); !ok {
		return s
	}
	return u.Redacted()
}
