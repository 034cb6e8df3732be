package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/yndnr/rowcache/internal/core/transform"
	"github.com/yndnr/rowcache/internal/source"
	"github.com/yndnr/rowcache/internal/source/sqlsource"
	"github.com/yndnr/rowcache/internal/storage"
	"github.com/yndnr/rowcache/internal/telemetry/logger"
)

// MinAPIKeyLength is the shortest accepted api_key.
const MinAPIKeyLength = 16

// Verify validates cfg and reports every problem found.
func Verify(cfg *ServerConfig) error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	verifyServer(&cfg.Server, add)
	verifyRefresh(&cfg.Refresh, add)
	verifySource(&cfg.Source, add)
	if _, err := transform.Compile(cfg.Transforms); err != nil {
		add("transforms: %v", err)
	}
	verifyQuery(&cfg.Query, add)
	verifyTasks(&cfg.Tasks, add)
	verifyStorage(&cfg.Storage, add)
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "json", "text", "console":
	default:
		add("log.format: unknown format %q", cfg.Log.Format)
	}

	return result.ErrorOrNil()
}

type addFunc func(format string, args ...any)

func verifyServer(s *ServerSection, add addFunc) {
	if _, _, err := net.SplitHostPort(s.HTTPAddr); err != nil {
		add("server.http_addr: %v", err)
	}

	switch {
	case s.APIKey == "" && !s.AllowAnonymous:
		add("server.api_key is required unless server.allow_anonymous is set")
	case s.APIKey != "" && len(s.APIKey) < MinAPIKeyLength:
		add("server.api_key must be at least %d characters", MinAPIKeyLength)
	}

	if s.TLS.Enabled() {
		if s.TLS.CertFile == "" || s.TLS.KeyFile == "" {
			add("server.tls: cert_file and key_file must be set together")
		}
		for _, f := range []string{s.TLS.CertFile, s.TLS.KeyFile} {
			if f == "" {
				continue
			}
			if _, err := os.Stat(f); err != nil {
				add("server.tls: %v", err)
			}
		}
	}

	if s.RateLimit.Enabled && (s.RateLimit.RequestsPerSecond <= 0 || s.RateLimit.Burst < 1) {
		add("server.rate_limit: requests_per_second and burst must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		add("server.shutdown_timeout must be positive")
	}
}

func verifyRefresh(r *RefreshSection, add addFunc) {
	if r.Interval < 0 {
		add("refresh.interval must not be negative")
	}
	if r.FetchTimeout <= 0 {
		add("refresh.fetch_timeout must be positive")
	}
}

func verifySource(s *SourceSection, add addFunc) {
	if _, err := source.ParseFormat(s.Format); err != nil {
		add("source.format: %v", err)
	}

	switch s.Type {
	case SourceHTTP:
		if s.HTTP.URL == "" {
			add("source.http.url is required")
		}
	case SourceDropDir:
		if s.DropDir.Dir == "" {
			add("source.dropdir.dir is required")
		}
	case SourceSQL:
		if _, err := sqlsource.DriverName(s.SQL.Driver); err != nil {
			add("source.sql.driver: %v", err)
		}
		if s.SQL.DSN == "" {
			add("source.sql.dsn is required")
		}
		if s.SQL.Query == "" {
			add("source.sql.query is required")
		}
	default:
		add("source.type: must be one of %s, %s, %s", SourceHTTP, SourceDropDir, SourceSQL)
	}
}

func verifyQuery(q *QuerySection, add addFunc) {
	if q.MaxLimit < 1 {
		add("query.max_limit must be at least 1")
	}
	if q.DefaultLimit < 1 || q.DefaultLimit > q.MaxLimit {
		add("query.default_limit must be between 1 and max_limit")
	}
	if q.MaxRange < 1 {
		add("query.max_range must be at least 1")
	}
	if q.FreshReads && q.FreshMinInterval < 0 {
		add("query.fresh_min_interval must not be negative")
	}
}

func verifyTasks(t *TasksSection, add addFunc) {
	if t.Retention <= 0 {
		add("tasks.retention must be positive")
	}
	if t.MaxTasks < 1 {
		add("tasks.max_tasks must be at least 1")
	}
}

func verifyStorage(s *StorageSection, add addFunc) {
	switch s.Backend {
	case storage.BackendNone:
		return
	case storage.BackendFile, storage.BackendBadger:
	default:
		add("storage.backend: must be one of %s, %s, %s",
			storage.BackendFile, storage.BackendBadger, storage.BackendNone)
		return
	}

	if s.DataDir == "" {
		add("storage.data_dir is required")
	} else if err := os.MkdirAll(s.DataDir, 0o750); err != nil {
		add("storage.data_dir: %v", err)
	}
	if s.Backend == storage.BackendFile && s.RetentionCount < 1 {
		add("storage.retention_count must be at least 1")
	}
	if s.EncryptionKey != "" && len(s.EncryptionKey) < storage.MinPassphraseLength {
		add("storage.encryption_key must be at least %d characters", storage.MinPassphraseLength)
	}
}
