package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/rowcache/internal/core/service"
	"github.com/yndnr/rowcache/internal/core/transform"
	"github.com/yndnr/rowcache/internal/source"
	"github.com/yndnr/rowcache/internal/source/dropdir"
	"github.com/yndnr/rowcache/internal/source/httpsource"
	"github.com/yndnr/rowcache/internal/source/sqlsource"
	"github.com/yndnr/rowcache/internal/storage"
	"github.com/yndnr/rowcache/internal/telemetry/logger"
)

// CoordinatorConfig returns the refresh coordinator settings.
func (c *ServerConfig) CoordinatorConfig() service.CoordinatorConfig {
	return service.CoordinatorConfig{
		Interval:       c.Refresh.Interval,
		FetchTimeout:   c.Refresh.FetchTimeout,
		PersistTimeout: c.Refresh.PersistTimeout,
		RunOnStart:     c.Refresh.RunOnStart,
		AllowEmpty:     c.Refresh.AllowEmpty,
	}
}

// QueryConfig returns the read limits.
func (c *ServerConfig) QueryConfig() service.QueryConfig {
	return service.QueryConfig{
		DefaultLimit:     c.Query.DefaultLimit,
		MaxLimit:         c.Query.MaxLimit,
		MaxRange:         c.Query.MaxRange,
		FreshReads:       c.Query.FreshReads,
		FreshMinInterval: c.Query.FreshMinInterval,
	}
}

// TaskTrackerConfig returns the task registry settings.
func (c *ServerConfig) TaskTrackerConfig() service.TaskTrackerConfig {
	return service.TaskTrackerConfig{
		Retention:     c.Tasks.Retention,
		MaxTasks:      c.Tasks.MaxTasks,
		SweepInterval: c.Tasks.SweepInterval,
	}
}

// StorageConfig returns the persistence settings.
func (c *ServerConfig) StorageConfig(log *slog.Logger, reg prometheus.Registerer) storage.Config {
	return storage.Config{
		Backend:          c.Storage.Backend,
		DataDir:          c.Storage.DataDir,
		RetentionCount:   c.Storage.RetentionCount,
		EncryptionKey:    c.Storage.EncryptionKey,
		BadgerGCInterval: c.Storage.BadgerGCInterval,
		Logger:           log,
		Registerer:       reg,
	}
}

// Pipeline compiles the configured transforms.
func (c *ServerConfig) Pipeline() (*transform.Pipeline, error) {
	return transform.Compile(c.Transforms)
}

// LoggerConfig resolves log.output to a writer. The returned close func
// must be called on shutdown; it is a no-op for stdout and stderr.
func (c *ServerConfig) LoggerConfig() (logger.Config, func() error, error) {
	cfg := logger.Config{
		Level:     c.Log.Level,
		Format:    c.Log.Format,
		AddSource: c.Log.AddSource,
	}
	noop := func() error { return nil }

	switch c.Log.Output {
	case "", "stderr":
		cfg.Output = os.Stderr
	case "stdout":
		cfg.Output = os.Stdout
	default:
		if err := os.MkdirAll(filepath.Dir(c.Log.Output), 0o750); err != nil {
			return cfg, noop, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(c.Log.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return cfg, noop, fmt.Errorf("open log file: %w", err)
		}
		cfg.Output = f
		return cfg, f.Close, nil
	}
	return cfg, noop, nil
}

// BuildSource constructs the configured fetch source. When the source
// holds resources, such as a database pool, it also implements io.Closer.
func (c *ServerConfig) BuildSource(log *slog.Logger) (source.FetchSource, error) {
	format, err := source.ParseFormat(c.Source.Format)
	if err != nil {
		return nil, err
	}

	switch c.Source.Type {
	case SourceHTTP:
		h := c.Source.HTTP
		return httpsource.New(httpsource.Config{
			URL:                h.URL,
			Format:             format,
			Headers:            h.Headers,
			Username:           h.Username,
			Password:           h.Password,
			CAFile:             h.CAFile,
			InsecureSkipVerify: h.InsecureSkipVerify,
			RetryMax:           h.RetryMax,
			RetryWaitMin:       h.RetryWaitMin,
			RetryWaitMax:       h.RetryWaitMax,
			MaxBodyBytes:       h.MaxBodyBytes,
		}, log)

	case SourceDropDir:
		d := c.Source.DropDir
		return dropdir.New(dropdir.Config{
			Dir:            d.Dir,
			TriggerCommand: d.TriggerCommand,
			PollInterval:   d.PollInterval,
			WaitTimeout:    d.WaitTimeout,
			SettleInterval: d.SettleInterval,
			ArchiveDir:     d.ArchiveDir,
			Format:         format,
		}, log)

	case SourceSQL:
		s := c.Source.SQL
		return sqlsource.New(sqlsource.Config{
			Driver:       s.Driver,
			DSN:          s.DSN,
			Query:        s.Query,
			MaxOpenConns: s.MaxOpenConns,
		}, log)

	default:
		return nil, fmt.Errorf("unknown source type %q", c.Source.Type)
	}
}
