package config

import (
	"time"

	"github.com/yndnr/rowcache/internal/core/service"
	"github.com/yndnr/rowcache/internal/source/dropdir"
	"github.com/yndnr/rowcache/internal/source/httpsource"
	"github.com/yndnr/rowcache/internal/storage"
	"github.com/yndnr/rowcache/internal/storage/snapshot"
)

// Default configuration values.
const (
	DefaultHTTPAddr          = "127.0.0.1:8380"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Minute
	DefaultIdleTimeout       = 2 * time.Minute
	DefaultShutdownTimeout   = 15 * time.Second

	DefaultRateLimitRPS   = 20
	DefaultRateLimitBurst = 40

	DefaultDataDir = "/var/lib/rowcache"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	coord := service.DefaultCoordinatorConfig()
	query := service.DefaultQueryConfig()
	tasks := service.DefaultTaskTrackerConfig()

	return &ServerConfig{
		Server: ServerSection{
			HTTPAddr: DefaultHTTPAddr,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: DefaultRateLimitRPS,
				Burst:             DefaultRateLimitBurst,
			},
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			ShutdownTimeout:   DefaultShutdownTimeout,
		},
		Refresh: RefreshSection{
			Interval:       coord.Interval,
			FetchTimeout:   coord.FetchTimeout,
			PersistTimeout: coord.PersistTimeout,
			RunOnStart:     coord.RunOnStart,
			AllowEmpty:     coord.AllowEmpty,
			HistorySize:    service.DefaultHistorySize,
		},
		Source: SourceSection{
			Type: SourceHTTP,
			HTTP: HTTPSourceConfig{
				RetryMax:     httpsource.DefaultRetryMax,
				RetryWaitMin: httpsource.DefaultRetryWaitMin,
				RetryWaitMax: httpsource.DefaultRetryWaitMax,
			},
			DropDir: DropDirSourceConfig{
				PollInterval:   dropdir.DefaultPollInterval,
				WaitTimeout:    dropdir.DefaultWaitTimeout,
				SettleInterval: dropdir.DefaultSettleInterval,
			},
		},
		Query: QuerySection{
			DefaultLimit:     query.DefaultLimit,
			MaxLimit:         query.MaxLimit,
			MaxRange:         query.MaxRange,
			FreshReads:       query.FreshReads,
			FreshMinInterval: query.FreshMinInterval,
		},
		Tasks: TasksSection{
			Retention:     tasks.Retention,
			MaxTasks:      tasks.MaxTasks,
			SweepInterval: tasks.SweepInterval,
		},
		Storage: StorageSection{
			Backend:        storage.BackendFile,
			DataDir:        DefaultDataDir,
			RetentionCount: snapshot.DefaultRetentionCount,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
			Output: "stderr",
		},
	}
}
