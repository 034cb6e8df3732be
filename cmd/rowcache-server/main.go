package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/yndnr/rowcache/internal/core/service"
	"github.com/yndnr/rowcache/internal/infra/buildinfo"
	"github.com/yndnr/rowcache/internal/infra/confloader"
	"github.com/yndnr/rowcache/internal/infra/shutdown"
	"github.com/yndnr/rowcache/internal/infra/tlsroots"
	"github.com/yndnr/rowcache/internal/server/config"
	"github.com/yndnr/rowcache/internal/server/httpserver"
	"github.com/yndnr/rowcache/internal/storage"
	"github.com/yndnr/rowcache/internal/telemetry/logger"
	"github.com/yndnr/rowcache/internal/telemetry/metric"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		checkOnly   = flag.Bool("check", false, "Validate the configuration and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("rowcache-server %s\n", buildinfo.String())
		return nil
	}
	if flag.Arg(0) == "genkey" {
		key, err := storage.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *checkOnly {
		fmt.Println("configuration OK")
		return nil
	}

	logCfg, closeLog, err := cfg.LoggerConfig()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(log)

	log.Info("starting rowcache-server",
		"version", buildinfo.Version,
		"config", *configFile)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	reg := metric.NewRegistry()

	persister, err := storage.Open(cfg.StorageConfig(log, reg.Registerer()))
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	src, err := cfg.BuildSource(log)
	if err != nil {
		persister.Close()
		return fmt.Errorf("init source: %w", err)
	}
	pipeline, err := cfg.Pipeline()
	if err != nil {
		persister.Close()
		return fmt.Errorf("compile transforms: %w", err)
	}

	store := service.NewRecordStore(cfg.Refresh.HistorySize)
	tasks := service.NewTaskTracker(cfg.TaskTrackerConfig(), log)
	coord := service.NewRefreshCoordinator(cfg.CoordinatorConfig(), src, store, tasks,
		service.WithPipeline(pipeline),
		service.WithPersister(persister),
		service.WithObserver(reg),
		service.WithLogger(log.With("component", "refresh")),
	)

	// A snapshot that cannot be restored leaves the server pending until
	// the first refresh; it is not a startup failure.
	if err := coord.Recover(ctx); err != nil {
		log.Error("snapshot recovery failed, starting without data", "error", err)
	}
	reg.Registerer().MustRegister(metric.NewSnapshotCollector(store.Metadata))

	query := service.NewQueryService(cfg.QueryConfig(), store, coord)

	var limiter *httpserver.RateLimiter
	if rl := cfg.Server.RateLimit; rl.Enabled {
		limiter = httpserver.NewRateLimiter(rl.RequestsPerSecond, rl.Burst)
		go limiter.Run(ctx)
	}

	var certs *tlsroots.CertReloader
	if tc := cfg.Server.TLS; tc.Enabled() {
		certs, err = tlsroots.NewCertReloader(tc.CertFile, tc.KeyFile, tlsroots.WithLogger(log))
		if err != nil {
			persister.Close()
			return fmt.Errorf("load TLS certificate: %w", err)
		}
		go func() {
			if err := certs.Run(ctx); err != nil {
				log.Error("certificate reloader stopped", "error", err)
			}
		}()
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Query:              query,
		Refresher:          coord,
		Tasks:              tasks,
		Store:              store,
		Logger:             log,
		APIKey:             cfg.Server.APIKey,
		CORSAllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		RateLimiter:        limiter,
		Metrics:            reg,
		MetricsHandler:     reg.Handler(),
		EnableAudit:        true,
	})
	srv := httpserver.New(httpserver.Config{
		Addr:              cfg.Server.HTTPAddr,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		Certs:             certs,
	}, router, log)
	if err := srv.Listen(); err != nil {
		persister.Close()
		return fmt.Errorf("listen on %s: %w", cfg.Server.HTTPAddr, err)
	}

	go tasks.Run(ctx)
	go coord.Run(ctx)

	watcher := watchConfig(*configFile, log)

	// Hooks run in reverse: HTTP first, the log file last.
	sd := shutdown.NewHandler(cfg.Server.ShutdownTimeout, log)
	sd.OnShutdown("log", closeLog)
	sd.OnShutdown("storage", persister.Close)
	if c, ok := src.(io.Closer); ok {
		sd.OnShutdown("source", c.Close)
	}
	sd.OnShutdown("refresh", coord.Close)
	sd.OnShutdown("background", func() error {
		stop()
		return nil
	})
	if watcher != nil {
		sd.OnShutdown("config watcher", watcher.Stop)
	}
	sd.OnShutdownContext("http", srv.Shutdown)

	waitCtx, fail := context.WithCancelCause(context.Background())
	go func() {
		if err := srv.Serve(); err != nil {
			fail(fmt.Errorf("http server: %w", err))
		}
	}()
	log.Info("HTTP server listening", "addr", srv.Addr().String(), "tls", srv.TLS())

	if err := sd.Wait(waitCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	if cause := context.Cause(waitCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from file and environment.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// watchConfig reloads log.level whenever the config file changes. Other
// settings need a restart.
func watchConfig(path string, log *slog.Logger) *confloader.Watcher {
	if path == "" {
		return nil
	}

	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		log.Warn("config watcher unavailable", "error", err)
		return nil
	}
	if err := w.Watch(path); err != nil {
		log.Warn("config watcher unavailable", "error", err)
		w.Stop()
		return nil
	}

	w.OnChange(func(string) {
		cfg, err := loadConfig(path)
		if err != nil {
			log.Warn("ignoring invalid configuration change", "error", err)
			return
		}
		if cfg.Log.Level == logger.GetLevel() {
			return
		}
		if err := logger.SetLevel(cfg.Log.Level); err != nil {
			log.Warn("ignoring log level change", "level", cfg.Log.Level, "error", err)
			return
		}
		log.Info("log level changed", "level", cfg.Log.Level)
	})
	w.StartAsync()
	return w
}
