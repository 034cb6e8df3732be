package config

import (
	"time"

	"github.com/yndnr/rowcache/internal/core/transform"
)

// ServerConfig is the root configuration for rowcache-server.
type ServerConfig struct {
	Server     ServerSection    `koanf:"server"`
	Refresh    RefreshSection   `koanf:"refresh"`
	Source     SourceSection    `koanf:"source"`
	Transforms []transform.Rule `koanf:"transforms"`
	Query      QuerySection     `koanf:"query"`
	Tasks      TasksSection     `koanf:"tasks"`
	Storage    StorageSection   `koanf:"storage"`
	Log        LogSection       `koanf:"log"`
}

// ServerSection configures the HTTP API.
type ServerSection struct {
	HTTPAddr string `koanf:"http_addr"`

	// APIKey is the shared secret expected in X-API-Key or a bearer token.
	APIKey string `koanf:"api_key"`

	// AllowAnonymous serves every route without an API key. It must be set
	// explicitly when api_key is empty.
	AllowAnonymous bool `koanf:"allow_anonymous"`

	TLS       TLSConfig       `koanf:"tls"`
	CORS      CORSConfig      `koanf:"cors"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`

	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// TLSConfig enables HTTPS. Certificates are reloaded when the files change.
type TLSConfig struct {
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

// Enabled reports whether a certificate is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != ""
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// RateLimitConfig is a per-client token bucket.
type RateLimitConfig struct {
	Enabled           bool    `koanf:"enabled"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// RefreshSection configures the refresh coordinator.
type RefreshSection struct {
	// Interval between scheduled refreshes. Zero disables the schedule.
	Interval       time.Duration `koanf:"interval"`
	FetchTimeout   time.Duration `koanf:"fetch_timeout"`
	PersistTimeout time.Duration `koanf:"persist_timeout"`
	RunOnStart     bool          `koanf:"run_on_start"`
	AllowEmpty     bool          `koanf:"allow_empty"`

	// HistorySize is how many published snapshot summaries /status keeps.
	HistorySize int `koanf:"history_size"`
}

// Source types.
const (
	SourceHTTP    = "http"
	SourceDropDir = "dropdir"
	SourceSQL     = "sql"
)

// SourceSection selects and configures the fetch source.
type SourceSection struct {
	Type string `koanf:"type"`

	// Format forces a decoder for http and dropdir sources: csv, json or
	// empty for auto detection.
	Format string `koanf:"format"`

	HTTP    HTTPSourceConfig    `koanf:"http"`
	DropDir DropDirSourceConfig `koanf:"dropdir"`
	SQL     SQLSourceConfig     `koanf:"sql"`
}

// HTTPSourceConfig configures an export URL.
type HTTPSourceConfig struct {
	URL                string            `koanf:"url"`
	Headers            map[string]string `koanf:"headers"`
	Username           string            `koanf:"username"`
	Password           string            `koanf:"password"`
	CAFile             string            `koanf:"ca_file"`
	InsecureSkipVerify bool              `koanf:"insecure_skip_verify"`
	RetryMax           int               `koanf:"retry_max"`
	RetryWaitMin       time.Duration     `koanf:"retry_wait_min"`
	RetryWaitMax       time.Duration     `koanf:"retry_wait_max"`
	MaxBodyBytes       int64             `koanf:"max_body_bytes"`
}

// DropDirSourceConfig configures a directory that receives export files.
type DropDirSourceConfig struct {
	Dir            string        `koanf:"dir"`
	TriggerCommand []string      `koanf:"trigger_command"`
	PollInterval   time.Duration `koanf:"poll_interval"`
	WaitTimeout    time.Duration `koanf:"wait_timeout"`
	SettleInterval time.Duration `koanf:"settle_interval"`
	ArchiveDir     string        `koanf:"archive_dir"`
}

// SQLSourceConfig configures a database query.
type SQLSourceConfig struct {
	Driver       string `koanf:"driver"`
	DSN          string `koanf:"dsn"`
	Query        string `koanf:"query"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// QuerySection bounds reads.
type QuerySection struct {
	DefaultLimit     int           `koanf:"default_limit"`
	MaxLimit         int           `koanf:"max_limit"`
	MaxRange         int           `koanf:"max_range"`
	FreshReads       bool          `koanf:"fresh_reads"`
	FreshMinInterval time.Duration `koanf:"fresh_min_interval"`
}

// TasksSection configures the task registry.
type TasksSection struct {
	Retention     time.Duration `koanf:"retention"`
	MaxTasks      int           `koanf:"max_tasks"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// StorageSection configures snapshot persistence.
type StorageSection struct {
	// Backend is file, badger or none.
	Backend        string `koanf:"backend"`
	DataDir        string `koanf:"data_dir"`
	RetentionCount int    `koanf:"retention_count"`

	// EncryptionKey is 64 hex characters or a passphrase. Empty stores
	// snapshots in plain text.
	EncryptionKey string `koanf:"encryption_key"`

	BadgerGCInterval time.Duration `koanf:"badger_gc_interval"`
}

// LogSection configures logging. Level is reloaded when the config file
// changes.
type LogSection struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	Output    string `koanf:"output"`
	AddSource bool   `koanf:"add_source"`
}
