// Package sqlsource reads the dataset with a single SELECT through
// database/sql. PostgreSQL is served by the pgx stdlib driver and SQLite by
// the pure-Go modernc driver.
package sqlsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"

	"github.com/yndnr/rowcache/internal/core/domain"
	"github.com/yndnr/rowcache/internal/source"
)

// DefaultMaxOpenConns bounds the pool; a fetch uses one connection.
const DefaultMaxOpenConns = 2

// Config describes the database query.
type Config struct {
	// Driver is "postgres" (alias "pgx") or "sqlite".
	Driver string

	DSN   string
	Query string

	MaxOpenConns int
}

// Source is a FetchSource backed by a SQL query.
type Source struct {
	cfg    Config
	driver string
	db     *sql.DB
	logger *slog.Logger
}

var _ source.FetchSource = (*Source)(nil)

// DriverName maps a configured driver to the registered database/sql name.
func DriverName(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return "pgx", nil
	case "sqlite", "sqlite3":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("sqlsource: unsupported driver %q", driver)
	}
}

// New opens the pool. No connection is made until the first fetch.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	driver, err := DriverName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, errors.New("sqlsource: dsn is required")
	}
	if strings.TrimSpace(cfg.Query) == "" {
		return nil, errors.New("sqlsource: query is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = DefaultMaxOpenConns
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlsource: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Source{
		cfg:    cfg,
		driver: driver,
		db:     db,
		logger: logger.With("component", "sqlsource", "driver", driver),
	}, nil
}

// Name identifies the driver. The DSN is left out because it may carry
// credentials.
func (s *Source) Name() string {
	return "sql:" + s.driver
}

// Fetch runs the query and returns every row. Column order follows the
// SELECT list.
func (s *Source) Fetch(ctx context.Context) (*source.Result, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, s.cfg.Query)
	if err != nil {
		return nil, fmt.Errorf("sqlsource: query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlsource: columns: %w", err)
	}
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if _, dup := seen[c]; dup {
			return nil, fmt.Errorf("sqlsource: duplicate column %q, alias it in the query", c)
		}
		seen[c] = struct{}{}
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	records := make([]domain.Record, 0, 1024)
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlsource: scan row %d: %w", len(records)+1, err)
		}
		rec := make(domain.Record, len(columns))
		for i, c := range columns {
			rec[c] = normalize(values[i])
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlsource: read rows: %w", err)
	}

	s.logger.Debug("query complete", "records", len(records), "elapsed", time.Since(start))
	return &source.Result{Records: records, Columns: columns}, nil
}

// Close releases the pool.
func (s *Source) Close() error {
	return s.db.Close()
}

// normalize turns driver values into JSON-friendly ones.
func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return v
	}
}
