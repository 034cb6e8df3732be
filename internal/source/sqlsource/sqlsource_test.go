package sqlsource

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedDB creates a SQLite database with a small orders table.
func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, sku TEXT, qty INTEGER, price REAL, note TEXT, raw BLOB)`,
		`INSERT INTO orders VALUES (1, 'A1', 3, 9.5, NULL, X'6869')`,
		`INSERT INTO orders VALUES (2, 'B2', 1, 20.0, 'gift', NULL)`,
		`INSERT INTO orders VALUES (3, 'C3', 7, 1.25, '', NULL)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("Exec(%q) error = %v", s, err)
		}
	}
	return path
}

func TestDriverName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"postgres", "pgx", false},
		{"PGX", "pgx", false},
		{"sqlite3", "sqlite", false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := DriverName(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("DriverName(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad driver", Config{Driver: "oracle", DSN: "x", Query: "SELECT 1"}},
		{"no dsn", Config{Driver: "sqlite", Query: "SELECT 1"}},
		{"no query", Config{Driver: "sqlite", DSN: "x.db", Query: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, nil); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestFetch_SQLite(t *testing.T) {
	path := seedDB(t)
	s, err := New(Config{
		Driver: "sqlite",
		DSN:    path,
		Query:  "SELECT id, sku, qty, price, note, raw FROM orders ORDER BY id",
	}, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if s.Name() != "sql:sqlite" {
		t.Errorf("Name() = %q", s.Name())
	}

	res, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if got := strings.Join(res.Columns, ","); got != "id,sku,qty,price,note,raw" {
		t.Errorf("Columns = %s", got)
	}
	if len(res.Records) != 3 {
		t.Fatalf("len(Records) = %d, want 3", len(res.Records))
	}

	first := res.Records[0]
	if first["id"] != int64(1) || first["sku"] != "A1" || first["price"] != 9.5 {
		t.Errorf("first record = %v", first)
	}
	if v, ok := first["note"]; !ok || v != nil {
		t.Errorf("NULL should be present as nil, got %#v", v)
	}
	if first["raw"] != "hi" {
		t.Errorf("blob = %#v, want string %q", first["raw"], "hi")
	}
	if res.Records[2]["note"] != "" {
		t.Errorf("empty string = %#v", res.Records[2]["note"])
	}
}

func TestFetch_DuplicateColumns(t *testing.T) {
	s, err := New(Config{Driver: "sqlite", DSN: seedDB(t), Query: "SELECT id, id FROM orders"}, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if _, err := s.Fetch(context.Background()); err == nil {
		t.Error("Fetch() should reject duplicate column names")
	}
}

func TestFetch_QueryError(t *testing.T) {
	s, err := New(Config{Driver: "sqlite", DSN: seedDB(t), Query: "SELECT * FROM missing_table"}, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if _, err := s.Fetch(context.Background()); err == nil {
		t.Error("Fetch() should fail for an unknown table")
	}
}

func TestFetch_CancelledContext(t *testing.T) {
	s, err := New(Config{Driver: "sqlite", DSN: seedDB(t), Query: "SELECT * FROM orders"}, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Fetch(ctx); err == nil {
		t.Error("Fetch() should fail with a cancelled context")
	}
}

func TestNormalize(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"bytes", []byte("abc"), "abc"},
		{"time", ts, "2025-03-04T05:06:07Z"},
		{"int", int64(5), int64(5)},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		if got := normalize(tt.in); got != tt.want {
			t.Errorf("%s: normalize() = %#v, want %#v", tt.name, got, tt.want)
		}
	}
}
