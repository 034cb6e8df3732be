package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/rowcache/internal/core/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleSnapshot(t *testing.T) *domain.Snapshot {
	t.Helper()
	snap, err := domain.NewSnapshot([]domain.Record{
		{"sku": "A-1", "qty": "3"},
		{"sku": "B-2", "qty": "0"},
	}, []string{"sku", "qty"}, time.Now().UTC().Truncate(time.Second), "dropdir:/srv/exports")
	if err != nil {
		t.Fatal(err)
	}
	return snap.WithVersion(1)
}

func TestOpen_Backends(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		key     string
		subdir  string
	}{
		{"file", BackendFile, "", SnapshotDir},
		{"file encrypted", BackendFile, "a long passphrase", SnapshotDir},
		{"badger", BackendBadger, "", BadgerDir},
		{"badger encrypted", BackendBadger, "a long passphrase", BadgerDir},
		{"default is file", "", "", SnapshotDir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := Config{
				Backend:       tt.backend,
				DataDir:       dir,
				EncryptionKey: tt.key,
				Logger:        quietLogger(),
				Registerer:    prometheus.NewRegistry(),
			}
			p, err := Open(cfg)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer p.Close()

			ctx := context.Background()
			want := sampleSnapshot(t)
			if err := p.Save(ctx, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := p.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.Count != 2 || got.Records[0]["sku"] != "A-1" || got.Fingerprint != want.Fingerprint {
				t.Errorf("loaded %+v", got.Metadata())
			}
			md, err := p.LoadMetadata(ctx)
			if err != nil || md.Count != 2 {
				t.Errorf("LoadMetadata = %+v, %v", md, err)
			}

			if _, err := os.Stat(filepath.Join(dir, tt.subdir)); err != nil {
				t.Errorf("backend dir missing: %v", err)
			}
			_, saltErr := os.Stat(filepath.Join(dir, SaltFile))
			if (tt.key != "") != (saltErr == nil) {
				t.Errorf("salt file present = %v, want %v", saltErr == nil, tt.key != "")
			}
		})
	}
}

func TestOpen_EncryptedReopenWithWrongKey(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p, err := Open(Config{Backend: BackendFile, DataDir: dir, EncryptionKey: "first passphrase", Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Save(ctx, sampleSnapshot(t)); err != nil {
		t.Fatal(err)
	}
	p.Close()

	p, err = Open(Config{Backend: BackendFile, DataDir: dir, EncryptionKey: "second passphrase", Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if _, err := p.Load(ctx); err == nil || errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Errorf("Load with the wrong key = %v, want a key error", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown backend", Config{Backend: "s3", DataDir: "x"}},
		{"file without dir", Config{Backend: BackendFile}},
		{"weak passphrase", Config{Backend: BackendFile, DataDir: "", EncryptionKey: "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cfg.DataDir == "x" {
				tt.cfg.DataDir = t.TempDir()
			}
			tt.cfg.Logger = quietLogger()
			if _, err := Open(tt.cfg); err == nil {
				t.Error("Open() should fail")
			}
		})
	}
}

func TestNone(t *testing.T) {
	p, err := Open(Config{Backend: BackendNone, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := p.Save(ctx, sampleSnapshot(t)); err != nil {
		t.Errorf("Save = %v", err)
	}
	if _, err := p.Load(ctx); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Errorf("Load = %v, want ErrSnapshotNotFound", err)
	}
	if _, err := p.LoadMetadata(ctx); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Errorf("LoadMetadata = %v, want ErrSnapshotNotFound", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}
