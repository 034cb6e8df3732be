package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/rowcache/internal/core/domain"
	"github.com/yndnr/rowcache/internal/storage/kvstore"
	"github.com/yndnr/rowcache/internal/storage/snapshot"
	"github.com/yndnr/rowcache/pkg/crypto/seal"
)

// Backend names.
const (
	BackendNone   = "none"
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Subdirectories of the data directory.
const (
	SnapshotDir = "snapshots"
	BadgerDir   = "badger"
)

// Persister stores published snapshots for restart recovery.
type Persister interface {
	// Save durably writes snap.
	Save(ctx context.Context, snap *domain.Snapshot) error

	// Load returns the newest persisted snapshot, or
	// domain.ErrSnapshotNotFound.
	Load(ctx context.Context) (*domain.Snapshot, error)

	// LoadMetadata returns the newest snapshot's metadata without its
	// records, or domain.ErrSnapshotNotFound.
	LoadMetadata(ctx context.Context) (domain.Metadata, error)

	Close() error
}

var (
	_ Persister = (*snapshot.Manager)(nil)
	_ Persister = (*kvstore.Store)(nil)
	_ Persister = None{}
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	DataDir string

	// RetentionCount is the number of snapshot files the file backend
	// keeps.
	RetentionCount int

	// EncryptionKey enables encryption at rest. See MasterKey.
	EncryptionKey string

	// BadgerGCInterval overrides the value log GC period.
	BadgerGCInterval time.Duration

	Logger *slog.Logger

	// Registerer receives backend metrics. Nil skips registration.
	Registerer prometheus.Registerer
}

// DefaultConfig returns a file backend rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		Backend:        BackendFile,
		DataDir:        dataDir,
		RetentionCount: snapshot.DefaultRetentionCount,
		Logger:         slog.Default(),
	}
}

// Open builds the configured backend.
func Open(cfg Config) (Persister, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendFile
	}
	if cfg.Backend != BackendNone && cfg.DataDir == "" {
		return nil, fmt.Errorf("storage: data_dir is required for the %s backend", cfg.Backend)
	}

	var master []byte
	if cfg.EncryptionKey != "" && cfg.Backend != BackendNone {
		var err error
		master, err = MasterKey([]byte(cfg.EncryptionKey), cfg.DataDir)
		if err != nil {
			return nil, err
		}
		defer ZeroKey(master)
	}

	switch cfg.Backend {
	case BackendNone:
		cfg.Logger.Info("snapshot persistence disabled")
		return None{}, nil

	case BackendFile:
		scfg := snapshot.Config{
			Dir:            filepath.Join(cfg.DataDir, SnapshotDir),
			RetentionCount: cfg.RetentionCount,
		}
		if master != nil {
			key, err := DeriveSubkey(master, SubkeySnapshot, seal.KeySize)
			if err != nil {
				return nil, err
			}
			scfg.Sealer, err = seal.New(key)
			ZeroKey(key)
			if err != nil {
				return nil, fmt.Errorf("storage: %w", err)
			}
		}
		m, err := snapshot.NewManager(scfg, cfg.Logger)
		if err != nil {
			return nil, err
		}
		cfg.Logger.Info("snapshot persistence enabled",
			"backend", BackendFile,
			"dir", scfg.Dir,
			"encrypted", scfg.Sealer != nil,
			"retention", scfg.RetentionCount)
		return m, nil

	case BackendBadger:
		kcfg := kvstore.DefaultConfig(filepath.Join(cfg.DataDir, BadgerDir))
		if cfg.BadgerGCInterval > 0 {
			kcfg.GCInterval = cfg.BadgerGCInterval
		}
		if master != nil {
			key, err := DeriveSubkey(master, SubkeyBadger, 32)
			if err != nil {
				return nil, err
			}
			kcfg.EncryptionKey = key
		}
		s, err := kvstore.Open(kcfg, cfg.Logger)
		if err != nil {
			return nil, err
		}
		if cfg.Registerer != nil {
			if err := s.RegisterMetrics(cfg.Registerer); err != nil {
				s.Close()
				return nil, err
			}
		}
		return s, nil

	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

// None is the disabled backend. Save discards snapshots and Load always
// reports that nothing is persisted.
type None struct{}

func (None) Save(context.Context, *domain.Snapshot) error { return nil }

func (None) Load(context.Context) (*domain.Snapshot, error) {
	return nil, domain.ErrSnapshotNotFound
}

func (None) LoadMetadata(context.Context) (domain.Metadata, error) {
	return domain.Metadata{}, domain.ErrSnapshotNotFound
}

func (None) Close() error { return nil }
