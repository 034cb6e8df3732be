// Package kvstore persists snapshots in an embedded Badger database.
//
// Every save writes a new generation:
//
//	gen/<gen>/rec/<index>   one record per key, JSON (or encrypted by Badger)
//	gen/<gen>/meta          snapshot metadata
//	current                 the generation readers should load
//
// The current pointer is switched in the same transaction that writes the
// metadata, after all records are committed, so a crash mid-save leaves
// the previous generation in place. Superseded generations are removed with
// DropPrefix.
package kvstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/rowcache/internal/core/domain"
)

var (
	currentKey = []byte("current")
	genRoot    = []byte("gen/")
)

// recordJSON keeps numbers as json.Number across a round trip.
var recordJSON = jsoniter.Config{UseNumber: true}.Froze()

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kvstore: closed")

// Config tunes the Badger database.
type Config struct {
	Dir string

	// GCInterval is the period of value log garbage collection.
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64

	// CacheSize is the block cache size in bytes.
	CacheSize int64

	SyncWrites bool

	// EncryptionKey enables Badger's at-rest encryption. It must be 16, 24
	// or 32 bytes.
	EncryptionKey []byte

	// InMemory runs without touching disk. Dir is ignored.
	InMemory bool
}

// DefaultConfig returns the default configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
		CacheSize:      64 << 20,
		SyncWrites:     true,
	}
}

// Store is a snapshot persister backed by Badger.
type Store struct {
	db     *badger.DB
	cfg    Config
	logger *slog.Logger

	// mu serializes Save so generations are written one at a time.
	mu     sync.Mutex
	closed atomic.Bool

	lastGCTime atomic.Int64 // unix milliseconds
	gcRuns     prometheus.Counter

	stopCh chan struct{}
	doneCh chan struct{}
}

// Open opens or creates the database and starts the GC loop.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("kvstore: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 10 * time.Minute
	}
	if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
		cfg.GCDiscardRatio = 0.5
	}
	logger = logger.With("component", "kvstore")

	opts := badger.DefaultOptions(cfg.Dir).
		WithLogger(&badgerLogger{logger: logger}).
		WithSyncWrites(cfg.SyncWrites).
		WithInMemory(cfg.InMemory)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}
	if cfg.CacheSize > 0 {
		opts = opts.WithBlockCacheSize(cfg.CacheSize)
	}
	if len(cfg.EncryptionKey) > 0 {
		opts = opts.WithEncryptionKey(cfg.EncryptionKey).WithIndexCacheSize(32 << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open db: %w", err)
	}

	s := &Store{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.gcLoop()

	logger.Info("badger store opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"encrypted", len(cfg.EncryptionKey) > 0,
		"gc_interval", cfg.GCInterval)
	return s, nil
}

// Save writes snap as a new generation and makes it current.
func (s *Store) Save(ctx context.Context, snap *domain.Snapshot) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if snap == nil || !snap.HasData() {
		return fmt.Errorf("kvstore: only success snapshots can be saved")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.currentGen()
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	gen := prev + 1

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, rec := range snap.Records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		data, err := recordJSON.Marshal(rec)
		if err != nil {
			return fmt.Errorf("kvstore: marshal record %d: %w", i, err)
		}
		if err := wb.Set(recordKey(gen, i), data); err != nil {
			return fmt.Errorf("kvstore: write record %d: %w", i, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("kvstore: flush records: %w", err)
	}

	meta, err := recordJSON.Marshal(snap.Metadata())
	if err != nil {
		return fmt.Errorf("kvstore: marshal metadata: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(metaKey(gen), meta); err != nil {
			return err
		}
		return txn.Set(currentKey, encodeGen(gen))
	})
	if err != nil {
		// Records of the abandoned generation are dropped by the next save.
		return fmt.Errorf("kvstore: switch generation: %w", err)
	}

	if err := s.dropOldGenerations(gen); err != nil {
		s.logger.Warn("drop old generations failed", "error", err)
	}
	s.logger.Debug("snapshot saved", "generation", gen, "records", len(snap.Records))
	return nil
}

// Load returns the current generation as a snapshot, or
// domain.ErrSnapshotNotFound when nothing has been saved.
func (s *Store) Load(ctx context.Context) (*domain.Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var snap *domain.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		gen, md, err := readCurrent(txn)
		if err != nil {
			return err
		}

		records := make([]domain.Record, 0, md.Count)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix(gen)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if len(records)%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			var rec domain.Record
			err := it.Item().Value(func(val []byte) error {
				return recordJSON.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("kvstore: decode record %d: %w", len(records), err)
			}
			if rec == nil {
				rec = domain.Record{}
			}
			records = append(records, rec)
		}
		if len(records) != md.Count {
			return fmt.Errorf("kvstore: generation %d has %d records, metadata says %d", gen, len(records), md.Count)
		}

		snap = &domain.Snapshot{
			Status:      domain.StatusSuccess,
			Records:     records,
			Count:       len(records),
			FetchedAt:   md.FetchedAt,
			Version:     md.Version,
			Fingerprint: md.Fingerprint,
			SizeBytes:   md.SizeEstimate,
			Columns:     md.Columns,
			Source:      md.Source,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.ErrSnapshotNotFound.WithCause(err)
		}
		return nil, err
	}
	return snap, nil
}

// LoadMetadata reads the current generation's metadata only.
func (s *Store) LoadMetadata(ctx context.Context) (domain.Metadata, error) {
	if s.closed.Load() {
		return domain.Metadata{}, ErrClosed
	}

	var md domain.Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		_, md, err = readCurrent(txn)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.Metadata{}, domain.ErrSnapshotNotFound.WithCause(err)
		}
		return domain.Metadata{}, err
	}
	return md, nil
}

// Generations lists the generation numbers present in the database.
func (s *Store) Generations() ([]uint64, error) {
	var gens []uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = genRoot
		it := txn.NewIterator(opts)
		defer it.Close()

		seen := make(map[uint64]struct{})
		for it.Rewind(); it.Valid(); it.Next() {
			gen, ok := parseGen(it.Item().Key())
			if !ok {
				continue
			}
			if _, dup := seen[gen]; !dup {
				seen[gen] = struct{}{}
				gens = append(gens, gen)
			}
		}
		return nil
	})
	return gens, err
}

// GC runs value log garbage collection until Badger reports nothing left
// to rewrite, and returns the number of files rewritten.
func (s *Store) GC() (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	start := time.Now()
	runs := 0
	for {
		err := s.db.RunValueLogGC(s.cfg.GCDiscardRatio)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
				break
			}
			return runs, fmt.Errorf("kvstore: gc: %w", err)
		}
		runs++
	}

	s.lastGCTime.Store(time.Now().UnixMilli())
	if s.gcRuns != nil {
		s.gcRuns.Add(float64(runs))
	}
	s.logger.Debug("value log gc completed", "rewrites", runs, "elapsed", time.Since(start))
	return runs, nil
}

// Stats summarizes the database size.
type Stats struct {
	LSMSize      int64
	ValueLogSize int64
	LastGCTime   time.Time
}

// Stats returns the current sizes.
func (s *Store) Stats() Stats {
	lsm, vlog := s.db.Size()
	st := Stats{LSMSize: lsm, ValueLogSize: vlog}
	if ms := s.lastGCTime.Load(); ms > 0 {
		st.LastGCTime = time.UnixMilli(ms)
	}
	return st
}

// RegisterMetrics registers the engine gauges on reg.
func (s *Store) RegisterMetrics(reg prometheus.Registerer) error {
	s.gcRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rowcache",
		Subsystem: "badger",
		Name:      "gc_rewrites_total",
		Help:      "Value log files rewritten by garbage collection.",
	})

	collectors := []prometheus.Collector{
		s.gcRuns,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "rowcache",
			Subsystem: "badger",
			Name:      "lsm_size_bytes",
			Help:      "Badger LSM tree size in bytes.",
		}, func() float64 { return float64(s.Stats().LSMSize) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "rowcache",
			Subsystem: "badger",
			Name:      "value_log_size_bytes",
			Help:      "Badger value log size in bytes.",
		}, func() float64 { return float64(s.Stats().ValueLogSize) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "rowcache",
			Subsystem: "badger",
			Name:      "last_gc_timestamp_seconds",
			Help:      "Unix time of the last value log GC run.",
		}, func() float64 { return float64(s.lastGCTime.Load()) / 1000 }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("kvstore: register metrics: %w", err)
		}
	}
	return nil
}

// Close stops the GC loop and closes the database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("kvstore: close db: %w", err)
	}
	s.logger.Info("badger store closed")
	return nil
}

func (s *Store) gcLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.GC(); err != nil && !errors.Is(err, ErrClosed) {
				s.logger.Error("value log gc failed", "error", err)
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) currentGen() (uint64, error) {
	var gen uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(currentKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			gen, err = decodeGen(val)
			return err
		})
	})
	return gen, err
}

func (s *Store) dropOldGenerations(current uint64) error {
	gens, err := s.Generations()
	if err != nil {
		return err
	}
	for _, gen := range gens {
		if gen == current {
			continue
		}
		if err := s.db.DropPrefix(genPrefix(gen)); err != nil {
			return fmt.Errorf("drop generation %d: %w", gen, err)
		}
		s.logger.Debug("generation dropped", "generation", gen)
	}
	return nil
}

func readCurrent(txn *badger.Txn) (uint64, domain.Metadata, error) {
	var md domain.Metadata

	item, err := txn.Get(currentKey)
	if err != nil {
		return 0, md, err
	}
	var gen uint64
	err = item.Value(func(val []byte) error {
		gen, err = decodeGen(val)
		return err
	})
	if err != nil {
		return 0, md, err
	}

	item, err = txn.Get(metaKey(gen))
	if err != nil {
		return 0, md, fmt.Errorf("kvstore: metadata of generation %d: %w", gen, err)
	}
	err = item.Value(func(val []byte) error {
		return recordJSON.Unmarshal(val, &md)
	})
	if err != nil {
		return 0, md, fmt.Errorf("kvstore: decode metadata: %w", err)
	}
	return gen, md, nil
}

// Keys are zero-padded so lexicographic order matches numeric order.

func genPrefix(gen uint64) []byte {
	return []byte(fmt.Sprintf("gen/%020d/", gen))
}

func recordPrefix(gen uint64) []byte {
	return append(genPrefix(gen), "rec/"...)
}

func recordKey(gen uint64, i int) []byte {
	return []byte(fmt.Sprintf("gen/%020d/rec/%012d", gen, i))
}

func metaKey(gen uint64) []byte {
	return append(genPrefix(gen), "meta"...)
}

func parseGen(key []byte) (uint64, bool) {
	// gen/<20 digits>/...
	if len(key) < len(genRoot)+21 {
		return 0, false
	}
	gen, err := strconv.ParseUint(string(key[len(genRoot):len(genRoot)+20]), 10, 64)
	return gen, err == nil
}

func encodeGen(gen uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], gen)
	return b[:]
}

func decodeGen(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("kvstore: malformed current pointer (%d bytes)", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
