package service

import (
	"sync"
	"sync/atomic"

	"github.com/yndnr/rowcache/internal/core/domain"
)

// DefaultHistorySize is the number of prior publishes RecordStore remembers.
const DefaultHistorySize = 5

// SnapshotReader is the read side of RecordStore.
type SnapshotReader interface {
	// Current returns the latest published snapshot. It never blocks.
	Current() *domain.Snapshot

	// Metadata returns the latest snapshot's summary in O(1).
	Metadata() domain.Metadata
}

// RecordStore holds the current dataset snapshot.
//
// Readers load a single pointer and never block. Publish swaps the pointer
// in one step, so a reader sees either the previous snapshot or the new
// one in full.
type RecordStore struct {
	current atomic.Pointer[domain.Snapshot]
	meta    atomic.Pointer[domain.Metadata]

	// mu serializes publishers. Readers never take it.
	mu          sync.Mutex
	history     []domain.Metadata
	historySize int
}

// NewRecordStore returns a store holding a pending snapshot. historySize
// bounds the publish history; zero or less selects DefaultHistorySize.
func NewRecordStore(historySize int) *RecordStore {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}

	s := &RecordStore{historySize: historySize}
	pending := domain.PendingSnapshot()
	meta := pending.Metadata()
	s.current.Store(pending)
	s.meta.Store(&meta)
	return s
}

// Current returns the latest published snapshot.
func (s *RecordStore) Current() *domain.Snapshot {
	return s.current.Load()
}

// Metadata returns the summary of the latest published snapshot.
func (s *RecordStore) Metadata() domain.Metadata {
	return *s.meta.Load()
}

// Publish makes snap the current snapshot.
//
// snap must be valid and carry a Version greater than the current one;
// otherwise the store is left unchanged and an error is returned.
func (s *RecordStore) Publish(snap *domain.Snapshot) error {
	if snap == nil {
		return domain.ErrInvalidSnapshot.WithDetails("nil snapshot")
	}
	if err := snap.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if snap.Version <= cur.Version {
		return domain.ErrStaleSnapshot
	}

	meta := snap.Metadata()
	s.current.Store(snap)
	s.meta.Store(&meta)

	s.history = append(s.history, meta)
	if len(s.history) > s.historySize {
		s.history = s.history[len(s.history)-s.historySize:]
	}
	return nil
}

// NextVersion returns the version the next publish must carry.
func (s *RecordStore) NextVersion() uint64 {
	return s.current.Load().Version + 1
}

// History returns the metadata of recent publishes, oldest first.
func (s *RecordStore) History() []domain.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Metadata, len(s.history))
	copy(out, s.history)
	return out
}
