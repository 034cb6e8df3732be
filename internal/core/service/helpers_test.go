package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/rowcache/internal/core/domain"
	"github.com/yndnr/rowcache/internal/source"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeRecords(n int) []domain.Record {
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = domain.Record{"id": i, "name": fmt.Sprintf("row-%d", i)}
	}
	return out
}

// publishRecords puts a success snapshot of n records into store.
func publishRecords(t *testing.T, store *RecordStore, n int) *domain.Snapshot {
	t.Helper()
	snap, err := domain.NewSnapshot(makeRecords(n), []string{"id", "name"}, time.Now(), "test")
	if err != nil {
		t.Fatalf("NewSnapshot() error = %v", err)
	}
	snap = snap.WithVersion(store.NextVersion())
	if err := store.Publish(snap); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	return snap
}

// fakeSource is a controllable FetchSource.
type fakeSource struct {
	mu      sync.Mutex
	calls   int
	records []domain.Record
	err     error
	panicV  any

	// block, when set, holds Fetch until it is closed or ctx ends.
	block chan struct{}

	// started receives one value per Fetch call, if set.
	started chan struct{}
}

var _ source.FetchSource = (*fakeSource)(nil)

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context) (*source.Result, error) {
	f.mu.Lock()
	f.calls++
	records, err, block, started, p := f.records, f.err, f.block, f.started, f.panicV
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if p != nil {
		panic(p)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &source.Result{Records: records, Columns: []string{"id", "name"}}, nil
}

func (f *fakeSource) set(records []domain.Record, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records, f.err = records, err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePersister records saves in memory.
type fakePersister struct {
	mu      sync.Mutex
	saved   []*domain.Snapshot
	saveErr error
	loaded  *domain.Snapshot
	loadErr error
}

func (p *fakePersister) Save(_ context.Context, snap *domain.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.saved = append(p.saved, snap)
	return nil
}

func (p *fakePersister) Load(context.Context) (*domain.Snapshot, error) {
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	if p.loaded == nil {
		return nil, domain.ErrSnapshotNotFound
	}
	return p.loaded, nil
}

func (p *fakePersister) savedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saved)
}

// countingObserver counts lifecycle events.
type countingObserver struct {
	mu             sync.Mutex
	started        int
	finished       int
	skipped        int
	published      int
	persistFailed  int
	lastPublishedN int
}

func (o *countingObserver) RefreshStarted(domain.Trigger) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *countingObserver) RefreshFinished(domain.RefreshOutcome) {
	o.mu.Lock()
	o.finished++
	o.mu.Unlock()
}

func (o *countingObserver) RefreshSkipped(domain.Trigger) {
	o.mu.Lock()
	o.skipped++
	o.mu.Unlock()
}

func (o *countingObserver) SnapshotPublished(meta domain.Metadata) {
	o.mu.Lock()
	o.published++
	o.lastPublishedN = meta.Count
	o.mu.Unlock()
}

func (o *countingObserver) PersistFailed() {
	o.mu.Lock()
	o.persistFailed++
	o.mu.Unlock()
}

func (o *countingObserver) snapshot() countingObserver {
	o.mu.Lock()
	defer o.mu.Unlock()
	return countingObserver{
		started:        o.started,
		finished:       o.finished,
		skipped:        o.skipped,
		published:      o.published,
		persistFailed:  o.persistFailed,
		lastPublishedN: o.lastPublishedN,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
