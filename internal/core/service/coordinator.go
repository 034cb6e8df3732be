package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/rowcache/internal/core/domain"
	"github.com/yndnr/rowcache/internal/core/transform"
	"github.com/yndnr/rowcache/internal/source"
)

// Coordinator defaults.
const (
	DefaultRefreshInterval = time.Hour
	DefaultFetchTimeout    = 5 * time.Minute
	DefaultPersistTimeout  = time.Minute
)

// CoordinatorConfig configures refresh scheduling and limits.
type CoordinatorConfig struct {
	// Interval between scheduled refreshes. Zero or less disables the
	// schedule; on-demand refreshes still work.
	Interval time.Duration

	// FetchTimeout bounds a single call to the source.
	FetchTimeout time.Duration

	// PersistTimeout bounds writing a published snapshot to storage.
	PersistTimeout time.Duration

	// RunOnStart admits one refresh as soon as Run starts.
	RunOnStart bool

	// AllowEmpty publishes a source result with no records instead of
	// treating it as a failure.
	AllowEmpty bool
}

// DefaultCoordinatorConfig returns the default refresh settings.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Interval:       DefaultRefreshInterval,
		FetchTimeout:   DefaultFetchTimeout,
		PersistTimeout: DefaultPersistTimeout,
		RunOnStart:     true,
	}
}

// SnapshotPersister stores published snapshots for restart recovery.
type SnapshotPersister interface {
	// Save durably writes snap.
	Save(ctx context.Context, snap *domain.Snapshot) error

	// Load returns the most recent persisted snapshot, or
	// domain.ErrSnapshotNotFound when there is none.
	Load(ctx context.Context) (*domain.Snapshot, error)
}

// RefreshObserver receives refresh lifecycle events, typically to export
// metrics.
type RefreshObserver interface {
	RefreshStarted(trigger domain.Trigger)
	RefreshFinished(outcome domain.RefreshOutcome)
	RefreshSkipped(trigger domain.Trigger)
	SnapshotPublished(meta domain.Metadata)
	PersistFailed()
}

type nopObserver struct{}

func (nopObserver) RefreshStarted(domain.Trigger)         {}
func (nopObserver) RefreshFinished(domain.RefreshOutcome) {}
func (nopObserver) RefreshSkipped(domain.Trigger)         {}
func (nopObserver) SnapshotPublished(domain.Metadata)     {}
func (nopObserver) PersistFailed()                        {}

// CoordinatorOption configures optional collaborators.
type CoordinatorOption func(*RefreshCoordinator)

// WithPipeline applies p to every fetched record set before publishing.
func WithPipeline(p *transform.Pipeline) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.pipeline = p }
}

// WithPersister saves every published snapshot through p.
func WithPersister(p SnapshotPersister) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.persister = p }
}

// WithObserver reports lifecycle events to o.
func WithObserver(o RefreshObserver) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.observer = o }
}

// WithLogger sets the coordinator's logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.logger = l }
}

// CoordinatorStatus is a point-in-time view of the refresh path.
type CoordinatorStatus struct {
	Running             bool
	CurrentTaskID       string
	Source              string
	Interval            time.Duration
	NextRunAt           time.Time
	LastOutcome         *domain.RefreshOutcome
	LastSuccessAt       time.Time
	ConsecutiveFailures int64
	TotalRuns           uint64
	FailedRuns          uint64
	SkippedRuns         uint64
}

// RefreshCoordinator owns the single-writer discipline over RecordStore.
//
// At most one refresh runs at a time. Scheduled ticks, manual requests
// and fresh reads all pass through the same admission gate; a caller that
// is not admitted is told so immediately and never queued.
type RefreshCoordinator struct {
	cfg       CoordinatorConfig
	src       source.FetchSource
	store     *RecordStore
	tasks     *TaskTracker
	pipeline  *transform.Pipeline
	persister SnapshotPersister
	observer  RefreshObserver
	logger    *slog.Logger
	now       func() time.Time

	running     atomic.Bool
	currentTask atomic.Pointer[string]

	// Operational telemetry, read by Status.
	lastOutcome         atomic.Pointer[domain.RefreshOutcome]
	lastSuccess         atomic.Pointer[time.Time]
	nextRun             atomic.Pointer[time.Time]
	consecutiveFailures atomic.Int64
	totalRuns           atomic.Uint64
	failedRuns          atomic.Uint64
	skippedRuns         atomic.Uint64

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRefreshCoordinator wires a coordinator. Zero timeouts take defaults.
func NewRefreshCoordinator(cfg CoordinatorConfig, src source.FetchSource, store *RecordStore, tasks *TaskTracker, opts ...CoordinatorOption) *RefreshCoordinator {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &RefreshCoordinator{
		cfg:      cfg,
		src:      src,
		store:    store,
		tasks:    tasks,
		observer: nopObserver{},
		logger:   slog.Default(),
		now:      time.Now,
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "refresh", "source", src.Name())
	return c
}

// TryStartRefresh admits an asynchronous refresh if none is running.
//
// When admitted it returns true and the new task id. Otherwise it returns
// false and the id of the refresh already in flight, if any.
func (c *RefreshCoordinator) TryStartRefresh(trigger domain.Trigger) (bool, string) {
	if c.baseCtx.Err() != nil {
		return false, ""
	}
	task, ok := c.admit(trigger)
	if !ok {
		return false, c.CurrentTaskID()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.execute(c.baseCtx, task)
	}()
	return true, task.ID
}

// RefreshNow admits a refresh and runs it on the calling goroutine. If
// another refresh holds the gate it returns immediately with false and an
// outcome naming the running task.
func (c *RefreshCoordinator) RefreshNow(ctx context.Context, trigger domain.Trigger) (domain.RefreshOutcome, bool) {
	if c.baseCtx.Err() != nil {
		return domain.RefreshOutcome{Trigger: trigger}, false
	}
	task, ok := c.admit(trigger)
	if !ok {
		return domain.RefreshOutcome{TaskID: c.CurrentTaskID(), Trigger: trigger}, false
	}

	c.wg.Add(1)
	defer c.wg.Done()

	// Close must be able to cancel a caller-driven refresh too.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.baseCtx, cancel)
	defer stop()

	return c.execute(ctx, task), true
}

// Run drives scheduled refreshes until ctx is cancelled. A tick that finds
// a refresh already running is skipped, not deferred.
func (c *RefreshCoordinator) Run(ctx context.Context) {
	if c.cfg.RunOnStart {
		if started, id := c.TryStartRefresh(domain.TriggerStartup); started {
			c.logger.Info("startup refresh admitted", "task_id", id)
		}
	}

	if c.cfg.Interval <= 0 {
		c.logger.Info("scheduled refresh disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	c.scheduleNext()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.scheduleNext()
			if started, id := c.TryStartRefresh(domain.TriggerSchedule); !started {
				c.logger.Info("scheduled refresh skipped, refresh already running", "running_task_id", id)
			}
		}
	}
}

// Recover publishes the most recent persisted snapshot, if any, so reads
// can be served before the first fetch completes.
func (c *RefreshCoordinator) Recover(ctx context.Context) error {
	if c.persister == nil {
		return nil
	}

	start := c.now()
	snap, err := c.persister.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSnapshotNotFound) {
			c.logger.Info("no persisted snapshot, starting pending")
			return nil
		}
		return fmt.Errorf("load persisted snapshot: %w", err)
	}

	snap = snap.WithVersion(c.store.NextVersion())
	if err := c.store.Publish(snap); err != nil {
		return fmt.Errorf("publish persisted snapshot: %w", err)
	}
	c.observer.SnapshotPublished(snap.Metadata())

	c.logger.Info("persisted snapshot restored",
		"records", snap.Count,
		"fetched_at", snap.FetchedAt,
		"origin", snap.Source,
		"elapsed", c.now().Sub(start))
	return nil
}

// Status returns the coordinator's current view.
func (c *RefreshCoordinator) Status() CoordinatorStatus {
	st := CoordinatorStatus{
		Running:             c.running.Load(),
		CurrentTaskID:       c.CurrentTaskID(),
		Source:              c.src.Name(),
		Interval:            c.cfg.Interval,
		LastOutcome:         c.lastOutcome.Load(),
		ConsecutiveFailures: c.consecutiveFailures.Load(),
		TotalRuns:           c.totalRuns.Load(),
		FailedRuns:          c.failedRuns.Load(),
		SkippedRuns:         c.skippedRuns.Load(),
	}
	if t := c.lastSuccess.Load(); t != nil {
		st.LastSuccessAt = *t
	}
	if t := c.nextRun.Load(); t != nil {
		st.NextRunAt = *t
	}
	return st
}

// IsRunning reports whether a refresh holds the admission gate.
func (c *RefreshCoordinator) IsRunning() bool {
	return c.running.Load()
}

// CurrentTaskID returns the id of the refresh in flight, or "".
func (c *RefreshCoordinator) CurrentTaskID() string {
	if id := c.currentTask.Load(); id != nil {
		return *id
	}
	return ""
}

// Wait blocks until any in-flight refresh has returned.
func (c *RefreshCoordinator) Wait() {
	c.wg.Wait()
}

// Close cancels an in-flight fetch, refuses new asynchronous refreshes and
// waits for the refresh goroutine to exit.
func (c *RefreshCoordinator) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

// admit takes the gate and registers a task for the caller.
func (c *RefreshCoordinator) admit(trigger domain.Trigger) (*domain.RefreshTask, bool) {
	if !c.running.CompareAndSwap(false, true) {
		c.skippedRuns.Add(1)
		c.observer.RefreshSkipped(trigger)
		return nil, false
	}

	task := c.tasks.Create(trigger)
	c.currentTask.Store(&task.ID)
	return task, true
}

// execute runs one admitted refresh and always releases the gate, even if
// the source panics.
func (c *RefreshCoordinator) execute(ctx context.Context, task *domain.RefreshTask) (out domain.RefreshOutcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during refresh", "task_id", task.ID, "panic", r)
			out = domain.RefreshOutcome{
				TaskID:     task.ID,
				Trigger:    task.Trigger,
				StartedAt:  task.StartedAt,
				FinishedAt: c.now(),
				Err:        domain.ErrInternalServer.WithDetails(fmt.Sprint(r)),
			}
			c.record(task, out)
		}
		c.currentTask.Store(nil)
		c.running.Store(false)
	}()

	out = c.refresh(ctx, task)
	c.record(task, out)
	return out
}

// refresh fetches, builds, publishes and persists one snapshot.
func (c *RefreshCoordinator) refresh(ctx context.Context, task *domain.RefreshTask) domain.RefreshOutcome {
	out := domain.RefreshOutcome{
		TaskID:    task.ID,
		Trigger:   task.Trigger,
		StartedAt: c.now(),
	}
	c.observer.RefreshStarted(task.Trigger)
	c.logger.Info("refresh started", "task_id", task.ID, "trigger", task.Trigger)

	// 1. Fetch and build off the read path
	snap, err := c.build(ctx)
	if err != nil {
		out.FinishedAt = c.now()
		out.Err = err
		return out
	}

	// 2. Swap it in for readers
	if err := c.store.Publish(snap); err != nil {
		out.FinishedAt = c.now()
		out.Err = err
		return out
	}
	c.observer.SnapshotPublished(snap.Metadata())

	// 3. Persist while still holding the gate so saves never overlap
	c.persist(snap)

	out.FinishedAt = c.now()
	out.Published = true
	out.Version = snap.Version
	out.RecordCount = snap.Count
	return out
}

func (c *RefreshCoordinator) build(ctx context.Context) (*domain.Snapshot, error) {
	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	res, err := c.src.Fetch(fctx)
	if err != nil {
		return nil, c.classifyFetchError(fctx, err)
	}
	if res == nil {
		res = &source.Result{}
	}
	if len(res.Records) == 0 && !c.cfg.AllowEmpty {
		return nil, domain.ErrFetchEmpty.WithDetails(c.src.Name())
	}

	records, err := c.pipeline.Apply(res.Records)
	if err != nil {
		return nil, err
	}

	columns := res.Columns
	if len(columns) == 0 || c.pipeline.Len() > 0 {
		columns = domain.ColumnUnion(records)
	}

	snap, err := domain.NewSnapshot(records, columns, c.now(), c.src.Name())
	if err != nil {
		return nil, err
	}
	return snap.WithVersion(c.store.NextVersion()), nil
}

func (c *RefreshCoordinator) classifyFetchError(fctx context.Context, err error) error {
	if errors.Is(fctx.Err(), context.DeadlineExceeded) {
		return domain.ErrFetchTimeout.WithDetails(c.cfg.FetchTimeout.String()).WithCause(err)
	}
	if domain.IsDomainError(err, "") {
		return err
	}
	return domain.ErrFetchFailed.WithDetails(err.Error()).WithCause(err)
}

func (c *RefreshCoordinator) persist(snap *domain.Snapshot) {
	if c.persister == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PersistTimeout)
	defer cancel()

	if err := c.persister.Save(ctx, snap); err != nil {
		c.observer.PersistFailed()
		c.logger.Warn("persist snapshot failed, serving from memory only",
			"version", snap.Version,
			"error", err)
	}
}

// record publishes the outcome to the task, telemetry and logs.
func (c *RefreshCoordinator) record(task *domain.RefreshTask, out domain.RefreshOutcome) {
	c.totalRuns.Add(1)

	state, detail := domain.TaskCompleted, ""
	if out.Err != nil {
		state, detail = domain.TaskFailed, out.Err.Error()
		c.failedRuns.Add(1)
		failures := c.consecutiveFailures.Add(1)
		c.logger.Error("refresh failed, keeping last good snapshot",
			"task_id", task.ID,
			"trigger", task.Trigger,
			"duration", out.Duration(),
			"consecutive_failures", failures,
			"serving_version", c.store.Current().Version,
			"error", out.Err)
	} else {
		c.consecutiveFailures.Store(0)
		at := out.FinishedAt
		c.lastSuccess.Store(&at)
		c.logger.Info("refresh completed",
			"task_id", task.ID,
			"trigger", task.Trigger,
			"records", out.RecordCount,
			"version", out.Version,
			"duration", out.Duration())
	}

	last := out
	c.lastOutcome.Store(&last)

	if err := c.tasks.Update(task.ID, state, detail, out.RecordCount); err != nil {
		c.logger.Warn("update refresh task failed", "task_id", task.ID, "error", err)
	}
	c.observer.RefreshFinished(out)
}

func (c *RefreshCoordinator) scheduleNext() {
	next := c.now().Add(c.cfg.Interval)
	c.nextRun.Store(&next)
}
