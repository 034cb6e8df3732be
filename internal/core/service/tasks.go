package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/yndnr/rowcache/internal/core/domain"
	"github.com/yndnr/rowcache/pkg/cmap"
)

// Task tracker defaults.
const (
	DefaultTaskRetention     = time.Hour
	DefaultMaxTasks          = 1024
	DefaultTaskSweepInterval = time.Minute
)

// TaskTrackerConfig bounds the task registry.
type TaskTrackerConfig struct {
	// Retention is how long a finished task stays queryable.
	Retention time.Duration

	// MaxTasks caps the registry size. The oldest finished tasks are
	// evicted first; a running task is never evicted.
	MaxTasks int

	// SweepInterval is how often Run evicts expired tasks.
	SweepInterval time.Duration
}

// DefaultTaskTrackerConfig returns the default bounds.
func DefaultTaskTrackerConfig() TaskTrackerConfig {
	return TaskTrackerConfig{
		Retention:     DefaultTaskRetention,
		MaxTasks:      DefaultMaxTasks,
		SweepInterval: DefaultTaskSweepInterval,
	}
}

// TaskTracker records refresh tasks so callers can poll for completion.
//
// Stored tasks are never modified in place: Update swaps in a finished
// copy, so Get can hand out clones without holding a lock.
type TaskTracker struct {
	cfg    TaskTrackerConfig
	tasks  *cmap.Map[*domain.RefreshTask]
	logger *slog.Logger
	now    func() time.Time
}

// NewTaskTracker creates a TaskTracker. Zero config fields take defaults.
func NewTaskTracker(cfg TaskTrackerConfig, logger *slog.Logger) *TaskTracker {
	def := DefaultTaskTrackerConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = def.MaxTasks
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TaskTracker{
		cfg:    cfg,
		tasks:  cmap.New[*domain.RefreshTask](),
		logger: logger,
		now:    time.Now,
	}
}

// Create registers a new running task and returns a copy of it.
func (t *TaskTracker) Create(trigger domain.Trigger) *domain.RefreshTask {
	if t.tasks.Len() >= t.cfg.MaxTasks {
		t.evictOldest(t.tasks.Len() - t.cfg.MaxTasks + 1)
	}

	task := domain.NewRefreshTask(trigger, t.now())
	t.tasks.Set(task.ID, task)
	return task.Clone()
}

// Update moves a running task to a terminal state. detail is recorded as
// the error message of a failed task.
func (t *TaskTracker) Update(id string, state domain.TaskState, detail string, records int) error {
	var updateErr error

	t.tasks.Compute(id, func(old *domain.RefreshTask, exists bool) (*domain.RefreshTask, bool) {
		if !exists {
			updateErr = domain.ErrTaskNotFound.WithDetails(id)
			return nil, false
		}
		next := old.Clone()
		if err := next.Finish(state, detail, records, t.now()); err != nil {
			updateErr = err
			return nil, false
		}
		return next, true
	})

	return updateErr
}

// Get returns a copy of the task. Unknown and evicted ids both yield
// ErrTaskNotFound.
func (t *TaskTracker) Get(id string) (*domain.RefreshTask, error) {
	task, ok := t.tasks.Get(id)
	if !ok {
		return nil, domain.ErrTaskNotFound.WithDetails(id)
	}
	return task.Clone(), nil
}

// Len returns the number of tracked tasks.
func (t *TaskTracker) Len() int {
	return t.tasks.Len()
}

// Sweep evicts finished tasks older than the retention window and returns
// how many were removed.
func (t *TaskTracker) Sweep() int {
	cutoff := t.now().Add(-t.cfg.Retention)
	return t.tasks.DeleteFunc(func(_ string, task *domain.RefreshTask) bool {
		return task.CompletedAt != nil && task.CompletedAt.Before(cutoff)
	})
}

// Run sweeps expired tasks until ctx is cancelled.
func (t *TaskTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				t.logger.Debug("expired refresh tasks evicted", "count", n, "remaining", t.tasks.Len())
			}
		}
	}
}

// evictOldest removes up to n finished tasks, oldest completion first.
func (t *TaskTracker) evictOldest(n int) {
	type candidate struct {
		id string
		at time.Time
	}

	var finished []candidate
	t.tasks.Range(func(id string, task *domain.RefreshTask) bool {
		if task.CompletedAt != nil {
			finished = append(finished, candidate{id: id, at: *task.CompletedAt})
		}
		return true
	})

	sort.Slice(finished, func(i, j int) bool { return finished[i].at.Before(finished[j].at) })
	if n > len(finished) {
		n = len(finished)
	}
	for _, c := range finished[:n] {
		t.tasks.Delete(c.id)
	}
}
