package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/rowcache/internal/core/domain"
)

func newTestTracker(cfg TaskTrackerConfig) (*TaskTracker, *time.Time) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTaskTracker(cfg, discardLogger())
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestTaskTracker_Lifecycle(t *testing.T) {
	tr, _ := newTestTracker(TaskTrackerConfig{})

	task := tr.Create(domain.TriggerManual)
	got, err := tr.Get(task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != domain.TaskRunning {
		t.Errorf("State = %s, want running", got.State)
	}

	if err := tr.Update(task.ID, domain.TaskCompleted, "", 42); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ = tr.Get(task.ID)
	if got.State != domain.TaskCompleted || got.RecordCount != 42 || got.CompletedAt == nil {
		t.Errorf("task after Update = %+v", got)
	}

	err = tr.Update(task.ID, domain.TaskFailed, "late", 0)
	if !errors.Is(err, domain.ErrTaskFinalized) {
		t.Errorf("second Update() error = %v, want ErrTaskFinalized", err)
	}
	got, _ = tr.Get(task.ID)
	if got.State != domain.TaskCompleted {
		t.Errorf("State changed after finalization: %s", got.State)
	}
}

func TestTaskTracker_NotFound(t *testing.T) {
	tr, _ := newTestTracker(TaskTrackerConfig{})

	if _, err := tr.Get("rft-missing"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("Get() error = %v, want ErrTaskNotFound", err)
	}
	if err := tr.Update("rft-missing", domain.TaskCompleted, "", 0); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("Update() error = %v, want ErrTaskNotFound", err)
	}
}

func TestTaskTracker_GetReturnsCopy(t *testing.T) {
	tr, _ := newTestTracker(TaskTrackerConfig{})
	task := tr.Create(domain.TriggerManual)

	got, _ := tr.Get(task.ID)
	got.State = domain.TaskFailed

	again, _ := tr.Get(task.ID)
	if again.State != domain.TaskRunning {
		t.Error("modifying a returned task must not affect the tracker")
	}
}

func TestTaskTracker_Sweep(t *testing.T) {
	tr, now := newTestTracker(TaskTrackerConfig{Retention: time.Minute})

	old := tr.Create(domain.TriggerManual)
	_ = tr.Update(old.ID, domain.TaskCompleted, "", 1)
	running := tr.Create(domain.TriggerSchedule)

	*now = now.Add(30 * time.Second)
	if n := tr.Sweep(); n != 0 {
		t.Errorf("Sweep() inside retention removed %d", n)
	}

	*now = now.Add(time.Minute)
	if n := tr.Sweep(); n != 1 {
		t.Errorf("Sweep() removed %d, want 1", n)
	}
	if _, err := tr.Get(old.ID); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("evicted task Get() error = %v, want ErrTaskNotFound", err)
	}
	if _, err := tr.Get(running.ID); err != nil {
		t.Errorf("running task must survive sweeps: %v", err)
	}
}

func TestTaskTracker_CapacityEviction(t *testing.T) {
	tr, now := newTestTracker(TaskTrackerConfig{MaxTasks: 3})

	running := tr.Create(domain.TriggerManual)
	var finished []string
	for i := 0; i < 2; i++ {
		*now = now.Add(time.Second)
		task := tr.Create(domain.TriggerManual)
		_ = tr.Update(task.ID, domain.TaskCompleted, "", i)
		finished = append(finished, task.ID)
	}

	*now = now.Add(time.Second)
	newest := tr.Create(domain.TriggerManual)

	if tr.Len() != 3 {
		t.Errorf("Len() = %d, want 3", tr.Len())
	}
	if _, err := tr.Get(finished[0]); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Error("oldest finished task should have been evicted")
	}
	for _, id := range []string{running.ID, finished[1], newest.ID} {
		if _, err := tr.Get(id); err != nil {
			t.Errorf("Get(%s) error = %v", id, err)
		}
	}
}

func TestTaskTracker_ConcurrentUpdate(t *testing.T) {
	tr, _ := newTestTracker(TaskTrackerConfig{})
	task := tr.Create(domain.TriggerManual)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state := domain.TaskCompleted
			if i%2 == 0 {
				state = domain.TaskFailed
			}
			if err := tr.Update(task.ID, state, "x", i); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("%d updates succeeded, want exactly 1", successes)
	}
}

func TestTaskTracker_RunStops(t *testing.T) {
	tr := NewTaskTracker(TaskTrackerConfig{SweepInterval: time.Millisecond}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
