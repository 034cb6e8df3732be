package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewRefreshTask(t *testing.T) {
	now := time.Now()
	task := NewRefreshTask(TriggerManual, now)

	if !strings.HasPrefix(task.ID, TaskIDPrefix) {
		t.Errorf("ID = %q, want prefix %q", task.ID, TaskIDPrefix)
	}
	if len(task.ID) != len(TaskIDPrefix)+26 {
		t.Errorf("ID length = %d, want %d", len(task.ID), len(TaskIDPrefix)+26)
	}
	if task.State != TaskRunning || task.CompletedAt != nil {
		t.Errorf("new task = %+v, want running", task)
	}
}

func TestNewTaskID_Unique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewTaskID(now)
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestRefreshTask_Finish(t *testing.T) {
	start := time.Now()
	task := NewRefreshTask(TriggerSchedule, start)
	end := start.Add(2 * time.Second)

	if err := task.Finish(TaskRunning, "", 0, end); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Finish(running) error = %v, want ErrInvalidArgument", err)
	}

	if err := task.Finish(TaskFailed, "source down", 0, end); err != nil {
		t.Fatalf("Finish(failed) error = %v", err)
	}
	if task.State != TaskFailed || task.Error != "source down" {
		t.Errorf("task = %+v", task)
	}
	if task.Duration(time.Now()) != 2*time.Second {
		t.Errorf("Duration() = %v, want 2s", task.Duration(time.Now()))
	}

	if err := task.Finish(TaskCompleted, "", 10, end); !errors.Is(err, ErrTaskFinalized) {
		t.Errorf("second Finish() error = %v, want ErrTaskFinalized", err)
	}
	if task.State != TaskFailed {
		t.Error("a finished task must not change state")
	}
}

func TestRefreshTask_Clone(t *testing.T) {
	task := NewRefreshTask(TriggerManual, time.Now())
	_ = task.Finish(TaskCompleted, "", 5, time.Now())

	cp := task.Clone()
	*cp.CompletedAt = cp.CompletedAt.Add(time.Hour)
	cp.State = TaskFailed

	if task.State != TaskCompleted {
		t.Error("Clone() shares state with the original")
	}
	if cp.CompletedAt.Equal(*task.CompletedAt) {
		t.Error("Clone() shares CompletedAt with the original")
	}
}
