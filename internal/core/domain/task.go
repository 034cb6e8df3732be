package domain

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// TaskIDPrefix prefixes every refresh task id.
const TaskIDPrefix = "rft-"

// TaskState is the lifecycle state of a refresh task.
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Trigger names what started a refresh.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerSchedule  Trigger = "schedule"
	TriggerStartup   Trigger = "startup"
	TriggerFreshRead Trigger = "fresh_read"
)

// RefreshTask tracks one admitted refresh so callers can poll it.
type RefreshTask struct {
	ID          string     `json:"task_id"`
	State       TaskState  `json:"state"`
	Trigger     Trigger    `json:"trigger"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	RecordCount int        `json:"record_count,omitempty"`
}

// NewRefreshTask returns a running task with a fresh id.
func NewRefreshTask(trigger Trigger, now time.Time) *RefreshTask {
	return &RefreshTask{
		ID:        NewTaskID(now),
		State:     TaskRunning,
		Trigger:   trigger,
		StartedAt: now,
	}
}

// NewTaskID returns a lowercase ULID task id. DefaultEntropy is a
// process-wide monotonic source, so ids are unique and sortable.
func NewTaskID(now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())
	return TaskIDPrefix + strings.ToLower(id.String())
}

// Finish moves the task to a terminal state. It fails with ErrTaskFinalized
// if the task already finished.
func (t *RefreshTask) Finish(state TaskState, detail string, records int, now time.Time) error {
	if !state.IsTerminal() {
		return ErrInvalidArgument.WithDetails("task can only move to completed or failed")
	}
	if t.State.IsTerminal() {
		return ErrTaskFinalized.WithDetails(t.ID)
	}

	t.State = state
	t.CompletedAt = &now
	t.RecordCount = records
	if state == TaskFailed {
		t.Error = detail
	}
	return nil
}

// Clone returns a deep copy of the task.
func (t *RefreshTask) Clone() *RefreshTask {
	cp := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}

// Duration returns the task's run time so far, or its total run time once
// it has finished.
func (t *RefreshTask) Duration(now time.Time) time.Duration {
	if t.CompletedAt != nil {
		return t.CompletedAt.Sub(t.StartedAt)
	}
	return now.Sub(t.StartedAt)
}

// RefreshOutcome is the result of one refresh attempt.
type RefreshOutcome struct {
	TaskID      string
	Trigger     Trigger
	StartedAt   time.Time
	FinishedAt  time.Time
	Published   bool
	Version     uint64
	RecordCount int
	Err         error
}

// Duration returns how long the attempt took.
func (o RefreshOutcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Succeeded reports whether the attempt published a snapshot.
func (o RefreshOutcome) Succeeded() bool {
	return o.Err == nil && o.Published
}
