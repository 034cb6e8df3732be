package handler

import (
	"time"

	"github.com/yndnr/rowcache/internal/core/domain"
	"github.com/yndnr/rowcache/internal/infra/buildinfo"
)

// Response is the envelope of every JSON response.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// PageResponse is the data of a paged read.
type PageResponse struct {
	Status    domain.Status   `json:"status"`
	Total     int             `json:"total"`
	Returned  int             `json:"returned"`
	Limit     int             `json:"limit"`
	Offset    int             `json:"offset"`
	HasMore   bool            `json:"has_more"`
	FetchedAt time.Time       `json:"fetched_at"`
	Records   []domain.Record `json:"records"`

	// Set on fresh reads only.
	Refresh string `json:"refresh,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
}

// RangeResponse is the data of a row range read.
type RangeResponse struct {
	Status    domain.Status   `json:"status"`
	Total     int             `json:"total"`
	Returned  int             `json:"returned"`
	StartRow  int             `json:"start_row"`
	EndRow    int             `json:"end_row"`
	FetchedAt time.Time       `json:"fetched_at"`
	Records   []domain.Record `json:"records"`
}

// MetadataResponse is the data of a metadata-only read.
type MetadataResponse struct {
	Status           domain.Status `json:"status"`
	Total            int           `json:"total"`
	FetchedAt        time.Time     `json:"fetched_at"`
	Version          uint64        `json:"version"`
	FileSizeEstimate string        `json:"file_size_estimate"`
	FileSizeBytes    int64         `json:"file_size_bytes"`
	Columns          []string      `json:"columns,omitempty"`
}

// RefreshResponse is the data of POST /refresh.
type RefreshResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id,omitempty"`
}

// Refresh request outcomes.
const (
	RefreshStarted    = "started"
	RefreshInProgress = "in_progress"
)

// HealthResponse is the data of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// StatusResponse is the data of GET /status.
type StatusResponse struct {
	Snapshot SnapshotStatus `json:"snapshot"`
	Refresh  RefreshStatus  `json:"refresh"`
	History  []HistoryEntry `json:"history,omitempty"`
	Build    buildinfo.Info `json:"build"`
	Uptime   string         `json:"uptime"`
	Started  time.Time      `json:"started_at"`
}

// SnapshotStatus describes the snapshot readers currently see.
type SnapshotStatus struct {
	HasData          bool          `json:"has_data"`
	Status           domain.Status `json:"status"`
	RecordCount      int           `json:"record_count"`
	Version          uint64        `json:"version"`
	FetchedAt        *time.Time    `json:"fetched_at,omitempty"`
	AgeSeconds       float64       `json:"age_seconds"`
	Age              string        `json:"age,omitempty"`
	SizeEstimate     string        `json:"size_estimate"`
	SizeEstimateByte int64         `json:"size_estimate_bytes"`
	Fingerprint      string        `json:"fingerprint,omitempty"`
	Source           string        `json:"source,omitempty"`
}

// RefreshStatus describes the refresh coordinator.
type RefreshStatus struct {
	Running             bool            `json:"running"`
	CurrentTaskID       string          `json:"current_task_id,omitempty"`
	Source              string          `json:"source"`
	Interval            string          `json:"interval"`
	NextRunAt           *time.Time      `json:"next_run_at,omitempty"`
	LastSuccessAt       *time.Time      `json:"last_success_at,omitempty"`
	LastOutcome         *OutcomeSummary `json:"last_outcome,omitempty"`
	ConsecutiveFailures int64           `json:"consecutive_failures"`
	TotalRuns           uint64          `json:"total_runs"`
	FailedRuns          uint64          `json:"failed_runs"`
	SkippedRuns         uint64          `json:"skipped_runs"`
}

// OutcomeSummary is the last finished refresh attempt.
type OutcomeSummary struct {
	TaskID      string         `json:"task_id"`
	Trigger     domain.Trigger `json:"trigger"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Duration    string         `json:"duration"`
	Published   bool           `json:"published"`
	Version     uint64         `json:"version,omitempty"`
	RecordCount int            `json:"record_count"`
	Error       string         `json:"error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
}

// HistoryEntry is one recently published snapshot.
type HistoryEntry struct {
	Version     uint64    `json:"version"`
	RecordCount int       `json:"record_count"`
	FetchedAt   time.Time `json:"fetched_at"`
	Fingerprint string    `json:"fingerprint,omitempty"`
}
