package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain error with a structured error code.
//
// Codes have the form RC-<AREA>-<NNNN>. The first three digits of the
// numeric part are the HTTP status the error maps to when it reaches a
// client (see the httpserver handler package).
type DomainError struct {
	Code    string // Error code (e.g., "RC-DATA-5030")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Data Errors (DATA)
// ============================================================================

var (
	// ErrNoDataYet indicates no snapshot has been published since startup.
	ErrNoDataYet = NewDomainError("RC-DATA-5030", "data sync in progress, no snapshot published yet")
)

// ============================================================================
// Fetch Errors (FETCH)
// Never returned to readers; recorded on tasks and in coordinator status.
// ============================================================================

var (
	// ErrFetchFailed indicates the source returned an error.
	ErrFetchFailed = NewDomainError("RC-FETCH-5020", "fetch failed")

	// ErrFetchEmpty indicates the source completed but produced no records.
	ErrFetchEmpty = NewDomainError("RC-FETCH-5021", "fetch returned no records")

	// ErrFetchTimeout indicates the fetch exceeded its deadline.
	ErrFetchTimeout = NewDomainError("RC-FETCH-5040", "fetch timed out")
)

// ============================================================================
// Snapshot Errors (SNAP)
// ============================================================================

var (
	// ErrInvalidSnapshot indicates a snapshot violates its invariants.
	ErrInvalidSnapshot = NewDomainError("RC-SNAP-5001", "invalid snapshot")

	// ErrStaleSnapshot indicates a publish would move readers backwards.
	ErrStaleSnapshot = NewDomainError("RC-SNAP-5002", "snapshot version is not newer than current")

	// ErrTransformFailed indicates a field transform could not be applied.
	ErrTransformFailed = NewDomainError("RC-SNAP-5003", "field transform failed")

	// ErrSnapshotNotFound indicates nothing has been persisted yet.
	ErrSnapshotNotFound = NewDomainError("RC-SNAP-4040", "no persisted snapshot")
)

// ============================================================================
// Task Errors (TASK)
// ============================================================================

var (
	// ErrTaskNotFound indicates the task is unknown or has been evicted.
	ErrTaskNotFound = NewDomainError("RC-TASK-4040", "task not found")

	// ErrTaskFinalized indicates the task already reached a terminal state.
	ErrTaskFinalized = NewDomainError("RC-TASK-4090", "task already finished")
)

// ============================================================================
// Authentication Errors (AUTH)
// ============================================================================

var (
	// ErrAPIKeyMissing indicates no API key was provided.
	ErrAPIKeyMissing = NewDomainError("RC-AUTH-4010", "api key not provided")

	// ErrAPIKeyInvalid indicates the API key does not match.
	ErrAPIKeyInvalid = NewDomainError("RC-AUTH-4011", "invalid api key")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("RC-SYS-5000", "internal server error")

	// ErrStorageError indicates a persistence layer error.
	ErrStorageError = NewDomainError("RC-SYS-5001", "storage error")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("RC-SYS-4000", "bad request")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("RC-SYS-4290", "too many requests")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates a malformed request parameter.
	ErrInvalidArgument = NewDomainError("RC-ARG-4001", "invalid argument")

	// ErrInvalidTransform indicates a transform rule cannot be compiled.
	ErrInvalidTransform = NewDomainError("RC-ARG-4002", "invalid transform rule")
)
