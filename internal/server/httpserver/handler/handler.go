package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/yndnr/rowcache/internal/core/domain"
	"github.com/yndnr/rowcache/internal/core/service"
	"github.com/yndnr/rowcache/internal/telemetry/logger"
)

// responseJSON matches encoding/json output, including json.Number values
// carried by records.
var responseJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Reader serves snapshot reads.
type Reader interface {
	GetPage(limit, offset int) (*service.Page, error)
	GetRange(startRow, endRow int) (*service.RangeResult, error)
	GetMetadata() (domain.Metadata, error)
	GetFreshThenPage(ctx context.Context, limit, offset int) (*service.FreshPage, error)
}

// Refresher admits refreshes and reports the refresh path.
type Refresher interface {
	TryStartRefresh(trigger domain.Trigger) (bool, string)
	Status() service.CoordinatorStatus
}

// TaskGetter looks up refresh tasks.
type TaskGetter interface {
	Get(id string) (*domain.RefreshTask, error)
}

// SnapshotInfo exposes the store's metadata and publish history.
type SnapshotInfo interface {
	Metadata() domain.Metadata
	History() []domain.Metadata
}

var (
	_ Reader       = (*service.QueryService)(nil)
	_ Refresher    = (*service.RefreshCoordinator)(nil)
	_ TaskGetter   = (*service.TaskTracker)(nil)
	_ SnapshotInfo = (*service.RecordStore)(nil)
)

// Deps are the components the API is served from.
type Deps struct {
	Query     Reader
	Refresher Refresher
	Tasks     TaskGetter
	Store     SnapshotInfo
	Logger    *slog.Logger
}

// Handler routes API requests.
type Handler struct {
	query     Reader
	refresher Refresher
	tasks     TaskGetter
	store     SnapshotInfo
	logger    *slog.Logger
	mux       *http.ServeMux
}

// New creates a Handler over deps.
func New(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &Handler{
		query:     deps.Query,
		refresher: deps.Refresher,
		tasks:     deps.Tasks,
		store:     deps.Store,
		logger:    deps.Logger,
		mux:       http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /status", h.handleStatus)

	h.mux.HandleFunc("GET /data", h.handleData)
	h.mux.HandleFunc("GET /fetch-data", h.handleData)
	h.mux.HandleFunc("POST /refresh", h.handleRefresh)
	h.mux.HandleFunc("GET /task/{id}", h.handleGetTask)
}

// writeJSON writes data in the success envelope.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := responseJSON.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		h.logger.Warn("failed to encode response", "request_id", requestID, "error", err)
	}
}

// writeError writes an error envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := logger.RequestIDFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	responseJSON.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message, details))
}

// handleServiceError converts service errors to responses. Domain errors
// keep their code; anything else is logged and reported as RC-SYS-5000.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if code := domain.GetErrorCode(err); code != "" {
		status := StatusFromCode(code)
		if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
			logger.L(r.Context()).Error("request failed", "code", code, "error", err)
		}

		message, reason := domainParts(err)
		var details any
		if reason != "" {
			details = map[string]string{"reason": reason}
		}
		if code == domain.ErrNoDataYet.Code {
			w.Header().Set("Retry-After", "30")
			details = map[string]string{"status": string(domain.StatusPending)}
		}
		h.writeError(w, r, status, code, message, details)
		return
	}

	logger.L(r.Context()).Error("internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternalServer.Code, domain.ErrInternalServer.Message, nil)
}

// StatusFromCode maps RC-AREA-NNNN to HTTP status NNN. Malformed codes map
// to 500.
func StatusFromCode(code string) int {
	i := strings.LastIndexByte(code, '-')
	if i < 0 || len(code)-i-1 != 4 {
		return http.StatusInternalServerError
	}
	status, err := strconv.Atoi(code[i+1 : i+4])
	if err != nil || status < 400 || status > 599 {
		return http.StatusInternalServerError
	}
	return status
}

// domainParts splits a domain error into the message and details shown to
// clients.
func domainParts(err error) (message, details string) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return de.Message, de.Details
	}
	return err.Error(), ""
}
