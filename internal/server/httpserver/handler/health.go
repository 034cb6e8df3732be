package handler

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yndnr/rowcache/internal/core/domain"
	"github.com/yndnr/rowcache/internal/core/service"
	"github.com/yndnr/rowcache/internal/infra/buildinfo"
)

// handleHealth handles GET /health. It reports process liveness only and
// is healthy before the first snapshot exists.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, &HealthResponse{
		Status: "healthy",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus handles GET /status.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	md := h.store.Metadata()

	resp := &StatusResponse{
		Snapshot: snapshotStatus(md, now),
		Refresh:  refreshStatus(h.refresher.Status()),
		Build:    buildinfo.Get(),
		Uptime:   buildinfo.Uptime().Round(time.Second).String(),
		Started:  buildinfo.StartTime(),
	}
	for _, past := range h.store.History() {
		resp.History = append(resp.History, HistoryEntry{
			Version:     past.Version,
			RecordCount: past.Count,
			FetchedAt:   past.FetchedAt,
			Fingerprint: past.Fingerprint,
		})
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

func snapshotStatus(md domain.Metadata, now time.Time) SnapshotStatus {
	s := SnapshotStatus{
		HasData:          md.Status == domain.StatusSuccess,
		Status:           md.Status,
		RecordCount:      md.Count,
		Version:          md.Version,
		SizeEstimate:     humanize.Bytes(uint64(max(md.SizeEstimate, 0))),
		SizeEstimateByte: md.SizeEstimate,
		Fingerprint:      md.Fingerprint,
		Source:           md.Source,
	}
	if !md.FetchedAt.IsZero() {
		at := md.FetchedAt
		s.FetchedAt = &at
		s.AgeSeconds = now.Sub(at).Seconds()
		s.Age = humanize.RelTime(at, now, "ago", "from now")
	}
	return s
}

func refreshStatus(st service.CoordinatorStatus) RefreshStatus {
	rs := RefreshStatus{
		Running:             st.Running,
		CurrentTaskID:       st.CurrentTaskID,
		Source:              st.Source,
		Interval:            st.Interval.String(),
		ConsecutiveFailures: st.ConsecutiveFailures,
		TotalRuns:           st.TotalRuns,
		FailedRuns:          st.FailedRuns,
		SkippedRuns:         st.SkippedRuns,
	}
	if st.Interval <= 0 {
		rs.Interval = "disabled"
	}
	if !st.NextRunAt.IsZero() {
		next := st.NextRunAt
		rs.NextRunAt = &next
	}
	if !st.LastSuccessAt.IsZero() {
		last := st.LastSuccessAt
		rs.LastSuccessAt = &last
	}
	if o := st.LastOutcome; o != nil {
		rs.LastOutcome = &OutcomeSummary{
			TaskID:      o.TaskID,
			Trigger:     o.Trigger,
			StartedAt:   o.StartedAt,
			FinishedAt:  o.FinishedAt,
			Duration:    o.Duration().Round(time.Millisecond).String(),
			Published:   o.Published,
			Version:     o.Version,
			RecordCount: o.RecordCount,
		}
		if o.Err != nil {
			rs.LastOutcome.Error = o.Err.Error()
			rs.LastOutcome.ErrorCode = domain.GetErrorCode(o.Err)
		}
	}
	return rs
}
