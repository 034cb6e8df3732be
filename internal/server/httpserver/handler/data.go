package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yndnr/rowcache/internal/core/domain"
)

// dataParams are the parsed query parameters of GET /data.
type dataParams struct {
	limit, offset    int
	startRow, endRow int
	isRange          bool
	metadataOnly     bool
	fresh            bool
	fields           []string
}

// handleData handles GET /data.
func (h *Handler) handleData(w http.ResponseWriter, r *http.Request) {
	p, err := parseDataParams(r.URL.Query())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	switch {
	case p.metadataOnly:
		h.serveMetadata(w, r)
	case p.isRange:
		h.serveRange(w, r, p)
	case p.fresh:
		h.serveFresh(w, r, p)
	default:
		h.servePage(w, r, p)
	}
}

func (h *Handler) servePage(w http.ResponseWriter, r *http.Request, p dataParams) {
	page, err := h.query.GetPage(p.limit, p.offset)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if notModified(w, r, page.FetchedAt, page.Version, page.Fingerprint) {
		return
	}

	records := project(page.Records, p.fields)
	h.writeJSON(w, r, http.StatusOK, &PageResponse{
		Status:    domain.StatusSuccess,
		Total:     page.Total,
		Returned:  len(records),
		Limit:     page.Limit,
		Offset:    page.Offset,
		HasMore:   page.HasMore,
		FetchedAt: page.FetchedAt,
		Records:   records,
	})
}

func (h *Handler) serveFresh(w http.ResponseWriter, r *http.Request, p dataParams) {
	fp, err := h.query.GetFreshThenPage(r.Context(), p.limit, p.offset)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	setCacheHeaders(w, fp.FetchedAt, fp.Version, fp.Fingerprint)

	records := project(fp.Records, p.fields)
	h.writeJSON(w, r, http.StatusOK, &PageResponse{
		Status:    domain.StatusSuccess,
		Total:     fp.Total,
		Returned:  len(records),
		Limit:     fp.Limit,
		Offset:    fp.Offset,
		HasMore:   fp.HasMore,
		FetchedAt: fp.FetchedAt,
		Records:   records,
		Refresh:   fp.Refresh,
		TaskID:    fp.TaskID,
	})
}

func (h *Handler) serveRange(w http.ResponseWriter, r *http.Request, p dataParams) {
	res, err := h.query.GetRange(p.startRow, p.endRow)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if notModified(w, r, res.FetchedAt, res.Version, res.Fingerprint) {
		return
	}

	records := project(res.Records, p.fields)
	h.writeJSON(w, r, http.StatusOK, &RangeResponse{
		Status:    domain.StatusSuccess,
		Total:     res.Total,
		Returned:  len(records),
		StartRow:  res.StartRow,
		EndRow:    res.EndRow,
		FetchedAt: res.FetchedAt,
		Records:   records,
	})
}

func (h *Handler) serveMetadata(w http.ResponseWriter, r *http.Request) {
	md, err := h.query.GetMetadata()
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if notModified(w, r, md.FetchedAt, md.Version, md.Fingerprint) {
		return
	}

	h.writeJSON(w, r, http.StatusOK, &MetadataResponse{
		Status:           md.Status,
		Total:            md.Count,
		FetchedAt:        md.FetchedAt,
		Version:          md.Version,
		FileSizeEstimate: humanize.Bytes(uint64(max(md.SizeEstimate, 0))),
		FileSizeBytes:    md.SizeEstimate,
		Columns:          md.Columns,
	})
}

// parseDataParams accepts both snake_case and camelCase parameter names.
func parseDataParams(q url.Values) (dataParams, error) {
	var (
		p   dataParams
		err error
	)

	if p.limit, _, err = intParam(q, "limit"); err != nil {
		return p, err
	}
	if p.offset, _, err = intParam(q, "offset"); err != nil {
		return p, err
	}

	var hasStart, hasEnd bool
	if p.startRow, hasStart, err = rowParam(q, "start_row", "startRow"); err != nil {
		return p, err
	}
	if p.endRow, hasEnd, err = rowParam(q, "end_row", "endRow"); err != nil {
		return p, err
	}
	p.isRange = hasStart || hasEnd

	if p.metadataOnly, err = boolParam(q, "metadata_only", "metadataOnly"); err != nil {
		return p, err
	}
	if p.fresh, err = boolParam(q, "fresh"); err != nil {
		return p, err
	}

	if v, ok := lookup(q, "fields"); ok {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				p.fields = append(p.fields, f)
			}
		}
		if len(p.fields) == 0 {
			return p, domain.ErrInvalidArgument.WithDetails("fields must name at least one field")
		}
	}

	return p, nil
}

// lookup returns the first non-empty value among names.
func lookup(q url.Values, names ...string) (string, bool) {
	for _, name := range names {
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			return v, true
		}
	}
	return "", false
}

func intParam(q url.Values, names ...string) (int, bool, error) {
	v, ok := lookup(q, names...)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, true, domain.ErrInvalidArgument.WithDetails(
			fmt.Sprintf("%s must be a non-negative integer", names[0]))
	}
	return n, true, nil
}

// rowParam accepts any integer; the query service clamps row numbers.
func rowParam(q url.Values, names ...string) (int, bool, error) {
	v, ok := lookup(q, names...)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, domain.ErrInvalidArgument.WithDetails(
			fmt.Sprintf("%s must be an integer", names[0]))
	}
	return n, true, nil
}

func boolParam(q url.Values, names ...string) (bool, error) {
	v, ok := lookup(q, names...)
	if !ok {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("%s must be true or false", names[0]))
	}
	return b, nil
}

// project copies records keeping only fields. Fields a record lacks are
// omitted. With no fields the records are returned as they are.
func project(records []domain.Record, fields []string) []domain.Record {
	if len(fields) == 0 {
		return records
	}
	out := make([]domain.Record, len(records))
	for i, rec := range records {
		p := make(domain.Record, len(fields))
		for _, f := range fields {
			if v, ok := rec[f]; ok {
				p[f] = v
			}
		}
		out[i] = p
	}
	return out
}

// etag identifies a snapshot version. It is weak because the envelope
// carries a per-response request id and timestamp.
func etag(version uint64, fingerprint string) string {
	if fingerprint == "" {
		return ""
	}
	if len(fingerprint) > 16 {
		fingerprint = fingerprint[:16]
	}
	return fmt.Sprintf(`W/"v%d-%s"`, version, fingerprint)
}

func setCacheHeaders(w http.ResponseWriter, fetchedAt time.Time, version uint64, fingerprint string) string {
	if !fetchedAt.IsZero() {
		w.Header().Set("X-Last-Sync", fetchedAt.UTC().Format(time.RFC3339))
	}
	tag := etag(version, fingerprint)
	if tag != "" {
		w.Header().Set("ETag", tag)
	}
	w.Header().Set("Cache-Control", "no-cache")
	return tag
}

// notModified sets the cache headers and answers 304 when the client's
// If-None-Match already names the current snapshot.
func notModified(w http.ResponseWriter, r *http.Request, fetchedAt time.Time, version uint64, fingerprint string) bool {
	tag := setCacheHeaders(w, fetchedAt, version, fingerprint)
	if tag == "" {
		return false
	}
	inm := r.Header.Get("If-None-Match")
	if inm == "" {
		return false
	}
	for _, candidate := range strings.Split(inm, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == strings.TrimPrefix(tag, "W/") {
			w.WriteHeader(http.StatusNotModified)
			return true
		}
	}
	return false
}
