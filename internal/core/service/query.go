package service

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/rowcache/internal/core/domain"
)

// Query defaults.
const (
	DefaultPageLimit        = 100
	DefaultMaxPageLimit     = 1000
	DefaultMaxRange         = 10000
	DefaultFreshMinInterval = 5 * time.Minute
)

// Fresh read outcomes reported in FreshPage.Refresh.
const (
	FreshCompleted   = "completed"
	FreshFailed      = "failed"
	FreshInProgress  = "in_progress"
	FreshRateLimited = "rate_limited"
)

// QueryConfig bounds read responses.
type QueryConfig struct {
	// DefaultLimit is used when a page request omits the limit.
	DefaultLimit int

	// MaxLimit is the largest page size served; larger requests are clamped.
	MaxLimit int

	// MaxRange is the largest row span a range request returns.
	MaxRange int

	// FreshReads enables GetFreshThenPage.
	FreshReads bool

	// FreshMinInterval is the minimum spacing between refreshes triggered
	// by fresh reads.
	FreshMinInterval time.Duration
}

// DefaultQueryConfig returns the default read limits.
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		DefaultLimit:     DefaultPageLimit,
		MaxLimit:         DefaultMaxPageLimit,
		MaxRange:         DefaultMaxRange,
		FreshMinInterval: DefaultFreshMinInterval,
	}
}

// Refresher runs a gated synchronous refresh.
type Refresher interface {
	RefreshNow(ctx context.Context, trigger domain.Trigger) (domain.RefreshOutcome, bool)
}

// Page is one window of the current snapshot.
type Page struct {
	Records     []domain.Record
	Total       int
	Limit       int
	Offset      int
	HasMore     bool
	FetchedAt   time.Time
	Version     uint64
	Fingerprint string
}

// RangeResult is an inclusive, 1-indexed row range of the current snapshot.
type RangeResult struct {
	Records     []domain.Record
	Total       int
	StartRow    int
	EndRow      int
	FetchedAt   time.Time
	Version     uint64
	Fingerprint string
}

// FreshPage is a page read after an attempted refresh.
type FreshPage struct {
	*Page

	// Refresh is one of FreshCompleted, FreshFailed, FreshInProgress or
	// FreshRateLimited.
	Refresh string
	TaskID  string
}

// QueryService serves reads from the current snapshot. Plain reads never
// trigger or wait on a refresh.
type QueryService struct {
	cfg       QueryConfig
	store     SnapshotReader
	refresher Refresher
	limiter   *rate.Limiter
}

// NewQueryService creates a QueryService. refresher may be nil when fresh
// reads are disabled. Zero limits take defaults.
func NewQueryService(cfg QueryConfig, store SnapshotReader, refresher Refresher) *QueryService {
	def := DefaultQueryConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	if cfg.MaxRange <= 0 {
		cfg.MaxRange = def.MaxRange
	}
	if cfg.FreshMinInterval <= 0 {
		cfg.FreshMinInterval = def.FreshMinInterval
	}

	return &QueryService{
		cfg:       cfg,
		store:     store,
		refresher: refresher,
		limiter:   rate.NewLimiter(rate.Every(cfg.FreshMinInterval), 1),
	}
}

// Config returns the effective limits.
func (s *QueryService) Config() QueryConfig {
	return s.cfg
}

// GetPage returns up to limit records starting at offset.
//
// A zero limit selects the default and limits above the maximum are
// clamped. An offset at or past the end yields an empty page. Negative
// values are rejected.
func (s *QueryService) GetPage(limit, offset int) (*Page, error) {
	if limit < 0 {
		return nil, domain.ErrInvalidArgument.WithDetails("limit must not be negative")
	}
	if offset < 0 {
		return nil, domain.ErrInvalidArgument.WithDetails("offset must not be negative")
	}

	snap, err := s.current()
	if err != nil {
		return nil, err
	}

	if limit == 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	total := snap.Count
	start := min(offset, total)
	end := min(start+limit, total)

	return &Page{
		Records:     snap.Records[start:end:end],
		Total:       total,
		Limit:       limit,
		Offset:      offset,
		HasMore:     end < total,
		FetchedAt:   snap.FetchedAt,
		Version:     snap.Version,
		Fingerprint: snap.Fingerprint,
	}, nil
}

// GetRange returns rows startRow through endRow, 1-indexed and inclusive.
//
// A startRow below 1 means the first row and an endRow below 1 means the
// last. Out-of-range values are clamped to the snapshot, and the span is
// capped at the configured maximum. A range that is empty after clamping
// returns no records; a start past the end is reported as total+1.
func (s *QueryService) GetRange(startRow, endRow int) (*RangeResult, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}

	total := snap.Count
	if startRow < 1 {
		startRow = 1
	}
	if startRow > total {
		startRow = total + 1
	}
	if endRow < 1 || endRow > total {
		endRow = total
	}
	if span := endRow - startRow + 1; span > s.cfg.MaxRange {
		endRow = startRow + s.cfg.MaxRange - 1
	}

	res := &RangeResult{
		Records:     []domain.Record{},
		Total:       total,
		StartRow:    startRow,
		EndRow:      endRow,
		FetchedAt:   snap.FetchedAt,
		Version:     snap.Version,
		Fingerprint: snap.Fingerprint,
	}
	if startRow > endRow {
		return res, nil
	}

	lo, hi := startRow-1, endRow
	res.Records = snap.Records[lo:hi:hi]
	return res, nil
}

// GetMetadata returns the current snapshot summary without touching the
// records.
func (s *QueryService) GetMetadata() (domain.Metadata, error) {
	meta := s.store.Metadata()
	if meta.Status != domain.StatusSuccess {
		return meta, domain.ErrNoDataYet
	}
	return meta, nil
}

// GetFreshThenPage attempts a synchronous refresh, then reads a page.
//
// This is the one read path that may wait on a refresh. It must be enabled
// explicitly, is limited to one refresh per FreshMinInterval, and shares the
// admission gate with every other refresh. When the refresh cannot run the
// page is served from the current snapshot and Refresh says why.
func (s *QueryService) GetFreshThenPage(ctx context.Context, limit, offset int) (*FreshPage, error) {
	if !s.cfg.FreshReads || s.refresher == nil {
		return nil, domain.ErrBadRequest.WithDetails("fresh reads are disabled")
	}
	if limit < 0 || offset < 0 {
		return nil, domain.ErrInvalidArgument.WithDetails("limit and offset must not be negative")
	}

	fp := &FreshPage{Refresh: FreshRateLimited}
	if s.limiter.Allow() {
		// The refresh outlives a disconnecting client; it is bounded by
		// the coordinator's fetch timeout and cancelled by its Close.
		out, admitted := s.refresher.RefreshNow(context.WithoutCancel(ctx), domain.TriggerFreshRead)
		fp.TaskID = out.TaskID
		switch {
		case !admitted:
			fp.Refresh = FreshInProgress
		case out.Err != nil:
			fp.Refresh = FreshFailed
		default:
			fp.Refresh = FreshCompleted
		}
	}

	page, err := s.GetPage(limit, offset)
	if err != nil {
		return nil, err
	}
	fp.Page = page
	return fp, nil
}

func (s *QueryService) current() (*domain.Snapshot, error) {
	snap := s.store.Current()
	if !snap.HasData() {
		return nil, domain.ErrNoDataYet
	}
	return snap, nil
}
