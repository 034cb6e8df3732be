// Package source defines how rowcache obtains a fresh dataset.
//
// A FetchSource performs one slow, fallible acquisition and returns the
// complete record set or an error. The refresh coordinator treats it as
// atomic: any error means nothing is published. Implementations live in
// the subpackages (httpsource, dropdir, sqlsource).
package source

import (
	"context"

	"github.com/yndnr/rowcache/internal/core/domain"
)

// Result is a complete record set returned by a source.
type Result struct {
	// Records are in source order.
	Records []domain.Record

	// Columns lists field names in source order when the format has a
	// header (CSV, SQL). It may be nil for JSON input.
	Columns []string
}

// FetchSource acquires the dataset.
type FetchSource interface {
	// Name identifies the source in logs, metrics and snapshots.
	Name() string

	// Fetch returns the complete dataset. It must honour ctx cancellation;
	// the caller bounds it with the configured fetch timeout.
	Fetch(ctx context.Context) (*Result, error)
}

// Func adapts a function to FetchSource.
type Func struct {
	SourceName string
	Fn         func(ctx context.Context) (*Result, error)
}

// Name returns SourceName.
func (f Func) Name() string { return f.SourceName }

// Fetch calls Fn.
func (f Func) Fetch(ctx context.Context) (*Result, error) { return f.Fn(ctx) }
