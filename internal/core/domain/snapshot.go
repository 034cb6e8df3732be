package domain

import (
	"encoding/hex"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spaolacci/murmur3"
)

// Status is the lifecycle state carried by a snapshot.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusError   Status = "error"
)

// fingerprintJSON sorts map keys so equal records always encode equally.
var fingerprintJSON = jsoniter.Config{SortMapKeys: true}.Froze()

// Snapshot is one complete, immutable version of the dataset.
//
// A snapshot is never modified after construction; the store replaces it
// wholesale. Records are shared with every reader of the snapshot.
type Snapshot struct {
	Status       Status
	Records      []Record
	Count        int
	FetchedAt    time.Time
	ErrorMessage string

	// Version is assigned by the refresh path and strictly increases with
	// every publish.
	Version uint64

	// Fingerprint is a murmur3 digest over the encoded records. Two
	// snapshots with the same records in the same order share it.
	Fingerprint string

	// SizeBytes estimates the JSON-encoded size of Records.
	SizeBytes int64

	Columns []string
	Source  string
}

// PendingSnapshot returns the initial snapshot a store holds before any
// refresh has completed.
func PendingSnapshot() *Snapshot {
	return &Snapshot{Status: StatusPending}
}

// NewSnapshot builds a success snapshot over records and computes its
// fingerprint and size estimate. records must not be modified afterwards.
func NewSnapshot(records []Record, columns []string, fetchedAt time.Time, source string) (*Snapshot, error) {
	if records == nil {
		records = []Record{}
	}
	fp, size, err := fingerprint(records)
	if err != nil {
		return nil, ErrInvalidSnapshot.WithCause(err)
	}

	return &Snapshot{
		Status:      StatusSuccess,
		Records:     records,
		Count:       len(records),
		FetchedAt:   fetchedAt,
		Fingerprint: fp,
		SizeBytes:   size,
		Columns:     columns,
		Source:      source,
	}, nil
}

// WithVersion returns a shallow copy of s carrying version v.
func (s *Snapshot) WithVersion(v uint64) *Snapshot {
	cp := *s
	cp.Version = v
	return &cp
}

// Validate checks the snapshot invariants.
func (s *Snapshot) Validate() error {
	switch s.Status {
	case StatusSuccess:
		if s.Count != len(s.Records) {
			return ErrInvalidSnapshot.WithDetails(
				fmt.Sprintf("count %d does not match %d records", s.Count, len(s.Records)))
		}
	case StatusPending, StatusError:
		if len(s.Records) != 0 || s.Count != 0 {
			return ErrInvalidSnapshot.WithDetails(fmt.Sprintf("%s snapshot must not carry records", s.Status))
		}
	default:
		return ErrInvalidSnapshot.WithDetails(fmt.Sprintf("unknown status %q", s.Status))
	}
	return nil
}

// HasData reports whether the snapshot can serve reads.
func (s *Snapshot) HasData() bool {
	return s.Status == StatusSuccess
}

// Age returns how long ago the snapshot was fetched, or zero if it never was.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(s.FetchedAt)
}

// Metadata returns the snapshot's O(1) summary.
func (s *Snapshot) Metadata() Metadata {
	return Metadata{
		Status:       s.Status,
		Count:        s.Count,
		FetchedAt:    s.FetchedAt,
		Version:      s.Version,
		Fingerprint:  s.Fingerprint,
		SizeEstimate: s.SizeBytes,
		Columns:      s.Columns,
		Source:       s.Source,
		ErrorMessage: s.ErrorMessage,
	}
}

// Metadata summarizes a snapshot without its records.
type Metadata struct {
	Status       Status    `json:"status"`
	Count        int       `json:"count"`
	FetchedAt    time.Time `json:"fetched_at"`
	Version      uint64    `json:"version"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	SizeEstimate int64     `json:"size_estimate"`
	Columns      []string  `json:"columns,omitempty"`
	Source       string    `json:"source,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// fingerprint hashes every record's canonical encoding.
func fingerprint(records []Record) (string, int64, error) {
	h := murmur3.New128()
	var size int64 = 2 // []
	for i, r := range records {
		b, err := fingerprintJSON.Marshal(r)
		if err != nil {
			return "", 0, fmt.Errorf("encode record %d: %w", i, err)
		}
		h.Write(b)
		h.Write([]byte{'\n'})
		size += int64(len(b))
		if i > 0 {
			size++
		}
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
