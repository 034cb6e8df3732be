package benchmark

import (
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/yndnr/rowcache/internal/core/domain"
	"github.com/yndnr/rowcache/internal/core/service"
)

// RecordCounts are the snapshot sizes benchmarked by default.
var RecordCounts = []int{1000, 10000, 100000}

// SmallRecordCounts for quick benchmarks.
var SmallRecordCounts = []int{1000, 10000}

var benchColumns = []string{"id", "sku", "name", "price", "in_stock", "updated_at"}

// makeRecords builds n records shaped like a typical export row.
func makeRecords(n int) []domain.Record {
	records := make([]domain.Record, n)
	now := time.Now().UTC().Format(time.RFC3339)
	for i := range records {
		records[i] = domain.Record{
			"id":         i + 1,
			"sku":        fmt.Sprintf("SKU-%08d", i+1),
			"name":       fmt.Sprintf("Product number %d", i+1),
			"price":      float64(i%10000) / 100,
			"in_stock":   i%3 != 0,
			"updated_at": now,
		}
	}
	return records
}

// makeSnapshot builds a validated snapshot of n records.
func makeSnapshot(b *testing.B, n int) *domain.Snapshot {
	b.Helper()
	snap, err := domain.NewSnapshot(makeRecords(n), benchColumns, time.Now(), "bench")
	if err != nil {
		b.Fatalf("NewSnapshot: %v", err)
	}
	return snap
}

// publishedStore returns a store holding one snapshot of n records.
func publishedStore(b *testing.B, n int) *service.RecordStore {
	b.Helper()
	store := service.NewRecordStore(0)
	if err := store.Publish(makeSnapshot(b, n).WithVersion(store.NextVersion())); err != nil {
		b.Fatalf("Publish: %v", err)
	}
	return store
}

// reportMemory reports heap usage after a GC.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// runWithRecordCounts runs benchFn once per snapshot size.
func runWithRecordCounts(b *testing.B, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("records_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}
