package benchmark

import (
	"testing"

	"github.com/yndnr/rowcache/internal/core/service"
)

// BenchmarkStoreCurrent measures the lock-free snapshot read under
// parallel load.
func BenchmarkStoreCurrent(b *testing.B) {
	runWithRecordCounts(b, SmallRecordCounts, func(b *testing.B, count int) {
		store := publishedStore(b, count)

		b.ReportAllocs()
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if snap := store.Current(); snap.Count != count {
					b.Errorf("count = %d", snap.Count)
					return
				}
			}
		})
	})
}

// BenchmarkStorePublish measures publishing while readers hold the old
// snapshot.
func BenchmarkStorePublish(b *testing.B) {
	runWithRecordCounts(b, SmallRecordCounts, func(b *testing.B, count int) {
		store := service.NewRecordStore(0)
		snap := makeSnapshot(b, count)

		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if err := store.Publish(snap.WithVersion(store.NextVersion())); err != nil {
				b.Fatalf("Publish: %v", err)
			}
		}
	})
}

// BenchmarkQueryGetPage measures paging at the start, middle and end of the
// snapshot.
func BenchmarkQueryGetPage(b *testing.B) {
	runWithRecordCounts(b, RecordCounts, func(b *testing.B, count int) {
		q := service.NewQueryService(service.QueryConfig{}, publishedStore(b, count), nil)
		offsets := []int{0, count / 2, count - 100}

		b.ReportAllocs()
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			i := 0
			for pb.Next() {
				page, err := q.GetPage(100, offsets[i%len(offsets)])
				if err != nil || len(page.Records) != 100 {
					b.Errorf("GetPage: %v", err)
					return
				}
				i++
			}
		})
	})
}

// BenchmarkQueryGetRange measures large range reads.
func BenchmarkQueryGetRange(b *testing.B) {
	runWithRecordCounts(b, RecordCounts, func(b *testing.B, count int) {
		q := service.NewQueryService(service.QueryConfig{}, publishedStore(b, count), nil)
		end := min(count, service.DefaultMaxRange)

		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			res, err := q.GetRange(1, end)
			if err != nil || len(res.Records) != end {
				b.Fatalf("GetRange: %v", err)
			}
		}
	})
}

// BenchmarkQueryGetMetadata measures the metadata-only read.
func BenchmarkQueryGetMetadata(b *testing.B) {
	q := service.NewQueryService(service.QueryConfig{}, publishedStore(b, 10000), nil)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := q.GetMetadata(); err != nil {
			b.Fatal(err)
		}
	}
}
