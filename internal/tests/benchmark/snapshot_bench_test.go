package benchmark

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/yndnr/rowcache/internal/storage"
)

// benchBackends are the persistence configurations compared.
var benchBackends = []struct {
	name    string
	backend string
	key     string
}{
	{"file", storage.BackendFile, ""},
	{"file_encrypted", storage.BackendFile, "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"},
	{"badger", storage.BackendBadger, ""},
}

func openPersister(b *testing.B, backend, key string) storage.Persister {
	b.Helper()
	p, err := storage.Open(storage.Config{
		Backend:        backend,
		DataDir:        b.TempDir(),
		RetentionCount: 2,
		EncryptionKey:  key,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		b.Fatalf("Open(%s): %v", backend, err)
	}
	b.Cleanup(func() { p.Close() })
	return p
}

// BenchmarkSnapshotSave benchmarks persisting a snapshot per backend.
func BenchmarkSnapshotSave(b *testing.B) {
	for _, be := range benchBackends {
		b.Run(be.name, func(b *testing.B) {
			runWithRecordCounts(b, SmallRecordCounts, func(b *testing.B, count int) {
				p := openPersister(b, be.backend, be.key)
				snap := makeSnapshot(b, count)
				ctx := context.Background()

				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if err := p.Save(ctx, snap.WithVersion(uint64(i+1))); err != nil {
						b.Fatalf("Save: %v", err)
					}
				}

				b.StopTimer()
				reportMemory(b, "mem")
			})
		})
	}
}

// BenchmarkSnapshotLoad benchmarks restoring the latest snapshot per
// backend.
func BenchmarkSnapshotLoad(b *testing.B) {
	for _, be := range benchBackends {
		b.Run(be.name, func(b *testing.B) {
			runWithRecordCounts(b, SmallRecordCounts, func(b *testing.B, count int) {
				p := openPersister(b, be.backend, be.key)
				ctx := context.Background()
				if err := p.Save(ctx, makeSnapshot(b, count).WithVersion(1)); err != nil {
					b.Fatalf("Save: %v", err)
				}

				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					loaded, err := p.Load(ctx)
					if err != nil {
						b.Fatalf("Load: %v", err)
					}
					if loaded.Count != count {
						b.Fatalf("loaded %d records, want %d", loaded.Count, count)
					}
				}
			})
		})
	}
}

// BenchmarkSnapshotCreateLarge benchmarks a large plaintext snapshot write.
func BenchmarkSnapshotCreateLarge(b *testing.B) {
	if testing.Short() {
		b.Skip("Skipping large snapshot benchmark in short mode")
	}

	runWithRecordCounts(b, []int{250000, 500000}, func(b *testing.B, count int) {
		p := openPersister(b, storage.BackendFile, "")
		snap := makeSnapshot(b, count)
		ctx := context.Background()

		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if err := p.Save(ctx, snap.WithVersion(uint64(i+1))); err != nil {
				b.Fatalf("Save: %v", err)
			}
		}

		b.StopTimer()
		reportMemory(b, "mem")
	})
}
