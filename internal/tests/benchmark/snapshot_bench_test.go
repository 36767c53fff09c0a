package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/yndnr/metastore-go/internal/storage/wal"
)

// BenchmarkCheckpoint measures one checkpoint publish at various store
// sizes.
func BenchmarkCheckpoint(b *testing.B) {
	for _, count := range KeyCounts {
		b.Run(fmt.Sprintf("keys_%d", count), func(b *testing.B) {
			env := newBenchEnv(b)
			s := env.open(b, wal.SyncModeBatch)
			defer s.Close(context.Background())
			prefill(b, s, count)

			ctx := context.Background()
			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := s.Checkpoint(ctx); err != nil {
					b.Fatalf("Checkpoint: %v", err)
				}
			}
			b.StopTimer()
			reportMemory(b, "mem")
		})
	}
}

// BenchmarkBootstrap measures opening a store on an empty local directory
// from the published snapshot.
func BenchmarkBootstrap(b *testing.B) {
	for _, count := range KeyCounts {
		b.Run(fmt.Sprintf("keys_%d", count), func(b *testing.B) {
			env := newBenchEnv(b)
			ctx := context.Background()

			seed := env.open(b, wal.SyncModeBatch)
			prefill(b, seed, count/2)
			if _, err := seed.Checkpoint(ctx); err != nil {
				b.Fatalf("Checkpoint: %v", err)
			}
			// The second half lands in WAL chunks on top of the snapshot.
			prefill(b, seed, count)
			if err := seed.Close(ctx); err != nil {
				b.Fatalf("Close: %v", err)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				s := env.open(b, wal.SyncModeBatch)
				b.StopTimer()
				if err := s.Close(ctx); err != nil {
					b.Fatalf("Close: %v", err)
				}
				b.StartTimer()
			}
		})
	}
}
