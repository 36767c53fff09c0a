package benchmark

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/metastore-go/internal/storage"
	"github.com/yndnr/metastore-go/internal/storage/remotefs"
	"github.com/yndnr/metastore-go/internal/storage/snapshot"
	"github.com/yndnr/metastore-go/internal/storage/wal"
)

// KeyCounts are the store sizes used by scaled benchmarks.
var KeyCounts = []int{1_000, 10_000, 50_000}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// benchEnv is one remote namespace shared by every store opened from it.
type benchEnv struct {
	fs    *remotefs.Memory
	mgr   *snapshot.Manager
	clock atomic.Int64
}

func newBenchEnv(b *testing.B) *benchEnv {
	b.Helper()
	fs, err := remotefs.NewMemory(b.TempDir(), 0)
	if err != nil {
		b.Fatalf("NewMemory: %v", err)
	}
	env := &benchEnv{fs: fs}
	env.clock.Store(time.Now().UnixMilli())
	env.mgr, err = snapshot.NewForMetastore(fs, snapshot.DefaultConfig(),
		snapshot.WithLogger(quietLogger()),
		snapshot.WithClock(env.now))
	if err != nil {
		b.Fatalf("NewForMetastore: %v", err)
	}
	return env
}

func (e *benchEnv) now() time.Time {
	return time.UnixMilli(e.clock.Add(1))
}

func (e *benchEnv) open(b *testing.B, mode wal.SyncMode) *storage.Store {
	b.Helper()
	cfg := storage.DefaultConfig(filepath.Join(b.TempDir(), "meta"))
	cfg.CheckpointInterval = 0
	cfg.Badger.GCInterval = 0
	cfg.Badger.ValueLogFileSize = 16 << 20
	cfg.WAL.SyncMode = mode

	s, err := storage.Open(context.Background(), cfg, e.mgr,
		storage.WithLogger(quietLogger()),
		storage.WithClock(e.now))
	if err != nil {
		b.Fatalf("Open: %v", err)
	}
	return s
}

func prefill(b *testing.B, s *storage.Store, count int) {
	b.Helper()
	ctx := context.Background()
	value := make([]byte, 128)
	for i := 0; i < count; i++ {
		if err := s.Put(ctx, benchKey(i), value); err != nil {
			b.Fatalf("Put: %v", err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		b.Fatalf("Flush: %v", err)
	}
}

func benchKey(i int) []byte {
	return []byte(fmt.Sprintf("bench/key/%08d", i))
}

func reportMemory(b *testing.B, name string) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.HeapAlloc)/(1024*1024), name+"_MB")
}
