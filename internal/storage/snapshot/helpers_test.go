package snapshot

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/metastore-go/internal/storage/remotefs"
	"github.com/yndnr/metastore-go/internal/storage/wal"
)

// fakeEngine records applied batches.
type fakeEngine struct {
	mu       sync.Mutex
	path     string
	applied  []string
	failKey  string
	checkErr error
	closed   bool
}

func (e *fakeEngine) ApplyWriteBatch(b *wal.Batch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, op := range b.Ops {
		if string(op.Key) == e.failKey {
			return errors.New("apply failed")
		}
		e.applied = append(e.applied, string(op.Key))
	}
	return nil
}

func (e *fakeEngine) CheckAllIndexes() error { return e.checkErr }

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}

func (e *fakeEngine) keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.applied...)
}

func newTestManager(t *testing.T, cfg Config, opts ...Option) (*Manager, *remotefs.Memory) {
	t.Helper()
	fs, err := remotefs.NewMemory(t.TempDir(), 3)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithLogger(logger)}, opts...)
	m, err := NewForMetastore(fs, cfg, opts...)
	if err != nil {
		t.Fatalf("NewForMetastore: %v", err)
	}
	return m, fs
}

func fixedClock(ms int64) Option {
	return WithClock(func() time.Time { return time.UnixMilli(ms) })
}

func encodeChunk(t *testing.T, keys ...string) []byte {
	t.Helper()
	b := wal.NewBatch()
	for _, k := range keys {
		b.Put([]byte(k), []byte("v"))
	}
	data, err := wal.NewCodec(nil).Encode(b)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}
