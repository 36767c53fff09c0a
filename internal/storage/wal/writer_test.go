package wal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordedChunk struct {
	dir   string
	seq   uint64
	batch *Batch
}

type recordingUploader struct {
	mu     sync.Mutex
	chunks []recordedChunk
	fail   error
}

func (u *recordingUploader) UploadLog(ctx context.Context, dir string, seq uint64, b *Batch) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fail != nil {
		return 0, u.fail
	}
	u.chunks = append(u.chunks, recordedChunk{dir: dir, seq: seq, batch: b})
	return b.Size(), nil
}

func (u *recordingUploader) snapshot() []recordedChunk {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]recordedChunk(nil), u.chunks...)
}

func put(key string) Op {
	return Op{Type: OpTypePut, Key: []byte(key), Value: []byte("v")}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.SyncMode != SyncModeBatch {
		t.Fatalf("SyncMode = %q, want %q", cfg.SyncMode, SyncModeBatch)
	}
	if cfg.BatchCount != DefaultBatchCount {
		t.Fatalf("BatchCount = %d, want %d", cfg.BatchCount, DefaultBatchCount)
	}
	if cfg.BatchBytes != DefaultBatchBytes {
		t.Fatalf("BatchBytes = %d, want %d", cfg.BatchBytes, DefaultBatchBytes)
	}
}

func TestWriter_SyncModeAssignsSequence(t *testing.T) {
	ctx := context.Background()
	up := &recordingUploader{}
	w, err := NewWriter(Config{SyncMode: SyncModeSync}, up, "metastore-1-logs")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close(ctx)

	for _, k := range []string{"a", "b", "c"} {
		if err := w.Append(ctx, put(k)); err != nil {
			t.Fatalf("Append(%s): %v", k, err)
		}
	}

	chunks := up.snapshot()
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.seq != uint64(i) || c.dir != "metastore-1-logs" {
			t.Fatalf("chunk %d = %s/%d", i, c.dir, c.seq)
		}
	}
}

func TestWriter_BatchThreshold(t *testing.T) {
	ctx := context.Background()
	up := &recordingUploader{}
	w, err := NewWriter(Config{SyncMode: SyncModeBatch, BatchCount: 2, FlushInterval: time.Hour}, up, "d")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close(ctx)

	if err := w.Append(ctx, put("a")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if n := len(up.snapshot()); n != 0 {
		t.Fatalf("flushed early: %d chunks", n)
	}
	if err := w.Append(ctx, put("b")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	chunks := up.snapshot()
	if len(chunks) != 1 || chunks[0].batch.Len() != 2 {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestWriter_FailedFlushKeepsSequenceAndOps(t *testing.T) {
	ctx := context.Background()
	up := &recordingUploader{fail: errors.New("remote down")}
	w, err := NewWriter(Config{SyncMode: SyncModeBatch, BatchCount: 100, FlushInterval: time.Hour}, up, "d")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close(ctx)

	_ = w.Append(ctx, put("a"))
	if err := w.Flush(ctx); err == nil {
		t.Fatal("Flush should fail")
	}
	_ = w.Append(ctx, put("b"))

	st := w.Stats()
	if st.NextSeq != 0 || st.PendingOps != 2 || st.FlushErrors != 1 {
		t.Fatalf("Stats after failure = %+v", st)
	}

	up.mu.Lock()
	up.fail = nil
	up.mu.Unlock()

	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	chunks := up.snapshot()
	if len(chunks) != 1 || chunks[0].seq != 0 || chunks[0].batch.Len() != 2 {
		t.Fatalf("chunks = %+v", chunks)
	}
	if string(chunks[0].batch.Ops[0].Key) != "a" {
		t.Fatalf("op order not preserved: %s", chunks[0].batch.Ops[0].Key)
	}
}

func TestWriter_ResetStartsNewGeneration(t *testing.T) {
	ctx := context.Background()
	up := &recordingUploader{}
	w, _ := NewWriter(Config{SyncMode: SyncModeSync}, up, "metastore-1-logs")
	defer w.Close(ctx)

	_ = w.Append(ctx, put("a"))
	_ = w.Append(ctx, put("b"))
	w.Reset("metastore-2-logs")
	_ = w.Append(ctx, put("c"))

	chunks := up.snapshot()
	last := chunks[len(chunks)-1]
	if last.dir != "metastore-2-logs" || last.seq != 0 {
		t.Fatalf("after Reset chunk = %s/%d, want metastore-2-logs/0", last.dir, last.seq)
	}
}

func TestWriter_FlushLoop(t *testing.T) {
	ctx := context.Background()
	up := &recordingUploader{}
	w, _ := NewWriter(Config{SyncMode: SyncModeBatch, BatchCount: 100, FlushInterval: 10 * time.Millisecond}, up, "d")
	defer w.Close(ctx)

	_ = w.Append(ctx, put("a"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(up.snapshot()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("flush loop did not upload buffered ops")
}

func TestWriter_CloseFlushesAndRejects(t *testing.T) {
	ctx := context.Background()
	up := &recordingUploader{}
	w, _ := NewWriter(Config{SyncMode: SyncModeBatch, BatchCount: 100, FlushInterval: time.Hour}, up, "d")

	_ = w.Append(ctx, put("a"))
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(up.snapshot()) != 1 {
		t.Fatal("Close did not flush")
	}
	if err := w.Append(ctx, put("b")); err == nil {
		t.Fatal("Append after Close should fail")
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestWriter_RejectsInvalidOps(t *testing.T) {
	w, _ := NewWriter(Config{SyncMode: SyncModeSync}, &recordingUploader{}, "d")
	defer w.Close(context.Background())
	if err := w.Append(context.Background(), Op{Type: OpTypePut}); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Append err = %v, want ErrEmptyKey", err)
	}
}

func TestNewWriter_Validation(t *testing.T) {
	if _, err := NewWriter(Config{}, nil, "d"); err == nil {
		t.Fatal("nil uploader should fail")
	}
	if _, err := NewWriter(Config{}, &recordingUploader{}, ""); err == nil {
		t.Fatal("empty dir should fail")
	}
}
