package wal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Default configuration values.
const (
	DefaultBatchCount          = 100
	DefaultBatchBytes    int64 = 1 << 20 // 1MB
	DefaultFlushInterval       = time.Second
	DefaultUploadTimeout       = time.Minute
)

// SyncMode defines when buffered ops are uploaded.
type SyncMode string

const (
	// SyncModeSync uploads one chunk per Append.
	SyncModeSync SyncMode = "sync"
	// SyncModeBatch buffers ops and uploads on thresholds or the flush ticker.
	SyncModeBatch SyncMode = "batch"
)

// Uploader persists one encoded chunk. The snapshot manager implements it.
type Uploader interface {
	UploadLog(ctx context.Context, dir string, seq uint64, b *Batch) (int64, error)
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, dir string, seq uint64, b *Batch) (int64, error)

func (f UploaderFunc) UploadLog(ctx context.Context, dir string, seq uint64, b *Batch) (int64, error) {
	return f(ctx, dir, seq, b)
}

// Config configures the WAL writer.
type Config struct {
	SyncMode      SyncMode      `koanf:"sync_mode"`
	FlushInterval time.Duration `koanf:"flush_interval"`

	BatchCount int   `koanf:"batch_count"`
	BatchBytes int64 `koanf:"batch_bytes"`

	UploadTimeout time.Duration `koanf:"upload_timeout"`
}

// DefaultConfig returns the default WAL configuration.
func DefaultConfig() Config {
	return Config{
		SyncMode:      SyncModeBatch,
		FlushInterval: DefaultFlushInterval,
		BatchCount:    DefaultBatchCount,
		BatchBytes:    DefaultBatchBytes,
		UploadTimeout: DefaultUploadTimeout,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.SyncMode == "" {
		cfg.SyncMode = SyncModeBatch
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.BatchCount == 0 {
		cfg.BatchCount = DefaultBatchCount
	}
	if cfg.BatchBytes == 0 {
		cfg.BatchBytes = DefaultBatchBytes
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
}

// Stats reports writer counters.
type Stats struct {
	Dir         string `json:"dir"`
	NextSeq     uint64 `json:"next_seq"`
	PendingOps  int    `json:"pending_ops"`
	Chunks      uint64 `json:"chunks"`
	Bytes       uint64 `json:"bytes"`
	FlushErrors uint64 `json:"flush_errors"`
	LastFlushAt int64  `json:"last_flush_at"`
}

// Writer buffers ops and uploads them as sequence-numbered chunks into
// the current log directory.
//
// Sequence numbers are only consumed by successful uploads, so a failed
// flush is retried with the same number and no gap is left for replay.
type Writer struct {
	cfg      Config
	uploader Uploader
	logger   *slog.Logger

	mu      sync.Mutex // guards pending, dir, closed
	dir     string
	pending *Batch
	closed  bool

	flushMu sync.Mutex // serializes uploads and seq
	seq     uint64

	chunks      atomic.Uint64
	bytes       atomic.Uint64
	flushErrors atomic.Uint64
	lastFlushAt atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}

// NewWriter creates a writer appending to dir, starting at sequence 0.
func NewWriter(cfg Config, uploader Uploader, dir string, opts ...WriterOption) (*Writer, error) {
	if uploader == nil {
		return nil, fmt.Errorf("wal: uploader is required")
	}
	if dir == "" {
		return nil, fmt.Errorf("wal: dir is required")
	}
	applyDefaults(&cfg)

	w := &Writer{
		cfg:      cfg,
		uploader: uploader,
		logger:   slog.Default(),
		dir:      dir,
		pending:  NewBatch(),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if cfg.SyncMode == SyncModeBatch {
		w.startFlushLoop()
	}
	return w, nil
}

// Append buffers ops and flushes depending on the sync mode and thresholds.
func (w *Writer) Append(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}
	check := Batch{Ops: ops}
	if err := check.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("wal: writer is closed")
	}
	w.pending.Append(ops...)
	full := w.cfg.SyncMode == SyncModeSync ||
		w.pending.Len() >= w.cfg.BatchCount ||
		w.pending.Size() >= w.cfg.BatchBytes
	w.mu.Unlock()

	if full {
		return w.Flush(ctx)
	}
	return nil
}

// Flush uploads every buffered op as one chunk.
func (w *Writer) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if w.pending.Len() == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.pending
	dir := w.dir
	w.pending = NewBatch()
	w.mu.Unlock()

	n, err := w.uploader.UploadLog(ctx, dir, w.seq, batch)
	if err != nil {
		w.flushErrors.Add(1)
		w.mu.Lock()
		if w.dir == dir {
			batch.Append(w.pending.Ops...)
			w.pending = batch
		}
		w.mu.Unlock()
		return fmt.Errorf("wal: flush %s/%d: %w", dir, w.seq, err)
	}

	w.seq++
	w.chunks.Add(1)
	w.bytes.Add(uint64(n))
	w.lastFlushAt.Store(time.Now().UnixMilli())
	return nil
}

// Reset starts a new log generation in dir at sequence 0. Buffered ops
// are dropped: the caller must have captured them in a snapshot.
func (w *Writer) Reset(dir string) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.dir = dir
	w.seq = 0
	w.pending = NewBatch()
}

// Stats returns a snapshot of writer counters.
func (w *Writer) Stats() Stats {
	w.flushMu.Lock()
	seq := w.seq
	w.flushMu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Dir:         w.dir,
		NextSeq:     seq,
		PendingOps:  w.pending.Len(),
		Chunks:      w.chunks.Load(),
		Bytes:       w.bytes.Load(),
		FlushErrors: w.flushErrors.Load(),
		LastFlushAt: w.lastFlushAt.Load(),
	}
}

func (w *Writer) startFlushLoop() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), w.cfg.UploadTimeout)
				if err := w.Flush(ctx); err != nil {
					w.logger.Error("wal flush failed", "error", err)
				}
				cancel()
			case <-w.stopCh:
				return
			}
		}
	}()
}

// Close stops the flush loop and uploads anything still buffered.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	return w.Flush(ctx)
}
