package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/metastore-go/internal/storage/snapshot"
	"github.com/yndnr/metastore-go/internal/storage/wal"
)

// Default store settings.
const (
	DefaultCheckpointInterval = 15 * time.Minute
	DefaultCheckpointTimeout  = 10 * time.Minute
)

// Config configures one durable store.
type Config struct {
	// Dir is the local engine directory.
	Dir string `koanf:"dir"`

	// CheckpointDir holds checkpoints while they are uploaded.
	// Default: Dir + "-checkpoints".
	CheckpointDir string `koanf:"checkpoint_dir"`

	// CheckpointInterval is the interval between automatic checkpoints.
	// Zero disables them.
	CheckpointInterval time.Duration `koanf:"checkpoint_interval"`

	// CheckpointTimeout bounds one automatic checkpoint.
	CheckpointTimeout time.Duration `koanf:"checkpoint_timeout"`

	Badger BadgerConfig `koanf:"badger"`
	WAL    wal.Config   `koanf:"wal"`
}

// DefaultConfig returns the default store configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		CheckpointInterval: DefaultCheckpointInterval,
		CheckpointTimeout:  DefaultCheckpointTimeout,
		Badger:             DefaultBadgerConfig(),
		WAL:                wal.DefaultConfig(),
	}
}

// CheckpointResult describes a published checkpoint.
type CheckpointResult struct {
	ID       snapshot.ID   `json:"id"`
	Prefix   string        `json:"prefix"`
	Duration time.Duration `json:"duration"`
}

// Stats reports store state.
type Stats struct {
	Name             string      `json:"name"`
	SnapshotID       snapshot.ID `json:"snapshot_id"`
	LastCheckpointAt int64       `json:"last_checkpoint_at"`
	Engine           EngineStats `json:"engine"`
	WAL              wal.Stats   `json:"wal"`
}

// Store is a Badger engine whose state is published as snapshots and
// WAL chunks through a snapshot.Manager.
//
// Writes are applied locally and then queued in the WAL. A checkpoint
// publishes the whole engine and starts a new WAL generation, so the
// remote state is always one snapshot plus the chunks written after it.
type Store struct {
	cfg    Config
	mgr    *snapshot.Manager
	engine *BadgerEngine
	wal    *wal.Writer
	logger *slog.Logger
	now    func() time.Time

	// mu serializes writes and checkpoints.
	mu               sync.Mutex
	snapshotID       snapshot.ID
	lastCheckpointAt atomic.Int64
	closed           bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	logger   *slog.Logger
	registry prometheus.Registerer
	now      func() time.Time
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegisterer registers engine metrics with reg.
func WithRegisterer(reg prometheus.Registerer) StoreOption {
	return func(o *storeOptions) {
		o.registry = reg
	}
}

// WithClock overrides the clock used to assign snapshot ids.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// Open bootstraps the store from the local directory or the remote
// snapshot, publishes a fresh checkpoint so new WAL chunks start a clean
// generation, and starts the checkpoint loop.
func Open(ctx context.Context, cfg Config, mgr *snapshot.Manager, opts ...StoreOption) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("storage: dir is required")
	}
	if mgr == nil {
		return nil, fmt.Errorf("storage: snapshot manager is required")
	}
	if cfg.CheckpointDir == "" {
		cfg.CheckpointDir = cfg.Dir + "-checkpoints"
	}
	if cfg.CheckpointTimeout <= 0 {
		cfg.CheckpointTimeout = DefaultCheckpointTimeout
	}

	o := storeOptions{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "store", "store", mgr.Name())

	eng, err := mgr.LoadFromRemote(ctx, cfg.Dir, Opener(cfg.Badger, logger))
	if err != nil {
		return nil, fmt.Errorf("storage: bootstrap %s: %w", mgr.Name(), err)
	}
	badgerEng, ok := eng.(*BadgerEngine)
	if !ok {
		eng.Close()
		return nil, fmt.Errorf("storage: unexpected engine type %T", eng)
	}
	if o.registry != nil {
		badgerEng.RegisterMetrics(o.registry, mgr.Name())
	}

	s := &Store{
		cfg:    cfg,
		mgr:    mgr,
		engine: badgerEng,
		logger: logger,
		now:    o.now,
		stopCh: make(chan struct{}),
	}

	// The loaded snapshot bounds the next id from below, whatever the clock says.
	if id, ok, err := mgr.ParseLocalCurrentSnapshotID(); err == nil && ok {
		s.snapshotID = id
	}

	res, err := s.checkpointLocked(ctx)
	if err != nil {
		badgerEng.Close()
		return nil, err
	}

	w, err := wal.NewWriter(cfg.WAL, mgr, mgr.LogsDir(res.ID), wal.WithLogger(logger))
	if err != nil {
		badgerEng.Close()
		return nil, fmt.Errorf("storage: create wal writer: %w", err)
	}
	s.wal = w

	if cfg.CheckpointInterval > 0 {
		s.wg.Add(1)
		go s.checkpointLoop(cfg.CheckpointInterval)
	}
	return s, nil
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.mgr.Name()
}

// Manager returns the snapshot manager of the store.
func (s *Store) Manager() *snapshot.Manager {
	return s.mgr
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	return s.engine.Get(ctx, key)
}

// Scan iterates over keys with a given prefix.
func (s *Store) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	return s.engine.Scan(ctx, prefix, fn)
}

// Put stores a key-value pair. An error from the WAL means the value is
// applied locally and still queued for upload.
func (s *Store) Put(ctx context.Context, key, value []byte) error {
	return s.write(ctx, wal.Op{Type: wal.OpTypePut, Key: key, Value: value})
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	return s.write(ctx, wal.Op{Type: wal.OpTypeDelete, Key: key})
}

func (s *Store) write(ctx context.Context, op wal.Op) error {
	if len(op.Key) == 0 {
		return wal.ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	var err error
	switch op.Type {
	case wal.OpTypePut:
		err = s.engine.Set(ctx, op.Key, op.Value)
	case wal.OpTypeDelete:
		err = s.engine.Delete(ctx, op.Key)
	}
	if err != nil {
		return err
	}

	if err := s.wal.Append(ctx, op); err != nil {
		return fmt.Errorf("storage: write wal: %w", err)
	}
	return nil
}

// Flush uploads every write still buffered in the WAL.
func (s *Store) Flush(ctx context.Context) error {
	return s.wal.Flush(ctx)
}

// Checkpoint publishes the engine as a new snapshot and starts a new WAL
// generation. Writes are blocked while it runs.
func (s *Store) Checkpoint(ctx context.Context) (*CheckpointResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	res, err := s.checkpointLocked(ctx)
	if err != nil {
		return nil, err
	}
	s.wal.Reset(s.mgr.LogsDir(res.ID))
	return res, nil
}

func (s *Store) checkpointLocked(ctx context.Context) (*CheckpointResult, error) {
	start := time.Now()

	id := snapshot.NewID(s.now())
	if id <= s.snapshotID {
		id = s.snapshotID + 1
	}
	prefix := s.mgr.SnapshotPrefix(id)

	dir := filepath.Join(s.cfg.CheckpointDir, id.String())
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("storage: clear checkpoint dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove checkpoint dir", "dir", dir, "error", err)
		}
	}()

	if _, err := s.engine.Checkpoint(ctx, dir); err != nil {
		return nil, err
	}
	if err := s.mgr.UploadCheckpoint(ctx, prefix, dir); err != nil {
		return nil, fmt.Errorf("storage: publish checkpoint: %w", err)
	}

	s.snapshotID = id
	s.lastCheckpointAt.Store(time.Now().UnixMilli())

	res := &CheckpointResult{ID: id, Prefix: prefix, Duration: time.Since(start)}
	s.logger.Info("checkpoint created", "snapshot_id", id.String(), "duration", res.Duration)
	return res, nil
}

func (s *Store) checkpointLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CheckpointTimeout)
			if _, err := s.Checkpoint(ctx); err != nil && !errors.Is(err, ErrClosed) {
				s.logger.Error("auto checkpoint failed", "error", err)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// Snapshots lists the published snapshots of the store.
func (s *Store) Snapshots(ctx context.Context) ([]snapshot.SnapshotInfo, error) {
	return s.mgr.ListSnapshots(ctx)
}

// Sweep runs the retention sweep. Sweeps and checkpoints are serialized.
func (s *Store) Sweep(ctx context.Context) (*snapshot.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.mgr.Sweep(ctx)
}

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	id := s.snapshotID
	s.mu.Unlock()

	return Stats{
		Name:             s.Name(),
		SnapshotID:       id,
		LastCheckpointAt: s.lastCheckpointAt.Load(),
		Engine:           s.engine.Stats(),
		WAL:              s.wal.Stats(),
	}
}

// Close stops the checkpoint loop, uploads buffered WAL writes and closes
// the engine.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	var errs []error
	if err := s.wal.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("storage: close wal: %w", err))
	}
	if err := s.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
