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

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/metastore-go/internal/storage/snapshot"
	"github.com/yndnr/metastore-go/internal/storage/wal"
)

// Common errors
var (
	ErrKeyNotFound    = errors.New("storage: key not found")
	ErrClosed         = errors.New("storage: engine closed")
	ErrIndexCorrupted = errors.New("storage: index corrupted")
)

// BackupFileName is the checkpoint file written by Checkpoint. An engine
// directory that holds only this file is restored from it on open.
const BackupFileName = "engine.bak"

const loadMaxPendingWrites = 256

// BadgerEngine is the local KV engine backed by Badger v3.
type BadgerEngine struct {
	db     *badger.DB
	dir    string
	cfg    BadgerConfig
	logger *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once

	lastGCTime atomic.Int64 // Unix milliseconds
	gcRuns     atomic.Uint64

	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsLastGCTime   prometheus.Gauge
	metricsGCRuns       prometheus.Counter

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// OpenBadgerEngine opens (or creates) an engine in dir. If dir holds a
// checkpoint file, the checkpoint is loaded and then removed. The file is
// only removed after a complete load, so Badger files found next to it
// belong to an interrupted restore and are discarded first.
func OpenBadgerEngine(dir string, cfg BadgerConfig, logger *slog.Logger) (*BadgerEngine, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	backup := filepath.Join(dir, BackupFileName)
	restore := fileExists(backup)
	if restore {
		if err := removeAllExcept(dir, BackupFileName); err != nil {
			return nil, fmt.Errorf("storage: clear interrupted restore: %w", err)
		}
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = &badgerLogger{logger: logger}
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.NumMemtables > 0 {
		opts.NumMemtables = cfg.NumMemtables
	}
	if cfg.NumLevelZeroTables > 0 {
		opts.NumLevelZeroTables = cfg.NumLevelZeroTables
	}
	if cfg.NumLevelZeroTablesStall > 0 {
		opts.NumLevelZeroTablesStall = cfg.NumLevelZeroTablesStall
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.DetectConflicts = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger: %w", err)
	}

	e := &BadgerEngine{
		db:     db,
		dir:    dir,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	if restore {
		if err := e.restore(backup); err != nil {
			db.Close()
			return nil, err
		}
	}

	if cfg.GCInterval > 0 {
		e.wg.Add(1)
		go e.gcLoop(cfg.GCInterval)
	}

	logger.Info("badger engine started",
		"dir", dir,
		"restored", restore,
		"cache_size", opts.BlockCacheSize,
		"gc_interval", cfg.GCInterval)
	return e, nil
}

// Opener returns a snapshot.OpenFunc that opens Badger engines.
func Opener(cfg BadgerConfig, logger *slog.Logger) snapshot.OpenFunc {
	return func(ctx context.Context, path string) (snapshot.Engine, error) {
		return OpenBadgerEngine(path, cfg, logger)
	}
}

func (e *BadgerEngine) restore(backup string) error {
	f, err := os.Open(backup)
	if err != nil {
		return fmt.Errorf("storage: open checkpoint: %w", err)
	}
	defer f.Close()

	start := time.Now()
	if err := e.db.Load(f, loadMaxPendingWrites); err != nil {
		return fmt.Errorf("storage: load checkpoint: %w", err)
	}
	f.Close()
	if err := os.Remove(backup); err != nil {
		return fmt.Errorf("storage: remove checkpoint: %w", err)
	}

	e.logger.Info("checkpoint restored", "elapsed", time.Since(start))
	return nil
}

// Dir returns the engine directory.
func (e *BadgerEngine) Dir() string {
	return e.dir
}

// Get retrieves a value by key.
func (e *BadgerEngine) Get(ctx context.Context, key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores a key-value pair.
func (e *BadgerEngine) Set(ctx context.Context, key, value []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes a key.
func (e *BadgerEngine) Delete(ctx context.Context, key []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Scan iterates over keys with a given prefix. fn returns false to stop.
func (e *BadgerEngine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(item.KeyCopy(nil), value) {
				break
			}
		}
		return nil
	})
}

// ApplyWriteBatch applies every operation of b in one write batch.
func (e *BadgerEngine) ApplyWriteBatch(b *wal.Batch) error {
	if e.closed.Load() {
		return ErrClosed
	}
	wb := e.db.NewWriteBatch()
	defer wb.Cancel()

	for _, op := range b.Ops {
		var err error
		switch op.Type {
		case wal.OpTypePut:
			err = wb.Set(op.Key, op.Value)
		case wal.OpTypeDelete:
			err = wb.Delete(op.Key)
		default:
			err = fmt.Errorf("%w: %s", wal.ErrInvalidOpType, op.Type)
		}
		if err != nil {
			return fmt.Errorf("storage: apply %s: %w", op.Type, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("storage: flush write batch: %w", err)
	}
	return nil
}

// CheckAllIndexes verifies the checksums of every table.
func (e *BadgerEngine) CheckAllIndexes() error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.db.VerifyChecksum(); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexCorrupted, err)
	}
	return nil
}

// Checkpoint writes a full backup of the engine into dir. It returns the
// backup version.
func (e *BadgerEngine) Checkpoint(ctx context.Context, dir string) (uint64, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("storage: create checkpoint dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, BackupFileName))
	if err != nil {
		return 0, fmt.Errorf("storage: create checkpoint: %w", err)
	}
	version, err := e.db.Backup(f, 0)
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("storage: backup: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, fmt.Errorf("storage: sync checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("storage: close checkpoint: %w", err)
	}
	return version, nil
}

// GC runs value log GC until nothing is left to rewrite. It returns the
// number of rewritten files.
func (e *BadgerEngine) GC(ctx context.Context) (uint64, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	start := time.Now()

	var runs uint64
	for {
		if err := ctx.Err(); err != nil {
			return runs, err
		}
		err := e.db.RunValueLogGC(e.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
				break
			}
			return runs, fmt.Errorf("storage: gc: %w", err)
		}
		runs++
	}

	e.lastGCTime.Store(time.Now().UnixMilli())
	e.gcRuns.Add(runs)
	if e.metricsGCRuns != nil {
		e.metricsGCRuns.Add(float64(runs))
	}

	e.logger.Debug("gc completed", "rewritten_files", runs, "elapsed", time.Since(start))
	return runs, nil
}

// Stats returns storage statistics.
func (e *BadgerEngine) Stats() EngineStats {
	lsm, vlog := e.db.Size()
	return EngineStats{
		TotalSize:    uint64(lsm + vlog),
		LSMSize:      uint64(lsm),
		ValueLogSize: uint64(vlog),
		LastGCTime:   e.lastGCTime.Load(),
		GCRuns:       e.gcRuns.Load(),
	}
}

// Close stops background loops and closes the database. It is safe to
// call more than once.
func (e *BadgerEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.stopCh)
		e.wg.Wait()

		if cerr := e.db.Close(); cerr != nil {
			err = fmt.Errorf("storage: close badger: %w", cerr)
		}
		e.logger.Info("badger engine closed", "dir", e.dir)
	})
	return err
}

// RegisterMetrics registers engine gauges with reg and starts refreshing
// them. label distinguishes engines sharing a registry.
func (e *BadgerEngine) RegisterMetrics(reg prometheus.Registerer, label string) *BadgerEngine {
	constLabels := prometheus.Labels{"store": label}
	e.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "metastore",
		Subsystem:   "badger",
		Name:        "lsm_size_bytes",
		Help:        "Badger LSM tree size in bytes",
		ConstLabels: constLabels,
	})
	e.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "metastore",
		Subsystem:   "badger",
		Name:        "value_log_size_bytes",
		Help:        "Badger value log size in bytes",
		ConstLabels: constLabels,
	})
	e.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "metastore",
		Subsystem:   "badger",
		Name:        "last_gc_timestamp_seconds",
		Help:        "Unix timestamp of the last value log GC run",
		ConstLabels: constLabels,
	})
	e.metricsGCRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "metastore",
		Subsystem:   "badger",
		Name:        "gc_rewritten_files_total",
		Help:        "Value log files rewritten by GC",
		ConstLabels: constLabels,
	})

	reg.MustRegister(
		e.metricsLSMSize,
		e.metricsValueLogSize,
		e.metricsLastGCTime,
		e.metricsGCRuns,
	)

	e.refreshMetrics()
	e.wg.Add(1)
	go e.metricsUpdateLoop()
	return e
}

func (e *BadgerEngine) refreshMetrics() {
	stats := e.Stats()
	e.metricsLSMSize.Set(float64(stats.LSMSize))
	e.metricsValueLogSize.Set(float64(stats.ValueLogSize))
	if stats.LastGCTime > 0 {
		e.metricsLastGCTime.Set(float64(stats.LastGCTime) / 1000.0)
	}
}

func (e *BadgerEngine) metricsUpdateLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.refreshMetrics()
		case <-e.stopCh:
			return
		}
	}
}

func (e *BadgerEngine) gcLoop(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := e.GC(ctx); err != nil {
				e.logger.Error("auto gc failed", "error", err)
			}
			cancel()
		case <-e.stopCh:
			return
		}
	}
}

var _ snapshot.Engine = (*BadgerEngine)(nil)

func removeAllExcept(dir, keep string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
