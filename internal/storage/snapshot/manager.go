package snapshot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/metastore-go/internal/storage/remotefs"
	"github.com/yndnr/metastore-go/internal/storage/wal"
	"github.com/yndnr/metastore-go/internal/telemetry/tracer"
)

// Default retention settings.
const (
	DefaultMinimumSnapshotsCount      = 5
	DefaultSnapshotsLifetime          = 24 * time.Hour
	DefaultSnapshotsDeletionBatchSize = 80
	DefaultTransferConcurrency        = 16
)

const discardTimeout = time.Minute

// Config holds retention and transfer settings for one store.
type Config struct {
	// MinimumSnapshotsCount is the number of newest snapshots that are
	// never deleted. Values below 1 are treated as 1.
	MinimumSnapshotsCount int `koanf:"minimum_snapshots_count"`

	// SnapshotsLifetime is the age after which a snapshot outside the
	// newest MinimumSnapshotsCount becomes deletable.
	SnapshotsLifetime time.Duration `koanf:"snapshots_lifetime"`

	// SnapshotsDeletionBatchSize is the number of deletes issued
	// concurrently by one sweep batch.
	SnapshotsDeletionBatchSize int `koanf:"snapshots_deletion_batch_size"`

	// TransferConcurrency bounds concurrent uploads and downloads.
	TransferConcurrency int `koanf:"transfer_concurrency"`
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() Config {
	return Config{
		MinimumSnapshotsCount:      DefaultMinimumSnapshotsCount,
		SnapshotsLifetime:          DefaultSnapshotsLifetime,
		SnapshotsDeletionBatchSize: DefaultSnapshotsDeletionBatchSize,
		TransferConcurrency:        DefaultTransferConcurrency,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.SnapshotsDeletionBatchSize <= 0 {
		cfg.SnapshotsDeletionBatchSize = DefaultSnapshotsDeletionBatchSize
	}
	if cfg.TransferConcurrency <= 0 {
		cfg.TransferConcurrency = DefaultTransferConcurrency
	}
}

// Engine is the local store a snapshot is loaded into.
type Engine interface {
	// ApplyWriteBatch applies one replayed WAL batch.
	ApplyWriteBatch(b *wal.Batch) error

	// CheckAllIndexes validates the engine after loading.
	CheckAllIndexes() error

	Close() error
}

// Manager publishes, loads, replays and prunes the snapshots of one store
// in a remote object store.
type Manager struct {
	naming  naming
	fs      remotefs.RemoteFS
	cfg     Config
	codec   *wal.Codec
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithCodec sets the WAL chunk codec.
func WithCodec(codec *wal.Codec) Option {
	return func(m *Manager) {
		if codec != nil {
			m.codec = codec
		}
	}
}

// WithMetrics enables metrics collection.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithClock overrides the clock used for retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a manager for the store called name.
func NewManager(name string, fs remotefs.RemoteFS, cfg Config, opts ...Option) (*Manager, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if fs == nil {
		return nil, fmt.Errorf("snapshot: remote fs is required")
	}
	applyDefaults(&cfg)

	m := &Manager{
		naming: newNaming(name),
		fs:     fs,
		cfg:    cfg,
		codec:  wal.NewCodec(nil),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "snapshot", "store", name)
	return m, nil
}

// NewForMetastore creates the manager for the metastore.
func NewForMetastore(fs remotefs.RemoteFS, cfg Config, opts ...Option) (*Manager, error) {
	return NewManager(MetastoreName, fs, cfg, opts...)
}

// NewForCachestore creates the manager for the cachestore.
func NewForCachestore(fs remotefs.RemoteFS, cfg Config, opts ...Option) (*Manager, error) {
	return NewManager(CachestoreName, fs, cfg, opts...)
}

// Name returns the store name.
func (m *Manager) Name() string {
	return m.naming.name
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// SnapshotPrefix returns the remote prefix of snapshot id, "{name}-{id}".
func (m *Manager) SnapshotPrefix(id ID) string {
	return m.naming.snapshotPrefix(id)
}

// PublishResult describes an uploaded checkpoint.
type PublishResult struct {
	Prefix string
	Files  []remotefs.FileInfo
	Bytes  int64
}

// UploadCheckpoint uploads every file of checkpointDir under remotePrefix,
// points the store at it and prunes old snapshots. The pointer is left
// unchanged if any upload fails.
func (m *Manager) UploadCheckpoint(ctx context.Context, remotePrefix, checkpointDir string) (err error) {
	ctx, span := tracer.StartSpan(ctx, "snapshot.UploadCheckpoint",
		attribute.String(tracer.AttrStore, m.Name()),
		attribute.String(tracer.AttrRemotePath, remotePrefix))
	defer func() { tracer.End(span, err) }()

	start := time.Now()
	res, err := m.UploadSnapshotFiles(ctx, remotePrefix, checkpointDir)
	if err != nil {
		m.metrics.observePublish(m.Name(), start, err)
		m.discardUpload(ctx, remotePrefix)
		return err
	}
	span.SetAttributes(attribute.Int(tracer.AttrFiles, len(res.Files)))

	if err := m.WriteCurrent(ctx, remotePrefix); err != nil {
		m.metrics.observePublish(m.Name(), start, err)
		// A failed pointer upload may still have landed.
		if id, ok, rerr := m.LoadCurrentSnapshotID(ctx); rerr == nil && (!ok || m.SnapshotPrefix(id) != remotePrefix) {
			m.discardUpload(ctx, remotePrefix)
		}
		return err
	}
	m.metrics.observePublish(m.Name(), start, nil)

	m.logger.Info("checkpoint published",
		"prefix", remotePrefix,
		"files", len(res.Files),
		"bytes", res.Bytes,
		"duration", time.Since(start))

	if err := m.DeleteOldSnapshots(ctx); err != nil {
		m.logger.Warn("snapshot sweep failed", "error", err)
	}
	return nil
}

// discardUpload removes the files of a snapshot that never became current.
func (m *Manager) discardUpload(ctx context.Context, remotePrefix string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()

	names, err := m.fs.List(ctx, remotePrefix+"/")
	if err == nil {
		for chunk := range slices.Chunk(names, m.cfg.SnapshotsDeletionBatchSize) {
			if err = m.deleteBatch(ctx, chunk); err != nil {
				break
			}
		}
	}
	if err != nil {
		m.logger.Warn("failed to discard unpublished snapshot",
			"prefix", remotePrefix,
			"error", err)
		return
	}
	m.logger.Info("unpublished snapshot discarded",
		"prefix", remotePrefix,
		"files", len(names))
}

// UploadSnapshotFiles uploads the regular files directly under dir to
// "{remotePrefix}/{file}" concurrently.
func (m *Manager) UploadSnapshotFiles(ctx context.Context, remotePrefix, dir string) (*PublishResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read checkpoint dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}

	files := make([]remotefs.FileInfo, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.TransferConcurrency)
	for i, name := range names {
		g.Go(func() error {
			remotePath := remotePrefix + "/" + name
			size, err := m.fs.UploadFile(gctx, filepath.Join(dir, name), remotePath)
			if err != nil {
				return fmt.Errorf("snapshot: upload %s: %w", remotePath, err)
			}
			files[i] = remotefs.FileInfo{RemotePath: remotePath, Size: size}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &PublishResult{Prefix: remotePrefix, Files: files}
	for _, f := range files {
		res.Bytes += f.Size
	}
	return res, nil
}

// FilesToLoad returns the files of snapshot id with their sizes.
func (m *Manager) FilesToLoad(ctx context.Context, id ID) ([]remotefs.FileInfo, error) {
	prefix := m.naming.snapshotPrefix(id) + "/"
	files, err := m.fs.ListWithMetadata(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", prefix, err)
	}
	return files, nil
}

// MakeLocalDir creates dir and its parents.
func (m *Manager) MakeLocalDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create %s: %w", dir, err)
	}
	return nil
}

// downloadSnapshot downloads every file of id and copies it into dir.
func (m *Manager) downloadSnapshot(ctx context.Context, id ID, dir string) (int, error) {
	files, err := m.FilesToLoad(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := m.MakeLocalDir(dir); err != nil {
		return 0, err
	}

	prefix := m.naming.snapshotPrefix(id) + "/"
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.TransferConcurrency)
	for _, f := range files {
		g.Go(func() error {
			cached, err := m.fs.DownloadFile(gctx, f.RemotePath, nil)
			if err != nil {
				return fmt.Errorf("snapshot: download %s: %w", f.RemotePath, err)
			}
			rel := path.Clean(f.RemotePath[len(prefix):])
			if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
				return fmt.Errorf("snapshot: unsafe file name %s", f.RemotePath)
			}
			dst := filepath.Join(dir, filepath.FromSlash(rel))
			if err := copyFile(cached, dst); err != nil {
				return fmt.Errorf("snapshot: copy %s: %w", f.RemotePath, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(files), nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
