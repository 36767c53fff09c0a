package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/metastore-go/internal/infra/buildinfo"
	"github.com/yndnr/metastore-go/internal/infra/confloader"
	"github.com/yndnr/metastore-go/internal/infra/shutdown"
	"github.com/yndnr/metastore-go/internal/infra/tlsroots"
	"github.com/yndnr/metastore-go/internal/server/config"
	"github.com/yndnr/metastore-go/internal/server/httpserver"
	"github.com/yndnr/metastore-go/internal/server/httpserver/handler"
	"github.com/yndnr/metastore-go/internal/storage"
	"github.com/yndnr/metastore-go/internal/storage/remotefs"
	"github.com/yndnr/metastore-go/internal/storage/remotefs/s3"
	"github.com/yndnr/metastore-go/internal/storage/snapshot"
	"github.com/yndnr/metastore-go/internal/telemetry/logger"
	"github.com/yndnr/metastore-go/internal/telemetry/metric"
	"github.com/yndnr/metastore-go/internal/telemetry/tracer"
)

// server owns every long-lived component of the process.
type server struct {
	cfg      *config.ServerConfig
	loader   *confloader.Loader
	log      *slog.Logger
	stores   []*storage.Store
	handler  *handler.Handler
	http     *httpserver.Server
	shutdown *shutdown.Handler

	// reloadMu serializes SIGHUP and file-watch reloads.
	reloadMu sync.Mutex
}

// newServer builds the components in dependency order. Hooks are
// registered as components come up so a failure part way releases what
// was already opened.
func newServer(ctx context.Context, cfg *config.ServerConfig, loader *confloader.Loader, log *slog.Logger) (s *server, err error) {
	s = &server{
		cfg:      cfg,
		loader:   loader,
		log:      log,
		shutdown: shutdown.NewHandler(cfg.Server.HTTP.ShutdownTimeout, shutdown.WithLogger(log)),
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, s.shutdown.Shutdown())
		}
	}()

	info := buildinfo.Get()
	if cfg.Telemetry.Tracing.ServiceVersion == "" || cfg.Telemetry.Tracing.ServiceVersion == "dev" {
		cfg.Telemetry.Tracing.ServiceVersion = info.Version
	}
	tp, err := tracer.New(ctx, cfg.Telemetry.Tracing)
	if err != nil {
		return nil, err
	}
	s.shutdown.OnShutdown("tracer", tp.Shutdown)

	reg := metric.NewRegistry()
	reg.SetBuildInfo(info.Version, info.Commit, info.GoVersion)

	fs, closer, err := openRemote(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		s.shutdown.OnShutdown("remote", func(context.Context) error { return closer.Close() })
	}
	instrumented := remotefs.Instrument(fs, remotefs.NewMetrics(reg.Registerer()))

	s.stores, err = openStores(ctx, cfg, instrumented, reg, log)
	if err != nil {
		return nil, err
	}
	s.shutdown.OnShutdown("stores", s.closeStores)

	reg.Registerer().MustRegister(metric.NewCollector(s.storeSamples))

	handlerStores := make([]handler.Store, len(s.stores))
	for i, st := range s.stores {
		handlerStores[i] = st
	}
	s.handler = handler.New(handlerStores, handler.WithLogger(log))

	var metrics *metric.Registry
	if cfg.Telemetry.Metrics.Enabled {
		metrics = reg
	}
	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Handler:        s.handler,
		Logger:         log,
		Metrics:        metrics,
		MetricsPath:    cfg.Telemetry.Metrics.Path,
		AdminToken:     cfg.Admin.Token,
		AdminTokenHash: cfg.Admin.TokenHash,
		AdminAllowList: cfg.Admin.AllowList,
		AdminRateLimit: cfg.Admin.RateLimit,
		AdminRateBurst: cfg.Admin.RateBurst,
		EnableAudit:    logger.GetLevel() == "debug",
	})

	tlsCfg, certWatcher, err := tlsroots.ServerConfig(cfg.Server.HTTP.TLS, log)
	if err != nil {
		return nil, fmt.Errorf("server tls: %w", err)
	}
	if certWatcher != nil {
		s.shutdown.OnShutdown("tls-watcher", func(context.Context) error {
			certWatcher.Stop()
			return nil
		})
	}

	s.http = httpserver.New(httpserver.Config{
		Addr:         cfg.Server.HTTP.Addr,
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
		TLS:          tlsCfg,
	}, router, log)
	return s, nil
}

// start binds the listener, serves in the background and enables config
// reload. A serve failure cancels ctx through cancel.
func (s *server) start(cancel context.CancelCauseFunc) error {
	if err := s.http.Listen(); err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.HTTP.Addr, err)
	}
	s.shutdown.OnShutdown("http", func(ctx context.Context) error {
		s.handler.SetReady(false)
		return s.http.Shutdown(ctx)
	})
	go func() {
		if err := s.http.Serve(); err != nil {
			s.log.Error("http server failed", "error", err)
			cancel(fmt.Errorf("http server: %w", err))
		}
	}()

	s.shutdown.OnReload(s.reload)
	if path := s.loader.FilePath(); path != "" {
		w, err := confloader.NewWatcher(confloader.WithWatcherLogger(s.log))
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		if err := w.Watch(path); err != nil {
			_ = w.Stop()
			return fmt.Errorf("watch %s: %w", path, err)
		}
		w.OnChange(func(string) { s.reload() })
		w.StartAsync()
		s.shutdown.OnShutdown("config-watcher", func(context.Context) error { return w.Stop() })
	}

	s.handler.SetReady(true)
	s.log.Info("metastore-server ready", "addr", s.http.Addr(), "stores", len(s.stores))
	return nil
}

// reload re-reads the configuration and applies the settings that can
// change at runtime. Only the log level is live.
func (s *server) reload() {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	next := config.Default()
	if err := s.loader.Reload(next); err != nil {
		s.log.Warn("config reload failed", "error", err)
		return
	}
	if err := config.Verify(next); err != nil {
		s.log.Warn("reloaded config is invalid, keeping current", "error", err)
		return
	}
	if next.Log.Level != s.cfg.Log.Level {
		logger.SetLevel(next.Log.Level)
		s.log.Info("log level changed", "from", s.cfg.Log.Level, "to", next.Log.Level)
		s.cfg.Log.Level = next.Log.Level
	}
}

func (s *server) closeStores(ctx context.Context) error {
	var errs []error
	for _, st := range s.stores {
		if err := st.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", st.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *server) storeSamples() []metric.StoreSample {
	samples := make([]metric.StoreSample, 0, len(s.stores))
	for _, st := range s.stores {
		stats := st.Stats()
		samples = append(samples, metric.StoreSample{
			Name:             stats.Name,
			SnapshotID:       uint64(stats.SnapshotID),
			LastCheckpointAt: stats.LastCheckpointAt,
			WALPendingOps:    stats.WAL.PendingOps,
			WALNextSeq:       stats.WAL.NextSeq,
			WALFlushErrors:   stats.WAL.FlushErrors,
		})
	}
	return samples
}

// openRemote opens the configured remote backend. The closer is nil for
// backends without resources.
func openRemote(ctx context.Context, cfg *config.ServerConfig, log *slog.Logger) (remotefs.RemoteFS, io.Closer, error) {
	switch cfg.Remote.Backend {
	case config.BackendLocal:
		lc := cfg.Remote.Local
		if lc.CacheDir == "" {
			lc.CacheDir = cfg.Remote.CacheDir
		}
		fs, err := remotefs.NewLocal(lc)
		if err != nil {
			return nil, nil, fmt.Errorf("open local remote: %w", err)
		}
		log.Info("remote store opened", "backend", config.BackendLocal, "root", lc.Root)
		return fs, fs, nil
	case config.BackendS3:
		sc := cfg.Remote.S3
		if sc.CacheDir == "" {
			sc.CacheDir = cfg.Remote.CacheDir
		}
		fs, err := s3.NewFromConfig(ctx, sc)
		if err != nil {
			return nil, nil, fmt.Errorf("open s3 remote: %w", err)
		}
		log.Info("remote store opened", "backend", config.BackendS3, "bucket", sc.Bucket, "prefix", sc.KeyPrefix)
		return fs, fs, nil
	case config.BackendMemory:
		fs, err := remotefs.NewMemory(cfg.Remote.CacheDir, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("open memory remote: %w", err)
		}
		log.Warn("remote store is in memory, snapshots do not survive a restart")
		return fs, fs, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", config.ErrUnknownBackend, cfg.Remote.Backend)
	}
}

// openStores bootstraps the enabled stores concurrently.
func openStores(ctx context.Context, cfg *config.ServerConfig, fs remotefs.RemoteFS, reg *metric.Registry, log *slog.Logger) ([]*storage.Store, error) {
	names := []string{snapshot.MetastoreName}
	if cfg.Storage.CachestoreEnabled {
		names = append(names, snapshot.CachestoreName)
	}

	snapMetrics := snapshot.NewMetrics(reg.Registerer())
	stores := make([]*storage.Store, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			st, err := openStore(gctx, cfg, name, fs, snapMetrics, reg, log)
			if err != nil {
				return err
			}
			stores[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, st := range stores {
			if st != nil {
				_ = st.Close(ctx)
			}
		}
		return nil, err
	}
	return stores, nil
}

func openStore(ctx context.Context, cfg *config.ServerConfig, name string, fs remotefs.RemoteFS,
	snapMetrics *snapshot.Metrics, reg *metric.Registry, log *slog.Logger) (*storage.Store, error) {
	codec, err := snapshot.NewCodec(cfg.Storage.Encryption, name)
	if err != nil {
		return nil, fmt.Errorf("%s: wal codec: %w", name, err)
	}
	opts := []snapshot.Option{
		snapshot.WithLogger(log),
		snapshot.WithCodec(codec),
		snapshot.WithMetrics(snapMetrics),
	}

	var mgr *snapshot.Manager
	if name == snapshot.CachestoreName {
		mgr, err = snapshot.NewForCachestore(fs, cfg.RetentionConfig(name), opts...)
	} else {
		mgr, err = snapshot.NewForMetastore(fs, cfg.RetentionConfig(name), opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: snapshot manager: %w", name, err)
	}

	st, err := storage.Open(ctx, cfg.StoreConfig(name), mgr,
		storage.WithLogger(log),
		storage.WithRegisterer(reg.Registerer()),
	)
	if err != nil {
		return nil, err
	}
	log.Info("store opened", "store", name, "snapshot_id", st.Stats().SnapshotID)
	return st, nil
}
