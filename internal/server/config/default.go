package config

import (
	"time"

	"github.com/yndnr/metastore-go/internal/storage"
	"github.com/yndnr/metastore-go/internal/storage/remotefs"
	"github.com/yndnr/metastore-go/internal/storage/snapshot"
	"github.com/yndnr/metastore-go/internal/storage/wal"
	"github.com/yndnr/metastore-go/internal/telemetry/logger"
	"github.com/yndnr/metastore-go/internal/telemetry/tracer"
)

// Default configuration values.
const (
	DefaultHTTPAddr        = "127.0.0.1:7480"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultDataDir       = "/var/lib/metastore-server/data"
	DefaultRemoteRoot    = "/var/lib/metastore-server/remote"
	DefaultCacheDir      = "/var/lib/metastore-server/cache"
	DefaultRemoteBackend = BackendLocal

	DefaultMetricsPath = "/metrics"

	DefaultAdminRateLimit = 5.0
	DefaultAdminRateBurst = 10
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:            DefaultHTTPAddr,
				ReadTimeout:     DefaultReadTimeout,
				WriteTimeout:    DefaultWriteTimeout,
				IdleTimeout:     DefaultIdleTimeout,
				ShutdownTimeout: DefaultShutdownTimeout,
			},
		},
		Storage: StorageSection{
			DataDir:            DefaultDataDir,
			CachestoreEnabled:  true,
			CheckpointInterval: storage.DefaultCheckpointInterval,
			CheckpointTimeout:  storage.DefaultCheckpointTimeout,
			Badger:             storage.DefaultBadgerConfig(),
			WAL:                wal.DefaultConfig(),
		},
		Remote: RemoteSection{
			Backend:  DefaultRemoteBackend,
			Local:    remotefs.LocalConfig{Root: DefaultRemoteRoot},
			CacheDir: DefaultCacheDir,
		},
		Snapshots: SnapshotsSection{
			Metastore:  snapshot.DefaultConfig(),
			Cachestore: snapshot.DefaultConfig(),
		},
		Log: logger.DefaultConfig(),
		Telemetry: TelemetrySection{
			Tracing: tracer.DefaultConfig(),
			Metrics: MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
		},
		Admin: AdminSection{
			RateLimit: DefaultAdminRateLimit,
			RateBurst: DefaultAdminRateBurst,
		},
	}
}
