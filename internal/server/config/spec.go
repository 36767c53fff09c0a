package config

import (
	"path/filepath"
	"time"

	"github.com/yndnr/metastore-go/internal/infra/tlsroots"
	"github.com/yndnr/metastore-go/internal/storage"
	"github.com/yndnr/metastore-go/internal/storage/remotefs"
	"github.com/yndnr/metastore-go/internal/storage/remotefs/s3"
	"github.com/yndnr/metastore-go/internal/storage/snapshot"
	"github.com/yndnr/metastore-go/internal/storage/wal"
	"github.com/yndnr/metastore-go/internal/telemetry/logger"
	"github.com/yndnr/metastore-go/internal/telemetry/tracer"
)

// Remote backends.
const (
	BackendLocal  = "local"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// ServerConfig is the root configuration for metastore-server.
type ServerConfig struct {
	Server    ServerSection    `koanf:"server"`
	Storage   StorageSection   `koanf:"storage"`
	Remote    RemoteSection    `koanf:"remote"`
	Snapshots SnapshotsSection `koanf:"snapshots"`
	Log       logger.Config    `koanf:"log"`
	Telemetry TelemetrySection `koanf:"telemetry"`
	Admin     AdminSection     `koanf:"admin"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr            string          `koanf:"addr"`
	ReadTimeout     time.Duration   `koanf:"read_timeout"`
	WriteTimeout    time.Duration   `koanf:"write_timeout"`
	IdleTimeout     time.Duration   `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration   `koanf:"shutdown_timeout"`
	TLS             tlsroots.Config `koanf:"tls"`
}

// StorageSection configures the local stores.
type StorageSection struct {
	// DataDir holds one sub-directory per store.
	DataDir string `koanf:"data_dir"`

	// CachestoreEnabled opens the cachestore next to the metastore.
	CachestoreEnabled bool `koanf:"cachestore_enabled"`

	CheckpointInterval time.Duration             `koanf:"checkpoint_interval"`
	CheckpointTimeout  time.Duration             `koanf:"checkpoint_timeout"`
	Badger             storage.BadgerConfig      `koanf:"badger"`
	WAL                wal.Config                `koanf:"wal"`
	Encryption         snapshot.EncryptionConfig `koanf:"encryption"`
}

// RemoteSection selects and configures the remote object store.
type RemoteSection struct {
	Backend string               `koanf:"backend"`
	Local   remotefs.LocalConfig `koanf:"local"`
	S3      s3.Config            `koanf:"s3"`

	// CacheDir holds downloaded objects for every backend.
	CacheDir string `koanf:"cache_dir"`
}

// SnapshotsSection holds the retention configuration per store.
type SnapshotsSection struct {
	Metastore  snapshot.Config `koanf:"metastore"`
	Cachestore snapshot.Config `koanf:"cachestore"`
}

// TelemetrySection configures tracing and metrics.
type TelemetrySection struct {
	Tracing tracer.Config `koanf:"tracing"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// AdminSection protects the admin API.
type AdminSection struct {
	// Token is the bearer token required by /admin routes. Empty disables
	// token checks.
	Token string `koanf:"token"`

	// TokenHash is the hex SHA-256 of the token. It is used when Token is
	// empty so the plaintext need not be stored.
	TokenHash string `koanf:"token_hash"`

	// AllowList restricts /admin routes to these CIDRs. Empty allows all.
	AllowList []string `koanf:"allow_list"`

	// RateLimit is the admin request rate per second. Zero disables it.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// StoreDir returns the local directory of the named store.
func (c *ServerConfig) StoreDir(name string) string {
	return filepath.Join(c.Storage.DataDir, name)
}

// StoreConfig returns the storage.Config of the named store.
func (c *ServerConfig) StoreConfig(name string) storage.Config {
	cfg := storage.DefaultConfig(c.StoreDir(name))
	if c.Storage.CheckpointInterval > 0 {
		cfg.CheckpointInterval = c.Storage.CheckpointInterval
	}
	if c.Storage.CheckpointTimeout > 0 {
		cfg.CheckpointTimeout = c.Storage.CheckpointTimeout
	}
	cfg.Badger = c.Storage.Badger
	cfg.WAL = c.Storage.WAL
	return cfg
}

// RetentionConfig returns the retention configuration of the named store.
func (c *ServerConfig) RetentionConfig(name string) snapshot.Config {
	if name == snapshot.CachestoreName {
		return c.Snapshots.Cachestore
	}
	return c.Snapshots.Metastore
}
