package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/yndnr/metastore-go/internal/storage/snapshot"
	"github.com/yndnr/metastore-go/internal/storage/wal"
	"github.com/yndnr/metastore-go/internal/telemetry/logger"
	"github.com/yndnr/metastore-go/pkg/token"
)

// Validation errors.
var (
	ErrDataDirRequired   = errors.New("config: storage.data_dir is required")
	ErrUnknownBackend    = errors.New("config: unknown remote.backend")
	ErrBucketRequired    = errors.New("config: remote.s3.bucket is required")
	ErrRootRequired      = errors.New("config: remote.local.root is required")
	ErrNegativeRetention = errors.New("config: retention values must not be negative")
)

// Verify validates the configuration and returns every problem found.
func Verify(cfg *ServerConfig) error {
	var errs []error
	errs = append(errs, verifyServer(&cfg.Server)...)
	errs = append(errs, verifyStorage(&cfg.Storage)...)
	errs = append(errs, verifyRemote(&cfg.Remote)...)
	errs = append(errs, verifyRetention("snapshots.metastore", cfg.Snapshots.Metastore)...)
	errs = append(errs, verifyRetention("snapshots.cachestore", cfg.Snapshots.Cachestore)...)
	errs = append(errs, verifyAdmin(&cfg.Admin)...)
	if !logger.ValidLevel(cfg.Log.Level) {
		errs = append(errs, fmt.Errorf("config: log.level %q is invalid", cfg.Log.Level))
	}
	return errors.Join(errs...)
}

func verifyServer(s *ServerSection) []error {
	var errs []error
	if _, _, err := net.SplitHostPort(s.HTTP.Addr); err != nil {
		errs = append(errs, fmt.Errorf("config: server.http.addr: %w", err))
	}
	if err := s.HTTP.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: server.http.tls: %w", err))
	}
	return errs
}

func verifyStorage(s *StorageSection) []error {
	var errs []error
	if strings.TrimSpace(s.DataDir) == "" {
		errs = append(errs, ErrDataDirRequired)
	}
	switch s.WAL.SyncMode {
	case "", wal.SyncModeSync, wal.SyncModeBatch:
	default:
		errs = append(errs, fmt.Errorf("config: storage.wal.sync_mode %q is invalid", s.WAL.SyncMode))
	}
	if err := snapshot.ValidateConfig(s.Encryption); err != nil {
		errs = append(errs, fmt.Errorf("config: storage.encryption: %w", err))
	}
	return errs
}

func verifyRemote(r *RemoteSection) []error {
	switch r.Backend {
	case BackendLocal:
		if r.Local.Root == "" {
			return []error{ErrRootRequired}
		}
	case BackendS3:
		if r.S3.Bucket == "" {
			return []error{ErrBucketRequired}
		}
	case BackendMemory:
	default:
		return []error{fmt.Errorf("%w: %q", ErrUnknownBackend, r.Backend)}
	}
	return nil
}

func verifyRetention(section string, c snapshot.Config) []error {
	if c.MinimumSnapshotsCount < 0 || c.SnapshotsLifetime < 0 || c.SnapshotsDeletionBatchSize < 0 {
		return []error{fmt.Errorf("%w: %s", ErrNegativeRetention, section)}
	}
	return nil
}

func verifyAdmin(a *AdminSection) []error {
	var errs []error
	for _, cidr := range a.AllowList {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			errs = append(errs, fmt.Errorf("config: admin.allow_list %q: %w", cidr, err))
		}
	}
	if a.TokenHash != "" {
		if err := token.ValidateHash(a.TokenHash); err != nil {
			errs = append(errs, fmt.Errorf("config: admin.token_hash: %w", err))
		}
	}
	if a.RateLimit < 0 || a.RateBurst < 0 {
		errs = append(errs, errors.New("config: admin rate limit must not be negative"))
	}
	return errs
}
