package storage

import "time"

// EngineStats contains storage engine statistics.
type EngineStats struct {
	// TotalSize is the total disk usage in bytes.
	TotalSize uint64 `json:"total_size"`

	// LSMSize is the LSM tree size.
	LSMSize uint64 `json:"lsm_size"`

	// ValueLogSize is the value log size.
	ValueLogSize uint64 `json:"value_log_size"`

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64 `json:"last_gc_time"`

	// GCRuns is the number of value log files rewritten by GC.
	GCRuns uint64 `json:"gc_runs"`
}

// BadgerConfig contains Badger tuning parameters.
type BadgerConfig struct {
	// GCInterval is the interval between automatic value log GC runs.
	// Zero disables automatic GC.
	GCInterval time.Duration `koanf:"gc_interval"`

	// GCThreshold is the GC discard ratio (0.0-1.0).
	GCThreshold float64 `koanf:"gc_threshold"`

	// CacheSize is the block cache size in bytes.
	CacheSize int64 `koanf:"cache_size"`

	// ValueLogFileSize is the max value log file size in bytes.
	ValueLogFileSize int64 `koanf:"value_log_file_size"`

	// NumMemtables is the number of memtables.
	NumMemtables int `koanf:"num_memtables"`

	// NumLevelZeroTables is the number of Level 0 tables before compaction.
	NumLevelZeroTables int `koanf:"num_level_zero_tables"`

	// NumLevelZeroTablesStall is the number of Level 0 tables that triggers a write stall.
	NumLevelZeroTablesStall int `koanf:"num_level_zero_tables_stall"`

	// SyncWrites fsyncs after each write. The WAL already makes writes
	// durable remotely, so this is off by default.
	SyncWrites bool `koanf:"sync_writes"`
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:              10 * time.Minute,
		GCThreshold:             0.5,
		CacheSize:               64 << 20, // 64MB
		ValueLogFileSize:        1 << 28,  // 256MB
		NumMemtables:            2,
		NumLevelZeroTables:      5,
		NumLevelZeroTablesStall: 10,
	}
}
