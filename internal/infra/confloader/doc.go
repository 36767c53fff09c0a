// Package confloader loads configuration with koanf.
//
// Sources, lowest to highest priority:
//
//  1. Values already present in the target struct (defaults)
//  2. YAML configuration file
//  3. Environment variables
//  4. Explicit maps (command-line flags)
//
// Environment variables use "__" between levels so that keys may contain
// single underscores:
//
//	METASTORE_SNAPSHOTS__METASTORE__MINIMUM_SNAPSHOTS_COUNT=3
//	-> snapshots.metastore.minimum_snapshots_count
//
// Watcher reports changes of the configuration file, used to reload the
// log level without a restart.
package confloader
