// Package remotefs provides the remote object store used to persist
// snapshots, WAL chunks and the current pointer.
//
// Remote paths are slash-separated object names such as
// "metastore-1700000000000/engine.bak". Every backend keeps a local
// cache directory: downloads land there and LocalFile maps a remote
// path to its cached location.
//
// Backends:
//
//   - Local: a directory tree on disk (single host, tests, dev)
//   - Memory: an in-process map with per-operation call counters
//   - s3.Store: Amazon S3 or any S3-compatible endpoint
//
// Listing order is not part of the contract. Callers that need an
// order must sort.
package remotefs
