// Package storage provides the durable local stores of metastore.
//
// A Store pairs a Badger engine with a snapshot.Manager:
//
//   - Bootstrap: the engine directory is reused if populated, otherwise the
//     current remote snapshot is restored and its WAL chunks replayed.
//   - Writes: applied to Badger, then queued in the WAL writer which uploads
//     sequence-numbered chunks to {name}-{id}-logs.
//   - Checkpoint: a Badger backup is published as {name}-{id}, the current
//     pointer is moved to it, old snapshots are swept and the WAL starts a
//     new generation.
//
// Subpackages:
//
//   - remotefs: object store abstraction (local dir, memory, S3)
//   - snapshot: snapshot publish, bootstrap, retention and catalog
//   - wal: write batch codec and chunk writer
package storage
