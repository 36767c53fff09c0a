// Package snapshot manages durable snapshots of an embedded engine in a
// remote object store, plus the WAL chunks written between snapshots.
//
// Remote layout for a store named {name}:
//
//	{name}-{id}/<files>          snapshot file set
//	{name}-{id}-logs/{seq}.flex  WAL chunk seq written after snapshot id
//	{name}-current               text naming the active snapshot prefix
//
// The id is the snapshot creation time in Unix milliseconds.
//
// Lifecycle:
//
//  1. Bootstrap (LoadFromRemote): use the local copy if present, else
//     download the current snapshot and replay its WAL chunks.
//  2. Publish (UploadCheckpoint): upload a local checkpoint directory,
//     overwrite {name}-current, then sweep old snapshots.
//  3. Sweep (DeleteOldSnapshots): two bounded passes over a paginated
//     listing keep the newest MinimumSnapshotsCount snapshots and delete
//     the rest once they are older than SnapshotsLifetime.
//
// Overwriting {name}-current is the only atomic state transition. A
// publish that fails before that point leaves the previous snapshot
// current.
package snapshot
