package connection

import (
	"context"
	"errors"
	"net/http"
)

// KV is a key with its value.
type KV struct {
	Store string `json:"store"`
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// SnapshotInfo is one published snapshot.
type SnapshotInfo struct {
	ID      uint64 `json:"id"`
	Current bool   `json:"current"`
}

// StoreSnapshots lists the snapshots of one store.
type StoreSnapshots struct {
	Store     string         `json:"store"`
	Snapshots []SnapshotInfo `json:"snapshots"`
}

// Checkpoint is one published checkpoint.
type Checkpoint struct {
	Store    string `json:"store"`
	ID       uint64 `json:"id"`
	Prefix   string `json:"prefix"`
	Duration int64  `json:"duration"`
}

// Sweep is the retention sweep result of one store.
type Sweep struct {
	Store   string `json:"store"`
	Kept    int    `json:"kept"`
	Cutoff  uint64 `json:"cutoff"`
	Deleted int    `json:"deleted"`
}

// Status is the server status.
type Status struct {
	Build  Build        `json:"build"`
	Stores []StoreStats `json:"stores"`
}

// Build is the server build information.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// StoreStats is the state of one store.
type StoreStats struct {
	Name             string `json:"name"`
	SnapshotID       uint64 `json:"snapshot_id"`
	LastCheckpointAt int64  `json:"last_checkpoint_at"`
	Engine           struct {
		TotalSize uint64 `json:"total_size"`
	} `json:"engine"`
	WAL struct {
		NextSeq     uint64 `json:"next_seq"`
		PendingOps  int    `json:"pending_ops"`
		Chunks      uint64 `json:"chunks"`
		FlushErrors uint64 `json:"flush_errors"`
	} `json:"wal"`
}

// Get reads a key.
func (c *HTTPClient) Get(ctx context.Context, store, key string) (*KV, error) {
	var kv KV
	if err := c.Do(ctx, http.MethodGet, kvPath(store, key), nil, &kv); err != nil {
		return nil, err
	}
	return &kv, nil
}

// Put writes a key.
func (c *HTTPClient) Put(ctx context.Context, store, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return c.Do(ctx, http.MethodPut, kvPath(store, key), value, nil)
}

// Delete removes a key.
func (c *HTTPClient) Delete(ctx context.Context, store, key string) error {
	return c.Do(ctx, http.MethodDelete, kvPath(store, key), nil, nil)
}

// ListSnapshots lists snapshots of one store, or of all when store is empty.
func (c *HTTPClient) ListSnapshots(ctx context.Context, store string) ([]StoreSnapshots, error) {
	var resp struct {
		Stores []StoreSnapshots `json:"stores"`
	}
	if err := c.Do(ctx, http.MethodGet, withStore("/admin/v1/snapshots", store), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Stores, nil
}

// Checkpoint publishes a checkpoint of one store, or of all when store is
// empty.
func (c *HTTPClient) Checkpoint(ctx context.Context, store string) ([]Checkpoint, error) {
	var resp struct {
		Checkpoints []Checkpoint `json:"checkpoints"`
	}
	if err := c.Do(ctx, http.MethodPost, withStore("/admin/v1/checkpoint", store), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Checkpoints, nil
}

// Sweep runs the retention sweep of one store, or of all when store is
// empty.
func (c *HTTPClient) Sweep(ctx context.Context, store string) ([]Sweep, error) {
	var resp struct {
		Sweeps []Sweep `json:"sweeps"`
	}
	if err := c.Do(ctx, http.MethodPost, withStore("/admin/v1/snapshots/sweep", store), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sweeps, nil
}

// Status returns the server status.
func (c *HTTPClient) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.Do(ctx, http.MethodGet, "/admin/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Health checks /health and /ready.
func (c *HTTPClient) Health(ctx context.Context) (healthy, ready bool, err error) {
	if err := c.Do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return false, false, err
	}
	if err := c.Do(ctx, http.MethodGet, "/ready", nil, nil); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
			return true, false, nil
		}
		return true, false, err
	}
	return true, true, nil
}
