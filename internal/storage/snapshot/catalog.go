package snapshot

import (
	"context"
	"fmt"
	"sort"
)

// SnapshotInfo describes one published snapshot.
type SnapshotInfo struct {
	ID      ID   `json:"id"`
	Current bool `json:"current"`
}

// ListSnapshots returns the published snapshots in ascending id order.
// The snapshot named by the locally cached pointer is flagged Current; if
// the cached pointer cannot be read no snapshot is flagged.
func (m *Manager) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	names, err := m.fs.List(ctx, m.naming.listPrefix())
	if err != nil {
		return nil, fmt.Errorf("snapshot: list snapshots: %w", err)
	}

	seen := make(map[ID]struct{})
	ids := make([]ID, 0)
	for _, name := range names {
		id, ok := m.naming.parseCatalog(name)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	current, hasCurrent, err := m.ParseLocalCurrentSnapshotID()
	if err != nil {
		hasCurrent = false
	}

	out := make([]SnapshotInfo, len(ids))
	for i, id := range ids {
		out[i] = SnapshotInfo{ID: id, Current: hasCurrent && id == current}
	}
	return out, nil
}
