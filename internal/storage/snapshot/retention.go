package snapshot

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/metastore-go/internal/storage/remotefs"
	"github.com/yndnr/metastore-go/internal/telemetry/tracer"
)

// SweepResult describes one retention sweep.
type SweepResult struct {
	// Kept is the number of newest snapshots protected by the minimum count.
	Kept int `json:"kept"`

	// Cutoff is the id below which files were deleted. Zero if the sweep
	// stopped before pass 2.
	Cutoff ID `json:"cutoff"`

	// Deleted is the number of remote files removed.
	Deleted int `json:"deleted"`
}

// idHeap is a min-heap of snapshot ids.
type idHeap []ID

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(ID)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// DeleteOldSnapshots removes every snapshot and WAL object that is both
// older than SnapshotsLifetime and outside the newest
// MinimumSnapshotsCount snapshots.
func (m *Manager) DeleteOldSnapshots(ctx context.Context) error {
	_, err := m.Sweep(ctx)
	return err
}

// Sweep runs DeleteOldSnapshots and reports what it did.
//
// Pass 1 streams the listing once and keeps the newest ids in a bounded
// min-heap, so memory stays proportional to MinimumSnapshotsCount. Pass 2
// lists again and deletes in batches. Objects created between the passes
// are judged against the cutoff computed by pass 1.
func (m *Manager) Sweep(ctx context.Context) (res *SweepResult, err error) {
	ctx, span := tracer.StartSpan(ctx, "snapshot.Sweep",
		attribute.String(tracer.AttrStore, m.Name()))
	defer func() { tracer.End(span, err) }()

	minCount := max(1, m.cfg.MinimumSnapshotsCount)
	cutoff := ID(0)
	if now := m.now().UnixMilli() - m.cfg.SnapshotsLifetime.Milliseconds(); now > 0 {
		cutoff = ID(now)
	}

	res = &SweepResult{}
	top := make(idHeap, 0, minCount)
	inTop := make(map[ID]struct{}, minCount)
	deletablePresent := false

	it := m.fs.ListByPage(ctx, m.naming.listPrefix())
	for {
		page, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot: sweep list: %w", err)
		}
		for _, name := range page {
			id, ok := m.naming.parseObject(name)
			if !ok {
				continue
			}
			if _, seen := inTop[id]; seen {
				continue
			}
			switch {
			case top.Len() < minCount:
				heap.Push(&top, id)
				inTop[id] = struct{}{}
			case id > top[0]:
				evicted := heap.Pop(&top).(ID)
				delete(inTop, evicted)
				if evicted < cutoff {
					deletablePresent = true
				}
				heap.Push(&top, id)
				inTop[id] = struct{}{}
			default:
				if id < cutoff {
					deletablePresent = true
				}
			}
		}
	}

	res.Kept = top.Len()
	if top.Len() == 0 {
		m.logger.Warn("no snapshots found, nothing to sweep")
		return res, nil
	}
	if !deletablePresent {
		m.logger.Info("no snapshots to delete",
			"kept", res.Kept,
			"lifetime", m.cfg.SnapshotsLifetime)
		return res, nil
	}

	deleteCutoff := min(cutoff, top[0])
	res.Cutoff = deleteCutoff
	span.SetAttributes(attribute.String(tracer.AttrSnapshotID, deleteCutoff.String()))

	deleted, err := m.deleteBelow(ctx, deleteCutoff)
	res.Deleted = deleted
	m.metrics.observeSweep(m.Name(), deleted)
	if err != nil {
		return res, err
	}

	m.logger.Info("old snapshots deleted",
		"cutoff", deleteCutoff.String(),
		"cutoff_time", deleteCutoff.Time().UTC().Format(time.RFC3339),
		"files", deleted,
		"kept", res.Kept)
	return res, nil
}

// deleteBelow removes every store object whose id is strictly below cutoff.
func (m *Manager) deleteBelow(ctx context.Context, cutoff ID) (int, error) {
	batchSize := m.cfg.SnapshotsDeletionBatchSize
	batch := make([]string, 0, batchSize)
	deleted := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := m.deleteBatch(ctx, batch); err != nil {
			return err
		}
		deleted += len(batch)
		batch = batch[:0]
		return nil
	}

	it := m.fs.ListByPage(ctx, m.naming.listPrefix())
	for {
		page, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return deleted, fmt.Errorf("snapshot: sweep list: %w", err)
		}
		for _, name := range page {
			id, ok := m.naming.parseObject(name)
			if !ok || id >= cutoff {
				continue
			}
			batch = append(batch, name)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return deleted, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (m *Manager) deleteBatch(ctx context.Context, names []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			m.logger.Debug("deleting snapshot object", "path", name)
			if err := m.fs.DeleteFile(gctx, name); err != nil && !errors.Is(err, remotefs.ErrNotFound) {
				return fmt.Errorf("snapshot: delete %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
