package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yndnr/metastore-go/internal/storage/wal"
	"github.com/yndnr/metastore-go/internal/telemetry/tracer"
)

// LogsDir returns the remote WAL directory of snapshot id.
func (m *Manager) LogsDir(id ID) string {
	return m.naming.logsDir(id)
}

// UploadLog encodes b and uploads it as chunk seq of dir. It returns the
// uploaded size. It implements wal.Uploader.
func (m *Manager) UploadLog(ctx context.Context, dir string, seq uint64, b *wal.Batch) (int64, error) {
	remotePath := LogChunkPath(dir, seq)
	local, err := m.fs.LocalFile(remotePath)
	if err != nil {
		return 0, fmt.Errorf("snapshot: stage %s: %w", remotePath, err)
	}
	if _, err := m.codec.WriteFile(local, b); err != nil {
		return 0, fmt.Errorf("snapshot: encode %s: %w", remotePath, err)
	}
	defer os.Remove(local)

	size, err := m.fs.UploadFile(ctx, local, remotePath)
	if err != nil {
		return 0, fmt.Errorf("snapshot: upload %s: %w", remotePath, err)
	}
	m.metrics.observeLogUpload(m.Name(), size)
	return size, nil
}

var _ wal.Uploader = (*Manager)(nil)

type logChunk struct {
	seq  uint64
	path string
}

// ReplayLogs applies every WAL chunk of snapshot id to engine in sequence
// order. A chunk that fails to decode ends replay without error; later
// chunks are skipped.
func (m *Manager) ReplayLogs(ctx context.Context, engine Engine, id ID) error {
	_, err := m.replayLogs(ctx, engine, id)
	return err
}

func (m *Manager) replayLogs(ctx context.Context, engine Engine, id ID) (applied int, err error) {
	dir := m.naming.logsDir(id)
	ctx, span := tracer.StartSpan(ctx, "snapshot.ReplayLogs",
		attribute.String(tracer.AttrStore, m.Name()),
		attribute.String(tracer.AttrSnapshotID, id.String()))
	defer func() {
		span.SetAttributes(attribute.Int(tracer.AttrChunks, applied))
		tracer.End(span, err)
	}()

	names, err := m.fs.List(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("snapshot: list %s: %w", dir, err)
	}

	chunks := make([]logChunk, 0, len(names))
	for _, name := range names {
		seq, err := ParseLogSeq(name)
		if err != nil {
			return 0, err
		}
		chunks = append(chunks, logChunk{seq: seq, path: name})
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].seq < chunks[j].seq })

	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		local, err := m.fs.DownloadFile(ctx, c.path, nil)
		if err != nil {
			return applied, fmt.Errorf("snapshot: download %s: %w", c.path, err)
		}
		batch, err := m.codec.ReadFile(local)
		if err != nil {
			if isDecodeError(err) {
				m.logger.Error("wal chunk corrupted, replay truncated",
					"chunk", c.path,
					"seq", c.seq,
					"applied", applied,
					"skipped", len(chunks)-applied,
					"error", err)
				m.metrics.observeReplayTruncated(m.Name())
				break
			}
			return applied, fmt.Errorf("snapshot: read %s: %w", c.path, err)
		}
		if err := engine.ApplyWriteBatch(batch); err != nil {
			return applied, fmt.Errorf("snapshot: apply %s: %w", c.path, err)
		}
		applied++
	}

	m.metrics.observeReplay(m.Name(), applied)
	if applied > 0 {
		m.logger.Info("wal replayed", "snapshot_id", id.String(), "chunks", applied)
	}
	return applied, nil
}

func isDecodeError(err error) bool {
	return errors.Is(err, wal.ErrCorrupted) ||
		errors.Is(err, wal.ErrChecksumMismatch) ||
		errors.Is(err, wal.ErrInvalidOpType) ||
		errors.Is(err, wal.ErrEmptyKey)
}
