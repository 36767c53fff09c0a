package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yndnr/metastore-go/internal/telemetry/tracer"
)

// OpenFunc opens (or creates) an engine over a local directory.
type OpenFunc func(ctx context.Context, path string) (Engine, error)

// StagingSuffix is appended to the engine path while a remote snapshot is
// being restored.
const StagingSuffix = ".restore"

// Bootstrap modes.
const (
	ModeExisting = "existing"
	ModeFresh    = "fresh"
	ModeRemote   = "remote"
)

// LoadFromRemote returns an engine over path.
//
// A path that already holds files is opened as is, without any remote
// call. Otherwise the current snapshot and its WAL chunks are restored
// into path; a store without a (valid) pointer starts empty.
// Every engine is validated with CheckAllIndexes before it is returned.
// On failure the engine is closed and a path created here is removed.
func (m *Manager) LoadFromRemote(ctx context.Context, path string, open OpenFunc) (_ Engine, err error) {
	ctx, span := tracer.StartSpan(ctx, "snapshot.LoadFromRemote",
		attribute.String(tracer.AttrStore, m.Name()))
	start := time.Now()
	mode := ModeFresh
	defer func() {
		span.SetAttributes(attribute.String("metastore.bootstrap_mode", mode))
		tracer.End(span, err)
		m.metrics.observeBootstrap(m.Name(), mode, start, err)
	}()

	populated, existed, err := dirState(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil && !existed {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				m.logger.Warn("failed to remove local dir", "path", path, "error", rmErr)
			}
		}
	}()

	var id ID
	if populated {
		mode = ModeExisting
		m.logger.Info("using existing local store", "path", path)
	} else {
		exists, err := m.IsRemoteMetadataExists(ctx)
		if err != nil {
			return nil, err
		}
		if exists {
			var ok bool
			id, ok, err = m.downloadPointer(ctx)
			if err != nil {
				return nil, err
			}
			if ok {
				mode = ModeRemote
			} else {
				m.logger.Warn("current pointer does not name a snapshot, starting empty",
					"pointer", m.CurrentPath())
			}
		}
	}

	switch mode {
	case ModeRemote:
		span.SetAttributes(attribute.String(tracer.AttrSnapshotID, id.String()))
		if err := m.restoreRemote(ctx, id, path, open); err != nil {
			return nil, err
		}
	case ModeFresh:
		if err := m.MakeLocalDir(path); err != nil {
			return nil, err
		}
	}

	opened, err := open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open engine: %w", err)
	}
	defer func() {
		if err != nil {
			if cerr := opened.Close(); cerr != nil {
				m.logger.Warn("failed to close engine", "error", cerr)
			}
		}
	}()

	if err := opened.CheckAllIndexes(); err != nil {
		return nil, fmt.Errorf("snapshot: index check: %w", err)
	}

	m.logger.Info("store bootstrapped",
		"mode", mode,
		"path", path,
		"duration", time.Since(start))
	return opened, nil
}

// restoreRemote downloads snapshot id into a staging directory next to
// path, replays its WAL there and renames the result to path. path is
// populated only once the replay has finished.
func (m *Manager) restoreRemote(ctx context.Context, id ID, path string, open OpenFunc) (err error) {
	staging := path + StagingSuffix
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("snapshot: clear staging dir: %w", err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(staging); rmErr != nil {
				m.logger.Warn("failed to remove staging dir", "path", staging, "error", rmErr)
			}
		}
	}()

	n, err := m.downloadSnapshot(ctx, id, staging)
	if err != nil {
		return err
	}
	m.logger.Info("snapshot downloaded",
		"snapshot_id", id.String(),
		"files", n,
		"path", staging)

	staged, err := open(ctx, staging)
	if err != nil {
		return fmt.Errorf("snapshot: open engine: %w", err)
	}
	if err := m.ReplayLogs(ctx, staged, id); err != nil {
		staged.Close()
		return err
	}
	if err := staged.Close(); err != nil {
		return fmt.Errorf("snapshot: close staged engine: %w", err)
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("snapshot: clear local dir: %w", err)
	}
	if err := os.Rename(staging, path); err != nil {
		return fmt.Errorf("snapshot: move staged engine: %w", err)
	}
	return nil
}

// dirState reports whether path holds any entry and whether it exists.
func dirState(path string) (populated, exists bool, err error) {
	entries, err := os.ReadDir(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("snapshot: read local dir: %w", err)
	}
	return len(entries) > 0, true, nil
}
