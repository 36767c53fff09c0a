package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/metastore-go/internal/storage/remotefs"
)

// CurrentPath returns the remote path of the current pointer.
func (m *Manager) CurrentPath() string {
	return m.naming.currentPath()
}

// WriteCurrent points the store at remotePrefix by overwriting the current
// pointer object. The written content also replaces the cached pointer.
func (m *Manager) WriteCurrent(ctx context.Context, remotePrefix string) error {
	dir, err := m.fs.UploadsDir()
	if err != nil {
		return fmt.Errorf("snapshot: uploads dir: %w", err)
	}
	tmp := filepath.Join(dir, m.naming.currentPath()+"-"+ulid.Make().String())
	if err := os.WriteFile(tmp, []byte(remotePrefix), 0o644); err != nil {
		return fmt.Errorf("snapshot: write pointer: %w", err)
	}
	if _, err := m.fs.UploadFile(ctx, tmp, m.naming.currentPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: upload pointer: %w", err)
	}

	// Keep the cached pointer in sync with the one just written.
	local, err := m.fs.LocalFile(m.naming.currentPath())
	if err == nil {
		err = os.Rename(tmp, local)
	}
	if err != nil {
		os.Remove(tmp)
		m.logger.Warn("failed to cache current pointer", "error", err)
	}
	return nil
}

// IsRemoteMetadataExists reports whether the store has a current pointer.
func (m *Manager) IsRemoteMetadataExists(ctx context.Context) (bool, error) {
	names, err := m.fs.List(ctx, m.naming.currentPath())
	if err != nil {
		return false, fmt.Errorf("snapshot: list pointer: %w", err)
	}
	for _, name := range names {
		if name == m.naming.currentPath() {
			return true, nil
		}
	}
	return false, nil
}

// LoadCurrentSnapshotID downloads the current pointer and parses it.
// ok is false if the pointer is missing or does not name a snapshot.
func (m *Manager) LoadCurrentSnapshotID(ctx context.Context) (ID, bool, error) {
	exists, err := m.IsRemoteMetadataExists(ctx)
	if err != nil || !exists {
		return 0, false, err
	}
	return m.downloadPointer(ctx)
}

// downloadPointer replaces the cached pointer with a fresh download.
func (m *Manager) downloadPointer(ctx context.Context) (ID, bool, error) {
	if local, err := m.fs.LocalFile(m.naming.currentPath()); err == nil {
		if err := os.Remove(local); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, false, fmt.Errorf("snapshot: remove cached pointer: %w", err)
		}
	}

	cached, err := m.fs.DownloadFile(ctx, m.naming.currentPath(), nil)
	if err != nil {
		if errors.Is(err, remotefs.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("snapshot: download pointer: %w", err)
	}
	return m.parsePointerFile(cached)
}

// ParseLocalCurrentSnapshotID parses the locally cached pointer without a
// remote call.
func (m *Manager) ParseLocalCurrentSnapshotID() (ID, bool, error) {
	local, err := m.fs.LocalFile(m.naming.currentPath())
	if err != nil {
		return 0, false, fmt.Errorf("snapshot: cached pointer path: %w", err)
	}
	return m.parsePointerFile(local)
}

func (m *Manager) parsePointerFile(file string) (ID, bool, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return 0, false, fmt.Errorf("snapshot: read pointer: %w", err)
	}
	id, ok := m.naming.parsePointer(content)
	return id, ok, nil
}
