package remotefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LocalConfig configures the Local backend.
type LocalConfig struct {
	// Root is the directory holding the remote namespace.
	Root string `koanf:"root"`

	// CacheDir holds downloaded copies and the uploads staging area.
	CacheDir string `koanf:"cache_dir"`

	// PageSize bounds the number of names per ListByPage page.
	// Default: DefaultPageSize
	PageSize int `koanf:"page_size"`
}

// Local stores remote objects as files under a root directory.
type Local struct {
	root     string
	pageSize int
	cache    cache

	mu     sync.RWMutex
	closed bool
}

// NewLocal creates a Local backend, creating Root and CacheDir if needed.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("remotefs: root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0750); err != nil {
		return nil, fmt.Errorf("remotefs: create root: %w", err)
	}
	c, err := newCache(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Local{
		root:     cfg.Root,
		pageSize: cfg.PageSize,
		cache:    c,
	}, nil
}

func (l *Local) objectPath(remotePath string) (string, error) {
	if err := ValidatePath(remotePath); err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(remotePath)), nil
}

func (l *Local) checkOpen() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

// List returns every object name starting with prefix, sorted.
func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	infos, err := l.ListWithMetadata(ctx, prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.RemotePath
	}
	return names, nil
}

// ListByPage pages the result of List.
func (l *Local) ListByPage(ctx context.Context, prefix string) PageIterator {
	return &sliceIterator{
		load:     func(ctx context.Context) ([]string, error) { return l.List(ctx, prefix) },
		pageSize: l.pageSize,
	}
}

// ListWithMetadata walks the root and returns matching objects with sizes.
func (l *Local) ListWithMetadata(ctx context.Context, prefix string) ([]FileInfo, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	var out []FileInfo
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) || isTemp(name) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		out = append(out, FileInfo{RemotePath: name, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remotefs: list %q: %w", prefix, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RemotePath < out[j].RemotePath })
	return out, nil
}

// UploadFile copies localPath into the namespace atomically.
func (l *Local) UploadFile(ctx context.Context, localPath, remotePath string) (int64, error) {
	if err := l.checkOpen(); err != nil {
		return 0, err
	}
	dst, err := l.objectPath(remotePath)
	if err != nil {
		return 0, err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("remotefs: upload %s: %w", remotePath, err)
	}
	defer src.Close()

	n, err := writeAtomic(dst, src)
	if err != nil {
		return 0, fmt.Errorf("remotefs: upload %s: %w", remotePath, err)
	}
	return n, nil
}

// DownloadFile copies an object (or a range of it) into the cache.
func (l *Local) DownloadFile(ctx context.Context, remotePath string, rng *Range) (string, error) {
	if err := l.checkOpen(); err != nil {
		return "", err
	}
	src, err := l.objectPath(remotePath)
	if err != nil {
		return "", err
	}
	dst, err := l.cache.localFile(remotePath)
	if err != nil {
		return "", err
	}

	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, remotePath)
		}
		return "", fmt.Errorf("remotefs: download %s: %w", remotePath, err)
	}
	defer f.Close()

	var r io.Reader = f
	if rng != nil {
		if rng.Length > 0 {
			r = io.NewSectionReader(f, rng.Offset, rng.Length)
		} else {
			if _, err := f.Seek(rng.Offset, io.SeekStart); err != nil {
				return "", fmt.Errorf("remotefs: download %s: %w", remotePath, err)
			}
		}
	}

	if _, err := writeAtomic(dst, r); err != nil {
		return "", fmt.Errorf("remotefs: download %s: %w", remotePath, err)
	}
	return dst, nil
}

// DeleteFile removes an object and prunes empty parent directories.
func (l *Local) DeleteFile(ctx context.Context, remotePath string) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	p, err := l.objectPath(remotePath)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remotefs: delete %s: %w", remotePath, err)
	}

	for dir := filepath.Dir(p); dir != l.root && strings.HasPrefix(dir, l.root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

// LocalFile maps remotePath into the cache directory.
func (l *Local) LocalFile(remotePath string) (string, error) {
	return l.cache.localFile(remotePath)
}

// UploadsDir returns the staging directory inside the cache.
func (l *Local) UploadsDir() (string, error) {
	return l.cache.uploadsDir()
}

// Close marks the backend as closed.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

var _ RemoteFS = (*Local)(nil)
