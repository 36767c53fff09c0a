package remotefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Errors returned by every backend.
var (
	ErrNotFound    = errors.New("remotefs: object not found")
	ErrInvalidPath = errors.New("remotefs: invalid remote path")
	ErrClosed      = errors.New("remotefs: closed")
)

// DefaultPageSize is the number of names returned per ListByPage page
// when a backend is not configured otherwise.
const DefaultPageSize = 1000

// FileInfo describes a remote object.
type FileInfo struct {
	RemotePath string `json:"remote_path"`
	Size       int64  `json:"size"`
}

// Range selects a byte range of a remote object. A zero Length means
// "to the end of the object".
type Range struct {
	Offset int64
	Length int64
}

// PageIterator yields pages of remote names. It is lazy, finite and not
// restartable. Next returns io.EOF once every page has been returned.
type PageIterator interface {
	Next(ctx context.Context) ([]string, error)
}

// RemoteFS is the object store capability consumed by the snapshot
// manager.
type RemoteFS interface {
	// List returns every remote name starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// ListByPage returns an iterator over remote names starting with prefix.
	ListByPage(ctx context.Context, prefix string) PageIterator

	// ListWithMetadata returns every object starting with prefix and its size.
	ListWithMetadata(ctx context.Context, prefix string) ([]FileInfo, error)

	// UploadFile uploads localPath to remotePath and returns the uploaded size.
	UploadFile(ctx context.Context, localPath, remotePath string) (int64, error)

	// DownloadFile downloads remotePath (or a range of it) into the local
	// cache and returns the local path.
	DownloadFile(ctx context.Context, remotePath string, rng *Range) (string, error)

	// DeleteFile removes remotePath. Deleting a missing object is not an error.
	DeleteFile(ctx context.Context, remotePath string) error

	// LocalFile maps remotePath to its location in the local cache. The
	// parent directory is created.
	LocalFile(remotePath string) (string, error)

	// UploadsDir returns a local staging directory for temporary objects.
	UploadsDir() (string, error)
}

// ValidatePath rejects remote paths that are empty, absolute or escape
// the namespace.
func ValidatePath(remotePath string) error {
	if remotePath == "" || strings.HasPrefix(remotePath, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, remotePath)
	}
	for _, part := range strings.Split(remotePath, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidPath, remotePath)
		}
	}
	if path.Clean(remotePath) != strings.TrimSuffix(remotePath, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, remotePath)
	}
	return nil
}

// cache is the local cache directory shared by every backend.
type cache struct {
	dir string
}

const uploadsDirName = "uploads"

func newCache(dir string) (cache, error) {
	if dir == "" {
		return cache{}, fmt.Errorf("remotefs: cache dir is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return cache{}, fmt.Errorf("remotefs: create cache dir: %w", err)
	}
	return cache{dir: dir}, nil
}

func (c cache) localFile(remotePath string) (string, error) {
	if err := ValidatePath(remotePath); err != nil {
		return "", err
	}
	p := filepath.Join(c.dir, filepath.FromSlash(remotePath))
	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		return "", fmt.Errorf("remotefs: create cache parent: %w", err)
	}
	return p, nil
}

func (c cache) uploadsDir() (string, error) {
	p := filepath.Join(c.dir, uploadsDirName)
	if err := os.MkdirAll(p, 0750); err != nil {
		return "", fmt.Errorf("remotefs: create uploads dir: %w", err)
	}
	return p, nil
}

// writeAtomic streams r into dst through a temp file in the same
// directory and renames it into place.
func writeAtomic(dst string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), tmpPrefix+"*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpPath, dst)
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	return n, nil
}

const tmpPrefix = ".remotefs-tmp-"

func isTemp(name string) bool {
	return strings.HasPrefix(path.Base(name), tmpPrefix)
}

// sliceIterator pages an in-memory name list.
type sliceIterator struct {
	load     func(ctx context.Context) ([]string, error)
	names    []string
	loaded   bool
	pageSize int
}

func (it *sliceIterator) Next(ctx context.Context) ([]string, error) {
	if !it.loaded {
		names, err := it.load(ctx)
		if err != nil {
			return nil, err
		}
		it.names = names
		it.loaded = true
	}
	if len(it.names) == 0 {
		return nil, io.EOF
	}
	n := min(it.pageSize, len(it.names))
	page := it.names[:n:n]
	it.names = it.names[n:]
	return page, nil
}

// Collect drains an iterator into a single slice.
func Collect(ctx context.Context, it PageIterator) ([]string, error) {
	var out []string
	for {
		page, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
}
