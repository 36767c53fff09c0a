package remotefs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Op names a RemoteFS operation for call counting and fault injection.
type Op string

const (
	OpList             Op = "list"
	OpListByPage       Op = "list_by_page"
	OpListWithMetadata Op = "list_with_metadata"
	OpUpload           Op = "upload"
	OpDownload         Op = "download"
	OpDelete           Op = "delete"
)

// Memory keeps objects in process memory. Downloads are still written to
// the local cache so callers can open them as files.
type Memory struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	faults   map[Op]func(remotePath string) error
	pageSize int
	cache    cache

	calls sync.Map // Op -> *atomic.Int64
}

// NewMemory creates an empty Memory backend with its cache in cacheDir.
func NewMemory(cacheDir string, pageSize int) (*Memory, error) {
	c, err := newCache(cacheDir)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Memory{
		objects:  make(map[string][]byte),
		faults:   make(map[Op]func(string) error),
		pageSize: pageSize,
		cache:    c,
	}, nil
}

// Calls returns the number of times op was invoked.
func (m *Memory) Calls(op Op) int64 {
	v, ok := m.calls.Load(op)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// TotalCalls returns the number of remote operations of any kind.
func (m *Memory) TotalCalls() int64 {
	var total int64
	m.calls.Range(func(_, v any) bool {
		total += v.(*atomic.Int64).Load()
		return true
	})
	return total
}

// FailOn makes op return the error produced by fn for matching paths.
// fn returns nil for paths that should succeed. A nil fn clears the fault.
func (m *Memory) FailOn(op Op, fn func(remotePath string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = fn
}

// Put stores data directly, bypassing call counting.
func (m *Memory) Put(remotePath string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[remotePath] = bytes.Clone(data)
}

// Get returns a stored object, bypassing call counting.
func (m *Memory) Get(remotePath string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[remotePath]
	return bytes.Clone(data), ok
}

// Names returns every stored name, sorted, bypassing call counting.
func (m *Memory) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Memory) record(op Op, remotePath string) error {
	v, _ := m.calls.LoadOrStore(op, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)

	m.mu.RLock()
	fault := m.faults[op]
	m.mu.RUnlock()
	if fault != nil {
		return fault(remotePath)
	}
	return nil
}

func (m *Memory) match(prefix string) []FileInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []FileInfo
	for name, data := range m.objects {
		if strings.HasPrefix(name, prefix) {
			out = append(out, FileInfo{RemotePath: name, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemotePath < out[j].RemotePath })
	return out
}

// List returns every name starting with prefix.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := m.record(OpList, prefix); err != nil {
		return nil, err
	}
	infos := m.match(prefix)
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.RemotePath
	}
	return names, nil
}

// ListByPage snapshots the matching names on the first Next call.
func (m *Memory) ListByPage(ctx context.Context, prefix string) PageIterator {
	return &sliceIterator{
		load: func(ctx context.Context) ([]string, error) {
			if err := m.record(OpListByPage, prefix); err != nil {
				return nil, err
			}
			infos := m.match(prefix)
			names := make([]string, len(infos))
			for i, info := range infos {
				names[i] = info.RemotePath
			}
			return names, nil
		},
		pageSize: m.pageSize,
	}
}

// ListWithMetadata returns every object starting with prefix and its size.
func (m *Memory) ListWithMetadata(ctx context.Context, prefix string) ([]FileInfo, error) {
	if err := m.record(OpListWithMetadata, prefix); err != nil {
		return nil, err
	}
	return m.match(prefix), nil
}

// UploadFile reads localPath into memory under remotePath.
func (m *Memory) UploadFile(ctx context.Context, localPath, remotePath string) (int64, error) {
	if err := ValidatePath(remotePath); err != nil {
		return 0, err
	}
	if err := m.record(OpUpload, remotePath); err != nil {
		return 0, err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return 0, fmt.Errorf("remotefs: upload %s: %w", remotePath, err)
	}
	m.Put(remotePath, data)
	return int64(len(data)), nil
}

// DownloadFile writes the object (or a range of it) into the cache.
func (m *Memory) DownloadFile(ctx context.Context, remotePath string, rng *Range) (string, error) {
	if err := ValidatePath(remotePath); err != nil {
		return "", err
	}
	if err := m.record(OpDownload, remotePath); err != nil {
		return "", err
	}
	data, ok := m.Get(remotePath)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, remotePath)
	}
	if rng != nil {
		start := min(rng.Offset, int64(len(data)))
		end := int64(len(data))
		if rng.Length > 0 {
			end = min(start+rng.Length, end)
		}
		data = data[start:end]
	}

	dst, err := m.cache.localFile(remotePath)
	if err != nil {
		return "", err
	}
	if _, err := writeAtomic(dst, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("remotefs: download %s: %w", remotePath, err)
	}
	return dst, nil
}

// DeleteFile removes an object.
func (m *Memory) DeleteFile(ctx context.Context, remotePath string) error {
	if err := m.record(OpDelete, remotePath); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, remotePath)
	return nil
}

// LocalFile maps remotePath into the cache directory.
func (m *Memory) LocalFile(remotePath string) (string, error) {
	return m.cache.localFile(remotePath)
}

// UploadsDir returns the staging directory inside the cache.
func (m *Memory) UploadsDir() (string, error) {
	return m.cache.uploadsDir()
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

var (
	_ RemoteFS  = (*Memory)(nil)
	_ io.Closer = (*Memory)(nil)
)
