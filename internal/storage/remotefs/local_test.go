package remotefs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestLocal(t *testing.T, pageSize int) *Local {
	t.Helper()
	base := t.TempDir()
	l, err := NewLocal(LocalConfig{
		Root:     filepath.Join(base, "remote"),
		CacheDir: filepath.Join(base, "cache"),
		PageSize: pageSize,
	})
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return l
}

func writeTemp(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "src")
	if err := os.WriteFile(p, []byte(data), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestLocal_UploadListDownload(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, 0)

	src := writeTemp(t, "hello world")
	for _, name := range []string{"metastore-2/a", "metastore-1/b", "cachestore-1/a"} {
		n, err := l.UploadFile(ctx, src, name)
		if err != nil {
			t.Fatalf("UploadFile(%s): %v", name, err)
		}
		if n != 11 {
			t.Fatalf("UploadFile size = %d, want 11", n)
		}
	}

	names, err := l.List(ctx, "metastore-")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"metastore-1/b", "metastore-2/a"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("List = %v, want %v", names, want)
	}

	infos, err := l.ListWithMetadata(ctx, "metastore-2/")
	if err != nil {
		t.Fatalf("ListWithMetadata: %v", err)
	}
	if len(infos) != 1 || infos[0].Size != 11 {
		t.Fatalf("ListWithMetadata = %+v", infos)
	}

	local, err := l.DownloadFile(ctx, "metastore-2/a", nil)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	cached, err := l.LocalFile("metastore-2/a")
	if err != nil {
		t.Fatalf("LocalFile: %v", err)
	}
	if local != cached {
		t.Fatalf("DownloadFile path = %s, want %s", local, cached)
	}
	data, _ := os.ReadFile(local)
	if string(data) != "hello world" {
		t.Fatalf("downloaded = %q", data)
	}
}

func TestLocal_DownloadRange(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, 0)
	if _, err := l.UploadFile(ctx, writeTemp(t, "0123456789"), "x/obj"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	tests := []struct {
		name string
		rng  *Range
		want string
	}{
		{"bounded", &Range{Offset: 2, Length: 3}, "234"},
		{"open ended", &Range{Offset: 7}, "789"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := l.DownloadFile(ctx, "x/obj", tt.rng)
			if err != nil {
				t.Fatalf("DownloadFile: %v", err)
			}
			data, _ := os.ReadFile(p)
			if string(data) != tt.want {
				t.Fatalf("got %q, want %q", data, tt.want)
			}
		})
	}
}

func TestLocal_DownloadMissing(t *testing.T) {
	l := newTestLocal(t, 0)
	_, err := l.DownloadFile(context.Background(), "nope", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("DownloadFile err = %v, want ErrNotFound", err)
	}
}

func TestLocal_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, 0)
	if _, err := l.UploadFile(ctx, writeTemp(t, "x"), "metastore-1/a"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := l.DeleteFile(ctx, "metastore-1/a"); err != nil {
			t.Fatalf("DeleteFile #%d: %v", i, err)
		}
	}
	names, _ := l.List(ctx, "")
	if len(names) != 0 {
		t.Fatalf("List after delete = %v", names)
	}
	if _, err := os.Stat(filepath.Join(l.root, "metastore-1")); !os.IsNotExist(err) {
		t.Fatalf("empty parent dir not pruned: %v", err)
	}
}

func TestLocal_ListByPage(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, 2)
	src := writeTemp(t, "x")
	for _, name := range []string{"p/1", "p/2", "p/3", "p/4", "p/5"} {
		if _, err := l.UploadFile(ctx, src, name); err != nil {
			t.Fatalf("UploadFile: %v", err)
		}
	}

	it := l.ListByPage(ctx, "p/")
	var sizes []int
	var all []string
	for {
		page, err := it.Next(ctx)
		if err != nil {
			break
		}
		sizes = append(sizes, len(page))
		all = append(all, page...)
	}
	if !reflect.DeepEqual(sizes, []int{2, 2, 1}) {
		t.Fatalf("page sizes = %v", sizes)
	}
	if len(all) != 5 {
		t.Fatalf("names = %v", all)
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path string
		ok   bool
	}{
		{"metastore-1/a", true},
		{"metastore-current", true},
		{"", false},
		{"/abs", false},
		{"a/../b", false},
		{"a//b", false},
	}
	for _, tt := range tests {
		err := ValidatePath(tt.path)
		if (err == nil) != tt.ok {
			t.Errorf("ValidatePath(%q) = %v, want ok=%v", tt.path, err, tt.ok)
		}
	}
}

func TestLocal_Closed(t *testing.T) {
	l := newTestLocal(t, 0)
	l.Close()
	if _, err := l.List(context.Background(), ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("List after Close err = %v, want ErrClosed", err)
	}
}
