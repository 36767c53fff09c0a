package snapshot

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/yndnr/metastore-go/internal/storage/remotefs"
)

func TestWriteCurrent_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m, fs := newTestManager(t, DefaultConfig())

	if err := m.WriteCurrent(ctx, "metastore-42"); err != nil {
		t.Fatalf("WriteCurrent: %v", err)
	}

	data, ok := fs.Get("metastore-current")
	if !ok || string(data) != "metastore-42" {
		t.Fatalf("remote pointer = %q, %v", data, ok)
	}

	id, ok, err := m.ParseLocalCurrentSnapshotID()
	if err != nil || !ok || id != 42 {
		t.Fatalf("ParseLocalCurrentSnapshotID = %d, %v, %v; want 42", id, ok, err)
	}

	id, ok, err = m.LoadCurrentSnapshotID(ctx)
	if err != nil || !ok || id != 42 {
		t.Fatalf("LoadCurrentSnapshotID = %d, %v, %v; want 42", id, ok, err)
	}

	uploads, err := fs.UploadsDir()
	if err != nil {
		t.Fatalf("UploadsDir: %v", err)
	}
	entries, _ := os.ReadDir(uploads)
	if len(entries) != 0 {
		t.Errorf("uploads dir should be empty, has %d entries", len(entries))
	}
}

func TestLoadCurrentSnapshotID_MissingAndMalformed(t *testing.T) {
	ctx := context.Background()
	m, fs := newTestManager(t, DefaultConfig())

	_, ok, err := m.LoadCurrentSnapshotID(ctx)
	if err != nil || ok {
		t.Fatalf("missing pointer: ok=%v err=%v", ok, err)
	}
	if fs.Calls(remotefs.OpDownload) != 0 {
		t.Error("missing pointer should not be downloaded")
	}

	fs.Put("metastore-current", []byte("not a snapshot"))
	_, ok, err = m.LoadCurrentSnapshotID(ctx)
	if err != nil || ok {
		t.Fatalf("malformed pointer: ok=%v err=%v", ok, err)
	}
}

func TestUploadCheckpoint_PublishesAndPoints(t *testing.T) {
	ctx := context.Background()
	m, fs := newTestManager(t, DefaultConfig())

	dir := t.TempDir()
	for name, body := range map[string]string{"MANIFEST": "m", "000001.sst": "data"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := m.UploadCheckpoint(ctx, "metastore-100", dir); err != nil {
		t.Fatalf("UploadCheckpoint: %v", err)
	}

	want := []string{"metastore-100/000001.sst", "metastore-100/MANIFEST", "metastore-current"}
	if got := fs.Names(); !equalStrings(got, want) {
		t.Errorf("remote objects = %v, want %v", got, want)
	}

	files, err := m.FilesToLoad(ctx, 100)
	if err != nil {
		t.Fatalf("FilesToLoad: %v", err)
	}
	if len(files) != 2 || files[0].Size != 4 {
		t.Errorf("FilesToLoad = %+v", files)
	}
}

func TestUploadCheckpoint_FailureKeepsPointer(t *testing.T) {
	ctx := context.Background()
	m, fs := newTestManager(t, DefaultConfig())
	fs.Put("metastore-current", []byte("metastore-1"))

	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	boom := errors.New("upload refused")
	fs.FailOn(remotefs.OpUpload, func(p string) error {
		if p == "metastore-2/b" {
			return boom
		}
		return nil
	})

	err := m.UploadCheckpoint(ctx, "metastore-2", dir)
	if !errors.Is(err, boom) {
		t.Fatalf("UploadCheckpoint err = %v, want %v", err, boom)
	}
	if data, _ := fs.Get("metastore-current"); string(data) != "metastore-1" {
		t.Errorf("pointer = %q, want unchanged", data)
	}
	for _, name := range []string{"metastore-2/a", "metastore-2/c"} {
		if _, ok := fs.Get(name); ok {
			t.Errorf("%s of the failed publish was left behind", name)
		}
	}
}

func TestUploadCheckpoint_PointerFailure(t *testing.T) {
	tests := []struct {
		name      string
		landed    bool
		wantFiles bool
	}{
		{name: "pointer not written", landed: false, wantFiles: false},
		{name: "pointer written despite error", landed: true, wantFiles: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m, fs := newTestManager(t, DefaultConfig())
			fs.Put("metastore-1/f", []byte("old"))
			fs.Put("metastore-current", []byte("metastore-1"))

			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "f"), []byte("new"), 0o644); err != nil {
				t.Fatal(err)
			}

			boom := errors.New("pointer upload timed out")
			fs.FailOn(remotefs.OpUpload, func(p string) error {
				if p != "metastore-current" {
					return nil
				}
				if tt.landed {
					fs.Put(p, []byte("metastore-2"))
				}
				return boom
			})

			if err := m.UploadCheckpoint(ctx, "metastore-2", dir); !errors.Is(err, boom) {
				t.Fatalf("UploadCheckpoint err = %v, want %v", err, boom)
			}
			if _, ok := fs.Get("metastore-2/f"); ok != tt.wantFiles {
				t.Errorf("metastore-2/f present = %v, want %v", ok, tt.wantFiles)
			}
			if _, ok := fs.Get("metastore-1/f"); !ok {
				t.Error("files of the previous snapshot must not be touched")
			}
		})
	}
}

func TestUploadCheckpoint_SweepFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MinimumSnapshotsCount = 1
	cfg.SnapshotsLifetime = time.Millisecond
	m, fs := newTestManager(t, cfg, fixedClock(10_000))
	fs.Put("metastore-1/f", []byte("old"))

	fs.FailOn(remotefs.OpDelete, func(string) error { return errors.New("delete refused") })

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.UploadCheckpoint(ctx, "metastore-5000", dir); err != nil {
		t.Fatalf("UploadCheckpoint: %v", err)
	}
	if _, ok := fs.Get("metastore-1/f"); !ok {
		t.Error("old snapshot should survive a failed delete")
	}
}

func TestSweep_RetentionProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const now = 100_000

	for trial := 0; trial < 200; trial++ {
		ctx := context.Background()
		minCount := rng.Intn(5)
		lifetime := time.Duration(rng.Intn(120_000)) * time.Millisecond
		cfg := Config{
			MinimumSnapshotsCount:      minCount,
			SnapshotsLifetime:          lifetime,
			SnapshotsDeletionBatchSize: 1 + rng.Intn(4),
		}
		m, fs := newTestManager(t, cfg, fixedClock(now))

		idSet := make(map[ID]struct{})
		for i, n := 0, rng.Intn(15); i < n; i++ {
			id := ID(rng.Intn(now))
			idSet[id] = struct{}{}
			fs.Put(m.SnapshotPrefix(id)+"/data", []byte("x"))
			if rng.Intn(2) == 0 {
				fs.Put(LogChunkPath(m.LogsDir(id), 0), []byte("x"))
			}
		}
		fs.Put("metastore-current", []byte("ignored"))
		fs.Put("unrelated/object", []byte("ignored"))

		if _, err := m.Sweep(ctx); err != nil {
			t.Fatalf("trial %d: Sweep: %v", trial, err)
		}

		ids := sortedIDs(idSet)
		k := max(1, minCount)
		top := make(map[ID]bool)
		for i := len(ids) - 1; i >= 0 && len(ids)-i <= k; i-- {
			top[ids[i]] = true
		}
		cutoff := ID(max(0, now-lifetime.Milliseconds()))

		survivors := make(map[ID]struct{})
		n := newNaming(MetastoreName)
		for _, name := range fs.Names() {
			if id, ok := n.parseObject(name); ok {
				survivors[id] = struct{}{}
			}
		}

		if len(survivors) < min(k, len(ids)) {
			t.Fatalf("trial %d: %d survivors, want at least %d", trial, len(survivors), min(k, len(ids)))
		}
		for id := range top {
			if _, ok := survivors[id]; !ok {
				t.Fatalf("trial %d: top id %d was deleted", trial, id)
			}
		}
		for id := range survivors {
			if !top[id] && id < cutoff {
				t.Fatalf("trial %d: id %d survived though expired and outside top %d", trial, id, k)
			}
		}
		if _, ok := fs.Get("metastore-current"); !ok {
			t.Fatalf("trial %d: pointer deleted", trial)
		}
		if _, ok := fs.Get("unrelated/object"); !ok {
			t.Fatalf("trial %d: unrelated object deleted", trial)
		}
	}
}

func TestSweep_NoOp(t *testing.T) {
	tests := []struct {
		name     string
		minCount int
		lifetime time.Duration
		ids      []ID
	}{
		{name: "all within lifetime", minCount: 1, lifetime: time.Hour, ids: []ID{9_000, 9_500, 9_900}},
		{name: "fewer than minimum", minCount: 5, lifetime: time.Millisecond, ids: []ID{1, 2, 3}},
		{name: "empty store", minCount: 2, lifetime: time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := Config{MinimumSnapshotsCount: tt.minCount, SnapshotsLifetime: tt.lifetime}
			m, fs := newTestManager(t, cfg, fixedClock(10_000))
			for _, id := range tt.ids {
				fs.Put(m.SnapshotPrefix(id)+"/f", []byte("x"))
			}

			res, err := m.Sweep(ctx)
			if err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if res.Deleted != 0 {
				t.Errorf("Deleted = %d, want 0", res.Deleted)
			}
			if fs.Calls(remotefs.OpDelete) != 0 {
				t.Errorf("delete calls = %d, want 0", fs.Calls(remotefs.OpDelete))
			}
			if fs.Calls(remotefs.OpListByPage) != 1 {
				t.Errorf("list calls = %d, want 1", fs.Calls(remotefs.OpListByPage))
			}
		})
	}
}

func TestSweep_DeletesLogsWithSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := Config{MinimumSnapshotsCount: 1, SnapshotsLifetime: time.Second, SnapshotsDeletionBatchSize: 2}
	m, fs := newTestManager(t, cfg, fixedClock(10_000))

	fs.Put("metastore-1000/a", []byte("x"))
	fs.Put("metastore-1000/b", []byte("x"))
	fs.Put("metastore-1000-logs/0.flex", []byte("x"))
	fs.Put("metastore-1000-index-logs/0.flex", []byte("x"))
	fs.Put("metastore-2000/a", []byte("x"))
	fs.Put("metastore-2000-logs/0.flex", []byte("x"))

	res, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Deleted != 4 || res.Cutoff != 2000 || res.Kept != 1 {
		t.Errorf("result = %+v", res)
	}
	want := []string{"metastore-2000-logs/0.flex", "metastore-2000/a"}
	if got := fs.Names(); !equalStrings(got, want) {
		t.Errorf("remaining = %v, want %v", got, want)
	}
}

func TestListSnapshots(t *testing.T) {
	ctx := context.Background()
	m, fs := newTestManager(t, DefaultConfig())

	fs.Put("metastore-30/a", []byte("x"))
	fs.Put("metastore-10/a", []byte("x"))
	fs.Put("metastore-10/b", []byte("x"))
	fs.Put("metastore-20-logs/0.flex", []byte("x"))
	fs.Put("metastore-20/a", []byte("x"))
	fs.Put("metastore-40-logs/0.flex", []byte("x"))

	list, err := m.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(list) != 3 || list[0].ID != 10 || list[1].ID != 20 || list[2].ID != 30 {
		t.Fatalf("ListSnapshots = %+v", list)
	}
	for _, s := range list {
		if s.Current {
			t.Errorf("no pointer cached, %d should not be current", s.ID)
		}
	}

	if err := m.WriteCurrent(ctx, "metastore-20"); err != nil {
		t.Fatalf("WriteCurrent: %v", err)
	}
	list, err = m.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if !list[1].Current || list[0].Current || list[2].Current {
		t.Errorf("current flags = %+v", list)
	}
}

func sortedIDs(set map[ID]struct{}) []ID {
	ids := make([]ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
