package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/yndnr/metastore-go/internal/storage"
	"github.com/yndnr/metastore-go/internal/storage/snapshot"
	"github.com/yndnr/metastore-go/internal/storage/wal"
)

type fakeStore struct {
	name string

	mu          sync.Mutex
	data        map[string][]byte
	nextID      snapshot.ID
	snapshots   []snapshot.SnapshotInfo
	sweeps      int
	failWith    error
	checkpoints int
}

func newFakeStore(name string) *fakeStore {
	return &fakeStore{name: name, data: make(map[string][]byte), nextID: 100}
}

func (f *fakeStore) Name() string { return f.name }

func (f *fakeStore) Get(_ context.Context, key []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	v, ok := f.data[string(key)]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeStore) Put(_ context.Context, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (f *fakeStore) Delete(_ context.Context, key []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	delete(f.data, string(key))
	return nil
}

func (f *fakeStore) Checkpoint(context.Context) (*storage.CheckpointResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.nextID++
	f.checkpoints++
	for i := range f.snapshots {
		f.snapshots[i].Current = false
	}
	f.snapshots = append(f.snapshots, snapshot.SnapshotInfo{ID: f.nextID, Current: true})
	return &storage.CheckpointResult{ID: f.nextID, Prefix: f.name + "-" + f.nextID.String()}, nil
}

func (f *fakeStore) Snapshots(context.Context) ([]snapshot.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]snapshot.SnapshotInfo(nil), f.snapshots...), nil
}

func (f *fakeStore) Sweep(context.Context) (*snapshot.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return &snapshot.SweepResult{Kept: len(f.snapshots)}, nil
}

func (f *fakeStore) Stats() storage.Stats {
	return storage.Stats{Name: f.name, SnapshotID: f.nextID}
}

func newTestHandler(stores ...*fakeStore) *Handler {
	list := make([]Store, 0, len(stores))
	for _, s := range stores {
		list = append(list, s)
	}
	return New(list, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithMaxValueBytes(16))
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, rdr))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) (Response, T) {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	var data T
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return raw.Response, data
}

func TestHealthAndReady(t *testing.T) {
	h := newTestHandler(newFakeStore("metastore"))

	if rec := do(t, h, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("/health status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/ready", nil); rec.Code != http.StatusOK {
		t.Errorf("/ready status = %d", rec.Code)
	}

	h.SetReady(false)
	rec := do(t, h, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/ready status = %d, want 503", rec.Code)
	}
	if got := rec.Header().Get("X-Error-Code"); got != CodeNotReady {
		t.Errorf("X-Error-Code = %q", got)
	}
}

func TestKV_PutGetDelete(t *testing.T) {
	h := newTestHandler(newFakeStore("metastore"))

	if rec := do(t, h, http.MethodPut, "/v1/kv/metastore/users/42", []byte("alice")); rec.Code != http.StatusNoContent {
		t.Fatalf("PUT status = %d, body %s", rec.Code, rec.Body)
	}

	rec := do(t, h, http.MethodGet, "/v1/kv/metastore/users/42", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	resp, kv := decode[KVResponse](t, rec)
	if resp.Code != CodeOK || string(kv.Value) != "alice" || kv.Key != "users/42" {
		t.Errorf("GET = %+v %+v", resp, kv)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/kv/metastore/users/42", nil)
	req.Header.Set("Accept", "application/octet-stream")
	raw := httptest.NewRecorder()
	h.ServeHTTP(raw, req)
	if raw.Body.String() != "alice" {
		t.Errorf("raw GET body = %q", raw.Body.String())
	}

	if rec := do(t, h, http.MethodDelete, "/v1/kv/metastore/users/42", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/v1/kv/metastore/users/42", nil)
	if rec.Code != http.StatusNotFound || rec.Header().Get("X-Error-Code") != CodeKeyNotFound {
		t.Errorf("GET after delete = %d %q", rec.Code, rec.Header().Get("X-Error-Code"))
	}
}

func TestKV_Errors(t *testing.T) {
	failing := newFakeStore("cachestore")
	h := newTestHandler(newFakeStore("metastore"), failing)

	tests := []struct {
		name   string
		setup  func()
		method string
		target string
		body   []byte
		status int
		code   string
	}{
		{"unknown store", nil, http.MethodGet, "/v1/kv/nope/k", nil, http.StatusNotFound, CodeStoreNotFound},
		{"value too large", nil, http.MethodPut, "/v1/kv/metastore/k", bytes.Repeat([]byte("x"), 17), http.StatusRequestEntityTooLarge, CodeBodyTooLarge},
		{"store closed", func() { failing.failWith = storage.ErrClosed }, http.MethodPut, "/v1/kv/cachestore/k", []byte("v"), http.StatusServiceUnavailable, CodeStoreClosed},
		{"empty key from store", func() { failing.failWith = wal.ErrEmptyKey }, http.MethodDelete, "/v1/kv/cachestore/k", nil, http.StatusBadRequest, CodeEmptyKey},
		{"internal", func() { failing.failWith = errors.New("disk on fire") }, http.MethodGet, "/v1/kv/cachestore/k", nil, http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			rec := do(t, h, tt.method, tt.target, tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			if got := rec.Header().Get("X-Error-Code"); got != tt.code {
				t.Errorf("X-Error-Code = %q, want %q", got, tt.code)
			}
			if strings.Contains(rec.Body.String(), "disk on fire") {
				t.Error("internal error details leaked to the client")
			}
		})
	}
}

func TestAdmin_CheckpointListSweep(t *testing.T) {
	meta, cache := newFakeStore("metastore"), newFakeStore("cachestore")
	h := newTestHandler(meta, cache)

	rec := do(t, h, http.MethodPost, "/admin/v1/checkpoint?store=metastore", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("checkpoint status = %d", rec.Code)
	}
	_, cp := decode[CheckpointResponse](t, rec)
	if len(cp.Checkpoints) != 1 || cp.Checkpoints[0].Store != "metastore" || cp.Checkpoints[0].Prefix != "metastore-101" {
		t.Errorf("checkpoint = %+v", cp)
	}
	if cache.checkpoints != 0 {
		t.Error("checkpoint of one store touched the other")
	}

	do(t, h, http.MethodPost, "/admin/v1/checkpoint", nil)
	if meta.checkpoints != 2 || cache.checkpoints != 1 {
		t.Errorf("checkpoints = %d/%d, want 2/1", meta.checkpoints, cache.checkpoints)
	}

	rec = do(t, h, http.MethodGet, "/admin/v1/snapshots", nil)
	_, list := decode[SnapshotListResponse](t, rec)
	if len(list.Stores) != 2 || list.Stores[0].Store != "cachestore" {
		t.Fatalf("list = %+v", list)
	}
	metaSnaps := list.Stores[1].Snapshots
	if len(metaSnaps) != 2 || !metaSnaps[1].Current || metaSnaps[0].Current {
		t.Errorf("metastore snapshots = %+v", metaSnaps)
	}

	rec = do(t, h, http.MethodPost, "/admin/v1/snapshots/sweep?store=cachestore", nil)
	_, sw := decode[SweepResponse](t, rec)
	if len(sw.Sweeps) != 1 || sw.Sweeps[0].Kept != 1 || cache.sweeps != 1 || meta.sweeps != 0 {
		t.Errorf("sweep = %+v", sw)
	}

	if rec := do(t, h, http.MethodGet, "/admin/v1/snapshots?store=nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown store status = %d", rec.Code)
	}
}

func TestAdmin_Status(t *testing.T) {
	h := newTestHandler(newFakeStore("metastore"))
	rec := do(t, h, http.MethodGet, "/admin/v1/status", nil)
	_, st := decode[StatusResponse](t, rec)
	if len(st.Stores) != 1 || st.Stores[0].Name != "metastore" || st.Build.Version == "" {
		t.Errorf("status = %+v", st)
	}
}
