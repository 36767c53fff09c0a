package command

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/metastore-go/internal/cli/config"
	"github.com/yndnr/metastore-go/internal/cli/connection"
)

func TestKVCommands(t *testing.T) {
	srv := newMockServer(t)
	values := map[string][]byte{}
	srv.handle("/v1/kv/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			values[r.URL.Path] = body
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			v, ok := values[r.URL.Path]
			if !ok {
				errorResponse(w, http.StatusNotFound, "MS-KV-4040", "key not found")
				return
			}
			jsonResponse(w, http.StatusOK, map[string]any{"store": "metastore", "key": "users/1", "value": v})
		case http.MethodDelete:
			delete(values, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		}
	})

	out, err := runApp(t, srv, "kv", "put", "metastore", "users/1", "alice")
	if err != nil {
		t.Fatalf("kv put error = %v", err)
	}
	if !strings.Contains(out, "Stored metastore/users/1 (5 bytes)") {
		t.Errorf("kv put output = %q", out)
	}

	out, err = runApp(t, srv, "kv", "get", "metastore", "users/1")
	if err != nil {
		t.Fatalf("kv get error = %v", err)
	}
	if !strings.Contains(out, "KEY") || !strings.Contains(out, "alice") {
		t.Errorf("kv get output = %q", out)
	}

	out, err = runApp(t, srv, "kv", "get", "--raw", "metastore", "users/1")
	if err != nil {
		t.Fatalf("kv get --raw error = %v", err)
	}
	if out != "alice" {
		t.Errorf("kv get --raw output = %q, want alice", out)
	}

	out, err = runApp(t, srv, "-o", "json", "kv", "get", "metastore", "users/1")
	if err != nil {
		t.Fatalf("kv get -o json error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("json output %q: %v", out, err)
	}
	if got["value"] != "alice" || got["size"] != float64(5) {
		t.Errorf("json output = %v", got)
	}

	if _, err := runApp(t, srv, "kv", "delete", "metastore", "users/1"); err != nil {
		t.Fatalf("kv delete error = %v", err)
	}
	_, err = runApp(t, srv, "kv", "get", "metastore", "users/1")
	if !errors.Is(err, connection.ErrNotFound) {
		t.Errorf("kv get after delete error = %v, want ErrNotFound", err)
	}
}

func TestKVPut_FromFile(t *testing.T) {
	srv := newMockServer(t)
	var body []byte
	srv.handle("/v1/kv/", func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	})

	path := filepath.Join(t.TempDir(), "value.bin")
	if err := os.WriteFile(path, []byte{0, 1, 2}, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := runApp(t, srv, "kv", "put", "--file", path, "cachestore", "blob"); err != nil {
		t.Fatalf("kv put --file error = %v", err)
	}
	if len(body) != 3 || body[2] != 2 {
		t.Errorf("body = %v", body)
	}
}

func TestKV_MissingArgs(t *testing.T) {
	srv := newMockServer(t)
	if _, err := runApp(t, srv, "kv", "get", "metastore"); err == nil {
		t.Error("kv get with one arg: error = nil")
	}
	if _, err := runApp(t, srv, "kv", "put", "metastore", "k"); err == nil {
		t.Error("kv put without value: error = nil")
	}
}

func TestSnapshotCommands(t *testing.T) {
	srv := newMockServer(t)
	var gotStore string
	srv.handle("/admin/v1/snapshots", func(w http.ResponseWriter, r *http.Request) {
		gotStore = r.URL.Query().Get("store")
		jsonResponse(w, http.StatusOK, map[string]any{"stores": []any{
			map[string]any{"store": "metastore", "snapshots": []any{
				map[string]any{"id": 1700000000000, "current": false},
				map[string]any{"id": 1700000060000, "current": true},
			}},
		}})
	})
	srv.handle("/admin/v1/checkpoint", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("checkpoint method = %s", r.Method)
		}
		jsonResponse(w, http.StatusOK, map[string]any{"checkpoints": []any{
			map[string]any{"store": "metastore", "id": 1700000120000, "prefix": "metastore/snapshots/1700000120000/", "duration": 2500000},
		}})
	})
	srv.handle("/admin/v1/snapshots/sweep", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{"sweeps": []any{
			map[string]any{"store": "metastore", "kept": 5, "cutoff": 1700000000000, "deleted": 2},
		}})
	})

	out, err := runApp(t, srv, "snapshot", "list", "--store", "metastore")
	if err != nil {
		t.Fatalf("snapshot list error = %v", err)
	}
	if gotStore != "metastore" {
		t.Errorf("store query = %q", gotStore)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "STORE") {
		t.Fatalf("snapshot list output = %q", out)
	}
	if !strings.Contains(lines[2], "1700000060000") || !strings.HasSuffix(strings.TrimSpace(lines[2]), "*") {
		t.Errorf("current row = %q", lines[2])
	}

	out, err = runApp(t, srv, "snapshot", "create")
	if err != nil {
		t.Fatalf("snapshot create error = %v", err)
	}
	if !strings.Contains(out, "1700000120000") || !strings.Contains(out, "3ms") {
		t.Errorf("snapshot create output = %q", out)
	}

	out, err = runApp(t, srv, "-o", "yaml", "snapshot", "sweep")
	if err != nil {
		t.Fatalf("snapshot sweep error = %v", err)
	}
	if !strings.Contains(out, "deleted: 2") || !strings.Contains(out, "kept: 5") {
		t.Errorf("snapshot sweep output = %q", out)
	}
}

func TestSystemCommands(t *testing.T) {
	srv := newMockServer(t)
	ready := true
	srv.handle("/health", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	srv.handle("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !ready {
			errorResponse(w, http.StatusServiceUnavailable, "MS-SYS-5030", "not ready")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	srv.handle("/admin/v1/status", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer t0ken" {
			errorResponse(w, http.StatusUnauthorized, "MS-AUTH-4010", "unauthorized")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]any{
			"build": map[string]any{"version": "v1.0.0", "commit": "abc123"},
			"stores": []any{map[string]any{
				"name": "metastore", "snapshot_id": 1700000060000,
				"wal": map[string]any{"next_seq": 7, "pending_ops": 3},
			}},
		})
	})

	out, err := runApp(t, srv, "system", "health")
	if err != nil {
		t.Fatalf("system health error = %v", err)
	}
	if !strings.Contains(out, "true") {
		t.Errorf("system health output = %q", out)
	}

	ready = false
	if _, err := runApp(t, srv, "system", "health"); !errors.Is(err, ErrNotReady) {
		t.Errorf("system health not ready error = %v, want ErrNotReady", err)
	}

	if _, err := runApp(t, srv, "system", "status"); err == nil {
		t.Error("system status without token: error = nil")
	}

	out, err = runApp(t, srv, "--token", "t0ken", "system", "status")
	if err != nil {
		t.Fatalf("system status error = %v", err)
	}
	if !strings.Contains(out, "v1.0.0") || !strings.Contains(out, "1700000060000") {
		t.Errorf("system status output = %q", out)
	}

	out, err = runApp(t, nil, "-o", "json", "system", "version")
	if err != nil {
		t.Fatalf("system version error = %v", err)
	}
	if !strings.Contains(out, `"version"`) {
		t.Errorf("system version output = %q", out)
	}
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")

	if _, err := runAppWithConfig(t, path, nil, "config", "set", "token", "s3cret"); err != nil {
		t.Fatalf("config set error = %v", err)
	}
	if _, err := runAppWithConfig(t, path, nil, "config", "set", "output", "json"); err != nil {
		t.Fatalf("config set error = %v", err)
	}
	if _, err := runAppWithConfig(t, path, nil, "config", "set", "color", "red"); !errors.Is(err, config.ErrUnknownKey) {
		t.Errorf("config set unknown key error = %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Token != "s3cret" || cfg.Output != "json" {
		t.Errorf("saved config = %+v", cfg)
	}

	out, err := runAppWithConfig(t, path, nil, "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if strings.Contains(out, "s3cret") || !strings.Contains(out, "******") {
		t.Errorf("config show output = %q", out)
	}

	out, err = runAppWithConfig(t, path, nil, "config", "path")
	if err != nil || strings.TrimSpace(out) != path {
		t.Errorf("config path = %q, %v", out, err)
	}
}

func TestConfigFileSuppliesToken(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("/admin/v1/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer from-file" {
			errorResponse(w, http.StatusUnauthorized, "MS-AUTH-4010", "unauthorized")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]any{"stores": []any{}})
	})

	path := filepath.Join(t.TempDir(), "cli.yaml")
	cfg := config.Default()
	cfg.Token = "from-file"
	if err := config.Save(cfg, path); err != nil {
		t.Fatal(err)
	}
	if _, err := runAppWithConfig(t, path, srv, "system", "status"); err != nil {
		t.Fatalf("system status error = %v", err)
	}
}
