// Package handler provides the HTTP handlers of metastore-server.
//
// Every JSON response uses the Response envelope. Errors carry a stable
// code in the body and in the X-Error-Code header.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync/atomic"

	"github.com/yndnr/metastore-go/internal/storage"
	"github.com/yndnr/metastore-go/internal/storage/snapshot"
	"github.com/yndnr/metastore-go/internal/storage/wal"
	"github.com/yndnr/metastore-go/internal/telemetry/logger"
)

// Error codes.
const (
	CodeOK             = "OK"
	CodeBadRequest     = "MS-ARG-4000"
	CodeEmptyKey       = "MS-ARG-4001"
	CodeBodyTooLarge   = "MS-ARG-4130"
	CodeKeyNotFound    = "MS-KV-4040"
	CodeStoreNotFound  = "MS-STORE-4040"
	CodeStoreClosed    = "MS-STORE-5030"
	CodeNotReady       = "MS-SYS-5030"
	CodeInternal       = "MS-SYS-5000"
	CodeUnauthorized   = "MS-AUTH-4010"
	CodeForbidden      = "MS-AUTH-4030"
	CodeTooManyRequest = "MS-SYS-4290"
)

// DefaultMaxValueBytes bounds the body of a PUT.
const DefaultMaxValueBytes = 4 << 20

// Store is the store surface served over HTTP. *storage.Store implements it.
type Store interface {
	Name() string
	Get(ctx context.Context, key []byte) ([]byte, error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	Checkpoint(ctx context.Context) (*storage.CheckpointResult, error)
	Snapshots(ctx context.Context) ([]snapshot.SnapshotInfo, error)
	Sweep(ctx context.Context) (*snapshot.SweepResult, error)
	Stats() storage.Stats
}

var _ Store = (*storage.Store)(nil)

// Handler serves the KV, admin and health routes.
type Handler struct {
	stores        map[string]Store
	names         []string
	maxValueBytes int64
	ready         atomic.Bool
	logger        *slog.Logger
	mux           *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMaxValueBytes bounds PUT bodies.
func WithMaxValueBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxValueBytes = n
		}
	}
}

// New creates a Handler serving stores. The handler starts ready.
func New(stores []Store, opts ...Option) *Handler {
	h := &Handler{
		stores:        make(map[string]Store, len(stores)),
		maxValueBytes: DefaultMaxValueBytes,
		logger:        slog.Default(),
		mux:           http.NewServeMux(),
	}
	for _, s := range stores {
		h.stores[s.Name()] = s
		h.names = append(h.names, s.Name())
	}
	sort.Strings(h.names)
	for _, opt := range opts {
		opt(h)
	}
	h.ready.Store(true)
	h.registerRoutes()
	return h
}

// SetReady flips the readiness reported by /ready.
func (h *Handler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /v1/kv/{store}/{key...}", h.handleGet)
	h.mux.HandleFunc("PUT /v1/kv/{store}/{key...}", h.handlePut)
	h.mux.HandleFunc("DELETE /v1/kv/{store}/{key...}", h.handleDelete)

	h.mux.HandleFunc("GET /admin/v1/status", h.handleStatus)
	h.mux.HandleFunc("GET /admin/v1/snapshots", h.handleListSnapshots)
	h.mux.HandleFunc("POST /admin/v1/checkpoint", h.handleCheckpoint)
	h.mux.HandleFunc("POST /admin/v1/snapshots/sweep", h.handleSweep)
}

// selectStores returns the store named by the "store" query parameter, or
// every store when it is absent.
func (h *Handler) selectStores(r *http.Request) ([]Store, bool) {
	name := r.URL.Query().Get("store")
	if name == "" {
		out := make([]Store, 0, len(h.names))
		for _, n := range h.names {
			out = append(out, h.stores[n])
		}
		return out, true
	}
	s, ok := h.stores[name]
	if !ok {
		return nil, false
	}
	return []Store{s}, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteError(w, r, status, code, message)
}

// WriteError writes an error envelope. Middleware uses it too.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID := logger.RequestIDFromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message))
}

// handleStoreError maps store errors to responses.
func (h *Handler) handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		h.writeError(w, r, http.StatusNotFound, CodeKeyNotFound, "key not found")
	case errors.Is(err, wal.ErrEmptyKey):
		h.writeError(w, r, http.StatusBadRequest, CodeEmptyKey, "key must not be empty")
	case errors.Is(err, storage.ErrClosed):
		h.writeError(w, r, http.StatusServiceUnavailable, CodeStoreClosed, "store closed")
	default:
		logger.L(r.Context()).Error("store operation failed", "path", r.URL.Path, "error", err)
		h.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}
