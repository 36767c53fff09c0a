package handler

import (
	"net/http"

	"github.com/yndnr/metastore-go/internal/infra/buildinfo"
	"github.com/yndnr/metastore-go/internal/storage"
	"github.com/yndnr/metastore-go/internal/telemetry/logger"
)

// handleStatus handles GET /admin/v1/status.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Build: buildinfo.Get(), Stores: make([]storage.Stats, 0, len(h.names))}
	for _, name := range h.names {
		resp.Stores = append(resp.Stores, h.stores[name].Stats())
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleListSnapshots handles GET /admin/v1/snapshots[?store=name].
func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	stores, ok := h.selectStores(r)
	if !ok {
		h.writeError(w, r, http.StatusNotFound, CodeStoreNotFound, "unknown store")
		return
	}

	resp := SnapshotListResponse{Stores: make([]StoreSnapshots, 0, len(stores))}
	for _, s := range stores {
		infos, err := s.Snapshots(r.Context())
		if err != nil {
			h.handleStoreError(w, r, err)
			return
		}
		resp.Stores = append(resp.Stores, StoreSnapshots{Store: s.Name(), Snapshots: infos})
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleCheckpoint handles POST /admin/v1/checkpoint[?store=name].
func (h *Handler) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	stores, ok := h.selectStores(r)
	if !ok {
		h.writeError(w, r, http.StatusNotFound, CodeStoreNotFound, "unknown store")
		return
	}

	resp := CheckpointResponse{Checkpoints: make([]StoreCheckpoint, 0, len(stores))}
	for _, s := range stores {
		res, err := s.Checkpoint(r.Context())
		if err != nil {
			h.handleStoreError(w, r, err)
			return
		}
		logger.L(r.Context()).Info("manual checkpoint published", "store", s.Name(), "prefix", res.Prefix)
		resp.Checkpoints = append(resp.Checkpoints, StoreCheckpoint{Store: s.Name(), CheckpointResult: *res})
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleSweep handles POST /admin/v1/snapshots/sweep[?store=name].
func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	stores, ok := h.selectStores(r)
	if !ok {
		h.writeError(w, r, http.StatusNotFound, CodeStoreNotFound, "unknown store")
		return
	}

	resp := SweepResponse{Sweeps: make([]StoreSweep, 0, len(stores))}
	for _, s := range stores {
		res, err := s.Sweep(r.Context())
		if err != nil {
			h.handleStoreError(w, r, err)
			return
		}
		resp.Sweeps = append(resp.Sweeps, StoreSweep{Store: s.Name(), SweepResult: *res})
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}
