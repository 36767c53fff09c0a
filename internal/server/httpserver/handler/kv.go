package handler

import (
	"errors"
	"io"
	"net/http"
)

func (h *Handler) storeFromPath(w http.ResponseWriter, r *http.Request) (Store, []byte, bool) {
	s, ok := h.stores[r.PathValue("store")]
	if !ok {
		h.writeError(w, r, http.StatusNotFound, CodeStoreNotFound, "unknown store: "+r.PathValue("store"))
		return nil, nil, false
	}
	key := r.PathValue("key")
	if key == "" {
		h.writeError(w, r, http.StatusBadRequest, CodeEmptyKey, "key must not be empty")
		return nil, nil, false
	}
	return s, []byte(key), true
}

// handleGet handles GET /v1/kv/{store}/{key}. With Accept:
// application/octet-stream the raw value is returned.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	s, key, ok := h.storeFromPath(w, r)
	if !ok {
		return
	}
	value, err := s.Get(r.Context(), key)
	if err != nil {
		h.handleStoreError(w, r, err)
		return
	}
	if r.Header.Get("Accept") == "application/octet-stream" {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(value)
		return
	}
	h.writeJSON(w, r, http.StatusOK, KVResponse{Store: s.Name(), Key: string(key), Value: value})
}

// handlePut handles PUT /v1/kv/{store}/{key}. The body is the raw value.
func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	s, key, ok := h.storeFromPath(w, r)
	if !ok {
		return
	}
	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxValueBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, http.StatusRequestEntityTooLarge, CodeBodyTooLarge, "value too large")
			return
		}
		h.writeError(w, r, http.StatusBadRequest, CodeBadRequest, "read body: "+err.Error())
		return
	}
	if err := s.Put(r.Context(), key, value); err != nil {
		h.handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDelete handles DELETE /v1/kv/{store}/{key}.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	s, key, ok := h.storeFromPath(w, r)
	if !ok {
		return
	}
	if err := s.Delete(r.Context(), key); err != nil {
		h.handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
