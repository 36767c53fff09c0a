package handler

import (
	"time"

	"github.com/yndnr/metastore-go/internal/infra/buildinfo"
	"github.com/yndnr/metastore-go/internal/storage"
	"github.com/yndnr/metastore-go/internal/storage/snapshot"
)

// Response is the API response envelope. /metrics is the only route that
// does not use it.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      CodeOK,
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// KVResponse is the body of GET /v1/kv/{store}/{key}.
type KVResponse struct {
	Store string `json:"store"`
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// StoreSnapshots lists the snapshots of one store.
type StoreSnapshots struct {
	Store     string                  `json:"store"`
	Snapshots []snapshot.SnapshotInfo `json:"snapshots"`
}

// SnapshotListResponse is the body of GET /admin/v1/snapshots.
type SnapshotListResponse struct {
	Stores []StoreSnapshots `json:"stores"`
}

// CheckpointResponse is the body of POST /admin/v1/checkpoint.
type CheckpointResponse struct {
	Checkpoints []StoreCheckpoint `json:"checkpoints"`
}

// StoreCheckpoint is one published checkpoint.
type StoreCheckpoint struct {
	Store string `json:"store"`
	storage.CheckpointResult
}

// SweepResponse is the body of POST /admin/v1/snapshots/sweep.
type SweepResponse struct {
	Sweeps []StoreSweep `json:"sweeps"`
}

// StoreSweep is the sweep result of one store.
type StoreSweep struct {
	Store string `json:"store"`
	snapshot.SweepResult
}

// StatusResponse is the body of GET /admin/v1/status.
type StatusResponse struct {
	Build  buildinfo.Info  `json:"build"`
	Stores []storage.Stats `json:"stores"`
}
