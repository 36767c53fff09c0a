package wal

import (
	"errors"
	"time"
)

// Errors for WAL operations.
var (
	ErrCorrupted        = errors.New("wal: corrupted chunk")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrInvalidOpType    = errors.New("wal: invalid op type")
	ErrEmptyKey         = errors.New("wal: empty key")
)

// OpType represents the type of operation in a batch.
type OpType uint8

const (
	OpTypeUnspecified OpType = iota
	OpTypePut
	OpTypeDelete
)

func (t OpType) String() string {
	switch t {
	case OpTypePut:
		return "put"
	case OpTypeDelete:
		return "delete"
	default:
		return "unspecified"
	}
}

// Op is one mutation inside a Batch.
type Op struct {
	Type  OpType
	Key   []byte
	Value []byte
}

// Batch is an ordered group of mutations applied atomically by the engine.
//
// Timestamp uses Unix milliseconds.
type Batch struct {
	Timestamp int64
	Ops       []Op
}

// NewBatch returns an empty batch stamped with the current time.
func NewBatch() *Batch {
	return &Batch{Timestamp: time.Now().UnixMilli()}
}

// Put appends a put of key=value.
func (b *Batch) Put(key, value []byte) {
	b.Ops = append(b.Ops, Op{Type: OpTypePut, Key: key, Value: value})
}

// Delete appends a delete of key.
func (b *Batch) Delete(key []byte) {
	b.Ops = append(b.Ops, Op{Type: OpTypeDelete, Key: key})
}

// Append adds ops in order.
func (b *Batch) Append(ops ...Op) {
	b.Ops = append(b.Ops, ops...)
}

// Len returns the number of ops.
func (b *Batch) Len() int {
	return len(b.Ops)
}

// Size returns the approximate payload size in bytes.
func (b *Batch) Size() int64 {
	var n int64
	for _, op := range b.Ops {
		n += int64(len(op.Key) + len(op.Value) + 1)
	}
	return n
}

// Validate checks every op.
func (b *Batch) Validate() error {
	for _, op := range b.Ops {
		if len(op.Key) == 0 {
			return ErrEmptyKey
		}
		switch op.Type {
		case OpTypePut, OpTypeDelete:
		default:
			return ErrInvalidOpType
		}
	}
	return nil
}
