package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/metastore-go/pkg/crypto/adaptive"
)

// File format constants.
const (
	MagicBytes      = "MSTWAL\x00\x01"
	MagicBytesSize  = 8
	FileExtension   = ".flex"
	DefaultFilePerm = 0600

	headerSize    = MagicBytesSize + 1 + 4 + 4
	flagEncrypted = 1 << 0
)

// Wire field numbers.
const (
	fieldTimestamp protowire.Number = 1
	fieldOp        protowire.Number = 2

	fieldOpType  protowire.Number = 1
	fieldOpKey   protowire.Number = 2
	fieldOpValue protowire.Number = 3
)

// Codec encodes batches into chunk files. A nil cipher writes plaintext.
type Codec struct {
	cipher adaptive.Cipher
}

// NewCodec creates a codec. cipher may be nil.
func NewCodec(cipher adaptive.Cipher) *Codec {
	return &Codec{cipher: cipher}
}

// Encrypted reports whether the codec encrypts payloads.
func (c *Codec) Encrypted() bool {
	return c != nil && c.cipher != nil
}

// Encode serializes b into a complete chunk.
func (c *Codec) Encode(b *Batch) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("wal: batch is nil")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	payload := marshalBatch(b)
	var flags byte
	if c.Encrypted() {
		enc, err := c.cipher.Encrypt(payload, []byte(MagicBytes))
		if err != nil {
			return nil, fmt.Errorf("wal: encrypt: %w", err)
		}
		payload = enc
		flags |= flagEncrypted
	}

	out := make([]byte, 0, headerSize+len(payload))
	out = append(out, MagicBytes...)
	out = append(out, flags)
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	out = binary.BigEndian.AppendUint32(out, checksum(flags, payload))
	out = append(out, payload...)
	return out, nil
}

// Decode parses a chunk produced by Encode.
func (c *Codec) Decode(data []byte) (*Batch, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrCorrupted, len(data))
	}
	if !bytes.Equal(data[:MagicBytesSize], []byte(MagicBytes)) {
		return nil, fmt.Errorf("%w: invalid magic", ErrCorrupted)
	}

	flags := data[MagicBytesSize]
	length := binary.BigEndian.Uint32(data[MagicBytesSize+1:])
	wantCRC := binary.BigEndian.Uint32(data[MagicBytesSize+5:])
	payload := data[headerSize:]
	if uint64(len(payload)) != uint64(length) {
		return nil, fmt.Errorf("%w: payload length %d, header says %d", ErrCorrupted, len(payload), length)
	}
	if checksum(flags, payload) != wantCRC {
		return nil, ErrChecksumMismatch
	}

	if flags&flagEncrypted != 0 {
		if !c.Encrypted() {
			return nil, fmt.Errorf("wal: encrypted chunk requires cipher")
		}
		plain, err := c.cipher.Decrypt(payload, []byte(MagicBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: decrypt: %v", ErrCorrupted, err)
		}
		payload = plain
	}

	b, err := unmarshalBatch(payload)
	if err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return b, nil
}

// WriteFile encodes b into path and returns the file size.
func (c *Codec) WriteFile(path string, b *Batch) (int64, error) {
	data, err := c.Encode(b)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return 0, fmt.Errorf("wal: create dir: %w", err)
	}
	if err := os.WriteFile(path, data, DefaultFilePerm); err != nil {
		return 0, fmt.Errorf("wal: write %s: %w", path, err)
	}
	return int64(len(data)), nil
}

// ReadFile reads and decodes the chunk at path.
func (c *Codec) ReadFile(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wal: read %s: %w", path, err)
	}
	return c.Decode(data)
}

func checksum(flags byte, payload []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write([]byte{flags})
	h.Write(payload)
	return h.Sum32()
}

func marshalBatch(b *Batch) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldTimestamp, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(b.Timestamp))
	for _, op := range b.Ops {
		var m []byte
		m = protowire.AppendTag(m, fieldOpType, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(op.Type))
		m = protowire.AppendTag(m, fieldOpKey, protowire.BytesType)
		m = protowire.AppendBytes(m, op.Key)
		if op.Type == OpTypePut {
			m = protowire.AppendTag(m, fieldOpValue, protowire.BytesType)
			m = protowire.AppendBytes(m, op.Value)
		}
		out = protowire.AppendTag(out, fieldOp, protowire.BytesType)
		out = protowire.AppendBytes(out, m)
	}
	return out
}

func unmarshalBatch(data []byte) (*Batch, error) {
	b := &Batch{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrCorrupted, protowire.ParseError(n))
			}
			b.Timestamp = int64(v)
			data = data[n:]
		case num == fieldOp && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrCorrupted, protowire.ParseError(n))
			}
			op, err := unmarshalOp(raw)
			if err != nil {
				return nil, err
			}
			b.Ops = append(b.Ops, op)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrCorrupted, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return b, nil
}

func unmarshalOp(data []byte) (Op, error) {
	var op Op
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Op{}, fmt.Errorf("%w: %v", ErrCorrupted, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldOpType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Op{}, fmt.Errorf("%w: %v", ErrCorrupted, protowire.ParseError(n))
			}
			op.Type = OpType(v)
			data = data[n:]
		case (num == fieldOpKey || num == fieldOpValue) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Op{}, fmt.Errorf("%w: %v", ErrCorrupted, protowire.ParseError(n))
			}
			if num == fieldOpKey {
				op.Key = bytes.Clone(v)
			} else {
				op.Value = bytes.Clone(v)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Op{}, fmt.Errorf("%w: %v", ErrCorrupted, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return op, nil
}
