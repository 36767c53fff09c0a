// Package wal provides the write-ahead log used between snapshots.
//
// A WAL chunk is one encoded Batch stored remotely as
// "{name}-{snapshot}-logs/{seq}.flex". Sequence numbers restart at 0
// for every snapshot generation and are assigned by Writer.
//
// Chunk file format:
//
//	[magic:8 "MSTWAL\x00\x01"]
//	[flags:1]            bit 0: payload encrypted
//	[length:4]           payload length (big-endian)
//	[crc32:4]            IEEE CRC of flags+payload
//	[payload:length]     protobuf wire encoded Batch
//
// Batch wire fields:
//
//	1: timestamp (varint, Unix milliseconds)
//	2: op (repeated, embedded)
//	     1: type (varint)  2: key (bytes)  3: value (bytes)
//
// Decoding never panics on malformed input; any structural problem is
// reported as ErrCorrupted or ErrChecksumMismatch so replay can stop at
// the crash boundary.
package wal
