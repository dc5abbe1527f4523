package wal

import (
	"time"

	"github.com/hupe1980/vectorize/codec"
	"github.com/hupe1980/vectorize/internal/fs"
)

// DurabilityMode defines the fsync behavior for WAL writes.
type DurabilityMode int

const (
	// DurabilityAsync represents asynchronous durability.
	// No fsync, fastest writes but risk of data loss on crash.
	DurabilityAsync DurabilityMode = iota

	// DurabilityGroupCommit represents group commit durability.
	// Appends wait for a batched fsync that runs at regular intervals or once
	// GroupCommitMaxOps entries are pending.
	DurabilityGroupCommit

	// DurabilitySync represents synchronous durability.
	// fsync after every append.
	DurabilitySync
)

// String returns the mode name.
func (m DurabilityMode) String() string {
	switch m {
	case DurabilityAsync:
		return "async"
	case DurabilityGroupCommit:
		return "group-commit"
	case DurabilitySync:
		return "sync"
	default:
		return "unknown"
	}
}

// ParseDurabilityMode parses a mode name as returned by String.
func ParseDurabilityMode(s string) (DurabilityMode, bool) {
	switch s {
	case "async":
		return DurabilityAsync, true
	case "group-commit", "groupcommit", "":
		return DurabilityGroupCommit, true
	case "sync":
		return DurabilitySync, true
	default:
		return 0, false
	}
}

// OperationType represents the type of operation in the WAL.
type OperationType uint8

const (
	// OpInsert appends new physical entries.
	OpInsert OperationType = iota + 1
	// OpUpsert replaces every entry of each id.
	OpUpsert
	// OpDelete removes ids.
	OpDelete
	// OpCheckpoint marks the LSN covered by the latest snapshot.
	OpCheckpoint
)

// String returns the operation name.
func (t OperationType) String() string {
	switch t {
	case OpInsert:
		return "insert"
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	case OpCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

func (t OperationType) valid() bool {
	return t >= OpInsert && t <= OpCheckpoint
}

// Record is the journaled form of a vector record.
type Record struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Entry is one journaled mutation batch.
type Entry struct {
	// LSN is assigned by Append.
	LSN  uint64        `json:"-"`
	Type OperationType `json:"-"`

	MutationID string   `json:"mutationId,omitempty"`
	Records    []Record `json:"records,omitempty"`
	IDs        []string `json:"ids,omitempty"`
}

// ReplayStats summarises a replay.
type ReplayStats struct {
	Entries int
	Skipped int
	LastLSN uint64
}

// Options contains configuration for the WAL.
type Options struct {
	// Path is the directory where the WAL file is stored.
	Path string

	// FileName is the WAL file name inside Path.
	FileName string

	// FS is the file system. Defaults to the local file system.
	FS fs.FileSystem

	// Codec encodes entry payloads of new WAL files. Existing files are
	// decoded with the codec named in their header.
	Codec codec.Codec

	// Compress enables zstd compression of entry payloads.
	Compress bool

	// CompressionLevel sets the zstd compression level (1-22).
	CompressionLevel int

	// DurabilityMode controls fsync behavior (Async, GroupCommit, Sync).
	DurabilityMode DurabilityMode

	// GroupCommitInterval is the maximum time to wait before fsync in GroupCommit mode.
	GroupCommitInterval time.Duration

	// GroupCommitMaxOps is the maximum entries to batch before fsync in GroupCommit mode.
	GroupCommitMaxOps int
}

// DefaultOptions returns default WAL options.
var DefaultOptions = Options{
	Path:                ".",
	FileName:            "vectorize.wal",
	Codec:               codec.Msgpack{},
	Compress:            false,
	CompressionLevel:    3,                     // zstd default level
	DurabilityMode:      DurabilityGroupCommit, // Balanced performance/durability
	GroupCommitInterval: 10 * time.Millisecond, // 100 fsync/sec max
	GroupCommitMaxOps:   100,                   // Batch up to 100 entries
}
