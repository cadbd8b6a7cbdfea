// Package blockstore defines the base block store contract (spec.md
// §4.A): fixed-size, content-addressed blocks held as files on disk or
// in memory. Every higher layer (integrity, encryption, caching,
// parallel-access) wraps a Store and presents the same interface, so the
// stack composes uniformly.
package blockstore

import (
	"context"

	"github.com/cryfs-go/cryfs/internal/blockid"
)

// CreateResult reports whether try_create actually wrote the block or
// found one already present under that id.
type CreateResult int

const (
	Created CreateResult = iota
	AlreadyExists
)

// RemoveResult reports whether remove found something to delete.
type RemoveResult int

const (
	Removed RemoveResult = iota
	Absent
)

// Store is the contract every block-store layer implements, from the
// on-disk/in-memory base (4.A) up through integrity (4.B), encryption
// (4.C), caching (4.D), and parallel-access (4.E). Each layer wraps the
// one below it and presents this same interface to the one above.
type Store interface {
	// CreateBlockId returns a fresh random id, suitable for a subsequent
	// TryCreate or Overwrite.
	CreateBlockId() blockid.BlockId

	// TryCreate writes payload under id iff no block with that id exists.
	// Concurrent TryCreate calls for the same id are safe; exactly one
	// reports Created.
	TryCreate(ctx context.Context, id blockid.BlockId, payload []byte) (CreateResult, error)

	// Overwrite writes payload under id unconditionally, creating it if
	// absent.
	Overwrite(ctx context.Context, id blockid.BlockId, payload []byte) error

	// Load returns the exact payload bytes previously stored under id,
	// or (nil, false) if no such block exists.
	Load(ctx context.Context, id blockid.BlockId) (payload []byte, found bool, err error)

	// Remove deletes the block under id, if any. Succeeds even if no
	// in-memory handle for id is held by a higher layer.
	Remove(ctx context.Context, id blockid.BlockId) (RemoveResult, error)

	// NumBlocks returns the total number of blocks currently stored.
	NumBlocks(ctx context.Context) (uint64, error)

	// EstimateFreeBytes estimates remaining space in the underlying
	// medium.
	EstimateFreeBytes(ctx context.Context) (uint64, error)

	// BlockSizeFromPhysical converts a physical on-disk file size into
	// the logical block payload size this layer exposes to its caller,
	// undoing whatever header/overhead this layer itself adds.
	BlockSizeFromPhysical(physical uint64) uint64

	// ForEachBlock iterates all block ids known to this store. Order is
	// unspecified. Iteration stops and returns f's error if f returns
	// one.
	ForEachBlock(ctx context.Context, f func(blockid.BlockId) error) error
}
