// Package inmem is a process-local Store backed by a map, used in tests
// and benchmarks that don't want real file I/O (spec.md §4.A: "or
// in-memory for tests").
package inmem

import (
	"context"
	"sync"

	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/blockstore"
)

// Store is a Store backed entirely by memory.
type Store struct {
	mu     sync.Mutex
	blocks map[blockid.BlockId][]byte
}

var _ blockstore.Store = (*Store)(nil)

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{blocks: make(map[blockid.BlockId][]byte)}
}

func (s *Store) CreateBlockId() blockid.BlockId {
	return blockid.NewRandom()
}

func (s *Store) TryCreate(ctx context.Context, id blockid.BlockId, payload []byte) (blockstore.CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[id]; ok {
		return blockstore.AlreadyExists, nil
	}
	s.blocks[id] = append([]byte(nil), payload...)
	return blockstore.Created, nil
}

func (s *Store) Overwrite(ctx context.Context, id blockid.BlockId, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[id] = append([]byte(nil), payload...)
	return nil
}

func (s *Store) Load(ctx context.Context, id blockid.BlockId) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.blocks[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (s *Store) Remove(ctx context.Context, id blockid.BlockId) (blockstore.RemoveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[id]; !ok {
		return blockstore.Absent, nil
	}
	delete(s.blocks, id)
	return blockstore.Removed, nil
}

func (s *Store) NumBlocks(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return uint64(len(s.blocks)), nil
}

func (s *Store) EstimateFreeBytes(ctx context.Context) (uint64, error) {
	// Memory is not a meaningfully scarce resource for this backend; a
	// large constant keeps callers that branch on free space exercising
	// their non-OutOfSpace path.
	return 1 << 40, nil
}

func (s *Store) BlockSizeFromPhysical(physical uint64) uint64 {
	return physical
}

func (s *Store) ForEachBlock(ctx context.Context, f func(blockid.BlockId) error) error {
	s.mu.Lock()
	ids := make([]blockid.BlockId, 0, len(s.blocks))
	for id := range s.blocks {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := f(id); err != nil {
			return err
		}
	}
	return nil
}
