package blockstore_test

import (
	"context"
	"testing"

	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/blockstore"
	"github.com/cryfs-go/cryfs/internal/blockstore/inmem"
	"github.com/cryfs-go/cryfs/internal/blockstore/ondisk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stores is the set of Store implementations every invariant in this
// file is checked against (spec.md §8).
func stores(t *testing.T) map[string]blockstore.Store {
	t.Helper()
	onDisk, err := ondisk.Open(t.TempDir())
	require.NoError(t, err)

	return map[string]blockstore.Store{
		"inmem":  inmem.New(),
		"ondisk": onDisk,
	}
}

func TestTryCreate_ThenLoad_ReturnsExactBytes(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			id := s.CreateBlockId()
			payload := []byte("hello, block")

			res, err := s.TryCreate(ctx, id, payload)
			require.NoError(t, err)
			assert.Equal(t, blockstore.Created, res)

			got, found, err := s.Load(ctx, id)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, payload, got)
		})
	}
}

func TestTryCreate_Collision_ReportsAlreadyExists(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			id := s.CreateBlockId()

			res1, err := s.TryCreate(ctx, id, []byte("first"))
			require.NoError(t, err)
			assert.Equal(t, blockstore.Created, res1)

			res2, err := s.TryCreate(ctx, id, []byte("second"))
			require.NoError(t, err)
			assert.Equal(t, blockstore.AlreadyExists, res2)

			got, _, err := s.Load(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, []byte("first"), got, "TryCreate must not overwrite an existing block")
		})
	}
}

func TestOverwrite_ReplacesContent(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			id := s.CreateBlockId()
			require.NoError(t, s.Overwrite(ctx, id, []byte("v1")))
			require.NoError(t, s.Overwrite(ctx, id, []byte("v2")))

			got, found, err := s.Load(ctx, id)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, []byte("v2"), got)
		})
	}
}

func TestLoad_Missing_ReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, found, err := s.Load(ctx, s.CreateBlockId())
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestRemove_ThenLoad_IsAbsent(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			id := s.CreateBlockId()
			require.NoError(t, s.Overwrite(ctx, id, []byte("data")))

			res, err := s.Remove(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, blockstore.Removed, res)

			_, found, err := s.Load(ctx, id)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestRemove_Missing_ReportsAbsentNotError(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			res, err := s.Remove(ctx, s.CreateBlockId())
			require.NoError(t, err)
			assert.Equal(t, blockstore.Absent, res)
		})
	}
}

func TestForEachBlock_VisitsAllCreated(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			want := map[string]bool{}
			for i := 0; i < 5; i++ {
				id := s.CreateBlockId()
				require.NoError(t, s.Overwrite(ctx, id, []byte{byte(i)}))
				want[id.Hex()] = true
			}

			got := map[string]bool{}
			require.NoError(t, s.ForEachBlock(ctx, func(id blockid.BlockId) error {
				got[id.Hex()] = true
				return nil
			}))

			assert.Equal(t, want, got)

			n, err := s.NumBlocks(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(5), n)
		})
	}
}
