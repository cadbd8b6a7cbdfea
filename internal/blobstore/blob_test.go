package blobstore_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/cryfs-go/cryfs/internal/blockstore/inmem"
	"github.com/cryfs-go/cryfs/internal/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smallBlockSize forces a branching factor and leaf capacity small enough
// that ordinary test payloads span many nodes and several tree depths.
const smallBlockSize = 64

func newStore() *blobstore.Store {
	return blobstore.New(inmem.New(), smallBlockSize)
}

func TestCreate_IsEmpty(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	b, err := s.Create(ctx)
	require.NoError(t, err)

	size, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size)
}

func TestWriteAt_WithinSingleLeaf_RoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	b, err := s.Create(ctx)
	require.NoError(t, err)

	data := []byte("hello cryfs")
	require.NoError(t, b.WriteAt(ctx, 0, data))

	size, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), size)

	got := make([]byte, len(data))
	n, err := b.ReadAt(ctx, 0, got)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, got)
}

func TestWriteAt_PastEnd_GrowsTreeAcrossMultipleLevels(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	b, err := s.Create(ctx)
	require.NoError(t, err)

	// Large enough to force the tree past a single leaf and past a
	// single level of inner nodes, given smallBlockSize.
	data := bytes.Repeat([]byte("0123456789abcdef"), 200) // 3200 bytes
	require.NoError(t, b.WriteAt(ctx, 0, data))

	size, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), size)

	got := make([]byte, len(data))
	n, err := b.ReadAt(ctx, 0, got)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, got)
}

func TestWriteAt_PastCurrentEnd_ZeroFillsGap(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	b, err := s.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, b.WriteAt(ctx, 0, []byte("abc")))
	require.NoError(t, b.WriteAt(ctx, 10, []byte("xyz")))

	size, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(13), size)

	got := make([]byte, 13)
	n, err := b.ReadAt(ctx, 0, got)
	require.NoError(t, err)
	assert.Equal(t, 13, n)
	assert.Equal(t, []byte("abc\x00\x00\x00\x00\x00\x00\x00xyz"), got)
}

func TestReadAt_RandomOffsetsAcrossMultipleLeaves(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	b, err := s.Create(ctx)
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0xAB}, 500)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, b.WriteAt(ctx, 0, data))

	for _, off := range []int{0, 1, 17, 63, 64, 65, 200, 499} {
		want := data[off:]
		got := make([]byte, len(want))
		n, err := b.ReadAt(ctx, uint64(off), got)
		require.NoError(t, err)
		assert.Equal(t, len(want), n, "offset %d", off)
		assert.Equal(t, want, got, "offset %d", off)
	}
}

func TestReadAt_PastEnd_IsShortRead(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	b, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, b.WriteAt(ctx, 0, []byte("abcde")))

	buf := make([]byte, 10)
	n, err := b.ReadAt(ctx, 2, buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("cde"), buf[:n])
}

func TestResize_Grow_ZeroFillsAndShrinkDropsTrailingLeavesAndCollapsesRoot(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	b, err := s.Create(ctx)
	require.NoError(t, err)

	data := bytes.Repeat([]byte("x"), 3000)
	require.NoError(t, b.WriteAt(ctx, 0, data))

	require.NoError(t, b.Resize(ctx, 4000))
	size, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4000), size)

	tail := make([]byte, 1000)
	n, err := b.ReadAt(ctx, 3000, tail)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)
	assert.Equal(t, make([]byte, 1000), tail)

	require.NoError(t, b.Resize(ctx, 10))
	size, err = b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), size)

	got := make([]byte, 10)
	n, err = b.ReadAt(ctx, 0, got)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, data[:10], got)
}

func TestOpen_ReadsBlobWrittenByAnotherHandle(t *testing.T) {
	ctx := context.Background()
	inner := inmem.New()
	s := blobstore.New(inner, smallBlockSize)

	b1, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, b1.WriteAt(ctx, 0, []byte("persisted")))

	b2 := s.Open(b1.Id())
	got := make([]byte, len("persisted"))
	n, err := b2.ReadAt(ctx, 0, got)
	require.NoError(t, err)
	assert.Equal(t, len("persisted"), n)
	assert.Equal(t, []byte("persisted"), got)
}

func TestRemove_DeletesAllNodes(t *testing.T) {
	ctx := context.Background()
	inner := inmem.New()
	s := blobstore.New(inner, smallBlockSize)

	b, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, b.WriteAt(ctx, 0, bytes.Repeat([]byte("z"), 2000)))

	before, err := inner.NumBlocks(ctx)
	require.NoError(t, err)
	assert.Greater(t, before, uint64(1))

	require.NoError(t, b.Remove(ctx))

	after, err := inner.NumBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), after)
}

func TestFlush_NoFlusherWrapped_IsANoop(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	b, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, b.WriteAt(ctx, 0, []byte("abc")))

	assert.NoError(t, b.Flush(ctx))
}
