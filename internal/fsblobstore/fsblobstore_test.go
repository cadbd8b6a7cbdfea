package fsblobstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/cryfs-go/cryfs/internal/blobstore"
	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/blockstore/inmem"
	"github.com/cryfs-go/cryfs/internal/fsblobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore() *fsblobstore.Store {
	return fsblobstore.New(blobstore.New(inmem.New(), 512))
}

func TestFileBlob_WriteReadSizeExcludeKindByte(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	f, err := s.CreateFile(ctx)
	require.NoError(t, err)

	require.NoError(t, f.WriteAt(ctx, 0, []byte("hello")))
	size, err := f.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), size)

	got := make([]byte, 5)
	n, err := f.ReadAt(ctx, 0, got)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(got))

	loaded, err := s.LoadFile(ctx, f.Id())
	require.NoError(t, err)
	size2, err := loaded.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, size, size2)
}

func TestLoadFile_WrongKind_Errors(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	d, err := s.CreateDir(ctx)
	require.NoError(t, err)

	_, err = s.LoadFile(ctx, d.Id())
	assert.Error(t, err)
}

func TestSymlinkBlob_TargetRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	sl, err := s.CreateSymlink(ctx, "/some/target")
	require.NoError(t, err)

	loaded, err := s.LoadSymlink(ctx, sl.Id())
	require.NoError(t, err)
	target, err := loaded.Target(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/some/target", target)
}

func TestDirBlob_AddLookupRemoveRename_SortedByName(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	d, err := s.CreateDir(ctx)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mk := func(name string) fsblobstore.DirEntry {
		return fsblobstore.DirEntry{
			Kind: fsblobstore.EntryFile, Name: name, BlockId: blockid.NewRandom(),
			Mode: 0o644, Uid: 1000, Gid: 1000,
			Atime: now, Mtime: now, Ctime: now,
		}
	}

	require.NoError(t, d.Add(ctx, mk("banana")))
	require.NoError(t, d.Add(ctx, mk("apple")))
	require.NoError(t, d.Add(ctx, mk("cherry")))

	entries, err := d.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"apple", "banana", "cherry"}, []string{entries[0].Name, entries[1].Name, entries[2].Name})

	_, found, err := d.Lookup(ctx, "banana")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, d.Rename(ctx, "banana", "blueberry"))
	_, found, err = d.Lookup(ctx, "banana")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = d.Lookup(ctx, "blueberry")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, d.Remove(ctx, "apple"))
	entries, err = d.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDirBlob_AddDuplicateName_Errors(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	d, err := s.CreateDir(ctx)
	require.NoError(t, err)

	e := fsblobstore.DirEntry{Kind: fsblobstore.EntryFile, Name: "dup", BlockId: blockid.NewRandom()}
	require.NoError(t, d.Add(ctx, e))
	assert.Error(t, d.Add(ctx, e))
}

func TestDirBlob_PersistsAcrossReload(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.New(inmem.New(), 512)
	s := fsblobstore.New(blobs)

	d, err := s.CreateDir(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Add(ctx, fsblobstore.DirEntry{Kind: fsblobstore.EntryFile, Name: "a", BlockId: blockid.NewRandom()}))

	reloaded, err := s.LoadDir(ctx, d.Id())
	require.NoError(t, err)
	entries, err := reloaded.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Name)
}
