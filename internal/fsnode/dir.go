package fsnode

import (
	"context"

	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/fsblobstore"
)

// DirNode is a directory. Its child list lives in its DirBlob; its own
// mode/uid/gid/times live in its parent's entry (or rootAttr, for root).
type DirNode struct {
	nodeCore
	blob *fsblobstore.DirBlob
}

var _ Node = (*DirNode)(nil)

func newDirNode(id nodeCore, blob *fsblobstore.DirBlob) *DirNode {
	return &DirNode{nodeCore: id, blob: blob}
}

func (d *DirNode) Attributes(ctx context.Context) (Attributes, error) {
	attrs, err := d.attributesFromParent(ctx)
	if err != nil {
		return Attributes{}, err
	}
	attrs.Mode |= modeDir
	entries, err := d.blob.Entries(ctx)
	if err != nil {
		return Attributes{}, err
	}
	attrs.Size = uint64(len(entries))
	return attrs, nil
}

func (d *DirNode) SetAttributes(ctx context.Context, fn func(Attributes) Attributes) error {
	return d.setAttributesOnParent(ctx, fn)
}

// Readdir returns the directory's entries, sorted by name.
func (d *DirNode) Readdir(ctx context.Context) ([]fsblobstore.DirEntry, error) {
	return d.blob.Entries(ctx)
}

// LookupChildId resolves name to a child's blob id and kind without
// constructing a Node, for callers that only need to know existence.
func (d *DirNode) LookupChildId(ctx context.Context, name string) (blockid.BlockId, fsblobstore.EntryKind, bool, error) {
	e, found, err := d.blob.Lookup(ctx, name)
	if err != nil || !found {
		return blockid.BlockId{}, 0, false, err
	}
	return e.BlockId, e.Kind, true, nil
}

func (d *DirNode) addEntry(ctx context.Context, kind fsblobstore.EntryKind, name string, id blockid.BlockId, mode, uid, gid uint32, now Attributes) error {
	return d.blob.Add(ctx, fsblobstore.DirEntry{
		Kind: kind, Name: name, BlockId: id,
		Mode: mode, Uid: uid, Gid: gid,
		Atime: now.Atime, Mtime: now.Mtime, Ctime: now.Ctime,
	})
}

func (d *DirNode) removeEntry(ctx context.Context, name string) error {
	return d.blob.Remove(ctx, name)
}

func (d *DirNode) renameEntry(ctx context.Context, oldName, newName string) error {
	return d.blob.Rename(ctx, oldName, newName)
}

func (f *FileNode) removeBlob(ctx context.Context) error    { return f.blob.Remove(ctx) }
func (d *DirNode) removeBlob(ctx context.Context) error     { return d.blob.RemoveBlob(ctx) }
func (s *SymlinkNode) removeBlob(ctx context.Context) error { return s.blob.Remove(ctx) }
