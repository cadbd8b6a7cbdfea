package fsnode

import (
	"context"
	"sync"
	"time"

	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
	"github.com/cryfs-go/cryfs/internal/fsblobstore"
)

type blobRemover interface {
	removeBlob(ctx context.Context) error
}

type openEntry struct {
	node     Node
	remover  blobRemover
	unlinked bool
}

// Tree resolves paths to Nodes over a fsblobstore.Store, keeping exactly
// one in-memory representative per blob id so that concurrent lookups of
// the same node share a lookup count (spec.md §4.H). When a node is
// unlinked while handles remain open, its blob is kept alive until the
// last handle's lookup count reaches zero.
type Tree struct {
	blobs *fsblobstore.Store

	mu   sync.Mutex
	open map[blockid.BlockId]*openEntry

	root     *DirNode
	rootAttr *rootAttrsBox
}

// NewTree returns a Tree rooted at rootId. The root directory's blob
// must already exist (created by the mount-time bootstrap).
func NewTree(blobs *fsblobstore.Store, rootId blockid.BlockId) (*Tree, error) {
	t := &Tree{
		blobs:    blobs,
		open:     make(map[blockid.BlockId]*openEntry),
		rootAttr: &rootAttrsBox{attrs: Attributes{Mode: 0o755 | modeDir}},
	}
	node, err := t.openDir(context.Background(), rootId, "", nil)
	if err != nil {
		return nil, err
	}
	t.root = node
	return t, nil
}

// Root returns the filesystem root, incrementing its lookup count.
func (t *Tree) Root() *DirNode {
	t.root.IncrementLookupCount()
	return t.root
}

func (t *Tree) forget(id blockid.BlockId) *openEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.open[id]
	delete(t.open, id)
	return e
}

func (t *Tree) destroyCallback(id blockid.BlockId) func() error {
	return func() error {
		e := t.forget(id)
		if e != nil && e.unlinked {
			return e.remover.removeBlob(context.Background())
		}
		return nil
	}
}

func (t *Tree) openDir(ctx context.Context, id blockid.BlockId, name string, parent *DirNode) (*DirNode, error) {
	t.mu.Lock()
	if e, ok := t.open[id]; ok {
		t.mu.Unlock()
		e.node.IncrementLookupCount()
		return e.node.(*DirNode), nil
	}
	t.mu.Unlock()

	blob, err := t.blobs.LoadDir(ctx, id)
	if err != nil {
		return nil, err
	}
	core := newNodeCore(id, name, parent, nil)
	if parent == nil {
		core.rootAttr = t.rootAttr
	}
	node := newDirNode(core, blob)
	node.lc.destroy = t.destroyCallback(id)
	node.IncrementLookupCount()

	t.mu.Lock()
	if e, ok := t.open[id]; ok {
		t.mu.Unlock()
		e.node.IncrementLookupCount()
		return e.node.(*DirNode), nil
	}
	t.open[id] = &openEntry{node: node, remover: node}
	t.mu.Unlock()
	return node, nil
}

func (t *Tree) openFile(ctx context.Context, id blockid.BlockId, name string, parent *DirNode) (*FileNode, error) {
	t.mu.Lock()
	if e, ok := t.open[id]; ok {
		t.mu.Unlock()
		e.node.IncrementLookupCount()
		return e.node.(*FileNode), nil
	}
	t.mu.Unlock()

	blob, err := t.blobs.LoadFile(ctx, id)
	if err != nil {
		return nil, err
	}
	core := newNodeCore(id, name, parent, nil)
	node := newFileNode(core, blob)
	node.lc.destroy = t.destroyCallback(id)
	node.IncrementLookupCount()

	t.mu.Lock()
	if e, ok := t.open[id]; ok {
		t.mu.Unlock()
		e.node.IncrementLookupCount()
		return e.node.(*FileNode), nil
	}
	t.open[id] = &openEntry{node: node, remover: node}
	t.mu.Unlock()
	return node, nil
}

func (t *Tree) openSymlink(ctx context.Context, id blockid.BlockId, name string, parent *DirNode) (*SymlinkNode, error) {
	t.mu.Lock()
	if e, ok := t.open[id]; ok {
		t.mu.Unlock()
		e.node.IncrementLookupCount()
		return e.node.(*SymlinkNode), nil
	}
	t.mu.Unlock()

	blob, err := t.blobs.LoadSymlink(ctx, id)
	if err != nil {
		return nil, err
	}
	core := newNodeCore(id, name, parent, nil)
	node := newSymlinkNode(core, blob)
	node.lc.destroy = t.destroyCallback(id)
	node.IncrementLookupCount()

	t.mu.Lock()
	if e, ok := t.open[id]; ok {
		t.mu.Unlock()
		e.node.IncrementLookupCount()
		return e.node.(*SymlinkNode), nil
	}
	t.open[id] = &openEntry{node: node, remover: node}
	t.mu.Unlock()
	return node, nil
}

// Lookup resolves a single path component under dir.
func (t *Tree) Lookup(ctx context.Context, dir *DirNode, name string) (Node, error) {
	id, kind, found, err := dir.LookupChildId(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, cryfserrors.New(cryfserrors.KindNotFound, "fsnode.Tree.Lookup")
	}
	switch kind {
	case fsblobstore.EntryDir:
		return t.openDir(ctx, id, name, dir)
	case fsblobstore.EntrySymlink:
		return t.openSymlink(ctx, id, name, dir)
	default:
		return t.openFile(ctx, id, name, dir)
	}
}

// LookupPath descends from the root, one component per slash-separated
// element of path.
func (t *Tree) LookupPath(ctx context.Context, path []string) (Node, error) {
	var current Node = t.Root()
	for _, component := range path {
		dir, ok := current.(*DirNode)
		if !ok {
			return nil, cryfserrors.New(cryfserrors.KindNotFound, "fsnode.Tree.LookupPath: not a directory")
		}
		next, err := t.Lookup(ctx, dir, component)
		dir.DecrementLookupCount(1)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

func now() Attributes {
	ts := time.Now()
	return Attributes{Atime: ts, Mtime: ts, Ctime: ts}
}

// CreateFile creates a new, empty file named name inside dir.
func (t *Tree) CreateFile(ctx context.Context, dir *DirNode, name string, mode, uid, gid uint32) (*FileNode, error) {
	blob, err := t.blobs.CreateFile(ctx)
	if err != nil {
		return nil, err
	}
	if err := dir.addEntry(ctx, fsblobstore.EntryFile, name, blob.Id(), mode, uid, gid, now()); err != nil {
		return nil, err
	}
	return t.openFile(ctx, blob.Id(), name, dir)
}

// CreateDir creates a new, empty subdirectory named name inside dir.
func (t *Tree) CreateDir(ctx context.Context, dir *DirNode, name string, mode, uid, gid uint32) (*DirNode, error) {
	blob, err := t.blobs.CreateDir(ctx)
	if err != nil {
		return nil, err
	}
	if err := dir.addEntry(ctx, fsblobstore.EntryDir, name, blob.Id(), mode, uid, gid, now()); err != nil {
		return nil, err
	}
	return t.openDir(ctx, blob.Id(), name, dir)
}

// CreateSymlink creates a new symlink named name inside dir, pointing at
// target.
func (t *Tree) CreateSymlink(ctx context.Context, dir *DirNode, name, target string, uid, gid uint32) (*SymlinkNode, error) {
	blob, err := t.blobs.CreateSymlink(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := dir.addEntry(ctx, fsblobstore.EntrySymlink, name, blob.Id(), 0o777, uid, gid, now()); err != nil {
		return nil, err
	}
	return t.openSymlink(ctx, blob.Id(), name, dir)
}

// Unlink removes name from dir. If a handle for that child is still
// open, the blob is kept alive until its lookup count reaches zero.
func (t *Tree) Unlink(ctx context.Context, dir *DirNode, name string) error {
	id, _, found, err := dir.LookupChildId(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return cryfserrors.New(cryfserrors.KindNotFound, "fsnode.Tree.Unlink")
	}
	if err := dir.removeEntry(ctx, name); err != nil {
		return err
	}

	t.mu.Lock()
	e, stillOpen := t.open[id]
	if stillOpen {
		e.unlinked = true
	}
	t.mu.Unlock()

	if !stillOpen {
		return t.removeOrphanBlob(ctx, id)
	}
	return nil
}

func (t *Tree) removeOrphanBlob(ctx context.Context, id blockid.BlockId) error {
	kind, err := t.blobs.KindOf(ctx, id)
	if err != nil {
		return err
	}
	switch kind {
	case fsblobstore.KindDir:
		b, err := t.blobs.LoadDir(ctx, id)
		if err != nil {
			return err
		}
		return b.RemoveBlob(ctx)
	case fsblobstore.KindSymlink:
		b, err := t.blobs.LoadSymlink(ctx, id)
		if err != nil {
			return err
		}
		return b.Remove(ctx)
	default:
		b, err := t.blobs.LoadFile(ctx, id)
		if err != nil {
			return err
		}
		return b.Remove(ctx)
	}
}

// Rename moves name from srcDir to destDir under destName, serialized by
// the two directories' own locks (taken in a fixed order to avoid
// deadlock when srcDir != destDir).
func (t *Tree) Rename(ctx context.Context, srcDir, destDir *DirNode, name, destName string) error {
	first, second := srcDir, destDir
	if srcDir != destDir && lessNode(destDir, srcDir) {
		first, second = destDir, srcDir
	}
	first.Lock()
	if second != first {
		second.Lock()
		defer second.Unlock()
	}
	defer first.Unlock()

	if srcDir == destDir {
		return srcDir.renameEntry(ctx, name, destName)
	}

	e, found, err := srcDir.blob.Lookup(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return cryfserrors.New(cryfserrors.KindNotFound, "fsnode.Tree.Rename")
	}
	if err := destDir.blob.Add(ctx, fsblobstore.DirEntry{
		Kind: e.Kind, Name: destName, BlockId: e.BlockId,
		Mode: e.Mode, Uid: e.Uid, Gid: e.Gid,
		Atime: e.Atime, Mtime: e.Mtime, Ctime: e.Ctime,
	}); err != nil {
		return err
	}
	return srcDir.removeEntry(ctx, name)
}

func lessNode(a, b *DirNode) bool {
	return a.ID().Hex() < b.ID().Hex()
}
