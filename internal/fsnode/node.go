// Package fsnode provides the filesystem object model an adapter layer
// calls into (spec.md §4.H): a single capability set for files,
// directories, and symlinks, each exposing stat, rename, unlink, and
// set-mode/ownership/times, with path lookup descending from the root
// blob id component by component.
package fsnode

import (
	"context"
	"sync"

	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
	"github.com/cryfs-go/cryfs/internal/fsblobstore"
)

// Node is the capability set common to files, directories, and
// symlinks. Mutating methods require the node's own lock; ID and Name
// do not.
type Node interface {
	sync.Locker

	ID() blockid.BlockId
	Name() string

	IncrementLookupCount()
	DecrementLookupCount(n uint64) (destroyed bool, err error)

	Attributes(ctx context.Context) (Attributes, error)
	SetAttributes(ctx context.Context, fn func(Attributes) Attributes) error
}

// rootAttrsBox holds the filesystem root's attributes. The root has no
// parent DirBlob entry to store mode/uid/gid/times in, so a Tree owns
// one box and shares it with its root DirNode; every other node reads
// and writes its attributes through its parent's DirBlob entry instead.
type rootAttrsBox struct {
	mu    sync.Mutex
	attrs Attributes
}

// nodeCore is embedded by every concrete node type.
type nodeCore struct {
	mu sync.Mutex
	lc lookupCount

	id       blockid.BlockId
	name     string
	parent   *DirNode
	rootAttr *rootAttrsBox // non-nil only for the node with no parent
}

func newNodeCore(id blockid.BlockId, name string, parent *DirNode, destroy func() error) nodeCore {
	return nodeCore{id: id, name: name, parent: parent, lc: lookupCount{destroy: destroy}}
}

func (n *nodeCore) Lock()   { n.mu.Lock() }
func (n *nodeCore) Unlock() { n.mu.Unlock() }

func (n *nodeCore) ID() blockid.BlockId { return n.id }
func (n *nodeCore) Name() string        { return n.name }

func (n *nodeCore) IncrementLookupCount() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lc.inc()
}

func (n *nodeCore) DecrementLookupCount(count uint64) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lc.dec(count)
}

const modeDir = 1 << 31

func (n *nodeCore) attributesFromParent(ctx context.Context) (Attributes, error) {
	if n.parent == nil {
		n.rootAttr.mu.Lock()
		defer n.rootAttr.mu.Unlock()
		return n.rootAttr.attrs, nil
	}
	entry, found, err := n.parent.blob.Lookup(ctx, n.name)
	if err != nil {
		return Attributes{}, err
	}
	if !found {
		return Attributes{}, cryfserrors.New(cryfserrors.KindNotFound, "fsnode.attributesFromParent")
	}
	return Attributes{
		Mode: entry.Mode, Uid: entry.Uid, Gid: entry.Gid,
		Atime: entry.Atime, Mtime: entry.Mtime, Ctime: entry.Ctime,
	}, nil
}

func (n *nodeCore) setAttributesOnParent(ctx context.Context, fn func(Attributes) Attributes) error {
	if n.parent == nil {
		n.rootAttr.mu.Lock()
		n.rootAttr.attrs = fn(n.rootAttr.attrs)
		n.rootAttr.mu.Unlock()
		return nil
	}
	return n.parent.blob.UpdateAttrs(ctx, n.name, func(e fsblobstore.DirEntry) fsblobstore.DirEntry {
		attrs := fn(Attributes{
			Mode: e.Mode, Uid: e.Uid, Gid: e.Gid,
			Atime: e.Atime, Mtime: e.Mtime, Ctime: e.Ctime,
		})
		e.Mode, e.Uid, e.Gid = attrs.Mode, attrs.Uid, attrs.Gid
		e.Atime, e.Mtime, e.Ctime = attrs.Atime, attrs.Mtime, attrs.Ctime
		return e
	})
}
