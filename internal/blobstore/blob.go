package blobstore

import (
	"context"
	"fmt"

	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/blockstore"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
)

// Flusher is implemented by block stores that buffer writes (spec.md
// §4.D's caching layer). Blob.Flush uses it to push every node this blob
// touched since the last flush down to the base store; stores that don't
// buffer (e.g. a bare on-disk store in tests) simply have nothing to do.
type Flusher interface {
	Flush(ctx context.Context, id blockid.BlockId) error
}

// Store builds Blobs over a blockstore.Store.
type Store struct {
	blocks blockstore.Store
	geom   Geometry
}

// New returns a Store laying blobs out over blocks using the given
// plaintext block size.
func New(blocks blockstore.Store, blockSize uint32) *Store {
	return &Store{blocks: blocks, geom: Geometry{BlockSize: blockSize}}
}

// Create allocates a single empty leaf and returns the blob rooted at it.
func (s *Store) Create(ctx context.Context) (*Blob, error) {
	id := s.blocks.CreateBlockId()
	if _, err := s.blocks.TryCreate(ctx, id, encodeLeaf(leafNode{})); err != nil {
		return nil, err
	}
	return &Blob{store: s.blocks, geom: s.geom, rootId: id, touched: make(map[blockid.BlockId]bool)}, nil
}

// Open returns a handle for the blob rooted at id. The root node is not
// read until the first operation that needs it.
func (s *Store) Open(id blockid.BlockId) *Blob {
	return &Blob{store: s.blocks, geom: s.geom, rootId: id, touched: make(map[blockid.BlockId]bool)}
}

// Blob is a variable-length byte array backed by a left-perfect k-ary
// tree of blocks (spec.md §4.F).
type Blob struct {
	store   blockstore.Store
	geom    Geometry
	rootId  blockid.BlockId
	touched map[blockid.BlockId]bool

	haveSize  bool
	cachedSize uint64
}

// Id returns the blob's root BlockId.
func (b *Blob) Id() blockid.BlockId { return b.rootId }

func (b *Blob) loadRaw(ctx context.Context, id blockid.BlockId) ([]byte, error) {
	raw, found, err := b.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, cryfserrors.Wrap(cryfserrors.KindNotFound, "blobstore.loadRaw", id.Hex(), fmt.Errorf("missing blob node"))
	}
	return raw, nil
}

// rootDepth loads just enough of the root node to learn its depth.
func (b *Blob) rootDepth(ctx context.Context) (int, error) {
	raw, err := b.loadRaw(ctx, b.rootId)
	if err != nil {
		return 0, err
	}
	kind, err := nodeKindOf(raw)
	if err != nil {
		return 0, err
	}
	if kind == nodeKindLeaf {
		return 0, nil
	}
	inner, err := decodeInner(raw)
	if err != nil {
		return 0, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "blobstore.rootDepth", b.rootId.Hex(), err)
	}
	return inner.depth, nil
}

// Size returns the blob's current logical length in bytes (spec.md
// §4.F: "compute by walking the right spine").
func (b *Blob) Size(ctx context.Context) (uint64, error) {
	if b.haveSize {
		return b.cachedSize, nil
	}
	depth, err := b.rootDepth(ctx)
	if err != nil {
		return 0, err
	}
	size, err := b.sizeOfNode(ctx, b.rootId, depth)
	if err != nil {
		return 0, err
	}
	b.cachedSize = size
	b.haveSize = true
	return size, nil
}

func (b *Blob) sizeOfNode(ctx context.Context, id blockid.BlockId, depth int) (uint64, error) {
	raw, err := b.loadRaw(ctx, id)
	if err != nil {
		return 0, err
	}
	if depth == 0 {
		leaf, err := decodeLeaf(raw)
		if err != nil {
			return 0, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "blobstore.sizeOfNode", id.Hex(), err)
		}
		return uint64(len(leaf.data)), nil
	}
	inner, err := decodeInner(raw)
	if err != nil {
		return 0, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "blobstore.sizeOfNode", id.Hex(), err)
	}
	if len(inner.children) == 0 {
		return 0, nil
	}
	capPerChild := b.geom.CapacityAtDepth(depth - 1)
	lastSize, err := b.sizeOfNode(ctx, inner.children[len(inner.children)-1], depth-1)
	if err != nil {
		return 0, err
	}
	return uint64(len(inner.children)-1)*capPerChild + lastSize, nil
}

func (b *Blob) invalidateSize() { b.haveSize = false }

// ReadAt reads up to len(buf) bytes starting at off, returning a short
// read when off+len(buf) passes the blob's end (spec.md §4.F).
func (b *Blob) ReadAt(ctx context.Context, off uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	depth, err := b.rootDepth(ctx)
	if err != nil {
		return 0, err
	}
	return b.readNode(ctx, b.rootId, depth, off, buf)
}

func (b *Blob) readNode(ctx context.Context, id blockid.BlockId, depth int, localOff uint64, buf []byte) (int, error) {
	raw, err := b.loadRaw(ctx, id)
	if err != nil {
		return 0, err
	}
	if depth == 0 {
		leaf, err := decodeLeaf(raw)
		if err != nil {
			return 0, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "blobstore.readNode", id.Hex(), err)
		}
		if localOff >= uint64(len(leaf.data)) {
			return 0, nil
		}
		n := copy(buf, leaf.data[localOff:])
		return n, nil
	}

	inner, err := decodeInner(raw)
	if err != nil {
		return 0, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "blobstore.readNode", id.Hex(), err)
	}
	capPerChild := b.geom.CapacityAtDepth(depth - 1)
	childIdx := int(localOff / capPerChild)
	childOff := localOff % capPerChild

	total := 0
	for total < len(buf) && childIdx < len(inner.children) {
		want := len(buf) - total
		if room := int(capPerChild - childOff); room < want {
			want = room
		}
		n, err := b.readNode(ctx, inner.children[childIdx], depth-1, childOff, buf[total:total+want])
		if err != nil {
			return total, err
		}
		total += n
		if n < want {
			break // hit the blob's logical end
		}
		childIdx++
		childOff = 0
	}
	return total, nil
}

// WriteAt writes data at off, growing the blob (zero-filling any gap) if
// off+len(data) exceeds the current size.
func (b *Blob) WriteAt(ctx context.Context, off uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	size, err := b.Size(ctx)
	if err != nil {
		return err
	}
	newSize := off + uint64(len(data))
	if newSize > size {
		if err := b.Resize(ctx, newSize); err != nil {
			return err
		}
	}

	depth, err := b.rootDepth(ctx)
	if err != nil {
		return err
	}
	if err := b.writeNode(ctx, b.rootId, depth, off, data); err != nil {
		return err
	}
	return nil
}

func (b *Blob) writeNode(ctx context.Context, id blockid.BlockId, depth int, localOff uint64, data []byte) error {
	if depth == 0 {
		raw, err := b.loadRaw(ctx, id)
		if err != nil {
			return err
		}
		leaf, err := decodeLeaf(raw)
		if err != nil {
			return cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "blobstore.writeNode", id.Hex(), err)
		}
		need := int(localOff) + len(data)
		buf := leaf.data
		if need > len(buf) {
			grown := make([]byte, need)
			copy(grown, buf)
			buf = grown
		}
		copy(buf[localOff:], data)
		if err := b.store.Overwrite(ctx, id, encodeLeaf(leafNode{data: buf})); err != nil {
			return err
		}
		b.touched[id] = true
		return nil
	}

	raw, err := b.loadRaw(ctx, id)
	if err != nil {
		return err
	}
	inner, err := decodeInner(raw)
	if err != nil {
		return cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "blobstore.writeNode", id.Hex(), err)
	}
	capPerChild := b.geom.CapacityAtDepth(depth - 1)
	childIdx := int(localOff / capPerChild)
	childOff := localOff % capPerChild

	remaining := data
	for len(remaining) > 0 {
		if childIdx >= len(inner.children) {
			return cryfserrors.New(cryfserrors.KindCorruptedBlock, "blobstore.writeNode")
		}
		n := len(remaining)
		if room := int(capPerChild - childOff); room < n {
			n = room
		}
		if err := b.writeNode(ctx, inner.children[childIdx], depth-1, childOff, remaining[:n]); err != nil {
			return err
		}
		remaining = remaining[n:]
		childIdx++
		childOff = 0
	}
	return nil
}

// Resize grows or shrinks the blob to exactly newSize bytes, zero-filling
// any newly grown region.
func (b *Blob) Resize(ctx context.Context, newSize uint64) error {
	size, err := b.Size(ctx)
	if err != nil {
		return err
	}
	if newSize == size {
		return nil
	}
	if newSize > size {
		if err := b.growTo(ctx, newSize); err != nil {
			return err
		}
	} else {
		if err := b.shrinkTo(ctx, newSize); err != nil {
			return err
		}
	}
	b.cachedSize = newSize
	b.haveSize = true
	return nil
}

func (b *Blob) growTo(ctx context.Context, newSize uint64) error {
	depth, err := b.rootDepth(ctx)
	if err != nil {
		return err
	}

	for b.geom.CapacityAtDepth(depth) < newSize {
		newRoot := b.store.CreateBlockId()
		wrapped := innerNode{depth: depth + 1, children: []blockid.BlockId{b.rootId}}
		if _, err := b.store.TryCreate(ctx, newRoot, encodeInner(wrapped)); err != nil {
			return err
		}
		b.touched[newRoot] = true
		b.rootId = newRoot
		depth++
	}

	return b.growNode(ctx, b.rootId, depth, newSize)
}

// growNode grows the subtree rooted at id (currently at depth, holding
// some size <= newLocalSize <= capacity-at-depth) to exactly newLocalSize
// bytes in place — id itself never changes, only its content and, for
// inner nodes, its children.
func (b *Blob) growNode(ctx context.Context, id blockid.BlockId, depth int, newLocalSize uint64) error {
	if depth == 0 {
		raw, err := b.loadRaw(ctx, id)
		if err != nil {
			return err
		}
		leaf, err := decodeLeaf(raw)
		if err != nil {
			return cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "blobstore.growNode", id.Hex(), err)
		}
		grown := make([]byte, newLocalSize)
		copy(grown, leaf.data)
		if err := b.store.Overwrite(ctx, id, encodeLeaf(leafNode{data: grown})); err != nil {
			return err
		}
		b.touched[id] = true
		return nil
	}

	raw, err := b.loadRaw(ctx, id)
	if err != nil {
		return err
	}
	inner, err := decodeInner(raw)
	if err != nil {
		return cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "blobstore.growNode", id.Hex(), err)
	}
	capPerChild := b.geom.CapacityAtDepth(depth - 1)
	oldCount := len(inner.children)
	targetCount := int(ceilDiv(newLocalSize, capPerChild))
	if targetCount == 0 {
		targetCount = 1
	}

	children := make([]blockid.BlockId, targetCount)
	copy(children, inner.children)

	for i := oldCount; i < targetCount; i++ {
		var size uint64
		if i == targetCount-1 {
			size = newLocalSize - uint64(i)*capPerChild
		} else {
			size = capPerChild
		}
		childId, err := b.createZeroSubtree(ctx, depth-1, size)
		if err != nil {
			return err
		}
		children[i] = childId
	}

	if oldCount > 0 {
		idx := oldCount - 1
		var want uint64
		if idx == targetCount-1 {
			want = newLocalSize - uint64(idx)*capPerChild
		} else {
			want = capPerChild
		}
		if err := b.growNode(ctx, children[idx], depth-1, want); err != nil {
			return err
		}
	}

	if err := b.store.Overwrite(ctx, id, encodeInner(innerNode{depth: depth, children: children})); err != nil {
		return err
	}
	b.touched[id] = true
	return nil
}

// createZeroSubtree allocates a brand-new subtree of the given depth,
// zero-filled to exactly size bytes, and returns its root id.
func (b *Blob) createZeroSubtree(ctx context.Context, depth int, size uint64) (blockid.BlockId, error) {
	if depth == 0 {
		id := b.store.CreateBlockId()
		if _, err := b.store.TryCreate(ctx, id, encodeLeaf(leafNode{data: make([]byte, size)})); err != nil {
			return blockid.BlockId{}, err
		}
		b.touched[id] = true
		return id, nil
	}

	capPerChild := b.geom.CapacityAtDepth(depth - 1)
	count := int(ceilDiv(size, capPerChild))
	if count == 0 {
		count = 1
	}
	children := make([]blockid.BlockId, count)
	for i := 0; i < count; i++ {
		var childSize uint64
		if i == count-1 {
			childSize = size - uint64(i)*capPerChild
		} else {
			childSize = capPerChild
		}
		childId, err := b.createZeroSubtree(ctx, depth-1, childSize)
		if err != nil {
			return blockid.BlockId{}, err
		}
		children[i] = childId
	}

	id := b.store.CreateBlockId()
	if _, err := b.store.TryCreate(ctx, id, encodeInner(innerNode{depth: depth, children: children})); err != nil {
		return blockid.BlockId{}, err
	}
	b.touched[id] = true
	return id, nil
}

func (b *Blob) shrinkTo(ctx context.Context, newSize uint64) error {
	depth, err := b.rootDepth(ctx)
	if err != nil {
		return err
	}
	if err := b.shrinkNode(ctx, b.rootId, depth, newSize); err != nil {
		return err
	}

	// Collapse the root while it has exactly one child and the level
	// below already has enough capacity for newSize.
	for depth > 0 {
		raw, err := b.loadRaw(ctx, b.rootId)
		if err != nil {
			return err
		}
		inner, err := decodeInner(raw)
		if err != nil {
			return cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "blobstore.shrinkTo", b.rootId.Hex(), err)
		}
		if len(inner.children) != 1 || b.geom.CapacityAtDepth(depth-1) < newSize {
			break
		}
		old := b.rootId
		b.rootId = inner.children[0]
		depth--
		if _, err := b.store.Remove(ctx, old); err != nil {
			return err
		}
	}
	return nil
}

func (b *Blob) shrinkNode(ctx context.Context, id blockid.BlockId, depth int, newLocalSize uint64) error {
	if depth == 0 {
		raw, err := b.loadRaw(ctx, id)
		if err != nil {
			return err
		}
		leaf, err := decodeLeaf(raw)
		if err != nil {
			return cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "blobstore.shrinkNode", id.Hex(), err)
		}
		data := leaf.data
		if uint64(len(data)) > newLocalSize {
			data = data[:newLocalSize]
		}
		if err := b.store.Overwrite(ctx, id, encodeLeaf(leafNode{data: data})); err != nil {
			return err
		}
		b.touched[id] = true
		return nil
	}

	raw, err := b.loadRaw(ctx, id)
	if err != nil {
		return err
	}
	inner, err := decodeInner(raw)
	if err != nil {
		return cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "blobstore.shrinkNode", id.Hex(), err)
	}
	capPerChild := b.geom.CapacityAtDepth(depth - 1)
	targetCount := int(ceilDiv(newLocalSize, capPerChild))
	if targetCount == 0 {
		targetCount = 1
	}
	if targetCount > len(inner.children) {
		targetCount = len(inner.children)
	}

	for i := targetCount; i < len(inner.children); i++ {
		if err := b.removeSubtree(ctx, inner.children[i], depth-1); err != nil {
			return err
		}
	}
	children := inner.children[:targetCount]

	idx := targetCount - 1
	want := newLocalSize - uint64(idx)*capPerChild
	if err := b.shrinkNode(ctx, children[idx], depth-1, want); err != nil {
		return err
	}

	if err := b.store.Overwrite(ctx, id, encodeInner(innerNode{depth: depth, children: children})); err != nil {
		return err
	}
	b.touched[id] = true
	return nil
}

func (b *Blob) removeSubtree(ctx context.Context, id blockid.BlockId, depth int) error {
	if depth > 0 {
		raw, err := b.loadRaw(ctx, id)
		if err != nil {
			return err
		}
		inner, err := decodeInner(raw)
		if err != nil {
			return cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "blobstore.removeSubtree", id.Hex(), err)
		}
		for _, child := range inner.children {
			if err := b.removeSubtree(ctx, child, depth-1); err != nil {
				return err
			}
		}
	}
	_, err := b.store.Remove(ctx, id)
	delete(b.touched, id)
	return err
}

// Remove deletes every node of the blob, root last.
func (b *Blob) Remove(ctx context.Context) error {
	depth, err := b.rootDepth(ctx)
	if err != nil {
		return err
	}
	if depth > 0 {
		raw, err := b.loadRaw(ctx, b.rootId)
		if err != nil {
			return err
		}
		inner, err := decodeInner(raw)
		if err != nil {
			return cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "blobstore.Remove", b.rootId.Hex(), err)
		}
		for _, child := range inner.children {
			if err := b.removeSubtree(ctx, child, depth-1); err != nil {
				return err
			}
		}
	}
	_, err = b.store.Remove(ctx, b.rootId)
	delete(b.touched, b.rootId)
	return err
}

// Flush pushes every node this blob wrote since the last flush down to
// the base store, when the wrapped store buffers writes.
func (b *Blob) Flush(ctx context.Context) error {
	flusher, ok := b.store.(Flusher)
	if !ok {
		b.touched = make(map[blockid.BlockId]bool)
		return nil
	}
	for id := range b.touched {
		if err := flusher.Flush(ctx, id); err != nil {
			return err
		}
	}
	b.touched = make(map[blockid.BlockId]bool)
	return nil
}
