package fsnode

import (
	"context"
	"time"

	"github.com/cryfs-go/cryfs/internal/fsblobstore"
)

// FileNode is a regular file. Mode/uid/gid/times live in the parent
// directory's entry; content and size live in the blob.
type FileNode struct {
	nodeCore
	blob *fsblobstore.FileBlob
}

var _ Node = (*FileNode)(nil)

func newFileNode(id nodeCore, blob *fsblobstore.FileBlob) *FileNode {
	return &FileNode{nodeCore: id, blob: blob}
}

func (f *FileNode) Attributes(ctx context.Context) (Attributes, error) {
	attrs, err := f.attributesFromParent(ctx)
	if err != nil {
		return Attributes{}, err
	}
	size, err := f.blob.Size(ctx)
	if err != nil {
		return Attributes{}, err
	}
	attrs.Size = size
	return attrs, nil
}

func (f *FileNode) SetAttributes(ctx context.Context, fn func(Attributes) Attributes) error {
	return f.setAttributesOnParent(ctx, fn)
}

// ReadAt reads the file's content, bumping atime per policy.
func (f *FileNode) ReadAt(ctx context.Context, actx Context, off uint64, buf []byte) (int, error) {
	n, err := f.blob.ReadAt(ctx, off, buf)
	if err != nil {
		return n, err
	}
	f.maybeBumpAtime(ctx, actx, false)
	return n, nil
}

func (f *FileNode) WriteAt(ctx context.Context, off uint64, data []byte) error {
	if err := f.blob.WriteAt(ctx, off, data); err != nil {
		return err
	}
	return f.touchMtime(ctx)
}

// Truncate resizes the file's content to newSize bytes.
func (f *FileNode) Truncate(ctx context.Context, newSize uint64) error {
	if err := f.blob.Resize(ctx, newSize); err != nil {
		return err
	}
	return f.touchMtime(ctx)
}

func (f *FileNode) Flush(ctx context.Context) error { return f.blob.Flush(ctx) }

func (f *FileNode) touchMtime(ctx context.Context) error {
	return f.SetAttributes(ctx, func(a Attributes) Attributes {
		a.Mtime = time.Now()
		a.Ctime = a.Mtime
		return a
	})
}

func (f *FileNode) maybeBumpAtime(ctx context.Context, c Context, isDir bool) {
	attrs, err := f.attributesFromParent(ctx)
	if err != nil || !c.ShouldUpdateAtime(isDir, attrs) {
		return
	}
	_ = f.SetAttributes(ctx, func(a Attributes) Attributes {
		a.Atime = c.now()
		return a
	})
}
