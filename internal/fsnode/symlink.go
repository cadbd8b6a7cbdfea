package fsnode

import (
	"context"

	"github.com/cryfs-go/cryfs/internal/fsblobstore"
)

// SymlinkNode is a symbolic link; its target is immutable once created.
type SymlinkNode struct {
	nodeCore
	blob *fsblobstore.SymlinkBlob
}

var _ Node = (*SymlinkNode)(nil)

func newSymlinkNode(id nodeCore, blob *fsblobstore.SymlinkBlob) *SymlinkNode {
	return &SymlinkNode{nodeCore: id, blob: blob}
}

func (s *SymlinkNode) Attributes(ctx context.Context) (Attributes, error) {
	attrs, err := s.attributesFromParent(ctx)
	if err != nil {
		return Attributes{}, err
	}
	target, err := s.blob.Target(ctx)
	if err != nil {
		return Attributes{}, err
	}
	attrs.Size = uint64(len(target))
	return attrs, nil
}

func (s *SymlinkNode) SetAttributes(ctx context.Context, fn func(Attributes) Attributes) error {
	return s.setAttributesOnParent(ctx, fn)
}

// Target returns the symlink's target path.
func (s *SymlinkNode) Target(ctx context.Context) (string, error) {
	return s.blob.Target(ctx)
}
