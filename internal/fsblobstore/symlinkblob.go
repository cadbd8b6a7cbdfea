package fsblobstore

import (
	"context"

	"github.com/cryfs-go/cryfs/internal/blobstore"
	"github.com/cryfs-go/cryfs/internal/blockid"
)

// SymlinkBlob holds a symlink's target path, set once at creation and
// immutable afterward (spec.md §4.G).
type SymlinkBlob struct {
	blob   *blobstore.Blob
	target string
	loaded bool
}

func (s *SymlinkBlob) Id() blockid.BlockId { return s.blob.Id() }

// Target returns the symlink's target path.
func (s *SymlinkBlob) Target(ctx context.Context) (string, error) {
	if s.loaded {
		return s.target, nil
	}
	size, err := s.blob.Size(ctx)
	if err != nil {
		return "", err
	}
	buf := make([]byte, size-1)
	if _, err := s.blob.ReadAt(ctx, 1, buf); err != nil {
		return "", err
	}
	s.target = string(buf)
	s.loaded = true
	return s.target, nil
}

func (s *SymlinkBlob) Remove(ctx context.Context) error { return s.blob.Remove(ctx) }
func (s *SymlinkBlob) Flush(ctx context.Context) error  { return s.blob.Flush(ctx) }
