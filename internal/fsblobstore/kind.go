// Package fsblobstore layers a kind discriminator and directory-entry
// codec over blobstore (spec.md §4.G): every FsBlob's first byte says
// whether the remaining bytes are a file's contents, a directory's
// entry list, or a symlink's target.
package fsblobstore

import (
	"context"

	"github.com/cryfs-go/cryfs/internal/blobstore"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
)

// Kind is the one-byte discriminator stored at offset 0 of every FsBlob.
type Kind byte

const (
	KindFile    Kind = 0x00
	KindDir     Kind = 0x01
	KindSymlink Kind = 0x02
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

func kindOf(ctx context.Context, b *blobstore.Blob) (Kind, error) {
	var header [1]byte
	n, err := b.ReadAt(ctx, 0, header[:])
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, cryfserrors.New(cryfserrors.KindCorruptedBlock, "fsblobstore.kindOf")
	}
	return Kind(header[0]), nil
}
