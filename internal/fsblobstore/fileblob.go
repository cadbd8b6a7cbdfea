package fsblobstore

import (
	"context"

	"github.com/cryfs-go/cryfs/internal/blobstore"
	"github.com/cryfs-go/cryfs/internal/blockid"
)

// FileBlob is a file's byte content, stored one byte past the kind
// discriminator (spec.md §4.G).
type FileBlob struct {
	blob *blobstore.Blob
}

func (f *FileBlob) Id() blockid.BlockId { return f.blob.Id() }

// Size returns the file's content length, excluding the kind byte.
func (f *FileBlob) Size(ctx context.Context) (uint64, error) {
	raw, err := f.blob.Size(ctx)
	if err != nil {
		return 0, err
	}
	if raw == 0 {
		return 0, nil
	}
	return raw - 1, nil
}

// ReadAt reads the file's content at off, as if the kind byte weren't
// there.
func (f *FileBlob) ReadAt(ctx context.Context, off uint64, buf []byte) (int, error) {
	return f.blob.ReadAt(ctx, off+1, buf)
}

// WriteAt writes the file's content at off.
func (f *FileBlob) WriteAt(ctx context.Context, off uint64, data []byte) error {
	return f.blob.WriteAt(ctx, off+1, data)
}

// Resize truncates or extends the file's content to newSize bytes.
func (f *FileBlob) Resize(ctx context.Context, newSize uint64) error {
	return f.blob.Resize(ctx, newSize+1)
}

func (f *FileBlob) Remove(ctx context.Context) error { return f.blob.Remove(ctx) }
func (f *FileBlob) Flush(ctx context.Context) error  { return f.blob.Flush(ctx) }
