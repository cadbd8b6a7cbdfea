package fsblobstore

import (
	"context"

	"github.com/cryfs-go/cryfs/internal/blobstore"
	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
)

// Store creates and loads kind-typed FsBlobs over a blob store.
type Store struct {
	blobs *blobstore.Store
}

// New returns a Store laying FsBlobs out over blobs.
func New(blobs *blobstore.Store) *Store {
	return &Store{blobs: blobs}
}

func writeKindByte(ctx context.Context, b *blobstore.Blob, k Kind) error {
	return b.WriteAt(ctx, 0, []byte{byte(k)})
}

// CreateFile allocates a new, empty FileBlob.
func (s *Store) CreateFile(ctx context.Context) (*FileBlob, error) {
	b, err := s.blobs.Create(ctx)
	if err != nil {
		return nil, err
	}
	if err := writeKindByte(ctx, b, KindFile); err != nil {
		return nil, err
	}
	return &FileBlob{blob: b}, nil
}

// CreateDir allocates a new, empty DirBlob.
func (s *Store) CreateDir(ctx context.Context) (*DirBlob, error) {
	b, err := s.blobs.Create(ctx)
	if err != nil {
		return nil, err
	}
	if err := writeKindByte(ctx, b, KindDir); err != nil {
		return nil, err
	}
	return &DirBlob{blob: b, loaded: true}, nil
}

// CreateSymlink allocates a new SymlinkBlob pointing at target.
func (s *Store) CreateSymlink(ctx context.Context, target string) (*SymlinkBlob, error) {
	b, err := s.blobs.Create(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.Resize(ctx, uint64(1+len(target))); err != nil {
		return nil, err
	}
	if err := writeKindByte(ctx, b, KindSymlink); err != nil {
		return nil, err
	}
	if err := b.WriteAt(ctx, 1, []byte(target)); err != nil {
		return nil, err
	}
	return &SymlinkBlob{blob: b, target: target, loaded: true}, nil
}

// LoadFile opens id expecting a file, erroring if it holds a different
// kind of blob.
func (s *Store) LoadFile(ctx context.Context, id blockid.BlockId) (*FileBlob, error) {
	b := s.blobs.Open(id)
	kind, err := kindOf(ctx, b)
	if err != nil {
		return nil, err
	}
	if kind != KindFile {
		return nil, cryfserrors.New(cryfserrors.KindCorruptedBlock, "fsblobstore.LoadFile: not a file")
	}
	return &FileBlob{blob: b}, nil
}

// LoadDir opens id expecting a directory.
func (s *Store) LoadDir(ctx context.Context, id blockid.BlockId) (*DirBlob, error) {
	b := s.blobs.Open(id)
	kind, err := kindOf(ctx, b)
	if err != nil {
		return nil, err
	}
	if kind != KindDir {
		return nil, cryfserrors.New(cryfserrors.KindCorruptedBlock, "fsblobstore.LoadDir: not a dir")
	}
	return &DirBlob{blob: b}, nil
}

// LoadSymlink opens id expecting a symlink.
func (s *Store) LoadSymlink(ctx context.Context, id blockid.BlockId) (*SymlinkBlob, error) {
	b := s.blobs.Open(id)
	kind, err := kindOf(ctx, b)
	if err != nil {
		return nil, err
	}
	if kind != KindSymlink {
		return nil, cryfserrors.New(cryfserrors.KindCorruptedBlock, "fsblobstore.LoadSymlink: not a symlink")
	}
	return &SymlinkBlob{blob: b}, nil
}

// KindOf reports the kind of blob stored under id without fully parsing
// it, for path lookup dispatch.
func (s *Store) KindOf(ctx context.Context, id blockid.BlockId) (Kind, error) {
	return kindOf(ctx, s.blobs.Open(id))
}
