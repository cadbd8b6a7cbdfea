// Package ondisk is the on-disk base block store implementation (spec.md
// §4.A, §6): one regular file per block at
// <basedir>/<first-3-hex>/<rest-hex>, each beginning with a 4-byte
// format-version header. Writes are made atomic with write-to-temp then
// rename, following the same discipline the teacher's object store layer
// uses for config files (cfg/config_util.go) and the retrieved
// content-addressed block store reference
// (other_examples/.../gruf-go-store-storage-block.go).
package ondisk

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/blockstore"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
	"golang.org/x/sys/unix"
)

// FormatVersion is the base-store format version written into every
// block file's first 4 bytes (spec.md §6: "currently = 0").
const FormatVersion uint32 = 0

const headerSize = 4

// Store is a Store backed by regular files beneath baseDir.
type Store struct {
	baseDir string
}

var _ blockstore.Store = (*Store)(nil)

// Open returns a Store rooted at baseDir, creating baseDir if it does
// not yet exist.
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("ondisk: creating basedir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) pathFor(id blockid.BlockId) string {
	dir, file := id.ShardedPath()
	return filepath.Join(s.baseDir, dir, file)
}

func (s *Store) CreateBlockId() blockid.BlockId {
	return blockid.NewRandom()
}

func (s *Store) TryCreate(ctx context.Context, id blockid.BlockId, payload []byte) (blockstore.CreateResult, error) {
	path := s.pathFor(id)
	if _, err := os.Stat(path); err == nil {
		return blockstore.AlreadyExists, nil
	} else if !os.IsNotExist(err) {
		return 0, cryfserrors.Wrap(cryfserrors.KindIO, "ondisk.TryCreate", id.Hex(), err)
	}

	if err := s.writeAtomic(path, payload); err != nil {
		// Another writer may have won the race between Stat and rename;
		// that is not an error for TryCreate's semantics.
		if os.IsExist(err) {
			return blockstore.AlreadyExists, nil
		}
		return 0, err
	}
	return blockstore.Created, nil
}

func (s *Store) Overwrite(ctx context.Context, id blockid.BlockId, payload []byte) error {
	return s.writeAtomic(s.pathFor(id), payload)
}

func (s *Store) writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return cryfserrors.Wrap(cryfserrors.KindIO, "ondisk.writeAtomic", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".block-*.tmp")
	if err != nil {
		return cryfserrors.Wrap(cryfserrors.KindIO, "ondisk.writeAtomic", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[:], FormatVersion)

	if _, err := tmp.Write(header[:]); err != nil {
		tmp.Close()
		return classifyWriteErr(path, err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return classifyWriteErr(path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return cryfserrors.Wrap(cryfserrors.KindIO, "ondisk.writeAtomic", path, err)
	}
	if err := tmp.Close(); err != nil {
		return cryfserrors.Wrap(cryfserrors.KindIO, "ondisk.writeAtomic", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return cryfserrors.Wrap(cryfserrors.KindIO, "ondisk.writeAtomic", path, err)
	}
	return nil
}

func classifyWriteErr(path string, err error) error {
	if pathErr, ok := err.(*fs.PathError); ok && pathErr.Err == unix.ENOSPC {
		return cryfserrors.Wrap(cryfserrors.KindOutOfSpace, "ondisk.writeAtomic", path, err)
	}
	return cryfserrors.Wrap(cryfserrors.KindIO, "ondisk.writeAtomic", path, err)
}

func (s *Store) Load(ctx context.Context, id blockid.BlockId) ([]byte, bool, error) {
	path := s.pathFor(id)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, cryfserrors.Wrap(cryfserrors.KindIO, "ondisk.Load", id.Hex(), err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, false, cryfserrors.Wrap(cryfserrors.KindIO, "ondisk.Load", id.Hex(), err)
	}
	if len(data) < headerSize {
		return nil, false, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "ondisk.Load", id.Hex(), fmt.Errorf("truncated block file"))
	}
	// The format-version header is currently unversioned (always 0); a
	// future format bump would switch on it here.
	return data[headerSize:], true, nil
}

func (s *Store) Remove(ctx context.Context, id blockid.BlockId) (blockstore.RemoveResult, error) {
	err := os.Remove(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return blockstore.Absent, nil
		}
		return 0, cryfserrors.Wrap(cryfserrors.KindIO, "ondisk.Remove", id.Hex(), err)
	}
	return blockstore.Removed, nil
}

func (s *Store) NumBlocks(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.ForEachBlock(ctx, func(blockid.BlockId) error {
		n++
		return nil
	})
	return n, err
}

func (s *Store) EstimateFreeBytes(ctx context.Context) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.baseDir, &stat); err != nil {
		return 0, cryfserrors.Wrap(cryfserrors.KindIO, "ondisk.EstimateFreeBytes", s.baseDir, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

func (s *Store) BlockSizeFromPhysical(physical uint64) uint64 {
	if physical < headerSize {
		return 0
	}
	return physical - headerSize
}

func (s *Store) ForEachBlock(ctx context.Context, f func(blockid.BlockId) error) error {
	return filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		hex := filepath.ToSlash(rel)
		hex = removeSlashes(hex)
		id, err := blockid.ParseHex(hex)
		if err != nil {
			// Not a block file (e.g. a lockfile or config file living
			// alongside the shards); skip it.
			return nil
		}
		return f(id)
	})
}

func removeSlashes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '/' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
