// Package encryption implements the per-block encryption layer (spec.md
// §4.C): it wraps a blockstore.Store and encrypts every payload that
// crosses it with a fixed key and cipher chosen at filesystem-creation
// time, following the nonce-prefixed, tag-suffixed block layout the
// retrieved gocryptfs contentenc package uses for file content blocks.
package encryption

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/blockstore"
	"github.com/cryfs-go/cryfs/internal/cipher"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
)

// FormatVersion is the encryption-layer header format (spec.md §6:
// "currently = 0").
const FormatVersion uint8 = 0

const headerSize = 1 // format-version byte prefixed ahead of the cipher's own framing

// Store wraps a lower blockstore.Store, encrypting every payload under a
// single cipher and key fixed for the lifetime of the filesystem.
type Store struct {
	inner  blockstore.Store
	cipher cipher.Entry
	key    []byte
}

var _ blockstore.Store = (*Store)(nil)

// New wraps inner with the named cipher and key. key must be exactly
// cipher.KeySize bytes.
func New(inner blockstore.Store, cipherName string, key []byte) (*Store, error) {
	entry, err := cipher.Lookup(cipherName)
	if err != nil {
		return nil, cryfserrors.Wrap(cryfserrors.KindWrongCipher, "encryption.New", cipherName, err)
	}
	if len(key) != cipher.KeySize {
		return nil, fmt.Errorf("encryption: key must be %d bytes, got %d", cipher.KeySize, len(key))
	}
	return &Store{inner: inner, cipher: entry, key: append([]byte(nil), key...)}, nil
}

func (s *Store) CreateBlockId() blockid.BlockId { return s.inner.CreateBlockId() }

func (s *Store) TryCreate(ctx context.Context, id blockid.BlockId, payload []byte) (blockstore.CreateResult, error) {
	enc, err := s.encrypt(id, payload)
	if err != nil {
		return 0, err
	}
	return s.inner.TryCreate(ctx, id, enc)
}

func (s *Store) Overwrite(ctx context.Context, id blockid.BlockId, payload []byte) error {
	enc, err := s.encrypt(id, payload)
	if err != nil {
		return err
	}
	return s.inner.Overwrite(ctx, id, enc)
}

// encrypt produces [format-version(1)][nonce][ciphertext(+tag)] for AEAD
// ciphers, or [format-version(1)][iv][ciphertext] for legacy stream
// ciphers. BlockId is used as associated data for AEAD ciphers so a
// block moved to a different id fails to decrypt even before the
// integrity layer's own id check runs.
func (s *Store) encrypt(id blockid.BlockId, payload []byte) ([]byte, error) {
	if s.cipher.NewAEAD != nil {
		aead, err := s.cipher.NewAEAD(s.key)
		if err != nil {
			return nil, cryfserrors.Wrap(cryfserrors.KindIO, "encryption.encrypt", id.Hex(), err)
		}
		nonce := make([]byte, aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, cryfserrors.Wrap(cryfserrors.KindIO, "encryption.encrypt", id.Hex(), err)
		}
		out := make([]byte, 0, headerSize+len(nonce)+len(payload)+aead.Overhead())
		out = append(out, FormatVersion)
		out = append(out, nonce...)
		out = aead.Seal(out, nonce, payload, id[:])
		return out, nil
	}

	legacy := s.cipher.Legacy
	iv := make([]byte, legacy.IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, cryfserrors.Wrap(cryfserrors.KindIO, "encryption.encrypt", id.Hex(), err)
	}
	stream, err := legacy.NewEncryptStream(s.key, iv)
	if err != nil {
		return nil, cryfserrors.Wrap(cryfserrors.KindIO, "encryption.encrypt", id.Hex(), err)
	}
	out := make([]byte, headerSize+len(iv)+len(payload))
	out[0] = FormatVersion
	copy(out[headerSize:], iv)
	stream.XORKeyStream(out[headerSize+len(iv):], payload)
	return out, nil
}

func (s *Store) Load(ctx context.Context, id blockid.BlockId) ([]byte, bool, error) {
	raw, found, err := s.inner.Load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	plain, err := s.decrypt(id, raw)
	if err != nil {
		return nil, false, err
	}
	return plain, true, nil
}

func (s *Store) decrypt(id blockid.BlockId, raw []byte) ([]byte, error) {
	if len(raw) < headerSize {
		return nil, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "encryption.decrypt", id.Hex(), fmt.Errorf("truncated block"))
	}
	body := raw[headerSize:]

	if s.cipher.NewAEAD != nil {
		aead, err := s.cipher.NewAEAD(s.key)
		if err != nil {
			return nil, cryfserrors.Wrap(cryfserrors.KindIO, "encryption.decrypt", id.Hex(), err)
		}
		if len(body) < aead.NonceSize() {
			return nil, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "encryption.decrypt", id.Hex(), fmt.Errorf("truncated nonce"))
		}
		nonce, ciphertext := body[:aead.NonceSize()], body[aead.NonceSize():]
		plain, err := aead.Open(nil, nonce, ciphertext, id[:])
		if err != nil {
			return nil, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "encryption.decrypt", id.Hex(), err)
		}
		return plain, nil
	}

	legacy := s.cipher.Legacy
	if len(body) < legacy.IVSize {
		return nil, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "encryption.decrypt", id.Hex(), fmt.Errorf("truncated iv"))
	}
	iv, ciphertext := body[:legacy.IVSize], body[legacy.IVSize:]
	stream, err := legacy.NewDecryptStream(s.key, iv)
	if err != nil {
		return nil, cryfserrors.Wrap(cryfserrors.KindIO, "encryption.decrypt", id.Hex(), err)
	}
	plain := make([]byte, len(ciphertext))
	stream.XORKeyStream(plain, ciphertext)
	return plain, nil
}

func (s *Store) Remove(ctx context.Context, id blockid.BlockId) (blockstore.RemoveResult, error) {
	return s.inner.Remove(ctx, id)
}

func (s *Store) NumBlocks(ctx context.Context) (uint64, error) {
	return s.inner.NumBlocks(ctx)
}

func (s *Store) EstimateFreeBytes(ctx context.Context) (uint64, error) {
	return s.inner.EstimateFreeBytes(ctx)
}

func (s *Store) BlockSizeFromPhysical(physical uint64) uint64 {
	inner := s.inner.BlockSizeFromPhysical(physical)
	overhead := uint64(headerSize)
	if s.cipher.NewAEAD != nil {
		if aead, err := s.cipher.NewAEAD(s.key); err == nil {
			overhead += uint64(aead.NonceSize() + aead.Overhead())
		}
	} else if s.cipher.Legacy != nil {
		overhead += uint64(s.cipher.Legacy.IVSize)
	}
	if inner < overhead {
		return 0
	}
	return inner - overhead
}

func (s *Store) ForEachBlock(ctx context.Context, f func(blockid.BlockId) error) error {
	return s.inner.ForEachBlock(ctx, f)
}
