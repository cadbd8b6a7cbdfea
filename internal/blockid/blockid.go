// Package blockid defines the 16-byte opaque identifier used as the key
// for every block-store layer and as a blob's root id.
package blockid

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Size is the length in bytes of a BlockId.
const Size = 16

// BlockId is a 16-byte random identifier. The zero value is not a valid
// id; always construct one via NewRandom or ParseHex.
type BlockId [Size]byte

// NewRandom returns a fresh random BlockId. Collisions are left to the
// base store's try_create semantics (spec.md §4.A) to detect.
func NewRandom() BlockId {
	var id BlockId
	copy(id[:], uuid.New()[:])
	return id
}

// Zero reports whether id is the all-zero value, which is never a
// legitimate id but is useful as an "unset" sentinel in structs.
func (id BlockId) Zero() bool {
	return id == BlockId{}
}

// Hex returns the lowercase hex encoding used for on-disk filenames.
func (id BlockId) Hex() string {
	return hex.EncodeToString(id[:])
}

// ShardedPath splits the hex form into the <first-3-hex-chars>/<rest>
// directory layout spec.md §6 mandates for the on-disk base store.
func (id BlockId) ShardedPath() (dir string, file string) {
	h := id.Hex()
	return h[:3], h[3:]
}

func (id BlockId) String() string {
	return id.Hex()
}

// ParseHex parses the hex form produced by Hex/ShardedPath back into a
// BlockId.
func ParseHex(s string) (BlockId, error) {
	var id BlockId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("blockid: invalid hex %q: %w", s, err)
	}
	if len(b) != Size {
		return id, fmt.Errorf("blockid: expected %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// FromBytes copies a binary (non-hex) id, as found in a block header
// (spec.md §6, offset 9).
func FromBytes(b []byte) (BlockId, error) {
	var id BlockId
	if len(b) != Size {
		return id, fmt.Errorf("blockid: expected %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}
