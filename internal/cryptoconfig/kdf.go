package cryptoconfig

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// scryptParams are the opaque kdf_parameters bytes stored alongside the
// outer header (spec.md §4.I).
type scryptParams struct {
	Salt []byte
	N    int
	R    int
	P    int
}

// defaultScryptParams matches cryfs's historical choice: strong enough
// to slow down an offline brute force without making every mount wait
// seconds.
func defaultScryptParams() (scryptParams, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return scryptParams{}, fmt.Errorf("cryptoconfig: generating scrypt salt: %w", err)
	}
	return scryptParams{Salt: salt, N: 1 << 20, R: 8, P: 1}, nil
}

func (p scryptParams) encode() []byte {
	out := make([]byte, 4+4+4+4+len(p.Salt))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(p.Salt)))
	binary.LittleEndian.PutUint32(out[4:8], uint32(p.N))
	binary.LittleEndian.PutUint32(out[8:12], uint32(p.R))
	binary.LittleEndian.PutUint32(out[12:16], uint32(p.P))
	copy(out[16:], p.Salt)
	return out
}

func decodeScryptParams(raw []byte) (scryptParams, error) {
	if len(raw) < 16 {
		return scryptParams{}, fmt.Errorf("cryptoconfig: truncated kdf_parameters")
	}
	saltLen := binary.LittleEndian.Uint32(raw[0:4])
	n := binary.LittleEndian.Uint32(raw[4:8])
	r := binary.LittleEndian.Uint32(raw[8:12])
	p := binary.LittleEndian.Uint32(raw[12:16])
	if len(raw)-16 != int(saltLen) {
		return scryptParams{}, fmt.Errorf("cryptoconfig: kdf_parameters salt length mismatch")
	}
	salt := make([]byte, saltLen)
	copy(salt, raw[16:])
	return scryptParams{Salt: salt, N: int(n), R: int(r), P: int(p)}, nil
}

// deriveKey derives keySize bytes from password using p, for use as
// outer-AEAD-key || inner-cipher-key.
func (p scryptParams) deriveKey(password string, keySize int) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), p.Salt, p.N, p.R, p.P, keySize)
	if err != nil {
		return nil, fmt.Errorf("cryptoconfig: scrypt derivation failed: %w", err)
	}
	return key, nil
}
