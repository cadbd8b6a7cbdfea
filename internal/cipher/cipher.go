// Package cipher is the named-cipher registry the encryption layer looks
// up a block's AEAD implementation by (spec.md §4.C, §4.I): every cipher
// a config file can name is registered here under its on-disk string, the
// way the retrieved gocryptfs contentenc/cryptocore split treats AEAD as
// a pluggable backend behind a fixed interface.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/cast5"
	"golang.org/x/crypto/twofish"
)

// KeySize is the key length in bytes every registered cipher uses. CryFS
// fixes this at 256 bits regardless of the underlying primitive's native
// key size range.
const KeySize = 32

// AEAD is the sealed/authenticated cipher interface every registered
// AEAD-mode cipher exposes. It mirrors crypto/cipher.AEAD directly so
// stdlib ciphers need no adapter.
type AEAD interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// Stream is the unauthenticated stream-cipher interface the legacy,
// pre-integrity cipher modes use. These exist to read filesystems created
// by builds without an integrity layer (spec.md §4.I); new filesystems
// should never be created with one.
type Stream interface {
	XORKeyStream(dst, src []byte)
}

// Unauthenticated marks a registered cipher as providing no integrity of
// its own — callers must run the integrity layer with AllowViolations
// false disabled for these ciphers, since there is no tag to fail a
// malformed check.
type Unauthenticated struct {
	NewEncryptStream func(key, iv []byte) (Stream, error)
	NewDecryptStream func(key, iv []byte) (Stream, error)
	IVSize           int
}

// Entry describes one registered cipher. Exactly one of NewAEAD or Legacy
// is non-nil.
type Entry struct {
	Name    string
	NewAEAD func(key []byte) (AEAD, error)
	Legacy  *Unauthenticated
}

var registry = map[string]Entry{}

func register(e Entry) {
	registry[e.Name] = e
}

func init() {
	register(Entry{
		Name: "aes-256-gcm",
		NewAEAD: func(key []byte) (AEAD, error) {
			block, err := aes.NewCipher(key)
			if err != nil {
				return nil, err
			}
			return cipher.NewGCM(block)
		},
	})
	register(Entry{
		Name: "twofish-gcm",
		NewAEAD: func(key []byte) (AEAD, error) {
			block, err := twofish.NewCipher(key)
			if err != nil {
				return nil, err
			}
			return cipher.NewGCM(block)
		},
	})
	register(Entry{
		Name: "aes-256-cfb",
		Legacy: &Unauthenticated{
			IVSize: aes.BlockSize,
			NewEncryptStream: func(key, iv []byte) (Stream, error) {
				block, err := aes.NewCipher(key)
				if err != nil {
					return nil, err
				}
				return cipher.NewCFBEncrypter(block, iv), nil
			},
			NewDecryptStream: func(key, iv []byte) (Stream, error) {
				block, err := aes.NewCipher(key)
				if err != nil {
					return nil, err
				}
				return cipher.NewCFBDecrypter(block, iv), nil
			},
		},
	})
	register(Entry{
		Name: "cast5-cfb",
		Legacy: &Unauthenticated{
			IVSize: cast5.BlockSize,
			NewEncryptStream: func(key, iv []byte) (Stream, error) {
				block, err := cast5.NewCipher(key[:16])
				if err != nil {
					return nil, err
				}
				return cipher.NewCFBEncrypter(block, iv), nil
			},
			NewDecryptStream: func(key, iv []byte) (Stream, error) {
				block, err := cast5.NewCipher(key[:16])
				if err != nil {
					return nil, err
				}
				return cipher.NewCFBDecrypter(block, iv), nil
			},
		},
	})
}

// Lookup returns the registered Entry for name, or an error if this build
// has no cipher of that name (spec.md's KindWrongCipher).
func Lookup(name string) (Entry, error) {
	e, ok := registry[name]
	if !ok {
		return Entry{}, fmt.Errorf("cipher: unknown cipher %q", name)
	}
	return e, nil
}

// Names returns the registered cipher names, for config validation and
// CLI help text.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// RandomKey returns a fresh random key of KeySize bytes.
func RandomKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("cipher: generating key: %w", err)
	}
	return key, nil
}
