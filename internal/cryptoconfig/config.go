// Package cryptoconfig implements the config file and its crypto
// envelope (spec.md §4.I): the plaintext Config record that names the
// filesystem's root blob, cipher, and key, wrapped in a two-layer AEAD
// envelope so the file on disk reveals neither its own size nor its
// contents without the mount password.
package cryptoconfig

import (
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the plaintext schema carried inside the encrypted envelope
// (spec.md §4.I).
type Config struct {
	RootBlobId            string `yaml:"root_blob_id"`
	CipherName            string `yaml:"cipher_name"`
	EncryptionKeyHex      string `yaml:"encryption_key"`
	BlockSizeBytes        uint32 `yaml:"block_size_bytes"`
	FilesystemId          string `yaml:"filesystem_id"` // 16 raw bytes, hex-encoded
	Version               string `yaml:"version"`
	CreatedWithVersion    string `yaml:"created_with_version"`
	LastOpenedWithVersion string `yaml:"last_opened_with_version"`
	ExclusiveClientId     uint32 `yaml:"exclusive_client_id,omitempty"`
	HasExclusiveClientId  bool   `yaml:"has_exclusive_client_id"`
	HasParentPointers     bool   `yaml:"has_parent_pointers"`
	HasVersionNumbers     bool   `yaml:"has_version_numbers"`
}

// EncryptionKey decodes the hex-encoded encryption key.
func (c Config) EncryptionKey() ([]byte, error) {
	key, err := hex.DecodeString(c.EncryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("cryptoconfig: malformed encryption_key: %w", err)
	}
	return key, nil
}

func marshalConfig(c Config) ([]byte, error) {
	return yaml.Marshal(c)
}

func unmarshalConfig(raw []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("cryptoconfig: malformed config body: %w", err)
	}
	return c, nil
}
