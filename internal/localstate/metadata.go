package localstate

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"

	"github.com/cryfs-go/cryfs/internal/cryfserrors"
	"github.com/cryfs-go/cryfs/internal/integrity"
)

// Metadata is the small per-filesystem record that lets cryfs recognize
// its own client across mounts and detect a config file swapped in
// behind its back (spec.md §4.J).
type Metadata struct {
	ClientId          integrity.ClientId `json:"my_client_id"`
	EncryptionKeySalt []byte             `json:"encryption_key_salt"`
	EncryptionKeyHash []byte             `json:"encryption_key_hash"`
}

func hashEncryptionKey(key, salt []byte) []byte {
	h := sha256.Sum256(append(append([]byte(nil), salt...), key...))
	return h[:]
}

func newClientId() (integrity.ClientId, error) {
	// Zero is reserved to mean "no client id assigned yet" elsewhere, so
	// resample until non-zero.
	for {
		n, err := rand.Int(rand.Reader, big.NewInt(1<<32))
		if err != nil {
			return 0, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.newClientId", "", err)
		}
		if n.Uint64() != 0 {
			return integrity.ClientId(n.Uint64()), nil
		}
	}
}

func loadOrCreateMetadata(dir string, encryptionKey []byte, allowReplacedFilesystem bool) (Metadata, error) {
	path := filepath.Join(dir, metadataFileName)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return createMetadata(path, encryptionKey)
	}
	if err != nil {
		return Metadata{}, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.loadOrCreateMetadata", path, err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.loadOrCreateMetadata", path, err)
	}

	if !allowReplacedFilesystem {
		want := hashEncryptionKey(encryptionKey, meta.EncryptionKeySalt)
		if subtle.ConstantTimeCompare(want, meta.EncryptionKeyHash) != 1 {
			return Metadata{}, cryfserrors.New(cryfserrors.KindIntegrityViolation, "localstate.loadOrCreateMetadata: encryption key does not match recorded fingerprint")
		}
	}
	return meta, nil
}

func createMetadata(path string, encryptionKey []byte) (Metadata, error) {
	clientId, err := newClientId()
	if err != nil {
		return Metadata{}, err
	}
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return Metadata{}, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.createMetadata", "", err)
	}
	meta := Metadata{
		ClientId:          clientId,
		EncryptionKeySalt: salt,
		EncryptionKeyHash: hashEncryptionKey(encryptionKey, salt),
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Metadata{}, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.createMetadata", "", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return Metadata{}, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.createMetadata", path, err)
	}
	return meta, nil
}
