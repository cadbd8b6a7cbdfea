// Package localstate manages the per-filesystem state cryfs keeps
// outside the encrypted filesystem itself (spec.md §4.J): the client
// id and encryption-key fingerprint used to detect a swapped config
// file, the known-block-version map the integrity layer persists across
// mounts, and the tainted bit that blocks further mounts after an
// integrity violation until an operator clears it.
package localstate

import (
	"os"
	"path/filepath"

	"github.com/cryfs-go/cryfs/internal/cryfserrors"
	"github.com/cryfs-go/cryfs/internal/integrity"
)

const (
	metadataFileName      = "metadata.json"
	integrityDataFileName = "integritydata"
)

// DefaultDir returns the directory cryfs keeps filesystemId's local
// state under, honoring CRYFS_LOCAL_STATE_DIR.
func DefaultDir(filesystemId string) string {
	return filepath.Join(baseDir(), filesystemId)
}

func baseDir() string {
	if dir := os.Getenv("CRYFS_LOCAL_STATE_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "cryfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".cryfs-local-state")
	}
	return filepath.Join(home, ".local", "share", "cryfs")
}

// State bundles a filesystem's local state for the duration of a mount.
type State struct {
	dir      string
	Metadata Metadata
	Versions *integrity.KnownBlockVersions
	Tainted  bool
}

// Open loads (or, on first mount, creates) the local state for
// filesystemId, verifying encryptionKey against any previously recorded
// fingerprint. allowReplacedFilesystem suppresses that check, for the
// documented escape hatch when a filesystem's config was deliberately
// regenerated.
func Open(filesystemId string, encryptionKey []byte, allowReplacedFilesystem bool) (*State, error) {
	dir := DefaultDir(filesystemId)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.Open", dir, err)
	}

	meta, err := loadOrCreateMetadata(dir, encryptionKey, allowReplacedFilesystem)
	if err != nil {
		return nil, err
	}

	versions, tainted, err := loadVersions(dir, meta.ClientId)
	if err != nil {
		return nil, err
	}

	return &State{dir: dir, Metadata: meta, Versions: versions, Tainted: tainted}, nil
}

// CheckMountAllowed refuses a mount whose local state is tainted unless
// the caller has explicitly opted into allowing integrity violations.
func (s *State) CheckMountAllowed(allowIntegrityViolations bool) error {
	if s.Tainted && !allowIntegrityViolations {
		return cryfserrors.New(cryfserrors.KindIntegrityViolation, "localstate.CheckMountAllowed: tainted on a previous run")
	}
	return nil
}

// Taint marks the filesystem tainted and persists it immediately, so an
// integrity violation is remembered even if the process crashes right
// after.
func (s *State) Taint() error {
	s.Tainted = true
	return s.SaveVersions()
}

// ClearTaint clears the tainted bit, the operator action that lets a
// filesystem be mounted again after its violation has been investigated.
func (s *State) ClearTaint() error {
	s.Tainted = false
	return s.SaveVersions()
}

// SaveVersions persists the current KnownBlockVersions snapshot and
// tainted bit. Callers should call this at unmount and periodically
// during a long-running mount so a crash loses as little state as
// possible.
func (s *State) SaveVersions() error {
	return saveVersions(s.dir, s.Versions, s.Tainted)
}
