package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/cryfs-go/cryfs/internal/cryfserrors"
)

// Exit codes (spec.md §6, "Exit codes (core-relevant subset)").
const (
	exitSuccess                              = 0
	exitUnspecifiedError                     = 1
	exitInvalidArguments                     = 10
	exitWrongPassword                        = 11
	exitEmptyPassword                        = 12
	exitTooNewFilesystemFormat               = 13
	exitTooOldFilesystemFormat               = 14
	exitWrongCipher                          = 15
	exitInaccessibleBaseDir                  = 16
	exitInaccessibleMountDir                 = 17
	exitBaseDirInsideMountDir                = 18
	exitInvalidFilesystem                    = 19
	exitFilesystemIdChanged                  = 20
	exitEncryptionKeyChanged                 = 21
	exitFilesystemHasDifferentIntegritySetup = 22
	exitSingleClientFileSystem               = 23
	exitIntegrityViolationOnPreviousRun      = 24
	exitIntegrityViolation                   = 25
)

// dirError carries a pre-assigned exit code for a base/mount-dir
// accessibility failure detected before any core operation runs.
type dirError struct {
	code int
	err  error
}

func (e *dirError) Error() string { return e.err.Error() }
func (e *dirError) Unwrap() error { return e.err }

// exitCodeFor maps an error returned by the core (internal/cryfserrors,
// internal/cryfsfs) or by this command's own pre-checks onto the stable
// exit code table in spec.md §6.
func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}

	var de *dirError
	if e, ok := err.(*dirError); ok {
		de = e
		return de.code
	}

	kind, ok := cryfserrors.KindOf(err)
	if !ok {
		return exitUnspecifiedError
	}

	switch kind {
	case cryfserrors.KindWrongPassword:
		return exitWrongPassword
	case cryfserrors.KindUnsupportedVersion:
		return exitTooOldFilesystemFormat
	case cryfserrors.KindWrongCipher:
		return exitWrongCipher
	case cryfserrors.KindCorruptedBlock:
		return exitInvalidFilesystem
	case cryfserrors.KindSingleClientViolation:
		return exitSingleClientFileSystem
	case cryfserrors.KindIntegrityViolation:
		if fe, ok := err.(*cryfserrors.FsError); ok {
			switch {
			case strings.HasPrefix(fe.Op, "localstate.CheckMountAllowed"):
				return exitIntegrityViolationOnPreviousRun
			case strings.HasPrefix(fe.Op, "localstate.loadOrCreateMetadata"):
				return exitEncryptionKeyChanged
			}
		}
		return exitIntegrityViolation
	default:
		return exitUnspecifiedError
	}
}

// exitWith prints err to stderr and terminates the process with code.
// Used for failures detected before the core has anything open to flush,
// where returning an error up through cobra would print a second,
// redundant "Error: " line.
func exitWith(code int, err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(code)
}
