// Package cryfserrors defines the closed set of error kinds that flow up
// through the block store stack, plus the table that maps them onto POSIX
// errno values at the filesystem object layer boundary.
package cryfserrors

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories a core operation can fail
// with. New kinds must not be added without updating ToErrno.
type Kind int

const (
	// KindIO covers base-store or local-state I/O failures.
	KindIO Kind = iota
	// KindCorruptedBlock covers cipher tag mismatch, truncated ciphertext,
	// or a block header that disagrees with the id it was loaded under.
	KindCorruptedBlock
	// KindIntegrityViolation covers rollback, replay, wrong-client, or
	// missing-block-after-having-been-seen detections.
	KindIntegrityViolation
	// KindWrongPassword covers an outer KDF key that fails to open the
	// outer AEAD envelope.
	KindWrongPassword
	// KindUnsupportedVersion covers a config file whose format version
	// this build does not know how to read.
	KindUnsupportedVersion
	// KindWrongCipher covers a config naming a cipher this build does not
	// have registered.
	KindWrongCipher
	// KindNotFound covers a block or blob id that is absent.
	KindNotFound
	// KindOutOfSpace covers the base filesystem reporting no room left.
	KindOutOfSpace
	// KindBusy covers an operation that would deadlock under a bounded
	// wait, such as a remove racing a wait budget.
	KindBusy
	// KindSingleClientViolation covers a config with an exclusive client
	// id set being mounted by local state belonging to a different
	// client — distinct from the per-block wrong-client detection
	// KindIntegrityViolation already covers, since this check happens
	// once at mount time against the whole filesystem, not per block.
	KindSingleClientViolation
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IO"
	case KindCorruptedBlock:
		return "CorruptedBlock"
	case KindIntegrityViolation:
		return "IntegrityViolation"
	case KindWrongPassword:
		return "WrongPassword"
	case KindUnsupportedVersion:
		return "UnsupportedVersion"
	case KindWrongCipher:
		return "WrongCipher"
	case KindNotFound:
		return "NotFound"
	case KindOutOfSpace:
		return "OutOfSpace"
	case KindBusy:
		return "Busy"
	case KindSingleClientViolation:
		return "SingleClientViolation"
	default:
		return "Unknown"
	}
}

// FsError is the error type returned by every core layer. It carries a
// Kind for programmatic dispatch (errno mapping, retry policy) and an
// underlying cause for diagnostics.
type FsError struct {
	Kind    Kind
	Op      string // the operation that failed, e.g. "blockstore.Load"
	Subject string // the block/blob id or path involved, if any
	Cause   error
}

func (e *FsError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Subject)
	}
	return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Subject, e.Cause)
}

func (e *FsError) Unwrap() error {
	return e.Cause
}

// New builds an FsError with no subject or cause.
func New(kind Kind, op string) *FsError {
	return &FsError{Kind: kind, Op: op}
}

// Wrap builds an FsError with a subject and an underlying cause.
func Wrap(kind Kind, op string, subject string, cause error) *FsError {
	return &FsError{Kind: kind, Op: op, Subject: subject, Cause: cause}
}

// Is reports whether err is an FsError of the given kind, unwrapping as
// needed.
func Is(err error, kind Kind) bool {
	var fe *FsError
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning (KindIO, false) if err is
// not an FsError.
func KindOf(err error) (Kind, bool) {
	var fe *FsError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return KindIO, false
}
