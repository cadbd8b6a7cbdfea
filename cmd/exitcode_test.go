package cmd

import (
	"fmt"
	"testing"

	"github.com/cryfs-go/cryfs/internal/cryfserrors"
	"github.com/stretchr/testify/assert"
)

func TestExitCodeFor_NilIsSuccess(t *testing.T) {
	assert.Equal(t, exitSuccess, exitCodeFor(nil))
}

func TestExitCodeFor_DirError(t *testing.T) {
	err := &dirError{code: exitInaccessibleMountDir, err: fmt.Errorf("boom")}
	assert.Equal(t, exitInaccessibleMountDir, exitCodeFor(err))
}

func TestExitCodeFor_UnknownErrorIsUnspecified(t *testing.T) {
	assert.Equal(t, exitUnspecifiedError, exitCodeFor(fmt.Errorf("some plain error")))
}

func TestExitCodeFor_FsErrorKinds(t *testing.T) {
	cases := []struct {
		kind cryfserrors.Kind
		want int
	}{
		{cryfserrors.KindWrongPassword, exitWrongPassword},
		{cryfserrors.KindUnsupportedVersion, exitTooOldFilesystemFormat},
		{cryfserrors.KindWrongCipher, exitWrongCipher},
		{cryfserrors.KindCorruptedBlock, exitInvalidFilesystem},
		{cryfserrors.KindSingleClientViolation, exitSingleClientFileSystem},
	}
	for _, c := range cases {
		err := cryfserrors.New(c.kind, "test.Op")
		assert.Equal(t, c.want, exitCodeFor(err), "kind %v", c.kind)
	}
}

func TestExitCodeFor_IntegrityViolationDistinguishesOp(t *testing.T) {
	previousRun := cryfserrors.New(cryfserrors.KindIntegrityViolation, "localstate.CheckMountAllowed")
	assert.Equal(t, exitIntegrityViolationOnPreviousRun, exitCodeFor(previousRun))

	keyChanged := cryfserrors.New(cryfserrors.KindIntegrityViolation, "localstate.loadOrCreateMetadata")
	assert.Equal(t, exitEncryptionKeyChanged, exitCodeFor(keyChanged))

	live := cryfserrors.New(cryfserrors.KindIntegrityViolation, "integrity.Load")
	assert.Equal(t, exitIntegrityViolation, exitCodeFor(live))
}
