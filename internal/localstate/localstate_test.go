package localstate_test

import (
	"testing"

	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
	"github.com/cryfs-go/cryfs/internal/localstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setDir(t *testing.T) {
	t.Helper()
	t.Setenv("CRYFS_LOCAL_STATE_DIR", t.TempDir())
}

func TestOpen_FirstMount_CreatesMetadataWithNonZeroClientId(t *testing.T) {
	setDir(t)
	key := []byte("some encryption key material")

	s, err := localstate.Open("fs-a", key, false)
	require.NoError(t, err)
	assert.NotZero(t, s.Metadata.ClientId)
	assert.False(t, s.Tainted)
}

func TestOpen_SecondMount_SameKey_Succeeds(t *testing.T) {
	setDir(t)
	key := []byte("some encryption key material")

	first, err := localstate.Open("fs-a", key, false)
	require.NoError(t, err)

	second, err := localstate.Open("fs-a", key, false)
	require.NoError(t, err)
	assert.Equal(t, first.Metadata.ClientId, second.Metadata.ClientId)
}

func TestOpen_SecondMount_DifferentKey_FailsUnlessAllowed(t *testing.T) {
	setDir(t)
	_, err := localstate.Open("fs-a", []byte("key one"), false)
	require.NoError(t, err)

	_, err = localstate.Open("fs-a", []byte("key two, totally different"), false)
	require.Error(t, err)
	kind, ok := cryfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, cryfserrors.KindIntegrityViolation, kind)

	_, err = localstate.Open("fs-a", []byte("key two, totally different"), true)
	require.NoError(t, err)
}

func TestTaintAndClearTaint_PersistAcrossOpen(t *testing.T) {
	setDir(t)
	key := []byte("key")

	s, err := localstate.Open("fs-a", key, false)
	require.NoError(t, err)
	require.NoError(t, s.Taint())

	reopened, err := localstate.Open("fs-a", key, false)
	require.NoError(t, err)
	assert.True(t, reopened.Tainted)
	require.Error(t, reopened.CheckMountAllowed(false))
	require.NoError(t, reopened.CheckMountAllowed(true))

	require.NoError(t, reopened.ClearTaint())
	cleared, err := localstate.Open("fs-a", key, false)
	require.NoError(t, err)
	assert.False(t, cleared.Tainted)
}

func TestSaveVersions_PersistsVersionsAndSeenSetAcrossOpen(t *testing.T) {
	setDir(t)
	key := []byte("key")

	s, err := localstate.Open("fs-a", key, false)
	require.NoError(t, err)

	id := blockid.NewRandom()
	v := s.Versions.IncrementVersion(id)
	require.NoError(t, s.SaveVersions())

	reopened, err := localstate.Open("fs-a", key, false)
	require.NoError(t, err)
	ok, firstSeen := reopened.Versions.CheckAndUpdate(reopened.Metadata.ClientId, id, v+1)
	assert.True(t, ok)
	assert.False(t, firstSeen)
	assert.True(t, reopened.Versions.HasBeenSeen(id))
}
