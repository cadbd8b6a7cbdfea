package encryption_test

import (
	"context"
	"testing"

	"github.com/cryfs-go/cryfs/internal/blockstore/inmem"
	"github.com/cryfs-go/cryfs/internal/cipher"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
	"github.com/cryfs-go/cryfs/internal/encryption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip_AllRegisteredCiphers(t *testing.T) {
	ctx := context.Background()
	for _, name := range cipher.Names() {
		t.Run(name, func(t *testing.T) {
			key, err := cipher.RandomKey()
			require.NoError(t, err)

			s, err := encryption.New(inmem.New(), name, key)
			require.NoError(t, err)

			id := s.CreateBlockId()
			payload := []byte("some plaintext content for a block")
			_, err = s.TryCreate(ctx, id, payload)
			require.NoError(t, err)

			got, found, err := s.Load(ctx, id)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, payload, got)
		})
	}
}

func TestNew_UnknownCipher_Errors(t *testing.T) {
	key, err := cipher.RandomKey()
	require.NoError(t, err)
	_, err = encryption.New(inmem.New(), "no-such-cipher", key)
	require.Error(t, err)
	assert.True(t, cryfserrors.Is(err, cryfserrors.KindWrongCipher))
}

func TestNew_WrongKeySize_Errors(t *testing.T) {
	_, err := encryption.New(inmem.New(), "aes-256-gcm", []byte("too-short"))
	require.Error(t, err)
}

func TestLoad_CiphertextTampered_IsCorruptedBlock(t *testing.T) {
	ctx := context.Background()
	inner := inmem.New()
	key, err := cipher.RandomKey()
	require.NoError(t, err)
	s, err := encryption.New(inner, "aes-256-gcm", key)
	require.NoError(t, err)

	id := s.CreateBlockId()
	require.NoError(t, s.Overwrite(ctx, id, []byte("plaintext")))

	raw, _, err := inner.Load(ctx, id)
	require.NoError(t, err)
	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-1] ^= 0xff
	require.NoError(t, inner.Overwrite(ctx, id, tampered))

	_, _, err = s.Load(ctx, id)
	require.Error(t, err)
	assert.True(t, cryfserrors.Is(err, cryfserrors.KindCorruptedBlock))
}

func TestLoad_DifferentKey_FailsToOpen(t *testing.T) {
	ctx := context.Background()
	inner := inmem.New()
	key1, err := cipher.RandomKey()
	require.NoError(t, err)
	key2, err := cipher.RandomKey()
	require.NoError(t, err)

	writer, err := encryption.New(inner, "aes-256-gcm", key1)
	require.NoError(t, err)
	id := writer.CreateBlockId()
	require.NoError(t, writer.Overwrite(ctx, id, []byte("secret")))

	reader, err := encryption.New(inner, "aes-256-gcm", key2)
	require.NoError(t, err)
	_, _, err = reader.Load(ctx, id)
	require.Error(t, err)
	assert.True(t, cryfserrors.Is(err, cryfserrors.KindCorruptedBlock))
}

func TestTwoWrites_ProduceDifferentCiphertext(t *testing.T) {
	ctx := context.Background()
	inner := inmem.New()
	key, err := cipher.RandomKey()
	require.NoError(t, err)
	s, err := encryption.New(inner, "aes-256-gcm", key)
	require.NoError(t, err)

	id := s.CreateBlockId()
	require.NoError(t, s.Overwrite(ctx, id, []byte("same plaintext")))
	raw1, _, err := inner.Load(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.Overwrite(ctx, id, []byte("same plaintext")))
	raw2, _, err := inner.Load(ctx, id)
	require.NoError(t, err)

	assert.NotEqual(t, raw1, raw2, "fresh random nonce must change ciphertext even for identical plaintext")
}
