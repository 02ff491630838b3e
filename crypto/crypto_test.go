package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContextRejectsBadKeySize(t *testing.T) {
	assert := assert.New(t)

	_, err := NewContext(make([]byte, 10))
	assert.ErrorIs(err, ErrInvalidKey)
}

func TestCBCRoundTrip(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	key := bytes.Repeat([]byte{0x42}, 16)
	ctx, err := NewContext(key)
	require.NoError(err)

	iv := make([]byte, ctx.BlockSize())
	_, err = rand.Read(iv)
	require.NoError(err)

	plaintext := []byte("the quick brown fox jumps")
	ciphertext, err := ctx.EncryptCBC(plaintext, iv)
	require.NoError(err)
	assert.Equal(0, len(ciphertext)%ctx.BlockSize())

	recovered, err := ctx.DecryptCBC(ciphertext, iv)
	require.NoError(err)
	assert.Equal(plaintext, recovered)
}

func TestCBCPadToBlockIsDeterministicSize(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	key := bytes.Repeat([]byte{0x11}, 16)
	ctx, err := NewContext(key)
	require.NoError(err)

	iv := make([]byte, ctx.BlockSize())

	ciphertext, err := ctx.EncryptCBCPadToBlock([]byte("short"), iv)
	require.NoError(err)
	assert.Equal(ctx.BlockSize(), len(ciphertext))

	longInput := bytes.Repeat([]byte{0x7}, ctx.BlockSize()+1)
	ciphertext2, err := ctx.EncryptCBCPadToBlock(longInput, iv)
	require.NoError(err)
	assert.Equal(2*ctx.BlockSize(), len(ciphertext2))
}

func TestGCMRoundTrip(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	key := bytes.Repeat([]byte{0x99}, 16)
	ctx, err := NewContext(key)
	require.NoError(err)

	iv := make([]byte, ctx.GCMNonceSize())
	_, err = rand.Read(iv)
	require.NoError(err)

	plaintext := []byte("controller input packet")
	aad := []byte("header")

	ciphertext, tag, err := ctx.EncryptGCM(plaintext, iv, aad)
	require.NoError(err)
	assert.Equal(ctx.GCMOverhead(), len(tag))

	recovered, err := ctx.DecryptGCM(ciphertext, iv, tag, aad)
	require.NoError(err)
	assert.Equal(plaintext, recovered)
}

func TestGCMDecryptFailsOnTamperedTag(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	key := bytes.Repeat([]byte{0x55}, 16)
	ctx, err := NewContext(key)
	require.NoError(err)

	iv := make([]byte, ctx.GCMNonceSize())
	ciphertext, tag, err := ctx.EncryptGCM([]byte("payload"), iv, nil)
	require.NoError(err)

	tag[0] ^= 0xFF
	_, err = ctx.DecryptGCM(ciphertext, iv, tag, nil)
	assert.ErrorIs(err, ErrDecryptionFailed)
}
