package fec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeThenReconstructAllDataPresent(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	rs, err := New(4, 2)
	require.NoError(err)

	blockSize := 16
	shards := make([][]byte, 6)
	for i := 0; i < 4; i++ {
		shards[i] = bytes.Repeat([]byte{byte(i + 1)}, blockSize)
	}
	shards[4] = make([]byte, blockSize)
	shards[5] = make([]byte, blockSize)

	require.NoError(rs.Encode(shards))

	present := []bool{true, true, true, true, true, true}
	assert.NoError(rs.Reconstruct(shards, present))
}

func TestReconstructRecoversMissingDataShards(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	rs, err := New(4, 2)
	require.NoError(err)

	blockSize := 32
	original := make([][]byte, 4)
	shards := make([][]byte, 6)
	for i := 0; i < 4; i++ {
		original[i] = bytes.Repeat([]byte{byte(i*7 + 3)}, blockSize)
		shards[i] = append([]byte(nil), original[i]...)
	}
	shards[4] = make([]byte, blockSize)
	shards[5] = make([]byte, blockSize)
	require.NoError(rs.Encode(shards))

	// Drop two data shards, keep both parity shards.
	present := []bool{false, true, false, true, true, true}
	shards[0] = nil
	shards[2] = nil

	require.NoError(rs.Reconstruct(shards, present))
	assert.Equal(original[0], shards[0])
	assert.Equal(original[2], shards[2])
}

func TestReconstructFailsWithInsufficientParity(t *testing.T) {
	assert := assert.New(t)

	rs, err := New(4, 2)
	assert.NoError(err)

	blockSize := 8
	shards := make([][]byte, 6)
	for i := range shards {
		shards[i] = make([]byte, blockSize)
	}
	assert.NoError(rs.Encode(shards))

	// Three missing data shards but only two parity shards available.
	present := []bool{false, false, false, true, true, true}
	assert.ErrorIs(rs.Reconstruct(shards, present), ErrNotEnoughShards)
}

func TestNewRejectsTooManyShards(t *testing.T) {
	assert := assert.New(t)

	_, err := New(200, 100)
	assert.ErrorIs(err, ErrTooManyShards)
}

func TestShardAccessors(t *testing.T) {
	assert := assert.New(t)

	rs, err := New(4, 2)
	assert.NoError(err)
	assert.Equal(4, rs.DataShards())
	assert.Equal(2, rs.ParityShards())
	assert.Equal(6, rs.TotalShards())
}
