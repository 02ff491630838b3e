package audio

import (
	"testing"

	"github.com/moonparty/moonlight-go/fec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseSequenceFor(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint16(100), baseSequenceFor(102, 2))
	assert.Equal(uint16(100), baseSequenceFor(100, 0))
}

func TestFECAudioQueueRecoversOnceAllDataShardsPresent(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	q := newFECAudioQueue()
	payloads := [][]byte{{1}, {2}, {3}, {4}}

	for i := 0; i < AudioDataShards-1; i++ {
		_, ok := q.addPacket(100, i, payloads[i])
		assert.False(ok)
	}
	recovered, ok := q.addPacket(100, AudioDataShards-1, payloads[AudioDataShards-1])
	require.True(ok)
	require.Len(recovered, AudioDataShards)
	for i, p := range payloads {
		assert.Equal(p, recovered[i])
	}
}

func TestFECAudioQueueRecoversMissingDataShardFromParity(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	q := newFECAudioQueue()
	shardSize := 8

	// Build a valid RS(4,2) block to get real parity payloads.
	encoded := make([][]byte, AudioTotalShards)
	for i := 0; i < AudioDataShards; i++ {
		encoded[i] = make([]byte, shardSize)
		for j := range encoded[i] {
			encoded[i][j] = byte(i + 1)
		}
	}
	for i := AudioDataShards; i < AudioTotalShards; i++ {
		encoded[i] = make([]byte, shardSize)
	}
	rs, err := fec.New(AudioDataShards, AudioFECShards)
	require.NoError(err)
	require.NoError(rs.Encode(encoded))

	// Feed data shards 0,2,3 and one parity shard; data shard 1 is withheld.
	feed := []int{0, 2, 3, AudioDataShards}
	var recovered [][]byte
	var ok bool
	for _, idx := range feed {
		recovered, ok = q.addPacket(200, idx, encoded[idx])
	}
	require.True(ok)
	require.Len(recovered, AudioDataShards)
	assert.Equal(encoded[1], recovered[1])
}

func TestFECAudioQueueDropsPacketsBelowNextExpect(t *testing.T) {
	assert := assert.New(t)

	q := newFECAudioQueue()
	q.nextExpect = 500
	q.haveExpect = true

	_, ok := q.addPacket(100, 0, []byte{1})
	assert.False(ok)
	assert.Empty(q.blocks)
}

func TestFECAudioQueueEvictsOldestBeyondCacheLimit(t *testing.T) {
	assert := assert.New(t)

	q := newFECAudioQueue()
	for i := 0; i < cachedFECBlockLimit+2; i++ {
		q.addPacket(uint16(i*AudioDataShards), 0, []byte{byte(i)})
	}
	assert.LessOrEqual(len(q.order), cachedFECBlockLimit)
}
