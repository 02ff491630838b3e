package video

import (
	"testing"

	"github.com/moonparty/moonlight-go/fec"
	"github.com/moonparty/moonlight-go/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataShardsToFECShards(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(1, dataShardsToFECShards(4, 0))
	assert.Equal(1, dataShardsToFECShards(4, 20))  // ceil(4*20/100) = ceil(0.8) = 1
	assert.Equal(2, dataShardsToFECShards(8, 20))  // ceil(8*20/100) = ceil(1.6) = 2
	assert.Equal(4, dataShardsToFECShards(16, 20)) // ceil(16*20/100) = ceil(3.2) = 4
}

func makeVideoHeader(frameIndex uint32, blockIndex, shardIndex, dataShards, percent int, multiFecBlocks int) protocol.NVVideoPacket {
	return protocol.NVVideoPacket{
		FrameIndex:     frameIndex,
		MultiFecFlags:  uint8(blockIndex),
		MultiFecBlocks: uint8(multiFecBlocks),
		FECInfo:        protocol.MakeFECInfo(dataShards, percent, shardIndex),
	}
}

func TestFECAssemblerReassemblesWithAllShardsPresent(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	a := newFECAssembler()
	shardSize := 8
	shard0 := make([]byte, shardSize)
	shard1 := make([]byte, shardSize)
	for i := range shard0 {
		shard0[i] = 1
	}
	for i := range shard1 {
		shard1[i] = 2
	}

	frame, ok, lost := a.addPacket(makeVideoHeader(10, 0, 0, 2, 20, 0), shard0)
	assert.False(ok)
	assert.Nil(frame)
	assert.Empty(lost)

	frame, ok, _ = a.addPacket(makeVideoHeader(10, 0, 1, 2, 20, 0), shard1)
	require.True(ok)
	require.Len(frame, 2*shardSize)
	assert.Equal(shard0, frame[:shardSize])
	assert.Equal(shard1, frame[shardSize:])
}

func TestFECAssemblerRecoversMissingDataShard(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	a := newFECAssembler()
	shardSize := 16
	dataShards := 4
	percent := 50 // -> 2 parity shards

	rs, err := fec.New(dataShards, dataShardsToFECShards(dataShards, percent))
	require.NoError(err)

	shards := make([][]byte, dataShards+dataShardsToFECShards(dataShards, percent))
	for i := 0; i < dataShards; i++ {
		shards[i] = make([]byte, shardSize)
		for j := range shards[i] {
			shards[i][j] = byte(i + 1)
		}
	}
	for i := dataShards; i < len(shards); i++ {
		shards[i] = make([]byte, shardSize)
	}
	require.NoError(rs.Encode(shards))

	// Feed data shards 0, 2, 3 plus the first parity shard; data shard 1
	// is withheld and must be FEC-recovered from the parity shard.
	feedFirst := []int{0, 2, 3}
	for _, i := range feedFirst {
		_, ok, _ := a.addPacket(makeVideoHeader(20, 0, i, dataShards, percent, 0), shards[i])
		require.False(ok)
	}
	frame, ok, _ := a.addPacket(makeVideoHeader(20, 0, dataShards, dataShards, percent, 0), shards[dataShards])
	require.True(ok)
	require.Len(frame, dataShards*shardSize)
	assert.Equal(shards[1], frame[shardSize:2*shardSize])
}

func TestFECAssemblerWaitsForAllMultiBlocks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	a := newFECAssembler()
	shardSize := 4
	shard := make([]byte, shardSize)

	// Frame spans two FEC blocks (multiFecBlocks=1 means 2 total blocks).
	_, ok, _ := a.addPacket(makeVideoHeader(30, 0, 0, 1, 0, 1), shard)
	assert.False(ok)

	frame, ok, _ := a.addPacket(makeVideoHeader(30, 1, 0, 1, 0, 1), shard)
	require.True(ok)
	assert.Len(frame, 2*shardSize)
}

func TestFECAssemblerExpireDropsStaleFrames(t *testing.T) {
	assert := assert.New(t)

	a := newFECAssembler()
	a.addPacket(makeVideoHeader(5, 0, 0, 2, 0, 0), make([]byte, 4))
	assert.Len(a.frames, 1)

	removed := a.expire(100)
	assert.Len(a.frames, 0)
	assert.Equal([]uint32{5}, removed)
}

func TestFECAssemblerReportsSupersededFrameAsLost(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	a := newFECAssembler()
	shardSize := 4
	shard := make([]byte, shardSize)

	// Frames 1 and 2 complete normally with a single shard each.
	_, ok, lost := a.addPacket(makeVideoHeader(1, 0, 0, 1, 0, 0), shard)
	require.True(ok)
	assert.Empty(lost)

	_, ok, lost = a.addPacket(makeVideoHeader(2, 0, 0, 1, 0, 0), shard)
	require.True(ok)
	assert.Empty(lost)

	// Frame 3 starts but never gets its second data shard before frame 4
	// arrives, so it must be reported lost.
	_, ok, lost = a.addPacket(makeVideoHeader(3, 0, 0, 2, 0, 0), shard)
	require.False(ok)
	assert.Empty(lost)

	_, ok, lost = a.addPacket(makeVideoHeader(4, 0, 0, 1, 0, 0), shard)
	require.True(ok)
	assert.Equal([]uint32{3}, lost)
}
