package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppVersionAtLeast(t *testing.T) {
	assert := assert.New(t)

	assert.True(AppVersionAtLeast([4]int{7, 1, 431, 0}, 7, 1, 431))
	assert.True(AppVersionAtLeast([4]int{7, 1, 432, 0}, 7, 1, 431))
	assert.True(AppVersionAtLeast([4]int{8, 0, 0, 0}, 7, 1, 431))
	assert.False(AppVersionAtLeast([4]int{7, 1, 430, 0}, 7, 1, 431))
	assert.False(AppVersionAtLeast([4]int{7, 0, 999, 0}, 7, 1, 0))
	assert.False(AppVersionAtLeast([4]int{6, 9, 999, 0}, 7, 0, 0))
}

func TestFECInfoRoundTrip(t *testing.T) {
	assert := assert.New(t)

	info := MakeFECInfo(16, 20, 3)
	assert.Equal(16, FECInfoDataShards(info))
	assert.Equal(20, FECInfoPercentage(info))
	assert.Equal(3, FECInfoIndex(info))
}

func TestParseNVVideoPacket(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	raw := make([]byte, NVVideoPacketSize)
	LittleEndian.PutUint32(raw[0:4], 100)
	LittleEndian.PutUint32(raw[4:8], 7)
	raw[8] = FlagContainsPicData | FlagSOF
	raw[10] = 1
	raw[11] = 4
	LittleEndian.PutUint32(raw[12:16], MakeFECInfo(4, 25, 2))

	pkt, err := ParseNVVideoPacket(raw)
	require.NoError(err)
	assert.Equal(uint32(100), pkt.StreamPacketIndex)
	assert.Equal(uint32(7), pkt.FrameIndex)
	assert.Equal(uint8(FlagContainsPicData|FlagSOF), pkt.Flags)
	assert.Equal(uint8(4), pkt.MultiFecBlocks)
	assert.Equal(4, FECInfoDataShards(pkt.FECInfo))
	assert.Equal(2, FECInfoIndex(pkt.FECInfo))
}

func TestParseNVVideoPacketRejectsShortInput(t *testing.T) {
	assert := assert.New(t)

	_, err := ParseNVVideoPacket(make([]byte, NVVideoPacketSize-1))
	assert.Error(err)
}

func TestParseAudioFECHeader(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	raw := make([]byte, AudioFECHeaderSize)
	raw[0] = 2
	raw[1] = 127
	ByteOrder.PutUint16(raw[2:4], 55)
	ByteOrder.PutUint32(raw[4:8], 9000)
	ByteOrder.PutUint32(raw[8:12], 0xAABBCCDD)

	h, err := ParseAudioFECHeader(raw)
	require.NoError(err)
	assert.Equal(uint8(2), h.FECShardIndex)
	assert.Equal(uint8(127), h.PayloadType)
	assert.Equal(uint16(55), h.BaseSequenceNumber)
	assert.Equal(uint32(9000), h.BaseTimestamp)
	assert.Equal(uint32(0xAABBCCDD), h.SSRC)
}

func TestParseEncVideoHeader(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	raw := make([]byte, EncVideoHeaderSize)
	for i := 0; i < 12; i++ {
		raw[i] = byte(i + 1)
	}
	LittleEndian.PutUint32(raw[12:16], 42)
	for i := 0; i < 16; i++ {
		raw[16+i] = byte(0x80 + i)
	}

	h, err := ParseEncVideoHeader(raw)
	require.NoError(err)
	assert.Equal(uint32(42), h.FrameNumber)
	assert.Equal(byte(1), h.IV[0])
	assert.Equal(byte(0x80), h.Tag[0])
}

func TestControlPacketTableForGenerationGen3UsesLegacyTypes(t *testing.T) {
	assert := assert.New(t)

	table := ControlPacketTableForGeneration(3)
	assert.Equal(uint16(0x1407), table.Types[CtrlIdxRequestIDRFrame])
	assert.Equal(24, table.PayloadLengths[CtrlIdxInvalidateRefFrames])
	_, hasStartA := table.Types[CtrlIdxStartA]
	assert.False(hasStartA)
}

func TestControlPacketTableForGenerationGen7HasTerminationAndRumble(t *testing.T) {
	assert := assert.New(t)

	table := ControlPacketTableForGeneration(7)
	assert.Equal(uint16(0x0100), table.Types[CtrlIdxTermination])
	assert.Equal(uint16(0x010b), table.Types[CtrlIdxRumbleData])
	assert.Equal(uint16(0x0206), table.Types[CtrlIdxInputData])
}

func TestNetfloatRoundTrip(t *testing.T) {
	assert := assert.New(t)

	original := float32(123.456)
	b := FloatToNetfloat(original)
	assert.InDelta(original, NetfloatToFloat(b), 0.001)
}
