package video

import (
	"testing"

	"github.com/moonparty/moonlight-go/types"
	"github.com/stretchr/testify/assert"
)

func TestIsReferenceFrameStart(t *testing.T) {
	assert := assert.New(t)

	assert.True(isReferenceFrameStart(nalH264IDRSlice))
	assert.True(isReferenceFrameStart(0x26)) // H.265 IRAP, even
	assert.False(isReferenceFrameStart(0x27)) // odd, not IRAP
	assert.False(isReferenceFrameStart(nalH264SPS))
}

func TestIsIdrFrameStart(t *testing.T) {
	assert := assert.New(t)

	assert.True(isIdrFrameStart(nalH264SPS))
	assert.True(isIdrFrameStart(nalH265VPS))
	assert.False(isIdrFrameStart(nalH264IDRSlice))
}

func TestBufferTypeForNAL(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(types.BufferTypeSPS, bufferTypeForNAL(nalH264SPS))
	assert.Equal(types.BufferTypePPS, bufferTypeForNAL(nalH264PPS))
	assert.Equal(types.BufferTypeVPS, bufferTypeForNAL(nalH265VPS))
	assert.Equal(types.BufferTypePicData, bufferTypeForNAL(nalH264IDRSlice))
}

func TestIsStartCode(t *testing.T) {
	assert := assert.New(t)

	n, ok := isStartCode([]byte{0, 0, 0, 1, 0x67}, 0)
	assert.True(ok)
	assert.Equal(4, n)

	n, ok = isStartCode([]byte{0, 0, 1, 0x67}, 0)
	assert.True(ok)
	assert.Equal(3, n)

	_, ok = isStartCode([]byte{1, 2, 3}, 0)
	assert.False(ok)
}

func TestSplitNALUnitsBasic(t *testing.T) {
	assert := assert.New(t)

	data := []byte{0, 0, 0, 1, 0x67, 0xAA, 0xBB, 0, 0, 1, 0x68, 0xCC}
	units := splitNALUnits(data)

	if assert.Len(units, 2) {
		assert.Equal([]byte{0x67, 0xAA, 0xBB}, units[0])
		assert.Equal([]byte{0x68, 0xCC}, units[1])
	}
}

func TestSplitNALUnitsHandlesTrailingPadding(t *testing.T) {
	assert := assert.New(t)

	data := []byte{0, 0, 0, 1, 0x67, 0xAA, 0, 0, 0}
	units := splitNALUnits(data)

	if assert.Len(units, 1) {
		assert.Equal([]byte{0x67, 0xAA}, units[0])
	}
}

func TestSplitNALUnitsNoStartCodeReturnsEmpty(t *testing.T) {
	assert := assert.New(t)

	units := splitNALUnits([]byte{1, 2, 3, 4})
	assert.Len(units, 0)
}
