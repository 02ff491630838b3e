package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodedSliceCountFromCapabilitiesExtractsTopByte(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint8(0), EncodedSliceCountFromCapabilities(CapabilityDirectSubmit))
	assert.Equal(uint8(4), EncodedSliceCountFromCapabilities(4<<24|CapabilityPullRenderer))
	assert.Equal(uint8(0xFF), EncodedSliceCountFromCapabilities(0xFF<<24))
}
