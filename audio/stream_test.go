package audio

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonparty/moonlight-go/protocol"
	"github.com/moonparty/moonlight-go/types"
)

type fakeAudioCallbacks struct {
	samples [][]byte
}

func (f *fakeAudioCallbacks) Init(cfg types.AudioConfiguration, opusConfig *types.OpusConfig, _ interface{}, flags int) error {
	return nil
}
func (f *fakeAudioCallbacks) Start()   {}
func (f *fakeAudioCallbacks) Stop()    {}
func (f *fakeAudioCallbacks) Cleanup() {}
func (f *fakeAudioCallbacks) DecodeAndPlaySample(data []byte) {
	f.samples = append(f.samples, data)
}
func (f *fakeAudioCallbacks) Capabilities() int { return 0 }

func newTestAudioStream(cb types.AudioCallbacks) *Stream {
	s := NewStream(types.StreamConfiguration{}, cb)
	s.fecQueue = newFECAudioQueue()
	s.packetDuration = 5
	return s
}

func dataShardRTP(seq uint16, payload []byte) []byte {
	pkt := &rtp.Packet{
		Header:  rtp.Header{Version: 2, SequenceNumber: seq, Timestamp: 100, SSRC: 1, PayloadType: 97},
		Payload: payload,
	}
	raw, _ := pkt.Marshal()
	return raw
}

func TestHandleDataShardDeliversInOrderPacketImmediately(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	cb := &fakeAudioCallbacks{}
	s := newTestAudioStream(cb)

	s.handlePacket(dataShardRTP(0, []byte{0xAA}))

	require.Len(cb.samples, 1)
	assert.Equal([]byte{0xAA}, cb.samples[0])
	assert.Equal(uint32(1), s.GetStats().ReceivedPackets)
}

func TestHandleDataShardConcealsGapBeforeDelivering(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	cb := &fakeAudioCallbacks{}
	s := newTestAudioStream(cb)

	s.handlePacket(dataShardRTP(0, []byte{0x01}))
	// Sequence 2 skips 1: expect a nil concealment sample before delivery.
	s.handlePacket(dataShardRTP(2, []byte{0x02}))

	require.Len(cb.samples, 3)
	assert.Nil(cb.samples[1])
	assert.Equal([]byte{0x02}, cb.samples[2])
	assert.Equal(uint32(1), s.GetStats().DroppedPackets)
}

func TestHandleFECShardRecoversAndDeliversBlock(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	cb := &fakeAudioCallbacks{}
	s := newTestAudioStream(cb)

	// Feed data shards 1,2,3 of base sequence 0, withhold shard 0; the
	// FEC parity shard should recover it and flush the whole block.
	s.handlePacket(dataShardRTP(1, []byte{0x11}))
	s.handlePacket(dataShardRTP(2, []byte{0x22}))
	s.handlePacket(dataShardRTP(3, []byte{0x33}))

	fecHdr := make([]byte, protocol.AudioFECHeaderSize)
	fecHdr[0] = 0 // FEC shard index 0 (first parity shard)
	fecHdr[1] = 127
	protocol.ByteOrder.PutUint16(fecHdr[2:4], 0) // base sequence number
	parityPayload := append(fecHdr, []byte{0x11}...)

	pkt := &rtp.Packet{
		Header:  rtp.Header{Version: 2, SequenceNumber: 200, PayloadType: 127},
		Payload: parityPayload,
	}
	raw, err := pkt.Marshal()
	require.NoError(err)

	s.handlePacket(raw)

	assert.NotZero(s.GetStats().RecoveredPackets)
	assert.NotEmpty(cb.samples)
}

func TestBumpDroppedOnUnparseablePacket(t *testing.T) {
	assert := assert.New(t)

	cb := &fakeAudioCallbacks{}
	s := newTestAudioStream(cb)

	s.handlePacket([]byte{0x01})
	assert.Equal(uint32(1), s.GetStats().DroppedPackets)
}
