package video

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/moonparty/moonlight-go/internal/reorder"
	"github.com/moonparty/moonlight-go/protocol"
	"github.com/moonparty/moonlight-go/types"
)

type fakeDecoder struct {
	submitted    []*types.DecodeUnit
	capabilities int
	nextReturn   int
}

func (d *fakeDecoder) Setup(format types.VideoFormat, width, height, fps int, _ interface{}, flags int) error {
	return nil
}
func (d *fakeDecoder) Start()   {}
func (d *fakeDecoder) Stop()    {}
func (d *fakeDecoder) Cleanup() {}
func (d *fakeDecoder) SubmitDecodeUnit(unit *types.DecodeUnit) int {
	d.submitted = append(d.submitted, unit)
	return d.nextReturn
}
func (d *fakeDecoder) Capabilities() int { return d.capabilities }

// fakeFeedback stands in for control.Stream in tests that need to
// observe loss reporting and IDR requests without a real control channel.
type fakeFeedback struct {
	frameStats       []frameStatCall
	invalidateRanges [][2]uint32
	idrRequests      int
	idrRequestErr    error
}

type frameStatCall struct {
	frameIndex uint32
	isGood     bool
}

func (f *fakeFeedback) UpdateFrameStats(frameIndex uint32, isGood bool) {
	f.frameStats = append(f.frameStats, frameStatCall{frameIndex, isGood})
}

func (f *fakeFeedback) QueueInvalidateReferenceFrames(start, end uint32) {
	f.invalidateRanges = append(f.invalidateRanges, [2]uint32{start, end})
}

func (f *fakeFeedback) RequestIDRFrame() error {
	f.idrRequests++
	return f.idrRequestErr
}

func newTestStream(decoder types.DecoderCallbacks) *Stream {
	s := NewStream(types.StreamConfiguration{PacketSize: 1024}, decoder, zap.NewNop(), nil)
	// A negative time bound forces every packet out of the reorder window
	// on the same call that queues it, so these tests exercise the
	// FEC/depacketizer handoff deterministically rather than waiting on
	// the real reorder grace period.
	s.reorderQ = reorder.New(reorder.DefaultMaxSize, -1)
	s.fecAsm = newFECAssembler()
	s.depak = newDepacketizer()
	s.frameQueue = make(chan *types.DecodeUnit, 4)
	return s
}

func newTestStreamWithFeedback(decoder types.DecoderCallbacks, feedback ControlFeedback) *Stream {
	s := NewStream(types.StreamConfiguration{PacketSize: 1024}, decoder, zap.NewNop(), feedback)
	s.reorderQ = reorder.New(reorder.DefaultMaxSize, -1)
	s.fecAsm = newFECAssembler()
	s.depak = newDepacketizer()
	s.frameQueue = make(chan *types.DecodeUnit, 4)
	return s
}

func buildVideoRTPPacket(t *testing.T, seq uint16, frameIndex uint32, dataShards, percent, shardIdx int, shard []byte) []byte {
	t.Helper()

	hdr := make([]byte, protocol.NVVideoPacketSize)
	protocol.LittleEndian.PutUint32(hdr[0:4], 1) // streamPacketIndex
	protocol.LittleEndian.PutUint32(hdr[4:8], frameIndex)
	hdr[8] = protocol.FlagContainsPicData | protocol.FlagSOF | protocol.FlagEOF
	protocol.LittleEndian.PutUint32(hdr[12:16], protocol.MakeFECInfo(dataShards, percent, shardIdx))

	payload := append(hdr, shard...)

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: seq,
			Timestamp:      1000,
			SSRC:           0xAABBCCDD,
		},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)
	return raw
}

func TestHandlePacketDeliversSingleShardIdrFrame(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	decoder := &fakeDecoder{capabilities: types.CapabilityDirectSubmit}
	s := newTestStream(decoder)

	idr := append([]byte{0, 0, 0, 1, nalH264SPS, 0xAA}, []byte{0, 0, 0, 1, nalH264IDRSlice, 0xCC}...)
	raw := buildVideoRTPPacket(t, 0, 1, 1, 0, 0, idr)

	s.handlePacket(raw)

	require.Len(decoder.submitted, 1)
	assert.Equal(types.FrameTypeIDR, decoder.submitted[0].FrameType)

	stats := s.GetStats()
	assert.Equal(uint32(1), stats.ReceivedPackets)
	assert.Equal(uint32(1), stats.ReceivedFrames)
	assert.Equal(uint32(1), stats.SubmittedFrames)
}

func TestHandlePacketDropsUnparseablePacket(t *testing.T) {
	assert := assert.New(t)

	decoder := &fakeDecoder{capabilities: types.CapabilityDirectSubmit}
	s := newTestStream(decoder)

	s.handlePacket([]byte{0x01, 0x02})

	assert.Empty(decoder.submitted)
	stats := s.GetStats()
	assert.Equal(uint32(0), stats.ReceivedPackets)
}

func TestRequestIDRFrameResetsDepacketizerAndCountsStat(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	decoder := &fakeDecoder{capabilities: types.CapabilityDirectSubmit}
	s := newTestStream(decoder)

	idr := append([]byte{0, 0, 0, 1, nalH264SPS, 0xAA}, []byte{0, 0, 0, 1, nalH264IDRSlice, 0xCC}...)
	raw := buildVideoRTPPacket(t, 0, 1, 1, 0, 0, idr)
	s.handlePacket(raw)
	require.False(s.depak.waitingForIdrFrame)

	s.RequestIDRFrame()
	assert.True(s.depak.waitingForIdrFrame)
	assert.Equal(uint32(1), s.GetStats().RequestedIDRFrames)
}

func TestRequestIDRFrameNotifiesFeedback(t *testing.T) {
	assert := assert.New(t)

	decoder := &fakeDecoder{capabilities: types.CapabilityDirectSubmit}
	feedback := &fakeFeedback{}
	s := newTestStreamWithFeedback(decoder, feedback)

	s.RequestIDRFrame()
	assert.Equal(1, feedback.idrRequests)
}

func TestSupersededFrameReportsLossToFeedback(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	decoder := &fakeDecoder{capabilities: types.CapabilityDirectSubmit}
	feedback := &fakeFeedback{}
	s := newTestStreamWithFeedback(decoder, feedback)

	idr := append([]byte{0, 0, 0, 1, nalH264SPS, 0xAA}, []byte{0, 0, 0, 1, nalH264IDRSlice, 0xCC}...)
	s.handlePacket(buildVideoRTPPacket(t, 0, 1, 1, 0, 0, idr))
	s.handlePacket(buildVideoRTPPacket(t, 1, 2, 1, 0, 0, idr))

	// Frame 3 needs two data shards; only one arrives before frame 4
	// supersedes it, so it must be reported as lost.
	s.handlePacket(buildVideoRTPPacket(t, 2, 3, 2, 0, 0, idr))
	s.handlePacket(buildVideoRTPPacket(t, 3, 4, 1, 0, 0, idr))

	require.NotEmpty(feedback.invalidateRanges)
	assert.Equal([2]uint32{3, 3}, feedback.invalidateRanges[0])

	found := false
	for _, c := range feedback.frameStats {
		if c.frameIndex == 3 && !c.isGood {
			found = true
		}
	}
	assert.True(found, "expected a failed UpdateFrameStats call for lost frame 3")
}

func TestQueueOverflowTriggersDropStateAndIDR(t *testing.T) {
	assert := assert.New(t)

	decoder := &fakeDecoder{capabilities: 0} // force the queued (non-direct-submit) path
	feedback := &fakeFeedback{}
	s := newTestStreamWithFeedback(decoder, feedback)
	s.frameQueue = make(chan *types.DecodeUnit, 1)
	s.frameQueue <- &types.DecodeUnit{} // fill the queue so the next submit overflows

	s.submitFrame(&types.DecodeUnit{})

	assert.Equal(uint32(1), s.GetStats().DroppedFrames)
	assert.Equal(1, feedback.idrRequests)
}

func TestDecoderNeedIDRResponseTriggersIDRRequest(t *testing.T) {
	assert := assert.New(t)

	decoder := &fakeDecoder{capabilities: types.CapabilityDirectSubmit, nextReturn: types.DRNeedIDR}
	feedback := &fakeFeedback{}
	s := newTestStreamWithFeedback(decoder, feedback)

	s.submitFrame(&types.DecodeUnit{})

	assert.Equal(1, feedback.idrRequests)
}
