package types

import "time"

// VideoFormat identifies the negotiated video codec, using the same bit
// layout Limelight.h defines so a caller's SupportedVideoFormats mask can
// be tested directly against the VideoFormatMask* constants.
type VideoFormat int

const (
	VideoFormatH264 VideoFormat = 0x0001
	VideoFormatH265 VideoFormat = 0x0100
	VideoFormatAV1  VideoFormat = 0x1000

	VideoFormatMaskH264 = 0x000F
	VideoFormatMaskH265 = 0x0F00
	VideoFormatMaskAV1  = 0xF000
)

// FrameType distinguishes decode units that carry a full reference frame
// (and its parameter sets) from those that only carry predicted slices.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeIDR               // Carries SPS/PPS/VPS plus a keyframe slice.
	FrameTypePFrames           // Predicted slices only; needs a prior reference frame.
)

// BufferType tags the semantic role of a BufferDescriptor entry within a
// decode unit's buffer chain, so a decoder can tell parameter sets apart
// from slice data without re-parsing NAL headers.
type BufferType int

const (
	BufferTypePicData BufferType = iota
	BufferTypeSPS
	BufferTypePPS
	BufferTypeVPS
)

// BufferDescriptor describes one buffer (a NAL unit, typically) within a DecodeUnit.
type BufferDescriptor struct {
	Type   BufferType
	Data   []byte
	Offset int
	Length int
}

// DecodeUnit is one reassembled, depacketized video frame ready for a
// decoder's SubmitDecodeUnit.
type DecodeUnit struct {
	BufferList         []BufferDescriptor
	FrameNumber        uint32
	FrameType          FrameType
	FullLength         int
	ReceiveTimeMs      uint64
	EnqueueTimeMs      uint64
	PresentationTimeMs uint64
	ColorSpace         int
	HDRActive          bool
}

// SubmitDecodeUnit return codes (Limelight.h's DR_OK / DR_NEED_IDR): a
// decoder returns DRNeedIDR when it hit a decode error and needs the
// stream to request a fresh IDR frame rather than waiting for natural
// loss-recovery to notice.
const (
	DROk      = 0
	DRNeedIDR = -1
)

// RTPVideoStats accumulates the counters GetVideoStats reports for the
// lifetime of a video.Stream.
type RTPVideoStats struct {
	ReceivedPackets    uint32
	DroppedPackets     uint32
	RecoveredPackets   uint32
	TotalFrames        uint32
	ReceivedFrames     uint32
	DroppedFrames      uint32
	RequestedIDRFrames uint32

	SubmittedFrames      uint32
	NetworkDroppedFrames uint32
	TotalReassemblyTime  uint32

	MeasurementStartTime time.Time
}

// Decoder renderer capability flags a DecoderCallbacks implementation
// reports from Capabilities(), matching Limelight.h's CAPABILITY_* bits.
const (
	CapabilityDirectSubmit                   = 0x01
	CapabilityPullRenderer                   = 0x02
	CapabilityReferenceFrameInvalidationAVC  = 0x04
	CapabilityReferenceFrameInvalidationHEVC = 0x08
	CapabilityReferenceFrameInvalidationAV1  = 0x10
	CapabilitySlowOpusDecoder                = 0x20
	CapabilitySupportsArbitraryAudioDuration = 0x40
)

// EncodedSliceCountFromCapabilities extracts the requested slices-per-frame
// count that a decoder advertises in the top byte of its capability flags.
func EncodedSliceCountFromCapabilities(capabilities int) uint8 {
	return uint8(capabilities >> 24)
}

// DecoderCallbacks is the video decoder surface a host application
// implements; Setup/Start/Stop/Cleanup bracket the stream's lifetime and
// SubmitDecodeUnit is called once per reassembled frame (or queued for a
// decoderLoop to drain, depending on the DirectSubmit/PullRenderer bits
// Capabilities reports).
type DecoderCallbacks interface {
	Setup(format VideoFormat, width, height, fps int, context interface{}, flags int) error
	Start()
	Stop()
	Cleanup()

	// SubmitDecodeUnit hands off a reassembled frame; returns DROk or
	// DRNeedIDR.
	SubmitDecodeUnit(unit *DecodeUnit) int

	Capabilities() int
}
