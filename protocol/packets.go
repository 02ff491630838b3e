// Package protocol defines the wire protocol structures for Moonlight streaming.
package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

// Byte order for protocol messages
var ByteOrder = binary.BigEndian
var LittleEndian = binary.LittleEndian

// RTP packet header
type RTPHeader struct {
	Header         uint8  // Version, padding, extension, CSRC count
	PacketType     uint8  // Marker + payload type
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
}

const (
	RTPHeaderSize    = 12
	MaxRTPHeaderSize = 16
)

// AudioFECHeader prefixes each audio RTP payload (spec RtpAudioQueue.h's
// AUDIO_FEC_HEADER), identifying which shard of its FEC block a packet
// carries.
type AudioFECHeader struct {
	FECShardIndex    uint8
	PayloadType      uint8
	BaseSequenceNumber uint16
	BaseTimestamp    uint32
	SSRC             uint32
}

const AudioFECHeaderSize = 1 + 1 + 2 + 4 + 4

// ParseAudioFECHeader reads the 12-byte AUDIO_FEC_HEADER from the front
// of an audio RTP payload.
func ParseAudioFECHeader(b []byte) (AudioFECHeader, error) {
	if len(b) < AudioFECHeaderSize {
		return AudioFECHeader{}, errors.New("protocol: short audio FEC header")
	}
	return AudioFECHeader{
		FECShardIndex:      b[0],
		PayloadType:        b[1],
		BaseSequenceNumber: binary.BigEndian.Uint16(b[2:4]),
		BaseTimestamp:      binary.BigEndian.Uint32(b[4:8]),
		SSRC:               binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// NV input packet header
type NVInputHeader struct {
	Size  uint32 // Big-endian
	Magic uint32 // Little-endian
}

// Keyboard packet
type KeyboardPacket struct {
	Header    NVInputHeader
	Flags     uint8
	KeyCode   uint16
	Modifiers uint8
	Zero      uint8
}

// Relative mouse move packet
type RelMouseMovePacket struct {
	Header NVInputHeader
	DeltaX int16 // Big-endian
	DeltaY int16 // Big-endian
}

// Absolute mouse move packet
type AbsMouseMovePacket struct {
	Header NVInputHeader
	X      uint16 // Big-endian
	Y      uint16 // Big-endian
	Unused uint16
	Width  uint16 // Big-endian
	Height uint16 // Big-endian
}

// Mouse button packet
type MouseButtonPacket struct {
	Header NVInputHeader
	Button uint8
}

// Scroll packet
type ScrollPacket struct {
	Header     NVInputHeader
	ScrollAmt1 int16 // Big-endian
	ScrollAmt2 int16 // Big-endian
	Zero       uint16
}

// Horizontal scroll packet (Sunshine extension)
type HScrollPacket struct {
	Header       NVInputHeader
	ScrollAmount int16 // Big-endian
}

// Controller packet (legacy)
type ControllerPacket struct {
	Header       NVInputHeader
	HeaderB      uint16
	ButtonFlags  uint16
	LeftTrigger  uint8
	RightTrigger uint8
	LeftStickX   int16
	LeftStickY   int16
	RightStickX  int16
	RightStickY  int16
	TailA        uint32
	TailB        uint16
}

// Multi-controller packet
type MultiControllerPacket struct {
	Header           NVInputHeader
	HeaderB          uint16
	ControllerNumber uint16
	ActiveGamepadMask uint16
	MidB             uint16
	ButtonFlags      uint16
	LeftTrigger      uint8
	RightTrigger     uint8
	LeftStickX       int16
	LeftStickY       int16
	RightStickX      int16
	RightStickY      int16
	TailA            uint16
	ButtonFlags2     uint16
	TailB            uint16
}

// Haptics packet (enable rumble)
type HapticsPacket struct {
	Header NVInputHeader
	Enable uint16
}

// Touch packet (Sunshine extension)
type TouchPacket struct {
	Header           NVInputHeader
	EventType        uint8
	Zero1            [3]byte
	PointerID        uint32
	X                [4]byte // netfloat (little-endian float)
	Y                [4]byte
	PressureOrDist   [4]byte
	ContactAreaMajor [4]byte
	ContactAreaMinor [4]byte
	Rotation         uint16
	Zero2            [2]byte
}

// Pen packet (Sunshine extension)
type PenPacket struct {
	Header           NVInputHeader
	EventType        uint8
	ToolType         uint8
	PenButtons       uint8
	Zero1            byte
	X                [4]byte // netfloat
	Y                [4]byte
	PressureOrDist   [4]byte
	Rotation         uint16
	Tilt             uint8
	Zero2            byte
	ContactAreaMajor [4]byte
	ContactAreaMinor [4]byte
}

// Controller arrival packet (Sunshine extension)
type ControllerArrivalPacket struct {
	Header               NVInputHeader
	ControllerNumber     uint8
	Type                 uint8
	Capabilities         uint16
	SupportedButtonFlags uint32
}

// Controller touch packet (Sunshine extension)
type ControllerTouchPacket struct {
	Header           NVInputHeader
	ControllerNumber uint8
	EventType        uint8
	Zero             [2]byte
	PointerID        uint32
	X                [4]byte // netfloat
	Y                [4]byte
	Pressure         [4]byte
}

// Controller motion packet (Sunshine extension)
type ControllerMotionPacket struct {
	Header           NVInputHeader
	ControllerNumber uint8
	MotionType       uint8
	Zero             [2]byte
	X                [4]byte // netfloat
	Y                [4]byte
	Z                [4]byte
}

// Controller battery packet (Sunshine extension)
type ControllerBatteryPacket struct {
	Header            NVInputHeader
	ControllerNumber  uint8
	BatteryState      uint8
	BatteryPercentage uint8
	Zero              byte
}

// UTF-8 text packet
type UTF8TextPacket struct {
	Header NVInputHeader
	Text   []byte
}

// Magic numbers for input packets
const (
	KeyboardMagicDown = 0x03
	KeyboardMagicUp   = 0x04

	MouseMoveRelMagic     = 0x06
	MouseMoveRelMagicGen5 = 0x07
	MouseMoveAbsMagic     = 0x05
	MouseButtonDownMagic  = 0x07
	MouseButtonUpMagic    = 0x08
	MouseButtonDownGen5   = 0x08
	MouseButtonUpGen5     = 0x09

	ScrollMagic     = 0x09
	ScrollMagicGen5 = 0x0A

	ControllerMagic          = 0x0d
	MultiControllerMagic     = 0x0e
	MultiControllerMagicGen5 = 0x1e

	EnableHapticsMagic = 0x55
	UTF8TextEventMagic = 0x56

	// Sunshine extensions
	SSHScrollMagic            = 0x57
	SSTouchMagic              = 0x58
	SSPenMagic                = 0x59
	SSControllerArrivalMagic  = 0x5a
	SSControllerTouchMagic    = 0x5b
	SSControllerMotionMagic   = 0x5c
	SSControllerBatteryMagic  = 0x5d
)

// Controller packet constants
const (
	ControllerHeaderB = 0x1400
	ControllerTailA   = 0x00140000
	ControllerTailB   = 0x0014

	MultiControllerHeaderB = 0x001c
	MultiControllerMidB    = 0x0014
	MultiControllerTailA   = 0x0000
	MultiControllerTailB   = 0x0014
)

// ENet packet flags
const (
	ENetPacketFlagReliable   = 1 << 0
	ENetPacketFlagUnsequenced = 1 << 1
	ENetPacketFlagNoAllocate = 1 << 2
)

// Control stream channel IDs
const (
	CtrlChannelGeneric    = 0
	CtrlChannelUrgent     = 1
	CtrlChannelKeyboard   = 2
	CtrlChannelMouse      = 3
	CtrlChannelGamepadBase = 4 // Channels 4-19 for gamepads
	CtrlChannelSensorBase = 20 // Channels 20-35 for motion sensors
	CtrlChannelTouch      = 36
	CtrlChannelPen        = 37
	CtrlChannelUTF8       = 38
	CtrlChannelCount      = 39
)

// ControlPacketIndex names the logical slot of a control-stream message
// within a generation's packet-type/payload-length table.
type ControlPacketIndex int

const (
	CtrlIdxStartA ControlPacketIndex = iota
	CtrlIdxRequestIDRFrame
	CtrlIdxStartB
	CtrlIdxInvalidateRefFrames
	CtrlIdxLossStats
	CtrlIdxFrameStats
	CtrlIdxInputData
	CtrlIdxRumbleData
	CtrlIdxTermination
)

// ControlPacketTable holds the per-generation packet-type numbers,
// preconstructed fixed payloads, and payload lengths for the control
// stream. Gen 3/4 have no Start A entry and carry a dedicated
// RequestIDRFrame entry instead; entries with no meaning for a
// generation are absent from the maps (so read as zero) and must not be
// sent.
type ControlPacketTable struct {
	Types               map[ControlPacketIndex]uint16
	PayloadLengths      map[ControlPacketIndex]int
	PreconstructedPayload map[ControlPacketIndex][]byte
}

// ControlPacketTableForGeneration returns the wire packet-type table for
// the given AppVersion major generation, matching ControlStream.c's
// packetTypesGen3/4/5/7 tables exactly.
func ControlPacketTableForGeneration(gen int) ControlPacketTable {
	switch {
	case gen == 3:
		return ControlPacketTable{
			Types: map[ControlPacketIndex]uint16{
				CtrlIdxRequestIDRFrame:     0x1407,
				CtrlIdxStartB:              0x1410,
				CtrlIdxInvalidateRefFrames: 0x1404,
				CtrlIdxLossStats:           0x140c,
				CtrlIdxFrameStats:          0x1417,
			},
			PayloadLengths: map[ControlPacketIndex]int{
				CtrlIdxRequestIDRFrame:     2,
				CtrlIdxStartB:              4,
				CtrlIdxInvalidateRefFrames: 24,
				CtrlIdxLossStats:           32,
				CtrlIdxFrameStats:          64,
			},
			PreconstructedPayload: map[ControlPacketIndex][]byte{
				CtrlIdxRequestIDRFrame: {0, 0},
				CtrlIdxStartB:          {0, 0, 0, 0xa},
			},
		}
	case gen == 4:
		return ControlPacketTable{
			Types: map[ControlPacketIndex]uint16{
				CtrlIdxRequestIDRFrame:     0x0606,
				CtrlIdxStartB:              0x0609,
				CtrlIdxInvalidateRefFrames: 0x0604,
				CtrlIdxLossStats:           0x060a,
				CtrlIdxFrameStats:          0x0611,
			},
			PayloadLengths: map[ControlPacketIndex]int{
				CtrlIdxRequestIDRFrame:     2,
				CtrlIdxStartB:              1,
				CtrlIdxInvalidateRefFrames: 24,
				CtrlIdxLossStats:           32,
				CtrlIdxFrameStats:          64,
			},
			PreconstructedPayload: map[ControlPacketIndex][]byte{
				CtrlIdxRequestIDRFrame: {0, 0},
				CtrlIdxStartB:          {0},
			},
		}
	case gen == 5:
		return ControlPacketTable{
			Types: map[ControlPacketIndex]uint16{
				CtrlIdxStartA:              0x0305,
				CtrlIdxStartB:              0x0307,
				CtrlIdxInvalidateRefFrames: 0x0301,
				CtrlIdxLossStats:           0x0201,
				CtrlIdxFrameStats:          0x0204,
				CtrlIdxInputData:           0x0207,
			},
			PayloadLengths: map[ControlPacketIndex]int{
				CtrlIdxStartA:              2,
				CtrlIdxStartB:              1,
				CtrlIdxInvalidateRefFrames: 24,
				CtrlIdxLossStats:           32,
				CtrlIdxFrameStats:          80,
			},
			PreconstructedPayload: map[ControlPacketIndex][]byte{
				CtrlIdxStartA: {0, 0},
				CtrlIdxStartB: {0},
			},
		}
	default: // Gen 6/7+
		return ControlPacketTable{
			Types: map[ControlPacketIndex]uint16{
				CtrlIdxStartA:              0x0305,
				CtrlIdxStartB:              0x0307,
				CtrlIdxInvalidateRefFrames: 0x0301,
				CtrlIdxLossStats:           0x0201,
				CtrlIdxFrameStats:          0x0204,
				CtrlIdxInputData:           0x0206,
				CtrlIdxRumbleData:          0x010b,
				CtrlIdxTermination:         0x0100,
			},
			PayloadLengths: map[ControlPacketIndex]int{
				CtrlIdxStartA:              2,
				CtrlIdxStartB:              1,
				CtrlIdxInvalidateRefFrames: 24,
				CtrlIdxLossStats:           32,
				CtrlIdxFrameStats:          80,
			},
			PreconstructedPayload: map[ControlPacketIndex][]byte{
				CtrlIdxStartA: {0, 0},
				CtrlIdxStartB: {0},
			},
		}
	}
}

// LossStatsIntervalMs matches ControlStream.c's LOSS_REPORT_INTERVAL_MS.
const LossStatsIntervalMs = 50

// Video encryption header (spec Video.h ENC_VIDEO_HEADER): iv, then
// frameNumber, then the GCM tag, in that order on the wire.
type EncVideoHeader struct {
	IV          [12]byte
	FrameNumber uint32
	Tag         [16]byte
}

const EncVideoHeaderSize = 12 + 4 + 16

// NVVideoPacket is the 16-byte sub-header prefixing every video RTP
// packet payload (spec Video.h NV_VIDEO_PACKET).
type NVVideoPacket struct {
	StreamPacketIndex uint32
	FrameIndex        uint32
	Flags             uint8
	Reserved          uint8
	MultiFecFlags     uint8
	MultiFecBlocks    uint8
	FECInfo           uint32
}

const NVVideoPacketSize = 16

// NV_VIDEO_PACKET flags
const (
	FlagContainsPicData = 0x1
	FlagEOF             = 0x2
	FlagSOF             = 0x4
	FlagExtension       = 0x10
)

// FEC info bit layout, from RtpFecQueue.c::reconstructFrame: these exact
// shifts, not the looser "shards<<20|pct<<4|idx" gloss.
func FECInfoDataShards(fecInfo uint32) int {
	return int(((fecInfo & 0xFFF00000) >> 20) / 4)
}

func FECInfoPercentage(fecInfo uint32) int {
	return int((fecInfo & 0xFF0) >> 4)
}

func FECInfoIndex(fecInfo uint32) int {
	return int((fecInfo & 0xFF000) >> 12)
}

func MakeFECInfo(dataShards, percentage, index int) uint32 {
	return uint32(dataShards*4)<<20 | uint32(percentage)<<4 | uint32(index)<<12
}

// AppVersionAtLeast reports whether the negotiated application version
// v (major, minor, patch, build) is at or above major.minor.build,
// used throughout the protocol to gate generation-specific wire
// quirks.
func AppVersionAtLeast(v [4]int, major, minor, build int) bool {
	if v[0] > major {
		return true
	}
	if v[0] < major {
		return false
	}
	if v[1] > minor {
		return true
	}
	if v[1] < minor {
		return false
	}
	return v[2] >= build
}

// ParseNVVideoPacket reads the 16-byte sub-header from the front of a
// video RTP payload.
func ParseNVVideoPacket(b []byte) (NVVideoPacket, error) {
	if len(b) < NVVideoPacketSize {
		return NVVideoPacket{}, errors.New("protocol: short video packet header")
	}
	return NVVideoPacket{
		StreamPacketIndex: binary.LittleEndian.Uint32(b[0:4]),
		FrameIndex:        binary.LittleEndian.Uint32(b[4:8]),
		Flags:             b[8],
		Reserved:          b[9],
		MultiFecFlags:     b[10],
		MultiFecBlocks:    b[11],
		FECInfo:           binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// ParseEncVideoHeader reads the 32-byte AES-GCM video header (iv,
// frameNumber, tag) from the front of an encrypted video payload.
func ParseEncVideoHeader(b []byte) (EncVideoHeader, error) {
	if len(b) < EncVideoHeaderSize {
		return EncVideoHeader{}, errors.New("protocol: short video encryption header")
	}
	var h EncVideoHeader
	copy(h.IV[:], b[0:12])
	h.FrameNumber = binary.LittleEndian.Uint32(b[12:16])
	copy(h.Tag[:], b[16:32])
	return h, nil
}

// Control stream TCP packet header
type NVCtrlTCPHeader struct {
	Type          uint16
	PayloadLength uint16
}

// Control stream ENet packet header (V1)
type NVCtrlENetHeaderV1 struct {
	Type uint16
}

// Control stream ENet packet header (V2)
type NVCtrlENetHeaderV2 struct {
	Type          uint16
	PayloadLength uint16
}

// Control stream encrypted packet header
type NVCtrlEncryptedHeader struct {
	EncryptedHeaderType uint16 // Always 0x0001
	Length              uint16 // sizeof(seq) + 16 byte tag + secondary header and data
	Seq                 uint32 // Monotonically increasing sequence number
}

// Frame FEC status (Sunshine extension)
type FrameFECStatus struct {
	FrameIndex      uint32
	HighestRecvIdx  uint32
	NextContiguousIdx uint32
	FirstShardIdx   uint32
	NumShards       uint8
	NumParity       uint8
	NumRecv         uint8
	NumRecovery     uint8
	TotalDataErrors uint8
	TotalParityErrors uint8
	FullyRecv       uint8
	FECPercentage   uint8
	RecvTimeMs      uint16
	RecvFirstMs     uint16
}

// Wheel delta matches Windows WHEEL_DELTA
const WheelDelta = 120

// AES-GCM constants
const AESGCMTagLength = 16

// FloatToNetfloat converts a float32 to little-endian bytes
func FloatToNetfloat(f float32) [4]byte {
	var b [4]byte
	bits := math.Float32bits(f)
	LittleEndian.PutUint32(b[:], bits)
	return b
}

// NetfloatToFloat converts little-endian bytes to float32
func NetfloatToFloat(b [4]byte) float32 {
	bits := LittleEndian.Uint32(b[:])
	return math.Float32frombits(bits)
}
