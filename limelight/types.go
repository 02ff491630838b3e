// Package limelight provides the core types and interfaces for the Moonlight streaming protocol.
// This is a Go port of moonlight-common-c.
package limelight

import (
	"github.com/moonparty/moonlight-go/types"
)

// Re-exported so callers of Client's public API (see client.go) don't
// need a second import for the handful of types that API surfaces.
// Anything Client itself doesn't take or return — button/key/touch/pen
// constants, for instance — lives only in the types package; SendController
// and friends already take plain ints rather than named constants.
type (
	Stage               = types.Stage
	ConnectionStatus    = types.ConnectionStatus
	VideoFormat         = types.VideoFormat
	AudioConfiguration  = types.AudioConfiguration
	MotionType          = types.MotionType
	FrameType           = types.FrameType
	StreamConfiguration = types.StreamConfiguration
	ServerInformation   = types.ServerInformation
	HDRMetadata         = types.HDRMetadata
	Chromaticity        = types.Chromaticity
	OpusConfig          = types.OpusConfig
	DecodeUnit          = types.DecodeUnit
	BufferDescriptor    = types.BufferDescriptor
	RTPVideoStats       = types.RTPVideoStats
	RTPAudioStats       = types.RTPAudioStats
	RTTInfo             = types.RTTInfo
	Connection          = types.Connection
	DecoderCallbacks    = types.DecoderCallbacks
	AudioCallbacks      = types.AudioCallbacks
	ConnectionCallbacks = types.ConnectionCallbacks
)

const (
	Version = types.Version

	StageNone               = types.StageNone
	StagePlatformInit       = types.StagePlatformInit
	StageNameResolution     = types.StageNameResolution
	StageRTSPHandshake      = types.StageRTSPHandshake
	StageControlStreamInit  = types.StageControlStreamInit
	StageVideoStreamInit    = types.StageVideoStreamInit
	StageAudioStreamInit    = types.StageAudioStreamInit
	StageInputStreamInit    = types.StageInputStreamInit
	StageControlStreamStart = types.StageControlStreamStart
	StageVideoStreamStart   = types.StageVideoStreamStart
	StageAudioStreamStart   = types.StageAudioStreamStart
	StageInputStreamStart   = types.StageInputStreamStart
	StageComplete           = types.StageComplete

	ConnStatusOkay = types.ConnStatusOkay
	ConnStatusPoor = types.ConnStatusPoor

	StreamCfgAuto   = types.StreamCfgAuto
	StreamCfgLocal  = types.StreamCfgLocal
	StreamCfgRemote = types.StreamCfgRemote

	VideoFormatH264 = types.VideoFormatH264
	VideoFormatH265 = types.VideoFormatH265
	VideoFormatAV1  = types.VideoFormatAV1

	AudioConfigStereo     = types.AudioConfigStereo
	AudioConfigSurround51 = types.AudioConfigSurround51
	AudioConfigSurround71 = types.AudioConfigSurround71

	CapabilityDirectSubmit                   = types.CapabilityDirectSubmit
	CapabilityPullRenderer                   = types.CapabilityPullRenderer
	CapabilityReferenceFrameInvalidationAVC  = types.CapabilityReferenceFrameInvalidationAVC
	CapabilityReferenceFrameInvalidationHEVC = types.CapabilityReferenceFrameInvalidationHEVC
	CapabilityReferenceFrameInvalidationAV1  = types.CapabilityReferenceFrameInvalidationAV1
	CapabilitySlowOpusDecoder                = types.CapabilitySlowOpusDecoder
	CapabilitySupportsArbitraryAudioDuration = types.CapabilitySupportsArbitraryAudioDuration

	DROk      = types.DROk
	DRNeedIDR = types.DRNeedIDR

	FrameTypeUnknown = types.FrameTypeUnknown
	FrameTypeIDR     = types.FrameTypeIDR
	FrameTypePFrames = types.FrameTypePFrames
)
