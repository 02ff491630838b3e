// Package types holds the shared vocabulary every Moonlight stream package
// (rtsp, control, video, audio, input, limelight) builds on: connection
// stages, wire-format enums, the stream/server configuration structs, and
// the callback interfaces an embedding application implements.
package types

// Version identifies this client implementation in pairing/handshake exchanges.
const Version = "1.0.0"

// Stage is one step of LiStartConnection's fixed startup sequence. Hosts
// embedding this client get a StageStarting/StageComplete/StageFailed
// callback for each, in the order below, mirroring Limelight.h's
// STAGE_* constants and Connection.c's actual call sequence (which runs
// name resolution before the RTSP handshake and audio init after video,
// regardless of the STAGE_* #define values' numeric order).
type Stage int

const (
	StageNone Stage = iota
	StagePlatformInit
	StageNameResolution
	StageRTSPHandshake
	StageControlStreamInit
	StageVideoStreamInit
	StageAudioStreamInit
	StageInputStreamInit
	StageControlStreamStart
	StageVideoStreamStart
	StageAudioStreamStart
	StageInputStreamStart
	StageComplete
)

// ConnectionStatus reports the coarse network-quality verdict derived from
// the recent ratio of successfully decoded frames to total frames seen.
type ConnectionStatus int

const (
	ConnStatusOkay ConnectionStatus = iota
	ConnStatusPoor
)

// Error codes passed to ConnectionCallbacks.ConnectionTerminated, matching
// Limelight.h's ML_ERROR_* / termination-reason constants.
const (
	ErrUnsupported           = -5501
	ErrGracefulTermination   = 0
	ErrNoVideoTraffic        = -100
	ErrNoVideoFrame          = -101
	ErrUnexpectedTermination = -102
	ErrProtectedContent      = -103
	ErrFrameConversion       = -104
)
