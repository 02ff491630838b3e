package types

import "time"

// AudioConfiguration selects the channel layout negotiated during the RTSP
// handshake, matching Limelight.h's AUDIO_CONFIGURATION_* values.
type AudioConfiguration int

const (
	AudioConfigStereo              AudioConfiguration = 0
	AudioConfigSurround51          AudioConfiguration = 1
	AudioConfigSurround71          AudioConfiguration = 2
	AudioConfigSurround51Highaudio AudioConfiguration = 3
	AudioConfigSurround71Highaudio AudioConfiguration = 4
)

// OpusConfig describes the Opus decoder an AudioCallbacks implementation
// must configure itself to match, derived from the negotiated audio
// configuration and packet duration.
type OpusConfig struct {
	SampleRate      int
	ChannelCount    int
	Streams         int
	CoupledStreams  int
	SamplesPerFrame int
	ChannelMapping  []uint8
}

// RTPAudioStats accumulates the counters GetAudioStats reports.
type RTPAudioStats struct {
	ReceivedPackets  uint32
	DroppedPackets   uint32
	RecoveredPackets uint32

	MeasurementStartTime time.Time
}

// AudioCallbacks is the audio decoder surface a host application implements.
type AudioCallbacks interface {
	Init(audioConfig AudioConfiguration, opusConfig *OpusConfig, context interface{}, flags int) error
	Start()
	Stop()
	Cleanup()

	// DecodeAndPlaySample decodes and plays one Opus frame; data is nil
	// for packet-loss concealment.
	DecodeAndPlaySample(data []byte)

	Capabilities() int
}
