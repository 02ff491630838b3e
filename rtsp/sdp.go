package rtsp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/moonparty/moonlight-go/protocol"
	"github.com/moonparty/moonlight-go/types"
)

// sdpAttr is one "a=name:payload" line. Ordering matters: some hosts
// parse the SDP linearly and expect x-nv-general.* attributes early.
type sdpAttr struct {
	name, payload string
}

// channelCountAndMask mirrors CHANNEL_COUNT_FROM_AUDIO_CONFIGURATION /
// CHANNEL_MASK_FROM_AUDIO_CONFIGURATION: AudioConfiguration here is a
// plain enum rather than the original's packed (count<<16)|mask value,
// so the two tables are reconstructed from the well-known surround
// layouts instead of being unpacked from the enum itself.
func channelCountAndMask(cfg types.AudioConfiguration) (count, mask int) {
	switch cfg {
	case types.AudioConfigSurround51, types.AudioConfigSurround51Highaudio:
		return 6, 0xFC
	case types.AudioConfigSurround71, types.AudioConfigSurround71Highaudio:
		return 8, 0x63F
	default:
		return 2, 0x3
	}
}

const (
	highAudioBitrateThresholdKbps = 8000
	lowAudioBitrateThresholdKbps  = 4000

	encVideoHeaderSize = 16
)

// buildSDP renders the ANNOUNCE SDP payload for the negotiated stream
// configuration, returning the adjusted (post-FEC-headroom) video
// bitrate alongside it; Handshake reports that figure as
// HandshakeResult.AdjustedBitrateKbps.
func buildSDP(cfg types.StreamConfiguration, appVersion [4]int, isSunshine bool, negotiated types.VideoFormat, capabilities int, rtspClientVersion int) (string, int) {
	var attrs []sdpAttr
	add := func(name, payload string) { attrs = append(attrs, sdpAttr{name, payload}) }
	addInt := func(name string, v int) { add(name, strconv.Itoa(v)) }

	encVideoEnabled := cfg.EncryptionFlags&types.EncVideo != 0
	encAudioEnabled := cfg.AudioEncryptionEnabled

	if isSunshine {
		moonlightFeatureFlags := 0x1 | 0x2 // ML_FF_FEC_STATUS | ML_FF_SESSION_ID_V1
		addInt("x-ml-general.featureFlags", moonlightFeatureFlags)

		var encEnabled uint32
		if encVideoEnabled {
			encEnabled |= types.EncVideo
		}
		if encAudioEnabled {
			encEnabled |= types.EncAudio
		}
		addInt("x-ss-general.encryptionEnabled", int(encEnabled))
		add("x-ss-video[0].chromaSamplingType", "0")
	}

	addInt("x-nv-video[0].clientViewportWd", cfg.Width)
	addInt("x-nv-video[0].clientViewportHt", cfg.Height)
	addInt("x-nv-video[0].maxFPS", cfg.FPS)

	packetSize := cfg.PacketSize
	if encVideoEnabled {
		packetSize -= encVideoHeaderSize
	}
	addInt("x-nv-video[0].packetSize", packetSize)
	add("x-nv-video[0].rateControlMode", "4")
	add("x-nv-video[0].timeoutLengthMs", "7000")
	add("x-nv-video[0].framesWithInvalidRefThreshold", "0")

	adjustedBitrate := int(float64(cfg.Bitrate) * 0.80)
	if cfg.HevcBitratePercentageMultiplier > 0 && negotiated == types.VideoFormatH265 {
		adjustedBitrate = adjustedBitrate * cfg.HevcBitratePercentageMultiplier / 100
	}
	if cfg.StreamingRemotely == types.StreamCfgRemote && adjustedBitrate > 500 {
		adjustedBitrate -= 500
	}
	if adjustedBitrate > 100000 {
		adjustedBitrate = 100000
	}

	if appVersion[0] >= 5 {
		addInt("x-nv-video[0].initialBitrateKbps", adjustedBitrate)
		addInt("x-nv-video[0].initialPeakBitrateKbps", adjustedBitrate)
		addInt("x-nv-vqos[0].bw.minimumBitrateKbps", adjustedBitrate)
		addInt("x-nv-vqos[0].bw.maximumBitrateKbps", adjustedBitrate)
		if isSunshine {
			addInt("x-ml-video.configuredBitrateKbps", cfg.Bitrate)
		}
	} else {
		if cfg.StreamingRemotely == types.StreamCfgRemote {
			add("x-nv-video[0].averageBitrate", "4")
			add("x-nv-video[0].peakBitrate", "4")
		}
		addInt("x-nv-vqos[0].bw.minimumBitrate", adjustedBitrate)
		addInt("x-nv-vqos[0].bw.maximumBitrate", adjustedBitrate)
	}

	add("x-nv-vqos[0].fec.enable", "1")
	add("x-nv-vqos[0].videoQualityScoreUpdateTime", "5000")

	if cfg.StreamingRemotely == types.StreamCfgLocal {
		add("x-nv-vqos[0].qosTrafficType", "5")
		add("x-nv-aqos.qosTrafficType", "4")
	} else {
		add("x-nv-vqos[0].qosTrafficType", "0")
		add("x-nv-aqos.qosTrafficType", "0")
	}

	switch appVersion[0] {
	case 3:
		addGen3Options(add)
	case 4:
		addGen4Options(add)
	default:
		addGen5Options(add, addInt, appVersion, cfg)
	}

	channelCount, channelMask := channelCountAndMask(cfg.AudioConfiguration)

	if appVersion[0] >= 4 {
		slicesPerFrame := byte(capabilities >> 24)
		if slicesPerFrame == 0 {
			slicesPerFrame = 1
		}
		addInt("x-nv-video[0].videoEncoderSlicesPerFrame", int(slicesPerFrame))

		switch {
		case negotiated == types.VideoFormatAV1:
			add("x-nv-vqos[0].bitStreamFormat", "2")
		case negotiated == types.VideoFormatH265:
			add("x-nv-clientSupportHevc", "1")
			add("x-nv-vqos[0].bitStreamFormat", "1")
			if !protocol.AppVersionAtLeast(appVersion, 7, 1, 408) {
				add("x-nv-video[0].encoderFeatureSetting", "0")
			}
		default:
			add("x-nv-clientSupportHevc", "0")
			add("x-nv-vqos[0].bitStreamFormat", "0")
		}

		if appVersion[0] >= 7 {
			if cfg.HDREnabled {
				add("x-nv-video[0].dynamicRangeMode", "1")
			} else {
				add("x-nv-video[0].dynamicRangeMode", "0")
			}
			add("x-nv-video[0].maxNumReferenceFrames", "1")
			addInt("x-nv-video[0].clientRefreshRateX100", cfg.ClientRefreshRateCapHz*100)
		}

		addInt("x-nv-audio.surround.numChannels", channelCount)
		addInt("x-nv-audio.surround.channelMask", channelMask)
		if channelCount > 2 {
			add("x-nv-audio.surround.enable", "1")
		} else {
			add("x-nv-audio.surround.enable", "0")
		}
	}

	audioPacketDuration := 5
	if appVersion[0] >= 7 {
		highQuality := cfg.Bitrate >= highAudioBitrateThresholdKbps && channelCount > 2 &&
			capabilities&types.CapabilitySlowOpusDecoder == 0
		if highQuality {
			add("x-nv-audio.surround.AudioQuality", "1")
			audioPacketDuration = 5
		} else {
			add("x-nv-audio.surround.AudioQuality", "0")
			if capabilities&types.CapabilitySlowOpusDecoder != 0 ||
				(capabilities&types.CapabilitySupportsArbitraryAudioDuration != 0 && cfg.Bitrate < lowAudioBitrateThresholdKbps) {
				audioPacketDuration = 10
			}
		}
		addInt("x-nv-aqos.packetDuration", audioPacketDuration)
	}

	if appVersion[0] >= 7 {
		addInt("x-nv-video[0].encoderCscMode", (cfg.ColorSpace<<1)|cfg.ColorRange)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\no=android 0 %d IN IPv4 0.0.0.0\r\ns=NVIDIA Streaming Client\r\n", rtspClientVersion)
	for _, a := range attrs {
		fmt.Fprintf(&b, "a=%s:%s \r\n", a.name, a.payload)
	}
	videoPort := VideoPort
	if appVersion[0] < 4 {
		videoPort = 47996
	}
	fmt.Fprintf(&b, "t=0 0\r\nm=video %d  \r\n", videoPort)

	return b.String(), adjustedBitrate
}

func addGen3Options(add func(name, payload string)) {
	add("x-nv-general.featureFlags", "1116209729")
	add("x-nv-video[0].transferProtocol", "1094795585")
	add("x-nv-video[1].transferProtocol", "1094795585")
	add("x-nv-video[2].transferProtocol", "1094795585")
	add("x-nv-video[3].transferProtocol", "1094795585")
	add("x-nv-video[0].rateControlMode", "1111638081")
	add("x-nv-video[1].rateControlMode", "1111638097")
	add("x-nv-video[2].rateControlMode", "1111638113")
	add("x-nv-video[3].rateControlMode", "1111638129")
	add("x-nv-vqos[0].bw.flags", "14083")
	add("x-nv-vqos[0].videoQosMaxConsecutiveDrops", "0")
	add("x-nv-vqos[1].videoQosMaxConsecutiveDrops", "0")
	add("x-nv-vqos[2].videoQosMaxConsecutiveDrops", "0")
	add("x-nv-vqos[3].videoQosMaxConsecutiveDrops", "0")
}

func addGen4Options(add func(name, payload string)) {
	// Gen4 hosts want the RTSP server address republished in the SDP
	// body; callers that need the real address pass it pre-baked via
	// the client's own request URI, so we only need a stable default.
	add("x-nv-general.serverAddress", "rtsp://0.0.0.0:48010")
}

func addGen5Options(add func(name, payload string), addInt func(name string, v int), appVersion [4]int, cfg types.StreamConfiguration) {
	const (
		nvffBase            = 0x07
		nvffAudioEncryption = 0x20
		nvffRIEncryption    = 0x80
	)

	if protocol.AppVersionAtLeast(appVersion, 7, 1, 431) {
		featureFlags := nvffBase | nvffRIEncryption
		if cfg.AudioEncryptionEnabled {
			featureFlags |= nvffAudioEncryption
		}
		addInt("x-nv-general.featureFlags", featureFlags)
		add("x-nv-general.useReliableUdp", "13")
		add("x-nv-vqos[0].fec.minRequiredFecPackets", "2")
		add("x-nv-vqos[0].bllFec.enable", "0")
	} else {
		add("x-nv-general.useReliableUdp", "1")
		add("x-nv-ri.useControlChannel", "1")
		if cfg.Width >= 3840 && cfg.Height >= 2160 {
			add("x-nv-vqos[0].fec.repairPercent", "5")
		} else {
			add("x-nv-vqos[0].fec.repairPercent", "20")
		}
	}

	if protocol.AppVersionAtLeast(appVersion, 7, 1, 446) && (cfg.Width < 720 || cfg.Height < 540) {
		add("x-nv-vqos[0].drc.enable", "1")
		add("x-nv-vqos[0].drc.tableType", "2")
	} else {
		add("x-nv-vqos[0].drc.enable", "0")
	}

	add("x-nv-general.enableRecoveryMode", "0")
}
