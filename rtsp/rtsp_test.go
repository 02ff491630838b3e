package rtsp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/moonparty/moonlight-go/types"
)

func TestParseResponseStatusAndHeaders(t *testing.T) {
	assert := assert.New(t)

	raw := []byte("RTSP/1.0 200 OK\r\nCSeq: 1\r\nSession: ABCD1234\r\nContent-length: 5\r\n\r\nhello")
	resp, err := parseResponse(raw)
	assert.NoError(err)
	assert.Equal(200, resp.StatusCode)
	assert.Equal("OK", resp.StatusText)
	assert.Equal("ABCD1234", resp.Headers["Session"])
	assert.Equal([]byte("hello"), resp.Body)
}

func TestParseResponseRejectsMalformedStatusLine(t *testing.T) {
	assert := assert.New(t)

	_, err := parseResponse([]byte("garbage\r\n\r\n"))
	assert.Error(err)
}

func TestClientVersionForGeneration(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(10, clientVersionFor([4]int{3, 0, 0, 0}))
	assert.Equal(11, clientVersionFor([4]int{4, 0, 0, 0}))
	assert.Equal(12, clientVersionFor([4]int{5, 0, 0, 0}))
	assert.Equal(13, clientVersionFor([4]int{6, 0, 0, 0}))
	assert.Equal(14, clientVersionFor([4]int{7, 1, 431, 0}))
}

func TestUseEnetForAppVersion(t *testing.T) {
	assert := assert.New(t)

	assert.True(UseEnetForAppVersion([4]int{5, 0, 0, 0}, false))
	assert.True(UseEnetForAppVersion([4]int{7, 1, 403, 0}, false))
	assert.False(UseEnetForAppVersion([4]int{7, 1, 404, 0}, false))
	assert.False(UseEnetForAppVersion([4]int{8, 0, 0, 0}, false))
	assert.False(UseEnetForAppVersion([4]int{3, 0, 0, 0}, false))
	assert.False(UseEnetForAppVersion([4]int{5, 0, 0, 0}, true))
}

func TestChannelCountAndMask(t *testing.T) {
	assert := assert.New(t)

	count, mask := channelCountAndMask(types.AudioConfigStereo)
	assert.Equal(2, count)
	assert.Equal(0x3, mask)

	count, mask = channelCountAndMask(types.AudioConfigSurround51)
	assert.Equal(6, count)
	assert.Equal(0xFC, mask)

	count, mask = channelCountAndMask(types.AudioConfigSurround71Highaudio)
	assert.Equal(8, count)
	assert.Equal(0x63F, mask)
}

func baseStreamConfig() types.StreamConfiguration {
	return types.StreamConfiguration{
		Width:              1920,
		Height:             1080,
		FPS:                60,
		Bitrate:            20000,
		PacketSize:         1024,
		StreamingRemotely:  types.StreamCfgLocal,
		AudioConfiguration: types.AudioConfigStereo,
	}
}

func TestBuildSDPBitrateFormulaLocal(t *testing.T) {
	assert := assert.New(t)

	cfg := baseStreamConfig()
	sdp, adjusted := buildSDP(cfg, [4]int{7, 1, 431, 0}, false, types.VideoFormatH264, 0, 14)

	assert.Equal(16000, adjusted) // 20000 * 0.8, no remote penalty
	assert.Contains(sdp, "a=x-nv-video[0].initialBitrateKbps:16000 \r\n")
	assert.Contains(sdp, "v=0\r\n")
	assert.Contains(sdp, "m=video 47998")
}

func TestBuildSDPBitrateFormulaRemoteCapsAt100Mbps(t *testing.T) {
	assert := assert.New(t)

	cfg := baseStreamConfig()
	cfg.StreamingRemotely = types.StreamCfgRemote
	cfg.Bitrate = 200000
	sdp, adjusted := buildSDP(cfg, [4]int{7, 1, 431, 0}, false, types.VideoFormatH264, 0, 14)

	assert.Equal(100000, adjusted)
	assert.Contains(sdp, "a=x-nv-vqos[0].qosTrafficType:0 \r\n")
}

func TestBuildSDPRemoteSubtractsFiveHundred(t *testing.T) {
	assert := assert.New(t)

	cfg := baseStreamConfig()
	cfg.StreamingRemotely = types.StreamCfgRemote
	cfg.Bitrate = 1000
	_, adjusted := buildSDP(cfg, [4]int{7, 1, 431, 0}, false, types.VideoFormatH264, 0, 14)

	// 1000*0.8 = 800, minus 500 remote penalty = 300
	assert.Equal(300, adjusted)
}

func TestBuildSDPGen3UsesLegacyBitrateKeys(t *testing.T) {
	assert := assert.New(t)

	cfg := baseStreamConfig()
	sdp, _ := buildSDP(cfg, [4]int{3, 0, 0, 0}, false, types.VideoFormatH264, 0, 10)

	assert.Contains(sdp, "a=x-nv-vqos[0].bw.minimumBitrate:")
	assert.NotContains(sdp, "x-nv-video[0].initialBitrateKbps")
	assert.Contains(sdp, "m=video 47996") // pre-gen4 uses the legacy video port
}

func TestBuildSDPHevcSetsBitStreamFormat(t *testing.T) {
	assert := assert.New(t)

	cfg := baseStreamConfig()
	sdp, _ := buildSDP(cfg, [4]int{7, 1, 431, 0}, false, types.VideoFormatH265, 0, 14)

	assert.Contains(sdp, "a=x-nv-clientSupportHevc:1 \r\n")
	assert.Contains(sdp, "a=x-nv-vqos[0].bitStreamFormat:1 \r\n")
}

func TestBuildSDPSunshineAddsMoonlightAttributes(t *testing.T) {
	assert := assert.New(t)

	cfg := baseStreamConfig()
	sdp, _ := buildSDP(cfg, [4]int{7, 1, 431, 0}, true, types.VideoFormatH264, 0, 14)

	assert.Contains(sdp, "x-ml-general.featureFlags")
	assert.Contains(sdp, "x-ss-general.encryptionEnabled")
}

func TestTransportValueForGeneration(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(" ", transportValueFor([4]int{5, 0, 0, 0}))
	assert.Equal("unicast;X-GS-ClientPort=50000-50001", transportValueFor([4]int{6, 0, 0, 0}))
}
