// Package limelight provides the main client for the Moonlight streaming protocol.
package limelight

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moonparty/moonlight-go/audio"
	"github.com/moonparty/moonlight-go/control"
	"github.com/moonparty/moonlight-go/fec"
	"github.com/moonparty/moonlight-go/input"
	"github.com/moonparty/moonlight-go/rtsp"
	"github.com/moonparty/moonlight-go/video"
)

// Client represents a Moonlight streaming client
type Client struct {
	mu sync.Mutex

	// Configuration
	Config     StreamConfiguration
	ServerInfo ServerInformation

	// Callbacks
	Decoder   DecoderCallbacks
	Audio     AudioCallbacks
	Listener  ConnectionCallbacks

	// Connection state
	ctx       context.Context
	cancel    context.CancelFunc
	stage     Stage
	connected bool

	// Server information
	appVersion   [4]int
	isSunshine   bool
	remoteAddr   *net.UDPAddr
	localAddr    *net.UDPAddr

	// Stream components
	rtspClient    *rtsp.Client
	controlStream *control.Stream
	videoStream   *video.Stream
	audioStream   *audio.Stream
	inputStream   *input.Stream

	// Negotiated settings
	videoFormat     VideoFormat
	opusConfig      *OpusConfig
	audioPacketDuration int

	// Ports
	videoPort   int
	audioPort   int
	controlPort int

	// Observability
	log       *zap.Logger
	sessionID uuid.UUID

	capabilities int
}

// NewClient creates a new Moonlight client
func NewClient(config StreamConfiguration, serverInfo ServerInformation,
	decoder DecoderCallbacks, audioCallbacks AudioCallbacks, listener ConnectionCallbacks) *Client {

	// Initialize FEC
	fec.Init()

	return &Client{
		Config:     config,
		ServerInfo: serverInfo,
		Decoder:    decoder,
		Audio:      audioCallbacks,
		Listener:   listener,
		log:        zap.NewNop(),
		sessionID:  uuid.New(),
	}
}

// WithLogger attaches a structured logger, tagged with this client's
// session ID, that the control and video streams use for diagnostics.
// The audio and input streams do not log. Must be called before Start.
func (c *Client) WithLogger(log *zap.Logger) *Client {
	if log != nil {
		c.log = log.With(zap.String("session", c.sessionID.String()))
	}
	return c
}

// WithDecoderCapabilities records the decoder capability bitmask
// (CapabilityDirectSubmit, CapabilityReferenceFrameInvalidation*,
// CapabilitySlowOpusDecoder, ...) used to shape the ANNOUNCE SDP.
func (c *Client) WithDecoderCapabilities(capabilities int) *Client {
	c.capabilities = capabilities
	return c
}

// Start initiates the streaming connection
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("already connected")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	// Parse app version
	c.parseAppVersion()

	// Check for Sunshine server
	c.isSunshine = strings.Contains(strings.ToLower(c.ServerInfo.ServerInfoAppVersion), "sunshine")

	// Stage: Platform Init
	c.notifyStageStarting(StagePlatformInit)
	// Platform init would go here (usually no-op in Go)
	c.notifyStageComplete(StagePlatformInit)

	// Stage: Name Resolution
	c.notifyStageStarting(StageNameResolution)
	if err := c.resolveServerAddress(); err != nil {
		c.notifyStageFailed(StageNameResolution, err)
		return err
	}
	c.notifyStageComplete(StageNameResolution)

	// Stage: RTSP Handshake
	c.notifyStageStarting(StageRTSPHandshake)
	if err := c.doRTSPHandshake(); err != nil {
		c.notifyStageFailed(StageRTSPHandshake, err)
		return err
	}
	c.notifyStageComplete(StageRTSPHandshake)

	// Stage: Control Stream Init
	c.notifyStageStarting(StageControlStreamInit)
	if err := c.initControlStream(); err != nil {
		c.notifyStageFailed(StageControlStreamInit, err)
		c.cleanup()
		return err
	}
	c.notifyStageComplete(StageControlStreamInit)

	// Stage: Video Stream Init
	c.notifyStageStarting(StageVideoStreamInit)
	if err := c.initVideoStream(); err != nil {
		c.notifyStageFailed(StageVideoStreamInit, err)
		c.cleanup()
		return err
	}
	c.notifyStageComplete(StageVideoStreamInit)

	// Stage: Audio Stream Init
	c.notifyStageStarting(StageAudioStreamInit)
	if err := c.initAudioStream(); err != nil {
		c.notifyStageFailed(StageAudioStreamInit, err)
		c.cleanup()
		return err
	}
	c.notifyStageComplete(StageAudioStreamInit)

	// Stage: Input Stream Init
	c.notifyStageStarting(StageInputStreamInit)
	if err := c.initInputStream(); err != nil {
		c.notifyStageFailed(StageInputStreamInit, err)
		c.cleanup()
		return err
	}
	c.notifyStageComplete(StageInputStreamInit)

	// Start all streams
	c.notifyStageStarting(StageControlStreamStart)
	// Control stream already started during init
	c.notifyStageComplete(StageControlStreamStart)

	c.notifyStageStarting(StageVideoStreamStart)
	// Video stream already started during init
	c.notifyStageComplete(StageVideoStreamStart)

	c.notifyStageStarting(StageAudioStreamStart)
	// Audio stream already started during init
	c.notifyStageComplete(StageAudioStreamStart)

	c.notifyStageStarting(StageInputStreamStart)
	// Input stream already started during init
	c.notifyStageComplete(StageInputStreamStart)

	// Complete
	c.stage = StageComplete
	c.connected = true
	c.Listener.ConnectionStarted()

	return nil
}

// Stop terminates the streaming connection
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}

	c.cleanup()
	c.connected = false
}

// cleanup shuts down all stream components
func (c *Client) cleanup() {
	if c.cancel != nil {
		c.cancel()
	}

	if c.inputStream != nil {
		c.inputStream.Close()
		c.inputStream = nil
	}

	if c.audioStream != nil {
		c.audioStream.Stop()
		c.audioStream = nil
	}

	if c.videoStream != nil {
		c.videoStream.Stop()
		c.videoStream = nil
	}

	if c.controlStream != nil {
		c.controlStream.Stop()
		c.controlStream = nil
	}

	if c.rtspClient != nil {
		c.rtspClient.Teardown()
		c.rtspClient.Close()
		c.rtspClient = nil
	}
}

// resolveServerAddress splits the host:port the caller configured
// (defaulting to GFE/Sunshine's HTTPS pairing port when no port is
// given) and resolves the host to the address every later stream
// component dials.
func (c *Client) resolveServerAddress() error {
	host, port, err := net.SplitHostPort(c.ServerInfo.Address)
	if err != nil {
		host = c.ServerInfo.Address
		port = "47989"
	}

	portNum, _ := strconv.Atoi(port)
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return fmt.Errorf("failed to resolve host: %s", host)
	}

	c.remoteAddr = &net.UDPAddr{IP: ips[0], Port: portNum}
	return nil
}

// doRTSPHandshake performs the RTSP session setup: OPTIONS, DESCRIBE,
// SETUP (audio/video/control), ANNOUNCE, PLAY, in that fixed order,
// over TCP or ENet depending on the negotiated app version.
func (c *Client) doRTSPHandshake() error {
	useEnet := rtsp.UseEnetForAppVersion(c.appVersion, c.isSunshine)
	c.rtspClient = rtsp.NewClient(c.remoteAddr.IP.String(), useEnet)

	if err := c.rtspClient.Connect(); err != nil {
		return err
	}

	result, err := c.rtspClient.Handshake(c.Config, c.appVersion, c.isSunshine, c.capabilities)
	if err != nil {
		return err
	}

	c.videoPort = result.VideoPort
	c.audioPort = result.AudioPort
	c.controlPort = result.ControlPort
	c.videoFormat = result.NegotiatedVideoFormat

	c.audioPacketDuration = 5
	if c.appVersion[0] >= 7 && c.Config.Bitrate >= 8000 &&
		c.Config.AudioConfiguration != AudioConfigStereo &&
		c.capabilities&CapabilitySlowOpusDecoder == 0 {
		c.audioPacketDuration = 5
	} else if c.capabilities&(CapabilitySlowOpusDecoder|CapabilitySupportsArbitraryAudioDuration) != 0 {
		c.audioPacketDuration = 10
	}

	c.opusConfig = &OpusConfig{
		SampleRate:      48000,
		ChannelCount:    2,
		Streams:         1,
		CoupledStreams:  1,
		ChannelMapping:  []uint8{0, 1},
		SamplesPerFrame: 48 * c.audioPacketDuration,
	}

	return nil
}

// initControlStream initializes the control stream
func (c *Client) initControlStream() error {
	c.controlStream = control.NewStream(c.Config, c.Listener, c.appVersion, c.isSunshine, c.log)
	return c.controlStream.Start(c.ctx, c.remoteAddr, c.controlPort)
}

// initVideoStream initializes the video stream, wiring the control
// stream in as its feedback channel for loss reporting and IDR requests.
func (c *Client) initVideoStream() error {
	c.videoStream = video.NewStream(c.Config, c.Decoder, c.log, c.controlStream)
	return c.videoStream.Start(c.ctx, c.remoteAddr, c.localAddr, c.videoPort)
}

// initAudioStream initializes the audio stream
func (c *Client) initAudioStream() error {
	c.audioStream = audio.NewStream(c.Config, c.Audio)
	return c.audioStream.Start(c.ctx, c.remoteAddr, c.localAddr, c.audioPort, c.opusConfig, c.audioPacketDuration)
}

// initInputStream initializes the input stream
func (c *Client) initInputStream() error {
	sendFunc := func(channelID uint8, flags uint32, data []byte, moreData bool) error {
		return c.controlStream.SendInputPacket(channelID, flags, data, moreData)
	}

	c.inputStream = input.NewStream(c.appVersion, c.isSunshine, c.Config.RemoteInputAesKey, c.Config.RemoteInputAesIV, sendFunc)
	return nil
}

// parseAppVersion parses the server version string
func (c *Client) parseAppVersion() {
	parts := strings.Split(c.ServerInfo.ServerInfoAppVersion, ".")
	for i := 0; i < 4 && i < len(parts); i++ {
		// Strip non-numeric suffixes
		numStr := parts[i]
		for j, ch := range numStr {
			if ch < '0' || ch > '9' {
				numStr = numStr[:j]
				break
			}
		}
		c.appVersion[i], _ = strconv.Atoi(numStr)
	}
}

// Stage notification helpers

func (c *Client) notifyStageStarting(stage Stage) {
	c.stage = stage
	c.Listener.StageStarting(stage)
}

func (c *Client) notifyStageComplete(stage Stage) {
	c.Listener.StageComplete(stage)
}

func (c *Client) notifyStageFailed(stage Stage, err error) {
	c.Listener.StageFailed(stage, err)
}
