// Command moonlight-probe drives a limelight.Client end-to-end against a
// streaming host, logging every stage transition and frame/audio callback
// instead of rendering anything.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/moonparty/moonlight-go/limelight"
)

func main() {
	app := &cli.App{
		Name:  "moonlight-probe",
		Usage: "drive a Moonlight streaming session from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "host",
				Usage:    "streaming host address (ip[:port])",
				EnvVars:  []string{"MOONLIGHT_HOST"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "app-version",
				Usage:   "negotiated server app version, e.g. 7.1.431.0",
				EnvVars: []string{"MOONLIGHT_APP_VERSION"},
				Value:   "7.1.431.0",
			},
			&cli.IntFlag{
				Name:  "width",
				Value: 1920,
			},
			&cli.IntFlag{
				Name:  "height",
				Value: 1080,
			},
			&cli.IntFlag{
				Name:  "fps",
				Value: 60,
			},
			&cli.IntFlag{
				Name:  "bitrate",
				Usage: "video bitrate in Kbps",
				Value: 20000,
			},
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "tag the stream as remote (tighter bitrate/QoS rules)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug-level logging",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	var log *zap.Logger
	var err error
	if c.Bool("verbose") {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	defer log.Sync()

	streamingRemotely := limelight.StreamCfgLocal
	if c.Bool("remote") {
		streamingRemotely = limelight.StreamCfgRemote
	}

	config := limelight.StreamConfiguration{
		Width:                 c.Int("width"),
		Height:                c.Int("height"),
		FPS:                   c.Int("fps"),
		Bitrate:               c.Int("bitrate"),
		PacketSize:            1392,
		StreamingRemotely:     streamingRemotely,
		AudioConfiguration:    limelight.AudioConfigStereo,
		SupportedVideoFormats: limelight.VideoFormatH264 | limelight.VideoFormatH265,
		ColorSpace:            0,
		ColorRange:            0,
	}

	serverInfo := limelight.ServerInformation{
		Address:              c.String("host"),
		ServerInfoAppVersion: c.String("app-version"),
	}

	client := limelight.NewClient(config, serverInfo, &nopDecoder{log: log}, &nopAudio{log: log}, &loggingListener{log: log}).
		WithLogger(log).
		WithDecoderCapabilities(limelight.CapabilityDirectSubmit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Stop()

	log.Info("streaming session started",
		zap.Int("width", c.Int("width")),
		zap.String("negotiated-format", videoFormatName(client.GetNegotiatedVideoFormat())))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", zap.String("signal", sig.String()))

	return nil
}

func videoFormatName(f limelight.VideoFormat) string {
	switch f {
	case limelight.VideoFormatH265:
		return "hevc"
	case limelight.VideoFormatAV1:
		return "av1"
	default:
		return "h264"
	}
}

// nopDecoder satisfies limelight.DecoderCallbacks by logging submitted
// decode units instead of decoding them.
type nopDecoder struct {
	log   *zap.Logger
	frame int
}

func (d *nopDecoder) Setup(format limelight.VideoFormat, width, height, fps int, _ interface{}, flags int) error {
	d.log.Info("decoder setup", zap.Int("width", width), zap.Int("height", height), zap.Int("fps", fps))
	return nil
}
func (d *nopDecoder) Start()   {}
func (d *nopDecoder) Stop()    {}
func (d *nopDecoder) Cleanup() {}
func (d *nopDecoder) SubmitDecodeUnit(unit *limelight.DecodeUnit) int {
	d.frame++
	if d.frame%300 == 0 {
		d.log.Debug("decode unit", zap.Int("frame-type", int(unit.FrameType)), zap.Int("count", d.frame))
	}
	return 0
}
func (d *nopDecoder) Capabilities() int { return limelight.CapabilityDirectSubmit }

// nopAudio satisfies limelight.AudioCallbacks by discarding samples.
type nopAudio struct {
	log     *zap.Logger
	samples int
}

func (a *nopAudio) Init(audioConfig limelight.AudioConfiguration, opusConfig *limelight.OpusConfig, _ interface{}, flags int) error {
	a.log.Info("audio init", zap.Int("sample-rate", opusConfig.SampleRate), zap.Int("channels", opusConfig.ChannelCount))
	return nil
}
func (a *nopAudio) Start()   {}
func (a *nopAudio) Stop()    {}
func (a *nopAudio) Cleanup() {}
func (a *nopAudio) DecodeAndPlaySample(data []byte) {
	a.samples++
}
func (a *nopAudio) Capabilities() int { return 0 }

// loggingListener satisfies limelight.ConnectionCallbacks, turning every
// stage transition and control event into a structured log line.
type loggingListener struct {
	log *zap.Logger
}

func (l *loggingListener) StageStarting(stage limelight.Stage) {
	l.log.Info("stage starting", zap.String("stage", strconv.Itoa(int(stage))))
}
func (l *loggingListener) StageComplete(stage limelight.Stage) {
	l.log.Info("stage complete", zap.String("stage", strconv.Itoa(int(stage))))
}
func (l *loggingListener) StageFailed(stage limelight.Stage, err error) {
	l.log.Error("stage failed", zap.String("stage", strconv.Itoa(int(stage))), zap.Error(err))
}
func (l *loggingListener) ConnectionStarted() {
	l.log.Info("connection started")
}
func (l *loggingListener) ConnectionTerminated(errorCode int) {
	l.log.Warn("connection terminated", zap.Int("error-code", errorCode))
}
func (l *loggingListener) ConnectionStatusUpdate(status limelight.ConnectionStatus) {
	l.log.Info("connection status update", zap.Int("status", int(status)))
}
func (l *loggingListener) SetHDRMode(enabled bool) {
	l.log.Info("hdr mode", zap.Bool("enabled", enabled))
}
func (l *loggingListener) Rumble(controllerNumber, lowFreq, highFreq uint16) {}
func (l *loggingListener) RumbleTriggers(controllerNumber, leftTrigger, rightTrigger uint16) {
}
func (l *loggingListener) SetMotionEventState(controllerNumber uint16, motionType limelight.MotionType, reportRateHz uint16) {
}
func (l *loggingListener) SetControllerLED(controllerNumber uint16, r, g, b uint8) {}
