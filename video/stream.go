// Package video handles video stream reception and decoding for the Moonlight streaming protocol.
package video

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"go.uber.org/zap"

	"github.com/moonparty/moonlight-go/crypto"
	"github.com/moonparty/moonlight-go/internal/reorder"
	"github.com/moonparty/moonlight-go/protocol"
	"github.com/moonparty/moonlight-go/types"
)

const (
	// RTPRecvPacketsBuffered is the desired socket buffer size in packets.
	RTPRecvPacketsBuffered = 2048
	// FirstFrameTimeoutSec is how long to wait for the first video data
	// before giving up on the stream.
	FirstFrameTimeoutSec = 10
	// UDPRecvPollTimeout bounds each blocking read so the receive loop can
	// notice context cancellation promptly.
	UDPRecvPollTimeout = 100 * time.Millisecond
	// reorderMaxQueueTimeMs matches RtpReorderQueue.c's default queue time
	// for the video reorder window.
	reorderMaxQueueTimeMs = 40
	// maxQueuedFrames is the decoder handoff queue depth; the 16th frame
	// to arrive while the queue is full is the "+1 overflow" that
	// triggers a drop-state-and-IDR event rather than silently stacking up.
	maxQueuedFrames = 15
)

// Stream manages video RTP reception, FEC recovery, depacketization, and
// handoff to the decoder callbacks.
type Stream struct {
	config    types.StreamConfiguration
	callbacks types.DecoderCallbacks
	log       *zap.Logger

	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	localAddr  *net.UDPAddr

	reorderQ *reorder.Queue
	fecAsm   *fecAssembler
	depak    *depacketizer

	frameQueue chan *types.DecodeUnit

	encrypted bool
	cipherCtx *crypto.Context

	// feedback reports frame delivery outcomes back to the control
	// stream: per-frame stats, invalidate-reference-frame ranges for
	// frames lost before FEC recovery finished, and IDR requests
	// triggered by the depacketizer's drop run crossing
	// consecutiveDropLimit or a full frame queue.
	feedback ControlFeedback

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu           sync.Mutex
	stats             types.RTPVideoStats
	receivedData      bool
	receivedFullFrame bool
	firstDataTime     time.Time
}

// videoRTPEntry is what's held in the reorder window: the RTP sequence
// number plus the already-decrypted NV_VIDEO_PACKET sub-header and shard
// payload.
type videoRTPEntry struct {
	seq     uint16
	hdr     protocol.NVVideoPacket
	payload []byte
}

func (e *videoRTPEntry) SequenceNumber() uint16 { return e.seq }

// NewStream creates a new video stream handler. feedback may be nil, in
// which case loss reporting and network-triggered IDR requests are
// skipped (useful in tests that exercise only the FEC/depacketizer path).
func NewStream(config types.StreamConfiguration, callbacks types.DecoderCallbacks, log *zap.Logger, feedback ControlFeedback) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{
		config:    config,
		callbacks: callbacks,
		log:       log.Named("video"),
		encrypted: (config.EncryptionFlags & types.EncVideo) != 0,
		feedback:  feedback,
	}
}

// Start begins video stream reception.
func (s *Stream) Start(ctx context.Context, remoteAddr, localAddr *net.UDPAddr, videoPort int) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.remoteAddr = &net.UDPAddr{IP: remoteAddr.IP, Port: videoPort}
	s.localAddr = localAddr

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return err
	}
	s.conn = conn

	bufferSize := RTPRecvPacketsBuffered * (s.config.PacketSize + protocol.MaxRTPHeaderSize)
	_ = conn.SetReadBuffer(bufferSize)

	if s.encrypted {
		cipherCtx, err := crypto.NewContext(s.config.RemoteInputAesKey)
		if err != nil {
			conn.Close()
			return err
		}
		s.cipherCtx = cipherCtx
	}

	s.reorderQ = reorder.New(reorder.DefaultMaxSize, reorderMaxQueueTimeMs)
	s.fecAsm = newFECAssembler()
	s.depak = newDepacketizer()
	s.frameQueue = make(chan *types.DecodeUnit, maxQueuedFrames)

	if err := s.callbacks.Setup(s.config.SupportedVideoFormats, s.config.Width, s.config.Height, s.config.FPS, nil, 0); err != nil {
		conn.Close()
		return err
	}
	s.callbacks.Start()

	s.statsMu.Lock()
	s.stats.MeasurementStartTime = time.Now()
	s.statsMu.Unlock()

	s.wg.Add(2)
	go s.receiveLoop()
	go s.pingLoop()

	if s.callbacks.Capabilities()&(types.CapabilityDirectSubmit|types.CapabilityPullRenderer) == 0 {
		s.wg.Add(1)
		go s.decoderLoop()
	}

	return nil
}

// Stop halts video stream reception and tears down the decoder.
func (s *Stream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.callbacks.Stop()
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
	s.callbacks.Cleanup()
}

// GetStats returns current video statistics.
func (s *Stream) GetStats() types.RTPVideoStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// RequestIDRFrame resets local recovery state and asks the control
// stream to request a fresh IDR frame from the host. It is the single
// entry point for every IDR trigger this stream has: a long depacketizer
// drop run, a superseded-frame loss report, a full decode queue, and a
// decoder's explicit DRNeedIDR response all funnel through here.
func (s *Stream) RequestIDRFrame() {
	s.depak.reset()
	s.statsMu.Lock()
	s.stats.RequestedIDRFrames++
	s.statsMu.Unlock()

	if s.feedback != nil {
		if err := s.feedback.RequestIDRFrame(); err != nil {
			s.log.Debug("control stream IDR request failed", zap.Error(err))
		}
	}
}

func (s *Stream) receiveLoop() {
	defer s.wg.Done()

	bufferSize := s.config.PacketSize + protocol.MaxRTPHeaderSize
	if s.encrypted {
		bufferSize += protocol.EncVideoHeaderSize
	}
	buffer := make([]byte, bufferSize)
	waitingMs := 0

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(UDPRecvPollTimeout))
		n, _, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if !s.receivedData {
					waitingMs += int(UDPRecvPollTimeout / time.Millisecond)
					if waitingMs >= FirstFrameTimeoutSec*1000 {
						return
					}
				}
				continue
			}
			return
		}

		if !s.receivedData {
			s.receivedData = true
			s.firstDataTime = time.Now()
		} else if !s.receivedFullFrame && time.Since(s.firstDataTime) > FirstFrameTimeoutSec*time.Second {
			return
		}

		s.handlePacket(buffer[:n])
	}
}

func (s *Stream) handlePacket(data []byte) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		s.log.Debug("dropping unparseable video packet", zap.Error(err))
		return
	}

	s.statsMu.Lock()
	s.stats.ReceivedPackets++
	s.statsMu.Unlock()

	payload := pkt.Payload
	if s.encrypted {
		plain, err := s.decryptPayload(payload)
		if err != nil {
			s.log.Debug("video packet decrypt failed", zap.Error(err))
			s.bumpDropped()
			return
		}
		payload = plain
	}

	hdr, err := protocol.ParseNVVideoPacket(payload)
	if err != nil {
		s.bumpDropped()
		return
	}
	shard := payload[protocol.NVVideoPacketSize:]

	entry := &videoRTPEntry{seq: pkt.SequenceNumber, hdr: hdr, payload: shard}

	ret, forced := s.reorderQ.AddPacket(entry)
	if forced != nil {
		s.deliverToFEC(forced.(*videoRTPEntry))
	}
	if ret&reorder.RetHandleNow != 0 {
		s.deliverToFEC(entry)
		// Drain anything the reorder window now has in order.
		for {
			next := s.reorderQ.GetQueuedPacket()
			if next == nil {
				break
			}
			s.deliverToFEC(next.(*videoRTPEntry))
		}
	}
}

// decryptPayload splits the ENC_VIDEO_HEADER off the front of an
// encrypted video RTP payload and decrypts the remainder with AES-GCM.
func (s *Stream) decryptPayload(payload []byte) ([]byte, error) {
	hdr, err := protocol.ParseEncVideoHeader(payload)
	if err != nil {
		return nil, err
	}
	ciphertext := payload[protocol.EncVideoHeaderSize:]
	return s.cipherCtx.DecryptGCM(ciphertext, hdr.IV[:], hdr.Tag[:], nil)
}

func (s *Stream) bumpDropped() {
	s.statsMu.Lock()
	s.stats.DroppedPackets++
	s.statsMu.Unlock()
}

// deliverToFEC folds one in-order video shard into its frame's FEC block
// and, once a frame's blocks are all recoverable, hands the reassembled
// NAL stream to the depacketizer. Any older frame the FEC assembler
// reports as superseded-and-lost is reported to the depacketizer and the
// control stream before the current packet's frame is processed.
func (s *Stream) deliverToFEC(e *videoRTPEntry) {
	frame, ok, lost := s.fecAsm.addPacket(e.hdr, e.payload)
	if len(lost) > 0 {
		s.reportLostFrames(lost)
	}
	if !ok {
		return
	}
	s.completeFrame(e.hdr.FrameIndex, frame)
}

// reportLostFrames tells the depacketizer and control stream about
// frames that were superseded before FEC recovery finished, matching
// VideoDepacketizer.c's reference-frame invalidation on loss.
func (s *Stream) reportLostFrames(lost []uint32) {
	needIDR := false
	for _, idx := range lost {
		if s.depak.markLost() {
			needIDR = true
		}
		if s.feedback != nil {
			s.feedback.UpdateFrameStats(idx, false)
		}
	}

	s.statsMu.Lock()
	s.stats.DroppedFrames += uint32(len(lost))
	s.statsMu.Unlock()

	if s.feedback != nil {
		s.feedback.QueueInvalidateReferenceFrames(lost[0], lost[len(lost)-1])
	}
	if needIDR {
		s.RequestIDRFrame()
	}
}

func (s *Stream) completeFrame(frameIndex uint32, frame []byte) {
	du, ok, needIDR := s.depak.processFrame(frameIndex, frame)
	if s.feedback != nil {
		s.feedback.UpdateFrameStats(frameIndex, ok)
	}
	if !ok {
		if needIDR {
			s.RequestIDRFrame()
		}
		s.statsMu.Lock()
		s.stats.DroppedFrames++
		s.statsMu.Unlock()
		return
	}

	du.ReceiveTimeMs = uint64(time.Now().UnixMilli())
	du.PresentationTimeMs = du.ReceiveTimeMs

	s.statsMu.Lock()
	s.stats.ReceivedFrames++
	if du.FrameType == types.FrameTypeIDR {
		s.receivedFullFrame = true
	}
	s.statsMu.Unlock()

	s.submitFrame(du)
}

// submitFrame hands a decode unit to the decoder, either directly or via
// the bounded frameQueue drained by decoderLoop. A decoder reporting
// DRNeedIDR, or the queue overflowing, both drive the same
// drop-state-and-IDR recovery path as a depacketizer loss run.
func (s *Stream) submitFrame(du *types.DecodeUnit) {
	if s.callbacks.Capabilities()&types.CapabilityDirectSubmit != 0 {
		ret := s.callbacks.SubmitDecodeUnit(du)
		s.statsMu.Lock()
		s.stats.SubmittedFrames++
		s.statsMu.Unlock()
		if ret == types.DRNeedIDR {
			s.RequestIDRFrame()
		}
		return
	}

	select {
	case s.frameQueue <- du:
	default:
		s.statsMu.Lock()
		s.stats.DroppedFrames++
		s.statsMu.Unlock()
		s.RequestIDRFrame()
	}
}

func (s *Stream) decoderLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case unit := <-s.frameQueue:
			if unit == nil {
				return
			}
			ret := s.callbacks.SubmitDecodeUnit(unit)
			s.statsMu.Lock()
			s.stats.SubmittedFrames++
			s.statsMu.Unlock()
			if ret == types.DRNeedIDR {
				s.RequestIDRFrame()
			}
		}
	}
}

// pingLoop sends the periodic "PING" keepalive the host's video socket
// expects before it will start streaming.
func (s *Stream) pingLoop() {
	defer s.wg.Done()

	pingData := []byte("PING")
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.conn.WriteToUDP(pingData, s.remoteAddr)
		}
	}
}
