// Package audio handles audio stream reception and decoding for the Moonlight streaming protocol.
package audio

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"go.uber.org/zap"

	"github.com/moonparty/moonlight-go/crypto"
	"github.com/moonparty/moonlight-go/protocol"
	"github.com/moonparty/moonlight-go/types"
)

const (
	// MaxPacketSize is the maximum audio packet size.
	MaxPacketSize = 1400
	// UDPRecvPollTimeout bounds each blocking read.
	UDPRecvPollTimeout = 100 * time.Millisecond
	// InitialDropMs is how much audio is dropped at stream start so
	// decode doesn't accumulate latency against a burst of buffered
	// packets, matching AudioStream.c's warm-up skip.
	InitialDropMs = 500
	// audioFECPayloadType distinguishes a parity shard from a regular
	// Opus data packet on the wire.
	audioFECPayloadType = 127
	// pingIntervalFast/pingIntervalSlow match UdpPingThreadProc's 1s
	// cadence before the host replies, falling back to 5s afterward.
	pingIntervalFast = time.Second
	pingIntervalSlow = 5 * time.Second
)

// Stream manages audio RTP reception, FEC recovery, and handoff to the
// audio decoder callbacks.
type Stream struct {
	config    types.StreamConfiguration
	callbacks types.AudioCallbacks
	log       *zap.Logger

	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	localAddr  *net.UDPAddr

	fecQueue       *fecAudioQueue
	packetDuration int
	dropPacketsLeft int

	encrypted bool
	cipherCtx *crypto.Context

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu           sync.Mutex
	stats             types.RTPAudioStats
	lastSequence      uint16
	haveLastSequence  bool
	receivedFromPeer  bool
	pendingFrames     int
}

// NewStream creates a new audio stream handler.
func NewStream(config types.StreamConfiguration, callbacks types.AudioCallbacks) *Stream {
	return &Stream{
		config:    config,
		callbacks: callbacks,
		encrypted: (config.EncryptionFlags & types.EncAudio) != 0,
	}
}

// Start begins audio stream reception.
func (s *Stream) Start(ctx context.Context, remoteAddr, localAddr *net.UDPAddr, audioPort int, opusConfig *types.OpusConfig, packetDuration int) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.remoteAddr = &net.UDPAddr{IP: remoteAddr.IP, Port: audioPort}
	s.localAddr = localAddr
	s.packetDuration = packetDuration
	if s.packetDuration <= 0 {
		s.packetDuration = 5
	}
	s.dropPacketsLeft = InitialDropMs / s.packetDuration

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return err
	}
	s.conn = conn

	if s.encrypted {
		cipherCtx, err := crypto.NewContext(s.config.RemoteInputAesKey)
		if err != nil {
			conn.Close()
			return err
		}
		s.cipherCtx = cipherCtx
	}

	s.fecQueue = newFECAudioQueue()

	if err := s.callbacks.Init(s.config.AudioConfiguration, opusConfig, nil, 0); err != nil {
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

	return nil
}

// Stop halts audio stream reception and tears down the decoder.
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

// GetStats returns current audio statistics.
func (s *Stream) GetStats() types.RTPAudioStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// GetPendingFrames reports how many decoded frames are queued.
func (s *Stream) GetPendingFrames() int {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.pendingFrames
}

// GetPendingDuration reports the playback duration, in milliseconds,
// represented by the queued frames.
func (s *Stream) GetPendingDuration() int {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.pendingFrames * s.packetDuration
}

func (s *Stream) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, MaxPacketSize+protocol.MaxRTPHeaderSize+protocol.AudioFECHeaderSize)
	dropRemaining := s.dropPacketsLeft

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(UDPRecvPollTimeout))
		n, addr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return
		}
		s.receivedFromPeer = true
		_ = addr

		if dropRemaining > 0 {
			dropRemaining--
			continue
		}

		s.handlePacket(buffer[:n])
	}
}

func (s *Stream) handlePacket(data []byte) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		s.bumpDropped()
		return
	}

	s.statsMu.Lock()
	s.stats.ReceivedPackets++
	s.statsMu.Unlock()

	payload := pkt.Payload
	if s.encrypted {
		plain, err := s.decryptPayload(payload)
		if err != nil {
			s.bumpDropped()
			return
		}
		payload = plain
	}

	if pkt.PayloadType == audioFECPayloadType {
		s.handleFECShard(payload)
		return
	}
	s.handleDataShard(pkt.SequenceNumber, payload)
}

func (s *Stream) decryptPayload(payload []byte) ([]byte, error) {
	const ivSize = 12
	const tagSize = 16
	if len(payload) < ivSize+tagSize {
		return nil, errShortPacket
	}
	iv := payload[:ivSize]
	tag := payload[ivSize : ivSize+tagSize]
	ciphertext := payload[ivSize+tagSize:]
	return s.cipherCtx.DecryptGCM(ciphertext, iv, tag, nil)
}

func (s *Stream) handleDataShard(seq uint16, payload []byte) {
	baseSeq := baseSequenceFor(seq, int(seq)%AudioDataShards)
	shardIndex := int(seq) % AudioDataShards

	if s.haveLastSequence && seq != s.lastSequence+1 {
		// Out-of-order or lost; feed a concealment sample immediately so
		// playback doesn't stall waiting on FEC recovery for this packet.
		s.callbacks.DecodeAndPlaySample(nil)
		s.statsMu.Lock()
		s.stats.DroppedPackets++
		s.statsMu.Unlock()
	}
	s.lastSequence = seq
	s.haveLastSequence = true

	recovered, ok := s.fecQueue.addPacket(baseSeq, shardIndex, payload)
	if !ok {
		// Still short of enough shards to recover the block; play this
		// packet directly since it arrived in order.
		s.deliverSample(payload)
		return
	}
	for _, shard := range recovered {
		s.deliverSample(shard)
	}
}

func (s *Stream) handleFECShard(payload []byte) {
	hdr, err := protocol.ParseAudioFECHeader(payload)
	if err != nil {
		s.bumpDropped()
		return
	}
	parity := payload[protocol.AudioFECHeaderSize:]
	shardIndex := AudioDataShards + int(hdr.FECShardIndex)

	recovered, ok := s.fecQueue.addPacket(hdr.BaseSequenceNumber, shardIndex, parity)
	if !ok {
		return
	}
	s.statsMu.Lock()
	s.stats.RecoveredPackets += uint32(len(recovered))
	s.statsMu.Unlock()
	for _, shard := range recovered {
		s.deliverSample(shard)
	}
}

func (s *Stream) deliverSample(sample []byte) {
	s.callbacks.DecodeAndPlaySample(sample)
	s.statsMu.Lock()
	s.pendingFrames++
	s.statsMu.Unlock()
}

func (s *Stream) bumpDropped() {
	s.statsMu.Lock()
	s.stats.DroppedPackets++
	s.statsMu.Unlock()
}

// pingLoop sends the "PING" keepalive that invites the host to start
// sending audio, backing off to a slower cadence once data has arrived.
func (s *Stream) pingLoop() {
	defer s.wg.Done()

	pingData := []byte("PING")
	interval := pingIntervalFast
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.conn.WriteToUDP(pingData, s.remoteAddr)
			if s.receivedFromPeer && interval != pingIntervalSlow {
				interval = pingIntervalSlow
				ticker.Reset(interval)
			}
		}
	}
}

var errShortPacket = &audioError{"audio packet too small to decrypt"}

type audioError struct{ msg string }

func (e *audioError) Error() string { return e.msg }
