// Package control handles the control stream for the Moonlight streaming protocol.
package control

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"time"

	enet "github.com/codecat/go-enet"
	"go.uber.org/zap"

	"github.com/moonparty/moonlight-go/crypto"
	"github.com/moonparty/moonlight-go/internal/queue"
	"github.com/moonparty/moonlight-go/protocol"
	"github.com/moonparty/moonlight-go/types"
)

const (
	// ControlStreamTimeoutSec bounds the initial ENet/TCP connect.
	ControlStreamTimeoutSec = 10
	// enetPeerTimeoutMs matches ControlStream.c's enet_peer_timeout call.
	enetPeerTimeoutMs = 10000
	// LossReportIntervalMs matches protocol.LossStatsIntervalMs.
	LossReportIntervalMs = protocol.LossStatsIntervalMs
	// invalidateRefFramesQueueCap matches ControlStream.c's bounded queue
	// of pending (start,end) reference-frame ranges.
	invalidateRefFramesQueueCap = 20
	// enetControlChannelID is the single ENet channel the control stream
	// uses for every message type.
	enetControlChannelID = 0
)

// frameRange is a pending invalidate-reference-frames request.
type frameRange struct {
	start, end uint32
}

// Stream manages the control stream connection: ENet reliable-UDP for
// Gen>=5, plain TCP for older hosts.
type Stream struct {
	mu sync.Mutex

	config     types.StreamConfiguration
	callbacks  types.ConnectionCallbacks
	appVersion [4]int
	isSunshine bool
	log        *zap.Logger

	table protocol.ControlPacketTable

	useEnet  bool
	enetHost enet.Host
	enetPeer enet.Peer
	tcpConn  net.Conn
	sendMu   sync.Mutex

	encrypted bool
	cipherCtx *crypto.Context
	sendSeq   uint32

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping bool

	lastGoodFrame uint32
	lastSeenFrame uint32

	invalidateQueue *queue.Bounded
	idrRequired     chan struct{}

	intervalGoodCount  int
	intervalTotalCount int
	intervalStartTime  time.Time
	lastConnStatus     types.ConnectionStatus

	hdrEnabled  bool
	hdrMetadata types.HDRMetadata

	disconnectPending bool
	terminateOnce     sync.Once
}

// NewStream creates a new control stream handler.
func NewStream(config types.StreamConfiguration, callbacks types.ConnectionCallbacks, appVersion [4]int, isSunshine bool, log *zap.Logger) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	gen := appVersion[0]
	s := &Stream{
		config:          config,
		callbacks:       callbacks,
		appVersion:      appVersion,
		isSunshine:      isSunshine,
		log:             log.Named("control"),
		table:           protocol.ControlPacketTableForGeneration(gen),
		useEnet:         gen >= 5,
		encrypted:       protocol.AppVersionAtLeast(appVersion, 7, 1, 431),
		invalidateQueue: queue.New(invalidateRefFramesQueueCap),
		idrRequired:     make(chan struct{}, 1),
	}
	return s
}

// Start connects the control channel and kicks off its background
// threads, mirroring startControlStream's ENet-vs-TCP branching.
func (s *Stream) Start(ctx context.Context, remoteAddr net.Addr, controlPort int) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	udpAddr, ok := remoteAddr.(*net.UDPAddr)
	if !ok {
		return errors.New("control: remote address must resolve to an IP")
	}

	if s.encrypted {
		cipherCtx, err := crypto.NewContext(s.config.RemoteInputAesKey)
		if err != nil {
			return err
		}
		s.cipherCtx = cipherCtx
	}

	if s.useEnet {
		if err := s.connectENet(udpAddr.IP.String(), controlPort); err != nil {
			return err
		}
	} else {
		tcpAddr := &net.TCPAddr{IP: udpAddr.IP, Port: controlPort}
		conn, err := net.DialTimeout("tcp", tcpAddr.String(), ControlStreamTimeoutSec*time.Second)
		if err != nil {
			return err
		}
		s.tcpConn = conn
	}

	if err := s.sendStartA(); err != nil {
		s.closeTransport()
		return err
	}
	if err := s.sendStartB(); err != nil {
		s.closeTransport()
		return err
	}

	s.wg.Add(2)
	go s.receiveLoop()
	go s.lossStatsLoop()

	if s.useEnet {
		s.wg.Add(1)
		go s.invalidateRefFramesLoop()
	}

	return nil
}

func (s *Stream) connectENet(host string, port int) error {
	enetHost, err := enet.NewHost(nil, 1, 2, 0, 0)
	if err != nil {
		return err
	}
	addr := enet.NewAddress(host, uint16(port))
	peer, err := enetHost.Connect(addr, 2, 0)
	if err != nil {
		enetHost.Destroy()
		return err
	}

	deadline := time.Now().Add(ControlStreamTimeoutSec * time.Second)
	connected := false
	for time.Now().Before(deadline) {
		ev := enetHost.Service(100)
		if ev.GetType() == enet.EventConnect {
			connected = true
			break
		}
	}
	if !connected {
		peer.Reset()
		enetHost.Destroy()
		return errors.New("control: ENet connect timed out")
	}
	peer.SetTimeouts(enetPeerTimeoutMs, enetPeerTimeoutMs, enetPeerTimeoutMs)

	s.enetHost = enetHost
	s.enetPeer = peer
	return nil
}

// Stop halts control stream operation, disconnecting the transport.
func (s *Stream) Stop() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.closeTransport()
	s.wg.Wait()
}

func (s *Stream) closeTransport() {
	if s.useEnet && s.enetPeer != nil {
		s.disconnectPending = true
		s.enetPeer.DisconnectNow(0)
		s.enetHost.Destroy()
	} else if s.tcpConn != nil {
		s.tcpConn.Close()
	}
}

// RequestIDRFrame asks the host for a fresh IDR frame, either via the
// dedicated packet type (generations before 5) or by invalidating the seen
// frame range (Gen>=5).
func (s *Stream) RequestIDRFrame() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ptype, ok := s.table.Types[protocol.CtrlIdxRequestIDRFrame]; ok && s.appVersion[0] < 5 {
		return s.sendMessage(ptype, []byte{0, 0}, protocol.ENetPacketFlagReliable)
	}

	start := uint32(0)
	if s.lastSeenFrame >= 0x20 {
		start = s.lastSeenFrame - 0x20
	}
	payload := make([]byte, 12)
	binary.LittleEndian.PutUint32(payload[0:4], start)
	binary.LittleEndian.PutUint32(payload[4:8], s.lastSeenFrame)
	ptype := s.table.Types[protocol.CtrlIdxInvalidateRefFrames]
	return s.sendMessage(ptype, payload, protocol.ENetPacketFlagReliable)
}

// QueueInvalidateReferenceFrames queues a (start,end) frame range for
// the next invalidate-reference-frames message, coalescing with any
// other ranges queued before the invalidateRefFramesLoop wakes.
func (s *Stream) QueueInvalidateReferenceFrames(start, end uint32) {
	if err := s.invalidateQueue.Offer(frameRange{start, end}); err != nil {
		select {
		case s.idrRequired <- struct{}{}:
		default:
		}
		return
	}
	select {
	case s.idrRequired <- struct{}{}:
	default:
	}
}

// SendInputPacket sends an input packet on the control stream (Gen>=5
// only; older hosts use a dedicated TCP input socket instead).
func (s *Stream) SendInputPacket(channelID uint8, flags uint32, data []byte, moreData bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appVersion[0] < 5 {
		return errors.New("control: input over control stream requires Gen>=5")
	}
	ptype := s.table.Types[protocol.CtrlIdxInputData]
	return s.sendMessage(ptype, data, flags)
}

// UpdateFrameStats updates frame reception statistics feeding the
// periodic loss-stats report and connection-status heuristic.
func (s *Stream) UpdateFrameStats(frameIndex uint32, isGood bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeenFrame = frameIndex
	s.intervalTotalCount++
	if isGood {
		s.lastGoodFrame = frameIndex
		s.intervalGoodCount++
	}
}

// GetRTTInfo returns the ENet peer's measured round-trip time, when
// available.
func (s *Stream) GetRTTInfo() (types.RTTInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.useEnet || s.enetPeer == nil {
		return types.RTTInfo{}, false
	}
	rtt := s.enetPeer.GetRoundTripTime()
	return types.RTTInfo{EstimatedRTT: rtt}, true
}

// IsHDREnabled returns whether HDR is currently enabled.
func (s *Stream) IsHDREnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hdrEnabled
}

// GetHDRMetadata returns the current HDR metadata.
func (s *Stream) GetHDRMetadata() (types.HDRMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hdrEnabled {
		return types.HDRMetadata{}, false
	}
	return s.hdrMetadata, true
}

// Internal send path

func (s *Stream) sendStartA() error {
	payload, ok := s.table.PreconstructedPayload[protocol.CtrlIdxStartA]
	if !ok {
		return nil
	}
	return s.sendMessage(s.table.Types[protocol.CtrlIdxStartA], payload, protocol.ENetPacketFlagReliable)
}

func (s *Stream) sendStartB() error {
	payload, ok := s.table.PreconstructedPayload[protocol.CtrlIdxStartB]
	if !ok {
		return nil
	}
	return s.sendMessage(s.table.Types[protocol.CtrlIdxStartB], payload, protocol.ENetPacketFlagReliable)
}

// sendMessage serializes and transmits one control message, choosing
// plaintext or AES-GCM framing and ENet vs TCP transport to match the
// negotiated generation.
func (s *Stream) sendMessage(ptype uint16, payload []byte, flags uint32) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	var packet []byte
	if s.encrypted {
		packet = s.buildEncryptedPacket(ptype, payload)
	} else if s.useEnet {
		packet = make([]byte, 2+len(payload))
		binary.LittleEndian.PutUint16(packet[0:2], ptype)
		copy(packet[2:], payload)
	} else {
		packet = make([]byte, 4+len(payload))
		binary.LittleEndian.PutUint16(packet[0:2], ptype)
		binary.LittleEndian.PutUint16(packet[2:4], uint16(len(payload)))
		copy(packet[4:], payload)
	}

	if s.useEnet {
		if s.enetPeer == nil {
			return errors.New("control: not connected")
		}
		if err := s.enetPeer.SendBytes(packet, enetControlChannelID, enetPacketFlags(flags)); err != nil {
			return err
		}
		s.enetHost.Flush()
		return nil
	}

	if s.tcpConn == nil {
		return errors.New("control: not connected")
	}
	_, err := s.tcpConn.Write(packet)
	return err
}

func enetPacketFlags(flags uint32) enet.PacketFlags {
	var f enet.PacketFlags
	if flags&protocol.ENetPacketFlagReliable != 0 {
		f |= enet.PacketFlagReliable
	}
	if flags&protocol.ENetPacketFlagUnsequenced != 0 {
		f |= enet.PacketFlagUnsequenced
	}
	return f
}

// buildEncryptedPacket wraps ptype/payload in the AES-GCM control
// envelope: a monotonically-increasing per-stream sequence number forms
// the low 4 bytes of the IV, with the remaining bytes identifying this
// as a client-originated control message.
func (s *Stream) buildEncryptedPacket(ptype uint16, payload []byte) []byte {
	inner := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint16(inner[0:2], ptype)
	binary.LittleEndian.PutUint16(inner[2:4], uint16(len(payload)))
	copy(inner[4:], payload)

	s.sendSeq++
	seq := s.sendSeq

	iv := make([]byte, 12)
	binary.LittleEndian.PutUint32(iv[0:4], seq)
	iv[10] = 'C'
	iv[11] = 'C'

	ciphertext, tag, err := s.cipherCtx.EncryptGCM(inner, iv, nil)
	if err != nil {
		return nil
	}

	outerLen := 4 + 16 + len(ciphertext)
	packet := make([]byte, 4+outerLen)
	binary.LittleEndian.PutUint16(packet[0:2], 0x0001)
	binary.LittleEndian.PutUint16(packet[2:4], uint16(outerLen))
	binary.LittleEndian.PutUint32(packet[4:8], seq)
	copy(packet[8:24], tag)
	copy(packet[24:], ciphertext)
	return packet
}

// Receive path

func (s *Stream) receiveLoop() {
	defer s.wg.Done()

	if s.useEnet {
		s.receiveLoopENet()
	} else {
		s.receiveLoopTCP()
	}
}

func (s *Stream) receiveLoopENet() {
	noEventWaitMs := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		ev := s.enetHost.Service(100)
		switch ev.GetType() {
		case enet.EventReceive:
			noEventWaitMs = 0
			packet := ev.GetPacket()
			data := packet.GetData()
			s.processMessage(data)
			packet.Destroy()
		case enet.EventDisconnect:
			if s.disconnectPending {
				s.disconnectPending = false
				continue
			}
			s.notifyTerminated(-1)
			return
		default:
			if s.disconnectPending {
				noEventWaitMs += 100
				if noEventWaitMs >= 1000 {
					s.notifyTerminated(-1)
					return
				}
			}
		}
	}
}

func (s *Stream) receiveLoopTCP() {
	buffer := make([]byte, 2048)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if tcpConn, ok := s.tcpConn.(*net.TCPConn); ok {
			tcpConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		}

		n, err := s.tcpConn.Read(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			s.notifyTerminated(-1)
			return
		}
		if n < 2 {
			continue
		}
		s.processMessage(buffer[:n])
	}
}

// notifyTerminated reports the connection's end on a detached goroutine,
// never on the receive loop itself: Stop calls s.wg.Wait(), and a listener
// that calls back into Stop from inside ConnectionTerminated would
// otherwise deadlock the receive loop against its own shutdown.
func (s *Stream) notifyTerminated(errorCode int) {
	s.terminateOnce.Do(func() {
		go s.callbacks.ConnectionTerminated(errorCode)
	})
}

func (s *Stream) processMessage(data []byte) {
	if len(data) < 2 {
		return
	}

	var ptype uint16
	var payload []byte

	if s.encrypted {
		headerType := binary.LittleEndian.Uint16(data[0:2])
		if headerType != 0x0001 {
			return
		}
		decrypted, err := s.decryptMessage(data)
		if err != nil || len(decrypted) < 4 {
			return
		}
		ptype = binary.LittleEndian.Uint16(decrypted[0:2])
		payloadLen := binary.LittleEndian.Uint16(decrypted[2:4])
		if len(decrypted) >= 4+int(payloadLen) {
			payload = decrypted[4 : 4+payloadLen]
		}
	} else {
		ptype = binary.LittleEndian.Uint16(data[0:2])
		payload = data[2:]
	}

	s.handlePacket(ptype, payload)
}

func (s *Stream) decryptMessage(data []byte) ([]byte, error) {
	if len(data) < 24 {
		return nil, errors.New("control: encrypted packet too small")
	}
	length := binary.LittleEndian.Uint16(data[2:4])
	seq := binary.LittleEndian.Uint32(data[4:8])
	if len(data) < 4+int(length) {
		return nil, errors.New("control: incomplete encrypted packet")
	}

	iv := make([]byte, 12)
	binary.LittleEndian.PutUint32(iv[0:4], seq)
	iv[10] = 'H'
	iv[11] = 'C'

	tag := data[8:24]
	ciphertext := data[24 : 4+int(length)]
	return s.cipherCtx.DecryptGCM(ciphertext, iv, tag, nil)
}

func (s *Stream) handlePacket(ptype uint16, payload []byte) {
	switch {
	case s.matchesType(protocol.CtrlIdxTermination, ptype):
		s.handleTermination(payload)
	case ptype == hdrModePacketType && len(payload) >= 1:
		s.handleHDRMode(payload)
	case s.matchesType(protocol.CtrlIdxRumbleData, ptype) && len(payload) >= 10:
		controllerNum := binary.LittleEndian.Uint16(payload[4:6])
		lowFreq := binary.LittleEndian.Uint16(payload[6:8])
		highFreq := binary.LittleEndian.Uint16(payload[8:10])
		s.callbacks.Rumble(controllerNum, lowFreq, highFreq)
	}
}

func (s *Stream) matchesType(idx protocol.ControlPacketIndex, ptype uint16) bool {
	want, ok := s.table.Types[idx]
	return ok && want == ptype
}

// hdrModePacketType is the control message the host uses to announce
// HDR availability; it isn't part of ControlPacketTable because it's
// host-originated and its value is stable across generations.
const hdrModePacketType = 0x010c

func (s *Stream) handleHDRMode(payload []byte) {
	s.mu.Lock()
	s.hdrEnabled = payload[0] != 0
	if s.isSunshine && len(payload) >= 21 {
		offset := 1
		for i := 0; i < 3; i++ {
			s.hdrMetadata.DisplayPrimaries[i].X = binary.LittleEndian.Uint16(payload[offset:])
			offset += 2
			s.hdrMetadata.DisplayPrimaries[i].Y = binary.LittleEndian.Uint16(payload[offset:])
			offset += 2
		}
		s.hdrMetadata.WhitePoint.X = binary.LittleEndian.Uint16(payload[offset:])
		offset += 2
		s.hdrMetadata.WhitePoint.Y = binary.LittleEndian.Uint16(payload[offset:])
		offset += 2
		s.hdrMetadata.MaxDisplayLuminance = binary.LittleEndian.Uint16(payload[offset:])
		offset += 2
		s.hdrMetadata.MinDisplayLuminance = binary.LittleEndian.Uint16(payload[offset:])
	}
	enabled := s.hdrEnabled
	s.mu.Unlock()

	s.callbacks.SetHDRMode(enabled)
}

// handleTermination maps the host's termination reason the way
// ControlStream.c does: 0x0100 means a graceful, server-intended
// shutdown and is reported as error code 0; everything else passes
// through unchanged. The callback fires only once, matching the
// original's single-delivery guarantee across the ENet disconnect event
// that follows.
func (s *Stream) handleTermination(payload []byte) {
	var reason int
	if len(payload) >= 2 {
		reason = int(binary.LittleEndian.Uint16(payload[0:2]))
	}
	errorCode := reason
	if reason == 0x0100 {
		errorCode = types.ErrGracefulTermination
	}
	s.notifyTerminated(errorCode)
}

// invalidateRefFramesLoop mirrors ControlStream.c's dedicated thread:
// it wakes whenever a frame range is queued (or the range queue is full)
// and sends a single invalidate-reference-frames message covering every
// queued range merged together. It never sends a separate full-IDR
// request; a full queue only wakes it to send the ranges already queued.
func (s *Stream) invalidateRefFramesLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.idrRequired:
		}

		ranges := s.invalidateQueue.Flush()
		if len(ranges) == 0 {
			continue
		}

		minStart := ranges[0].(frameRange).start
		maxEnd := ranges[0].(frameRange).end
		for _, r := range ranges[1:] {
			fr := r.(frameRange)
			if fr.start < minStart {
				minStart = fr.start
			}
			if fr.end > maxEnd {
				maxEnd = fr.end
			}
		}

		payload := make([]byte, 12)
		binary.LittleEndian.PutUint32(payload[0:4], minStart)
		binary.LittleEndian.PutUint32(payload[4:8], maxEnd)
		ptype, ok := s.table.Types[protocol.CtrlIdxInvalidateRefFrames]
		if !ok {
			continue
		}
		if err := s.sendMessage(ptype, payload, protocol.ENetPacketFlagReliable); err != nil {
			s.log.Debug("failed to send invalidate reference frames", zap.Error(err))
		}
	}
}

// lossStatsLoop periodically reports client-observed frame loss to the
// host, matching ControlStream.c's LOSS_REPORT_INTERVAL_MS cadence.
func (s *Stream) lossStatsLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(LossReportIntervalMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sendLossStats()
			s.checkConnectionStatus()
		}
	}
}

// sendLossStats builds the 32-byte little-endian loss-report payload:
// lossCountSinceLastReport, the report interval, a fixed 1000ms window,
// lastGoodFrame as a 64-bit value, and three trailing fields the host
// ignores but the wire format still reserves space for.
func (s *Stream) sendLossStats() {
	s.mu.Lock()
	lossCount := s.intervalTotalCount - s.intervalGoodCount
	lastGoodFrame := s.lastGoodFrame
	ptype, ok := s.table.Types[protocol.CtrlIdxLossStats]
	s.mu.Unlock()
	if !ok {
		return
	}

	payload := make([]byte, 32)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(lossCount))
	binary.LittleEndian.PutUint32(payload[4:8], LossReportIntervalMs)
	binary.LittleEndian.PutUint32(payload[8:12], 1000)
	binary.LittleEndian.PutUint64(payload[12:20], uint64(lastGoodFrame))
	binary.LittleEndian.PutUint32(payload[28:32], 0x14)

	if err := s.sendMessage(ptype, payload, protocol.ENetPacketFlagReliable); err != nil {
		s.log.Debug("failed to send loss stats", zap.Error(err))
	}
}

func (s *Stream) checkConnectionStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.intervalStartTime.IsZero() || now.Sub(s.intervalStartTime) >= 3*time.Second {
		if s.intervalTotalCount > 0 {
			lossPercent := 100 - (s.intervalGoodCount * 100 / s.intervalTotalCount)

			if s.lastConnStatus != types.ConnStatusPoor && lossPercent >= 30 {
				s.lastConnStatus = types.ConnStatusPoor
				s.callbacks.ConnectionStatusUpdate(types.ConnStatusPoor)
			} else if lossPercent <= 5 && s.lastConnStatus != types.ConnStatusOkay {
				s.lastConnStatus = types.ConnStatusOkay
				s.callbacks.ConnectionStatusUpdate(types.ConnStatusOkay)
			}
		}

		s.intervalStartTime = now
		s.intervalGoodCount = 0
		s.intervalTotalCount = 0
	}
}
