// Package input handles game input sending for the Moonlight streaming protocol.
package input

import (
	"sync"

	"github.com/moonparty/moonlight-go/crypto"
	"github.com/moonparty/moonlight-go/internal/queue"
	"github.com/moonparty/moonlight-go/protocol"
)

// MaxGamepads is the maximum number of controllers supported
const MaxGamepads = 16

// MaxMotionEvents is the number of motion sensor types
const MaxMotionEvents = 2

// MaxInputPacketSize is the maximum size of an input packet
const MaxInputPacketSize = 128

// MaxQueuedInputPackets bounds the drain-side send queue, matching
// InputStream.c's inputSendThreadProc backlog limit.
const MaxQueuedInputPackets = 150

// MouseBatchingIntervalMs is the batching interval for mouse events
const MouseBatchingIntervalMs = 1

// queuedPacket is one framed, not-yet-encrypted outbound message waiting
// on the dedicated sender goroutine.
type queuedPacket struct {
	channelID uint8
	flags     uint32
	payload   []byte
}

// Stream manages input packet sending
type Stream struct {
	mu sync.Mutex

	// Configuration
	appVersion    [4]int
	isSunshine    bool
	encryptedCtrl bool

	// Encryption
	cipherCtx *crypto.Context
	ivChain   *ivChainState

	// Packet sending
	sendFunc func(channelID uint8, flags uint32, data []byte, moreData bool) error
	sendQ    *queue.Bounded
	wg       sync.WaitGroup

	// Batched state
	currentRelMouseState relativeMouseState
	currentAbsMouseState absoluteMouseState
	currentGamepadState  [MaxGamepads]*gamepadState
	gamepadSensorState   [MaxGamepads][MaxMotionEvents]sensorState

	// Virtual mouse position
	absCurrentPosX float32
	absCurrentPosY float32

	// Pen state
	currentPenButtonState uint8

	// Batched scroll
	needsBatchedScroll bool
	batchedScrollDelta int

	initialized bool
}

type relativeMouseState struct {
	deltaX int
	deltaY int
	dirty  bool
}

type absoluteMouseState struct {
	x, y          int
	width, height int
	dirty         bool
}

type gamepadState struct {
	buttonFlags  uint32
	leftTrigger  uint8
	rightTrigger uint8
	leftStickX   int16
	leftStickY   int16
	rightStickX  int16
	rightStickY  int16
}

type sensorState struct {
	x, y, z float32
	dirty   bool
}

// NewStream creates a new input stream. aesKey/aesIV are the remote
// input cipher material negotiated during the RTSP handshake; they are
// only used once the app version negotiates encrypted input.
func NewStream(appVersion [4]int, isSunshine bool, aesKey, aesIV []byte,
	sendFunc func(channelID uint8, flags uint32, data []byte, moreData bool) error) *Stream {

	s := &Stream{
		appVersion:     appVersion,
		isSunshine:     isSunshine,
		sendFunc:       sendFunc,
		sendQ:          queue.New(MaxQueuedInputPackets),
		absCurrentPosX: 0.5,
		absCurrentPosY: 0.5,
	}

	s.encryptedCtrl = protocol.AppVersionAtLeast(appVersion, 7, 1, 431)
	s.needsBatchedScroll = protocol.AppVersionAtLeast(appVersion, 7, 1, 409) && !isSunshine
	if s.encryptedCtrl && len(aesKey) > 0 {
		if ctx, err := crypto.NewContext(aesKey); err == nil {
			s.cipherCtx = ctx
			s.ivChain = newIVChainState(aesIV)
		} else {
			s.encryptedCtrl = false
		}
	}
	s.initialized = true

	s.wg.Add(1)
	go s.senderLoop()

	return s
}

// Close shuts down the input stream and its sender goroutine.
func (s *Stream) Close() {
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()

	s.sendQ.Shutdown()
	s.wg.Wait()
}

// enqueue hands a built, unencrypted packet to the dedicated sender
// goroutine, mirroring InputStream.c's separation between event
// producers and the single thread that serializes writes to the
// control channel.
func (s *Stream) enqueue(channelID uint8, flags uint32, packet []byte) error {
	return s.sendQ.Offer(queuedPacket{channelID: channelID, flags: flags, payload: packet})
}

// senderLoop drains queued packets one at a time, encrypting and
// framing each before handing it to the transport. Serializing here is
// what makes the persistent AES-CBC IV chain (and the GCM IV-chaining
// quirk on Gen>=7) well-defined: only one packet is ever in flight.
func (s *Stream) senderLoop() {
	defer s.wg.Done()

	for {
		item, err := s.sendQ.Wait(nil)
		if err != nil {
			return
		}
		qp := item.(queuedPacket)

		out := qp.payload
		if s.encryptedCtrl && s.cipherCtx != nil {
			var framed []byte
			var encErr error
			if protocol.AppVersionAtLeast(s.appVersion, 7, 1, 431) {
				framed, encErr = encryptGCM7(s.cipherCtx, s.ivChain, qp.payload)
			} else {
				framed, encErr = encryptCBCPre7(s.cipherCtx, s.ivChain, qp.payload)
			}
			if encErr != nil {
				continue
			}
			out = framed
		}

		if err := s.sendFunc(qp.channelID, qp.flags, out, false); err != nil {
			continue
		}
	}
}

// SendUTF8Text sends UTF-8 text input
func (s *Stream) SendUTF8Text(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	packet := s.buildUTF8TextPacket(text)
	return s.enqueue(protocol.CtrlChannelUTF8, protocol.ENetPacketFlagReliable, packet)
}

// Errors
var (
	ErrNotInitialized   = &inputError{"input stream not initialized"}
	ErrUnsupported      = &inputError{"feature not supported"}
	ErrInvalidParameter = &inputError{"invalid parameter"}
)

type inputError struct {
	msg string
}

func (e *inputError) Error() string {
	return e.msg
}

func clampFloat(val, min, max float32) float32 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
