package input

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonparty/moonlight-go/protocol"
	"github.com/moonparty/moonlight-go/types"
)

type sentPacket struct {
	channelID uint8
	flags     uint32
	data      []byte
}

func newCapturingStream(appVersion [4]int, isSunshine bool) (*Stream, chan sentPacket) {
	sent := make(chan sentPacket, 64)
	s := NewStream(appVersion, isSunshine, nil, nil, func(channelID uint8, flags uint32, data []byte, moreData bool) error {
		sent <- sentPacket{channelID, flags, data}
		return nil
	})
	return s, sent
}

func recvPacket(t *testing.T, ch chan sentPacket) sentPacket {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queued packet to drain")
		return sentPacket{}
	}
}

func TestSendMouseMoveOnlyEnqueuesOncePerDirtyWindow(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	s, sent := newCapturingStream([4]int{7, 1, 0, 0}, false)
	defer s.Close()

	require.NoError(s.SendMouseMove(5, -3))
	// A second move before the dirty flag is cleared accumulates into
	// currentRelMouseState but must not enqueue a second packet.
	require.NoError(s.SendMouseMove(1, 1))

	pkt := recvPacket(t, sent)
	assert.Equal(uint8(protocol.CtrlChannelMouse), pkt.channelID)

	deltaX := int16(binary.BigEndian.Uint16(pkt.data[8:10]))
	deltaY := int16(binary.BigEndian.Uint16(pkt.data[10:12]))
	assert.Equal(int16(5), deltaX)
	assert.Equal(int16(-3), deltaY)

	select {
	case <-sent:
		assert.Fail("second move before the dirty flag clears should not enqueue another packet")
	case <-time.After(50 * time.Millisecond):
	}

	s.mu.Lock()
	accumDeltaX := s.currentRelMouseState.deltaX
	accumDeltaY := s.currentRelMouseState.deltaY
	s.mu.Unlock()
	assert.Equal(6, accumDeltaX)
	assert.Equal(-2, accumDeltaY)
}

func TestSendMouseMoveZeroDeltaIsNoop(t *testing.T) {
	assert := assert.New(t)

	s, sent := newCapturingStream([4]int{7, 1, 0, 0}, false)
	defer s.Close()

	assert.NoError(s.SendMouseMove(0, 0))
	select {
	case <-sent:
		assert.Fail("no packet should have been sent for a zero-delta move")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendMousePositionUpdatesVirtualPositionAfterDirty(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	s, sent := newCapturingStream([4]int{7, 1, 0, 0}, false)
	defer s.Close()

	require.NoError(s.SendMousePosition(100, 200, 1920, 1080))
	recvPacket(t, sent)

	// The dirty flag is never cleared after the first position event, so
	// every subsequent call only updates the cached virtual position
	// instead of enqueuing another packet.
	require.NoError(s.SendMousePosition(960, 540, 1920, 1080))

	s.mu.Lock()
	x, y := s.absCurrentPosX, s.absCurrentPosY
	s.mu.Unlock()
	assert.InDelta(float32(960)/float32(1919), x, 0.001)
	assert.InDelta(float32(540)/float32(1079), y, 0.001)
}

func TestSendScrollBuildsWheelPacketWithoutBatching(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	// Pre-7.1.409 (or Sunshine) hosts get an unbatched scroll packet per call.
	s, sent := newCapturingStream([4]int{7, 1, 400, 0}, false)
	defer s.Close()

	require.NoError(s.SendScroll(30))
	pkt := recvPacket(t, sent)
	amount := int16(binary.BigEndian.Uint16(pkt.data[8:10]))
	assert.Equal(int16(30), amount)
}

func TestSendScrollBatchesAboveWheelDeltaThreshold(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	s, sent := newCapturingStream([4]int{7, 1, 409, 0}, false)
	defer s.Close()

	require.NoError(s.SendScroll(int16(protocol.WheelDelta + 10)))

	pkt := recvPacket(t, sent)
	amount := int16(binary.BigEndian.Uint16(pkt.data[8:10]))
	assert.Equal(int16(protocol.WheelDelta), amount)

	select {
	case <-sent:
		assert.Fail("the 10 leftover units should stay batched, not flushed yet")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendHScrollRejectedForNonSunshine(t *testing.T) {
	assert := assert.New(t)

	s, _ := newCapturingStream([4]int{7, 1, 431, 0}, false)
	defer s.Close()

	err := s.SendHScroll(10)
	assert.Equal(ErrUnsupported, err)
}

func TestSendHScrollAllowedForSunshine(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	s, sent := newCapturingStream([4]int{7, 1, 431, 0}, true)
	defer s.Close()

	require.NoError(s.SendHScroll(5))
	pkt := recvPacket(t, sent)
	amount := int16(binary.BigEndian.Uint16(pkt.data[8:10]))
	assert.Equal(int16(5), amount)
}

func TestSendPenRejectedForNonSunshine(t *testing.T) {
	assert := assert.New(t)

	s, _ := newCapturingStream([4]int{7, 1, 431, 0}, false)
	defer s.Close()

	err := s.SendPen(0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	assert.Equal(ErrUnsupported, err)
}

func TestSendControllerMotionRejectsInvalidMotionType(t *testing.T) {
	assert := assert.New(t)

	s, _ := newCapturingStream([4]int{7, 1, 431, 0}, true)
	defer s.Close()

	err := s.SendControllerMotion(0, 0, 0, 0, 0)
	assert.Equal(ErrInvalidParameter, err)

	err = s.SendControllerMotion(0, MaxMotionEvents+1, 0, 0, 0)
	assert.Equal(ErrInvalidParameter, err)
}

func TestSendKeyboardAppliesGFEModifierFixupsForLeftShift(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	s, sent := newCapturingStream([4]int{7, 1, 431, 0}, false)
	defer s.Close()

	// VK_LSHIFT (0xA0) should force the shift modifier bit on for GFE hosts.
	require.NoError(s.SendKeyboard(0xA0, 1, 0, 0))
	pkt := recvPacket(t, sent)
	assert.Equal(uint8(types.ModifierShift), pkt.data[11])
}

func TestSendKeyboardSkipsFixupsForSunshine(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	s, sent := newCapturingStream([4]int{7, 1, 431, 0}, true)
	defer s.Close()

	require.NoError(s.SendKeyboard(0xA0, 1, 0, 0x3))
	pkt := recvPacket(t, sent)
	assert.Equal(uint8(0), pkt.data[11]) // no fixup, modifiers passed through unmodified
	assert.Equal(uint8(0x3), pkt.data[8])
}

func TestMethodsErrorAfterClose(t *testing.T) {
	assert := assert.New(t)

	s, _ := newCapturingStream([4]int{7, 1, 431, 0}, false)
	s.Close()

	assert.Equal(ErrNotInitialized, s.SendMouseMove(1, 1))
	assert.Equal(ErrNotInitialized, s.SendUTF8Text("hi"))
}

func TestSendUTF8TextBuildsMagicAndPayload(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	s, sent := newCapturingStream([4]int{7, 1, 431, 0}, false)
	defer s.Close()

	require.NoError(s.SendUTF8Text("hi"))
	pkt := recvPacket(t, sent)

	size := binary.BigEndian.Uint32(pkt.data[0:4])
	assert.Equal(uint32(4+2), size)
	magic := binary.LittleEndian.Uint32(pkt.data[4:8])
	assert.Equal(uint32(protocol.UTF8TextEventMagic), magic)
	assert.Equal([]byte("hi"), pkt.data[8:])
}

func TestEncryptedControlFramesAreLengthPrefixed(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	key := make([]byte, 16)
	sent := make(chan sentPacket, 8)
	s := NewStream([4]int{7, 1, 431, 0}, false, key, make([]byte, 16),
		func(channelID uint8, flags uint32, data []byte, moreData bool) error {
			sent <- sentPacket{channelID, flags, data}
			return nil
		})
	defer s.Close()

	require.True(s.encryptedCtrl)
	require.NoError(s.SendUTF8Text("a"))
	pkt := recvPacket(t, sent)

	length := binary.BigEndian.Uint32(pkt.data[0:4])
	assert.Equal(uint32(len(pkt.data)-lengthPrefixSize), length)
	// GCM framing appends a 16-byte tag beyond the plaintext-sized ciphertext.
	assert.Greater(len(pkt.data), lengthPrefixSize+16)
}
