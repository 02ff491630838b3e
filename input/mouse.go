package input

import (
	"encoding/binary"

	"github.com/moonparty/moonlight-go/protocol"
)

// SendMouseMove sends a relative mouse movement event
func (s *Stream) SendMouseMove(deltaX, deltaY int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	if deltaX == 0 && deltaY == 0 {
		return nil
	}

	s.currentRelMouseState.deltaX += int(deltaX)
	s.currentRelMouseState.deltaY += int(deltaY)

	if !s.currentRelMouseState.dirty {
		s.currentRelMouseState.dirty = true

		packet := s.buildRelMouseMovePacket(deltaX, deltaY)
		return s.enqueue(protocol.CtrlChannelMouse, protocol.ENetPacketFlagReliable, packet)
	}

	return nil
}

// SendMousePosition sends an absolute mouse position event
func (s *Stream) SendMousePosition(x, y, refWidth, refHeight int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	s.currentAbsMouseState.x = int(x)
	s.currentAbsMouseState.y = int(y)
	s.currentAbsMouseState.width = int(refWidth)
	s.currentAbsMouseState.height = int(refHeight)

	if !s.currentAbsMouseState.dirty {
		s.currentAbsMouseState.dirty = true

		packet := s.buildAbsMouseMovePacket(x, y, refWidth, refHeight)
		return s.enqueue(protocol.CtrlChannelMouse, protocol.ENetPacketFlagReliable, packet)
	}

	// Update virtual mouse position
	s.absCurrentPosX = clampFloat(float32(x)/float32(refWidth-1), 0, 1)
	s.absCurrentPosY = clampFloat(float32(y)/float32(refHeight-1), 0, 1)

	return nil
}

// SendMouseButton sends a mouse button event
func (s *Stream) SendMouseButton(action uint8, button int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	packet := s.buildMouseButtonPacket(action, button)
	return s.enqueue(protocol.CtrlChannelMouse, protocol.ENetPacketFlagReliable, packet)
}

// SendScroll sends a scroll event
func (s *Stream) SendScroll(amount int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	if amount == 0 {
		return nil
	}

	if s.needsBatchedScroll {
		return s.sendBatchedScroll(amount)
	}

	packet := s.buildScrollPacket(amount)
	return s.enqueue(protocol.CtrlChannelMouse, protocol.ENetPacketFlagReliable, packet)
}

// SendHighResScroll sends a high-resolution scroll event
func (s *Stream) SendHighResScroll(amount int16) error {
	return s.SendScroll(amount)
}

// SendHScroll sends a horizontal scroll event (Sunshine only)
func (s *Stream) SendHScroll(amount int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	if !s.isSunshine {
		return ErrUnsupported
	}

	if amount == 0 {
		return nil
	}

	packet := s.buildHScrollPacket(amount)
	return s.enqueue(protocol.CtrlChannelMouse, protocol.ENetPacketFlagReliable, packet)
}

func (s *Stream) sendBatchedScroll(amount int16) error {
	// Reset accumulated delta when direction changes
	if (s.batchedScrollDelta < 0 && amount > 0) || (s.batchedScrollDelta > 0 && amount < 0) {
		s.batchedScrollDelta = 0
	}

	s.batchedScrollDelta += int(amount)

	for abs(s.batchedScrollDelta) >= protocol.WheelDelta {
		sendAmount := int16(protocol.WheelDelta)
		if s.batchedScrollDelta < 0 {
			sendAmount = -sendAmount
		}

		packet := s.buildScrollPacket(sendAmount)
		if err := s.enqueue(protocol.CtrlChannelMouse, protocol.ENetPacketFlagReliable, packet); err != nil {
			return err
		}

		s.batchedScrollDelta -= int(sendAmount)
	}

	return nil
}

func (s *Stream) buildRelMouseMovePacket(deltaX, deltaY int16) []byte {
	buf := make([]byte, 12)
	magic := uint32(protocol.MouseMoveRelMagic)
	if s.appVersion[0] >= 5 {
		magic = protocol.MouseMoveRelMagicGen5
	}

	binary.BigEndian.PutUint32(buf[0:4], 8) // Size
	binary.LittleEndian.PutUint32(buf[4:8], magic)
	binary.BigEndian.PutUint16(buf[8:10], uint16(deltaX))
	binary.BigEndian.PutUint16(buf[10:12], uint16(deltaY))

	return buf
}

func (s *Stream) buildAbsMouseMovePacket(x, y, width, height int16) []byte {
	buf := make([]byte, 18)
	binary.BigEndian.PutUint32(buf[0:4], 14) // Size
	binary.LittleEndian.PutUint32(buf[4:8], protocol.MouseMoveAbsMagic)
	binary.BigEndian.PutUint16(buf[8:10], uint16(x))
	binary.BigEndian.PutUint16(buf[10:12], uint16(y))
	binary.BigEndian.PutUint16(buf[12:14], 0) // Unused
	binary.BigEndian.PutUint16(buf[14:16], uint16(width-1))
	binary.BigEndian.PutUint16(buf[16:18], uint16(height-1))
	return buf
}

func (s *Stream) buildMouseButtonPacket(action uint8, button int) []byte {
	buf := make([]byte, 9)
	magic := uint32(action)
	if s.appVersion[0] >= 5 {
		magic++
	}

	binary.BigEndian.PutUint32(buf[0:4], 5) // Size
	binary.LittleEndian.PutUint32(buf[4:8], magic)
	buf[8] = uint8(button)
	return buf
}

func (s *Stream) buildScrollPacket(amount int16) []byte {
	buf := make([]byte, 14)
	magic := uint32(protocol.ScrollMagic)
	if s.appVersion[0] >= 5 {
		magic = protocol.ScrollMagicGen5
	}

	binary.BigEndian.PutUint32(buf[0:4], 10) // Size
	binary.LittleEndian.PutUint32(buf[4:8], magic)
	binary.BigEndian.PutUint16(buf[8:10], uint16(amount))
	binary.BigEndian.PutUint16(buf[10:12], uint16(amount))
	binary.BigEndian.PutUint16(buf[12:14], 0)
	return buf
}

func (s *Stream) buildHScrollPacket(amount int16) []byte {
	buf := make([]byte, 10)
	binary.BigEndian.PutUint32(buf[0:4], 6) // Size
	binary.LittleEndian.PutUint32(buf[4:8], protocol.SSHScrollMagic)
	binary.BigEndian.PutUint16(buf[8:10], uint16(amount))
	return buf
}
