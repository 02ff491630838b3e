package input

import (
	"encoding/binary"

	"github.com/moonparty/moonlight-go/protocol"
	"github.com/moonparty/moonlight-go/types"
)

// SendTouch sends a touch event (Sunshine only)
func (s *Stream) SendTouch(eventType uint8, pointerID uint32, x, y, pressure, contactMajor, contactMinor float32, rotation uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	if !s.isSunshine {
		return ErrUnsupported
	}

	packet := s.buildTouchPacket(eventType, pointerID, x, y, pressure, contactMajor, contactMinor, rotation)
	flags := uint32(protocol.ENetPacketFlagReliable)
	if eventType == uint8(types.TouchEventHover) || eventType == uint8(types.TouchEventMove) {
		flags = 0 // Allow dropping for hover/move events
	}
	return s.enqueue(protocol.CtrlChannelTouch, flags, packet)
}

// SendPen sends a pen/stylus event (Sunshine only)
func (s *Stream) SendPen(eventType, toolType, penButtons uint8, x, y, pressure float32,
	contactMajor, contactMinor float32, rotation uint16, tilt uint8) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	if !s.isSunshine {
		return ErrUnsupported
	}

	packet := s.buildPenPacket(eventType, toolType, penButtons, x, y, pressure, contactMajor, contactMinor, rotation, tilt)
	flags := uint32(protocol.ENetPacketFlagReliable)
	if (eventType == uint8(types.TouchEventHover) || eventType == uint8(types.TouchEventMove)) &&
		penButtons == s.currentPenButtonState {
		flags = 0
	}
	s.currentPenButtonState = penButtons
	return s.enqueue(protocol.CtrlChannelPen, flags, packet)
}

func (s *Stream) buildTouchPacket(eventType uint8, pointerID uint32, x, y, pressure, contactMajor, contactMinor float32, rotation uint16) []byte {
	buf := make([]byte, 40)
	binary.BigEndian.PutUint32(buf[0:4], 36)
	binary.LittleEndian.PutUint32(buf[4:8], protocol.SSTouchMagic)
	buf[8] = eventType
	// 3 bytes zero
	binary.LittleEndian.PutUint32(buf[12:16], pointerID)
	copy(buf[16:20], protocol.FloatToNetfloat(x)[:])
	copy(buf[20:24], protocol.FloatToNetfloat(y)[:])
	copy(buf[24:28], protocol.FloatToNetfloat(pressure)[:])
	copy(buf[28:32], protocol.FloatToNetfloat(contactMajor)[:])
	copy(buf[32:36], protocol.FloatToNetfloat(contactMinor)[:])
	binary.LittleEndian.PutUint16(buf[36:38], rotation)
	return buf
}

func (s *Stream) buildPenPacket(eventType, toolType, penButtons uint8, x, y, pressure, contactMajor, contactMinor float32, rotation uint16, tilt uint8) []byte {
	buf := make([]byte, 44)
	binary.BigEndian.PutUint32(buf[0:4], 40)
	binary.LittleEndian.PutUint32(buf[4:8], protocol.SSPenMagic)
	buf[8] = eventType
	buf[9] = toolType
	buf[10] = penButtons
	// 1 byte zero
	copy(buf[12:16], protocol.FloatToNetfloat(x)[:])
	copy(buf[16:20], protocol.FloatToNetfloat(y)[:])
	copy(buf[20:24], protocol.FloatToNetfloat(pressure)[:])
	binary.LittleEndian.PutUint16(buf[24:26], rotation)
	buf[26] = tilt
	// 1 byte zero
	copy(buf[28:32], protocol.FloatToNetfloat(contactMajor)[:])
	copy(buf[32:36], protocol.FloatToNetfloat(contactMinor)[:])
	return buf
}
