package input

import (
	"encoding/binary"

	"github.com/moonparty/moonlight-go/protocol"
	"github.com/moonparty/moonlight-go/types"
)

// SendKeyboard sends a keyboard event
func (s *Stream) SendKeyboard(keyCode int16, keyAction uint8, modifiers uint8, flags uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	// Apply modifier fixups for GFE compatibility
	if !s.isSunshine {
		keyCode, modifiers = s.fixModifiers(keyCode, modifiers)
	}

	packet := s.buildKeyboardPacket(keyCode, keyAction, modifiers, flags)
	return s.enqueue(protocol.CtrlChannelKeyboard, protocol.ENetPacketFlagReliable, packet)
}

func (s *Stream) fixModifiers(keyCode int16, modifiers uint8) (int16, uint8) {
	switch keyCode & 0xFF {
	case 0x5B, 0x5C: // VK_LWIN, VK_RWIN
		modifiers &^= types.ModifierMeta
	case 0xA0: // VK_LSHIFT
		modifiers |= types.ModifierShift
	case 0xA1: // VK_RSHIFT
		modifiers &^= types.ModifierShift
	case 0xA2: // VK_LCONTROL
		modifiers |= types.ModifierCtrl
	case 0xA3: // VK_RCONTROL
		modifiers &^= types.ModifierCtrl
	case 0xA4: // VK_LMENU
		modifiers |= types.ModifierAlt
	case 0xA5: // VK_RMENU
		modifiers &^= types.ModifierAlt
	}
	return keyCode, modifiers
}

func (s *Stream) buildKeyboardPacket(keyCode int16, action, modifiers, flags uint8) []byte {
	buf := make([]byte, 14)
	binary.BigEndian.PutUint32(buf[0:4], 10) // Size
	binary.LittleEndian.PutUint32(buf[4:8], uint32(action))

	if s.isSunshine {
		buf[8] = flags
	} else {
		buf[8] = 0
	}
	binary.LittleEndian.PutUint16(buf[9:11], uint16(keyCode))
	buf[11] = modifiers
	buf[12] = 0
	buf[13] = 0
	return buf
}

func (s *Stream) buildUTF8TextPacket(text string) []byte {
	textBytes := []byte(text)
	buf := make([]byte, 8+len(textBytes))
	binary.BigEndian.PutUint32(buf[0:4], uint32(4+len(textBytes)))
	binary.LittleEndian.PutUint32(buf[4:8], protocol.UTF8TextEventMagic)
	copy(buf[8:], textBytes)
	return buf
}
