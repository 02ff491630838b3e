package input

import (
	"encoding/binary"

	"github.com/moonparty/moonlight-go/protocol"
)

// SendController sends a controller state event
func (s *Stream) SendController(buttonFlags int, leftTrigger, rightTrigger uint8,
	leftStickX, leftStickY, rightStickX, rightStickY int16) error {
	return s.SendMultiController(0, 1, buttonFlags, leftTrigger, rightTrigger,
		leftStickX, leftStickY, rightStickX, rightStickY)
}

// SendMultiController sends a multi-controller state event
func (s *Stream) SendMultiController(controllerNumber, activeGamepadMask int16, buttonFlags int,
	leftTrigger, rightTrigger uint8, leftStickX, leftStickY, rightStickX, rightStickY int16) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	// Fix sign extension bug from old clients
	if buttonFlags < 0 {
		buttonFlags &= 0xFFFF
	}

	// Limit controller numbers for GFE
	if !s.isSunshine {
		controllerNumber %= 4
		activeGamepadMask &= 0xF

		// Map MISC to SPECIAL for GFE
		if buttonFlags&protocol.ButtonMisc != 0 {
			buttonFlags |= protocol.ButtonHome
		}
	} else {
		controllerNumber %= MaxGamepads
	}

	packet := s.buildMultiControllerPacket(controllerNumber, activeGamepadMask, buttonFlags,
		leftTrigger, rightTrigger, leftStickX, leftStickY, rightStickX, rightStickY)

	channelID := uint8(protocol.CtrlChannelGamepadBase + controllerNumber)
	return s.enqueue(channelID, protocol.ENetPacketFlagReliable, packet)
}

// SendControllerArrival sends a controller arrival notification (Sunshine only)
func (s *Stream) SendControllerArrival(controllerNumber uint8, activeGamepadMask uint16,
	controllerType uint8, supportedButtons uint32, capabilities uint16) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	controllerNumber %= MaxGamepads

	if s.isSunshine {
		packet := s.buildControllerArrivalPacket(controllerNumber, controllerType, capabilities, supportedButtons)
		channelID := uint8(protocol.CtrlChannelGamepadBase + int(controllerNumber))
		if err := s.enqueue(channelID, protocol.ENetPacketFlagReliable, packet); err != nil {
			return err
		}
	}

	// Also send MC event for compatibility
	return s.SendMultiController(int16(controllerNumber), int16(activeGamepadMask), 0, 0, 0, 0, 0, 0, 0)
}

// SendControllerMotion sends motion sensor data (Sunshine only)
func (s *Stream) SendControllerMotion(controllerNumber, motionType uint8, x, y, z float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	if !s.isSunshine {
		return ErrUnsupported
	}

	if motionType < 1 || motionType > MaxMotionEvents {
		return ErrInvalidParameter
	}

	controllerNumber %= MaxGamepads

	s.gamepadSensorState[controllerNumber][motionType-1].x = x
	s.gamepadSensorState[controllerNumber][motionType-1].y = y
	s.gamepadSensorState[controllerNumber][motionType-1].z = z

	if !s.gamepadSensorState[controllerNumber][motionType-1].dirty {
		s.gamepadSensorState[controllerNumber][motionType-1].dirty = true

		packet := s.buildControllerMotionPacket(controllerNumber, motionType, x, y, z)
		channelID := uint8(protocol.CtrlChannelSensorBase + int(controllerNumber))
		return s.enqueue(channelID, protocol.ENetPacketFlagReliable, packet)
	}

	return nil
}

// SendControllerBattery sends battery status (Sunshine only)
func (s *Stream) SendControllerBattery(controllerNumber, batteryState, percentage uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	if !s.isSunshine {
		return ErrUnsupported
	}

	controllerNumber %= MaxGamepads
	packet := s.buildControllerBatteryPacket(controllerNumber, batteryState, percentage)
	channelID := uint8(protocol.CtrlChannelGamepadBase + int(controllerNumber))
	return s.enqueue(channelID, protocol.ENetPacketFlagReliable, packet)
}

func (s *Stream) buildMultiControllerPacket(controllerNumber, activeGamepadMask int16, buttonFlags int,
	leftTrigger, rightTrigger uint8, leftStickX, leftStickY, rightStickX, rightStickY int16) []byte {

	buf := make([]byte, 30)
	magic := uint32(protocol.MultiControllerMagic)
	if s.appVersion[0] >= 5 {
		magic = protocol.MultiControllerMagicGen5
	}

	binary.BigEndian.PutUint32(buf[0:4], 26) // Size
	binary.LittleEndian.PutUint32(buf[4:8], magic)
	binary.LittleEndian.PutUint16(buf[8:10], protocol.MultiControllerHeaderB)
	binary.LittleEndian.PutUint16(buf[10:12], uint16(controllerNumber))
	binary.LittleEndian.PutUint16(buf[12:14], uint16(activeGamepadMask))
	binary.LittleEndian.PutUint16(buf[14:16], protocol.MultiControllerMidB)
	binary.LittleEndian.PutUint16(buf[16:18], uint16(buttonFlags&0xFFFF))
	buf[18] = leftTrigger
	buf[19] = rightTrigger
	binary.LittleEndian.PutUint16(buf[20:22], uint16(leftStickX))
	binary.LittleEndian.PutUint16(buf[22:24], uint16(leftStickY))
	binary.LittleEndian.PutUint16(buf[24:26], uint16(rightStickX))
	binary.LittleEndian.PutUint16(buf[26:28], uint16(rightStickY))
	binary.LittleEndian.PutUint16(buf[28:30], protocol.MultiControllerTailA)

	if s.isSunshine {
		// Extended packet with buttonFlags2
		buf = append(buf, 0, 0, 0, 0)
		binary.LittleEndian.PutUint16(buf[30:32], uint16(buttonFlags>>16))
		binary.LittleEndian.PutUint16(buf[32:34], protocol.MultiControllerTailB)
		binary.BigEndian.PutUint32(buf[0:4], 30) // Update size
	}

	return buf
}

func (s *Stream) buildControllerArrivalPacket(controllerNumber, controllerType uint8, capabilities uint16, supportedButtons uint32) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], 12)
	binary.LittleEndian.PutUint32(buf[4:8], protocol.SSControllerArrivalMagic)
	buf[8] = controllerNumber
	buf[9] = controllerType
	binary.LittleEndian.PutUint16(buf[10:12], capabilities)
	binary.LittleEndian.PutUint32(buf[12:16], supportedButtons)
	return buf
}

func (s *Stream) buildControllerMotionPacket(controllerNumber, motionType uint8, x, y, z float32) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint32(buf[0:4], 20)
	binary.LittleEndian.PutUint32(buf[4:8], protocol.SSControllerMotionMagic)
	buf[8] = controllerNumber
	buf[9] = motionType
	// 2 bytes zero
	copy(buf[12:16], protocol.FloatToNetfloat(x)[:])
	copy(buf[16:20], protocol.FloatToNetfloat(y)[:])
	copy(buf[20:24], protocol.FloatToNetfloat(z)[:])
	return buf
}

func (s *Stream) buildControllerBatteryPacket(controllerNumber, batteryState, percentage uint8) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], 8)
	binary.LittleEndian.PutUint32(buf[4:8], protocol.SSControllerBatteryMagic)
	buf[8] = controllerNumber
	buf[9] = batteryState
	buf[10] = percentage
	// 1 byte zero
	return buf
}
