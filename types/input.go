package types

// ControllerType identifies the gamepad style reported alongside controller
// arrival events, matching Limelight.h's LI_CTYPE_* constants.
type ControllerType uint8

const (
	ControllerTypeUnknown ControllerType = iota
	ControllerTypeXbox
	ControllerTypePS
	ControllerTypeNintendo
)

// ControllerCapabilities is the LI_CCAP_* bitmask a controller arrival
// event reports: analog triggers, rumble, motion sensors, and so on.
type ControllerCapabilities uint16

const (
	CapAnalogTriggers ControllerCapabilities = 0x01
	CapRumble         ControllerCapabilities = 0x02
	CapTriggerRumble  ControllerCapabilities = 0x04
	CapTouchpad       ControllerCapabilities = 0x08
	CapAccelerometer  ControllerCapabilities = 0x10
	CapGyro           ControllerCapabilities = 0x20
	CapBattery        ControllerCapabilities = 0x40
	CapRGB            ControllerCapabilities = 0x80
)

// Button flags for SendController/SendMultiController, matching
// Limelight.h's A_FLAG/B_FLAG/... constants. Paddle and misc/touchpad
// buttons are Sunshine extensions absent from stock GeForce Experience hosts.
const (
	ButtonUp          = 0x0001
	ButtonDown        = 0x0002
	ButtonLeft        = 0x0004
	ButtonRight       = 0x0008
	ButtonStart       = 0x0010
	ButtonBack        = 0x0020
	ButtonLeftStick   = 0x0040
	ButtonRightStick  = 0x0080
	ButtonLeftBumper  = 0x0100
	ButtonRightBumper = 0x0200
	ButtonHome        = 0x0400
	ButtonA           = 0x1000
	ButtonB           = 0x2000
	ButtonX           = 0x4000
	ButtonY           = 0x8000

	ButtonMisc     = 0x010000
	ButtonPaddle1  = 0x020000
	ButtonPaddle2  = 0x040000
	ButtonPaddle3  = 0x080000
	ButtonPaddle4  = 0x100000
	ButtonTouchpad = 0x200000
)

// Key actions for SendKeyboard, matching the Windows WM_KEYDOWN/WM_KEYUP action codes.
const (
	KeyActionDown = 0x03
	KeyActionUp   = 0x04
)

// Key modifiers, ORed into SendKeyboard's modifier byte.
const (
	ModifierShift = 0x01
	ModifierCtrl  = 0x02
	ModifierAlt   = 0x04
	ModifierMeta  = 0x08
)

// Mouse button identifiers for SendMouseButton.
const (
	MouseButtonLeft   = 0x01
	MouseButtonMiddle = 0x02
	MouseButtonRight  = 0x03
	MouseButtonX1     = 0x04
	MouseButtonX2     = 0x05
)

// Mouse button actions for SendMouseButton.
const (
	MouseActionPress   = 0x07
	MouseActionRelease = 0x08
)

// TouchEventType distinguishes the phases of a Sunshine touch/pen event stream.
type TouchEventType uint8

const (
	TouchEventHover TouchEventType = iota
	TouchEventDown
	TouchEventUp
	TouchEventMove
	TouchEventCancel
	TouchEventCancelAll
	TouchEventHoverLeave
	TouchEventButtonOnly
)

// PenToolType distinguishes a stylus's pen and eraser ends.
type PenToolType uint8

const (
	PenToolUnknown PenToolType = iota
	PenToolPen
	PenToolEraser
)

// Pen button flags for SendPen.
const (
	PenButtonPrimary   = 0x01
	PenButtonSecondary = 0x02
	PenButtonTertiary  = 0x04
)

// MotionType selects which controller motion sensor a
// SetMotionEventState/SendControllerMotion call targets.
type MotionType uint8

const (
	MotionTypeAccelerometer MotionType = 1
	MotionTypeGyro          MotionType = 2
)

// BatteryState reports a controller's power state, matching Limelight.h's
// LI_BATTERY_STATE_* constants.
type BatteryState uint8

const (
	BatteryStateUnknown     BatteryState = 0x00
	BatteryStateNotPresent  BatteryState = 0x01
	BatteryStateDischarging BatteryState = 0x02
	BatteryStateCharging    BatteryState = 0x03
	BatteryStateNotCharging BatteryState = 0x04 // Plugged in, not charging (full, or temperature-limited).
	BatteryStateFull        BatteryState = 0x05
)

// Feature flags (Sunshine extensions) advertised during the handshake.
const (
	FFPenTouchEvents        = 0x01
	FFControllerTouchEvents = 0x02
)
