package limelight

import "fmt"

// Input API. Every method here delegates to the input.Stream created
// during StageInputStreamInit; calling any of them before Start (or
// after Stop) returns an error instead of panicking on a nil stream.

// SendMouseMove sends a relative mouse movement event
func (c *Client) SendMouseMove(deltaX, deltaY int16) error {
	if c.inputStream == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputStream.SendMouseMove(deltaX, deltaY)
}

// SendMousePosition sends an absolute mouse position event
func (c *Client) SendMousePosition(x, y, refWidth, refHeight int16) error {
	if c.inputStream == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputStream.SendMousePosition(x, y, refWidth, refHeight)
}

// SendMouseButton sends a mouse button event
func (c *Client) SendMouseButton(action uint8, button int) error {
	if c.inputStream == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputStream.SendMouseButton(action, button)
}

// SendKeyboard sends a keyboard event
func (c *Client) SendKeyboard(keyCode int16, keyAction uint8, modifiers uint8) error {
	if c.inputStream == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputStream.SendKeyboard(keyCode, keyAction, modifiers, 0)
}

// SendScroll sends a scroll wheel event
func (c *Client) SendScroll(amount int16) error {
	if c.inputStream == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputStream.SendScroll(amount)
}

// SendController sends a controller state event
func (c *Client) SendController(buttonFlags int, leftTrigger, rightTrigger uint8,
	leftStickX, leftStickY, rightStickX, rightStickY int16) error {
	if c.inputStream == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputStream.SendController(buttonFlags, leftTrigger, rightTrigger,
		leftStickX, leftStickY, rightStickX, rightStickY)
}

// SendMultiController sends a multi-controller state event
func (c *Client) SendMultiController(controllerNumber, activeGamepadMask int16, buttonFlags int,
	leftTrigger, rightTrigger uint8, leftStickX, leftStickY, rightStickX, rightStickY int16) error {
	if c.inputStream == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputStream.SendMultiController(controllerNumber, activeGamepadMask, buttonFlags,
		leftTrigger, rightTrigger, leftStickX, leftStickY, rightStickX, rightStickY)
}

// SendUTF8Text sends UTF-8 text input
func (c *Client) SendUTF8Text(text string) error {
	if c.inputStream == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputStream.SendUTF8Text(text)
}
