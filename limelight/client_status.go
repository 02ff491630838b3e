package limelight

// Video, audio and control status API: everything a caller polls once
// a session is up, rather than pushes into it.

// RequestIDRFrame requests a keyframe from the server. video.Stream's
// RequestIDRFrame already forwards the request over the control stream,
// so this just delegates to it.
func (c *Client) RequestIDRFrame() {
	if c.videoStream != nil {
		c.videoStream.RequestIDRFrame()
	}
}

// GetVideoStats returns current video statistics
func (c *Client) GetVideoStats() RTPVideoStats {
	if c.videoStream == nil {
		return RTPVideoStats{}
	}
	return c.videoStream.GetStats()
}

// GetPendingAudioFrames returns the number of pending audio frames
func (c *Client) GetPendingAudioFrames() int {
	if c.audioStream == nil {
		return 0
	}
	return c.audioStream.GetPendingFrames()
}

// GetPendingAudioDuration returns the pending audio duration in milliseconds
func (c *Client) GetPendingAudioDuration() int {
	if c.audioStream == nil {
		return 0
	}
	return c.audioStream.GetPendingDuration()
}

// GetAudioStats returns current audio statistics
func (c *Client) GetAudioStats() RTPAudioStats {
	if c.audioStream == nil {
		return RTPAudioStats{}
	}
	return c.audioStream.GetStats()
}

// GetRTTInfo returns estimated round-trip time information
func (c *Client) GetRTTInfo() (RTTInfo, bool) {
	if c.controlStream == nil {
		return RTTInfo{}, false
	}
	return c.controlStream.GetRTTInfo()
}

// IsHDREnabled returns whether HDR is currently enabled
func (c *Client) IsHDREnabled() bool {
	if c.controlStream == nil {
		return false
	}
	return c.controlStream.IsHDREnabled()
}

// GetHDRMetadata returns the current HDR metadata
func (c *Client) GetHDRMetadata() (HDRMetadata, bool) {
	if c.controlStream == nil {
		return HDRMetadata{}, false
	}
	return c.controlStream.GetHDRMetadata()
}

// GetNegotiatedVideoFormat returns the negotiated video format
func (c *Client) GetNegotiatedVideoFormat() VideoFormat {
	return c.videoFormat
}

// IsConnected returns whether the client is currently connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// GetCurrentStage returns the current connection stage
func (c *Client) GetCurrentStage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}
