package video

// ControlFeedback is the subset of control.Stream the video stream needs
// to report frame delivery outcomes back over the control channel:
// periodic loss statistics, invalidate-reference-frame ranges for frames
// abandoned before FEC could finish them, and on-demand IDR requests.
// control.Stream satisfies this directly; tests can stub it.
type ControlFeedback interface {
	UpdateFrameStats(frameIndex uint32, isGood bool)
	QueueInvalidateReferenceFrames(start, end uint32)
	RequestIDRFrame() error
}
