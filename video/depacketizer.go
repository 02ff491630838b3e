package video

import "github.com/moonparty/moonlight-go/types"

// consecutiveDropLimit matches VideoDepacketizer.c's CONSECUTIVE_DROP_LIMIT:
// after this many frames are dropped waiting on a reference frame, the
// stream asks the host for a fresh IDR rather than waiting indefinitely.
const consecutiveDropLimit = 120

// depacketizer turns a reassembled (post-FEC) frame payload into a
// types.DecodeUnit, tracking the "waiting for IDR" recovery state that
// VideoDepacketizer.c maintains across frame loss.
type depacketizer struct {
	waitingForIdrFrame bool
	consecutiveDrops   int
}

func newDepacketizer() *depacketizer {
	return &depacketizer{waitingForIdrFrame: true}
}

// markLost records that a frame was abandoned before it could be fully
// reassembled (e.g. superseded by a later frame's start-of-frame packet
// while FEC recovery was still short of enough shards). It returns
// whether the running drop count now warrants requesting a fresh IDR.
func (d *depacketizer) markLost() (needIDR bool) {
	d.waitingForIdrFrame = true
	d.consecutiveDrops++
	return d.consecutiveDrops >= consecutiveDropLimit
}

// processFrame classifies the NAL units in a reassembled frame payload
// and either returns a decode unit ready for submission, or reports that
// the frame was dropped (and whether that drop run is long enough to
// warrant requesting a fresh IDR frame from the host).
func (d *depacketizer) processFrame(frameIndex uint32, payload []byte) (du *types.DecodeUnit, ok bool, needIDR bool) {
	nalUnits := splitNALUnits(payload)
	if len(nalUnits) == 0 {
		d.consecutiveDrops++
		return nil, false, d.consecutiveDrops >= consecutiveDropLimit
	}

	containsReferenceFrame := false
	containsIdrParamSet := false
	for _, u := range nalUnits {
		if len(u) == 0 {
			continue
		}
		nalType := u[0]
		if isReferenceFrameStart(nalType) {
			containsReferenceFrame = true
		}
		if isIdrFrameStart(nalType) {
			containsIdrParamSet = true
		}
	}

	if d.waitingForIdrFrame {
		if !containsIdrParamSet && !containsReferenceFrame {
			d.consecutiveDrops++
			return nil, false, d.consecutiveDrops >= consecutiveDropLimit
		}
		d.waitingForIdrFrame = false
	}
	d.consecutiveDrops = 0

	bufferList := make([]types.BufferDescriptor, 0, len(nalUnits))
	for _, u := range nalUnits {
		if len(u) == 0 {
			continue
		}
		bufferList = append(bufferList, types.BufferDescriptor{
			Type:   bufferTypeForNAL(u[0]),
			Data:   u,
			Offset: 0,
			Length: len(u),
		})
	}

	frameType := types.FrameTypePFrames
	if containsReferenceFrame {
		frameType = types.FrameTypeIDR
	}

	return &types.DecodeUnit{
		BufferList:  bufferList,
		FrameNumber: frameIndex,
		FrameType:   frameType,
		FullLength:  len(payload),
	}, true, false
}

// reset puts the depacketizer back into the "waiting for IDR" state and
// clears the drop count, so frames are dropped again until one carrying
// an IDR frame or its parameter sets arrives.
func (d *depacketizer) reset() {
	d.waitingForIdrFrame = true
	d.consecutiveDrops = 0
}
