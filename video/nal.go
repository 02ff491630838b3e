package video

import "github.com/moonparty/moonlight-go/types"

// NAL unit type bytes, grounded on VideoDepacketizer.c's
// isSeqReferenceFrameStart/isIdrFrameStart/getBufferFlags. H.265 values
// are the NAL header's first byte (type<<1), not the raw nal_unit_type.
const (
	nalH264SPS      = 0x67
	nalH264PPS      = 0x68
	nalH264IDRSlice = 0x65

	nalH265VPS = 0x40
	nalH265SPS = 0x42
	nalH265PPS = 0x44

	// IRAP (random-access) slice NAL types for H.265: BLA_W_LP(16) through
	// CRA_NUT(21), each left-shifted by one bit as they appear on the wire.
	nalH265IRAPMin = 0x20
	nalH265IRAPMax = 0x2A
)

func isH265IRAPStart(nalType byte) bool {
	return nalType >= nalH265IRAPMin && nalType <= nalH265IRAPMax && nalType%2 == 0
}

// isReferenceFrameStart reports whether this NAL begins a frame that can
// serve as a decode reference point: an H.264 IDR slice or an H.265 IRAP
// slice.
func isReferenceFrameStart(nalType byte) bool {
	return nalType == nalH264IDRSlice || isH265IRAPStart(nalType)
}

// isIdrFrameStart reports whether this NAL begins the parameter-set run
// that precedes an IDR access unit: H.264 SPS or H.265 VPS.
func isIdrFrameStart(nalType byte) bool {
	return nalType == nalH264SPS || nalType == nalH265VPS
}

// bufferTypeForNAL tags a NAL unit's buffer-chain role for the decode
// unit's BufferDescriptor list.
func bufferTypeForNAL(nalType byte) types.BufferType {
	switch nalType {
	case nalH264SPS, nalH265SPS:
		return types.BufferTypeSPS
	case nalH264PPS, nalH265PPS:
		return types.BufferTypePPS
	case nalH265VPS:
		return types.BufferTypeVPS
	default:
		return types.BufferTypePicData
	}
}

// isStartCode reports whether data[offset:] begins a "00 00 01" or
// "00 00 00 01" Annex-B start code, returning the code's length. The
// 4-byte form is checked first so it isn't missed as a 3-byte code.
func isStartCode(data []byte, offset int) (length int, ok bool) {
	if offset+4 <= len(data) && data[offset] == 0 && data[offset+1] == 0 && data[offset+2] == 0 && data[offset+3] == 1 {
		return 4, true
	}
	if offset+3 <= len(data) && data[offset] == 0 && data[offset+1] == 0 && data[offset+2] == 1 {
		return 3, true
	}
	return 0, false
}

// isPaddingRun reports whether data[offset:] is a legal Annex-B trailing
// zero-padding run ("00 00 00" with no following 1 byte before the end of
// the buffer) — VideoDepacketizer.c tolerates this at the tail of a
// fragment rather than treating it as a malformed start code.
func isPaddingRun(data []byte, offset int) bool {
	if offset+3 > len(data) {
		return false
	}
	return data[offset] == 0 && data[offset+1] == 0 && data[offset+2] == 0
}

// splitNALUnits scans an Annex-B buffer and returns each NAL unit's
// payload (start-code stripped) in order, mirroring
// VideoDepacketizer.c::processRtpPayloadSlow.
func splitNALUnits(data []byte) [][]byte {
	var units [][]byte

	i := 0
	// Find first start code.
	for i < len(data) {
		if n, ok := isStartCode(data, i); ok {
			i += n
			break
		}
		i++
	}

	unitStart := i
	for i < len(data) {
		if n, ok := isStartCode(data, i); ok {
			if i > unitStart {
				units = append(units, data[unitStart:i])
			}
			i += n
			unitStart = i
			continue
		}
		if isPaddingRun(data, i) {
			// Trailing zero padding; the unit ends here.
			if i > unitStart {
				units = append(units, data[unitStart:i])
			}
			return units
		}
		i++
	}
	if unitStart < len(data) {
		units = append(units, data[unitStart:])
	}
	return units
}
