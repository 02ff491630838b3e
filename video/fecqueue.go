package video

import (
	"sort"

	"github.com/moonparty/moonlight-go/fec"
	"github.com/moonparty/moonlight-go/internal/seqnum"
	"github.com/moonparty/moonlight-go/protocol"
)

// fecBlock accumulates the RTP packets for one multi-block FEC group of a
// frame, grounded on RtpFecQueue.c's reconstructFrame but generalized to
// the multiFecBlockIndex/multiFecBlockCount fields Sunshine adds for
// frames that span more than one FEC block.
type fecBlock struct {
	blockIndex  int
	dataShards  int
	fecShards   int
	shardSize   int
	shards      [][]byte
	present     []bool
	receivedCnt int
}

func newFECBlock(dataShards, fecShards int) *fecBlock {
	total := dataShards + fecShards
	return &fecBlock{
		dataShards: dataShards,
		fecShards:  fecShards,
		shards:     make([][]byte, total),
		present:    make([]bool, total),
	}
}

func (b *fecBlock) addShard(index int, payload []byte) {
	if index < 0 || index >= len(b.shards) {
		return
	}
	if b.present[index] {
		return
	}
	if b.shardSize == 0 {
		b.shardSize = len(payload)
	}
	shard := make([]byte, b.shardSize)
	copy(shard, payload)
	b.shards[index] = shard
	b.present[index] = true
	b.receivedCnt++
}

func (b *fecBlock) canRecoverWithoutFEC() bool {
	for i := 0; i < b.dataShards; i++ {
		if !b.present[i] {
			return false
		}
	}
	return true
}

func (b *fecBlock) recoverable() bool {
	return b.receivedCnt >= b.dataShards
}

// reconstruct fills in any missing data shards, running the Reed-Solomon
// decoder only when a data shard was actually lost.
func (b *fecBlock) reconstruct() ([][]byte, error) {
	if b.canRecoverWithoutFEC() {
		return b.shards[:b.dataShards], nil
	}
	for i := range b.shards {
		if !b.present[i] {
			b.shards[i] = make([]byte, b.shardSize)
		}
	}
	rs, err := fec.New(b.dataShards, b.fecShards)
	if err != nil {
		return nil, err
	}
	if err := rs.Reconstruct(b.shards, b.present); err != nil {
		return nil, err
	}
	return b.shards[:b.dataShards], nil
}

// frameFECState tracks all the FEC blocks belonging to a single frame
// while its packets are still arriving.
type frameFECState struct {
	frameIndex  uint32
	blocks      map[int]*fecBlock
	blockCount  int
	totalLength int
}

// fecAssembler reassembles frame payloads from (possibly FEC-recovered)
// shards, keyed by frame index so that out-of-order completion across
// frames doesn't corrupt in-flight state. It also tracks the newest
// frame index seen so an incomplete older frame superseded by a later
// frame's arrival is reported as lost rather than left to accumulate
// forever.
type fecAssembler struct {
	frames      map[uint32]*frameFECState
	newestFrame uint32
	haveNewest  bool
}

func newFECAssembler() *fecAssembler {
	return &fecAssembler{frames: make(map[uint32]*frameFECState)}
}

// addPacket folds one received RTP video payload (sub-header stripped)
// into the FEC state for its frame and block. It returns the
// reassembled, contiguous frame payload once every block for the frame
// has recovered its data shards, or ok=false while more packets are
// still needed. lost reports any older, still-incomplete frames that
// this packet's arrival proves will never complete, in ascending
// wraparound-aware order.
func (a *fecAssembler) addPacket(hdr protocol.NVVideoPacket, payload []byte) (frame []byte, ok bool, lost []uint32) {
	if a.haveNewest && seqnum.Before32(hdr.FrameIndex, a.newestFrame) {
		// A packet for a frame already superseded; the frame was (or is
		// about to be) reported lost, nothing more to do with it.
		return nil, false, nil
	}
	if !a.haveNewest || seqnum.Before32(a.newestFrame, hdr.FrameIndex) {
		a.newestFrame = hdr.FrameIndex
		a.haveNewest = true
		lost = a.expire(hdr.FrameIndex)
	}

	fs, exists := a.frames[hdr.FrameIndex]
	if !exists {
		fs = &frameFECState{
			frameIndex: hdr.FrameIndex,
			blocks:     make(map[int]*fecBlock),
			blockCount: int(hdr.MultiFecBlocks) + 1,
		}
		a.frames[hdr.FrameIndex] = fs
	}

	blockIndex := int(hdr.MultiFecFlags)
	dataShards := protocol.FECInfoDataShards(hdr.FECInfo)
	shardIndex := protocol.FECInfoIndex(hdr.FECInfo)
	fecShards := dataShardsToFECShards(dataShards, protocol.FECInfoPercentage(hdr.FECInfo))

	blk, exists := fs.blocks[blockIndex]
	if !exists {
		blk = newFECBlock(dataShards, fecShards)
		blk.blockIndex = blockIndex
		fs.blocks[blockIndex] = blk
	}
	blk.addShard(shardIndex, payload)

	if len(fs.blocks) < fs.blockCount {
		return nil, false, lost
	}
	for _, b := range fs.blocks {
		if !b.recoverable() {
			return nil, false, lost
		}
	}

	blockIdxs := make([]int, 0, len(fs.blocks))
	for idx := range fs.blocks {
		blockIdxs = append(blockIdxs, idx)
	}
	sort.Ints(blockIdxs)

	var out []byte
	for _, idx := range blockIdxs {
		shards, err := fs.blocks[idx].reconstruct()
		if err != nil {
			delete(a.frames, hdr.FrameIndex)
			return nil, false, lost
		}
		for _, s := range shards {
			out = append(out, s...)
		}
	}
	delete(a.frames, hdr.FrameIndex)
	return out, true, lost
}

// expire drops any in-flight frame state older (by wraparound-aware
// frame index comparison) than the given floor, matching the teacher's
// practice of never waiting on a frame the depacketizer has moved past.
// It returns the indices it removed, in ascending order, so the caller
// can report them as lost.
func (a *fecAssembler) expire(floor uint32) []uint32 {
	var removed []uint32
	for idx := range a.frames {
		if seqnum.Before32(idx, floor) {
			removed = append(removed, idx)
			delete(a.frames, idx)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return seqnum.Before32(removed[i], removed[j]) })
	return removed
}

// dataShardsToFECShards derives the parity shard count from the
// percentage field the sender encodes in FECInfo, matching the ceiling
// division GFE/Sunshine uses when building the FEC block.
func dataShardsToFECShards(dataShards, percent int) int {
	if percent <= 0 {
		return 1
	}
	shards := (dataShards*percent + 99) / 100
	if shards < 1 {
		shards = 1
	}
	return shards
}
