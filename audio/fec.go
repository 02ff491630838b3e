package audio

import (
	"github.com/moonparty/moonlight-go/fec"
	"github.com/moonparty/moonlight-go/internal/seqnum"
)

// Shard layout constants, matching RtpAudioQueue.h's RTPA_DATA_SHARDS /
// RTPA_FEC_SHARDS / RTPA_TOTAL_SHARDS / RTPA_CACHED_FEC_BLOCK_LIMIT: each
// audio FEC block covers 4 consecutive RTP packets and carries 2 parity
// shards, and at most 4 blocks are ever tracked at once.
const (
	AudioDataShards      = 4
	AudioFECShards       = 2
	AudioTotalShards     = AudioDataShards + AudioFECShards
	cachedFECBlockLimit  = 4
	oosWaitTimeMs        = 10
)

// audioFECBlock tracks the shards received so far for one base-sequence
// group of AudioDataShards RTP packets (plus its FEC parity packets).
type audioFECBlock struct {
	baseSequence uint16
	shards       [AudioTotalShards][]byte
	present      [AudioTotalShards]bool
	received     int
}

func newAudioFECBlock(baseSequence uint16) *audioFECBlock {
	return &audioFECBlock{baseSequence: baseSequence}
}

func (b *audioFECBlock) addShard(index int, payload []byte) {
	if index < 0 || index >= AudioTotalShards || b.present[index] {
		return
	}
	shard := make([]byte, len(payload))
	copy(shard, payload)
	b.shards[index] = shard
	b.present[index] = true
	b.received++
}

func (b *audioFECBlock) haveAllData() bool {
	for i := 0; i < AudioDataShards; i++ {
		if !b.present[i] {
			return false
		}
	}
	return true
}

func (b *audioFECBlock) recoverable() bool {
	return b.received >= AudioDataShards
}

// recoverDataShards returns all AudioDataShards packet payloads for the
// block, running Reed-Solomon reconstruction only if a data shard is
// actually missing.
func (b *audioFECBlock) recoverDataShards() ([][]byte, error) {
	if b.haveAllData() {
		return append([][]byte(nil), b.shards[:AudioDataShards]...), nil
	}

	shardSize := 0
	for _, s := range b.shards {
		if len(s) > shardSize {
			shardSize = len(s)
		}
	}
	full := make([][]byte, AudioTotalShards)
	present := make([]bool, AudioTotalShards)
	for i := range full {
		if b.present[i] {
			full[i] = b.shards[i]
		} else {
			full[i] = make([]byte, shardSize)
		}
		present[i] = b.present[i]
	}

	rs, err := fec.New(AudioDataShards, AudioFECShards)
	if err != nil {
		return nil, err
	}
	if err := rs.Reconstruct(full, present); err != nil {
		return nil, err
	}
	return full[:AudioDataShards], nil
}

// fecAudioQueue maintains a small cache of in-flight FEC blocks, each
// keyed by the base sequence number of its first data shard, matching
// RtpAudioQueue.h's RTP_AUDIO_QUEUE's bounded block cache.
type fecAudioQueue struct {
	blocks      map[uint16]*audioFECBlock
	order       []uint16
	nextExpect  uint16
	haveExpect  bool
}

func newFECAudioQueue() *fecAudioQueue {
	return &fecAudioQueue{blocks: make(map[uint16]*audioFECBlock)}
}

// baseSequenceFor derives the base sequence number of the data-shard
// group a given RTP sequence number falls into.
func baseSequenceFor(seq uint16, shardIndex int) uint16 {
	return seq - uint16(shardIndex)
}

// addPacket folds one audio RTP payload (its AUDIO_FEC_HEADER already
// stripped) into the block it belongs to and, when the block's data
// shards are all recoverable, returns them packet by packet in order.
func (q *fecAudioQueue) addPacket(baseSequence uint16, shardIndex int, payload []byte) (recovered [][]byte, ok bool) {
	if q.haveExpect && seqnum.Before16(baseSequence, q.nextExpect) {
		return nil, false
	}

	blk, exists := q.blocks[baseSequence]
	if !exists {
		blk = newAudioFECBlock(baseSequence)
		q.blocks[baseSequence] = blk
		q.order = append(q.order, baseSequence)
		q.evictOldest()
	}
	blk.addShard(shardIndex, payload)

	if !blk.recoverable() {
		return nil, false
	}

	shards, err := blk.recoverDataShards()
	delete(q.blocks, baseSequence)
	q.removeFromOrder(baseSequence)
	if err != nil {
		return nil, false
	}

	q.nextExpect = baseSequence + AudioDataShards
	q.haveExpect = true
	return shards, true
}

func (q *fecAudioQueue) removeFromOrder(seq uint16) {
	for i, s := range q.order {
		if s == seq {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

// evictOldest drops the oldest tracked block once the cache exceeds
// cachedFECBlockLimit, the way the original discards FEC state it can no
// longer realistically complete.
func (q *fecAudioQueue) evictOldest() {
	for len(q.order) > cachedFECBlockLimit {
		oldest := q.order[0]
		q.order = q.order[1:]
		delete(q.blocks, oldest)
	}
}
