// Package reorder implements the generic RTP reorder queue described by
// RtpReorderQueue.c: a small bounded window that lets a handful of
// reordered packets resettle before being forced out by a size or time
// bound.
package reorder

import (
	"container/list"
	"time"
)

// Return flags, matching RTPQ_RET_* in RtpReorderQueue.c/RtpAudioQueue.h.
const (
	RetPacketConsumed = 0x1
	RetPacketReady    = 0x2
	RetHandleNow      = 0x4
)

// Packet is anything with an RTP sequence number the queue can order by.
type Packet interface {
	SequenceNumber() uint16
}

const (
	// DefaultMaxSize matches RTPQ_DEFAULT_MAX_SIZE.
	DefaultMaxSize = 16
	// DefaultMaxQueueTimeMs matches RTPQ_DEFAULT_QUEUE_TIME.
	DefaultMaxQueueTimeMs = 40
)

type entry struct {
	pkt      Packet
	queuedAt time.Time
}

// Queue is a bounded, time-bounded RTP reorder window.
type Queue struct {
	maxSize        int
	maxQueueTimeMs int64

	entries            *list.List // ordered by insertion, not by sequence
	nextSequenceNumber uint16
	haveNext           bool
	oldestQueuedAt     time.Time
	hasOldest          bool

	now func() time.Time
}

// New creates a reorder queue with the given size and time bounds.
func New(maxSize int, maxQueueTimeMs int64) *Queue {
	return &Queue{
		maxSize:        maxSize,
		maxQueueTimeMs: maxQueueTimeMs,
		entries:        list.New(),
		now:            time.Now,
	}
}

func (q *Queue) updateOldestQueued() {
	q.hasOldest = false
	for e := q.entries.Front(); e != nil; e = e.Next() {
		en := e.Value.(*entry)
		if !q.hasOldest || en.queuedAt.Before(q.oldestQueuedAt) {
			q.oldestQueuedAt = en.queuedAt
			q.hasOldest = true
		}
	}
}

func (q *Queue) lowestSeqElement() *list.Element {
	var best *list.Element
	for e := q.entries.Front(); e != nil; e = e.Next() {
		if best == nil || isBefore16(e.Value.(*entry).pkt.SequenceNumber(), best.Value.(*entry).pkt.SequenceNumber()) {
			best = e
		}
	}
	return best
}

func isBefore16(a, b uint16) bool {
	return int16(a-b) < 0
}

// removeLowest pulls the lowest-sequence entry out of the window,
// updating nextSequenceNumber the same way getEntryByLowestSeq does in
// the original.
func (q *Queue) removeLowest() Packet {
	e := q.lowestSeqElement()
	if e == nil {
		return nil
	}
	en := q.entries.Remove(e).(*entry)
	q.nextSequenceNumber = en.pkt.SequenceNumber() + 1
	q.haveNext = true
	q.updateOldestQueued()
	return en.pkt
}

func (q *Queue) enforceConstraints() Packet {
	if q.entries.Len() == 0 {
		return nil
	}
	timeExceeded := q.hasOldest && q.now().Sub(q.oldestQueuedAt).Milliseconds() > q.maxQueueTimeMs
	sizeExceeded := q.entries.Len() >= q.maxSize-1
	if timeExceeded || sizeExceeded {
		return q.removeLowest()
	}
	return nil
}

// AddPacket offers a packet to the queue, returning the RETPACKET_*
// flags describing what the caller should do next.
func (q *Queue) AddPacket(pkt Packet) (ret int, forced Packet) {
	seq := pkt.SequenceNumber()

	if q.haveNext {
		if isBefore16(seq, q.nextSequenceNumber) {
			// Already delivered or duplicate; drop.
			return RetPacketConsumed, nil
		}
		if seq == q.nextSequenceNumber {
			q.nextSequenceNumber = seq + 1
			return RetHandleNow, nil
		}
	}

	// Dedup against what's already queued.
	for e := q.entries.Front(); e != nil; e = e.Next() {
		if e.Value.(*entry).pkt.SequenceNumber() == seq {
			return RetPacketConsumed, nil
		}
	}

	en := &entry{pkt: pkt, queuedAt: q.now()}
	q.entries.PushBack(en)
	if !q.hasOldest || en.queuedAt.Before(q.oldestQueuedAt) {
		q.oldestQueuedAt = en.queuedAt
		q.hasOldest = true
	}

	ret = RetPacketConsumed
	forcedEntry := q.enforceConstraints()
	if forcedEntry != nil {
		ret |= RetPacketReady
	}
	return ret, forcedEntry
}

// GetQueuedPacket returns the next in-order packet if present, consuming
// it from the window.
func (q *Queue) GetQueuedPacket() Packet {
	if !q.haveNext {
		// Bootstrap: allow the lowest sequence number queued to start the run.
		e := q.lowestSeqElement()
		if e == nil {
			return nil
		}
		en := q.entries.Remove(e).(*entry)
		q.nextSequenceNumber = en.pkt.SequenceNumber() + 1
		q.haveNext = true
		q.updateOldestQueued()
		return en.pkt
	}

	for e := q.entries.Front(); e != nil; e = e.Next() {
		en := e.Value.(*entry)
		if en.pkt.SequenceNumber() == q.nextSequenceNumber {
			q.entries.Remove(e)
			q.nextSequenceNumber++
			q.updateOldestQueued()
			return en.pkt
		}
	}
	q.updateOldestQueued()
	return nil
}
