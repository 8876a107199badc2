// SPDX-License-Identifier: MPL-2.0

// Package jitter implements a timeout-driven RTP jitter buffer per
// spec.md §4.4: packets are admitted keyed by sequence number, an
// in-order arrival is delivered immediately, and anything that arrives
// out of order is held until either the gap closes or its arrival age
// reaches buffer-time, at which point a single timer drains the buffer
// by arrival-age and conceals whatever never showed up. This trades
// latency for smoothness, unlike a WebRTC NACK/REMB buffer that instead
// asks the sender to retransmit.
package jitter

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/voicebridge/mediabridge/rtpwire"
)

const (
	// DefaultBufferTime is the target reordering delay per spec.md §4.4.
	DefaultBufferTime = 60 * time.Millisecond
	minBufferTime      = 20 * time.Millisecond
	maxBufferTime      = 200 * time.Millisecond

	// DefaultDuplicateWindow is the size of the recent-sequence set used
	// to reject duplicates, per spec.md §4.4.
	DefaultDuplicateWindow = 100

	// deliverQueueDepth bounds the buffer's internal delivery channel so
	// Push/drain never suspend on a slow consumer; spec.md §5 states
	// media must never block on recording, and the same backpressure
	// posture applies to the buffer's own output.
	deliverQueueDepth = 256
)

var (
	ErrFlushed   = errors.New("jitter: buffer flushed")
	ErrTooLate   = errors.New("jitter: packet arrived too late")
	ErrDuplicate = errors.New("jitter: duplicate packet")
)

// BufferedPacket is one admitted packet together with its arrival time,
// per spec.md §3's BufferedPacket data model.
type BufferedPacket struct {
	Sequence  uint16
	Timestamp uint32
	Payload   []byte
	Arrival   time.Time
}

// Stats is a snapshot of buffer activity, matching spec.md §3's
// jitter-buffer counters.
type Stats struct {
	Received     uint64
	Delivered    uint64
	Duplicate    uint64
	TooLate      uint64
	Reordered    uint64
	Lost         uint64
	CurrentDepth uint64
	MaxDepth     uint64
}

// EmitFunc receives one delivered frame. pkt.Payload is nil and
// concealed is true for a slot whose packet never arrived in time; the
// caller should substitute packet-loss concealment (silence) for it.
// EmitFunc runs on the buffer's own delivery goroutine, never while
// the buffer's internal state lock is held.
type EmitFunc func(pkt BufferedPacket, concealed bool)

type delivery struct {
	pkt       BufferedPacket
	concealed bool
}

// Buffer holds out-of-order packets until their arrival age reaches
// buffer-time, then drains them in sequence order, concealing any gap
// that never fills.
type Buffer struct {
	mu  sync.Mutex
	log zerolog.Logger

	bufferTime      time.Duration
	duplicateWindow int
	emit            EmitFunc

	hasLast bool
	lastSeq uint16
	packets map[uint16]BufferedPacket

	recentSet   map[uint16]struct{}
	recentOrder []uint16

	timer    *time.Timer
	timerSet bool

	flushed bool
	stats   Stats

	deliverCh chan delivery
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// New returns a jitter buffer targeting bufferTime of reordering slack
// (clamped to [20ms, 200ms], defaulting to 60ms when zero) and a
// duplicate-rejection window of duplicateWindow recent sequences
// (defaulting to 100 when zero or negative). emit is called once per
// delivered or concealed frame, in sequence order.
func New(bufferTime time.Duration, duplicateWindow int, emit EmitFunc, log zerolog.Logger) *Buffer {
	switch {
	case bufferTime <= 0:
		bufferTime = DefaultBufferTime
	case bufferTime < minBufferTime:
		bufferTime = minBufferTime
	case bufferTime > maxBufferTime:
		bufferTime = maxBufferTime
	}
	if duplicateWindow <= 0 {
		duplicateWindow = DefaultDuplicateWindow
	}

	b := &Buffer{
		log:             log.With().Str("component", "jitter").Logger(),
		bufferTime:      bufferTime,
		duplicateWindow: duplicateWindow,
		emit:            emit,
		packets:         make(map[uint16]BufferedPacket),
		recentSet:       make(map[uint16]struct{}, duplicateWindow),
		deliverCh:       make(chan delivery, deliverQueueDepth),
		stopCh:          make(chan struct{}),
	}
	go b.deliverLoop()
	return b
}

// deliverLoop is the buffer's sole caller of emit, decoupling delivery
// (which may do recorder/upstream I/O) from the mutex-guarded admission
// and drain paths.
func (b *Buffer) deliverLoop() {
	for {
		select {
		case d := <-b.deliverCh:
			b.emit(d.pkt, d.concealed)
		case <-b.stopCh:
			for {
				select {
				case d := <-b.deliverCh:
					b.emit(d.pkt, d.concealed)
				default:
					return
				}
			}
		}
	}
}

func (b *Buffer) queueDeliver(d delivery) {
	if b.emit == nil {
		return
	}
	select {
	case b.deliverCh <- d:
	default:
		b.log.Warn().Uint16("seq", d.pkt.Sequence).Msg("jitter: delivery queue full, dropping frame")
	}
}

func (b *Buffer) markRecent(seq uint16) bool {
	if _, dup := b.recentSet[seq]; dup {
		return true
	}
	b.recentSet[seq] = struct{}{}
	b.recentOrder = append(b.recentOrder, seq)
	if len(b.recentOrder) > b.duplicateWindow {
		oldest := b.recentOrder[0]
		b.recentOrder = b.recentOrder[1:]
		delete(b.recentSet, oldest)
	}
	return false
}

// Push admits one packet at sequence seq, timestamped ts, with payload
// copied so the caller's receive buffer can be reused immediately. An
// in-order arrival (or the very first packet seen) is delivered
// immediately; anything else is held for reordering and drained either
// when the gap closes or the buffer's timeout fires.
func (b *Buffer) Push(seq uint16, ts uint32, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.flushed {
		return ErrFlushed
	}
	b.stats.Received++

	if b.markRecent(seq) {
		b.stats.Duplicate++
		return ErrDuplicate
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)
	pkt := BufferedPacket{Sequence: seq, Timestamp: ts, Payload: cp, Arrival: time.Now()}

	fastPath := !b.hasLast || (seq == b.lastSeq+1 && len(b.packets) == 0)
	if fastPath {
		b.stats.Delivered++
		b.queueDeliver(delivery{pkt: pkt})
		b.hasLast = true
		b.lastSeq = seq
		b.armTimeoutLocked()
		return nil
	}

	if !rtpwire.IsNewer(seq, b.lastSeq) {
		b.stats.TooLate++
		return ErrTooLate
	}

	for held := range b.packets {
		if rtpwire.IsNewer(held, seq) {
			// A later sequence is already held: this packet arrived out
			// of transmission order.
			b.stats.Reordered++
			break
		}
	}

	b.packets[seq] = pkt
	b.stats.CurrentDepth = uint64(len(b.packets))
	if b.stats.CurrentDepth > b.stats.MaxDepth {
		b.stats.MaxDepth = b.stats.CurrentDepth
	}

	b.armTimeoutLocked()
	b.drainConsecutiveLocked()
	return nil
}

// drainConsecutiveLocked delivers any run of sequences immediately
// following lastSeq that is already buffered. Reordering is counted at
// admission (in Push), only for packets that arrived after a later
// sequence was already held.
func (b *Buffer) drainConsecutiveLocked() {
	for {
		next := b.lastSeq + 1
		pkt, ok := b.packets[next]
		if !ok {
			return
		}
		delete(b.packets, next)
		b.stats.CurrentDepth = uint64(len(b.packets))
		b.stats.Delivered++
		b.queueDeliver(delivery{pkt: pkt})
		b.lastSeq = next
	}
}

// seqLess orders two sequence numbers by modular distance, per
// spec.md §4.4's wraparound rule.
func seqLess(a, b uint16) bool {
	return rtpwire.IsNewer(b, a)
}

func (b *Buffer) armTimeoutLocked() {
	if b.timerSet || b.flushed || len(b.packets) == 0 {
		return
	}
	var oldest time.Time
	first := true
	for _, pkt := range b.packets {
		if first || pkt.Arrival.Before(oldest) {
			oldest = pkt.Arrival
			first = false
		}
	}
	wait := b.bufferTime - time.Since(oldest)
	if wait < 0 {
		wait = 0
	}
	b.timerSet = true
	if b.timer == nil {
		b.timer = time.AfterFunc(wait, b.onTimeout)
	} else {
		b.timer.Reset(wait)
	}
}

// onTimeout drains every entry whose arrival age has reached
// buffer-time, together with any held entry of an earlier sequence,
// filling only the sequences that were never received with
// concealment, per spec.md §4.4's timeout path.
func (b *Buffer) onTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timerSet = false
	if b.flushed {
		return
	}

	now := time.Now()
	due := make([]uint16, 0, len(b.packets))
	for seq, pkt := range b.packets {
		if now.Sub(pkt.Arrival) >= b.bufferTime {
			due = append(due, seq)
		}
	}
	if len(due) == 0 {
		b.armTimeoutLocked()
		return
	}
	newest := due[0]
	for _, seq := range due[1:] {
		if rtpwire.IsNewer(seq, newest) {
			newest = seq
		}
	}
	// Held entries older than the newest due one go out with it even if
	// not yet due themselves, so they are never concealed as a gap.
	due = due[:0]
	for seq := range b.packets {
		if !rtpwire.IsNewer(seq, newest) {
			due = append(due, seq)
		}
	}
	sort.Slice(due, func(i, j int) bool { return seqLess(due[i], due[j]) })

	for _, seq := range due {
		for next := b.lastSeq + 1; next != seq; next++ {
			b.stats.Lost++
			b.queueDeliver(delivery{pkt: BufferedPacket{Sequence: next}, concealed: true})
			b.lastSeq = next
		}
		pkt := b.packets[seq]
		delete(b.packets, seq)
		b.stats.CurrentDepth = uint64(len(b.packets))
		b.stats.Delivered++
		b.queueDeliver(delivery{pkt: pkt})
		b.hasLast = true
		b.lastSeq = seq
	}

	b.armTimeoutLocked()
}

// Flush drains all remaining buffered entries in sequence order,
// concealing internal gaps, then marks the buffer closed. Called at
// session stop to surface late-but-received audio to the recorder.
func (b *Buffer) Flush() {
	b.mu.Lock()
	if b.flushed {
		b.mu.Unlock()
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}

	seqs := make([]uint16, 0, len(b.packets))
	for seq := range b.packets {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqLess(seqs[i], seqs[j]) })

	for _, seq := range seqs {
		if b.hasLast {
			for next := b.lastSeq + 1; next != seq; next++ {
				b.stats.Lost++
				b.queueDeliver(delivery{pkt: BufferedPacket{Sequence: next}, concealed: true})
				b.lastSeq = next
			}
		}
		pkt := b.packets[seq]
		delete(b.packets, seq)
		b.stats.Delivered++
		b.queueDeliver(delivery{pkt: pkt})
		b.hasLast = true
		b.lastSeq = seq
	}
	b.packets = nil
	b.stats.CurrentDepth = 0
	b.flushed = true
	b.mu.Unlock()

	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Snapshot returns a copy of the buffer's running stats.
func (b *Buffer) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
