// SPDX-License-Identifier: MPL-2.0

// Package pacer schedules outbound RTP packet emission at absolute
// wall-clock targets t0 + k*frameDur, instead of sleeping for frameDur
// on every tick. A free-running ticker accumulates drift because each
// interval's wall-clock error compounds into the next; recomputing the
// absolute deadline from a fixed origin each time does not.
package pacer

import (
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/voicebridge/mediabridge/rtpwire"
)

// Producer supplies the next outbound frame's payload. It must never
// block — the scheduler's timing depends on it returning promptly.
// Implementations pull from an upstream queue and fall back to a
// codec's silence frame when nothing is queued.
type Producer func() []byte

// Writer transmits one serialized RTP packet.
type Writer func(pkt *rtp.Packet) error

// Scheduler emits one packet every frameDur, primed with a short burst
// at start to fill the network path's initial buffering.
type Scheduler struct {
	log zerolog.Logger

	frameDur time.Duration
	// samplesPerFrame returns the RTP-clock sample count to advance the
	// timestamp by for the packet about to be emitted. It is consulted
	// on every emit rather than captured once, so a caller backed by a
	// FrameSizeDetector can prefer a detected frame size over the
	// codec's nominal value once one has been confirmed (spec.md §4.5).
	samplesPerFrame func() uint32
	payloadType     uint8
	ssrc            uint32

	produce Producer
	write   Writer

	mu            sync.Mutex
	seq           rtpwire.ExtendedSequence
	nextTimestamp uint32

	stopCh chan struct{}
	once   sync.Once
}

// New returns a scheduler for a stream at the given frame duration.
// samplesPerFrame is consulted on every emitted packet to advance the
// RTP timestamp; pass a closure over a fixed nominal value if no
// dynamic frame-size source is available.
func New(frameDur time.Duration, samplesPerFrame func() uint32, payloadType uint8, ssrc uint32, produce Producer, write Writer, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		log:             log.With().Str("component", "pacer").Logger(),
		frameDur:        frameDur,
		samplesPerFrame: samplesPerFrame,
		payloadType:     payloadType,
		ssrc:            ssrc,
		produce:         produce,
		write:           write,
		seq:             rtpwire.NewExtendedSequence(),
		stopCh:          make(chan struct{}),
	}
}

// Run primes the stream with primeBurst packets sent back-to-back, then
// emits continuously at t0 + k*frameDur absolute targets until Stop is
// called. Run blocks; call it in its own goroutine.
func (s *Scheduler) Run(primeBurst int) {
	marker := true
	for i := 0; i < primeBurst; i++ {
		s.emit(marker)
		marker = false
	}

	t0 := time.Now()
	var k uint64 = 1
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		target := t0.Add(time.Duration(k) * s.frameDur)
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(time.Until(target))

		select {
		case <-timer.C:
			s.emit(false)
			k++
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) emit(marker bool) {
	payload := s.produce()
	if payload == nil {
		return
	}

	s.mu.Lock()
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    s.payloadType,
			SequenceNumber: s.seq.Next(),
			Timestamp:      s.nextTimestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	s.nextTimestamp += s.samplesPerFrame()
	s.mu.Unlock()

	if err := s.write(pkt); err != nil {
		s.log.Debug().Err(err).Msg("pacer write failed")
	}
}

// Stop halts the scheduler loop; idempotent.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
}
