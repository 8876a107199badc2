// SPDX-License-Identifier: MPL-2.0

package rtpwire

import (
	"errors"
	"math/rand"
)

// seqModulus is the size of RTP's 16-bit sequence space.
const seqModulus = 1 << 16

// dropoutLimit and misorderLimit classify an inbound sequence delta per
// RFC 3550 Appendix A.2: a forward step under dropoutLimit is ordinary
// motion (including a 16-bit wrap); a step landing within misorderLimit
// behind the current value is a stale duplicate; anything between the
// two is a large jump that needs confirmation before being trusted.
const (
	dropoutLimit  = 3000
	misorderLimit = 100
)

var (
	ErrSequenceOutOfOrder = errors.New("rtpwire: sequence out of order")
	ErrSequenceBad        = errors.New("rtpwire: bad sequence jump")
	ErrSequenceDuplicate  = errors.New("rtpwire: duplicate sequence")
)

// ExtendedSequence tracks a 16-bit RTP sequence number across wraparound,
// per RFC 3550 Appendix A.2, and is also used as the generator for
// outbound packet sequencing. Rather than keep the 16-bit value and a
// wrap counter as separate fields, it accumulates the running 48-bit
// extended count directly: a forward step of any size within the
// dropout window is one addition rather than a wrap-detecting branch.
type ExtendedSequence struct {
	extended uint64
	pending  uint32 // provisional resync target from a large jump; 0 = none armed
	started  bool
}

// NewExtendedSequence returns a tracker seeded with a random starting
// sequence, matching the teacher's NewRTPSequencer convention for
// outbound streams.
func NewExtendedSequence() ExtendedSequence {
	s := ExtendedSequence{}
	s.InitSeq(uint16(rand.Uint32()))
	return s
}

// InitSeq (re)seeds the tracker at seq, used both for a fresh outbound
// stream and to resync after a large inbound sequence jump is confirmed.
func (s *ExtendedSequence) InitSeq(seq uint16) {
	s.extended = uint64(seq)
	s.pending = 0
	s.started = true
}

// UpdateSeq applies an inbound sequence number. A large jump is held
// provisionally bad until the identical value is seen twice in a row —
// a simpler confirmation rule than matching a predicted next value,
// and just as effective at rejecting a single spurious jump.
func (s *ExtendedSequence) UpdateSeq(seq uint16) error {
	if !s.started {
		s.InitSeq(seq)
		return nil
	}

	cur := uint16(s.extended)
	forward := seq - cur // uint16 wraparound gives the forward distance

	switch {
	case forward < dropoutLimit:
		s.extended += uint64(forward)
		s.pending = 0
		return nil
	case forward > seqModulus-misorderLimit:
		return ErrSequenceDuplicate
	default:
		if s.pending != 0 && uint32(seq) == s.pending {
			s.InitSeq(seq)
			return ErrSequenceOutOfOrder
		}
		s.pending = uint32(seq)
		return ErrSequenceBad
	}
}

// Extended returns the 48-bit extended sequence number accumulated so far.
func (s *ExtendedSequence) Extended() uint64 {
	return s.extended
}

// Next advances and returns the next outbound sequence number.
func (s *ExtendedSequence) Next() uint16 {
	s.extended++
	return uint16(s.extended)
}

// Current returns the tracker's current 16-bit sequence number without
// advancing it.
func (s *ExtendedSequence) Current() uint16 {
	return uint16(s.extended)
}

// IsNewer reports whether a is later than b in modular sequence space,
// using the RFC 3550-style half-range tie-break: a difference of exactly
// 32768 counts as newer in neither direction.
func IsNewer(a, b uint16) bool {
	return int16(a-b) > 0
}
