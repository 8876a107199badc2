// SPDX-License-Identifier: MPL-2.0

// Package framesize infers an inbound RTP stream's samples-per-packet
// value from consecutive packets' timestamp deltas, confirming the guess
// against the payload's byte-to-sample mapping before trusting it.
package framesize

import (
	"github.com/voicebridge/mediabridge/codec"
)

// plausible bounds a frame's sample count to something between 10ms and
// 240ms at an 8kHz clock, rejecting deltas caused by lost or reordered
// packets rather than a real frame-size change.
const (
	minPlausibleSamples = 80
	maxPlausibleSamples = 1920
)

// State tracks the running inference for one inbound stream.
type State struct {
	desc Descriptor

	haveLast      bool
	lastTimestamp uint32
	candidate     uint32 // delta seen on the previous eligible packet
	confirmed     uint32 // confirmed samples-per-packet, 0 until established
}

// Descriptor is an alias of codec.Descriptor; the detector reads only
// its codec name, via codec.SamplesFromPayload.
type Descriptor = codec.Descriptor

// NewState returns a detector for a stream using the given codec.
func NewState(d Descriptor) *State {
	return &State{desc: d}
}

// Observe feeds one packet's RTP timestamp and payload length into the
// detector. It returns the confirmed samples-per-packet value once two
// consecutive deltas agree and the payload length corroborates it;
// before that it returns ok=false.
func (s *State) Observe(timestamp uint32, payloadLen int) (samples uint32, ok bool) {
	if !s.haveLast {
		s.lastTimestamp = timestamp
		s.haveLast = true
		return s.confirmed, s.confirmed != 0
	}

	delta := timestamp - s.lastTimestamp
	s.lastTimestamp = timestamp

	if delta < minPlausibleSamples || delta > maxPlausibleSamples {
		// Likely a lost/reordered packet spanning more than one frame,
		// or a duplicate/out-of-order packet; don't let it perturb the
		// confirmed value.
		return s.confirmed, s.confirmed != 0
	}

	fromPayload, payloadOK := codec.SamplesFromPayload(s.desc, payloadLen)
	if payloadOK && fromPayload != delta {
		// Payload size and timestamp delta disagree (likely a partial/
		// fragmented frame) — don't let it perturb the candidate.
		return s.confirmed, s.confirmed != 0
	}

	if delta == s.candidate {
		s.confirmed = delta
	}
	s.candidate = delta
	return s.confirmed, s.confirmed != 0
}

// Confirmed returns the current confirmed value, or 0 if none yet.
func (s *State) Confirmed() uint32 {
	return s.confirmed
}

// Reset clears all detector state, used when a stream's codec changes.
func (s *State) Reset() {
	*s = State{desc: s.desc}
}
