// SPDX-License-Identifier: MPL-2.0

// Package codec describes the narrowband codecs this bridge understands:
// frame sizing, silence payloads, and linear-PCM conversion.
package codec

import (
	"errors"
	"time"
)

// Name identifies a codec family. Only PCMA/PCMU are fully supported;
// G722's RTP clock-rate quirk is preserved; OPUS is carried opaquely.
type Name string

const (
	PCMA Name = "PCMA"
	PCMU Name = "PCMU"
	G722 Name = "G722"
	OPUS Name = "OPUS"
)

var (
	ErrInvalidPayloadType  = errors.New("codec: invalid payload type")
	ErrInvalidClockRate    = errors.New("codec: invalid clock rate")
	ErrInvalidChannelCount = errors.New("codec: invalid channel count")
)

// Descriptor is the immutable-for-session-life codec identity.
type Descriptor struct {
	Name        Name
	PayloadType uint8
	ClockRate   uint32
	Channels    uint8
	// FrameDur is the nominal frame duration used when no detector has
	// inferred a different one yet. Always 20ms per spec.
	FrameDur time.Duration
}

var (
	PCMU8000 = Descriptor{Name: PCMU, PayloadType: 0, ClockRate: 8000, Channels: 1, FrameDur: 20 * time.Millisecond}
	PCMA8000 = Descriptor{Name: PCMA, PayloadType: 8, ClockRate: 8000, Channels: 1, FrameDur: 20 * time.Millisecond}
	// G722's RTP clock-rate field is 8kHz by RFC 3551 quirk even though
	// the codec itself samples at 16kHz.
	G722_8000 = Descriptor{Name: G722, PayloadType: 9, ClockRate: 8000, Channels: 1, FrameDur: 20 * time.Millisecond}
	// OPUS payload type is dynamic; 96 is the conventional default used
	// when negotiation assigns it this value.
	OPUS48000 = Descriptor{Name: OPUS, PayloadType: 96, ClockRate: 48000, Channels: 2, FrameDur: 20 * time.Millisecond}
)

// ByPayloadType returns the well-known descriptor for a static payload
// type, or ok=false for dynamic/unknown types (caller must supply one).
func ByPayloadType(pt uint8) (Descriptor, bool) {
	switch pt {
	case PCMU8000.PayloadType:
		return PCMU8000, true
	case PCMA8000.PayloadType:
		return PCMA8000, true
	case G722_8000.PayloadType:
		return G722_8000, true
	default:
		return Descriptor{}, false
	}
}

// Validate checks the descriptor invariants spec.md §4.1 requires.
func Validate(d Descriptor) error {
	if d.PayloadType > 127 {
		return ErrInvalidPayloadType
	}
	if d.ClockRate == 0 {
		return ErrInvalidClockRate
	}
	if d.Channels == 0 {
		return ErrInvalidChannelCount
	}
	return nil
}

// SamplesPerFrame returns the number of samples (in RTP clock units) for
// a frame of the given duration at this codec's clock rate.
func SamplesPerFrame(d Descriptor, dur time.Duration) uint32 {
	return uint32(float64(d.ClockRate) * dur.Seconds())
}

// BytesPerFrame returns the payload size in bytes of a frame of duration
// dur (1 byte per sample for G.711). Returns 0 for variable-rate codecs
// (OPUS).
func BytesPerFrame(d Descriptor, dur time.Duration) int {
	switch d.Name {
	case PCMU, PCMA:
		return int(SamplesPerFrame(d, dur))
	case G722:
		// RFC 3551: G.722 payload carries one octet per sample at the
		// true 16kHz rate, i.e. double the RTP-clock sample count.
		return int(SamplesPerFrame(d, dur)) * 2
	default:
		return 0
	}
}

// SamplesFromPayload infers the RTP-clock sample count a payload of the
// given length represents. Returns ok=false for variable-rate codecs.
func SamplesFromPayload(d Descriptor, payloadLen int) (samples uint32, ok bool) {
	switch d.Name {
	case PCMU, PCMA:
		return uint32(payloadLen), true
	case G722:
		return uint32(payloadLen / 2), true
	default:
		return 0, false
	}
}
