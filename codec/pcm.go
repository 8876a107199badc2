// SPDX-License-Identifier: MPL-2.0

package codec

import (
	"time"

	"github.com/zaf/g711"
)

// Silence byte values per spec.md §4.1.
const (
	SilenceByteUlaw = 0xFF
	SilenceByteAlaw = 0xD5
	SilenceByteG722 = 0x00
)

// opusSilenceFrame is the canonical minimal OPUS frame (a single silent
// low-bitrate CELT frame), used whenever an OPUS comfort frame is needed.
var opusSilenceFrame = []byte{0xF8, 0xFF, 0xFE}

// SilencePayload returns the comfort-noise payload for dur of this codec.
func SilencePayload(d Descriptor, dur time.Duration) []byte {
	switch d.Name {
	case OPUS:
		buf := make([]byte, len(opusSilenceFrame))
		copy(buf, opusSilenceFrame)
		return buf
	case PCMU:
		return fill(BytesPerFrame(d, dur), SilenceByteUlaw)
	case PCMA:
		return fill(BytesPerFrame(d, dur), SilenceByteAlaw)
	case G722:
		return fill(BytesPerFrame(d, dur), SilenceByteG722)
	default:
		return fill(BytesPerFrame(d, dur), 0)
	}
}

func fill(n int, b byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

// companding pairs an 8-bit companded sample with its 16-bit linear
// counterpart for one of the two G.711 laws; ToLinearPCM/FromLinearPCM
// select the pair for the descriptor's law and walk the buffer once.
type companding struct {
	decode func(byte) int16
	encode func(int16) byte
}

var ulawCompanding = companding{decode: g711.DecodeUlawFrame, encode: g711.EncodeUlawFrame}
var alawCompanding = companding{decode: g711.DecodeAlawFrame, encode: g711.EncodeAlawFrame}

func compandingFor(n Name) (companding, bool) {
	switch n {
	case PCMU:
		return ulawCompanding, true
	case PCMA:
		return alawCompanding, true
	default:
		return companding{}, false
	}
}

// ToLinearPCM decodes codec bytes to 16-bit LE linear PCM. G.722 and OPUS
// are not decoded (no codec transcoding per spec.md Non-goals); callers
// needing PCM from those codecs must treat the result as unsupported.
func ToLinearPCM(d Descriptor, payload []byte) ([]byte, error) {
	c, ok := compandingFor(d.Name)
	if !ok {
		return nil, errUnsupportedPCMConversion(d.Name)
	}
	lpcm := make([]byte, len(payload)*2)
	for i, sample := range payload {
		s := c.decode(sample)
		lpcm[2*i] = byte(s)
		lpcm[2*i+1] = byte(s >> 8)
	}
	return lpcm, nil
}

// FromLinearPCM encodes 16-bit LE linear PCM into codec bytes. Any odd
// trailing byte in lpcm is ignored.
func FromLinearPCM(d Descriptor, lpcm []byte) ([]byte, error) {
	c, ok := compandingFor(d.Name)
	if !ok {
		return nil, errUnsupportedPCMConversion(d.Name)
	}
	payload := make([]byte, len(lpcm)/2)
	for i := range payload {
		s := int16(lpcm[2*i]) | int16(lpcm[2*i+1])<<8
		payload[i] = c.encode(s)
	}
	return payload, nil
}

func errUnsupportedPCMConversion(n Name) error {
	return &unsupportedConversionError{n}
}

type unsupportedConversionError struct{ name Name }

func (e *unsupportedConversionError) Error() string {
	return "codec: linear PCM conversion unsupported for " + string(e.name)
}
