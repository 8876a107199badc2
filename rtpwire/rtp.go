// SPDX-License-Identifier: MPL-2.0

// Package rtpwire handles RTP/RTCP wire encoding and decoding: packet
// parse/serialize, compound RTCP reports, NTP time conversion, and
// extended sequence-number tracking.
package rtpwire

import (
	"errors"

	"github.com/pion/rtp"
)

// Debug is a package-level tracing switch, matching the teacher's
// debug-gate convention; no code in this package reads it.
var Debug = false

var ErrShortPacket = errors.New("rtpwire: packet too short")

// Unmarshal parses buf into p by delegating entirely to pion/rtp, which
// already implements RFC 3550 header parsing, extension stripping, and
// padding trim correctly. pion's Unmarshal does not fill the caller's
// existing Payload buffer (it sets Payload to a slice of its own), so
// Unmarshal stashes that buffer, lets pion parse into p, and copies the
// parsed payload back into the stashed buffer when it fits.
func Unmarshal(buf []byte, p *rtp.Packet) error {
	reuse := p.Payload
	p.Payload = nil

	if err := p.Unmarshal(buf); err != nil {
		p.Payload = reuse
		return err
	}

	if reuse != nil && len(reuse) >= len(p.Payload) {
		n := copy(reuse, p.Payload)
		p.Payload = reuse[:n]
	}
	return nil
}

// Marshal serializes p into a fresh buffer.
func Marshal(p *rtp.Packet) ([]byte, error) {
	return p.Marshal()
}

// MarshalTo serializes p into buf, returning the number of bytes written.
func MarshalTo(p *rtp.Packet, buf []byte) (int, error) {
	return p.MarshalTo(buf)
}
