// SPDX-License-Identifier: MPL-2.0

package rtpwire

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/rtcp"
)

var errRTCPUnmarshal = errors.New("rtpwire: failed to unmarshal rtcp")

const ntpEpochOffset int64 = 2208988800

// NTPTimestamp converts a wall-clock time to the 64-bit NTP format used
// in Sender Report packets (32-bit seconds, 32-bit fraction).
func NTPTimestamp(t time.Time) uint64 {
	seconds := t.Unix() + ntpEpochOffset
	frac := (float64(t.Nanosecond()) / 1e9) * (1 << 32)
	return (uint64(seconds) << 32) | uint64(frac)
}

// NTPToTime converts an NTP timestamp back to a wall-clock time.
func NTPToTime(ntp uint64) time.Time {
	seconds := int64(ntp >> 32)
	frac := float64(ntp&0xFFFFFFFF) / (1 << 32)
	unixSeconds := seconds - ntpEpochOffset
	return time.Unix(unixSeconds, int64(frac*1e9))
}

// UnmarshalCompound parses a compound RTCP packet into packets, which the
// caller sizes to the maximum number of report types it expects. Returns
// the number of packets filled.
func UnmarshalCompound(data []byte, packets []rtcp.Packet) (n int, err error) {
	for i := 0; i < len(packets) && len(data) != 0; i++ {
		var h rtcp.Header
		if err = h.Unmarshal(data); err != nil {
			return 0, errors.Join(err, errRTCPUnmarshal)
		}

		pktLen := int(h.Length+1) * 4
		if pktLen > len(data) {
			return 0, fmt.Errorf("rtpwire: rtcp packet truncated: %w", errRTCPUnmarshal)
		}
		inPacket := data[:pktLen]

		packet := typedPacket(h.Type)
		if err = packet.Unmarshal(inPacket); err != nil {
			return 0, err
		}

		packets[i] = packet
		data = data[pktLen:]
		n++
	}
	return n, nil
}

// MarshalCompound serializes a set of RTCP packets into one compound packet.
func MarshalCompound(packets []rtcp.Packet) ([]byte, error) {
	return rtcp.Marshal(packets)
}

func typedPacket(t rtcp.PacketType) rtcp.Packet {
	switch t {
	case rtcp.TypeSenderReport:
		return new(rtcp.SenderReport)
	case rtcp.TypeReceiverReport:
		return new(rtcp.ReceiverReport)
	case rtcp.TypeSourceDescription:
		return new(rtcp.SourceDescription)
	case rtcp.TypeGoodbye:
		return new(rtcp.Goodbye)
	default:
		return new(rtcp.RawPacket)
	}
}

// NewSenderReport builds a Sender Report for ssrc at wall-clock time sentAt,
// with rtpTime the RTP timestamp corresponding to sentAt, per RFC 3550 §6.4.1.
func NewSenderReport(ssrc uint32, sentAt time.Time, rtpTime uint32, packetCount, octetCount uint32) *rtcp.SenderReport {
	return &rtcp.SenderReport{
		SSRC:        ssrc,
		NTPTime:     NTPTimestamp(sentAt),
		RTPTime:     rtpTime,
		PacketCount: packetCount,
		OctetCount:  octetCount,
	}
}

// NewReceiverReport builds a Receiver Report with a single reception block,
// used when this endpoint has no outbound stream of its own yet.
func NewReceiverReport(ssrc uint32, block rtcp.ReceptionReport) *rtcp.ReceiverReport {
	return &rtcp.ReceiverReport{
		SSRC:    ssrc,
		Reports: []rtcp.ReceptionReport{block},
	}
}

// CalcRTT computes round-trip time from a received Sender Report's NTP
// timestamp, the delay-since-last-SR (DLSR, in 1/65536 sec units) and last-
// SR (LSR) fields found in the matching Receiver Report's reception block.
func CalcRTT(now time.Time, lsr, dlsr uint32) (time.Duration, bool) {
	if lsr == 0 {
		return 0, false
	}
	nowNTP := NTPTimestamp(now)
	nowMid := uint32(nowNTP >> 16)
	delay := nowMid - lsr - dlsr
	return time.Duration(delay) * time.Second / (1 << 16), true
}
