// SPDX-License-Identifier: MPL-2.0

// Package rtcpreport emits periodic Sender Reports for an outbound RTP
// stream and classifies inbound RTCP packets (Sender/Receiver Reports)
// into running statistics, including round-trip time.
package rtcpreport

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/rs/zerolog"
	"github.com/voicebridge/mediabridge/rtpwire"
)

// Debug is a package-level tracing switch; no code in this package
// reads it.
var Debug = false

const reportInterval = 5 * time.Second

// WriteStats tracks this endpoint's outbound stream, needed to build
// Sender Reports.
type WriteStats struct {
	SSRC               uint32
	PacketCount        uint32
	OctetCount         uint32
	LastPacketTime     time.Time
	LastPacketTimestamp uint32
	SampleRate         uint32
}

// ReadStats tracks the inbound stream's reception, needed to build
// Receiver Report blocks and derive RTT from the peer's reports.
type ReadStats struct {
	SSRC                     uint32
	LastSenderReportNTP      uint64
	LastSenderReportRecvTime time.Time
	RTT                      time.Duration
	LastSequenceNumber       uint32
}

// Reporter periodically builds and hands off outbound RTCP reports once
// the inbound stream has latched, and classifies inbound RTCP traffic.
type Reporter struct {
	mu  sync.Mutex
	log zerolog.Logger

	write WriteStats
	read  ReadStats

	inboundLatched bool

	ticker *time.Ticker
	stopCh chan struct{}
	stopOnce sync.Once

	// Send is invoked with the report to transmit; the caller owns
	// actually writing it to the RTCP socket.
	Send func(pkt rtcp.Packet) error
}

// New returns a reporter using the teacher's 5-second SR cadence.
func New(log zerolog.Logger) *Reporter {
	return &Reporter{
		log:    log.With().Str("component", "rtcpreport").Logger(),
		ticker: time.NewTicker(reportInterval),
		stopCh: make(chan struct{}),
	}
}

// MarkInboundLatched records that the RTP endpoint has latched its
// inbound source, which gates Sender Report emission: we should not
// report before we have anything meaningful to report on.
func (r *Reporter) MarkInboundLatched() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inboundLatched = true
}

// RecordOutbound updates write-side bookkeeping as each outbound RTP
// packet is sent.
func (r *Reporter) RecordOutbound(ssrc uint32, timestamp uint32, payloadLen int, sampleRate uint32, sentAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.write.SSRC = ssrc
	r.write.PacketCount++
	r.write.OctetCount += uint32(payloadLen)
	r.write.LastPacketTime = sentAt
	r.write.LastPacketTimestamp = timestamp
	r.write.SampleRate = sampleRate
}

// RecordInboundSeq updates read-side bookkeeping from each inbound
// packet's sequence number, used when constructing reception reports.
func (r *Reporter) RecordInboundSeq(ssrc uint32, seq uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.read.SSRC = ssrc
	r.read.LastSequenceNumber = seq
}

// Classify applies one received RTCP packet to the running read stats,
// deriving RTT when a Receiver Report block references our last SR.
func (r *Reporter) Classify(pkt rtcp.Packet, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch p := pkt.(type) {
	case *rtcp.SenderReport:
		if r.read.SSRC == 0 {
			r.read.SSRC = p.SSRC
		}
		r.read.LastSenderReportNTP = p.NTPTime
		r.read.LastSenderReportRecvTime = now
		for _, rr := range p.Reports {
			r.applyReceptionReport(rr, now)
		}
	case *rtcp.ReceiverReport:
		for _, rr := range p.Reports {
			r.applyReceptionReport(rr, now)
		}
	}
}

func (r *Reporter) applyReceptionReport(rr rtcp.ReceptionReport, now time.Time) {
	if rr.SSRC != r.write.SSRC {
		return
	}
	if rr.LastSenderReport != 0 {
		if rtt, ok := rtpwire.CalcRTT(now, rr.LastSenderReport, rr.Delay); ok {
			r.read.RTT = rtt
		}
	}
}

// buildReport constructs the Sender Report (if we have an outbound
// stream) or Receiver Report (if recv-only) for the current stats.
func (r *Reporter) buildReport(now time.Time) rtcp.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inboundLatched {
		return nil
	}

	block := rtcp.ReceptionReport{
		SSRC:               r.read.SSRC,
		LastSequenceNumber: r.read.LastSequenceNumber,
	}
	if !r.read.LastSenderReportRecvTime.IsZero() {
		block.LastSenderReport = uint32(r.read.LastSenderReportNTP >> 16)
		block.Delay = uint32(now.Sub(r.read.LastSenderReportRecvTime).Seconds() * 65536)
	}

	if r.write.SSRC == 0 {
		return rtpwire.NewReceiverReport(r.read.SSRC, block)
	}

	offset := uint32(0)
	if !r.write.LastPacketTime.IsZero() {
		offset = uint32(now.Sub(r.write.LastPacketTime).Seconds() * float64(r.write.SampleRate))
	}
	sr := rtpwire.NewSenderReport(r.write.SSRC, now, r.write.LastPacketTimestamp+offset, r.write.PacketCount, r.write.OctetCount)
	if r.read.SSRC != 0 {
		sr.Reports = []rtcp.ReceptionReport{block}
	}
	return sr
}

// Run drives the periodic report ticker until Stop is called, invoking
// Send for each report built. Run blocks; call it in its own goroutine.
func (r *Reporter) Run() {
	for {
		select {
		case now := <-r.ticker.C:
			pkt := r.buildReport(now)
			if pkt == nil || r.Send == nil {
				continue
			}
			if err := r.Send(pkt); err != nil {
				r.log.Debug().Err(err).Msg("rtcp send failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Stop halts the reporter's ticker goroutine; idempotent.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		r.ticker.Stop()
		close(r.stopCh)
	})
}

// Snapshot returns the current read stats, primarily for diagnostics.
func (r *Reporter) Snapshot() ReadStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read
}
