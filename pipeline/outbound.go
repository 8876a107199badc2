// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/voicebridge/mediabridge/codec"
	"github.com/voicebridge/mediabridge/endpoint"
	"github.com/voicebridge/mediabridge/framesize"
	"github.com/voicebridge/mediabridge/pacer"
	"github.com/voicebridge/mediabridge/rtcpreport"
	"github.com/voicebridge/mediabridge/rtpwire"
	"github.com/voicebridge/mediabridge/upstream"
)

// OutboundPipeline pulls audio the AI service sent, optionally tempo-
// adjusts it, packetizes it into RTP on an absolute-time schedule, and
// records a tee of whatever left the wire (after tempo-adjust, matching
// what the far end actually heard).
type OutboundPipeline struct {
	log zerolog.Logger

	ep    *endpoint.Endpoint
	queue *upstream.AudioQueue
	desc  codec.Descriptor
	ssrc  uint32

	reporter *rtcpreport.Reporter
	tempo    *TempoAdjuster // nil when no tempo adjustment is configured

	ToRecorder AudioSink

	scheduler *pacer.Scheduler
}

// NewOutboundPipeline wires a queue, codec descriptor, and destination
// endpoint into a pacer-driven outbound stream. tempo may be nil.
// detector, when non-nil, is consulted on every emitted packet so the
// outbound stream prefers a confirmed inbound frame size over the
// codec nominal once one is established (spec.md §4.5, §4.10) — e.g.
// to echo a peer that frames audio at 30 ms instead of the usual 20.
func NewOutboundPipeline(ep *endpoint.Endpoint, queue *upstream.AudioQueue, desc codec.Descriptor, ssrc uint32, reporter *rtcpreport.Reporter, tempo *TempoAdjuster, detector *framesize.State, log zerolog.Logger) *OutboundPipeline {
	o := &OutboundPipeline{
		log:      log.With().Str("component", "pipeline.outbound").Logger(),
		ep:       ep,
		queue:    queue,
		desc:     desc,
		ssrc:     ssrc,
		reporter: reporter,
		tempo:    tempo,
	}

	frameBytes := codec.BytesPerFrame(desc, desc.FrameDur)
	nominalSamples := codec.SamplesPerFrame(desc, desc.FrameDur)
	samplesPerFrame := func() uint32 {
		if detector != nil {
			if confirmed := detector.Confirmed(); confirmed != 0 {
				return confirmed
			}
		}
		return nominalSamples
	}

	produce := func() []byte {
		frame, ok := o.queue.ExtractFrame(frameBytes)
		if !ok {
			return codec.SilencePayload(o.desc, o.desc.FrameDur)
		}
		if o.tempo != nil {
			adjusted, err := o.tempo.Process(frame)
			if err == nil {
				frame = adjusted
			}
		}
		return frame
	}

	write := func(pkt *rtp.Packet) error {
		data, err := rtpwire.Marshal(pkt)
		if err != nil {
			return err
		}
		n, err := o.ep.WriteRTP(data)
		if err != nil {
			return err
		}
		if o.reporter != nil {
			o.reporter.RecordOutbound(o.ssrc, pkt.Timestamp, len(pkt.Payload), o.desc.ClockRate, time.Now())
		}
		if o.ToRecorder != nil {
			if pcm, err := codec.ToLinearPCM(o.desc, pkt.Payload); err == nil {
				o.ToRecorder(pcm, time.Now())
			}
		}
		_ = n
		return nil
	}

	o.scheduler = pacer.New(desc.FrameDur, samplesPerFrame, desc.PayloadType, ssrc, produce, write, log)
	return o
}

// Run starts the pacer with a small priming burst to fill the network
// path's initial buffering before steady-state pacing begins.
func (o *OutboundPipeline) Run(primeBurst int) {
	o.scheduler.Run(primeBurst)
}

// Stop halts the pacer.
func (o *OutboundPipeline) Stop() {
	o.scheduler.Stop()
}
