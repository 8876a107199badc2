// SPDX-License-Identifier: MPL-2.0

// Package pipeline composes the endpoint, jitter buffer, codec, and
// recorder/upstream stages into the two one-way media chains: inbound
// (telephony → AI + recording) and outbound (AI → telephony + recording),
// mirroring the teacher's Recording tee-to-two-consumers composition but
// generalized to fan out to independent consumers instead of one writer.
package pipeline

import (
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/voicebridge/mediabridge/codec"
	"github.com/voicebridge/mediabridge/endpoint"
	"github.com/voicebridge/mediabridge/framesize"
	"github.com/voicebridge/mediabridge/jitter"
	"github.com/voicebridge/mediabridge/rtcpreport"
	"github.com/voicebridge/mediabridge/rtpwire"
)

// AudioSink receives decoded linear PCM for recording.
type AudioSink func(pcm []byte, at time.Time)

// PayloadSink receives the raw codec-framed payload, e.g. to forward to
// the upstream AI transport.
type PayloadSink func(payload []byte)

// InboundPipeline reads RTP from an endpoint, applies jitter buffering
// and frame-size detection, and fans each resulting frame out to a
// recorder sink and an upstream sink. There is no separate playout
// ticker: the jitter buffer itself is timeout-driven (spec.md §4.4) and
// calls back into onJitterEmit as soon as a frame is due, whether that
// is immediately (in-order arrival) or after its own internal timer
// concedes a gap.
type InboundPipeline struct {
	log zerolog.Logger

	ep       *endpoint.Endpoint
	jb       *jitter.Buffer
	detector *framesize.State
	desc     codec.Descriptor
	reporter *rtcpreport.Reporter

	ToRecorder AudioSink
	ToUpstream PayloadSink

	stopCh chan struct{}
}

// NewInboundPipeline wires an endpoint and codec descriptor into a
// pipeline, constructing its own jitter buffer targeting bufferTime of
// reordering slack with a duplicateWindow-sized recent-sequence set
// (spec.md §4.4; pass 0 for either to take the spec's defaults).
func NewInboundPipeline(ep *endpoint.Endpoint, desc codec.Descriptor, bufferTime time.Duration, duplicateWindow int, reporter *rtcpreport.Reporter, log zerolog.Logger) *InboundPipeline {
	p := &InboundPipeline{
		log:      log.With().Str("component", "pipeline.inbound").Logger(),
		ep:       ep,
		detector: framesize.NewState(desc),
		desc:     desc,
		reporter: reporter,
		stopCh:   make(chan struct{}),
	}
	p.jb = jitter.New(bufferTime, duplicateWindow, p.onJitterEmit, log)
	return p
}

// onJitterEmit is the jitter buffer's delivery callback: it runs on the
// buffer's own goroutine, never while the buffer's state lock is held,
// so recorder/upstream I/O here cannot stall packet admission.
func (p *InboundPipeline) onJitterEmit(pkt jitter.BufferedPacket, concealed bool) {
	payload := pkt.Payload
	if concealed {
		payload = codec.SilencePayload(p.desc, p.desc.FrameDur)
	}

	if p.ToUpstream != nil {
		p.ToUpstream(payload)
	}
	if p.ToRecorder != nil {
		pcm, err := codec.ToLinearPCM(p.desc, payload)
		if err == nil {
			p.ToRecorder(pcm, time.Now())
		}
	}
}

// RunReceive reads RTP packets until Stop is called or the socket
// errors, admitting each into the jitter buffer. Run in its own
// goroutine.
func (p *InboundPipeline) RunReceive() error {
	buf := make([]byte, 1600)
	pkt := &rtp.Packet{}
	for {
		select {
		case <-p.stopCh:
			return nil
		default:
		}

		n, from, err := p.ep.ReadRTP(buf)
		if err != nil {
			return err
		}
		if from == nil {
			continue // invalid/unlatched source, discard
		}
		if p.reporter != nil {
			p.reporter.MarkInboundLatched()
		}

		if err := rtpwire.Unmarshal(buf[:n], pkt); err != nil {
			p.log.Debug().Err(err).Msg("dropping unparseable rtp packet")
			continue
		}
		if p.reporter != nil {
			p.reporter.RecordInboundSeq(pkt.SSRC, uint32(pkt.SequenceNumber))
		}
		p.detector.Observe(pkt.Timestamp, len(pkt.Payload))

		if err := p.jb.Push(pkt.SequenceNumber, pkt.Timestamp, pkt.Payload); err != nil {
			p.log.Debug().Err(err).Msg("jitter admission rejected packet")
		}
	}
}

// Detector returns the frame-size detector fed by this pipeline's
// inbound packets, so the outbound side can prefer its confirmed
// samples-per-frame value over the codec nominal (spec.md §4.5).
func (p *InboundPipeline) Detector() *framesize.State {
	return p.detector
}

// JitterBuffer returns the pipeline's jitter buffer, for stats snapshots.
func (p *InboundPipeline) JitterBuffer() *jitter.Buffer {
	return p.jb
}

// Stop halts the receive goroutine and flushes the jitter buffer,
// surfacing any held-but-received audio to the recorder.
func (p *InboundPipeline) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	p.jb.Flush()
}
