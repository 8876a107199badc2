// SPDX-License-Identifier: MPL-2.0

// Package callsession owns the lifecycle of a single bridged call: the
// RTP/RTCP endpoint, jitter buffer, codec, recorders, upstream transport,
// and the pacer/pipeline goroutines wired between them. It mirrors the
// teacher's functional-options construction and start/stop lifecycle
// style, re-pointed from SIP dialog ownership to direct parameters.
package callsession

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/rs/zerolog"
	"github.com/voicebridge/mediabridge/codec"
	"github.com/voicebridge/mediabridge/endpoint"
	"github.com/voicebridge/mediabridge/jitter"
	"github.com/voicebridge/mediabridge/pipeline"
	"github.com/voicebridge/mediabridge/recorder"
	"github.com/voicebridge/mediabridge/rtcpreport"
	"github.com/voicebridge/mediabridge/rtpwire"
	"github.com/voicebridge/mediabridge/upstream"
)

var (
	ErrAlreadyStarted = errors.New("callsession: already started")
	ErrNotStarted     = errors.New("callsession: not started")
)

// Reason classifies why a session stopped, per spec.md §7's
// {stopped, reason} user-visible result.
type Reason string

const (
	ReasonNormal          Reason = "normal"
	ReasonPeerHangup      Reason = "peer_hangup"
	ReasonUpstreamFailure Reason = "upstream_failure"
	ReasonLocalError      Reason = "local_error"
	ReasonTimeout         Reason = "timeout"
)

// State is the final, user-visible result of a stopped session.
type State struct {
	Stopped bool
	Reason  Reason
}

// Stats is a snapshot of a session's running state, useful for
// diagnostics and logging, matching the teacher's preference for
// human-readable debug dumps.
type Stats struct {
	CallID       string
	StartedAt    time.Time
	RTT          time.Duration
	JitterDrops  uint64
	AudioDropped uint64
}

func (s Stats) String() string {
	return fmt.Sprintf("call=%s started=%s rtt=%s jitter_drops=%d audio_dropped=%d",
		s.CallID, s.StartedAt.Format(time.RFC3339), s.RTT, s.JitterDrops, s.AudioDropped)
}

// SessionOption configures a CallSession at construction, mirroring the
// teacher's DiagoOption functional-options pattern.
type SessionOption func(*CallSession)

// WithCodec sets the narrowband codec for both legs. Default PCMA8000.
func WithCodec(d codec.Descriptor) SessionOption {
	return func(s *CallSession) { s.desc = d }
}

// WithBufferTime sets the jitter buffer's target reordering delay
// (spec.md §4.4; clamped to [20ms, 200ms], defaulting to 60ms when 0).
func WithBufferTime(d time.Duration) SessionOption {
	return func(s *CallSession) { s.bufferTime = d }
}

// WithDuplicateWindow sets the jitter buffer's recent-sequence set size
// used to reject duplicate packets (spec.md §4.4; defaults to 100).
func WithDuplicateWindow(n int) SessionOption {
	return func(s *CallSession) { s.duplicateWindow = n }
}

// WithArtifactRoot sets the base directory under which this session's
// per-call artifact directory is created.
func WithArtifactRoot(root string) SessionOption {
	return func(s *CallSession) { s.artifactRoot = root }
}

// WithUpstreamTransport injects the AI service transport; if omitted,
// the session runs without one: inbound audio is not forwarded and the
// outbound leg carries only silence.
func WithUpstreamTransport(t upstream.Transport) SessionOption {
	return func(s *CallSession) { s.transport = t }
}

// WithTempoAdjuster sets an optional outbound-only time-stretch stage.
func WithTempoAdjuster(t *pipeline.TempoAdjuster) SessionOption {
	return func(s *CallSession) { s.tempo = t }
}

// CallSession owns every component for one bridged call.
type CallSession struct {
	mu sync.Mutex

	id              string
	desc            codec.Descriptor
	bufferTime      time.Duration
	duplicateWindow int
	artifactRoot    string
	transport       upstream.Transport
	tempo           *pipeline.TempoAdjuster

	log zerolog.Logger

	ep       *endpoint.Endpoint
	jb       *jitter.Buffer
	reporter *rtcpreport.Reporter
	inbound  *pipeline.InboundPipeline
	outbound *pipeline.OutboundPipeline
	queue    *upstream.AudioQueue

	inboundRec  *recorder.ChannelRecorder
	outboundRec *recorder.ChannelRecorder
	stereoRec   *recorder.StereoRecorder
	transcript  *TranscriptWriter

	dir string

	portPool *PortPool
	port     int

	startedAt  time.Time
	started    bool
	stopped    bool
	finalState State
}

// CreateSession constructs and starts a call session bound to laddr,
// exchanging media with expected (the negotiated remote endpoint), and
// streaming audio to/from transport. This is the module's entry point,
// matching the external-interface create_session(...) surface.
func CreateSession(laddr *net.UDPAddr, expected *net.UDPAddr, portPool *PortPool, log zerolog.Logger, opts ...SessionOption) (*CallSession, error) {
	s := &CallSession{
		id:   uuid.NewString(),
		desc: codec.PCMA8000,
		log:  log,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.log = s.log.With().Str("component", "callsession").Str("call_id", s.id).Logger()

	s.portPool = portPool
	if laddr.Port == 0 && portPool != nil {
		port, err := portPool.Allocate()
		if err != nil {
			return nil, err
		}
		s.port = port
		laddr = &net.UDPAddr{IP: laddr.IP, Port: port}
	}

	ep, err := endpoint.Bind(laddr, expected, s.log)
	if err != nil {
		return nil, fmt.Errorf("callsession: bind endpoint: %w", err)
	}
	s.ep = ep

	if err := s.setupArtifacts(); err != nil {
		ep.Close()
		return nil, err
	}

	s.reporter = rtcpreport.New(s.log)
	s.reporter.Send = func(pkt rtcp.Packet) error {
		data, err := rtpwire.MarshalCompound([]rtcp.Packet{pkt})
		if err != nil {
			return err
		}
		_, err = s.ep.WriteRTCP(data)
		return err
	}
	s.queue = upstream.NewAudioQueue(codec.BytesPerFrame(s.desc, time.Second)) // ~1s of codec-framed audio

	s.inbound = pipeline.NewInboundPipeline(s.ep, s.desc, s.bufferTime, s.duplicateWindow, s.reporter, s.log)
	s.jb = s.inbound.JitterBuffer()
	s.inbound.ToRecorder = func(pcm []byte, at time.Time) {
		if s.inboundRec != nil {
			s.inboundRec.Write(pcm)
		}
		if s.stereoRec != nil {
			s.stereoRec.WriteInbound(pcm, at)
		}
	}
	if s.transport != nil {
		s.inbound.ToUpstream = func(payload []byte) {
			_ = s.transport.SendAudio(payload)
		}
	}

	s.outbound = pipeline.NewOutboundPipeline(s.ep, s.queue, s.desc, randSSRC(), s.reporter, s.tempo, s.inbound.Detector(), s.log)
	s.outbound.ToRecorder = func(pcm []byte, at time.Time) {
		if s.outboundRec != nil {
			s.outboundRec.Write(pcm)
		}
		if s.stereoRec != nil {
			s.stereoRec.WriteOutbound(pcm, at)
		}
	}

	if s.transport != nil {
		s.transport.OnAudio(func(payload []byte) {
			s.queue.Write(payload)
		})
	}

	if err := s.Start(); err != nil {
		ep.Close()
		return nil, err
	}
	return s, nil
}

// runRTCPReceive classifies inbound RTCP packets until the endpoint is
// closed, which unblocks ReadRTCP with an error and ends the loop.
func (s *CallSession) runRTCPReceive() {
	buf := make([]byte, 1600)
	var packets [8]rtcp.Packet
	for {
		n, from, err := s.ep.ReadRTCP(buf)
		if err != nil {
			return
		}
		if from == nil {
			continue
		}
		count, err := rtpwire.UnmarshalCompound(buf[:n], packets[:])
		if err != nil {
			continue
		}
		now := time.Now()
		for i := 0; i < count; i++ {
			s.reporter.Classify(packets[i], now)
		}
	}
}

func randSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x1
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (s *CallSession) setupArtifacts() error {
	if s.artifactRoot == "" {
		return nil
	}
	s.dir = filepath.Join(s.artifactRoot, s.id)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	inF, err := os.Create(filepath.Join(s.dir, "inbound.wav"))
	if err != nil {
		return err
	}
	s.inboundRec = recorder.NewChannelRecorder(inF, int(s.desc.ClockRate))

	outF, err := os.Create(filepath.Join(s.dir, "outbound.wav"))
	if err != nil {
		return err
	}
	s.outboundRec = recorder.NewChannelRecorder(outF, int(s.desc.ClockRate))

	stereoF, err := os.Create(filepath.Join(s.dir, "stereo.wav"))
	if err != nil {
		return err
	}
	s.stereoRec = recorder.NewStereoRecorder(stereoF, int(s.desc.ClockRate), 3, 0, s.log)

	tw, err := NewTranscriptWriter(s.dir)
	if err != nil {
		return err
	}
	s.transcript = tw

	if s.transport != nil {
		s.transport.OnTranscript(func(ev upstream.TranscriptEvent) {
			if ev.Final {
				s.transcript.WriteLine(ev.Text)
			}
		})
	}

	return WriteMetadata(s.dir, Metadata{
		CallID:    s.id,
		StartedAt: time.Now(),
		Codec:     string(s.desc.Name),
	})
}

// Start begins all of the session's goroutines. It is called by
// CreateSession and is idempotent only in the sense of returning
// ErrAlreadyStarted on a repeat call.
func (s *CallSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.startedAt = time.Now()

	go s.inbound.RunReceive()
	go s.outbound.Run(3)
	go s.reporter.Run()
	go s.runRTCPReceive()

	if s.transport != nil {
		s.transport.OnHangup(func(reason string) {
			s.Stop(ReasonPeerHangup)
		})
	}
	return nil
}

// Stop halts the pacer, the inbound receive loop (flushing the jitter
// buffer), the RTCP reporter and the upstream transport, closes the
// sockets and releases the port, then finalizes recordings/metadata.
// It is idempotent: subsequent calls are no-ops returning nil once a
// session has already stopped.
func (s *CallSession) Stop(reason Reason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	if s.stopped {
		return nil
	}
	s.stopped = true
	if reason == "" {
		reason = ReasonNormal
	}
	s.finalState = State{Stopped: true, Reason: reason}

	s.outbound.Stop()
	s.inbound.Stop()
	s.reporter.Stop()
	if s.transport != nil {
		s.transport.Close()
	}
	s.queue.Reset()
	s.ep.Close()

	if s.portPool != nil && s.port != 0 {
		s.portPool.Release(s.port)
	}

	if s.inboundRec != nil {
		s.inboundRec.Close()
	}
	if s.outboundRec != nil {
		s.outboundRec.Close()
	}
	if s.stereoRec != nil {
		s.stereoRec.Close()
	}
	if s.transcript != nil {
		s.transcript.Close()
	}
	if s.dir != "" {
		WriteMetadata(s.dir, Metadata{
			CallID:    s.id,
			StartedAt: s.startedAt,
			EndedAt:   time.Now(),
			Codec:     string(s.desc.Name),
			Reason:    string(reason),
		})
	}
	return nil
}

// FinalState returns the session's stopped state, valid only after Stop
// has completed.
func (s *CallSession) FinalState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalState
}

// Snapshot returns a stats snapshot for diagnostics.
func (s *CallSession) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{CallID: s.id, StartedAt: s.startedAt}
	if s.reporter != nil {
		st.RTT = s.reporter.Snapshot().RTT
	}
	if s.jb != nil {
		js := s.jb.Snapshot()
		st.JitterDrops = js.Lost + js.TooLate
	}
	if s.queue != nil {
		st.AudioDropped = s.queue.Dropped()
	}
	return st
}

// ID returns the session's call identifier.
func (s *CallSession) ID() string { return s.id }
