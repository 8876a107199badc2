// SPDX-License-Identifier: MPL-2.0

package upstream

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("upstream: transport closed")

// TranscriptEvent carries one piece of incremental or final transcript
// text from the AI service.
type TranscriptEvent struct {
	Text  string
	Final bool
}

// Transport is the abstract bidirectional streaming capability this
// bridge needs from an AI conversational service: send audio/events in,
// receive audio/transcript/hangup out. The concrete vendor wire protocol
// above the base64 audio envelope is out of scope; callers supply a
// FrameCodec to adapt it.
type Transport interface {
	// Connect establishes the session-level connection. It must be
	// called before any Send* method is used; the On* callbacks are
	// registered before it.
	Connect(ctx context.Context) error

	// SendAudio forwards one chunk of codec-framed audio to the service.
	SendAudio(payload []byte) error

	// SendEvent forwards an arbitrary out-of-band control event (e.g.
	// "call started", DTMF digit, custom metadata) to the service.
	SendEvent(name string, data any) error

	// OnAudio registers the callback invoked for each inbound audio
	// chunk from the service. Must be set before Connect.
	OnAudio(fn func(payload []byte))

	// OnTranscript registers the callback invoked for each transcript
	// update. Must be set before Connect.
	OnTranscript(fn func(ev TranscriptEvent))

	// OnHangup registers the callback invoked when the service ends the
	// conversation. Must be set before Connect.
	OnHangup(fn func(reason string))

	// Close tears down the connection, idempotent.
	Close() error
}

// FrameCodec adapts between this bridge's internal audio representation
// and the bytes a concrete vendor wire protocol expects on the wire
// (e.g. base64-encoded PCM inside a JSON envelope).
type FrameCodec interface {
	EncodeAudio(payload []byte) ([]byte, error)
	DecodeAudio(wire []byte) ([]byte, error)
}
