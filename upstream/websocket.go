// SPDX-License-Identifier: MPL-2.0

package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20
)

// base64Codec is the default FrameCodec: audio frames travel as raw
// base64 text, with no surrounding vendor envelope. Callers with a real
// vendor protocol supply their own FrameCodec.
type base64Codec struct{}

func (base64Codec) EncodeAudio(payload []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(payload)))
	base64.StdEncoding.Encode(out, payload)
	return out, nil
}

func (base64Codec) DecodeAudio(wire []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(wire)))
	n, err := base64.StdEncoding.Decode(out, wire)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// envelope is the minimal message framing used over the WebSocket: a
// type tag plus a payload field, adequate for audio/event/transcript/
// hangup without committing to any one vendor's JSON shape.
type envelope struct {
	Type string `json:"type"`
	Data any     `json:"data,omitempty"`
}

// WSTransport is the default Transport implementation, speaking JSON
// envelopes over a github.com/gorilla/websocket connection with a
// read-pump/write-pump goroutine pair and ping/pong keepalive.
type WSTransport struct {
	log   zerolog.Logger
	url   string
	codec FrameCodec

	conn *websocket.Conn

	sendCh chan envelope
	closed chan struct{}
	once   sync.Once

	onAudio      func(payload []byte)
	onTranscript func(ev TranscriptEvent)
	onHangup     func(reason string)
}

// NewWSTransport returns a transport that will dial url on Connect,
// using codec to translate audio payloads to/from wire bytes. A nil
// codec defaults to plain base64.
func NewWSTransport(url string, codec FrameCodec, log zerolog.Logger) *WSTransport {
	if codec == nil {
		codec = base64Codec{}
	}
	return &WSTransport{
		log:    log.With().Str("component", "upstream.ws").Logger(),
		url:    url,
		codec:  codec,
		sendCh: make(chan envelope, 64),
		closed: make(chan struct{}),
	}
}

func (t *WSTransport) OnAudio(fn func(payload []byte))          { t.onAudio = fn }
func (t *WSTransport) OnTranscript(fn func(ev TranscriptEvent)) { t.onTranscript = fn }
func (t *WSTransport) OnHangup(fn func(reason string))          { t.onHangup = fn }

// Connect dials the WebSocket endpoint and starts the read/write pumps.
func (t *WSTransport) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("upstream: dial: %w", err)
	}
	t.conn = conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go t.readPump()
	go t.writePump()
	return nil
}

func (t *WSTransport) readPump() {
	defer t.Close()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.onHangup != nil {
				t.onHangup(err.Error())
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.log.Debug().Err(err).Msg("malformed upstream message")
			continue
		}
		t.dispatch(env)
	}
}

func (t *WSTransport) dispatch(env envelope) {
	switch env.Type {
	case "audio":
		wire, ok := env.Data.(string)
		if !ok {
			return
		}
		payload, err := t.codec.DecodeAudio([]byte(wire))
		if err != nil {
			t.log.Debug().Err(err).Msg("decode audio frame failed")
			return
		}
		if t.onAudio != nil {
			t.onAudio(payload)
		}
	case "transcript":
		m, ok := env.Data.(map[string]any)
		if !ok {
			return
		}
		text, _ := m["text"].(string)
		final, _ := m["final"].(bool)
		if t.onTranscript != nil {
			t.onTranscript(TranscriptEvent{Text: text, Final: final})
		}
	case "hangup":
		reason, _ := env.Data.(string)
		if t.onHangup != nil {
			t.onHangup(reason)
		}
	}
}

func (t *WSTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-t.sendCh:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				t.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.closed:
			return
		}
	}
}

func (t *WSTransport) SendAudio(payload []byte) error {
	wire, err := t.codec.EncodeAudio(payload)
	if err != nil {
		return err
	}
	return t.enqueue(envelope{Type: "audio", Data: string(wire)})
}

func (t *WSTransport) SendEvent(name string, data any) error {
	return t.enqueue(envelope{Type: name, Data: data})
}

func (t *WSTransport) enqueue(env envelope) error {
	select {
	case t.sendCh <- env:
		return nil
	case <-t.closed:
		return ErrClosed
	default:
		return errors.New("upstream: send queue full")
	}
}

// Close tears down the connection and stops both pumps; idempotent.
func (t *WSTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		if t.conn != nil {
			err = t.conn.Close()
		}
	})
	return err
}
