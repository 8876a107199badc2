// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/voicebridge/mediabridge/codec"
	"github.com/voicebridge/mediabridge/endpoint"
)

func TestInboundPipelineFansOutDecodedAudio(t *testing.T) {
	server, err := endpoint.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}, nil, zerolog.Nop())
	require.NoError(t, err)
	defer server.Close()

	client, err := endpoint.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}, server.LocalAddr(), zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	desc := codec.PCMA8000

	var mu sync.Mutex
	var recorded [][]byte
	var upstreamed [][]byte

	p := NewInboundPipeline(server, desc, 20*time.Millisecond, 0, nil, zerolog.Nop())
	p.ToRecorder = func(pcm []byte, at time.Time) {
		mu.Lock()
		recorded = append(recorded, pcm)
		mu.Unlock()
	}
	p.ToUpstream = func(payload []byte) {
		mu.Lock()
		upstreamed = append(upstreamed, payload)
		mu.Unlock()
	}

	go p.RunReceive()
	defer p.Stop()

	for i, seq := range []uint16{1, 2} {
		pkt := &rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: 8, SequenceNumber: seq, Timestamp: uint32(i) * 160, SSRC: 1},
			Payload: make([]byte, 160),
		}
		data, err := pkt.Marshal()
		require.NoError(t, err)
		_, err = client.WriteRTP(data)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(upstreamed) > 0
	}, 2*time.Second, 20*time.Millisecond)
}

// TestInboundPipelineConcealsLostPacket covers spec.md §4.4: a packet
// that never arrives is concealed once the jitter buffer's timeout
// fires, and the gap does not stall later in-order delivery.
func TestInboundPipelineConcealsLostPacket(t *testing.T) {
	server, err := endpoint.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}, nil, zerolog.Nop())
	require.NoError(t, err)
	defer server.Close()

	client, err := endpoint.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}, server.LocalAddr(), zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	desc := codec.PCMA8000

	var mu sync.Mutex
	var upstreamed [][]byte

	p := NewInboundPipeline(server, desc, 20*time.Millisecond, 0, nil, zerolog.Nop())
	p.ToUpstream = func(payload []byte) {
		mu.Lock()
		upstreamed = append(upstreamed, payload)
		mu.Unlock()
	}

	go p.RunReceive()
	defer p.Stop()

	// Send seq 1, skip seq 2, send seq 3: seq 2 should be concealed once
	// the buffer's 20ms timeout elapses, and seq 3 must still arrive.
	for _, seq := range []uint16{1, 3} {
		pkt := &rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: 8, SequenceNumber: seq, Timestamp: uint32(seq) * 160, SSRC: 1},
			Payload: make([]byte, 160),
		}
		data, err := pkt.Marshal()
		require.NoError(t, err)
		_, err = client.WriteRTP(data)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(upstreamed) >= 3
	}, 2*time.Second, 20*time.Millisecond)

	snap := p.JitterBuffer().Snapshot()
	require.EqualValues(t, 1, snap.Lost)
}
