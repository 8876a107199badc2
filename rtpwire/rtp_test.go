// SPDX-License-Identifier: MPL-2.0

package rtpwire

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalMarshalRoundTrip(t *testing.T) {
	orig := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    8,
			SequenceNumber: 42,
			Timestamp:      12345,
			SSRC:           0xdeadbeef,
		},
		Payload: []byte{1, 2, 3, 4, 5},
	}
	buf, err := orig.Marshal()
	require.NoError(t, err)

	got := &rtp.Packet{}
	require.NoError(t, Unmarshal(buf, got))
	require.Equal(t, orig.PayloadType, got.PayloadType)
	require.Equal(t, orig.SequenceNumber, got.SequenceNumber)
	require.Equal(t, orig.Timestamp, got.Timestamp)
	require.Equal(t, orig.SSRC, got.SSRC)
	require.Equal(t, orig.Payload, got.Payload)
}

func TestUnmarshalReusesPayloadBuffer(t *testing.T) {
	orig := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 0},
		Payload: []byte{9, 9, 9},
	}
	buf, err := orig.Marshal()
	require.NoError(t, err)

	reused := make([]byte, 3, 16)
	got := &rtp.Packet{Payload: reused}
	require.NoError(t, Unmarshal(buf, got))
	require.Equal(t, []byte{9, 9, 9}, got.Payload)
	require.Same(t, &reused[0], &got.Payload[0])
}

func TestUnmarshalShortPacket(t *testing.T) {
	got := &rtp.Packet{}
	err := Unmarshal([]byte{0x80}, got)
	require.Error(t, err)
}
