// SPDX-License-Identifier: MPL-2.0

package rtpwire

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"
)

func TestNTPTimestampRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ntp := NTPTimestamp(now)
	back := NTPToTime(ntp)
	require.WithinDuration(t, now, back, time.Millisecond)
}

func TestMarshalUnmarshalCompound(t *testing.T) {
	pkts := []rtcp.Packet{
		&rtcp.SenderReport{SSRC: 1, PacketCount: 10},
		&rtcp.ReceiverReport{SSRC: 2},
	}
	data, err := MarshalCompound(pkts)
	require.NoError(t, err)

	out := make([]rtcp.Packet, 5)
	n, err := UnmarshalCompound(data, out)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.IsType(t, &rtcp.SenderReport{}, out[0])
	require.IsType(t, &rtcp.ReceiverReport{}, out[1])
}

func TestNewSenderReport(t *testing.T) {
	sr := NewSenderReport(7, time.Now(), 1000, 5, 800)
	require.EqualValues(t, 7, sr.SSRC)
	require.EqualValues(t, 1000, sr.RTPTime)
	require.EqualValues(t, 5, sr.PacketCount)
	require.EqualValues(t, 800, sr.OctetCount)
}
