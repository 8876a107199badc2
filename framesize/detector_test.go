// SPDX-License-Identifier: MPL-2.0

package framesize

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/voicebridge/mediabridge/codec"
)

func TestDetectorConfirmsAfterTwoMatchingDeltas(t *testing.T) {
	s := NewState(codec.PCMA8000)

	_, ok := s.Observe(0, 160)
	require.False(t, ok)

	_, ok = s.Observe(160, 160)
	require.False(t, ok)

	samples, ok := s.Observe(320, 160)
	require.True(t, ok)
	require.EqualValues(t, 160, samples)
}

func TestDetectorIgnoresImplausibleDelta(t *testing.T) {
	s := NewState(codec.PCMA8000)
	s.Observe(0, 160)
	s.Observe(160, 160)
	s.Observe(320, 160)
	require.EqualValues(t, 160, s.Confirmed())

	// A huge jump (e.g. a dropped burst) must not perturb the confirmed value.
	samples, ok := s.Observe(100000, 160)
	require.True(t, ok)
	require.EqualValues(t, 160, samples)
}

func TestDetectorRejectsPayloadMismatch(t *testing.T) {
	s := NewState(codec.PCMA8000)
	s.Observe(0, 160)
	// delta of 160 but payload claims 320 samples worth of bytes: disagree.
	_, ok := s.Observe(160, 320)
	require.False(t, ok)
}

func TestDetectorReset(t *testing.T) {
	s := NewState(codec.PCMA8000)
	s.Observe(0, 160)
	s.Observe(160, 160)
	s.Observe(320, 160)
	require.True(t, s.Confirmed() != 0)

	s.Reset()
	require.EqualValues(t, 0, s.Confirmed())
}
