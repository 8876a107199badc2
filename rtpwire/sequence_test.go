// SPDX-License-Identifier: MPL-2.0

package rtpwire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtendedSequenceWrapping(t *testing.T) {
	var s ExtendedSequence
	s.InitSeq(1<<16 - 1)

	require.NoError(t, s.UpdateSeq(0))
	require.EqualValues(t, 1<<16, s.Extended())
}

func TestExtendedSequenceInOrder(t *testing.T) {
	var s ExtendedSequence
	s.InitSeq(100)
	require.NoError(t, s.UpdateSeq(101))
	require.NoError(t, s.UpdateSeq(102))
	require.EqualValues(t, 102, s.Extended())
}

func TestExtendedSequenceBadJumpThenConfirmed(t *testing.T) {
	var s ExtendedSequence
	s.InitSeq(100)

	err := s.UpdateSeq(40000)
	require.ErrorIs(t, err, ErrSequenceBad)

	err = s.UpdateSeq(40000)
	require.ErrorIs(t, err, ErrSequenceOutOfOrder)
	require.EqualValues(t, 40000, s.Current())
}

func TestExtendedSequenceDuplicate(t *testing.T) {
	var s ExtendedSequence
	s.InitSeq(1000)
	err := s.UpdateSeq(999)
	require.ErrorIs(t, err, ErrSequenceDuplicate)
}

func TestIsNewer(t *testing.T) {
	require.True(t, IsNewer(5, 3))
	require.False(t, IsNewer(3, 5))
	require.True(t, IsNewer(1, 65534))
}

func TestNextWraps(t *testing.T) {
	var s ExtendedSequence
	s.InitSeq(65535)
	next := s.Next()
	require.EqualValues(t, 0, next)
	require.EqualValues(t, 1<<16, s.Extended())
}
