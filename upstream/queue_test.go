// SPDX-License-Identifier: MPL-2.0

package upstream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAudioQueueWriteExtract(t *testing.T) {
	q := NewAudioQueue(100)
	dropped := q.Write([]byte{1, 2, 3})
	require.Zero(t, dropped)
	require.Equal(t, 3, q.Len())

	frame, ok := q.ExtractFrame(2)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2}, frame)
	require.Equal(t, 1, q.Len())
}

func TestAudioQueueOverflowDropsOldest(t *testing.T) {
	q := NewAudioQueue(4)
	q.Write([]byte{1, 2, 3, 4})
	dropped := q.Write([]byte{5, 6})
	require.Equal(t, 2, dropped)

	frame, ok := q.ExtractFrame(4)
	require.True(t, ok)
	require.Equal(t, []byte{3, 4, 5, 6}, frame)
	require.EqualValues(t, 2, q.Dropped())
}

func TestAudioQueueExtractEmptyReturnsNotOK(t *testing.T) {
	q := NewAudioQueue(10)
	_, ok := q.ExtractFrame(5)
	require.False(t, ok)
}

func TestAudioQueueExtractPartialWhenShort(t *testing.T) {
	q := NewAudioQueue(10)
	q.Write([]byte{1, 2})
	frame, ok := q.ExtractFrame(5)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2}, frame)
}

func TestAudioQueueReset(t *testing.T) {
	q := NewAudioQueue(10)
	q.Write([]byte{1, 2, 3})
	q.Reset()
	require.Zero(t, q.Len())
}
