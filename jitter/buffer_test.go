// SPDX-License-Identifier: MPL-2.0

package jitter

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// collector gathers delivered frames from a Buffer's EmitFunc callback
// in a goroutine-safe way, since delivery runs on the buffer's own
// internal goroutine rather than the caller's.
type collector struct {
	mu   sync.Mutex
	got  []BufferedPacket
	conc []bool
}

func (c *collector) emit(pkt BufferedPacket, concealed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, pkt)
	c.conc = append(c.conc, concealed)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func (c *collector) at(i int) (BufferedPacket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.got[i], c.conc[i]
}

func waitForLen(t *testing.T, c *collector, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.len() >= n }, 2*time.Second, 5*time.Millisecond)
}

func TestInOrderDeliveryIsImmediate(t *testing.T) {
	c := &collector{}
	b := New(30*time.Millisecond, 0, c.emit, zerolog.Nop())
	require.NoError(t, b.Push(100, 0, []byte{1}))
	require.NoError(t, b.Push(101, 160, []byte{2}))

	waitForLen(t, c, 2)
	p, concealed := c.at(0)
	require.False(t, concealed)
	require.Equal(t, []byte{1}, p.Payload)
	p, concealed = c.at(1)
	require.False(t, concealed)
	require.Equal(t, []byte{2}, p.Payload)
}

func TestReorderedPacketStillDelivered(t *testing.T) {
	c := &collector{}
	b := New(200*time.Millisecond, 0, c.emit, zerolog.Nop())
	require.NoError(t, b.Push(100, 0, []byte{1}))
	require.NoError(t, b.Push(102, 320, []byte{3}))
	require.NoError(t, b.Push(101, 160, []byte{2})) // arrives late but before timeout

	waitForLen(t, c, 3)
	p, concealed := c.at(1)
	require.False(t, concealed)
	require.Equal(t, []byte{2}, p.Payload)
	require.EqualValues(t, 1, b.Snapshot().Reordered)
}

func TestMissingPacketConcealedAfterTimeout(t *testing.T) {
	c := &collector{}
	b := New(20*time.Millisecond, 0, c.emit, zerolog.Nop())
	require.NoError(t, b.Push(100, 0, []byte{1}))
	require.NoError(t, b.Push(102, 320, []byte{3})) // 101 never shows up

	waitForLen(t, c, 3)
	p, concealed := c.at(0)
	require.False(t, concealed)
	require.Equal(t, []byte{1}, p.Payload)

	_, concealed = c.at(1)
	require.True(t, concealed) // slot 101 conceded after timeout

	p, concealed = c.at(2)
	require.False(t, concealed)
	require.Equal(t, []byte{3}, p.Payload)

	require.EqualValues(t, 1, b.Snapshot().Lost)
}

func TestDuplicateRejected(t *testing.T) {
	c := &collector{}
	b := New(30*time.Millisecond, 0, c.emit, zerolog.Nop())
	require.NoError(t, b.Push(100, 0, []byte{1}))
	err := b.Push(100, 0, []byte{1})
	require.ErrorIs(t, err, ErrDuplicate)
	require.EqualValues(t, 1, b.Snapshot().Duplicate)
}

func TestTooLateRejected(t *testing.T) {
	c := &collector{}
	b := New(30*time.Millisecond, 0, c.emit, zerolog.Nop())
	require.NoError(t, b.Push(100, 0, []byte{1}))
	require.NoError(t, b.Push(101, 160, []byte{2}))
	waitForLen(t, c, 2)

	// 99 was never seen (so it is not a duplicate) but is older than the
	// last delivered sequence, 101.
	err := b.Push(99, 0, []byte{9})
	require.ErrorIs(t, err, ErrTooLate)
	require.EqualValues(t, 1, b.Snapshot().TooLate)
}

func TestFlushDrainsWithConcealment(t *testing.T) {
	c := &collector{}
	b := New(200*time.Millisecond, 0, c.emit, zerolog.Nop())
	require.NoError(t, b.Push(100, 0, []byte{1}))
	require.NoError(t, b.Push(102, 320, []byte{3})) // 101 never shows up

	b.Flush()
	waitForLen(t, c, 3)

	_, concealed := c.at(1)
	require.True(t, concealed)
	p, concealed := c.at(2)
	require.False(t, concealed)
	require.Equal(t, []byte{3}, p.Payload)

	err := b.Push(200, 640, []byte{9})
	require.ErrorIs(t, err, ErrFlushed)
}

func TestStatsSnapshot(t *testing.T) {
	c := &collector{}
	b := New(30*time.Millisecond, 0, c.emit, zerolog.Nop())
	require.NoError(t, b.Push(100, 0, []byte{1}))
	require.NoError(t, b.Push(101, 160, []byte{2}))
	waitForLen(t, c, 2)

	stats := b.Snapshot()
	require.EqualValues(t, 2, stats.Received)
	require.EqualValues(t, 2, stats.Delivered)
}
