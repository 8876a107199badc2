// SPDX-License-Identifier: MPL-2.0

package pacer

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fixedSamples returns a samplesPerFrame provider that never changes,
// for tests that don't exercise dynamic frame-size preference.
func fixedSamples(n uint32) func() uint32 {
	return func() uint32 { return n }
}

func TestSchedulerEmitsPrimeBurstImmediately(t *testing.T) {
	var mu sync.Mutex
	var sent []time.Time

	produce := func() []byte { return []byte{0xFF} }
	write := func(pkt *rtp.Packet) error {
		mu.Lock()
		sent = append(sent, time.Now())
		mu.Unlock()
		return nil
	}

	s := New(20*time.Millisecond, fixedSamples(160), 8, 1, produce, write, zerolog.Nop())
	go s.Run(3)
	defer s.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) >= 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// The priming burst should land well before one frame period elapses.
	require.WithinDuration(t, sent[0], sent[2], 15*time.Millisecond)
}

func TestSchedulerSequenceIncrementsMonotonically(t *testing.T) {
	var mu sync.Mutex
	var seqs []uint16

	produce := func() []byte { return []byte{0xFF} }
	write := func(pkt *rtp.Packet) error {
		mu.Lock()
		seqs = append(seqs, pkt.SequenceNumber)
		mu.Unlock()
		return nil
	}

	s := New(5*time.Millisecond, fixedSamples(40), 8, 1, produce, write, zerolog.Nop())
	go s.Run(1)
	defer s.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) >= 5
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seqs); i++ {
		require.Equal(t, seqs[i-1]+1, seqs[i])
	}
}

func TestSchedulerSkipsEmitWhenProducerReturnsNil(t *testing.T) {
	var calls int
	var mu sync.Mutex

	produce := func() []byte { return nil }
	write := func(pkt *rtp.Packet) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}

	s := New(5*time.Millisecond, fixedSamples(40), 8, 1, produce, write, zerolog.Nop())
	go s.Run(0)
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, calls)
}

// TestSchedulerConsultsSamplesPerFrameEveryEmit covers spec.md §4.5's
// outbound preference for a detected frame size over the codec
// nominal: when the provider's return value changes mid-stream (as it
// would once a FrameSizeDetector confirms a non-nominal size), the
// timestamp advance for the very next packet reflects the new value,
// proving the scheduler re-reads it rather than capturing it once.
func TestSchedulerConsultsSamplesPerFrameEveryEmit(t *testing.T) {
	var mu sync.Mutex
	var timestamps []uint32

	var current uint32 = 160
	samples := func() uint32 {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	produce := func() []byte { return []byte{0xFF} }
	write := func(pkt *rtp.Packet) error {
		mu.Lock()
		timestamps = append(timestamps, pkt.Timestamp)
		mu.Unlock()
		return nil
	}

	s := &Scheduler{
		log:             zerolog.Nop(),
		frameDur:        5 * time.Millisecond,
		samplesPerFrame: samples,
		payloadType:     8,
		ssrc:            1,
		produce:         produce,
		write:           write,
		stopCh:          make(chan struct{}),
	}
	s.emit(true) // ts=0, advances by current=160
	mu.Lock()
	current = 240
	mu.Unlock()
	s.emit(false) // ts=160, advances by the now-changed 240

	require.Equal(t, []uint32{0, 160}, timestamps)
	require.EqualValues(t, 400, s.nextTimestamp)
}
