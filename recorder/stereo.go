// SPDX-License-Identifier: MPL-2.0

package recorder

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// slotDur is the wall-clock quantization used to align inbound and
// outbound audio onto a shared timeline, matching the nominal RTP frame
// period. Sub-slot jitter is not preserved (one chunk per direction per
// slot): this is a deliberate simplification, not a bug.
const slotDur = 20 * time.Millisecond

// defaultBurstWindow is how far forward of a chunk's own slot the
// inbound side will search for an already-open slot still waiting for
// its side, absorbing up to 100ms of scheduling burst without splitting
// one logical frame across two slots.
const defaultBurstWindow = 5 // slots, 100ms at slotDur=20ms

// driftGuardSlots bounds how far behind nextFlush (the next slot to be
// written) a chunk's own slot may land before it's considered stale
// clock drift rather than ordinary reordering, and is dropped instead
// of assigned.
const driftGuardSlots = 10 // slots, 200ms at slotDur=20ms

// StereoRecorder.bytesPerSlot is computed per instance from the sample
// rate: a 20ms slot of 16-bit mono PCM at 8kHz is 320 B.

type slot struct {
	left  []byte
	right []byte
}

// StereoRecorder mixes two independently-arriving mono PCM streams
// (inbound on the left channel, outbound on the right) into one stereo
// WAV file, assigning each chunk to the wall-clock slot it belongs to
// rather than simply interleaving arrival order — so a burst or gap in
// one direction does not permanently skew the other's alignment.
type StereoRecorder struct {
	mu sync.Mutex

	log zerolog.Logger

	w            *WavWriter
	sampleRate   int
	bytesPerSlot int // PCM bytes per channel per slot, at this sample rate

	start       time.Time
	started     bool
	slots       map[int64]*slot
	nextFlush   int64
	readyWindow int64 // slots of slack before a missing side is conceded silent
	burstWindow int64 // slots the inbound side searches forward for an open slot
}

// NewStereoRecorder returns a stereo mixer writing to ws at sampleRate,
// holding readyWindow slots of slack (a small number of frames, e.g. 3)
// before conceding a still-missing side as silence. burstWindow bounds
// how far forward the inbound side searches for an open slot (defaults
// to 100ms worth of slots when 0 or negative).
func NewStereoRecorder(ws io.WriteSeeker, sampleRate int, readyWindow int64, burstWindow int64, log zerolog.Logger) *StereoRecorder {
	if readyWindow <= 0 {
		readyWindow = 3
	}
	if burstWindow <= 0 {
		burstWindow = defaultBurstWindow
	}
	bytesPerSlot := int(float64(sampleRate) * slotDur.Seconds() * 2) // 16-bit mono
	return &StereoRecorder{
		log:          log.With().Str("component", "recorder.stereo").Logger(),
		w:            NewWavWriter(ws, sampleRate, 2),
		sampleRate:   sampleRate,
		bytesPerSlot: bytesPerSlot,
		slots:        make(map[int64]*slot),
		readyWindow:  readyWindow,
		burstWindow:  burstWindow,
	}
}

func (r *StereoRecorder) slotIndex(at time.Time) int64 {
	if !r.started {
		r.start = at
		r.started = true
		return 0
	}
	idx := int64(at.Sub(r.start) / slotDur)
	// A timestamp earlier than our recorded start (clock skew, or the
	// very first packet of the opposite direction arriving before we'd
	// set start from this one) is clamped to slot 0 rather than going
	// negative, which would otherwise never flush.
	if idx < 0 {
		idx = 0
	}
	return idx
}

// WriteInbound assigns one chunk of linear PCM, captured at wall-clock
// time at, to the left channel of its slot.
func (r *StereoRecorder) WriteInbound(pcm []byte, at time.Time) error {
	return r.assign(pcm, at, true)
}

// WriteOutbound assigns one chunk to the right channel of its slot.
func (r *StereoRecorder) WriteOutbound(pcm []byte, at time.Time) error {
	return r.assign(pcm, at, false)
}

func (r *StereoRecorder) assign(pcm []byte, at time.Time, left bool) error {
	r.mu.Lock()
	idx := r.slotIndex(at)

	if idx < r.nextFlush-driftGuardSlots {
		r.log.Warn().
			Int64("slot", idx).
			Int64("expected", r.nextFlush).
			Bool("left", left).
			Msg("recorder: dropping chunk, too far behind expected slot")
		r.mu.Unlock()
		return nil
	}

	target := idx
	if left {
		// Burst-window search: only the inbound side hunts forward for
		// the first slot still free for its side, so a burst of
		// telephony packets doesn't collide onto one slot or split a
		// logical frame that's already paired with an outbound chunk a
		// slot or two away. Outbound assignment always uses its exact
		// slot.
		for cand := idx; cand <= idx+r.burstWindow; cand++ {
			if cand < r.nextFlush {
				continue
			}
			if s, ok := r.slots[cand]; ok && s.left != nil {
				continue
			}
			target = cand
			break
		}
	}

	s, ok := r.slots[target]
	if !ok {
		s = &slot{}
		r.slots[target] = s
	}
	if left {
		s.left = pcm
	} else {
		s.right = pcm
	}

	r.drainLocked()
	r.mu.Unlock()
	return nil
}

// drainLocked flushes any slot at nextFlush that either has both sides
// present, or has aged past readyWindow: a direction that never arrives
// must not stall the recording indefinitely. This is a patience timeout,
// distinct from the drift guard in assign, which rejects chunks whose
// own slot already fell too far behind nextFlush.
func (r *StereoRecorder) drainLocked() {
	for {
		s, ok := r.slots[r.nextFlush]
		if !ok {
			// Nothing buffered for this slot yet. Only stall waiting for
			// it if we're still within the window of the newest slot
			// we've seen; otherwise there's nothing coming at all.
			if !r.anyNewerLocked(r.nextFlush) {
				return
			}
			if !r.agedPastWindowLocked(r.nextFlush) {
				return
			}
			r.writeFrame(nil, nil)
			r.nextFlush++
			continue
		}

		if s.left != nil && s.right != nil {
			r.writeFrame(s.left, s.right)
			delete(r.slots, r.nextFlush)
			r.nextFlush++
			continue
		}

		if !r.agedPastWindowLocked(r.nextFlush) {
			return
		}
		r.writeFrame(s.left, s.right)
		delete(r.slots, r.nextFlush)
		r.nextFlush++
	}
}

func (r *StereoRecorder) anyNewerLocked(slotIdx int64) bool {
	for k := range r.slots {
		if k > slotIdx {
			return true
		}
	}
	return false
}

func (r *StereoRecorder) agedPastWindowLocked(slotIdx int64) bool {
	highest := slotIdx
	for k := range r.slots {
		if k > highest {
			highest = k
		}
	}
	return highest-slotIdx >= r.readyWindow
}

// writeFrame interleaves left/right PCM (zero-filling whichever side is
// missing, i.e. silence) and writes one stereo frame to the WAV file.
func (r *StereoRecorder) writeFrame(left, right []byte) {
	n := r.bytesPerSlot
	if left == nil {
		left = make([]byte, n)
	}
	if right == nil {
		right = make([]byte, n)
	}
	frame := make([]byte, 0, 2*n)
	const sampleSize = 2
	for i := 0; i+sampleSize <= n && i+sampleSize <= len(left) && i+sampleSize <= len(right); i += sampleSize {
		frame = append(frame, left[i:i+sampleSize]...)
		frame = append(frame, right[i:i+sampleSize]...)
	}
	r.w.Write(frame)
}

// Close flushes any remaining buffered slots as silence-padded frames
// and finalizes the WAV header.
func (r *StereoRecorder) Close() error {
	r.mu.Lock()
	for len(r.slots) > 0 {
		s := r.slots[r.nextFlush]
		if s == nil {
			s = &slot{}
		}
		r.writeFrame(s.left, s.right)
		delete(r.slots, r.nextFlush)
		r.nextFlush++
	}
	r.mu.Unlock()
	return r.w.Close()
}
