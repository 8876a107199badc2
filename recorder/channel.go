// SPDX-License-Identifier: MPL-2.0

package recorder

import "io"

// ChannelRecorder writes one direction's audio to its own mono WAV file,
// with no timing/slotting logic — each chunk is appended as it arrives.
type ChannelRecorder struct {
	w *WavWriter
}

// NewChannelRecorder returns a mono recorder over ws at sampleRate.
func NewChannelRecorder(ws io.WriteSeeker, sampleRate int) *ChannelRecorder {
	return &ChannelRecorder{w: NewWavWriter(ws, sampleRate, 1)}
}

// Write appends one chunk of linear PCM.
func (c *ChannelRecorder) Write(pcm []byte) error {
	_, err := c.w.Write(pcm)
	return err
}

// Close finalizes the WAV file.
func (c *ChannelRecorder) Close() error {
	return c.w.Close()
}
