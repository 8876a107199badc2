// SPDX-License-Identifier: MPL-2.0

// Package recorder writes call audio to disk: a generalized WAV writer
// usable for mono per-direction files or the combined stereo mix, plus
// the stereo slotted-timeline mixer and a simple mono channel recorder.
package recorder

import (
	"encoding/binary"
	"io"
)

// WavWriter writes a canonical PCM WAV file. The header is written once
// with a zeroed size, then rewritten in full on Close once the final
// data size is known — the file is always playable mid-recording with a
// (harmlessly wrong) trailing size until finalized.
type WavWriter struct {
	SampleRate  int
	BitDepth    int
	NumChannels int

	w              io.WriteSeeker
	headerWritten  bool
	dataSize       int64
}

// NewWavWriter returns a 16-bit PCM writer at the given sample rate and
// channel count (1 for a per-direction file, 2 for the stereo mix).
func NewWavWriter(w io.WriteSeeker, sampleRate, numChannels int) *WavWriter {
	return &WavWriter{
		SampleRate:  sampleRate,
		BitDepth:    16,
		NumChannels: numChannels,
		w:           w,
	}
}

func (ww *WavWriter) Write(pcm []byte) (int, error) {
	if !ww.headerWritten {
		if _, err := ww.writeHeader(); err != nil {
			return 0, err
		}
		ww.headerWritten = true
	}
	n, err := ww.w.Write(pcm)
	ww.dataSize += int64(n)
	return n, err
}

const (
	headerSize   = 44
	fmtChunkSize = 16
	pcmFormat    = 1
)

func (ww *WavWriter) writeHeader() (int, error) {
	header := make([]byte, headerSize)
	fileSize := ww.dataSize + headerSize - 8
	blockAlign := ww.BitDepth * ww.NumChannels / 8

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(fileSize))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(header[20:22], uint16(pcmFormat))
	binary.LittleEndian.PutUint16(header[22:24], uint16(ww.NumChannels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(ww.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(ww.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(ww.BitDepth))

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(ww.dataSize))

	return ww.w.Write(header)
}

// Close finalizes the WAV header with the true data size. Idempotent
// only in the sense that calling it twice rewrites the same header
// twice; callers should call it exactly once.
func (ww *WavWriter) Close() error {
	if _, err := ww.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := ww.writeHeader()
	return err
}
