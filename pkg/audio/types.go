// Package audio holds the PCM primitives shared by the capture and playback
// sides of an interview session: the 16-bit codec, format conversion, the
// loudness meter and the device contracts both audio clocks are built on.
package audio

import "time"

// Session-wide PCM constants. Capture runs at InputSampleRate and is shipped in
// FrameSize sample blocks; synthesized speech arrives at OutputSampleRate.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	FrameSize        = 4096
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// AudioFrame is a block of interleaved little-endian 16-bit PCM as delivered
// by a capture device.
type AudioFrame struct {
	Data []byte

	SampleRate int
	Channels   int

	// Timestamp is the capture offset relative to the start of the stream.
	Timestamp time.Duration
}

// Samples reports the number of samples per channel contained in the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Buffer is decoded, playable audio: normalized float samples tagged with the
// rate and channel layout they must be played at.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames reports the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration is the play-out length of the buffer at its own sample rate.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Blob is an encoded media payload ready for the wire.
type Blob struct {
	MIMEType string
	Data     string // base64
}
