package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Converter brings capture frames into a target format. Downmixing happens
// before resampling so only one channel is interpolated. It warns once on the
// first mismatch and drops frames whose byte count is not sample aligned.
// Not safe for concurrent use; create one per stream.
type Converter struct {
	Target Format

	warnMismatch sync.Once
	warnCorrupt  sync.Once
}

// Convert returns frame in the target format. Frames already in the target
// format are returned as-is.
func (c *Converter) Convert(frame AudioFrame) AudioFrame {
	if frame.Channels <= 0 || len(frame.Data)%(2*frame.Channels) != 0 {
		c.warnCorrupt.Do(func() {
			slog.Warn("audio: dropping misaligned capture frame",
				"bytes", len(frame.Data),
				"channels", frame.Channels,
			)
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnMismatch.Do(func() {
		slog.Info("audio: converting capture format",
			"from", describe(frame.SampleRate, frame.Channels),
			"to", describe(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := frame.Data
	channels := frame.Channels
	if channels != 1 && c.Target.Channels == 1 {
		pcm = Downmix(pcm, channels)
		channels = 1
	}
	pcm = Resample(pcm, channels, frame.SampleRate, c.Target.SampleRate)
	if channels == 1 && c.Target.Channels > 1 {
		pcm = Upmix(pcm, c.Target.Channels)
		channels = c.Target.Channels
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   channels,
		Timestamp:  frame.Timestamp,
	}
}

// Downmix averages each interleaved frame of 16-bit PCM down to one channel.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * 2
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[i*stride+ch*2:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(sum/int32(channels))))
	}
	return out
}

// Upmix copies each mono sample into every one of channels outputs.
func Upmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	samples := len(pcm) / 2
	out := make([]byte, samples*2*channels)
	for i := range samples {
		for ch := range channels {
			j := (i*channels + ch) * 2
			out[j] = pcm[i*2]
			out[j+1] = pcm[i*2+1]
		}
	}
	return out
}

// Resample converts interleaved 16-bit PCM between sample rates with linear
// interpolation. Unknown or equal rates return the input unchanged.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || channels <= 0 {
		return pcm
	}
	stride := channels * 2
	srcFrames := len(pcm) / stride
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	at := func(frame, ch int) float64 {
		frame = min(frame, srcFrames-1)
		return float64(int16(binary.LittleEndian.Uint16(pcm[frame*stride+ch*2:])))
	}

	out := make([]byte, dstFrames*stride)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		for ch := range channels {
			v := at(idx, ch)*(1-frac) + at(idx+1, ch)*frac
			binary.LittleEndian.PutUint16(out[i*stride+ch*2:], uint16(int16(v)))
		}
	}
	return out
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}

func describe(rate, channels int) string {
	switch channels {
	case 1:
		return fmt.Sprintf("%dHz mono", rate)
	case 2:
		return fmt.Sprintf("%dHz stereo", rate)
	}
	return fmt.Sprintf("%dHz %dch", rate, channels)
}
