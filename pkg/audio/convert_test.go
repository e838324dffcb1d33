package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/panelai/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian bytes to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length: got %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix_Stereo(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.Downmix(samplesToBytes([]int16{100, 200, -100, -200}), 2))
	equalSamples(t, got, []int16{150, -150})
}

func TestDownmix_Clamps(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.Downmix(samplesToBytes([]int16{32767, 32767, -32768, -32768}), 2))
	equalSamples(t, got, []int16{32767, -32768})
}

func TestUpmix(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.Upmix(samplesToBytes([]int16{7, -7}), 2))
	equalSamples(t, got, []int16{7, 7, -7, -7})
}

func TestResample(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		channels int
		src, dst int
		want     []int16
	}{
		{name: "same rate", in: []int16{1, 2, 3}, channels: 1, src: 16000, dst: 16000, want: []int16{1, 2, 3}},
		{name: "zero rate", in: []int16{1, 2}, channels: 1, src: 0, dst: 16000, want: []int16{1, 2}},
		{name: "downsample 3x", in: []int16{0, 10, 20, 30, 40, 50}, channels: 1, src: 48000, dst: 16000, want: []int16{0, 30}},
		{name: "upsample 2x", in: []int16{0, 100}, channels: 1, src: 8000, dst: 16000, want: []int16{0, 50, 100, 100}},
		{name: "stereo halves", in: []int16{0, 1, 2, 3, 4, 5, 6, 7}, channels: 2, src: 32000, dst: 16000, want: []int16{0, 1, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.Resample(samplesToBytes(tt.in), tt.channels, tt.src, tt.dst))
			equalSamples(t, got, tt.want)
		})
	}
}

func TestConverter_Passthrough(t *testing.T) {
	t.Parallel()
	c := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	in := audio.AudioFrame{Data: samplesToBytes([]int16{1, 2}), SampleRate: 16000, Channels: 1}
	out := c.Convert(in)
	if &out.Data[0] != &in.Data[0] {
		t.Error("matching format should not copy data")
	}
}

func TestConverter_StereoToMono16k(t *testing.T) {
	t.Parallel()
	c := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	// 48 kHz stereo, 6 frames -> 2 mono frames at 16 kHz.
	in := samplesToBytes([]int16{0, 0, 1, 1, 2, 2, 300, 300, 4, 4, 5, 5})
	out := c.Convert(audio.AudioFrame{Data: in, SampleRate: 48000, Channels: 2})
	if out.SampleRate != 16000 || out.Channels != 1 {
		t.Fatalf("format = %dHz/%dch", out.SampleRate, out.Channels)
	}
	equalSamples(t, bytesToSamples(out.Data), []int16{0, 300})
}

func TestConverter_DropsMisalignedFrame(t *testing.T) {
	t.Parallel()
	c := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	out := c.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
	if len(out.Data) != 0 {
		t.Errorf("expected empty frame, got %d bytes", len(out.Data))
	}
	out = c.Convert(audio.AudioFrame{Data: []byte{1, 2, 3, 4, 5, 6}, SampleRate: 48000, Channels: 2})
	if len(out.Data) != 0 {
		t.Errorf("expected empty frame for stereo misalignment, got %d bytes", len(out.Data))
	}
}
