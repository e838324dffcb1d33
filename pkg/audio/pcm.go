package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrOddLength is returned when a 16-bit PCM payload has an odd byte count.
var ErrOddLength = errors.New("audio: pcm payload has odd byte length")

// volumePrefix is the number of leading bytes sampled by [VolumeLevel].
const volumePrefix = 50

// PCMMIMEType returns the MIME annotation for raw 16-bit PCM at rate.
func PCMMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// FloatTo16BitPCM clamps each sample to [-1, 1] and scales it onto the int16
// range. Negative values scale by 32768 and non-negative values by 32767 so
// both ends of the two's-complement range are reachable.
func FloatTo16BitPCM(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		if v < 0 {
			out[i] = int16(v * 32768)
		} else {
			out[i] = int16(v * 32767)
		}
	}
	return out
}

// Int16ToBytes serialises samples as little-endian 16-bit PCM.
func Int16ToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToFloat interprets data as little-endian 16-bit PCM and normalizes each
// sample by 32768.
func BytesToFloat(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return out, nil
}

// EncodeBase64 encodes raw bytes for transport.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 reverses [EncodeBase64].
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	return data, nil
}

// EncodeFrame runs samples through the 16-bit codec and returns the wire blob
// for the given sample rate.
func EncodeFrame(samples []float32, rate int) Blob {
	return Blob{
		MIMEType: PCMMIMEType(rate),
		Data:     EncodeBase64(Int16ToBytes(FloatTo16BitPCM(samples))),
	}
}

// DecodeAudioData turns interleaved 16-bit PCM into a playable [Buffer]
// tagged with sampleRate and channels.
func DecodeAudioData(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	samples, err := BytesToFloat(data)
	if err != nil {
		return nil, err
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("audio: %d samples do not divide into %d channels", len(samples), channels)
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// VolumeLevel is a coarse loudness estimate for visualisation: the mean
// absolute deviation of the leading bytes from the unsigned midpoint (128),
// normalized into [0, 1].
func VolumeLevel(data []byte) float64 {
	n := min(len(data), volumePrefix)
	if n == 0 {
		return 0
	}
	var sum int
	for _, b := range data[:n] {
		d := int(b) - 128
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return math.Min(1, float64(sum)/float64(n)/volumePrefix)
}
