package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Frame is one encoded block of 16-bit little-endian mono PCM, base64 framed
// for the voice service.
type Frame struct {
	Data     string
	MimeType string
	Samples  int
	Level    float64 // RMS of the block in [0, 1]
}

// MimeType returns the wire mime type for raw PCM at rate
func MimeType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// PCM16ToFloat32 converts 16-bit signed little-endian PCM to samples in [-1, 1)
func PCM16ToFloat32(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(pcm))
	}

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples, nil
}

// Float32ToPCM16 clamps samples to [-1, 1] and encodes them as 16-bit
// little-endian PCM. Negative values scale by 0x8000, positive by 0x7FFF.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Downsample reduces samples from inputRate to outputRate by averaging each
// block of input samples that maps onto one output sample.
func Downsample(samples []float32, inputRate, outputRate int) []float32 {
	if inputRate <= outputRate || len(samples) == 0 {
		return samples
	}

	in, outRate := int64(inputRate), int64(outputRate)
	outLen := int(int64(len(samples)) * outRate / in)
	out := make([]float32, outLen)
	for i := range out {
		start := int(int64(i) * in / outRate)
		end := int(int64(i+1) * in / outRate)
		if end > len(samples) {
			end = len(samples)
		}
		if end <= start {
			end = start + 1
		}
		var sum float64
		for _, s := range samples[start:end] {
			sum += float64(s)
		}
		out[i] = float32(sum / float64(end-start))
	}
	return out
}

// EncodeFrame encodes samples at rate into a wire frame
func EncodeFrame(samples []float32, rate int) Frame {
	return Frame{
		Data:     base64.StdEncoding.EncodeToString(Float32ToPCM16(samples)),
		MimeType: MimeType(rate),
		Samples:  len(samples),
		Level:    CalculateRMS(samples),
	}
}

// DecodeFrame decodes a base64 PCM payload received from the voice service
func DecodeFrame(data string) ([]float32, error) {
	if data == "" {
		return nil, fmt.Errorf("empty audio payload")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio: %w", err)
	}
	return PCM16ToFloat32(raw)
}

// SamplesDuration returns the playback duration of n samples at rate
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// DurationSamples returns the index of the first sample at or after d.
// It inverts SamplesDuration exactly.
func DurationSamples(d time.Duration, rate int) int64 {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return (int64(d)*int64(rate) + int64(time.Second) - 1) / int64(time.Second)
}

// CalculateRMS calculates the root mean square of samples
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
