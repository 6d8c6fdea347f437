package audio

import (
	"encoding/base64"
	"math"
	"testing"
	"time"
)

func TestFloat32ToPCM16_Clamp(t *testing.T) {
	pcm := Float32ToPCM16([]float32{0, 1, -1, 2, -2, 0.5})

	want := []int16{0, 0x7FFF, -0x8000, 0x7FFF, -0x8000, 16383}
	for i, w := range want {
		got := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		if got != w {
			t.Errorf("Sample %d: expected %d, got %d", i, w, got)
		}
	}
}

func TestPCM16ToFloat32(t *testing.T) {
	// 0x8000 (-32768) little-endian, then 0x4000 (16384)
	samples, err := PCM16ToFloat32([]byte{0x00, 0x80, 0x00, 0x40})
	if err != nil {
		t.Fatalf("PCM16ToFloat32 failed: %v", err)
	}
	if samples[0] != -1 {
		t.Errorf("Expected -1, got %f", samples[0])
	}
	if samples[1] != 0.5 {
		t.Errorf("Expected 0.5, got %f", samples[1])
	}

	if _, err := PCM16ToFloat32([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length PCM")
	}
}

func TestDownsample_BlockAverage(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	out := Downsample(in, 48000, 16000)

	if len(out) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(out))
	}
	if math.Abs(float64(out[0])-0.2) > 1e-6 {
		t.Errorf("Expected first average 0.2, got %f", out[0])
	}
	if math.Abs(float64(out[1])-0.5) > 1e-6 {
		t.Errorf("Expected second average 0.5, got %f", out[1])
	}
}

func TestDownsample_NonIntegerRatio(t *testing.T) {
	in := make([]float32, 44100)
	for i := range in {
		in[i] = 0.25
	}
	out := Downsample(in, 44100, 16000)

	if len(out) != 16000 {
		t.Errorf("Expected 16000 samples, got %d", len(out))
	}
	for i, s := range out {
		if math.Abs(float64(s)-0.25) > 1e-6 {
			t.Fatalf("Sample %d: expected 0.25, got %f", i, s)
		}
	}
}

func TestDownsample_SameRate(t *testing.T) {
	in := []float32{0.1, 0.2}
	out := Downsample(in, 16000, 16000)
	if len(out) != 2 || out[0] != 0.1 {
		t.Errorf("Expected input unchanged, got %v", out)
	}
}

func TestEncodeDecodeFrame(t *testing.T) {
	frame := EncodeFrame([]float32{0, 0.5, -0.5}, 16000)

	if frame.MimeType != "audio/pcm;rate=16000" {
		t.Errorf("Expected mime 'audio/pcm;rate=16000', got '%s'", frame.MimeType)
	}
	if frame.Samples != 3 {
		t.Errorf("Expected 3 samples, got %d", frame.Samples)
	}
	raw, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		t.Fatalf("Frame data is not base64: %v", err)
	}
	if len(raw) != 6 {
		t.Errorf("Expected 6 PCM bytes, got %d", len(raw))
	}

	samples, err := DecodeFrame(frame.Data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if math.Abs(float64(samples[1])-0.5) > 1e-3 || math.Abs(float64(samples[2])+0.5) > 1e-3 {
		t.Errorf("Expected ~[0 0.5 -0.5], got %v", samples)
	}
}

func TestDecodeFrame_Invalid(t *testing.T) {
	if _, err := DecodeFrame(""); err == nil {
		t.Error("Expected error for empty payload")
	}
	if _, err := DecodeFrame("not base64!"); err == nil {
		t.Error("Expected error for invalid base64")
	}
	if _, err := DecodeFrame(base64.StdEncoding.EncodeToString([]byte{1})); err == nil {
		t.Error("Expected error for odd PCM length")
	}
}

func TestSamplesDuration(t *testing.T) {
	if d := SamplesDuration(2400, 24000); d != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", d)
	}
	if d := SamplesDuration(100, 0); d != 0 {
		t.Errorf("Expected 0 for invalid rate, got %v", d)
	}
}

func TestDurationSamples_InvertsSamplesDuration(t *testing.T) {
	for _, rate := range []int{16000, 24000, 44100, 48000} {
		for n := 0; n < 5000; n += 7 {
			if got := DurationSamples(SamplesDuration(n, rate), rate); got != int64(n) {
				t.Fatalf("Expected %d samples back at %d Hz, got %d", n, rate, got)
			}
		}
	}
	if got := DurationSamples(time.Millisecond, 0); got != 0 {
		t.Errorf("Expected 0 for invalid rate, got %d", got)
	}
}

func TestCalculateRMS(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0 {
		t.Errorf("Expected 0 for empty input, got %f", rms)
	}
	rms := CalculateRMS([]float32{0.5, -0.5, 0.5, -0.5})
	if math.Abs(rms-0.5) > 1e-9 {
		t.Errorf("Expected RMS 0.5, got %f", rms)
	}
}
