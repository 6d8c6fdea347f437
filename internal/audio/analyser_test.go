package audio

import (
	"math"
	"testing"
)

func sine(n int, freq, rate, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return out
}

func TestAnalyser_Silence(t *testing.T) {
	a := NewAnalyser(256)

	bins := a.ByteFrequencyData(make([]float32, 256))
	if len(bins) != 128 {
		t.Fatalf("Expected 128 bins, got %d", len(bins))
	}
	for i, b := range bins {
		if b != 0 {
			t.Fatalf("Bin %d: expected 0 for silence, got %d", i, b)
		}
	}
	if level := a.Level(nil); level != 0 {
		t.Errorf("Expected level 0 for no input, got %f", level)
	}
}

func TestAnalyser_TonePeaksAtItsBin(t *testing.T) {
	a := NewAnalyser(256)
	a.smoothing = 0

	// 24kHz / 256 = 93.75 Hz per bin; 1875 Hz sits exactly on bin 20
	bins := a.ByteFrequencyData(sine(256, 1875, 24000, 0.085))

	peak := 0
	for i := range bins {
		if bins[i] > bins[peak] {
			peak = i
		}
	}
	if peak != 20 {
		t.Errorf("Expected peak at bin 20, got %d", peak)
	}
	if bins[peak] < 200 || bins[peak] == 255 {
		t.Errorf("Expected a strong unclipped peak, got %d", bins[peak])
	}
	if bins[19] >= bins[20] || bins[21] >= bins[20] {
		t.Errorf("Expected neighbours below the peak, got %d %d %d", bins[19], bins[20], bins[21])
	}
}

func TestAnalyser_LouderIsHigher(t *testing.T) {
	quiet := NewAnalyser(256)
	loud := NewAnalyser(256)
	quiet.smoothing = 0
	loud.smoothing = 0

	q := quiet.Level(sine(256, 440, 24000, 0.01))
	l := loud.Level(sine(256, 440, 24000, 0.9))
	if l <= q {
		t.Errorf("Expected louder signal to score higher: quiet %f, loud %f", q, l)
	}
}

func TestAnalyser_SmoothingDecays(t *testing.T) {
	a := NewAnalyser(256)
	tone := sine(256, 1875, 24000, 0.9)

	for i := 0; i < 20; i++ {
		a.Level(tone)
	}
	playing := a.Level(tone)
	afterOne := a.Level(make([]float32, 256))
	if afterOne <= 0 || afterOne >= playing {
		t.Errorf("Expected smoothed level between 0 and %f after silence, got %f", playing, afterOne)
	}

	a.Reset()
	if level := a.Level(make([]float32, 256)); level != 0 {
		t.Errorf("Expected 0 after reset, got %f", level)
	}
}
