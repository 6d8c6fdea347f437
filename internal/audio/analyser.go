package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	defaultMinDecibels = -100.0
	defaultMaxDecibels = -30.0
	defaultSmoothing   = 0.8
)

// Analyser computes a byte-scaled magnitude spectrum of the output signal,
// the same shape a browser AnalyserNode reports: Blackman window, FFT,
// exponential smoothing over time, then decibels mapped onto 0..255.
type Analyser struct {
	size      int
	fft       *fourier.FFT
	minDb     float64
	maxDb     float64
	smoothing float64

	mu       sync.Mutex
	seq      []float64
	coeffs   []complex128
	smoothed []float64
}

// NewAnalyser creates an analyser for windows of size samples (a power of two)
func NewAnalyser(size int) *Analyser {
	return &Analyser{
		size:      size,
		fft:       fourier.NewFFT(size),
		minDb:     defaultMinDecibels,
		maxDb:     defaultMaxDecibels,
		smoothing: defaultSmoothing,
		seq:       make([]float64, size),
		coeffs:    make([]complex128, size/2+1),
		smoothed:  make([]float64, size/2),
	}
}

// Size returns the analysis window length
func (a *Analyser) Size() int {
	return a.size
}

// ByteFrequencyData returns size/2 bins scaled to 0..255. Shorter input is
// zero padded at the front so the newest samples sit at the end of the window.
func (a *Analyser) ByteFrequencyData(samples []float32) []uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(samples) > a.size {
		samples = samples[len(samples)-a.size:]
	}
	pad := a.size - len(samples)
	for i := range a.seq {
		if i < pad {
			a.seq[i] = 0
		} else {
			a.seq[i] = float64(samples[i-pad])
		}
	}
	window.Blackman(a.seq)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.seq)

	out := make([]uint8, len(a.smoothed))
	scale := 255.0 / (a.maxDb - a.minDb)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		db := 20 * math.Log10(a.smoothed[k])
		v := math.Floor(scale * (db - a.minDb))
		switch {
		case math.IsNaN(v) || v < 0:
			out[k] = 0
		case v > 255:
			out[k] = 255
		default:
			out[k] = uint8(v)
		}
	}
	return out
}

// Level returns the mean of ByteFrequencyData, 0 for silence
func (a *Analyser) Level(samples []float32) float64 {
	bins := a.ByteFrequencyData(samples)
	if len(bins) == 0 {
		return 0
	}
	sum := 0
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins))
}

// Reset clears the smoothing history
func (a *Analyser) Reset() {
	a.mu.Lock()
	clear(a.smoothed)
	a.mu.Unlock()
}
