package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/lexiqai/live-concierge/internal/audio"
)

const recentSamples = 4096

// Mixer is a software output clock: voices are scheduled at sample offsets
// and mixed into whatever frames are pulled with Render. It implements
// audio.Output without any device; Speaker feeds its frames to ffplay.
type Mixer struct {
	rate int

	mu       sync.Mutex
	rendered int64 // samples rendered since creation; the device clock
	voices   []*mixVoice
	recent   []float32
	recentAt int
	closed   bool
}

// NewMixer creates a mixer running at rate samples per second
func NewMixer(rate int) *Mixer {
	return &Mixer{rate: rate, recent: make([]float32, recentSamples)}
}

// SampleRate implements audio.Output
func (m *Mixer) SampleRate() int {
	return m.rate
}

// Now implements audio.Output
func (m *Mixer) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return audio.SamplesDuration(int(m.rendered), m.rate)
}

// Schedule implements audio.Output
func (m *Mixer) Schedule(samples []float32, at time.Duration) (audio.Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("mixer closed")
	}
	start := max(audio.DurationSamples(at, m.rate), m.rendered)
	v := &mixVoice{samples: samples, start: start, done: make(chan struct{})}
	m.voices = append(m.voices, v)
	return v, nil
}

// Render mixes the next len(dst) samples into dst and advances the clock
func (m *Mixer) Render(dst []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(dst)
	from := m.rendered
	to := from + int64(len(dst))

	live := m.voices[:0]
	for _, v := range m.voices {
		if v.isStopped() {
			continue
		}
		end := v.start + int64(len(v.samples))
		lo, hi := max(from, v.start), min(to, end)
		for g := lo; g < hi; g++ {
			dst[g-from] += v.samples[g-v.start]
		}
		if end <= to {
			v.finish()
			continue
		}
		live = append(live, v)
	}
	clear(m.voices[len(live):])
	m.voices = live

	for i, s := range dst {
		dst[i] = max(-1, min(1, s))
		m.recent[m.recentAt] = dst[i]
		m.recentAt = (m.recentAt + 1) % len(m.recent)
	}
	m.rendered = to
}

// Recent implements audio.Output
func (m *Mixer) Recent(dst []float32) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := min(len(dst), len(m.recent), int(m.rendered))
	start := m.recentAt - n
	if start < 0 {
		start += len(m.recent)
	}
	for i := 0; i < n; i++ {
		dst[i] = m.recent[(start+i)%len(m.recent)]
	}
	return n
}

// Pending returns the number of voices not yet finished
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Close stops every voice; further Schedule calls fail
func (m *Mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.voices {
		v.Stop()
	}
	m.voices = nil
	m.closed = true
	return nil
}

type mixVoice struct {
	samples []float32
	start   int64

	once    sync.Once
	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

func (v *mixVoice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
	v.finish()
}

func (v *mixVoice) Done() <-chan struct{} {
	return v.done
}

func (v *mixVoice) isStopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

func (v *mixVoice) finish() {
	v.once.Do(func() { close(v.done) })
}
