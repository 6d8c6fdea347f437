package audio

import (
	"fmt"
	"sync"
	"time"
)

// Voice is one scheduled buffer on an output device
type Voice interface {
	// Stop silences the voice immediately; safe to call more than once
	Stop()
	// Done is closed once the voice has finished or was stopped
	Done() <-chan struct{}
}

// Output is a low-level audio device with its own clock
type Output interface {
	SampleRate() int
	// Now is the device clock: time rendered since the device was opened
	Now() time.Duration
	// Schedule plays samples starting at device time at
	Schedule(samples []float32, at time.Duration) (Voice, error)
	// Recent copies the most recently rendered samples into dst
	Recent(dst []float32) int
	Close() error
}

// Player schedules agent audio fragments back to back on an Output.
// Each fragment starts at max(now, nextStart) and pushes nextStart forward by
// its length, so fragments arriving faster than real time queue without gaps.
// The schedule is kept in samples at the output rate.
type Player struct {
	out      Output
	analyser *Analyser

	mu        sync.Mutex
	nextStart int64
	voices    map[Voice]struct{}
	closed    bool
}

// NewPlayer creates a player on out. analyser may be nil.
func NewPlayer(out Output, analyser *Analyser) *Player {
	return &Player{
		out:       out,
		analyser:  analyser,
		nextStart: DurationSamples(out.Now(), out.SampleRate()),
		voices:    make(map[Voice]struct{}),
	}
}

// Enqueue decodes a base64 PCM fragment and schedules it. It returns the
// scheduled start time.
func (p *Player) Enqueue(data string) (time.Duration, error) {
	samples, err := DecodeFrame(data)
	if err != nil {
		return 0, err
	}
	return p.EnqueueSamples(samples)
}

// EnqueueSamples schedules already decoded samples
func (p *Player) EnqueueSamples(samples []float32) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, fmt.Errorf("player closed")
	}
	rate := p.out.SampleRate()
	if len(samples) == 0 {
		return SamplesDuration(int(p.nextStart), rate), nil
	}

	first := max(DurationSamples(p.out.Now(), rate), p.nextStart)
	start := SamplesDuration(int(first), rate)
	voice, err := p.out.Schedule(samples, start)
	if err != nil {
		return 0, fmt.Errorf("failed to schedule fragment: %w", err)
	}
	p.nextStart = first + int64(len(samples))
	p.voices[voice] = struct{}{}

	go func() {
		<-voice.Done()
		p.mu.Lock()
		delete(p.voices, voice)
		p.mu.Unlock()
	}()

	return start, nil
}

// Interrupt stops every scheduled or playing voice and resets the schedule to
// now. It returns the number of voices stopped.
func (p *Player) Interrupt() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.voices)
	for v := range p.voices {
		v.Stop()
	}
	clear(p.voices)
	p.nextStart = DurationSamples(p.out.Now(), p.out.SampleRate())
	return n
}

// Active returns the number of voices scheduled or playing
func (p *Player) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.voices)
}

// NextStart returns the time the next fragment would start at the earliest
func (p *Player) NextStart() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SamplesDuration(int(p.nextStart), p.out.SampleRate())
}

// Volume returns the mean byte-scaled spectrum magnitude (0-255) of the most
// recently rendered output.
func (p *Player) Volume() float64 {
	if p.analyser == nil {
		return 0
	}
	buf := make([]float32, p.analyser.Size())
	n := p.out.Recent(buf)
	return p.analyser.Level(buf[:n])
}

// Close stops all audio and releases the output device
func (p *Player) Close() error {
	p.Interrupt()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.out.Close()
}
