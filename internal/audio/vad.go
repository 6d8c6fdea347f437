package audio

import "sync"

// VADConfig holds configuration for voice activity detection on capture frames
type VADConfig struct {
	LevelThreshold float64 // frame RMS in [0, 1] above which a frame counts as speech
	SilenceFrames  int     // consecutive quiet frames that end an utterance
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() VADConfig {
	return VADConfig{
		LevelThreshold: 0.015,
		SilenceFrames:  3, // ~750ms with 256ms frames
	}
}

// VADDetector tracks whether the local user is speaking, frame by frame.
// The remote service does its own turn detection; this only feeds the
// microphone activity indicator.
type VADDetector struct {
	config VADConfig

	mu             sync.Mutex
	silenceCounter int
	isSpeaking     bool
	lastLevel      float64
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config VADConfig) *VADDetector {
	if config.SilenceFrames <= 0 {
		config.SilenceFrames = 1
	}
	return &VADDetector{config: config}
}

// ProcessFrame feeds one frame level and reports (speaking, started, ended)
func (v *VADDetector) ProcessFrame(level float64) (bool, bool, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.lastLevel = level
	var started, ended bool
	if level > v.config.LevelThreshold {
		v.silenceCounter = 0
		if !v.isSpeaking {
			started = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			ended = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, started, ended
}

// Reset clears detector state
func (v *VADDetector) Reset() {
	v.mu.Lock()
	v.silenceCounter = 0
	v.isSpeaking = false
	v.lastLevel = 0
	v.mu.Unlock()
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.isSpeaking
}

// LastLevel returns the level of the most recent frame
func (v *VADDetector) LastLevel() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastLevel
}
