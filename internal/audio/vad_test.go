package audio

import "testing"

func TestVADDetector_SpeechStartAndEnd(t *testing.T) {
	vad := NewVADDetector(VADConfig{LevelThreshold: 0.1, SilenceFrames: 2})

	speaking, started, ended := vad.ProcessFrame(0.3)
	if !speaking || !started || ended {
		t.Errorf("Expected speech start, got speaking=%v started=%v ended=%v", speaking, started, ended)
	}

	speaking, started, _ = vad.ProcessFrame(0.25)
	if !speaking || started {
		t.Error("Expected continued speech without a new start")
	}

	speaking, _, ended = vad.ProcessFrame(0.01)
	if !speaking || ended {
		t.Error("Expected one quiet frame not to end speech")
	}

	speaking, _, ended = vad.ProcessFrame(0.01)
	if speaking || !ended {
		t.Error("Expected speech to end after 2 quiet frames")
	}
}

func TestVADDetector_QuietFramesResetOnSpeech(t *testing.T) {
	vad := NewVADDetector(VADConfig{LevelThreshold: 0.1, SilenceFrames: 2})

	vad.ProcessFrame(0.5)
	vad.ProcessFrame(0.0)
	vad.ProcessFrame(0.5)
	speaking, _, ended := vad.ProcessFrame(0.0)
	if !speaking || ended {
		t.Error("Expected silence counter to reset on speech")
	}
}

func TestVADDetector_Reset(t *testing.T) {
	vad := NewVADDetector(DefaultVADConfig())
	vad.ProcessFrame(0.5)

	if !vad.IsSpeaking() {
		t.Fatal("Expected speaking before reset")
	}
	if vad.LastLevel() != 0.5 {
		t.Errorf("Expected last level 0.5, got %f", vad.LastLevel())
	}

	vad.Reset()
	if vad.IsSpeaking() || vad.LastLevel() != 0 {
		t.Error("Expected cleared state after reset")
	}
}
