package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-concierge/internal/audio"
)

const (
	speakerFrame = 20 * time.Millisecond
	// rendered ahead of wall clock to absorb scheduling jitter
	speakerLead = 60 * time.Millisecond
)

// SpeakerConfig configures ffplay playback
type SpeakerConfig struct {
	FFplayPath string // defaults to "ffplay"
	SampleRate int
	Volume     int // 0-100, defaults to 80
}

// PlaybackArgs is the ffplay command line for a mono s16le stream on stdin
func PlaybackArgs(sampleRate, volume int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-volume", strconv.Itoa(volume),
		"-f", "s16le",
		"-ch_layout", "mono",
		"-ar", strconv.Itoa(sampleRate),
		"-i", "-",
	}
}

// Speaker is an audio.Output backed by an ffplay process. A pump goroutine
// pulls frames from the mixer in real time, so the mixer clock tracks what
// has been handed to the device.
type Speaker struct {
	*Mixer

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger zerolog.Logger

	stop      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// OpenSpeaker starts ffplay and the render pump
func OpenSpeaker(cfg SpeakerConfig, logger zerolog.Logger) (*Speaker, error) {
	if strings.TrimSpace(cfg.FFplayPath) == "" {
		cfg.FFplayPath = "ffplay"
	}
	if cfg.Volume <= 0 {
		cfg.Volume = 80
	}
	path, err := exec.LookPath(cfg.FFplayPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpeakerUnavailable, err)
	}

	cmd := exec.Command(path, PlaybackArgs(cfg.SampleRate, cfg.Volume)...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpeakerUnavailable, err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: %v", ErrSpeakerUnavailable, err)
	}

	s := &Speaker{
		Mixer:    NewMixer(cfg.SampleRate),
		cmd:      cmd,
		stdin:    stdin,
		logger:   logger.With().Str("component", "speaker").Logger(),
		stop:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

// Ensure Speaker satisfies audio.Output
var _ audio.Output = (*Speaker)(nil)

func (s *Speaker) pump() {
	defer close(s.pumpDone)

	frame := make([]float32, int(int64(s.rate)*int64(speakerFrame)/int64(time.Second)))
	ticker := time.NewTicker(speakerFrame)
	defer ticker.Stop()
	started := time.Now()

	for {
		for s.Now() < time.Since(started)+speakerLead {
			s.Render(frame)
			if _, err := s.stdin.Write(audio.Float32ToPCM16(frame)); err != nil {
				if !errors.Is(err, os.ErrClosed) {
					s.logger.Warn().Err(err).Msg("Speaker write failed, playback stopped")
				}
				return
			}
		}
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// Close stops playback and the ffplay process
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		_ = s.Mixer.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		err := s.stdin.Close()
		<-s.pumpDone
		_ = s.cmd.Wait()
		if err != nil && !errors.Is(err, os.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// Available reports whether binary can be found on PATH
func Available(binary string) error {
	if _, err := exec.LookPath(binary); err != nil {
		return fmt.Errorf("%s not found: %w", binary, err)
	}
	return nil
}
