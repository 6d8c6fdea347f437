// Package device binds the audio pipelines to real hardware through ffmpeg
// (capture) and ffplay (playback).
package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrMicrophoneUnavailable means the capture device could not be opened or produced no audio
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
	// ErrSpeakerUnavailable means the playback process could not be started
	ErrSpeakerUnavailable = errors.New("speaker unavailable")
)

const firstAudioTimeout = 3 * time.Second

// MicConfig configures ffmpeg capture
type MicConfig struct {
	FFmpegPath string // defaults to "ffmpeg"
	Input      string // platform input device; platform default when empty
	SampleRate int
}

// Microphone acquires raw s16le mono capture streams from ffmpeg
type Microphone struct {
	cfg    MicConfig
	logger zerolog.Logger
}

// NewMicrophone creates a microphone binding
func NewMicrophone(cfg MicConfig, logger zerolog.Logger) *Microphone {
	if strings.TrimSpace(cfg.FFmpegPath) == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	return &Microphone{cfg: cfg, logger: logger.With().Str("component", "microphone").Logger()}
}

// InputArgs returns the ffmpeg input selection for an OS
func InputArgs(goos, input string) ([]string, error) {
	input = strings.TrimSpace(input)
	switch goos {
	case "darwin":
		if input == "" {
			input = "0"
		}
		if !strings.Contains(input, ":") {
			// audio only, never open a camera
			input = "none:" + input
		}
		return []string{"-f", "avfoundation", "-i", input}, nil
	case "linux":
		if input == "" {
			input = "default"
		}
		return []string{"-f", "pulse", "-i", input}, nil
	case "windows":
		if input == "" {
			return nil, fmt.Errorf("%w: MIC_INPUT must name a dshow device on windows", ErrMicrophoneUnavailable)
		}
		if !strings.HasPrefix(input, "audio=") {
			input = "audio=" + input
		}
		return []string{"-f", "dshow", "-i", input}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported platform %s", ErrMicrophoneUnavailable, goos)
	}
}

// CaptureArgs is the full ffmpeg command line for a mono s16le stream on stdout
func CaptureArgs(goos, input string, sampleRate int) ([]string, error) {
	in, err := InputArgs(goos, input)
	if err != nil {
		return nil, err
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, in...)
	return append(args,
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s16le",
		"-",
	), nil
}

// Acquire starts capture and returns once the device delivers audio. The
// returned stream must be closed on every path; closing it stops ffmpeg and
// unblocks pending reads.
func (m *Microphone) Acquire(ctx context.Context) (io.ReadCloser, error) {
	path, err := exec.LookPath(m.cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}
	args, err := CaptureArgs(runtime.GOOS, m.cfg.Input, m.cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	stream, err := startStream(exec.Command(path, args...))
	if err != nil {
		return nil, err
	}

	// A denied or missing device makes ffmpeg exit before producing audio.
	ready := make(chan error, 1)
	go func() {
		_, err := stream.r.Peek(2)
		ready <- err
	}()

	timer := time.NewTimer(firstAudioTimeout)
	defer timer.Stop()

	select {
	case err := <-ready:
		if err != nil {
			_ = stream.Close()
			return nil, fmt.Errorf("%w: %s", ErrMicrophoneUnavailable, stream.stderr.String())
		}
	case <-timer.C:
		_ = stream.Close()
		return nil, fmt.Errorf("%w: no audio within %s", ErrMicrophoneUnavailable, firstAudioTimeout)
	case <-ctx.Done():
		_ = stream.Close()
		return nil, ctx.Err()
	}

	m.logger.Debug().Strs("args", args).Int("pid", stream.cmd.Process.Pid).Msg("Microphone acquired")
	return stream, nil
}

// micStream is the stdout of a running ffmpeg. The process is reaped only
// once stdout has hit EOF or the stream is closed.
type micStream struct {
	cmd     *exec.Cmd
	r       *bufio.Reader
	stderr  *tailBuffer
	closing atomic.Bool

	reapOnce sync.Once
	waitErr  error
}

func startStream(cmd *exec.Cmd) (*micStream, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}
	stderr := &tailBuffer{max: 2048}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}
	return &micStream{cmd: cmd, r: bufio.NewReaderSize(stdout, 64*1024), stderr: stderr}, nil
}

// Read returns io.EOF once the stream was closed. If ffmpeg stops on its own
// the stream fails with ErrMicrophoneUnavailable instead.
func (s *micStream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err == nil {
		return n, nil
	}
	s.reap()
	if s.closing.Load() {
		return n, io.EOF
	}
	reason := "capture process exited"
	if s.waitErr != nil {
		reason = s.waitErr.Error()
	}
	if tail := s.stderr.String(); tail != "" {
		reason += ": " + tail
	}
	return n, fmt.Errorf("%w: %s", ErrMicrophoneUnavailable, reason)
}

// Close stops ffmpeg and waits for it to exit; safe to call more than once
func (s *micStream) Close() error {
	if !s.closing.Swap(true) && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.reap()
	return nil
}

func (s *micStream) reap() {
	s.reapOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
