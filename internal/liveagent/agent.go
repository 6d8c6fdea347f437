// Package liveagent keeps one logical voice call alive on top of short-lived
// legs to the voice service: it owns the microphone, the speaker, the
// transcript and the leg rotation, and fans events out to observers.
package liveagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-concierge/internal/audio"
	"github.com/lexiqai/live-concierge/internal/briefing"
	"github.com/lexiqai/live-concierge/internal/gemini"
	"github.com/lexiqai/live-concierge/internal/observability"
	"github.com/lexiqai/live-concierge/internal/resilience"
	"github.com/lexiqai/live-concierge/internal/transcript"
)

var (
	// ErrMicrophoneUnavailable is returned by Connect when the microphone could not be acquired
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
	// ErrSessionOpen is returned by Connect when the first leg could not be opened
	ErrSessionOpen = errors.New("failed to open live session")

	errSuperseded = errors.New("call superseded")
)

const contextUpdatePrefix = "[CONTEXT UPDATE]: "

// Options tunes an Agent
type Options struct {
	Persona briefing.Persona
	Model   string
	Voice   string

	InputRate       int // rate sent to the service
	MicRate         int // native capture rate
	BlockSize       int // samples per captured frame at InputRate
	AnalyserFFTSize int

	HandoverInterval time.Duration
	// Recovery governs the reconnect after a leg fails mid-call
	Recovery *resilience.ReconnectConfig
	VAD      audio.VADConfig
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		Persona:          briefing.Persona{AgentName: "Supansa", Agency: "C.I.M. Visas"},
		Model:            "gemini-2.5-flash-native-audio-preview-09-2025",
		Voice:            "Zephyr",
		InputRate:        16000,
		MicRate:          48000,
		BlockSize:        4096,
		AnalyserFFTSize:  256,
		HandoverInterval: 90 * time.Second,
		Recovery:         resilience.SingleShotReconnect(time.Second),
		VAD:              audio.DefaultVADConfig(),
	}
}

// Agent is the connection lifecycle manager for one user's voice calls
type Agent struct {
	transport Transport
	mic       Microphone
	newOutput OutputFactory
	opts      Options
	logger    zerolog.Logger

	mu          sync.Mutex
	status      Status
	cc          *briefing.ConversationContext
	callCount   int
	gen         uint64 // bumped whenever the active leg is superseded
	call        *call
	leg         Session
	handingOver bool
	muted       bool
	timer       *time.Timer

	transcript *transcript.Accumulator
	vad        *audio.VADDetector

	statusSubs     subscribers[Status]
	transcriptSubs subscribers[transcript.Update]
	navigationSubs subscribers[briefing.Page]
}

// call holds the resources of one logical call, shared by all its legs
type call struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger
	metrics *observability.Metrics

	// set under Agent.mu while connecting
	mic         io.ReadCloser
	capture     *audio.Capture
	captureDone chan struct{}
	player      *audio.Player
}

// New creates an agent
func New(transport Transport, mic Microphone, newOutput OutputFactory, opts Options, logger zerolog.Logger) *Agent {
	if opts.Recovery == nil {
		opts.Recovery = resilience.SingleShotReconnect(time.Second)
	}
	return &Agent{
		transport:  transport,
		mic:        mic,
		newOutput:  newOutput,
		opts:       opts,
		logger:     logger.With().Str("component", "liveagent").Logger(),
		status:     StatusIdle,
		transcript: transcript.New(),
		vad:        audio.NewVADDetector(opts.VAD),
	}
}

// Connect starts a user-initiated call. A nil cc reuses the context of the
// previous call. When a call is already up it only re-confirms connected.
//
// Failures are reported to status observers (error_mic, error) and also
// returned wrapped in ErrMicrophoneUnavailable or ErrSessionOpen.
func (a *Agent) Connect(ctx context.Context, cc *briefing.ConversationContext) error {
	a.mu.Lock()
	if a.call != nil {
		status := a.status
		a.mu.Unlock()
		if status == StatusConnected {
			a.emitStatus(StatusConnected)
		}
		return nil
	}

	a.callCount++
	if cc != nil {
		a.cc = cc
	}
	a.transcript.Reset()

	callID := observability.NewCorrelationID()
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &call{
		id:      callID,
		ctx:     cctx,
		cancel:  cancel,
		logger:  observability.WithCorrelationID(a.logger, callID),
		metrics: observability.NewCallMetrics(callID),
	}
	a.call = c
	a.status = StatusConnecting
	count := a.callCount
	a.mu.Unlock()

	c.metrics.RecordCallStart()
	c.logger.Info().Int("call_count", count).Msg("Call starting")
	a.transition(legDialing, false)

	// the attempt is bounded by both the caller and the call itself
	opCtx, stop := context.WithCancel(cctx)
	defer stop()
	defer context.AfterFunc(ctx, stop)()

	if err := a.acquireDevices(opCtx, c); err != nil {
		if errors.Is(err, errSuperseded) {
			return nil
		}
		return err
	}

	if err := a.openLeg(opCtx, c, false); err != nil {
		if errors.Is(err, errSuperseded) {
			return nil
		}
		c.logger.Error().Err(err).Msg("Failed to open live session")
		c.metrics.RecordError("open_failed", "liveagent")
		status, _ := logicalTransition(legOpenFailed, false)
		_ = a.endCall(c, status)
		return err
	}
	return nil
}

func (a *Agent) acquireDevices(ctx context.Context, c *call) error {
	mic, err := a.mic.Acquire(ctx)
	if err != nil {
		if !a.isCurrentCall(c) {
			return errSuperseded
		}
		c.logger.Warn().Err(err).Msg("Microphone unavailable")
		c.metrics.RecordError("microphone", "liveagent")
		status, _ := logicalTransition(micFailed, false)
		_ = a.endCall(c, status)
		return fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err)
	}

	capture, err := audio.NewCapture(mic, audio.CaptureConfig{
		NativeRate: a.opts.MicRate,
		TargetRate: a.opts.InputRate,
		BlockSize:  a.opts.BlockSize,
	})
	if err != nil {
		_ = mic.Close()
		status, _ := logicalTransition(legOpenFailed, false)
		_ = a.endCall(c, status)
		return fmt.Errorf("%w: %w", ErrSessionOpen, err)
	}

	out, err := a.newOutput()
	if err != nil {
		_ = mic.Close()
		c.logger.Error().Err(err).Msg("Audio output unavailable")
		status, _ := logicalTransition(legOpenFailed, false)
		_ = a.endCall(c, status)
		return fmt.Errorf("%w: %w", ErrSessionOpen, err)
	}
	player := audio.NewPlayer(out, audio.NewAnalyser(a.opts.AnalyserFFTSize))

	a.mu.Lock()
	if a.call != c {
		a.mu.Unlock()
		_ = mic.Close()
		_ = player.Close()
		return errSuperseded
	}
	c.mic = mic
	c.capture = capture
	c.player = player
	c.captureDone = make(chan struct{})
	a.mu.Unlock()

	go a.runCapture(c, capture, c.captureDone)
	return nil
}

// runCapture pumps the microphone for call c. A stream that ends while the
// call is still up means the device went away, and the call ends with error_mic.
func (a *Agent) runCapture(c *call, capture *audio.Capture, done chan struct{}) {
	err := capture.Run(c.ctx)
	close(done)
	if c.ctx.Err() != nil {
		return
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	c.logger.Error().Err(err).Msg("Microphone lost mid-call")
	c.metrics.RecordError("microphone", "liveagent")
	status, _ := logicalTransition(micFailed, false)
	_ = a.endCall(c, status)
}

// openLeg dials a leg for call c and makes it the active one. A handover leg
// is briefed with the transcript so far instead of a greeting.
func (a *Agent) openLeg(ctx context.Context, c *call, handover bool) error {
	history := ""
	if handover {
		history, _ = a.transcript.Format()
	}

	a.mu.Lock()
	if a.call != c {
		a.mu.Unlock()
		return errSuperseded
	}
	a.gen++
	gen := a.gen
	greeting := briefing.SelectGreeting(a.callCount, handover)
	cc := a.cc
	a.mu.Unlock()

	setup := gemini.Setup{
		Model: a.opts.Model,
		Voice: a.opts.Voice,
		SystemInstruction: briefing.Build(a.opts.Persona, briefing.Request{
			Greeting: greeting,
			Context:  cc,
			History:  history,
		}),
		Tools:      []gemini.FunctionDeclaration{briefing.NavigationTool()},
		Transcribe: true,
	}

	h := &legHandler{agent: a, call: c, gen: gen, ready: make(chan struct{})}
	start := time.Now()
	leg, err := a.transport.Open(ctx, setup, h)
	c.metrics.RecordLegOpen(err == nil, time.Since(start))
	if err != nil {
		if !a.isCurrentCall(c) {
			return errSuperseded
		}
		return fmt.Errorf("%w: %w", ErrSessionOpen, err)
	}
	h.leg = leg
	close(h.ready)

	a.mu.Lock()
	if a.call != c || a.gen != gen {
		a.mu.Unlock()
		_ = leg.Close()
		return errSuperseded
	}
	old := a.leg
	a.leg = leg
	a.handingOver = false
	a.status = StatusConnected
	a.armHandoverLocked(c, gen)
	c.capture.Attach(a.sinkFor(c, gen, leg))
	a.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Closing superseded leg")
		}
	}

	c.logger.Info().
		Str("leg_id", leg.ID()).
		Str("greeting", greeting.String()).
		Bool("handover", handover).
		Msg("Live leg active")
	a.transition(legOpened, handover)
	return nil
}

// sinkFor forwards capture frames to leg for as long as it is the active,
// un-muted leg and no handover is underway. Everything else is dropped.
func (a *Agent) sinkFor(c *call, gen uint64, leg Session) audio.FrameSink {
	return func(f audio.Frame) {
		a.vad.ProcessFrame(f.Level)

		a.mu.Lock()
		reason := ""
		switch {
		case a.gen != gen:
			reason = "stale_leg"
		case a.handingOver:
			reason = "handover"
		case a.muted:
			reason = "muted"
		}
		a.mu.Unlock()

		if reason != "" {
			c.metrics.RecordDroppedFrame(reason)
			return
		}
		if err := leg.SendAudio(f.Data, f.MimeType); err != nil {
			c.metrics.RecordDroppedFrame("send_failed")
			c.logger.Debug().Err(err).Msg("Audio frame not sent")
			return
		}
		c.metrics.RecordAudioBytes("in", int64(len(f.Data)))
	}
}

// Disconnect ends the call for good and releases every device. It is a
// no-op when no call is up.
func (a *Agent) Disconnect() error {
	a.mu.Lock()
	c := a.call
	a.mu.Unlock()

	if c == nil {
		return nil
	}
	c.logger.Info().Msg("Call ending")
	return a.endCall(c, StatusDisconnected)
}

// endCall tears down call c and emits final. Only the first caller for a
// given call does any work.
func (a *Agent) endCall(c *call, final Status) error {
	a.mu.Lock()
	if a.call != c {
		a.mu.Unlock()
		return nil
	}
	a.call = nil
	a.gen++
	leg := a.leg
	a.leg = nil
	a.handingOver = false
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if final == StatusDisconnected {
		a.status = StatusIdle
	} else {
		a.status = final
	}
	mic, capture, captureDone, player := c.mic, c.capture, c.captureDone, c.player
	a.mu.Unlock()

	c.cancel()
	if capture != nil {
		capture.Detach()
	}

	for _, u := range a.transcript.Flush() {
		c.metrics.RecordTranscriptEntry(string(u.Role))
		a.emitTranscript(u)
	}

	var errs []error
	if leg != nil {
		errs = append(errs, leg.Close())
	}
	if mic != nil {
		errs = append(errs, mic.Close())
	}
	if captureDone != nil {
		<-captureDone
	}
	if player != nil {
		errs = append(errs, player.Close())
	}
	a.vad.Reset()

	c.metrics.RecordCallEnd(string(final))
	a.emitStatus(final)
	return errors.Join(errs...)
}

// Shutdown ends any active call. The injector calls it on process shutdown.
func (a *Agent) Shutdown() error {
	return a.Disconnect()
}

func (a *Agent) isCurrentCall(c *call) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.call == c
}

// transition emits the status a leg event maps to, if any
func (a *Agent) transition(ev legEvent, handingOver bool) {
	if status, ok := logicalTransition(ev, handingOver); ok {
		a.emitStatus(status)
	}
}

// SendContextUpdate pushes a note about host-side changes into the live
// conversation. It does nothing without an active leg.
func (a *Agent) SendContextUpdate(text string) error {
	a.mu.Lock()
	leg := a.leg
	if a.handingOver {
		leg = nil
	}
	a.mu.Unlock()

	if leg == nil {
		return nil
	}
	if err := leg.SendText(contextUpdatePrefix + text); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to send context update")
		return err
	}
	return nil
}

// SetMicMuted stops or resumes sending captured audio without touching the leg
func (a *Agent) SetMicMuted(muted bool) {
	a.mu.Lock()
	a.muted = muted
	a.mu.Unlock()
}

// GetOutputVolume returns the current playback level on a 0-255 scale
func (a *Agent) GetOutputVolume() float64 {
	a.mu.Lock()
	var player *audio.Player
	if a.call != nil {
		player = a.call.player
	}
	a.mu.Unlock()

	if player == nil {
		return 0
	}
	return player.Volume()
}

// InputLevel returns the RMS level of the last captured frame
func (a *Agent) InputLevel() float64 {
	return a.vad.LastLevel()
}

// IsUserSpeaking reports local voice activity on the microphone
func (a *Agent) IsUserSpeaking() bool {
	return a.vad.IsSpeaking()
}

// GetFormattedTranscript renders the conversation so far; ok is false when
// nothing has been said
func (a *Agent) GetFormattedTranscript() (string, bool) {
	return a.transcript.Format()
}

// Transcript returns the finalized entries of the current or last call
func (a *Agent) Transcript() []transcript.Entry {
	return a.transcript.Entries()
}

// IsConnected reports whether a leg is active
func (a *Agent) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status == StatusConnected
}

// Status returns the current logical status
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// CallCount returns the number of user-initiated calls so far
func (a *Agent) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.callCount
}

// CallID returns the correlation id of the active call, or ""
func (a *Agent) CallID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.call == nil {
		return ""
	}
	return a.call.id
}
