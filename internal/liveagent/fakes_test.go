package liveagent

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-concierge/internal/audio"
	"github.com/lexiqai/live-concierge/internal/briefing"
	"github.com/lexiqai/live-concierge/internal/device"
	"github.com/lexiqai/live-concierge/internal/gemini"
	"github.com/lexiqai/live-concierge/internal/resilience"
	"github.com/lexiqai/live-concierge/internal/transcript"
)

const waitTimeout = 2 * time.Second

type fakeSession struct {
	id      string
	handler gemini.Handler

	mu            sync.Mutex
	audioFrames   []string
	mimeTypes     []string
	texts         []string
	toolResponses []gemini.FunctionResponse
	closed        bool
	closeOnce     sync.Once
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) SendAudio(data, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return gemini.ErrLegClosed
	}
	s.audioFrames = append(s.audioFrames, data)
	s.mimeTypes = append(s.mimeTypes, mimeType)
	return nil
}

func (s *fakeSession) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return gemini.ErrLegClosed
	}
	s.texts = append(s.texts, text)
	return nil
}

func (s *fakeSession) SendToolResponse(responses ...gemini.FunctionResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolResponses = append(s.toolResponses, responses...)
	return nil
}

func (s *fakeSession) Close() error {
	s.finish(nil)
	return nil
}

// remoteClose simulates the service ending the leg
func (s *fakeSession) remoteClose(err error) {
	s.finish(err)
}

func (s *fakeSession) finish(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.handler.OnClose(err)
	})
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) sentAudio() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audioFrames)
}

func (s *fakeSession) send(msg *gemini.ServerMessage) {
	s.handler.OnMessage(msg)
}

type fakeTransport struct {
	mu       sync.Mutex
	setups   []gemini.Setup
	failures map[int]error // by Open call index
	opened   chan *fakeSession
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failures: make(map[int]error), opened: make(chan *fakeSession, 16)}
}

func (f *fakeTransport) failOn(idx int, err error) {
	f.mu.Lock()
	f.failures[idx] = err
	f.mu.Unlock()
}

func (f *fakeTransport) Open(ctx context.Context, setup gemini.Setup, h gemini.Handler) (Session, error) {
	f.mu.Lock()
	idx := len(f.setups)
	f.setups = append(f.setups, setup)
	err := f.failures[idx]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	s := &fakeSession{id: fmt.Sprintf("leg-%d", idx), handler: h}
	select {
	case f.opened <- s:
	default:
	}
	return s, nil
}

func (f *fakeTransport) setup(i int) gemini.Setup {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setups[i]
}

func (f *fakeTransport) opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.setups)
}

func (f *fakeTransport) nextLeg(t *testing.T) *fakeSession {
	t.Helper()
	select {
	case s := <-f.opened:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("Timed out waiting for a leg to open")
		return nil
	}
}

type fakeMic struct {
	mu       sync.Mutex
	err      error
	open     int
	acquired int
	writer   *io.PipeWriter
}

func (m *fakeMic) Acquire(ctx context.Context) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	r, w := io.Pipe()
	m.open++
	m.acquired++
	m.writer = w
	return &fakeMicStream{PipeReader: r, mic: m}, nil
}

func (m *fakeMic) openStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// speak writes PCM into the current stream without blocking the test
func (m *fakeMic) speak(pcm []byte) {
	m.mu.Lock()
	w := m.writer
	m.mu.Unlock()
	go func() { _, _ = w.Write(pcm) }()
}

// unplug ends the current stream with err, as a device removed mid-call would
func (m *fakeMic) unplug(err error) {
	m.mu.Lock()
	w := m.writer
	m.mu.Unlock()
	_ = w.CloseWithError(err)
}

type fakeMicStream struct {
	*io.PipeReader
	mic  *fakeMic
	once sync.Once
}

func (s *fakeMicStream) Close() error {
	s.once.Do(func() {
		s.mic.mu.Lock()
		s.mic.open--
		s.mic.mu.Unlock()
		_ = s.PipeReader.Close()
	})
	return nil
}

type fakeOutput struct {
	*device.Mixer
	closed atomic.Int32
}

func (o *fakeOutput) Close() error {
	o.closed.Add(1)
	return o.Mixer.Close()
}

type outputs struct {
	mu   sync.Mutex
	all  []*fakeOutput
	fail error
}

func (o *outputs) factory() (audio.Output, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return nil, o.fail
	}
	out := &fakeOutput{Mixer: device.NewMixer(24000)}
	o.all = append(o.all, out)
	return out, nil
}

func (o *outputs) unreleased() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, out := range o.all {
		if out.closed.Load() == 0 {
			n++
		}
	}
	return n
}

type recorder[T any] struct {
	mu  sync.Mutex
	all []T
	ch  chan T
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{ch: make(chan T, 64)}
}

func (r *recorder[T]) record(v T) {
	r.mu.Lock()
	r.all = append(r.all, v)
	r.mu.Unlock()
	select {
	case r.ch <- v:
	default:
	}
}

func (r *recorder[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.all...)
}

func waitStatus(t *testing.T, r *recorder[Status], want Status) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-r.ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for status %s, saw %v", want, r.snapshot())
		}
	}
}

// eventually polls cond until it holds or the wait times out
func eventually(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type harness struct {
	agent     *Agent
	transport *fakeTransport
	mic       *fakeMic
	outputs   *outputs
	statuses  *recorder[Status]
	captions  *recorder[transcript.Update]
	pages     *recorder[briefing.Page]
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.HandoverInterval = time.Hour
	opts.Recovery = resilience.SingleShotReconnect(0)
	// 8 native samples per 4-sample frame
	opts.MicRate = 32000
	opts.InputRate = 16000
	opts.BlockSize = 4
	opts.AnalyserFFTSize = 32
	return opts
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		mic:       &fakeMic{},
		outputs:   &outputs{},
		statuses:  newRecorder[Status](),
		captions:  newRecorder[transcript.Update](),
		pages:     newRecorder[briefing.Page](),
	}
	h.agent = New(h.transport, h.mic, h.outputs.factory, opts, zerolog.Nop())
	h.agent.OnStatus(h.statuses.record)
	h.agent.OnTranscript(h.captions.record)
	h.agent.OnNavigation(h.pages.record)
	t.Cleanup(func() { _ = h.agent.Disconnect() })
	return h
}

// connect starts a call and returns its first leg
func (h *harness) connect(t *testing.T, cc *briefing.ConversationContext) *fakeSession {
	t.Helper()
	if err := h.agent.Connect(context.Background(), cc); err != nil {
		t.Fatalf("Expected connect to succeed, got %v", err)
	}
	return h.transport.nextLeg(t)
}

func (h *harness) activeGen() (*call, uint64) {
	h.agent.mu.Lock()
	defer h.agent.mu.Unlock()
	return h.agent.call, h.agent.gen
}

func agentSays(text string) *gemini.ServerMessage {
	return &gemini.ServerMessage{ServerContent: &gemini.ServerContent{
		OutputTranscription: &gemini.Transcription{Text: text},
	}}
}

func userSays(text string) *gemini.ServerMessage {
	return &gemini.ServerMessage{ServerContent: &gemini.ServerContent{
		InputTranscription: &gemini.Transcription{Text: text},
	}}
}

func turnComplete() *gemini.ServerMessage {
	return &gemini.ServerMessage{ServerContent: &gemini.ServerContent{TurnComplete: true}}
}

func audioChunk(samples int) *gemini.ServerMessage {
	pcm := make([]float32, samples)
	for i := range pcm {
		pcm[i] = 0.25
	}
	frame := audio.EncodeFrame(pcm, 24000)
	return &gemini.ServerMessage{ServerContent: &gemini.ServerContent{
		ModelTurn: &gemini.Content{Parts: []gemini.Part{{InlineData: &gemini.Blob{MimeType: frame.MimeType, Data: frame.Data}}}},
	}}
}

func annaContext() *briefing.ConversationContext {
	return &briefing.ConversationContext{CandidateName: "Anna", VisaType: "DTV", Score: 85}
}
