package liveagent

import (
	"context"
	"io"

	"github.com/lexiqai/live-concierge/internal/audio"
	"github.com/lexiqai/live-concierge/internal/gemini"
)

// Session is one open leg to the voice service
type Session interface {
	ID() string
	SendAudio(data, mimeType string) error
	SendText(text string) error
	SendToolResponse(responses ...gemini.FunctionResponse) error
	// Close ends the leg and waits for its read loop; never call it from
	// inside the leg's own handler.
	Close() error
}

// Transport opens legs. Open returns only once the service has accepted the
// setup; h receives the leg's traffic from then on.
type Transport interface {
	Open(ctx context.Context, setup gemini.Setup, h gemini.Handler) (Session, error)
}

// Microphone hands out exclusive capture streams of raw s16le mono PCM.
// Closing the stream releases the device.
type Microphone interface {
	Acquire(ctx context.Context) (io.ReadCloser, error)
}

// OutputFactory opens the playback device for one call
type OutputFactory func() (audio.Output, error)

// DialerTransport adapts a gemini.Dialer to Transport
type DialerTransport struct {
	Dialer *gemini.Dialer
}

// Open implements Transport
func (t DialerTransport) Open(ctx context.Context, setup gemini.Setup, h gemini.Handler) (Session, error) {
	leg, err := t.Dialer.Open(ctx, setup, h)
	if err != nil {
		return nil, err
	}
	return leg, nil
}
