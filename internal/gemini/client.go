package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-concierge/internal/config"
	"github.com/lexiqai/live-concierge/internal/observability"
	"github.com/lexiqai/live-concierge/internal/resilience"
)

const (
	breakerName         = "gemini_live"
	defaultSetupTimeout = 10 * time.Second
	writeTimeout        = 5 * time.Second
)

var (
	// ErrSetupRejected means the service closed or answered the setup with something other than setupComplete
	ErrSetupRejected = errors.New("live setup rejected")
	// ErrLegClosed is returned when writing to a closed leg
	ErrLegClosed = errors.New("live leg is closed")
)

// Handler receives the traffic of one leg. Calls are made from the leg's read
// goroutine, in frame order.
type Handler interface {
	OnMessage(msg *ServerMessage)
	// OnClose is called once when the read loop ends. err is nil for a normal
	// closure (by either side) and non-nil when the connection failed.
	OnClose(err error)
}

// DialerConfig configures a Dialer
type DialerConfig struct {
	Endpoint     string
	APIKey       string
	SetupTimeout time.Duration
	Retry        *resilience.RetryConfig
	Breaker      *resilience.CircuitBreaker
}

// Dialer opens legs to the Live API
type Dialer struct {
	cfg    DialerConfig
	ws     *websocket.Dialer
	logger zerolog.Logger
}

// NewDialer creates a dialer. A nil Breaker disables circuit breaking.
func NewDialer(cfg DialerConfig, logger zerolog.Logger) *Dialer {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = defaultSetupTimeout
	}
	return &Dialer{
		cfg: cfg,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.SetupTimeout,
		},
		logger: logger.With().Str("component", "gemini").Logger(),
	}
}

// NewDialerFromConfig wires the dialer's circuit breaker and retry policy from
// service configuration and exports breaker state as metrics.
func NewDialerFromConfig(cfg *config.Config) *Dialer {
	breaker := resilience.NewCircuitBreaker(
		breakerName,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(func(name string, state resilience.CircuitState, failed bool) {
		observability.UpdateCircuitBreakerState(name, int(state))
		if failed {
			observability.IncrementCircuitBreakerFailures(name)
		}
	})

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = max(cfg.RetryMaxAttempts, 1)
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	return NewDialer(DialerConfig{
		Endpoint:     cfg.LiveEndpoint,
		APIKey:       cfg.GeminiAPIKey,
		SetupTimeout: cfg.SetupTimeout(),
		Retry:        retry,
		Breaker:      breaker,
	}, observability.GetLogger())
}

// Ready reports whether a leg can be dialed now: an API key is configured and
// the circuit breaker is not open.
func (d *Dialer) Ready(ctx context.Context) (bool, error) {
	if d.cfg.APIKey == "" {
		return false, errors.New("GEMINI_API_KEY not set")
	}
	breaker := d.cfg.Breaker
	if breaker == nil || breaker.GetState() != resilience.StateOpen {
		return true, nil
	}
	_, requests, failures, rate := breaker.GetStats()
	return false, fmt.Errorf("%w: %d of %d dials failed (%.0f%%)", resilience.ErrCircuitOpen, failures, requests, rate)
}

// Open dials a new leg, sends setup and blocks until the service acknowledges
// it. Only then does the leg start delivering frames to h.
func (d *Dialer) Open(ctx context.Context, setup Setup, h Handler) (*Leg, error) {
	var leg *Leg
	attempt := func(ctx context.Context) error {
		l, err := d.open(ctx, setup, h)
		if err != nil {
			return err
		}
		leg = l
		return nil
	}
	run := func() error {
		return resilience.Retry(ctx, attempt, d.cfg.Retry, resilience.IsRetryableNetworkError)
	}

	var err error
	if d.cfg.Breaker != nil {
		err = d.cfg.Breaker.Call(run)
	} else {
		err = run()
	}
	if err != nil {
		return nil, err
	}
	return leg, nil
}

func (d *Dialer) endpointURL() (string, error) {
	u, err := url.Parse(d.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid live endpoint: %w", err)
	}
	if d.cfg.APIKey != "" {
		q := u.Query()
		q.Set("key", d.cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (d *Dialer) open(ctx context.Context, setup Setup, h Handler) (*Leg, error) {
	wsURL, err := d.endpointURL()
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.SetupTimeout)
	defer cancel()

	start := time.Now()
	conn, resp, err := d.ws.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return nil, resilience.NewRetryableError(err)
			}
			return nil, err
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	if err := conn.WriteJSON(setup.message()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}

	deadline := time.Now().Add(d.cfg.SetupTimeout)
	if dl, ok := dialCtx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetReadDeadline(deadline)
	if err := awaitSetupComplete(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	leg := &Leg{
		id:       uuid.New().String(),
		conn:     conn,
		handler:  h,
		done:     make(chan struct{}),
		openedAt: time.Now(),
	}
	leg.logger = d.logger.With().Str("leg_id", leg.id).Logger()
	leg.logger.Debug().Dur("setup_latency", time.Since(start)).Msg("Live leg open")

	go leg.readLoop()
	return leg, nil
}

func awaitSetupComplete(conn *websocket.Conn) error {
	_, payload, err := conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return fmt.Errorf("%w: %d %s", ErrSetupRejected, closeErr.Code, closeErr.Text)
		}
		return fmt.Errorf("read setupComplete: %w", err)
	}

	var msg ServerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: malformed first frame: %v", ErrSetupRejected, err)
	}
	if msg.SetupComplete == nil {
		return fmt.Errorf("%w: first frame was not setupComplete", ErrSetupRejected)
	}
	return nil
}

// Leg is one open connection to the Live API
type Leg struct {
	id       string
	conn     *websocket.Conn
	handler  Handler
	logger   zerolog.Logger
	openedAt time.Time

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

// ID returns the leg's unique id
func (l *Leg) ID() string {
	return l.id
}

// OpenedAt returns when the service acknowledged the leg
func (l *Leg) OpenedAt() time.Time {
	return l.openedAt
}

// Done is closed when the read loop has ended
func (l *Leg) Done() <-chan struct{} {
	return l.done
}

// SendAudio streams one base64 PCM block
func (l *Leg) SendAudio(data, mimeType string) error {
	return l.send(clientMessage{RealtimeInput: &realtimeInput{Audio: &Blob{MimeType: mimeType, Data: data}}})
}

// SendText pushes realtime text into the conversation
func (l *Leg) SendText(text string) error {
	return l.send(clientMessage{RealtimeInput: &realtimeInput{Text: text}})
}

// SendToolResponse answers one or more function calls
func (l *Leg) SendToolResponse(responses ...FunctionResponse) error {
	return l.send(clientMessage{ToolResponse: &toolResponse{FunctionResponses: responses}})
}

func (l *Leg) send(msg clientMessage) error {
	if l.closed.Load() {
		return ErrLegClosed
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := l.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("live write failed: %w", err)
	}
	return nil
}

// Close sends a normal closure and waits for the read loop to finish.
// It must not be called from inside Handler.OnMessage.
func (l *Leg) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.writeMu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		l.writeMu.Unlock()
		_ = l.conn.Close()
	})
	<-l.done
	return nil
}

func (l *Leg) readLoop() {
	err := l.read()
	l.closed.Store(true)
	close(l.done)
	l.handler.OnClose(err)
}

func (l *Leg) read() error {
	for {
		_, payload, err := l.conn.ReadMessage()
		if err != nil {
			if l.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		var msg ServerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			l.logger.Warn().Err(err).Int("bytes", len(payload)).Msg("Ignoring malformed live frame")
			continue
		}
		l.handler.OnMessage(&msg)
	}
}
