// Package hostbridge exposes the live agent to a UI process over a websocket:
// agent events are pushed as JSON and UI commands drive the agent.
package hostbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/live-concierge/internal/briefing"
	"github.com/lexiqai/live-concierge/internal/config"
	"github.com/lexiqai/live-concierge/internal/liveagent"
	"github.com/lexiqai/live-concierge/internal/observability"
	"github.com/lexiqai/live-concierge/internal/transcript"
)

const (
	writeWait     = 5 * time.Second
	outboxSize    = 128
	maxCommandLen = 64 * 1024
)

var upgrader = websocket.Upgrader{
	// The bridge listens for a local UI process only
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

var errClientGone = errors.New("bridge client gone")

// Agent is the part of *liveagent.Agent the bridge drives
type Agent interface {
	Connect(ctx context.Context, cc *briefing.ConversationContext) error
	Disconnect() error
	SendContextUpdate(text string) error
	SetMicMuted(muted bool)
	GetOutputVolume() float64
	InputLevel() float64
	IsUserSpeaking() bool
	GetFormattedTranscript() (string, bool)
	IsConnected() bool
	Status() liveagent.Status
	OnStatus(fn liveagent.StatusListener) func()
	OnTranscript(fn liveagent.TranscriptListener) func()
	OnNavigation(fn liveagent.NavigationListener) func()
}

// Event is a message pushed to the UI
type Event struct {
	Type     string   `json:"type"`
	Status   string   `json:"status,omitempty"`
	Role     string   `json:"role,omitempty"`
	Text     string   `json:"text,omitempty"`
	IsFinal  bool     `json:"is_final,omitempty"`
	Page     string   `json:"page,omitempty"`
	Level    *float64 `json:"level,omitempty"`
	MicLevel *float64 `json:"mic_level,omitempty"`
	Speaking *bool    `json:"speaking,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Command is a message sent by the UI
type Command struct {
	Type    string                        `json:"type"`
	Context *briefing.ConversationContext `json:"context,omitempty"`
	Text    string                        `json:"text,omitempty"`
	Muted   bool                          `json:"muted,omitempty"`
}

// Options tunes the bridge
type Options struct {
	// VolumeInterval is how often levels are pushed while connected; 0 disables
	VolumeInterval time.Duration
}

// OptionsFromConfig maps service configuration onto bridge options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{VolumeInterval: time.Duration(cfg.VolumePushInterval) * time.Millisecond}
}

// HandleAgentWS is the entry point for UI websocket connections
func HandleAgentWS(agent Agent, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied to the client
			logger := observability.ForComponent("hostbridge")
			logger.Warn().Err(err).Msg("Failed to upgrade bridge connection")
			return
		}

		c := newClient(conn, agent, opts)
		observability.BridgeClientConnected()
		defer observability.BridgeClientDisconnected()

		c.logger.Info().Msg("Bridge client connected")
		if err := c.serve(r.Context()); err != nil && !errors.Is(err, errClientGone) {
			c.logger.Warn().Err(err).Msg("Bridge client ended with error")
		}
		c.logger.Info().Msg("Bridge client disconnected")
	}
}

// client is one UI connection
type client struct {
	id     string
	conn   *websocket.Conn
	agent  Agent
	opts   Options
	outbox chan Event
	logger zerolog.Logger
}

func newClient(conn *websocket.Conn, agent Agent, opts Options) *client {
	id := uuid.New().String()
	return &client{
		id:     id,
		conn:   conn,
		agent:  agent,
		opts:   opts,
		outbox: make(chan Event, outboxSize),
		logger: observability.ForComponent("hostbridge").With().Str("client_id", id).Logger(),
	}
}

// serve registers the client with the agent and runs both pumps until the
// socket closes. The call itself outlives the client.
func (c *client) serve(ctx context.Context) error {
	unsubscribe := []func(){
		c.agent.OnStatus(func(s liveagent.Status) {
			c.push(Event{Type: "status", Status: string(s)})
		}),
		c.agent.OnTranscript(func(u transcript.Update) {
			c.push(Event{Type: "transcript", Role: string(u.Role), Text: u.Text, IsFinal: u.IsFinal})
		}),
		c.agent.OnNavigation(func(p briefing.Page) {
			c.push(Event{Type: "navigate", Page: string(p)})
		}),
	}
	defer func() {
		for _, fn := range unsubscribe {
			fn()
		}
	}()

	c.push(Event{Type: "status", Status: string(c.agent.Status())})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readPump(gctx, g) })
	g.Go(func() error { return c.writePump(gctx) })
	return g.Wait()
}

// push queues ev without blocking the agent's notification path
func (c *client) push(ev Event) {
	select {
	case c.outbox <- ev:
	default:
		c.logger.Warn().Str("type", ev.Type).Msg("Bridge outbox full, dropping event")
	}
}

// readPump handles commands in arrival order. A connect runs on its own
// goroutine in g so that a disconnect can abort it while it is pending.
func (c *client) readPump(ctx context.Context, g *errgroup.Group) error {
	c.conn.SetReadLimit(maxCommandLen)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("Bridge read error")
			}
			return errClientGone
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.push(Event{Type: "error", Message: fmt.Sprintf("invalid command: %v", err)})
			continue
		}
		if cmd.Type == "connect" {
			g.Go(func() error {
				c.handle(ctx, cmd)
				return nil
			})
			continue
		}
		c.handle(ctx, cmd)
	}
}

func (c *client) handle(ctx context.Context, cmd Command) {
	c.logger.Debug().Str("command", cmd.Type).Msg("Bridge command")

	var err error
	switch cmd.Type {
	case "connect":
		err = c.agent.Connect(ctx, cmd.Context)
	case "disconnect":
		err = c.agent.Disconnect()
	case "context_update":
		err = c.agent.SendContextUpdate(cmd.Text)
	case "mute":
		c.agent.SetMicMuted(cmd.Muted)
	case "get_transcript":
		text, _ := c.agent.GetFormattedTranscript()
		c.push(Event{Type: "transcript_text", Text: text})
	default:
		err = fmt.Errorf("unknown command %q", cmd.Type)
	}

	if err != nil {
		c.push(Event{Type: "error", Message: err.Error()})
	}
}

// writePump owns every write on the socket. Leaving it closes the socket,
// which in turn unblocks readPump.
func (c *client) writePump(ctx context.Context) error {
	defer c.conn.Close()

	var tick <-chan time.Time
	if c.opts.VolumeInterval > 0 {
		ticker := time.NewTicker(c.opts.VolumeInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(writeWait)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return nil
		case ev := <-c.outbox:
			if err := c.write(ev); err != nil {
				return err
			}
		case <-tick:
			if !c.agent.IsConnected() {
				continue
			}
			if err := c.write(c.levels()); err != nil {
				return err
			}
		}
	}
}

func (c *client) levels() Event {
	level := c.agent.GetOutputVolume()
	mic := c.agent.InputLevel()
	speaking := c.agent.IsUserSpeaking()
	return Event{Type: "volume", Level: &level, MicLevel: &mic, Speaking: &speaking}
}

func (c *client) write(ev Event) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("failed to write %s event: %w", ev.Type, err)
	}
	return nil
}
