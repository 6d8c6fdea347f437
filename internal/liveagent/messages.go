package liveagent

import (
	"fmt"

	"github.com/lexiqai/live-concierge/internal/briefing"
	"github.com/lexiqai/live-concierge/internal/gemini"
	"github.com/lexiqai/live-concierge/internal/transcript"
)

// legHandler binds one leg's traffic to the call it was opened for. Every
// callback is dropped once gen is no longer the active leg.
type legHandler struct {
	agent *Agent
	call  *call
	gen   uint64

	// closed once Open has returned and leg is set
	ready chan struct{}
	leg   Session
}

func (h *legHandler) OnMessage(msg *gemini.ServerMessage) {
	<-h.ready
	if !h.agent.isActiveLeg(h.call, h.gen) {
		return
	}
	h.agent.handleMessage(h, msg)
}

func (h *legHandler) OnClose(err error) {
	<-h.ready
	a := h.agent

	a.mu.Lock()
	active := a.call == h.call && a.gen == h.gen && !a.handingOver
	a.mu.Unlock()
	if !active {
		h.call.logger.Debug().Str("leg_id", h.leg.ID()).Msg("Superseded leg closed")
		return
	}

	if err == nil {
		h.call.logger.Info().Str("leg_id", h.leg.ID()).Msg("Remote closed the session")
		status, _ := logicalTransition(legClosed, false)
		go func() { _ = a.endCall(h.call, status) }()
		return
	}
	go a.legFailed(h.call, h.gen, err)
}

func (a *Agent) isActiveLeg(c *call, gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.call == c && a.gen == gen
}

// handleMessage applies one server frame: tool calls, then captions, then
// turn completion, then barge-in, then audio.
func (a *Agent) handleMessage(h *legHandler, msg *gemini.ServerMessage) {
	c := h.call

	if msg.GoAway != nil {
		c.logger.Info().Str("time_left", msg.GoAway.TimeLeft).Msg("Service requested reconnect")
		go a.handover(c, h.gen, reasonGoAway)
	}

	if msg.ToolCall != nil {
		a.handleToolCall(h, msg.ToolCall)
	}

	sc := msg.ServerContent
	if sc == nil {
		return
	}

	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		a.emitTranscript(a.transcript.Append(transcript.RoleAgent, t.Text))
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		a.emitTranscript(a.transcript.Append(transcript.RoleUser, t.Text))
	}

	if sc.TurnComplete {
		for _, u := range a.transcript.CompleteTurn() {
			c.metrics.RecordTranscriptEntry(string(u.Role))
			a.emitTranscript(u)
		}
	}

	if sc.Interrupted {
		stopped := c.player.Interrupt()
		a.transcript.Discard(transcript.RoleAgent)
		c.metrics.RecordInterruption()
		c.logger.Debug().Int("voices_stopped", stopped).Msg("Agent interrupted")
		return
	}

	for _, data := range sc.AudioParts() {
		if _, err := c.player.Enqueue(data); err != nil {
			c.metrics.RecordFragmentError()
			c.logger.Warn().Err(err).Msg("Dropping audio fragment")
			continue
		}
		c.metrics.RecordAudioBytes("out", int64(len(data)))
	}
}

func (a *Agent) handleToolCall(h *legHandler, tc *gemini.ToolCall) {
	c := h.call
	for _, fc := range tc.FunctionCalls {
		var response map[string]any

		switch fc.Name {
		case briefing.NavigateFunction:
			raw := fc.StringArg("page")
			page, ok := briefing.ParsePage(raw)
			if !ok {
				c.logger.Warn().Str("page", raw).Msg("Ignoring navigation to unknown page")
				response = map[string]any{"error": fmt.Sprintf("unknown page %q", raw)}
				break
			}
			c.logger.Info().Str("page", string(page)).Msg("Agent navigation request")
			a.emitNavigation(page)
			response = briefing.NavigationResult(page)
		default:
			c.logger.Warn().Str("function", fc.Name).Msg("Unknown function call")
			response = map[string]any{"error": fmt.Sprintf("unknown function %q", fc.Name)}
		}

		err := h.leg.SendToolResponse(gemini.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: response})
		if err != nil {
			c.logger.Warn().Err(err).Str("function", fc.Name).Msg("Failed to answer function call")
		}
	}
}
