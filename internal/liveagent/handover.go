package liveagent

import (
	"context"
	"errors"
	"time"

	"github.com/lexiqai/live-concierge/internal/resilience"
)

const (
	reasonTimer   = "timer"
	reasonGoAway  = "go_away"
	reasonFailure = "leg_error"
)

// armHandoverLocked schedules the rotation of leg gen. Callers hold a.mu.
func (a *Agent) armHandoverLocked(c *call, gen uint64) {
	if a.timer != nil {
		a.timer.Stop()
	}
	if a.opts.HandoverInterval <= 0 {
		a.timer = nil
		return
	}
	a.timer = time.AfterFunc(a.opts.HandoverInterval, func() {
		a.handover(c, gen, reasonTimer)
	})
}

// beginHandover marks leg gen as being replaced: capture is gated, the
// timer stopped and every callback of the old leg becomes a no-op. It
// reports false when gen is no longer the active leg or a handover is
// already running.
func (a *Agent) beginHandover(c *call, gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.call != c || a.gen != gen || a.handingOver {
		return false
	}
	a.handingOver = true
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if c.capture != nil {
		c.capture.Detach()
	}
	return true
}

// handover rotates leg gen onto a fresh leg carrying the transcript so far.
// If the new leg cannot be opened the failure recovery takes over.
func (a *Agent) handover(c *call, gen uint64, reason string) {
	if !a.beginHandover(c, gen) {
		return
	}
	c.logger.Info().Str("reason", reason).Msg("Performing session handover")

	err := a.openLeg(c.ctx, c, true)
	c.metrics.RecordHandover(reason, err == nil)
	if err == nil || errors.Is(err, errSuperseded) {
		return
	}
	c.logger.Warn().Err(err).Str("reason", reason).Msg("Handover failed")
	a.recoverCall(c, err)
}

// legFailed handles an unexpected error on the active leg: the call is kept
// alive on a new leg if possible and only surfaces an error otherwise.
func (a *Agent) legFailed(c *call, gen uint64, cause error) {
	if !a.beginHandover(c, gen) {
		return
	}
	c.logger.Warn().Err(cause).Msg("Live leg failed, reconnecting")
	c.metrics.RecordError("leg_failed", "liveagent")
	a.recoverCall(c, cause)
}

// recoverCall reopens the call after the configured delay. Must be entered
// with handingOver set.
func (a *Agent) recoverCall(c *call, cause error) {
	err := resilience.Reconnect(c.ctx, c.logger, func(ctx context.Context) error {
		err := a.openLeg(ctx, c, true)
		c.metrics.RecordHandover(reasonFailure, err == nil)
		if errors.Is(err, errSuperseded) {
			return nil
		}
		return err
	}, a.opts.Recovery)
	if err == nil {
		return
	}
	if !a.isCurrentCall(c) {
		return
	}

	c.logger.Error().Err(err).AnErr("cause", cause).Msg("Call recovery failed")
	status, _ := logicalTransition(recoveryFailed, true)
	_ = a.endCall(c, status)
}
