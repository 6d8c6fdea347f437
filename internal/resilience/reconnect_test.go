package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestReconnect_SingleShotWaitsThenTries(t *testing.T) {
	start := time.Now()
	attempts := 0
	err := Reconnect(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		attempts++
		return nil
	}, SingleShotReconnect(30*time.Millisecond))

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Expected initial delay of at least 30ms, got %v", elapsed)
	}
}

func TestReconnect_SingleShotFailure(t *testing.T) {
	attempts := 0
	cause := errors.New("leg refused")
	err := Reconnect(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		attempts++
		return cause
	}, SingleShotReconnect(time.Millisecond))

	if !errors.Is(err, cause) {
		t.Errorf("Expected wrapped cause, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", attempts)
	}
}

func TestReconnect_Backoff(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	}, &ReconnectConfig{MaxAttempts: 5, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: 4 * time.Millisecond})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_CancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Reconnect(ctx, zerolog.Nop(), func(ctx context.Context) error {
		called = true
		return nil
	}, SingleShotReconnect(time.Second))

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("Expected no attempt after cancellation")
	}
}
