package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do/v2"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/live-concierge/internal/config"
	"github.com/lexiqai/live-concierge/internal/device"
	"github.com/lexiqai/live-concierge/internal/gemini"
	"github.com/lexiqai/live-concierge/internal/hostbridge"
	"github.com/lexiqai/live-concierge/internal/liveagent"
	"github.com/lexiqai/live-concierge/internal/observability"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("model", cfg.LiveModel).
		Str("voice", cfg.LiveVoice).
		Dur("handover_interval", cfg.HandoverEvery()).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Live Concierge starting")

	injector := do.New()
	do.ProvideValue(injector, cfg)
	liveagent.RegisterDI(injector)

	agent, err := liveagent.Shared(injector)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create live agent")
	}

	mux := http.NewServeMux()

	// Host UI bridge
	mux.HandleFunc("/agent/ws", hostbridge.HandleAgentWS(agent, hostbridge.OptionsFromConfig(cfg)))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	dialer, err := do.Invoke[*gemini.Dialer](injector)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create live dialer")
	}

	// Readiness: credentials present, the live breaker closed and the audio tools installed
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"gemini": dialer.Ready,
		"ffmpeg": binaryCheck("ffmpeg"),
		"ffplay": binaryCheck("ffplay"),
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No WriteTimeout: the bridge websocket is long-lived
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/agent/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		// ends the active call and releases the devices
		if report := injector.ShutdownWithContext(shutdownCtx); !report.Succeed {
			return report
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Server stopped with error")
	}
	logger.Info().Msg("Server exited gracefully")
}

func binaryCheck(name string) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if err := device.Available(name); err != nil {
			return false, err
		}
		return true, nil
	}
}
