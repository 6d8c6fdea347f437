package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Call metrics
	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_concierge_active_calls",
		Help: "Number of logical voice calls in progress",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_concierge_calls_total",
		Help: "Total number of user-initiated voice calls",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_concierge_call_duration_seconds",
		Help:    "Duration of logical voice calls in seconds",
		Buckets: []float64{5, 30, 60, 120, 300, 600, 1200, 1800},
	})

	callOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_concierge_call_outcomes_total",
		Help: "Terminal status of logical calls",
	}, []string{"status"})

	// Leg metrics
	legOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_concierge_leg_opens_total",
		Help: "Remote session legs opened",
	}, []string{"status"})

	legOpenLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_concierge_leg_open_latency_seconds",
		Help:    "Time from dial to setup acknowledgement",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	handovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_concierge_handovers_total",
		Help: "Leg handovers by trigger and result",
	}, []string{"reason", "status"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_concierge_audio_bytes_total",
		Help: "Total PCM audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	droppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_concierge_capture_frames_dropped_total",
		Help: "Captured frames not transmitted",
	}, []string{"reason"})

	fragmentErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_concierge_playback_fragment_errors_total",
		Help: "Agent audio fragments that failed to decode or schedule",
	})

	interruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_concierge_interruptions_total",
		Help: "Barge-in interruptions signalled by the remote service",
	})

	transcriptEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_concierge_transcript_entries_total",
		Help: "Finalized transcript entries",
	}, []string{"role"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_concierge_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "live_concierge_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_concierge_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Host bridge metrics
	bridgeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_concierge_bridge_clients",
		Help: "Connected host bridge clients",
	})
)

// Metrics tracks metrics for a single logical call
type Metrics struct {
	callID    string
	startTime time.Time
	ended     bool
	mu        sync.Mutex
}

// NewCallMetrics creates a new metrics tracker for a call
func NewCallMetrics(callID string) *Metrics {
	return &Metrics{
		callID:    callID,
		startTime: time.Now(),
	}
}

// CallID returns the call this tracker belongs to
func (m *Metrics) CallID() string {
	return m.callID
}

// RecordCallStart records the start of a call
func (m *Metrics) RecordCallStart() {
	activeCalls.Inc()
	totalCalls.Inc()
}

// RecordCallEnd records the end of a call with its terminal status. Repeated calls are ignored.
func (m *Metrics) RecordCallEnd(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	activeCalls.Dec()
	callDuration.Observe(time.Since(m.startTime).Seconds())
	callOutcomes.WithLabelValues(status).Inc()
}

// RecordLegOpen records a leg open attempt
func (m *Metrics) RecordLegOpen(success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	legOpens.WithLabelValues(status).Inc()
	if success {
		legOpenLatency.Observe(latency.Seconds())
	}
}

// RecordHandover records a completed or failed handover
func (m *Metrics) RecordHandover(reason string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	handovers.WithLabelValues(reason, status).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordDroppedFrame records a captured frame that was gated off
func (m *Metrics) RecordDroppedFrame(reason string) {
	droppedFrames.WithLabelValues(reason).Inc()
}

// RecordFragmentError records a playback fragment that was skipped
func (m *Metrics) RecordFragmentError() {
	fragmentErrors.Inc()
}

// RecordInterruption records a barge-in
func (m *Metrics) RecordInterruption() {
	interruptions.Inc()
}

// RecordTranscriptEntry records a finalized utterance
func (m *Metrics) RecordTranscriptEntry(role string) {
	transcriptEntries.WithLabelValues(role).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// BridgeClientConnected tracks a host bridge client joining
func BridgeClientConnected() {
	bridgeClients.Inc()
}

// BridgeClientDisconnected tracks a host bridge client leaving
func BridgeClientDisconnected() {
	bridgeClients.Dec()
}
