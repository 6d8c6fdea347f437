package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the live concierge service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Live voice service configuration
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY" required:"true"`
	LiveEndpoint     string `envconfig:"LIVE_ENDPOINT" default:"wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"`
	LiveModel        string `envconfig:"LIVE_MODEL" default:"gemini-2.5-flash-native-audio-preview-09-2025"`
	LiveVoice        string `envconfig:"LIVE_VOICE" default:"Zephyr"`
	LiveSetupTimeout int    `envconfig:"LIVE_SETUP_TIMEOUT" default:"10"` // seconds to wait for setupComplete

	// Session handover. The remote service caps a connection's lifetime; legs are rotated before that.
	HandoverInterval   int `envconfig:"HANDOVER_INTERVAL" default:"90"`   // seconds
	ErrorRetryDelay    int `envconfig:"ERROR_RETRY_DELAY" default:"1000"` // milliseconds
	ErrorRetryAttempts int `envconfig:"ERROR_RETRY_ATTEMPTS" default:"1"` // reconnects after a mid-call error

	// Audio configuration
	InputSampleRate  int    `envconfig:"INPUT_SAMPLE_RATE" default:"16000"`  // rate expected by the remote service
	OutputSampleRate int    `envconfig:"OUTPUT_SAMPLE_RATE" default:"24000"` // rate of agent audio
	MicSampleRate    int    `envconfig:"MIC_SAMPLE_RATE" default:"48000"`    // native capture rate
	CaptureBlockSize int    `envconfig:"CAPTURE_BLOCK_SIZE" default:"4096"`  // samples per captured block
	AnalyserFFTSize  int    `envconfig:"ANALYSER_FFT_SIZE" default:"256"`
	MicInput         string `envconfig:"MIC_INPUT" default:""` // ffmpeg input device, platform default if empty

	// Persona
	AgentName        string `envconfig:"AGENT_NAME" default:"Supansa"`
	AgencyName       string `envconfig:"AGENCY_NAME" default:"C.I.M. Visas"`
	SystemPromptFile string `envconfig:"SYSTEM_PROMPT_FILE" default:""`

	// Host bridge
	VolumePushInterval int `envconfig:"VOLUME_PUSH_INTERVAL" default:"100"` // milliseconds

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Dial attempts per leg
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot express as tags
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.HandoverInterval <= 0 {
		return fmt.Errorf("HANDOVER_INTERVAL must be positive, got %d", c.HandoverInterval)
	}
	if c.InputSampleRate <= 0 || c.OutputSampleRate <= 0 || c.MicSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive")
	}
	if c.MicSampleRate < c.InputSampleRate {
		return fmt.Errorf("MIC_SAMPLE_RATE (%d) must not be below INPUT_SAMPLE_RATE (%d)", c.MicSampleRate, c.InputSampleRate)
	}
	if c.CaptureBlockSize <= 0 {
		return fmt.Errorf("CAPTURE_BLOCK_SIZE must be positive")
	}
	if n := c.AnalyserFFTSize; n < 32 || n&(n-1) != 0 {
		return fmt.Errorf("ANALYSER_FFT_SIZE must be a power of two >= 32, got %d", n)
	}
	return nil
}

// HandoverEvery returns the leg rotation interval
func (c *Config) HandoverEvery() time.Duration {
	return time.Duration(c.HandoverInterval) * time.Second
}

// ErrorRetryBackoff returns the delay before reconnecting after a mid-call error
func (c *Config) ErrorRetryBackoff() time.Duration {
	return time.Duration(c.ErrorRetryDelay) * time.Millisecond
}

// SetupTimeout returns how long a leg may wait for the remote setup acknowledgement
func (c *Config) SetupTimeout() time.Duration {
	return time.Duration(c.LiveSetupTimeout) * time.Second
}

// SystemPrompt returns the base prompt from SYSTEM_PROMPT_FILE, or "" when unset
func (c *Config) SystemPrompt() (string, error) {
	if c.SystemPromptFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt: %w", err)
	}
	return string(data), nil
}
