package liveagent

import (
	"github.com/samber/do/v2"

	"github.com/lexiqai/live-concierge/internal/audio"
	"github.com/lexiqai/live-concierge/internal/briefing"
	"github.com/lexiqai/live-concierge/internal/config"
	"github.com/lexiqai/live-concierge/internal/device"
	"github.com/lexiqai/live-concierge/internal/gemini"
	"github.com/lexiqai/live-concierge/internal/observability"
	"github.com/lexiqai/live-concierge/internal/resilience"
)

// OptionsFromConfig maps service configuration onto agent options
func OptionsFromConfig(cfg *config.Config, basePrompt string) Options {
	opts := DefaultOptions()
	opts.Persona = briefing.Persona{
		AgentName:  cfg.AgentName,
		Agency:     cfg.AgencyName,
		BasePrompt: basePrompt,
	}
	opts.Model = cfg.LiveModel
	opts.Voice = cfg.LiveVoice
	opts.InputRate = cfg.InputSampleRate
	opts.MicRate = cfg.MicSampleRate
	opts.BlockSize = cfg.CaptureBlockSize
	opts.AnalyserFFTSize = cfg.AnalyserFFTSize
	opts.HandoverInterval = cfg.HandoverEvery()

	recovery := resilience.SingleShotReconnect(cfg.ErrorRetryBackoff())
	recovery.MaxAttempts = max(cfg.ErrorRetryAttempts, 1)
	opts.Recovery = recovery
	return opts
}

// RegisterDI provides the process-wide *Agent, its dialer, transport and devices.
// The agent is created lazily on first use; Shared returns that instance.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*gemini.Dialer, error) {
		return gemini.NewDialerFromConfig(do.MustInvoke[*config.Config](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (Transport, error) {
		return DialerTransport{Dialer: do.MustInvoke[*gemini.Dialer](i)}, nil
	})
	do.Provide(injector, func(i do.Injector) (Microphone, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return device.NewMicrophone(device.MicConfig{
			Input:      cfg.MicInput,
			SampleRate: cfg.MicSampleRate,
		}, observability.GetLogger()), nil
	})
	do.Provide(injector, func(i do.Injector) (OutputFactory, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return func() (audio.Output, error) {
			speaker, err := device.OpenSpeaker(device.SpeakerConfig{SampleRate: cfg.OutputSampleRate}, observability.GetLogger())
			if err != nil {
				return nil, err
			}
			return speaker, nil
		}, nil
	})
	do.Provide(injector, func(i do.Injector) (*Agent, error) {
		cfg := do.MustInvoke[*config.Config](i)
		prompt, err := cfg.SystemPrompt()
		if err != nil {
			return nil, err
		}
		return New(
			do.MustInvoke[Transport](i),
			do.MustInvoke[Microphone](i),
			do.MustInvoke[OutputFactory](i),
			OptionsFromConfig(cfg, prompt),
			observability.GetLogger(),
		), nil
	})
}

// Shared returns the process-wide agent from injector
func Shared(injector do.Injector) (*Agent, error) {
	return do.Invoke[*Agent](injector)
}
