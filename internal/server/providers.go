package server

import (
	"log/slog"

	"github.com/jackzampolin/scribe/internal/config"
	"github.com/jackzampolin/scribe/internal/providers"
)

// loadProviders registers the job clients described by cfg and selects
// remote.provider. Re-running it replaces clients in place, so walks
// started afterwards pick up new tokens and models.
func loadProviders(reg *providers.Registry, cfg *config.Config, logger *slog.Logger) {
	reg.Register(providers.NewVachanClient(providers.VachanConfig{
		BaseURL:            cfg.Remote.BaseURL,
		Token:              cfg.RemoteToken(),
		TranscriptionModel: cfg.Remote.TranscriptionModel,
		SynthesisModel:     cfg.Remote.SynthesisModel,
		RequestsPerMinute:  cfg.Remote.RequestsPerMinute,
		Logger:             logger,
	}))
	if key := cfg.OpenAIKey(); key != "" {
		reg.Register(providers.NewOpenAIClient(providers.OpenAIConfig{
			APIKey:             key,
			TranscriptionModel: cfg.OpenAI.TranscriptionModel,
			SpeechModel:        cfg.OpenAI.SpeechModel,
			Voice:              cfg.OpenAI.Voice,
			RequestsPerMinute:  cfg.Remote.RequestsPerMinute,
		}))
	}
	if err := reg.SetActive(cfg.Remote.Provider); err != nil {
		logger.Warn("configured provider unavailable", "provider", cfg.Remote.Provider, "error", err)
	}
}
