package config

import (
	"fmt"
	"time"
)

// Provider names accepted by remote.provider.
const (
	ProviderVachan = "vachan"
	ProviderOpenAI = "openai"
)

// Config holds scribe configuration.
// Stored at: ~/.scribe/config.yaml
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Defra   DefraConfig   `mapstructure:"defra" yaml:"defra"`
	Remote  RemoteConfig  `mapstructure:"remote" yaml:"remote"`
	OpenAI  OpenAIConfig  `mapstructure:"openai" yaml:"openai"`
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // debug, info, warn, error
}

// DefraConfig holds DefraDB container configuration.
type DefraConfig struct {
	// ContainerName is the Docker container name (default: scribe-defra)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use (default: sourcenetwork/defradb:latest)
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind (default: 9181)
	Port string `mapstructure:"port" yaml:"port"`
	// Labels are added to the container when scribe creates it.
	Labels map[string]string `mapstructure:"labels" yaml:"labels,omitempty"`
}

// RemoteConfig configures the job-based transcription/synthesis service.
type RemoteConfig struct {
	Provider           string        `mapstructure:"provider" yaml:"provider"`
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url"`
	APIToken           string        `mapstructure:"api_token" yaml:"api_token"` // supports ${ENV_VAR}
	TranscriptionModel string        `mapstructure:"transcription_model" yaml:"transcription_model"`
	SynthesisModel     string        `mapstructure:"synthesis_model" yaml:"synthesis_model"`
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxPollAttempts    int           `mapstructure:"max_poll_attempts" yaml:"max_poll_attempts"`
	RequestsPerMinute  float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey             string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR}
	TranscriptionModel string `mapstructure:"transcription_model" yaml:"transcription_model"`
	SpeechModel        string `mapstructure:"speech_model" yaml:"speech_model"`
	Voice              string `mapstructure:"voice" yaml:"voice"`
}

// AudioConfig controls normalization of source audio.
type AudioConfig struct {
	FFmpegPath string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	Normalize  bool   `mapstructure:"normalize" yaml:"normalize"`
}

// StorageConfig bounds per-project storage. Zero means unlimited.
type StorageConfig struct {
	ProjectQuotaBytes int64 `mapstructure:"project_quota_bytes" yaml:"project_quota_bytes"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Log: LogConfig{Level: "info"},
		Defra: DefraConfig{
			ContainerName: "scribe-defra",
			Image:         "sourcenetwork/defradb:latest",
			Port:          "9181",
		},
		Remote: RemoteConfig{
			Provider:           ProviderVachan,
			BaseURL:            "https://api.vachanengine.org/v2",
			APIToken:           "${VACHAN_API_TOKEN}",
			TranscriptionModel: "mms-1b-all",
			SynthesisModel:     "seamless-m4t-large",
			PollInterval:       10 * time.Second,
			MaxPollAttempts:    360,
			RequestsPerMinute:  30,
		},
		OpenAI: OpenAIConfig{
			APIKey:             "${OPENAI_API_KEY}",
			TranscriptionModel: "whisper-1",
			SpeechModel:        "gpt-4o-mini-tts",
			Voice:              "alloy",
		},
		Audio: AudioConfig{
			FFmpegPath: "ffmpeg",
			Normalize:  true,
		},
		Storage: StorageConfig{
			ProjectQuotaBytes: 512 << 20,
		},
	}
}

// Validate checks values that would otherwise fail far from the config.
func (c *Config) Validate() error {
	switch c.Remote.Provider {
	case ProviderVachan, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown remote.provider %q (want %q or %q)", c.Remote.Provider, ProviderVachan, ProviderOpenAI)
	}
	if c.Remote.PollInterval <= 0 {
		return fmt.Errorf("remote.poll_interval must be positive")
	}
	if c.Remote.MaxPollAttempts <= 0 {
		return fmt.Errorf("remote.max_poll_attempts must be positive")
	}
	if c.Storage.ProjectQuotaBytes < 0 {
		return fmt.Errorf("storage.project_quota_bytes must not be negative")
	}
	return nil
}

// RemoteToken returns the API token with env references resolved.
func (c *Config) RemoteToken() string {
	return ResolveEnvVars(c.Remote.APIToken)
}

// OpenAIKey returns the OpenAI key with env references resolved.
func (c *Config) OpenAIKey() string {
	return ResolveEnvVars(c.OpenAI.APIKey)
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return c.Server.Host + ":" + c.Server.Port
}
