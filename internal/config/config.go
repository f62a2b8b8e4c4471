// Package config provides the configuration schema, loader, and provider registry
// for the medscribe recorder.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultSTTProvider   = "openai"
	DefaultSTTModel      = "whisper-1"
	DefaultLLMProvider   = "gemini"
	DefaultAudioProvider = "portaudio"

	DefaultPollInterval      = 100 * time.Millisecond
	DefaultTranscribeTimeout = 2 * time.Minute
	DefaultSummarizeTimeout  = 2 * time.Minute
	DefaultBreakerFailures   = 3
	DefaultBreakerReset      = 30 * time.Second
	DefaultServiceName       = "medscribe"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Vocabulary VocabularyConfig `yaml:"vocabulary"`
	Console    ConsoleConfig    `yaml:"console"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8080").
	// Empty disables HTTP entirely.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins are host patterns allowed to open the WebSocket from
	// another origin (e.g., "localhost:5173").
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which implementation serves each external
// collaborator. Each field selects a named factory in the [Registry].
type ProvidersConfig struct {
	// STT is the transcription service.
	STT ProviderEntry `yaml:"stt"`

	// LLM is the model behind the note summarizer.
	LLM ProviderEntry `yaml:"llm"`

	// Audio is the capture device.
	Audio ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// PipelineConfig tunes the recording session.
type PipelineConfig struct {
	// PollInterval is how often the capture loop checks for a stop request.
	PollInterval time.Duration `yaml:"poll_interval"`

	// TranscribeTimeout bounds the transcription request.
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`

	// SummarizeTimeout bounds the summarization request.
	SummarizeTimeout time.Duration `yaml:"summarize_timeout"`

	// Language is an optional BCP-47 hint for transcription (e.g., "en").
	Language string `yaml:"language"`

	// Breaker configures the per-service circuit breakers.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open before a probe.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// VocabularyConfig drives transcript correction. Hot-reloadable.
type VocabularyConfig struct {
	// Terms are drug, condition and procedure names the transcription
	// service tends to mishear. They are also sent as recognition hints.
	Terms []string `yaml:"terms"`

	// PhoneticThreshold is the minimum score for a phonetic match (0, 1].
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`

	// FuzzyThreshold is the minimum score for a spelling-only match (0, 1].
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// ConsoleConfig controls the terminal front end.
type ConsoleConfig struct {
	// Enabled reads start/stop commands from stdin and renders events to stdout.
	Enabled bool `yaml:"enabled"`
}

// TelemetryConfig controls metrics and tracing resources.
type TelemetryConfig struct {
	// ServiceName is the OpenTelemetry service.name resource attribute.
	ServiceName string `yaml:"service_name"`

	// Metrics serves Prometheus metrics on /metrics.
	Metrics bool `yaml:"metrics"`

	// SampleRatio is the fraction of new traces recorded. Zero records all.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ApplyDefaults fills zero values with the defaults above.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Providers.STT.Name == "" {
		c.Providers.STT.Name = DefaultSTTProvider
		if c.Providers.STT.Model == "" {
			c.Providers.STT.Model = DefaultSTTModel
		}
	}
	if c.Providers.LLM.Name == "" {
		c.Providers.LLM.Name = DefaultLLMProvider
	}
	if c.Providers.Audio.Name == "" {
		c.Providers.Audio.Name = DefaultAudioProvider
	}

	p := &c.Pipeline
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.TranscribeTimeout <= 0 {
		p.TranscribeTimeout = DefaultTranscribeTimeout
	}
	if p.SummarizeTimeout <= 0 {
		p.SummarizeTimeout = DefaultSummarizeTimeout
	}
	if p.Breaker.MaxFailures <= 0 {
		p.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if p.Breaker.ResetTimeout <= 0 {
		p.Breaker.ResetTimeout = DefaultBreakerReset
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}
