package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":   {"openai", "deepgram", "whisper", "whisper-native"},
	"llm":   {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"audio": {"portaudio", "file"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ListenAddr == "" && !cfg.Console.Enabled {
		errs = append(errs, errors.New("no input source: set server.listen_addr or enable console"))
	}
	if cfg.Server.ListenAddr == "" && cfg.Telemetry.Metrics {
		slog.Warn("telemetry.metrics is enabled but server.listen_addr is empty; /metrics will not be served")
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	if cfg.Providers.Audio.Name == "file" {
		if p, _ := cfg.Providers.Audio.Options["path"].(string); p == "" {
			errs = append(errs, errors.New("providers.audio: the file device requires options.path"))
		}
	}

	// Pipeline
	p := cfg.Pipeline
	if p.PollInterval < 0 || p.TranscribeTimeout < 0 || p.SummarizeTimeout < 0 {
		errs = append(errs, errors.New("pipeline: durations must not be negative"))
	}
	if p.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("pipeline.breaker.max_failures %d must not be negative", p.Breaker.MaxFailures))
	}

	// Vocabulary
	errs = append(errs, validateThreshold("vocabulary.phonetic_threshold", cfg.Vocabulary.PhoneticThreshold)...)
	errs = append(errs, validateThreshold("vocabulary.fuzzy_threshold", cfg.Vocabulary.FuzzyThreshold)...)
	errs = append(errs, validateThreshold("telemetry.sample_ratio", cfg.Telemetry.SampleRatio)...)
	seen := make(map[string]int, len(cfg.Vocabulary.Terms))
	for i, term := range cfg.Vocabulary.Terms {
		key := strings.ToLower(strings.Join(strings.Fields(term), " "))
		if key == "" {
			errs = append(errs, fmt.Errorf("vocabulary.terms[%d] is empty", i))
			continue
		}
		if prev, ok := seen[key]; ok {
			slog.Warn("duplicate vocabulary term; the first spelling wins", "term", term, "first", cfg.Vocabulary.Terms[prev])
			continue
		}
		seen[key] = i
	}

	return errors.Join(errs...)
}

func validateThreshold(field string, v float64) []error {
	if v < 0 || v > 1 {
		return []error{fmt.Errorf("%s %.2f is out of range [0, 1]", field, v)}
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
