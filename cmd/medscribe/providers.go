package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/medscribe/internal/app"
	"github.com/MrWong99/medscribe/internal/config"
	"github.com/MrWong99/medscribe/pkg/audio"
	"github.com/MrWong99/medscribe/pkg/audio/file"
	"github.com/MrWong99/medscribe/pkg/audio/portaudio"
	"github.com/MrWong99/medscribe/pkg/provider/llm"
	"github.com/MrWong99/medscribe/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/medscribe/pkg/provider/llm/openai"
	"github.com/MrWong99/medscribe/pkg/provider/stt"
	"github.com/MrWong99/medscribe/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/medscribe/pkg/provider/stt/openai"
	"github.com/MrWong99/medscribe/pkg/provider/stt/whisper"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// credentialEnv lists, per hosted provider, the environment variables that
// may hold its API key when the config leaves api_key empty. Providers not
// listed here run locally and need no key.
var credentialEnv = map[string][]string{
	"stt/openai":    {"OPENAI_API_KEY"},
	"stt/deepgram":  {"DEEPGRAM_API_KEY"},
	"llm/openai":    {"OPENAI_API_KEY"},
	"llm/gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"llm/anthropic": {"ANTHROPIC_API_KEY"},
	"llm/deepseek":  {"DEEPSEEK_API_KEY"},
	"llm/mistral":   {"MISTRAL_API_KEY"},
	"llm/groq":      {"GROQ_API_KEY"},
}

// ErrMissingCredential is returned when a hosted provider has no API key in
// the config or the environment.
var ErrMissingCredential = errors.New("missing API key")

// resolveAPIKey returns the configured key, or the first non-empty variable
// from credentialEnv. Local providers resolve to "".
func resolveAPIKey(kind string, entry config.ProviderEntry, getenv func(string) string) (string, error) {
	if entry.APIKey != "" {
		return entry.APIKey, nil
	}
	vars, hosted := credentialEnv[kind+"/"+entry.Name]
	if !hosted {
		return "", nil
	}
	for _, v := range vars {
		if key := getenv(v); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("%s provider %q: %w: set providers.%s.api_key or one of %v",
		kind, entry.Name, ErrMissingCredential, kind, vars)
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry whose APIKey has already been
// resolved by buildProviders.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaistt.WithOrganization(org))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaistt.WithTimeout(d))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewGemini(entry.Model, anyllmOptions(entry)...)
	})

	// anthropic, deepseek, mistral, groq, ollama, llamacpp and llamafile
	// share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "deepseek", "mistral", "groq", "ollama", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(providerName, entry.Model, anyllmOptions(entry)...)
		})
	}

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (audio.Device, error) {
		var opts []portaudio.Option
		if name := optString(entry.Options, "device"); name != "" {
			opts = append(opts, portaudio.WithDeviceName(name))
		}
		if n := optInt(entry.Options, "frames_per_buffer"); n > 0 {
			opts = append(opts, portaudio.WithFramesPerBuffer(n))
		}
		if n := optInt(entry.Options, "queue_size"); n > 0 {
			opts = append(opts, portaudio.WithQueueSize(n))
		}
		return portaudio.New(opts...), nil
	})

	reg.RegisterAudio("file", func(entry config.ProviderEntry) (audio.Device, error) {
		var opts []file.Option
		if d := optDuration(entry.Options, "chunk_duration"); d > 0 {
			opts = append(opts, file.WithChunkDuration(d))
		}
		if v, ok := entry.Options["realtime"].(bool); ok {
			opts = append(opts, file.WithRealtime(v))
		}
		return file.New(optString(entry.Options, "path"), opts...)
	})

	for _, kind := range []string{"stt", "llm", "audio"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

func anyllmOptions(entry config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return opts
}

// buildProviders instantiates the three providers named in cfg using the
// registry. The returned closers release provider resources (native model
// weights) during shutdown.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, []func() error, error) {
	ps := &app.Providers{}
	var closers []func() error

	sttEntry := cfg.Providers.STT
	key, err := resolveAPIKey("stt", sttEntry, os.Getenv)
	if err != nil {
		return nil, nil, err
	}
	sttEntry.APIKey = key
	if ps.STT, err = reg.CreateSTT(sttEntry); err != nil {
		return nil, nil, fmt.Errorf("create stt provider %q: %w", sttEntry.Name, err)
	}
	if c, ok := ps.STT.(interface{ Close() error }); ok {
		closers = append(closers, c.Close)
	}
	slog.Info("provider created", "kind", "stt", "name", sttEntry.Name)

	llmEntry := cfg.Providers.LLM
	if llmEntry.APIKey, err = resolveAPIKey("llm", llmEntry, os.Getenv); err != nil {
		return nil, nil, err
	}
	if ps.LLM, err = reg.CreateLLM(llmEntry); err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", llmEntry.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", llmEntry.Name)

	if ps.Audio, err = reg.CreateAudio(cfg.Providers.Audio); err != nil {
		return nil, nil, fmt.Errorf("create audio provider %q: %w", cfg.Providers.Audio.Name, err)
	}
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	return ps, closers, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt accepts the int that yaml.v3 decodes for plain integers.
func optInt(opts map[string]any, key string) int {
	n, _ := opts[key].(int)
	return n
}

// optDuration parses a duration string such as "250ms". Invalid values are
// logged and treated as unset.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid provider option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
