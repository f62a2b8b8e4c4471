package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/medscribe/internal/config"
	"github.com/MrWong99/medscribe/pkg/audio"
	audiomock "github.com/MrWong99/medscribe/pkg/audio/mock"
	"github.com/MrWong99/medscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/medscribe/pkg/provider/llm/mock"
	"github.com/MrWong99/medscribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/medscribe/pkg/provider/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
  allowed_origins: ["localhost:5173"]

providers:
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-2-medical
  llm:
    name: anthropic
    api_key: sk-ant-test
    model: claude-sonnet
  audio:
    name: portaudio
    options:
      device: "USB Microphone"

pipeline:
  poll_interval: 50ms
  transcribe_timeout: 90s
  summarize_timeout: 1m
  language: en
  breaker:
    max_failures: 5
    reset_timeout: 1m

vocabulary:
  terms:
    - Metformin
    - Lisinopril
    - Atrial Fibrillation
  phonetic_threshold: 0.75

console:
  enabled: true

telemetry:
  service_name: scribe-clinic-a
  metrics: true
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_FullSample(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.STT.Name != "deepgram" || cfg.Providers.STT.Model != "nova-2-medical" {
		t.Errorf("stt = %+v", cfg.Providers.STT)
	}
	if got := cfg.Providers.Audio.Options["device"]; got != "USB Microphone" {
		t.Errorf("audio device option = %v", got)
	}
	p := cfg.Pipeline
	if p.PollInterval != 50*time.Millisecond || p.TranscribeTimeout != 90*time.Second || p.SummarizeTimeout != time.Minute {
		t.Errorf("pipeline durations = %+v", p)
	}
	if p.Breaker.MaxFailures != 5 || p.Breaker.ResetTimeout != time.Minute {
		t.Errorf("breaker = %+v", p.Breaker)
	}
	if len(cfg.Vocabulary.Terms) != 3 || cfg.Vocabulary.PhoneticThreshold != 0.75 {
		t.Errorf("vocabulary = %+v", cfg.Vocabulary)
	}
	if !cfg.Console.Enabled || !cfg.Telemetry.Metrics || cfg.Telemetry.ServiceName != "scribe-clinic-a" {
		t.Errorf("console/telemetry = %+v / %+v", cfg.Console, cfg.Telemetry)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "console:\n  enabled: true\n")

	checks := []struct {
		name      string
		got, want any
	}{
		{"log level", cfg.Server.LogLevel, config.LogInfo},
		{"stt", cfg.Providers.STT.Name, "openai"},
		{"stt model", cfg.Providers.STT.Model, "whisper-1"},
		{"llm", cfg.Providers.LLM.Name, "gemini"},
		{"audio", cfg.Providers.Audio.Name, "portaudio"},
		{"poll interval", cfg.Pipeline.PollInterval, 100 * time.Millisecond},
		{"transcribe timeout", cfg.Pipeline.TranscribeTimeout, 2 * time.Minute},
		{"summarize timeout", cfg.Pipeline.SummarizeTimeout, 2 * time.Minute},
		{"breaker failures", cfg.Pipeline.Breaker.MaxFailures, 3},
		{"breaker reset", cfg.Pipeline.Breaker.ResetTimeout, 30 * time.Second},
		{"service name", cfg.Telemetry.ServiceName, "medscribe"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFromReader_ExplicitSTTModelKept(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, `
console: {enabled: true}
providers:
  stt:
    name: whisper
    base_url: http://localhost:8081
`)
	if cfg.Providers.STT.Model != "" {
		t.Errorf("model = %q, the whisper-1 default applies only to the default provider", cfg.Providers.STT.Model)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("patients: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "medscribe.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.LLM.Name != "anthropic" {
		t.Errorf("llm = %q", cfg.Providers.LLM.Name)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

// ── registry ─────────────────────────────────────────────────────────────────

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	reg.RegisterSTT("mock", func(e config.ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return &sttmock.Provider{}, nil
	})
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})
	reg.RegisterAudio("mock", func(config.ProviderEntry) (audio.Device, error) {
		return &audiomock.Device{}, nil
	})
	reg.RegisterAudio("broken", func(config.ProviderEntry) (audio.Device, error) {
		return nil, audio.ErrNoDevice
	})

	t.Run("creates registered providers", func(t *testing.T) {
		if _, err := reg.CreateSTT(config.ProviderEntry{Name: "mock", Model: "m1"}); err != nil {
			t.Fatalf("CreateSTT: %v", err)
		}
		if gotEntry.Model != "m1" {
			t.Errorf("factory got entry %+v", gotEntry)
		}
		if _, err := reg.CreateLLM(config.ProviderEntry{Name: "mock"}); err != nil {
			t.Errorf("CreateLLM: %v", err)
		}
		if _, err := reg.CreateAudio(config.ProviderEntry{Name: "mock"}); err != nil {
			t.Errorf("CreateAudio: %v", err)
		}
	})

	t.Run("unknown names", func(t *testing.T) {
		_, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"})
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
		}
		if !strings.Contains(err.Error(), `llm/"nope"`) {
			t.Errorf("err = %v, want kind and name", err)
		}
	})

	t.Run("factory errors pass through", func(t *testing.T) {
		_, err := reg.CreateAudio(config.ProviderEntry{Name: "broken"})
		if !errors.Is(err, audio.ErrNoDevice) {
			t.Errorf("err = %v, want ErrNoDevice", err)
		}
	})

	t.Run("names", func(t *testing.T) {
		got := reg.Names("audio")
		if len(got) != 2 || got[0] != "broken" || got[1] != "mock" {
			t.Errorf("Names(audio) = %v", got)
		}
		if got := reg.Names("tts"); len(got) != 0 {
			t.Errorf("Names(tts) = %v, want none", got)
		}
	})
}
