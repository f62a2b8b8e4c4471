package main

import (
	"errors"
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

func TestResolveAPIKey(t *testing.T) {
	t.Parallel()
	env := map[string]string{"GOOGLE_API_KEY": "g-env"}
	getenv := func(k string) string { return env[k] }

	tests := []struct {
		name    string
		kind    string
		entry   config.ProviderEntry
		want    string
		wantErr bool
	}{
		{name: "configured key wins", kind: "llm", entry: config.ProviderEntry{Name: "gemini", APIKey: "g-cfg"}, want: "g-cfg"},
		{name: "gemini falls back to google key", kind: "llm", entry: config.ProviderEntry{Name: "gemini"}, want: "g-env"},
		{name: "openai stt without key", kind: "stt", entry: config.ProviderEntry{Name: "openai"}, wantErr: true},
		{name: "local llm", kind: "llm", entry: config.ProviderEntry{Name: "ollama"}, want: ""},
		{name: "local stt", kind: "stt", entry: config.ProviderEntry{Name: "whisper"}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := resolveAPIKey(tt.kind, tt.entry, getenv)
			if tt.wantErr {
				if !errors.Is(err, ErrMissingCredential) {
					t.Fatalf("err = %v, want ErrMissingCredential", err)
				}
				if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
					t.Errorf("err = %v, want the env var named", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var gotLLM config.ProviderEntry
	reg.RegisterSTT("whisper", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterLLM("ollama", func(e config.ProviderEntry) (llm.Provider, error) {
		gotLLM = e
		return &llmmock.Provider{}, nil
	})
	reg.RegisterAudio("mock", func(config.ProviderEntry) (audio.Device, error) { return &audiomock.Device{}, nil })

	cfg := &config.Config{Providers: config.ProvidersConfig{
		STT:   config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8081"},
		LLM:   config.ProviderEntry{Name: "ollama", Model: "llama3"},
		Audio: config.ProviderEntry{Name: "mock"},
	}}

	ps, closers, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.STT == nil || ps.LLM == nil || ps.Audio == nil {
		t.Fatalf("providers = %+v", ps)
	}
	if len(closers) != 0 {
		t.Errorf("closers = %d, want 0", len(closers))
	}
	if gotLLM.Model != "llama3" {
		t.Errorf("llm entry = %+v", gotLLM)
	}

	cfg.Providers.Audio.Name = "missing"
	if _, _, err := buildProviders(cfg, reg); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	for kind, want := range map[string][]string{
		"stt":   config.ValidProviderNames["stt"],
		"llm":   config.ValidProviderNames["llm"],
		"audio": config.ValidProviderNames["audio"],
	} {
		got := reg.Names(kind)
		for _, name := range want {
			found := false
			for _, g := range got {
				if g == name {
					found = true
				}
			}
			if !found {
				t.Errorf("%s provider %q is not registered (have %v)", kind, name, got)
			}
		}
	}
}

func TestOptionHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{
		"device":         "USB Microphone",
		"queue_size":     64,
		"chunk_duration": "250ms",
		"timeout":        "soon",
	}
	if got := optString(opts, "device"); got != "USB Microphone" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "queue_size"); got != "" {
		t.Errorf("optString on an int = %q", got)
	}
	if got := optString(nil, "device"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
	if got := optInt(opts, "queue_size"); got != 64 {
		t.Errorf("optInt = %d", got)
	}
	if got := optDuration(opts, "chunk_duration"); got != 250*time.Millisecond {
		t.Errorf("optDuration = %v", got)
	}
	if got := optDuration(opts, "timeout"); got != 0 {
		t.Errorf("optDuration of invalid value = %v", got)
	}
}

func TestPrintStartupSummary(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080"},
		Providers: config.ProvidersConfig{
			STT:   config.ProviderEntry{Name: "openai", Model: "whisper-1"},
			LLM:   config.ProviderEntry{Name: "gemini"},
			Audio: config.ProviderEntry{Name: "portaudio"},
		},
		Console: config.ConsoleConfig{Enabled: true},
	}
	var sb strings.Builder
	printStartupSummary(&sb, cfg)
	out := sb.String()
	for _, want := range []string{"openai / whisper-1", "gemini", "portaudio", ":8080", "enabled"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestProviderCheckers(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Providers: config.ProvidersConfig{
		STT: config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8081"},
		LLM: config.ProviderEntry{Name: "gemini"},
	}}
	got := providerCheckers(cfg)
	if len(got) != 1 || got[0].Name != "whisper-server" {
		t.Errorf("checkers = %+v", got)
	}
}
