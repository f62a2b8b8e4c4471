package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/medscribe/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "openai", Model: "whisper-1", APIKey: "sk-1"},
			LLM: config.ProviderEntry{Name: "gemini", APIKey: "g-1", Options: map[string]any{"region": "eu"}},
		},
		Vocabulary: config.VocabularyConfig{Terms: []string{"Metformin"}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLog     bool
		wantVocab   bool
		wantRestart []string
	}{
		{name: "identical", mutate: func(*config.Config) {}},
		{
			name:    "log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLog: true,
		},
		{
			name:      "terms added",
			mutate:    func(c *config.Config) { c.Vocabulary.Terms = append(c.Vocabulary.Terms, "Lisinopril") },
			wantVocab: true,
		},
		{
			name:      "threshold",
			mutate:    func(c *config.Config) { c.Vocabulary.FuzzyThreshold = 0.9 },
			wantVocab: true,
		},
		{
			name:        "provider key",
			mutate:      func(c *config.Config) { c.Providers.STT.APIKey = "sk-2" },
			wantRestart: []string{"providers"},
		},
		{
			name:        "provider option",
			mutate:      func(c *config.Config) { c.Providers.LLM.Options = map[string]any{"region": "us"} },
			wantRestart: []string{"providers"},
		},
		{
			name: "pipeline and server",
			mutate: func(c *config.Config) {
				c.Pipeline.TranscribeTimeout = time.Minute
				c.Server.ListenAddr = ":9090"
			},
			wantRestart: []string{"pipeline", "server"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, updated := baseConfig(), baseConfig()
			tt.mutate(updated)

			d := config.Diff(old, updated)
			if d.LogLevelChanged != tt.wantLog {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tt.wantLog)
			}
			if tt.wantLog && d.NewLogLevel != updated.Server.LogLevel {
				t.Errorf("NewLogLevel = %q", d.NewLogLevel)
			}
			if d.VocabularyChanged != tt.wantVocab {
				t.Errorf("VocabularyChanged = %v, want %v", d.VocabularyChanged, tt.wantVocab)
			}
			if tt.wantVocab && !slices.Equal(d.NewVocabulary.Terms, updated.Vocabulary.Terms) {
				t.Errorf("NewVocabulary = %+v", d.NewVocabulary)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
			wantChanged := tt.wantLog || tt.wantVocab || len(tt.wantRestart) > 0
			if d.Changed() != wantChanged {
				t.Errorf("Changed() = %v, want %v", d.Changed(), wantChanged)
			}
		})
	}
}
