package anyllm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/medscribe/pkg/provider/llm"
)

func TestParams(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gemini-2.5-flash"}

	full := p.params(llm.CompletionRequest{
		SystemPrompt: "You are a medical scribe.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Summarize."}},
		Temperature:  0.3,
		MaxTokens:    2048,
	})
	if full.Model != "gemini-2.5-flash" || len(full.Messages) != 2 {
		t.Fatalf("params = %+v", full)
	}
	if full.Messages[0].Role != anyllmlib.RoleSystem || full.Messages[1].ContentString() != "Summarize." {
		t.Errorf("messages = %+v", full.Messages)
	}
	if full.Temperature == nil || *full.Temperature != 0.3 || full.MaxTokens == nil || *full.MaxTokens != 2048 {
		t.Errorf("sampling = %v / %v", full.Temperature, full.MaxTokens)
	}

	bare := p.params(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if bare.Temperature != nil || bare.MaxTokens != nil {
		t.Error("zero sampling values should be left to the backend")
	}
	if len(bare.Messages) != 1 {
		t.Errorf("messages = %d, want 1 without a system prompt", len(bare.Messages))
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
		wantErr string
	}{
		{name: "empty backend", model: "m", wantErr: "backend must not be empty"},
		{name: "empty model", backend: "openai", wantErr: "model must not be empty"},
		{name: "unknown backend", backend: "fakecloud", model: "m", wantErr: "gemini"},
		{name: "case insensitive", backend: "Mistral", model: "mistral-large-latest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, anyllmlib.WithAPIKey("dummy"))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want it to mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.name != strings.ToLower(tt.backend) {
				t.Errorf("name = %q", p.name)
			}
		})
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestBackends(t *testing.T) {
	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends not sorted: %v", got)
	}
	for _, want := range []string{"anthropic", "gemini", "llamacpp", "ollama"} {
		if !slices.Contains(got, want) {
			t.Errorf("Backends missing %q", want)
		}
	}
}

func TestNewGemini_DefaultModel(t *testing.T) {
	p, err := NewGemini("", anyllmlib.WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}
	if p.model != DefaultGeminiModel {
		t.Errorf("model = %q, want %q", p.model, DefaultGeminiModel)
	}
	if got := p.Capabilities(); got != llm.LookupCapabilities(DefaultGeminiModel) {
		t.Errorf("Capabilities = %+v", got)
	}
}

func TestNewOllama_NoAPIKey(t *testing.T) {
	if _, err := NewOllama("llama3"); err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
}

// llamaServer mimics the OpenAI-compatible endpoint of llama.cpp's server,
// echoing the last message back with the given finish reason.
func llamaServer(t *testing.T, finish string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		reply := ""
		if n := len(body.Messages); n > 0 {
			reply = "echo: " + body.Messages[n-1].Content
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "local",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": finish,
			}},
			"usage": map[string]any{"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete_LlamaCpp(t *testing.T) {
	tests := []struct {
		finish  string
		wantErr error
	}{
		{finish: "stop"},
		{finish: "length", wantErr: llm.ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.finish, func(t *testing.T) {
			srv := llamaServer(t, tt.finish)
			p, err := New("llamacpp", "local", anyllmlib.WithBaseURL(srv.URL), anyllmlib.WithAPIKey("none"))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			resp, err := p.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "transcript"}},
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if resp.Content != "echo: transcript" {
				t.Errorf("content = %q", resp.Content)
			}
			if resp.Usage.TotalTokens != 10 {
				t.Errorf("usage = %+v", resp.Usage)
			}
		})
	}
}
