package deepgram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/MrWong99/medscribe/pkg/audio"
	"github.com/MrWong99/medscribe/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.Options{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "host", "api.deepgram.com", u.Host)
	assertEqual(t, "model", "nova-3-medical", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "smart_format", "true", q.Get("smart_format"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
}

func TestBuildURL_Keywords(t *testing.T) {
	kws := []stt.KeywordBoost{{Keyword: "metoprolol", Boost: 2}, {Keyword: "angina"}}

	t.Run("nova-3 uses keyterm", func(t *testing.T) {
		p, _ := New("key")
		rawURL, _ := p.buildURL(stt.Options{Keywords: kws, Language: "en-GB"})
		u, _ := url.Parse(rawURL)
		q := u.Query()
		assertEqual(t, "language", "en-GB", q.Get("language"))
		got := q["keyterm"]
		if len(got) != 2 || got[0] != "metoprolol" || got[1] != "angina" {
			t.Errorf("keyterm: got %v", got)
		}
		if len(q["keywords"]) != 0 {
			t.Errorf("keywords should be absent for nova-3, got %v", q["keywords"])
		}
	})

	t.Run("older models use boosted keywords", func(t *testing.T) {
		p, _ := New("key", WithModel("nova-2"), WithLanguage("de"))
		rawURL, _ := p.buildURL(stt.Options{Keywords: kws})
		u, _ := url.Parse(rawURL)
		q := u.Query()
		assertEqual(t, "language", "de", q.Get("language"))
		got := q["keywords"]
		if len(got) != 2 || got[0] != "metoprolol:2" || got[1] != "angina" {
			t.Errorf("keywords: got %v", got)
		}
	})
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// ---- HTTP round trip ----

func TestTranscribe(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 16000) // 500 ms of silence
	payload := audio.NewPayload(pcm, audio.Mono16k)

	type captured struct {
		auth, contentType string
		body              []byte
	}
	reqs := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqs <- captured{auth: r.Header.Get("Authorization"), contentType: r.Header.Get("Content-Type"), body: body}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"metadata": {"duration": 0.5},
			"results": {"channels": [{
				"detected_language": "en",
				"alternatives": [{"transcript": " Patient reports headache. ", "confidence": 0.93}]
			}]}
		}`))
	}))
	defer srv.Close()

	p, _ := New("secret", WithEndpoint(srv.URL+"/v1/listen"))
	tr, err := p.Transcribe(context.Background(), payload, stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	got := <-reqs
	assertEqual(t, "auth header", "Token secret", got.auth)
	assertEqual(t, "content type", "audio/wav", got.contentType)
	if len(got.body) != len(payload.WAV()) {
		t.Errorf("body: got %d bytes, want %d", len(got.body), len(payload.WAV()))
	}
	assertEqual(t, "text", "Patient reports headache.", tr.Text)
	assertEqual(t, "language", "en", tr.Language)
	if tr.Confidence != 0.93 {
		t.Errorf("confidence: got %v, want 0.93", tr.Confidence)
	}
	if tr.Duration != 500*time.Millisecond {
		t.Errorf("duration: got %v, want 500ms", tr.Duration)
	}
}

func TestTranscribe_Unauthorized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"err_code":"INVALID_AUTH"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("bad", WithEndpoint(srv.URL))
	_, err := p.Transcribe(context.Background(), audio.NewPayload(make([]byte, 320), audio.Mono16k), stt.Options{})
	if err == nil {
		t.Fatal("expected error for HTTP 401")
	}
}

func TestTranscribe_NoChannels(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer srv.Close()

	p, _ := New("k", WithEndpoint(srv.URL))
	tr, err := p.Transcribe(context.Background(), audio.NewPayload(make([]byte, 320), audio.Mono16k), stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" {
		t.Errorf("text: got %q, want empty", tr.Text)
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
