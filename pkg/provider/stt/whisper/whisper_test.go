package whisper_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/medscribe/pkg/audio"
	"github.com/MrWong99/medscribe/pkg/provider/stt"
	"github.com/MrWong99/medscribe/pkg/provider/stt/whisper"
)

// inferenceRequest captures what the mock server received.
type inferenceRequest struct {
	fields map[string]string
	wav    []byte
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing the provided responseText. Every parsed request is
// appended to *got.
func newMockServer(t *testing.T, responseText string, got *[]inferenceRequest, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req := inferenceRequest{fields: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			req.fields[k] = v[0]
		}
		if f, _, err := r.FormFile("file"); err == nil {
			req.wav, _ = io.ReadAll(f)
			f.Close()
		}
		if got != nil {
			mu.Lock()
			*got = append(*got, req)
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeSpeechPayload generates a 440 Hz sine payload of the given length.
func makeSpeechPayload(d time.Duration) *audio.Payload {
	samples := int(d.Seconds() * 16000)
	pcm := make([]byte, samples*2)
	for i := range samples {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return audio.NewPayload(pcm, audio.Mono16k)
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestTranscribe_SendsWAVAndFields(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []inferenceRequest
	)
	srv := newMockServer(t, "  patient reports headache \n", &got, &mu)

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("small.en"), whisper.WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload := makeSpeechPayload(500 * time.Millisecond)

	tr, err := p.Transcribe(context.Background(), payload, stt.Options{
		Language: "en",
		Keywords: []stt.KeywordBoost{{Keyword: "ibuprofen"}, {Keyword: "migraine"}},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "patient reports headache" {
		t.Errorf("text: got %q", tr.Text)
	}
	if tr.Language != "en" {
		t.Errorf("language: got %q, want request language to win over default", tr.Language)
	}
	if tr.Duration != 500*time.Millisecond {
		t.Errorf("duration: got %v, want 500ms", tr.Duration)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("requests: got %d, want 1", len(got))
	}
	req := got[0]
	if !bytes.Equal(req.wav, payload.WAV()) {
		t.Error("uploaded file differs from the payload WAV")
	}
	if req.fields["model"] != "small.en" {
		t.Errorf("model field: got %q", req.fields["model"])
	}
	if req.fields["language"] != "en" {
		t.Errorf("language field: got %q", req.fields["language"])
	}
	if req.fields["prompt"] != "ibuprofen, migraine" {
		t.Errorf("prompt field: got %q", req.fields["prompt"])
	}
}

func TestTranscribe_BlankAudioMarker(t *testing.T) {
	t.Parallel()

	srv := newMockServer(t, " [BLANK_AUDIO]", nil, nil)
	p, _ := whisper.New(srv.URL)
	tr, err := p.Transcribe(context.Background(), makeSpeechPayload(100*time.Millisecond), stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" {
		t.Errorf("text: got %q, want empty", tr.Text)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), makeSpeechPayload(100*time.Millisecond), stt.Options{})
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error should mention status code: %v", err)
	}
}

func TestTranscribe_ErrorField(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"failed to read WAV file"}`))
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), makeSpeechPayload(100*time.Millisecond), stt.Options{})
	if err == nil || !strings.Contains(err.Error(), "failed to read WAV file") {
		t.Errorf("got %v, want server error message", err)
	}
}

func TestTranscribe_ReleasedPayload(t *testing.T) {
	t.Parallel()

	p, _ := whisper.New("http://127.0.0.1:1")
	payload := makeSpeechPayload(100 * time.Millisecond)
	payload.Release()
	if _, err := p.Transcribe(context.Background(), payload, stt.Options{}); err == nil {
		t.Fatal("expected error for released payload")
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Transcribe(ctx, makeSpeechPayload(100*time.Millisecond), stt.Options{}); err == nil {
		t.Fatal("expected error after context deadline")
	}
}
