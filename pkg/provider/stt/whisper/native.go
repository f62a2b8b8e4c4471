// In-process transcription through the whisper.cpp CGO bindings. Building
// this file needs libwhisper.a and whisper.h on LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/medscribe/pkg/audio"
	"github.com/MrWong99/medscribe/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs a whisper.cpp model inside the process, so recordings
// never leave the machine. The model is shared; each request gets its own
// decoding context and requests run one at a time.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint

	mu sync.Mutex
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language used when a request has none
// ("auto" lets the model detect it). The default is "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithThreads caps the CPU threads used for decoding. Zero keeps the
// library default.
func WithThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative loads the ggml model at modelPath. Close releases it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Transcribe implements stt.Provider. Keywords become the decoder's initial
// prompt. Cancelling ctx aborts before the next encoder pass; a pass already
// running finishes first.
func (p *NativeProvider) Transcribe(ctx context.Context, payload *audio.Payload, opts stt.Options) (*stt.Transcript, error) {
	pcm := payload.PCM()
	if pcm == nil {
		return nil, ErrReleased
	}
	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	f := payload.Format()
	samples := audio.Float32(audio.ResampleMono16(audio.DownmixMono(pcm, f.Channels), f.SampleRate, whisperlib.SampleRate))

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	segments, err := p.decode(ctx, samples, lang, stt.KeywordPrompt(opts.Keywords))
	if err != nil {
		return nil, err
	}
	return &stt.Transcript{
		Text:     cleanText(strings.Join(segments, " ")),
		Language: lang,
		Duration: payload.Duration(),
	}, nil
}

// decode runs one inference and returns the non-empty segment texts.
func (p *NativeProvider) decode(ctx context.Context, samples []float32, lang, prompt string) ([]string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: unsupported language, keeping model default", "language", lang, "err", err)
	}
	wctx.SetTranslate(false)
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	keepGoing := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, keepGoing, nil, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("whisper: %w", ctxErr)
		}
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	var out []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			out = append(out, text)
		}
	}
}
