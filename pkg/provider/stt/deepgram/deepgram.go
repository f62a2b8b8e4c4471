// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// pre-recorded REST API. It implements the stt.Provider interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/medscribe/pkg/audio"
	"github.com/MrWong99/medscribe/pkg/provider/stt"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3-medical"
	defaultLanguage  = "en"
	defaultTimeout   = 5 * time.Minute
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3-medical", "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the listen endpoint. Used by tests and for
// self-hosted Deepgram deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by the Deepgram pre-recorded API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	endpoint   string
	httpClient *http.Client
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads the WAV payload and returns the first alternative of the
// first channel.
func (p *Provider) Transcribe(ctx context.Context, payload *audio.Payload, opts stt.Options) (*stt.Transcript, error) {
	wav := payload.WAV()
	if wav == nil {
		return nil, errors.New("deepgram: payload has been released")
	}

	endpoint, err := p.buildURL(opts)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(wav))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var result listenResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("deepgram: parse JSON response: %w", err)
	}

	tr := &stt.Transcript{Duration: payload.Duration()}
	if result.Metadata.Duration > 0 {
		tr.Duration = time.Duration(result.Metadata.Duration * float64(time.Second))
	}
	if len(result.Results.Channels) == 0 {
		return tr, nil
	}
	ch := result.Results.Channels[0]
	tr.Language = ch.DetectedLanguage
	if tr.Language == "" {
		tr.Language = languageOf(opts, p.language)
	}
	if len(ch.Alternatives) > 0 {
		tr.Text = strings.TrimSpace(ch.Alternatives[0].Transcript)
		tr.Confidence = ch.Alternatives[0].Confidence
	}
	return tr, nil
}

// buildURL constructs the listen endpoint URL for the given options.
func (p *Provider) buildURL(opts stt.Options) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", languageOf(opts, p.language))
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")

	// Nova-3 replaced boosted keywords with plain key terms.
	keyParam := "keywords"
	if strings.HasPrefix(p.model, "nova-3") {
		keyParam = "keyterm"
	}
	for _, kw := range opts.Keywords {
		val := kw.Keyword
		if keyParam == "keywords" && kw.Boost != 0 {
			val = fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost)
		}
		q.Add(keyParam, val)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func languageOf(opts stt.Options, fallback string) string {
	if opts.Language != "" {
		return opts.Language
	}
	return fallback
}

type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}
