// Package note turns a consultation transcript into a structured clinical
// note by sending it to an LLM with a fixed SOAP-note instruction.
//
// The instruction is compiled into the binary. It is deliberately not part of
// the configuration file, so it cannot change while the process runs.
package note

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/medscribe/pkg/provider/llm"
)

// soapTemplate wraps the transcript; %s is replaced with the transcript text.
const soapTemplate = `Summarize the following patient consultation into a structured clinical SOAP note.
Ensure the output is professional, accurate, and ready for an Electronic Health Record.
Transcript:
---
%s
---`

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 2048
)

var (
	// ErrEmptyTranscript is returned when there is nothing to summarize.
	ErrEmptyTranscript = errors.New("note: transcript is empty")

	// ErrTranscriptTooLong is returned when the prompt would not fit the
	// model's context window.
	ErrTranscriptTooLong = errors.New("note: transcript exceeds the model context window")

	// ErrEmptyNote is returned when the model answered with no text.
	ErrEmptyNote = errors.New("note: model returned an empty note")
)

// Summarizer produces a clinical note from a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Prompt returns the exact text sent to the model for transcript.
func Prompt(transcript string) string {
	return fmt.Sprintf(soapTemplate, transcript)
}

// Option configures an [LLMSummarizer].
type Option func(*LLMSummarizer)

// WithTemperature overrides the sampling temperature (default 0.3).
func WithTemperature(t float64) Option {
	return func(s *LLMSummarizer) { s.temperature = t }
}

// WithMaxTokens caps the note length in tokens (default 2048). It is clamped
// to the model's maximum output.
func WithMaxTokens(n int) Option {
	return func(s *LLMSummarizer) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// LLMSummarizer implements [Summarizer] with an [llm.Provider].
type LLMSummarizer struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

var _ Summarizer = (*LLMSummarizer)(nil)

// NewLLMSummarizer creates a new [LLMSummarizer] backed by the given provider.
func NewLLMSummarizer(provider llm.Provider, opts ...Option) *LLMSummarizer {
	s := &LLMSummarizer{
		llm:         provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Summarize embeds transcript in the SOAP template and returns the model's
// answer. It makes exactly one request and never retries.
func (s *LLMSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", ErrEmptyTranscript
	}

	prompt := Prompt(transcript)
	maxTokens := s.maxTokens

	caps := s.llm.Capabilities()
	if caps.MaxOutputTokens > 0 && maxTokens > caps.MaxOutputTokens {
		maxTokens = caps.MaxOutputTokens
	}
	if caps.ContextWindow > 0 && llm.EstimateTokens(prompt)+maxTokens > caps.ContextWindow {
		return "", fmt.Errorf("%w: ~%d prompt tokens, window %d", ErrTranscriptTooLong, llm.EstimateTokens(prompt), caps.ContextWindow)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: s.temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("note: summarize: %w", err)
	}

	// Providers report unusable finishes themselves; thin adapters may
	// only set the reason.
	if err := llm.CheckFinish(resp.FinishReason); err != nil {
		return "", fmt.Errorf("note: summarize (max_tokens %d): %w", maxTokens, err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", ErrEmptyNote
	}
	return text, nil
}
