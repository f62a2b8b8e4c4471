// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider wraps a batch transcription service (OpenAI Whisper, a local
// whisper.cpp server or model, Deepgram pre-recorded) and turns one finished
// recording into plain text. Audio is always handed over complete; nothing
// here streams.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/medscribe/pkg/audio"
)

// Options carries per-request recognition hints.
type Options struct {
	// Language is the BCP-47 / ISO-639-1 language of the recording (e.g. "en").
	// Empty lets the provider auto-detect, if supported.
	Language string

	// Keywords are vocabulary hints (drug names, conditions) that raise the
	// recognition probability of uncommon terms. Providers without hint
	// support ignore them.
	Keywords []KeywordBoost
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe sends the payload to the service and returns the recognised
	// text. The payload must not be modified. Errors cover transport, auth
	// and format failures alike; callers must not retry blindly.
	Transcribe(ctx context.Context, payload *audio.Payload, opts Options) (*Transcript, error)
}
