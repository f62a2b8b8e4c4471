// Package mock provides test doubles for the stt package interfaces.
//
// Example:
//
//	p := &mock.Provider{Result: &stt.Transcript{Text: "patient reports headache"}}
//	tr, _ := p.Transcribe(ctx, payload, stt.Options{})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/medscribe/pkg/audio"
	"github.com/MrWong99/medscribe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Payload is the pointer that was passed in. Tests can check it is
	// released after the pipeline finishes.
	Payload *audio.Payload

	// WAV is a copy of the container bytes taken at call time.
	WAV []byte

	// Duration is the payload duration at call time.
	Duration time.Duration

	// Opts are the recognition options passed to Transcribe.
	Opts stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil. A nil Result yields
	// an empty transcript.
	Result *stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Gate, if non-nil, makes Transcribe wait until the channel is closed (or
	// receives) or ctx ends. Lets tests hold the pipeline mid-stage.
	Gate chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(ctx context.Context, payload *audio.Payload, opts stt.Options) (*stt.Transcript, error) {
	p.mu.Lock()
	call := TranscribeCall{Payload: payload, Opts: opts}
	if payload != nil {
		call.WAV = append([]byte(nil), payload.WAV()...)
		call.Duration = payload.Duration()
	}
	p.Calls = append(p.Calls, call)
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result == nil {
		return &stt.Transcript{}, nil
	}
	out := *p.Result
	return &out, nil
}

// CallCount returns how many times Transcribe was called. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
