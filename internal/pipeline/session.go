package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/MrWong99/medscribe/internal/transcript"
	"github.com/MrWong99/medscribe/pkg/audio"
)

// Session is one record→transcribe→summarize attempt. The worker goroutine
// owns every field except stopRequested, which the input side sets.
type Session struct {
	// ID is a time-ordered UUIDv7.
	ID        string
	StartedAt time.Time

	capture audio.Capture
	buffer  *audio.Buffer
	payload *audio.Payload

	transcript  string
	corrections []transcript.Correction
	note        string
	empty       bool
	silent      bool

	stopRequested atomic.Bool
	done          chan struct{}
}

func newSession(id string, format audio.Format) *Session {
	return &Session{
		ID:        id,
		StartedAt: time.Now(),
		buffer:    audio.NewBuffer(format),
		done:      make(chan struct{}),
	}
}

// discardAudio releases the payload and drops every reference to captured
// audio. It runs on every exit from processing.
func (s *Session) discardAudio() {
	if s.payload != nil {
		s.payload.Release()
		s.payload = nil
	}
	if s.buffer != nil {
		// Finalize nils the chunk list even when it fails.
		_, _ = s.buffer.Finalize()
		s.buffer = nil
	}
}

// Info is a read-only view of the active session.
type Info struct {
	ID        string    `json:"id,omitempty"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at,omitzero"`
}
