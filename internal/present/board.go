// Package present holds the presentation side of the scribe: sinks that
// render pipeline events (console, WebSocket clients), a board of the latest
// values for late joiners and the HTTP API, and the input sources that turn
// user actions into start and stop commands.
package present

import (
	"sync"

	"github.com/MrWong99/medscribe/internal/pipeline"
)

// Snapshot is the latest value of everything a screen shows.
type Snapshot struct {
	Seq        uint64          `json:"seq"`
	SessionID  string          `json:"session_id,omitempty"`
	Status     pipeline.Status `json:"status"`
	StatusText string          `json:"status_text"`
	Transcript string          `json:"transcript"`
	Note       string          `json:"note"`
	Error      string          `json:"error,omitempty"`
	Stage      pipeline.Stage  `json:"stage,omitempty"`
}

// Board is a [pipeline.Sink] that folds events into a [Snapshot].
type Board struct {
	mu   sync.RWMutex
	snap Snapshot
}

var _ pipeline.Sink = (*Board)(nil)

// NewBoard returns a board showing the ready status.
func NewBoard() *Board {
	return &Board{snap: Snapshot{
		Status:     pipeline.StatusReady,
		StatusText: pipeline.StatusReady.Text(),
	}}
}

// Publish applies e.
func (b *Board) Publish(e pipeline.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	apply(&b.snap, e)
}

// Snapshot returns a copy of the current values.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}

func apply(s *Snapshot, e pipeline.Event) {
	s.Seq = e.Seq
	s.SessionID = e.SessionID
	switch e.Kind {
	case pipeline.KindReset:
		s.Transcript, s.Note, s.Error, s.Stage = "", "", "", ""
	case pipeline.KindStatus:
		s.Status = e.Status
		s.StatusText = e.Text
	case pipeline.KindTranscript:
		s.Transcript = e.Text
	case pipeline.KindNote:
		s.Note = e.Text
	case pipeline.KindError:
		s.Error = e.Text
		s.Stage = e.Stage
	}
}
