package pipeline

import (
	"sync"
	"time"
)

// EventKind identifies what an [Event] carries.
type EventKind string

const (
	// KindReset tells sinks to clear the previous transcript and note. It
	// opens every session.
	KindReset EventKind = "reset"

	// KindStatus carries a [Status] and its display text.
	KindStatus EventKind = "status"

	// KindTranscript carries the (corrected) transcript text.
	KindTranscript EventKind = "transcript"

	// KindNote carries the generated clinical note.
	KindNote EventKind = "note"

	// KindError carries the failure detail, naming the stage that failed.
	KindError EventKind = "error"
)

// Status is a stable machine-readable status code.
type Status string

const (
	StatusReady        Status = "ready"
	StatusRecording    Status = "recording"
	StatusProcessing   Status = "processing"
	StatusTranscribing Status = "transcribing"
	StatusSummarizing  Status = "summarizing"
	StatusComplete     Status = "complete"
	StatusNoAudio      Status = "no_audio"
	StatusNoSpeech     Status = "no_speech"
	StatusError        Status = "error"
)

var statusText = map[Status]string{
	StatusReady:        "Ready to record. Press 'Start' to begin.",
	StatusRecording:    "Recording audio...",
	StatusProcessing:   "Recording stopped. Processing...",
	StatusTranscribing: "Transcribing audio...",
	StatusSummarizing:  "Generating clinical summary...",
	StatusComplete:     "Processing complete. Ready.",
	StatusNoAudio:      "No audio recorded. Ready.",
	StatusNoSpeech:     "No speech detected. Ready.",
	StatusError:        "An error occurred. Please try again.",
}

// Text returns the human-readable status line.
func (s Status) Text() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return string(s)
}

// Event is one presentation update. Events of all sessions form a single
// ordered stream; Seq increases by one per event.
type Event struct {
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id"`
	Kind      EventKind `json:"kind"`
	Status    Status    `json:"status,omitempty"`
	Stage     Stage     `json:"stage,omitempty"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
}

// Sink receives events. Publish is called from a single dispatcher
// goroutine, never from the session worker, so implementations only need
// to guard state they share with other goroutines.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

// Sinks fans an event out to several sinks in order.
type Sinks []Sink

// Publish forwards e to every sink.
func (s Sinks) Publish(e Event) {
	for _, sink := range s {
		sink.Publish(e)
	}
}

// dispatcher hands events from producers to the sink on its own goroutine.
// The queue is unbounded so a slow sink never stalls capture or processing;
// sessions produce a handful of events each.
type dispatcher struct {
	sink Sink

	mu     sync.Mutex
	queue  []Event
	seq    uint64
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newDispatcher(sink Sink) *dispatcher {
	d := &dispatcher{
		sink: sink,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

// push stamps e with the next sequence number and queues it. Events pushed
// after close are dropped.
func (d *dispatcher) push(e Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.seq++
	e.Seq = d.seq
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	d.queue = append(d.queue, e)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for _, e := range batch {
			d.sink.Publish(e)
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-d.wake
		}
	}
}

// close delivers everything already queued, then stops the goroutine.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}
