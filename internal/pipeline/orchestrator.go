// Package pipeline implements the recording-session state machine: it opens
// the microphone on start, buffers chunks until stop, then transcribes and
// summarizes the recording on a dedicated worker and publishes every step to
// a presentation [Sink].
//
// At most one session exists at a time. Start while a session is recording
// or processing returns [ErrBusy]. Once processing has begun it runs to
// completion or failure; only [Orchestrator.Close] cancels it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/medscribe/internal/note"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/resilience"
	"github.com/MrWong99/medscribe/internal/transcript"
	"github.com/MrWong99/medscribe/pkg/audio"
	"github.com/MrWong99/medscribe/pkg/provider/stt"
)

const (
	defaultPollInterval      = 100 * time.Millisecond
	defaultTranscribeTimeout = 2 * time.Minute
	defaultSummarizeTimeout  = 2 * time.Minute
)

// Corrector rewrites misheard vocabulary in a transcript. Terms doubles as
// the recognition hint list sent to the transcription service.
type Corrector interface {
	Correct(text string) (string, []transcript.Correction)
	Terms() []string
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithSink sets the presentation sink. Default: events are discarded.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithFormat sets the capture format. Default: 16 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(o *Orchestrator) { o.format = f }
}

// WithPollInterval sets how often the capture loop checks for a stop
// request. Default: 100ms.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithTranscribeTimeout bounds the transcription call. Default: 2m.
func WithTranscribeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.transcribeTimeout = d
		}
	}
}

// WithSummarizeTimeout bounds the summarization call. Default: 2m.
func WithSummarizeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.summarizeTimeout = d
		}
	}
}

// WithLanguage sets the BCP-47 language hint for transcription.
func WithLanguage(lang string) Option {
	return func(o *Orchestrator) { o.language = lang }
}

// WithCorrector enables vocabulary correction between transcription and
// summarization.
func WithCorrector(c Corrector) Option {
	return func(o *Orchestrator) { o.corrector = c }
}

// WithBreakers guards the two services with circuit breakers. Either may be
// nil.
func WithBreakers(stt, llm *resilience.CircuitBreaker) Option {
	return func(o *Orchestrator) {
		o.sttBreaker = stt
		o.llmBreaker = llm
	}
}

// WithMetrics records pipeline metrics. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithProviderNames labels provider metrics. Default: "stt" and "llm".
func WithProviderNames(stt, llm string) Option {
	return func(o *Orchestrator) {
		o.sttName = stt
		o.llmName = llm
	}
}

// Orchestrator owns the session lifecycle. Start and Stop are safe to call
// from any goroutine.
type Orchestrator struct {
	device     audio.Device
	stt        stt.Provider
	summarizer note.Summarizer

	sink              Sink
	format            audio.Format
	pollInterval      time.Duration
	transcribeTimeout time.Duration
	summarizeTimeout  time.Duration
	language          string
	corrector         Corrector
	sttBreaker        *resilience.CircuitBreaker
	llmBreaker        *resilience.CircuitBreaker
	metrics           *observe.Metrics
	sttName, llmName  string

	events *dispatcher
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	active *Session
	closed bool
}

// New creates an [Orchestrator]. Call [Orchestrator.Close] to release it.
func New(device audio.Device, sttProvider stt.Provider, summarizer note.Summarizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		device:            device,
		stt:               sttProvider,
		summarizer:        summarizer,
		format:            audio.Mono16k,
		pollInterval:      defaultPollInterval,
		transcribeTimeout: defaultTranscribeTimeout,
		summarizeTimeout:  defaultSummarizeTimeout,
		sttName:           "stt",
		llmName:           "llm",
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sink == nil {
		o.sink = SinkFunc(func(Event) {})
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	o.events = newDispatcher(o.sink)
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Info describes the active session, if any.
func (o *Orchestrator) Info() Info {
	o.mu.Lock()
	defer o.mu.Unlock()
	info := Info{State: o.state}
	if o.active != nil {
		info.ID = o.active.ID
		info.StartedAt = o.active.StartedAt
	}
	return info
}

// Start opens the microphone and begins a new session, returning its ID.
//
// It returns [ErrBusy] unless the orchestrator is idle. When the device
// cannot be opened the failure is published like any other session failure
// and also returned as a [*StageError] matching [ErrDevice].
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("pipeline: session id: %w", err)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrClosed
	}
	if o.state != StateIdle {
		o.mu.Unlock()
		return "", ErrBusy
	}
	s := newSession(id.String(), o.format)
	o.state = StateRecording
	o.active = s
	o.mu.Unlock()

	// The session outlives the request that started it but keeps its trace
	// context, and ends with the orchestrator.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopOnClose := context.AfterFunc(o.ctx, cancel)
	sctx, span := observe.StartSpan(observe.WithSessionID(sctx, s.ID), "pipeline.session")
	log := observe.Logger(sctx)

	o.metrics.ActiveSessions.Add(sctx, 1)
	o.publish(s, Event{Kind: KindReset})

	capture, err := o.device.Open(sctx, o.format)
	if err != nil {
		serr := &StageError{Stage: StageCapture, Kind: ErrDevice, Err: err}
		log.Error("cannot open audio device", "err", err)
		o.finish(sctx, s, serr)
		observe.FailSpan(span, serr)
		span.End()
		stopOnClose()
		cancel()
		return "", serr
	}
	s.capture = capture
	o.publish(s, statusEvent(StatusRecording))

	log.Info("session started", "format", o.format.String())
	go func() {
		defer cancel()
		defer stopOnClose()
		defer span.End()
		o.run(sctx, s, log)
	}()
	return s.ID, nil
}

// Stop asks the active session to end recording. The worker notices within
// one poll interval. Stop returns [ErrNotRecording] when no session is
// recording; repeated calls before the worker reacts are harmless.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRecording || o.active == nil {
		return ErrNotRecording
	}
	o.active.stopRequested.Store(true)
	return nil
}

// Toggle starts a session when idle and stops it when recording, like a
// single record button.
func (o *Orchestrator) Toggle(ctx context.Context) error {
	if o.State() == StateRecording {
		return o.Stop()
	}
	_, err := o.Start(ctx)
	return err
}

// Wait blocks until the active session, if any, has finished.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	s := o.active
	o.mu.Unlock()
	if s == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any running session, waits for its worker, delivers the
// remaining events and stops the dispatcher. Further Start calls return
// [ErrClosed].
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	err := o.Wait(ctx)
	o.events.close()
	return err
}

// run is the session worker: capture loop, then the two processing stages.
func (o *Orchestrator) run(ctx context.Context, s *Session, log *slog.Logger) {
	if err := o.record(ctx, s); err != nil {
		log.Error("recording failed", "err", err)
		o.finish(ctx, s, err)
		return
	}
	o.publish(s, statusEvent(StatusProcessing))

	payload, err := s.buffer.Finalize()
	s.buffer = nil
	if errors.Is(err, audio.ErrEmptySession) {
		log.Info("session ended without audio")
		s.empty = true
		o.finish(ctx, s, nil)
		return
	}
	if err != nil {
		o.finish(ctx, s, &StageError{Stage: StageCapture, Kind: ErrDevice, Err: err})
		return
	}
	s.payload = payload
	o.metrics.RecordingDuration.Record(ctx, payload.Duration().Seconds())
	log.Info("recording finalized", "duration", payload.Duration())

	o.setState(StateTranscribing)
	o.publish(s, statusEvent(StatusTranscribing))
	text, err := o.transcribe(ctx, s)
	if err != nil {
		log.Error("transcription failed", "err", err)
		o.finish(ctx, s, err)
		return
	}
	if strings.TrimSpace(text) == "" {
		log.Info("transcript is blank, skipping summarization")
		s.silent = true
		o.finish(ctx, s, nil)
		return
	}
	s.transcript = text
	o.publish(s, Event{Kind: KindTranscript, Text: text})

	o.setState(StateSummarizing)
	o.publish(s, statusEvent(StatusSummarizing))
	n, err := o.summarize(ctx, s)
	if err != nil {
		log.Error("summarization failed", "err", err)
		o.finish(ctx, s, err)
		return
	}
	s.note = n
	o.publish(s, Event{Kind: KindNote, Text: n})

	log.Info("session complete", "transcript_chars", len(s.transcript), "note_chars", len(s.note))
	o.finish(ctx, s, nil)
}

// record runs the capture loop until a stop request, the end of the
// capture stream, or cancellation. The device is always closed and every
// chunk it already delivered is appended before record returns.
func (o *Orchestrator) record(ctx context.Context, s *Session) error {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	chunks := s.capture.Chunks()
	var appendErr error
	appendChunk := func(c audio.Chunk) {
		if appendErr == nil {
			appendErr = s.buffer.Append(c)
		}
	}

	aborted := false
loop:
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				break loop
			}
			appendChunk(c)
		case <-ticker.C:
			if s.stopRequested.Load() {
				break loop
			}
		case <-ctx.Done():
			aborted = true
			break loop
		}
	}

	closeErr := s.capture.Close()
	switch {
	case chunks == nil:
	case aborted:
		// The session is abandoned; only unblock the device.
		audio.Drain(chunks)
	default:
		for c := range chunks {
			appendChunk(c)
		}
	}
	captureErr := s.capture.Err()
	s.capture = nil

	switch {
	case aborted:
		return &StageError{Stage: StageCapture, Kind: ErrAborted, Err: ctx.Err()}
	case captureErr != nil:
		return &StageError{Stage: StageCapture, Kind: ErrDevice, Err: captureErr}
	case appendErr != nil:
		return &StageError{Stage: StageCapture, Kind: ErrDevice, Err: appendErr}
	case closeErr != nil:
		slog.Warn("closing audio device", "session_id", s.ID, "err", closeErr)
	}
	return nil
}

func (o *Orchestrator) transcribe(ctx context.Context, s *Session) (string, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe")
	defer span.End()

	opts := stt.Options{Language: o.language}
	if o.corrector != nil {
		for _, term := range o.corrector.Terms() {
			opts.Keywords = append(opts.Keywords, stt.KeywordBoost{Keyword: term})
		}
	}

	var tr *stt.Transcript
	start := time.Now()
	err := guard(ctx, o.sttBreaker, o.transcribeTimeout, func(ctx context.Context) error {
		var err error
		tr, err = o.stt.Transcribe(ctx, s.payload, opts)
		return err
	})
	o.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	o.recordProvider(ctx, o.sttName, observe.KindSTT, err)
	if err != nil {
		observe.FailSpan(span, err)
		return "", &StageError{Stage: StageTranscribe, Kind: ErrService, Err: err}
	}

	var text string
	if tr != nil {
		text = tr.Text
	}
	if o.corrector != nil {
		var corrections []transcript.Correction
		text, corrections = o.corrector.Correct(text)
		s.corrections = corrections
		if len(corrections) > 0 {
			o.metrics.VocabularyCorrections.Add(ctx, int64(len(corrections)))
			for _, c := range corrections {
				observe.Logger(ctx).Info("vocabulary correction",
					"original", c.Original, "corrected", c.Corrected, "confidence", c.Confidence)
			}
		}
	}
	span.SetAttributes(attribute.Int("transcript.chars", len(text)))
	return text, nil
}

func (o *Orchestrator) summarize(ctx context.Context, s *Session) (string, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.summarize")
	defer span.End()

	var out string
	start := time.Now()
	err := guard(ctx, o.llmBreaker, o.summarizeTimeout, func(ctx context.Context) error {
		var err error
		out, err = o.summarizer.Summarize(ctx, s.transcript)
		return err
	})
	o.metrics.SummarizationDuration.Record(ctx, time.Since(start).Seconds())
	o.recordProvider(ctx, o.llmName, observe.KindLLM, err)
	if err != nil {
		observe.FailSpan(span, err)
		return "", &StageError{Stage: StageSummarize, Kind: ErrService, Err: err}
	}
	return out, nil
}

// guard runs fn once with a timeout, through cb when it is set.
func guard(ctx context.Context, cb *resilience.CircuitBreaker, timeout time.Duration, fn func(context.Context) error) error {
	call := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(ctx)
	}
	if cb == nil {
		return call(ctx)
	}
	return cb.Execute(ctx, call)
}

func (o *Orchestrator) recordProvider(ctx context.Context, name, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		o.metrics.RecordProviderError(ctx, name, kind)
	}
	o.metrics.RecordProviderRequest(ctx, name, kind, status)
}

// finish is the single exit of every session: it discards the audio, then
// publishes the terminal events, and only then returns to Idle so a new
// session's events can never precede this one's.
func (o *Orchestrator) finish(ctx context.Context, s *Session, err error) {
	s.discardAudio()

	outcome := observe.OutcomeCompleted
	switch {
	case err != nil:
		outcome = observe.OutcomeFailed
		o.setState(StateFailed)
		var serr *StageError
		stage := Stage("")
		if errors.As(err, &serr) {
			stage = serr.Stage
		}
		o.publish(s, Event{Kind: KindError, Stage: stage, Text: err.Error()})
		o.publish(s, statusEvent(StatusError))
	case s.empty:
		outcome = observe.OutcomeNoAudio
		o.publish(s, statusEvent(StatusNoAudio))
	case s.silent:
		outcome = observe.OutcomeNoSpeech
		o.publish(s, statusEvent(StatusNoSpeech))
	default:
		o.publish(s, statusEvent(StatusComplete))
	}
	o.metrics.RecordSession(ctx, outcome)
	o.metrics.ActiveSessions.Add(ctx, -1)

	o.mu.Lock()
	o.state = StateIdle
	o.active = nil
	o.mu.Unlock()
	close(s.done)
}

func (o *Orchestrator) setState(st State) {
	o.mu.Lock()
	o.state = st
	o.mu.Unlock()
}

func (o *Orchestrator) publish(s *Session, e Event) {
	e.SessionID = s.ID
	o.events.push(e)
}

func statusEvent(st Status) Event {
	return Event{Kind: KindStatus, Status: st, Text: st.Text()}
}
