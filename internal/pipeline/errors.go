package pipeline

import (
	"errors"
	"fmt"
)

// Session failure kinds. A [*StageError] matches exactly one of them.
var (
	// ErrDevice means the microphone was unavailable, denied, or failed
	// while recording.
	ErrDevice = errors.New("audio device error")

	// ErrService means the transcription or summarization service failed.
	ErrService = errors.New("service error")

	// ErrAborted means the session was cut short by shutdown while
	// recording.
	ErrAborted = errors.New("session aborted")
)

// Errors returned directly to the input source.
var (
	// ErrBusy is returned by Start while a session is recording or
	// processing.
	ErrBusy = errors.New("pipeline: a session is already in progress")

	// ErrNotRecording is returned by Stop when there is nothing to stop.
	ErrNotRecording = errors.New("pipeline: not recording")

	// ErrClosed is returned after [Orchestrator.Close].
	ErrClosed = errors.New("pipeline: orchestrator closed")
)

// Stage names the part of the pipeline that failed.
type Stage string

const (
	StageCapture    Stage = "capture"
	StageTranscribe Stage = "transcription"
	StageSummarize  Stage = "summarization"
)

// StageError is a session failure. It unwraps to both Kind and Err, so
// errors.Is matches the failure kind as well as the underlying cause.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the failure kind and the cause.
func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
