package pipeline

// State is the orchestrator's position in the session lifecycle.
//
//	Idle → Recording → Transcribing → Summarizing → Idle
//	           ↘            ↘              ↘
//	                       Failed → Idle
type State int

const (
	// StateIdle means no session exists; Start is accepted.
	StateIdle State = iota

	// StateRecording means the microphone is open and chunks accumulate.
	StateRecording

	// StateTranscribing is the first processing stage.
	StateTranscribing

	// StateSummarizing is the second processing stage.
	StateSummarizing

	// StateFailed is transient: failure events are published, then the
	// orchestrator returns to Idle.
	StateFailed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateTranscribing:
		return "transcribing"
	case StateSummarizing:
		return "summarizing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Processing reports whether s is one of the processing stages.
func (s State) Processing() bool {
	return s == StateTranscribing || s == StateSummarizing
}

// MarshalText implements encoding.TextMarshaler so states render as names
// in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
