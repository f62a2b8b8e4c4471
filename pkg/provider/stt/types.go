package stt

import "time"

// Transcript is the result of one transcription request.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language the provider detected or was told to use.
	// May be empty.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the provider
	// does not report confidence.
	Confidence float64

	// Duration is the length of the audio the provider processed.
	Duration time.Duration
}

// KeywordBoost represents a keyword to boost in STT recognition.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "metoprolol").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// KeywordPrompt joins keywords into the comma-separated hint string Whisper
// style "prompt" parameters accept.
func KeywordPrompt(keywords []KeywordBoost) string {
	if len(keywords) == 0 {
		return ""
	}
	var b []byte
	for i, k := range keywords {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, k.Keyword...)
	}
	return string(b)
}
