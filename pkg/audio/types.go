package audio

import (
	"fmt"
	"time"
)

// bytesPerSample is fixed: the whole pipeline carries signed 16-bit
// little-endian PCM.
const bytesPerSample = 2

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono16k is the capture format the transcription services expect.
var Mono16k = Format{SampleRate: 16000, Channels: 1}

// FrameSize returns the number of bytes in one sample frame (all channels).
func (f Format) FrameSize() int { return f.Channels * bytesPerSample }

// BytesPerSecond returns the PCM byte rate of the format.
func (f Format) BytesPerSecond() int { return f.SampleRate * f.FrameSize() }

// Duration returns the playback duration of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Valid reports whether the format can describe 16-bit PCM.
func (f Format) Valid() bool { return f.SampleRate > 0 && f.Channels > 0 }

func (f Format) String() string { return formatString(f.SampleRate, f.Channels) }

// Chunk is one driver-delivered block of PCM. A chunk is immutable once
// produced: the producer hands over Data and never touches it again.
type Chunk struct {
	// Data is signed 16-bit little-endian PCM, interleaved if multi-channel.
	Data []byte

	Format Format

	// Timestamp marks when the chunk was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the chunk.
func (c Chunk) Duration() time.Duration { return c.Format.Duration(len(c.Data)) }

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
