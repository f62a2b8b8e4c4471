package audio

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptySession is returned by [Buffer.Finalize] when no audio was
	// appended. It is an outcome, not a failure.
	ErrEmptySession = errors.New("audio: no audio captured")

	// ErrFinalized is returned when a buffer is used after Finalize.
	ErrFinalized = errors.New("audio: buffer already finalized")
)

// Buffer accumulates the chunks of one recording session and produces a
// single [Payload] when the session ends.
//
// A Buffer is owned by a single goroutine; it does no locking.
type Buffer struct {
	format    Format
	chunks    [][]byte
	size      int
	finalized bool
}

// NewBuffer returns an empty buffer accepting chunks in format f.
func NewBuffer(f Format) *Buffer {
	return &Buffer{format: f}
}

// Format returns the format every appended chunk must have.
func (b *Buffer) Format() Format { return b.format }

// Append adds c to the end of the buffer. Chunks are kept in the order they
// were appended. Empty chunks are ignored.
func (b *Buffer) Append(c Chunk) error {
	if b.finalized {
		return ErrFinalized
	}
	if c.Format != b.format {
		return fmt.Errorf("audio: append: chunk format %s, buffer expects %s", c.Format, b.format)
	}
	if len(c.Data)%b.format.FrameSize() != 0 {
		return fmt.Errorf("audio: append: %d bytes is not a whole number of %s frames", len(c.Data), b.format)
	}
	if len(c.Data) == 0 {
		return nil
	}
	b.chunks = append(b.chunks, c.Data)
	b.size += len(c.Data)
	return nil
}

// Chunks returns how many non-empty chunks have been appended.
func (b *Buffer) Chunks() int { return len(b.chunks) }

// Len returns the number of PCM bytes held.
func (b *Buffer) Len() int { return b.size }

// Duration returns the total audio duration held.
func (b *Buffer) Duration() time.Duration { return b.format.Duration(b.size) }

// Finalize concatenates all chunks into a WAV [Payload] and seals the buffer.
// It returns [ErrEmptySession] when nothing was captured and [ErrFinalized]
// on a second call. The chunk storage is dropped either way.
func (b *Buffer) Finalize() (*Payload, error) {
	if b.finalized {
		return nil, ErrFinalized
	}
	b.finalized = true
	defer func() { b.chunks = nil }()

	if b.size == 0 {
		return nil, ErrEmptySession
	}
	pcm := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		pcm = append(pcm, c...)
	}
	return newPayload(pcm, b.format), nil
}
