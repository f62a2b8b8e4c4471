package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
)

// ErrNotWAV is returned by [DecodeWAV] for input that is not 16-bit PCM WAV.
var ErrNotWAV = errors.New("audio: not a 16-bit PCM WAV stream")

// Payload is the finalized audio of one session, serialised as a 16-bit PCM
// WAV container. It is created once and never mutated; [Payload.Release]
// drops the underlying storage so no audio outlives the session.
type Payload struct {
	format   Format
	duration time.Duration

	mu  sync.Mutex
	wav []byte
}

func newPayload(pcm []byte, f Format) *Payload {
	return &Payload{
		format:   f,
		duration: f.Duration(len(pcm)),
		wav:      EncodeWAV(pcm, f),
	}
}

// NewPayload wraps already-concatenated PCM. Mostly useful in tests and for
// callers that bypass [Buffer].
func NewPayload(pcm []byte, f Format) *Payload { return newPayload(pcm, f) }

// Format returns the PCM format inside the container.
func (p *Payload) Format() Format { return p.format }

// Duration returns the audio duration. It stays valid after Release.
func (p *Payload) Duration() time.Duration { return p.duration }

// WAV returns the complete WAV file bytes, or nil once released.
// Callers must not modify the returned slice.
func (p *Payload) WAV() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wav
}

// PCM returns the raw sample data without the container header, or nil once
// released.
func (p *Payload) PCM() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.wav) < wavHeaderSize {
		return nil
	}
	return p.wav[wavHeaderSize:]
}

// Release drops the audio data. It is idempotent.
func (p *Payload) Release() {
	p.mu.Lock()
	p.wav = nil
	p.mu.Unlock()
}

// Released reports whether Release has been called.
func (p *Payload) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wav == nil
}

// EncodeWAV wraps raw 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV reads a 16-bit PCM WAV stream and returns its sample data and
// format. Unknown chunks (LIST, fact, ...) between "fmt " and "data" are
// skipped.
func DecodeWAV(r io.Reader) ([]byte, Format, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var f Format
	var haveFmt bool
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, ErrNotWAV
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
			}
			if binary.LittleEndian.Uint16(body[0:2]) != 1 || binary.LittleEndian.Uint16(body[14:16]) != bitsPerSample {
				return nil, Format{}, ErrNotWAV
			}
			f = Format{
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
			}
			haveFmt = true
		case "data":
			if !haveFmt || !f.Valid() {
				return nil, Format{}, ErrNotWAV
			}
			// Recorders that never patch the header leave 0 or 0xFFFFFFFF.
			var pcm []byte
			var err error
			if size == 0 || size == 0xFFFFFFFF {
				pcm, err = io.ReadAll(r)
			} else {
				pcm, err = io.ReadAll(io.LimitReader(r, size))
			}
			if err != nil {
				return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
			}
			return pcm[:len(pcm)-len(pcm)%f.FrameSize()], f, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return nil, Format{}, fmt.Errorf("audio: decode wav: skip %q: %w", id, err)
			}
		}
	}
}
