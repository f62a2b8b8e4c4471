// Package file provides an [audio.Device] that replays a WAV file as if it
// were a microphone. It backs headless demos and end-to-end tests where no
// sound hardware exists.
package file

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/medscribe/pkg/audio"
)

const defaultChunkDuration = 100 * time.Millisecond

// Option is a functional option for configuring a [Device].
type Option func(*Device)

// WithChunkDuration sets the length of each delivered chunk.
func WithChunkDuration(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.chunkDuration = d
		}
	}
}

// WithRealtime controls pacing. When true (the default) chunks are released
// at the rate they would be recorded; when false they are delivered as fast
// as the consumer reads.
func WithRealtime(realtime bool) Option {
	return func(dev *Device) { dev.realtime = realtime }
}

// Device replays one WAV file per Open call.
type Device struct {
	path          string
	chunkDuration time.Duration
	realtime      bool
}

var _ audio.Device = (*Device)(nil)

// New returns a Device reading from path. The file is read on every Open so
// it may be replaced between sessions.
func New(path string, opts ...Option) (*Device, error) {
	if path == "" {
		return nil, fmt.Errorf("file: path must not be empty")
	}
	d := &Device{path: path, chunkDuration: defaultChunkDuration, realtime: true}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Open implements [audio.Device]. The file is converted to format up front;
// the stream ends on its own once the file is exhausted.
func (d *Device) Open(ctx context.Context, format audio.Format) (audio.Capture, error) {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("file: open %q: %w: %w", d.path, audio.ErrNoDevice, err)
	}
	pcm, src, err := audio.DecodeWAV(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("file: %q: %w", d.path, err)
	}
	conv := audio.FormatConverter{Target: format}
	whole, err := conv.Convert(audio.Chunk{Data: pcm, Format: src})
	if err != nil {
		return nil, fmt.Errorf("file: %q: %w", d.path, err)
	}

	step := format.BytesPerSecond() * int(d.chunkDuration) / int(time.Second)
	step -= step % format.FrameSize()
	if step == 0 {
		step = format.FrameSize()
	}

	c := &capture{
		ch:   make(chan audio.Chunk),
		done: make(chan struct{}),
	}
	go c.replay(ctx, whole.Data, format, step, d.chunkDuration, d.realtime)
	return c, nil
}

type capture struct {
	ch   chan audio.Chunk
	done chan struct{}

	mu   sync.Mutex
	err  error
	once sync.Once
}

func (c *capture) replay(ctx context.Context, pcm []byte, f audio.Format, step int, every time.Duration, realtime bool) {
	defer close(c.ch)

	var tick <-chan time.Time
	if realtime {
		t := time.NewTicker(every)
		defer t.Stop()
		tick = t.C
	}

	for off := 0; off < len(pcm); off += step {
		if tick != nil {
			select {
			case <-tick:
			case <-c.done:
				return
			case <-ctx.Done():
				c.setErr(ctx.Err())
				return
			}
		}
		end := min(off+step, len(pcm))
		chunk := audio.Chunk{
			Data:      pcm[off:end],
			Format:    f,
			Timestamp: f.Duration(off),
		}
		select {
		case c.ch <- chunk:
		case <-c.done:
			return
		case <-ctx.Done():
			c.setErr(ctx.Err())
			return
		}
	}
}

func (c *capture) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *capture) Chunks() <-chan audio.Chunk { return c.ch }

func (c *capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *capture) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
