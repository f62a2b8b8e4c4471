// Package mock provides in-memory implementations of [audio.Device] and
// [audio.Capture] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	capture := mock.NewCapture(8)
//	dev := &mock.Device{Captures: []*mock.Capture{capture}}
//	// hand dev to the code under test, then feed it audio:
//	_ = capture.Push(ctx, audio.Chunk{Data: pcm, Format: audio.Mono16k})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/medscribe/pkg/audio"
)

// ErrClosed is returned by [Capture.Push] after the capture was closed.
var ErrClosed = errors.New("mock: capture closed")

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture]. Tests play the role of
// the device driver by calling [Capture.Push].
type Capture struct {
	mu      sync.Mutex
	ch      chan audio.Chunk
	done    chan struct{}
	pushing sync.WaitGroup
	closed  bool

	// EndErr is returned by [Capture.Err].
	EndErr error

	// CloseError is returned by every [Capture.Close] call.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Capture = (*Capture)(nil)

// NewCapture returns an open capture whose chunk channel has the given
// buffer size.
func NewCapture(buffer int) *Capture {
	return &Capture{
		ch:   make(chan audio.Chunk, buffer),
		done: make(chan struct{}),
	}
}

// Push delivers one chunk, blocking while the channel is full. It returns
// [ErrClosed] once the capture is closed and ctx.Err() when ctx ends first.
func (c *Capture) Push(ctx context.Context, chunk audio.Chunk) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pushing.Add(1)
	c.mu.Unlock()
	defer c.pushing.Done()

	select {
	case c.ch <- chunk:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Chunks implements [audio.Capture].
func (c *Capture) Chunks() <-chan audio.Chunk { return c.ch }

// Err implements [audio.Capture]. Returns EndErr.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.EndErr
}

// Close implements [audio.Capture]. Chunks already pushed stay readable
// until the channel is drained.
func (c *Capture) Close() error {
	c.mu.Lock()
	c.CallCountClose++
	if c.closed {
		err := c.CloseError
		c.mu.Unlock()
		return err
	}
	c.closed = true
	close(c.done)
	err := c.CloseError
	c.mu.Unlock()

	c.pushing.Wait()
	close(c.ch)
	return err
}

// Closed reports whether Close has been called at least once.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenError, when non-nil, is returned by every [Device.Open] call.
	OpenError error

	// Captures are handed out by successive Open calls in order. When the
	// queue is empty a fresh capture with a small buffer is created.
	Captures []*Capture

	// OpenCalls records the format passed to each Open call.
	OpenCalls []audio.Format

	opened []*Capture
}

var _ audio.Device = (*Device)(nil)

// Open implements [audio.Device].
func (d *Device) Open(_ context.Context, format audio.Format) (audio.Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, format)
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	var c *Capture
	if len(d.Captures) > 0 {
		c = d.Captures[0]
		d.Captures = d.Captures[1:]
	} else {
		c = NewCapture(8)
	}
	d.opened = append(d.opened, c)
	return c, nil
}

// Opened returns every capture handed out so far, in order.
func (d *Device) Opened() []*Capture {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Capture, len(d.opened))
	copy(out, d.opened)
	return out
}

// Reset clears recorded calls and opened captures.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = nil
	d.opened = nil
}
