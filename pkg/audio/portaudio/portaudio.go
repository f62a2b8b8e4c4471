// Package portaudio captures microphone input through the PortAudio C
// library (github.com/gordonklaus/portaudio).
//
// The PortAudio callback runs on the driver's thread. It copies the samples
// it is handed (one small heap allocation per buffer) and pushes them into a
// bounded channel; it never does any other work. The queue always holds at
// least five seconds of audio, so the push only blocks when the consumer has
// stalled for that long. Blocking then stalls the driver thread and may cost
// an input overflow on the device side; audio already queued is never
// dropped.
//
// Building this package requires the PortAudio development headers
// (libportaudio2 / portaudio19-dev on Debian-based systems).
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/medscribe/pkg/audio"
)

const (
	defaultFramesPerBuffer = 1600 // 100 ms at 16 kHz
	defaultQueueSize       = 64

	// minQueued is the least audio the chunk queue can hold, whatever the
	// queue size and buffer length options say.
	minQueued = 5 * time.Second
)

// Option is a functional option for configuring a [Device].
type Option func(*Device)

// WithDeviceName selects the first input device whose name contains name
// (case-insensitive). The system default input device is used otherwise.
func WithDeviceName(name string) Option {
	return func(d *Device) { d.deviceName = name }
}

// WithFramesPerBuffer sets how many sample frames PortAudio delivers per
// callback, i.e. the chunk size.
func WithFramesPerBuffer(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.framesPerBuffer = n
		}
	}
}

// WithQueueSize sets the capacity of the chunk channel between the driver
// callback and the consumer. It is raised when needed so the queue covers
// at least five seconds of audio.
func WithQueueSize(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// Device is an [audio.Device] backed by a PortAudio input device.
type Device struct {
	deviceName      string
	framesPerBuffer int
	queueSize       int
}

var _ audio.Device = (*Device)(nil)

// New returns a PortAudio device. No hardware is touched until Open.
func New(opts ...Option) *Device {
	d := &Device{
		framesPerBuffer: defaultFramesPerBuffer,
		queueSize:       defaultQueueSize,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open implements [audio.Device]. When the device cannot capture at the
// requested rate natively it records at its default rate and the stream is
// resampled before delivery.
func (d *Device) Open(_ context.Context, format audio.Format) (audio.Capture, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrNoDevice, err)
	}

	info, err := d.findInput()
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: %w: %w", audio.ErrNoDevice, err)
	}

	c := &capture{done: make(chan struct{})}

	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   info,
			Channels: format.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: d.framesPerBuffer,
	}
	c.format = format
	if err := pa.IsFormatSupported(params, c.callback); err != nil {
		native := audio.Format{SampleRate: int(info.DefaultSampleRate), Channels: format.Channels}
		slog.Warn("portaudio: requested format not supported natively, resampling",
			"device", info.Name, "requested", format.String(), "native", native.String(), "err", err)
		params.SampleRate = info.DefaultSampleRate
		params.FramesPerBuffer = d.framesPerBuffer * native.SampleRate / format.SampleRate
		c.format = native
	}
	c.raw = make(chan audio.Chunk, d.queueLen(params.FramesPerBuffer, c.format.SampleRate))

	stream, err := pa.OpenStream(params, c.callback)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open stream on %q: %w: %w", info.Name, audio.ErrNoDevice, err)
	}
	c.stream = stream
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start stream on %q: %w: %w", info.Name, audio.ErrNoDevice, err)
	}

	c.out = c.raw
	if c.format != format {
		c.out = audio.ConvertStream(c.raw, format)
	}
	slog.Info("portaudio: capture started", "device", info.Name, "format", c.format.String())
	return c, nil
}

// queueLen is the chunk queue capacity for buffers of framesPerBuffer
// frames at sampleRate.
func (d *Device) queueLen(framesPerBuffer, sampleRate int) int {
	n := d.queueSize
	if framesPerBuffer <= 0 || sampleRate <= 0 {
		return n
	}
	perBuffer := time.Duration(framesPerBuffer) * time.Second / time.Duration(sampleRate)
	if need := int((minQueued + perBuffer - 1) / perBuffer); need > n {
		n = need
	}
	return n
}

func (d *Device) findInput() (*pa.DeviceInfo, error) {
	if d.deviceName == "" {
		return pa.DefaultInputDevice()
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(d.deviceName)
	for _, info := range devices {
		if info.MaxInputChannels > 0 && strings.Contains(strings.ToLower(info.Name), want) {
			return info, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", d.deviceName)
}

// capture is one open PortAudio input stream.
type capture struct {
	stream *pa.Stream
	format audio.Format

	raw  chan audio.Chunk
	out  <-chan audio.Chunk
	done chan struct{}

	// frames counts delivered sample frames; only the callback touches it.
	frames int64

	closeOnce sync.Once
	closeErr  error
}

// callback runs on the PortAudio thread.
func (c *capture) callback(in []int16) {
	data := make([]byte, len(in)*2)
	for i, s := range in {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	chunk := audio.Chunk{
		Data:      data,
		Format:    c.format,
		Timestamp: time.Duration(c.frames * int64(time.Second) / int64(c.format.SampleRate)),
	}
	c.frames += int64(len(in) / c.format.Channels)

	select {
	case c.raw <- chunk:
	case <-c.done:
	}
}

func (c *capture) Chunks() <-chan audio.Chunk { return c.out }

func (c *capture) Err() error { return nil }

// Close stops the stream, waits for the last callback and closes the chunk
// channel. Chunks already queued remain readable.
func (c *capture) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		var errs []error
		if err := c.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop: %w", err))
		}
		if err := c.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close: %w", err))
		}
		close(c.raw)
		if err := pa.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
