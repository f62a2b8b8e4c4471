package audio

import (
	"context"
	"errors"
)

// ErrNoDevice is returned by [Device.Open] when no input device is available
// or access to it was denied.
var ErrNoDevice = errors.New("audio: no input device available")

// Device opens capture streams on an input device.
//
// Implementations must be safe to call Open again after the previous
// [Capture] has been closed. At most one Capture is open at a time; opening
// while another capture is live may fail.
type Device interface {
	// Open starts capturing in the requested format. Errors that mean the
	// device is missing or unusable wrap [ErrNoDevice].
	Open(ctx context.Context, format Format) (Capture, error)
}

// Capture is one open input stream.
//
// The driver pushes chunks into a bounded channel; consumers only receive.
// Chunks arrive in capture order and are never dropped: a slow consumer
// back-pressures the driver instead.
type Capture interface {
	// Chunks returns the channel chunks are delivered on. It is closed after
	// Close returns or when the stream ends on its own.
	Chunks() <-chan Chunk

	// Err returns the error that ended the stream early, if any.
	Err() error

	// Close stops the stream and releases the device. It is idempotent and
	// safe to call from any goroutine.
	Close() error
}
