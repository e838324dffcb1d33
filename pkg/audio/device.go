package audio

import (
	"context"
	"time"
)

// Clock is the lifecycle shared by both audio clocks of a session. The input
// clock and the output clock are owned independently and are never shared.
type Clock interface {
	// Resume restarts a suspended clock. Resuming a running clock is a no-op.
	Resume() error

	// Suspend halts the clock without releasing it.
	Suspend() error

	// Close releases the clock. Closing twice returns nil.
	Close() error
}

// Microphone is the input clock. Open acquires the exclusive capture handle.
type Microphone interface {
	Clock

	// Open acquires the device and starts delivering frames on the returned
	// stream. Permission or availability failures are reported here and are
	// not retried.
	Open(ctx context.Context) (CaptureStream, error)
}

// CaptureStream is an acquired microphone handle.
type CaptureStream interface {
	// Frames delivers captured PCM. The channel closes when the stream stops,
	// at the latest shortly after Close.
	Frames() <-chan AudioFrame

	// Close stops the device and releases the handle. Safe to call twice.
	Close() error
}

// Output is the playback clock. Buffers are scheduled against its own
// timeline, which starts at zero when the clock is created.
type Output interface {
	Clock

	// Now is the current position of the output clock.
	Now() time.Duration

	// Schedule queues buf to start at the given clock position. ended is
	// invoked once when the buffer finishes playing on its own; it is not
	// invoked after the returned Voice is stopped.
	Schedule(buf *Buffer, at time.Duration, ended func()) (Voice, error)

	// SetMuted silences every present and future voice.
	SetMuted(muted bool) error
}

// Voice is one scheduled buffer on an [Output].
type Voice interface {
	// Stop abandons the buffer immediately. Stopping twice is a no-op.
	Stop() error
}
