// Package capture turns a live microphone stream into fixed-size, base64
// encoded PCM frames ready for the wire.
//
// A [Pipeline] owns exactly one microphone handle. Incoming device frames are
// normalized to mono at the target sample rate, accumulated, and flushed in
// blocks of [audio.FrameSize] samples. While muted the accumulator keeps
// flushing but nothing reaches the sink. Once [Pipeline.Stop] returns no
// further frame is delivered.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/panelai/pkg/audio"
)

// ErrMicrophoneAccess matches every [MicrophoneAccessError] via errors.Is.
var ErrMicrophoneAccess = errors.New("capture: microphone access failed")

// ErrStopped is returned by Start after the pipeline has been stopped.
var ErrStopped = errors.New("capture: pipeline stopped")

// MicrophoneAccessError reports that the capture device could not be
// acquired, either because permission was denied or no device exists.
type MicrophoneAccessError struct {
	Err error
}

func (e *MicrophoneAccessError) Error() string {
	return fmt.Sprintf("capture: microphone access failed: %v", e.Err)
}

func (e *MicrophoneAccessError) Unwrap() error { return e.Err }

// Is reports whether target is [ErrMicrophoneAccess].
func (e *MicrophoneAccessError) Is(target error) bool { return target == ErrMicrophoneAccess }

// Sink receives each encoded frame that is cleared for transmission. It is
// called from the pipeline goroutine, one frame at a time.
type Sink func(frame audio.Blob)

// Stats is a snapshot of the pipeline's frame bookkeeping.
type Stats struct {
	// Flushed counts every full frame that left the accumulator.
	Flushed uint64
	// Sent counts flushed frames that were handed to the sink.
	Sent uint64
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithFrameSize overrides the number of samples per flushed frame.
func WithFrameSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.frameSize = n
		}
	}
}

// WithSampleRate overrides the outbound sample rate.
func WithSampleRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.rate = rate
		}
	}
}

// ── Pipeline ───────────────────────────────────────────────────────────────────

// Pipeline is the capture side of a session. Create one per session.
type Pipeline struct {
	mic       audio.Microphone
	sink      Sink
	frameSize int
	rate      int

	muted atomic.Bool

	mu      sync.Mutex
	conv    audio.Converter
	stream  audio.CaptureStream
	acc     []float32
	stats   Stats
	stopped bool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New returns a Pipeline reading from mic and delivering frames to sink.
func New(mic audio.Microphone, sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		mic:       mic,
		sink:      sink,
		frameSize: audio.FrameSize,
		rate:      audio.InputSampleRate,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.conv.Target = audio.Format{SampleRate: p.rate, Channels: 1}
	p.acc = make([]float32, 0, p.frameSize)
	return p
}

// Start acquires the microphone and begins processing. Acquisition failures
// are returned as [*MicrophoneAccessError] and are not retried.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if p.stream != nil {
		return errors.New("capture: already started")
	}

	stream, err := p.mic.Open(ctx)
	if err != nil {
		return &MicrophoneAccessError{Err: err}
	}
	p.stream = stream

	frames := stream.Frames()
	p.wg.Go(func() {
		for {
			select {
			case <-p.done:
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				p.Write(f)
			}
		}
	})
	return nil
}

// SetMuted gates transmission. It takes effect on the next flush.
func (p *Pipeline) SetMuted(muted bool) { p.muted.Store(muted) }

// Muted reports the current mute flag.
func (p *Pipeline) Muted() bool { return p.muted.Load() }

// Stats returns the current frame counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Write feeds one captured frame through conversion and the accumulator.
// Frames written after Stop are discarded.
func (p *Pipeline) Write(frame audio.AudioFrame) {
	frame = p.conv.Convert(frame)
	if len(frame.Data) == 0 {
		return
	}
	samples, err := audio.BytesToFloat(frame.Data)
	if err != nil {
		slog.Warn("capture: dropping frame", "err", err)
		return
	}
	p.push(samples)
}

func (p *Pipeline) push(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(samples) > 0 && !p.stopped {
		n := min(p.frameSize-len(p.acc), len(samples))
		p.acc = append(p.acc, samples[:n]...)
		samples = samples[n:]
		if len(p.acc) == p.frameSize {
			p.flush()
		}
	}
}

// flush must be called with mu held.
func (p *Pipeline) flush() {
	frame := p.acc
	p.acc = make([]float32, 0, p.frameSize)
	p.stats.Flushed++
	if p.muted.Load() || p.sink == nil {
		return
	}
	p.stats.Sent++
	p.sink(audio.EncodeFrame(frame, p.rate))
}

// Stop halts frame processing. Partially accumulated samples are discarded
// and the sink is never called again once Stop returns. Safe to call more
// than once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.acc = nil
		p.mu.Unlock()
		close(p.done)
	})
}

// Release stops the pipeline if needed, then stops and releases the
// microphone handle. It returns once the stream's frame channel is closed.
func (p *Pipeline) Release() error {
	p.Stop()
	p.mu.Lock()
	stream := p.stream
	p.stream = nil
	p.mu.Unlock()

	var err error
	if stream != nil {
		err = stream.Close()
		// Frames buffered before Close are dropped so the producer can exit.
		audio.Drain(stream.Frames())
	}
	p.wg.Wait()
	return err
}
