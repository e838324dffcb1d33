// Package mock provides in-memory implementations of the [audio.Microphone]
// and [audio.Output] device contracts for use in unit tests.
//
// All mocks are safe for concurrent use. They record lifecycle calls so tests
// can assert on teardown, and expose exported fields to inject failures.
//
// The [Output] runs on a manual clock: nothing plays until the test calls
// [Output.Advance], which fires the ended callback of every voice whose end
// position has been reached.
//
//	out := mock.NewOutput(audio.OutputSampleRate)
//	v, _ := out.Schedule(buf, 0, func() { ended <- struct{}{} })
//	out.Advance(buf.Duration())
package mock

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/panelai/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone    = (*Microphone)(nil)
	_ audio.CaptureStream = (*Stream)(nil)
	_ audio.Output        = (*Output)(nil)
)

// ─── clock ────────────────────────────────────────────────────────────────────

// clockState records the lifecycle calls shared by both mock clocks.
type clockState struct {
	ResumeCalls  int
	SuspendCalls int
	CloseCalls   int

	// CloseErr is returned by Close.
	CloseErr error

	suspended bool
	closed    bool
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock [audio.Microphone]. Open returns a [Stream] the test
// can push frames into.
type Microphone struct {
	mu sync.Mutex
	clockState

	// OpenErr is returned by Open when set.
	OpenErr error

	// OpenCalls counts Open invocations.
	OpenCalls int

	stream *Stream
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context) (audio.CaptureStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls++
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	m.stream = &Stream{frames: make(chan audio.AudioFrame, 64)}
	return m.stream, nil
}

// Stream returns the stream handed out by the last successful Open, or nil.
func (m *Microphone) Stream() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Resume implements [audio.Clock].
func (m *Microphone) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResumeCalls++
	m.suspended = false
	return nil
}

// Suspend implements [audio.Clock].
func (m *Microphone) Suspend() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SuspendCalls++
	m.suspended = true
	return nil
}

// Close implements [audio.Clock].
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	m.closed = true
	return m.CloseErr
}

// Calls returns a snapshot of the recorded lifecycle calls.
func (m *Microphone) Calls() (resumes, suspends, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ResumeCalls, m.SuspendCalls, m.CloseCalls
}

// Stream is a mock [audio.CaptureStream].
type Stream struct {
	mu         sync.Mutex
	frames     chan audio.AudioFrame
	closed     bool
	closeCalls int
}

// Frames implements [audio.CaptureStream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Push delivers a frame as if it had been captured. It reports false once the
// stream is closed.
func (s *Stream) Push(f audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- f
	return true
}

// Close implements [audio.CaptureStream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// CloseCalls reports how many times Close was called.
func (s *Stream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// ─── Output ───────────────────────────────────────────────────────────────────

// ScheduleCall records one [Output.Schedule] invocation.
type ScheduleCall struct {
	At       time.Duration
	Duration time.Duration
}

// Output is a mock [audio.Output] driven by a manual clock.
type Output struct {
	mu sync.Mutex
	clockState

	// ScheduleErr is returned by Schedule when set.
	ScheduleErr error

	// ScheduleCalls records every successful Schedule in order.
	ScheduleCalls []ScheduleCall

	// MuteCalls records every SetMuted argument in order.
	MuteCalls []bool

	rate   int
	now    time.Duration
	muted  bool
	voices []*Voice
}

// NewOutput returns an Output whose clock starts at zero.
func NewOutput(rate int) *Output {
	return &Output{rate: rate}
}

// Now implements [audio.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Schedule implements [audio.Output].
func (o *Output) Schedule(buf *audio.Buffer, at time.Duration, ended func()) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleErr != nil {
		return nil, o.ScheduleErr
	}
	v := &Voice{out: o, start: at, end: at + buf.Duration(), ended: ended}
	o.voices = append(o.voices, v)
	o.ScheduleCalls = append(o.ScheduleCalls, ScheduleCall{At: at, Duration: buf.Duration()})
	return v, nil
}

// SetMuted implements [audio.Output].
func (o *Output) SetMuted(muted bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.muted = muted
	o.MuteCalls = append(o.MuteCalls, muted)
	return nil
}

// Muted reports the current mute state.
func (o *Output) Muted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.muted
}

// Resume implements [audio.Clock].
func (o *Output) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ResumeCalls++
	o.suspended = false
	return nil
}

// Suspend implements [audio.Clock].
func (o *Output) Suspend() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.SuspendCalls++
	o.suspended = true
	return nil
}

// Close implements [audio.Clock].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CloseCalls++
	o.closed = true
	return o.CloseErr
}

// Suspended reports whether the clock is currently suspended.
func (o *Output) Suspended() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.suspended
}

// Calls returns a snapshot of the recorded lifecycle calls.
func (o *Output) Calls() (resumes, suspends, closes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ResumeCalls, o.SuspendCalls, o.CloseCalls
}

// Schedules returns a copy of the recorded Schedule calls.
func (o *Output) Schedules() []ScheduleCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.ScheduleCalls)
}

// SetNow moves the clock without firing any callbacks. Use it to simulate
// time passing while nothing is scheduled.
func (o *Output) SetNow(now time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
}

// Advance moves the clock forward by d and fires the ended callback of every
// voice that has finished by the new position, in end order. Callbacks run
// on the caller's goroutine with no lock held.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	var due []*Voice
	keep := o.voices[:0]
	for _, v := range o.voices {
		switch {
		case v.stopped:
		case v.end <= o.now:
			due = append(due, v)
		default:
			keep = append(keep, v)
		}
	}
	o.voices = keep
	o.mu.Unlock()

	slices.SortStableFunc(due, func(a, b *Voice) int { return cmp.Compare(a.end, b.end) })
	for _, v := range due {
		if v.ended != nil {
			v.ended()
		}
	}
}

// Pending reports how many voices are scheduled and not yet ended or stopped.
func (o *Output) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, v := range o.voices {
		if !v.stopped {
			n++
		}
	}
	return n
}

// Voice is a mock [audio.Voice].
type Voice struct {
	out        *Output
	start, end time.Duration
	ended      func()
	stopped    bool
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() error {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	v.stopped = true
	return nil
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	return v.stopped
}
