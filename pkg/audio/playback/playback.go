// Package playback schedules streamed speech chunks back-to-back on an output
// clock and tracks which of them are still audible.
//
// The [Scheduler] keeps an explicit cursor: each chunk starts at
// max(cursor, now) and advances the cursor by its own duration, so chunks play
// in arrival order without gaps or overlaps regardless of network jitter.
//
// A Scheduler is not safe for concurrent use. It is meant to be owned by a
// single goroutine; the ended notifications coming from the output device are
// delivered through the notify function so the owner can marshal them back
// onto its own goroutine before calling [Scheduler.Finished].
package playback

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/panelai/pkg/audio"
)

// Handle identifies one scheduled chunk.
type Handle uint64

// Chunk describes one successfully scheduled buffer.
type Chunk struct {
	Handle   Handle
	Start    time.Duration
	Duration time.Duration
	// Volume is the advisory loudness of the raw payload in [0, 1].
	Volume float64
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithSampleRate overrides the rate inbound PCM is decoded at.
func WithSampleRate(rate int) Option {
	return func(s *Scheduler) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// OnSpeaking registers a callback for speaking transitions: true when the
// active set goes from empty to non-empty, false when it drains or is
// interrupted.
func OnSpeaking(fn func(bool)) Option {
	return func(s *Scheduler) { s.onSpeaking = fn }
}

// ── Scheduler ──────────────────────────────────────────────────────────────────

// Scheduler is the playback side of a session.
type Scheduler struct {
	out        audio.Output
	notify     func(Handle)
	rate       int
	onSpeaking func(bool)

	cursor time.Duration
	next   Handle
	active map[Handle]audio.Voice
}

// New returns a Scheduler that plays on out. notify is invoked from the
// device's goroutine whenever a chunk finishes on its own.
func New(out audio.Output, notify func(Handle), opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		notify: notify,
		rate:   audio.OutputSampleRate,
		active: make(map[Handle]audio.Voice),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes a base64 PCM chunk and schedules it after everything
// already queued. Malformed chunks return an error and leave the schedule
// untouched.
func (s *Scheduler) Enqueue(payload string) (Chunk, error) {
	raw, err := audio.DecodeBase64(payload)
	if err != nil {
		return Chunk{}, err
	}
	return s.EnqueuePCM(raw)
}

// EnqueuePCM schedules raw 16-bit mono PCM.
func (s *Scheduler) EnqueuePCM(raw []byte) (Chunk, error) {
	buf, err := audio.DecodeAudioData(raw, s.rate, 1)
	if err != nil {
		return Chunk{}, fmt.Errorf("playback: %w", err)
	}

	start := max(s.cursor, s.out.Now())
	s.next++
	h := s.next
	voice, err := s.out.Schedule(buf, start, func() {
		if s.notify != nil {
			s.notify(h)
		}
	})
	if err != nil {
		return Chunk{}, fmt.Errorf("playback: schedule: %w", err)
	}

	s.cursor = start + buf.Duration()
	s.active[h] = voice
	if len(s.active) == 1 {
		s.speaking(true)
	}
	return Chunk{Handle: h, Start: start, Duration: buf.Duration(), Volume: audio.VolumeLevel(raw)}, nil
}

// Finished removes h from the active set after its buffer played out. It
// reports whether the set is now empty. Unknown handles, including every
// handle discarded by an interruption, are ignored and report false.
func (s *Scheduler) Finished(h Handle) bool {
	if _, ok := s.active[h]; !ok {
		return false
	}
	delete(s.active, h)
	if len(s.active) == 0 {
		s.speaking(false)
		return true
	}
	return false
}

// Interrupt abandons all queued speech: every active voice is stopped, the
// set is cleared, the cursor resets to zero and speaking drops to false.
func (s *Scheduler) Interrupt() {
	s.stopAll()
	s.cursor = 0
	s.speaking(false)
}

// StopAll stops every active voice and clears the set without emitting a
// speaking transition. Used during teardown.
func (s *Scheduler) StopAll() {
	s.stopAll()
	s.cursor = 0
}

func (s *Scheduler) stopAll() {
	for h, v := range s.active {
		if err := v.Stop(); err != nil {
			slog.Debug("playback: stop voice", "handle", h, "err", err)
		}
		delete(s.active, h)
	}
}

// Active reports how many chunks are scheduled and not yet finished.
func (s *Scheduler) Active() int { return len(s.active) }

// Cursor is the clock position at which the next chunk would start if it
// arrived now and the clock were behind it.
func (s *Scheduler) Cursor() time.Duration { return s.cursor }

func (s *Scheduler) speaking(v bool) {
	if s.onSpeaking != nil {
		s.onSpeaking(v)
	}
}
