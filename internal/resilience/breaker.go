// Package resilience guards calls to remote models with a circuit breaker.
//
// A [Breaker] is a three-state breaker (closed, open, half-open). While open
// it rejects calls at once with an error wrapping both [ErrOpen] and the
// failure that tripped it, so callers still see e.g. a quota error for what
// it is. [Models] applies a Breaker to a text-model client.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is wrapped by errors returned while a [Breaker] rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// Defaults for zero [Config] fields.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 1
)

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout has passed.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config tunes a [Breaker].
type Config struct {
	// Name labels log lines and errors, e.g. "gemini-text".
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: [DefaultMaxFailures].
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: [DefaultResetTimeout].
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close the
	// breaker again. Default: [DefaultHalfOpenMax].
	HalfOpenMax int

	// Counts reports whether err counts as a failure. Default: every error
	// except [context.Canceled].
	Counts func(err error) bool
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	counts       func(error) bool
	now          func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	lastErr   error
	probes    int
	successes int
}

// New returns a closed Breaker.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	if cfg.Counts == nil {
		cfg.Counts = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		counts:       cfg.Counts,
		now:          time.Now,
	}
}

// Do runs fn unless the breaker is open. Rejections wrap [ErrOpen] and the
// error that opened the breaker.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false, b.rejectLocked()
		}
		b.state = StateHalfOpen
		b.probes, b.successes = 0, 0
		slog.Info("resilience: circuit half-open", "name", b.name)
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.halfOpenMax {
			return false, b.rejectLocked()
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) rejectLocked() error {
	return fmt.Errorf("%w (%s): %w", ErrOpen, b.name, b.lastErr)
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && b.counts(err) {
		b.lastErr = err
		if probe {
			b.openLocked()
			return
		}
		b.failures++
		if b.state == StateClosed && b.failures >= b.maxFailures {
			b.openLocked()
		}
		return
	}

	if !probe {
		b.failures = 0
		return
	}
	// An uncounted error neither closes nor reopens; it returns the probe.
	if err != nil {
		b.probes--
		return
	}
	b.successes++
	if b.successes >= b.halfOpenMax {
		b.state = StateClosed
		b.failures = 0
		slog.Info("resilience: circuit closed", "name", b.name)
	}
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = b.maxFailures
	slog.Warn("resilience: circuit opened", "name", b.name, "err", b.lastErr)
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures, b.probes, b.successes = 0, 0, 0
	b.lastErr = nil
}
