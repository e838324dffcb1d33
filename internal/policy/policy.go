// Package policy enforces the session-level limits of an interview: a
// wall-clock duration cap, an inactivity watchdog, and the countdown that
// precedes every ending.
//
// A [Monitor] runs one per-second ticker. The ticker starts with the first
// transcript fragment, not when the connection opens. While the interview
// runs each tick adds to the accumulated duration and checks both limits;
// once an ending is raised the same ticker drives the countdown until it
// reaches zero or the user overrides it.
package policy

import (
	"sync"
	"time"
)

// Reason records why an interview ended.
type Reason string

// End reasons.
const (
	ReasonManual     Reason = "manual"
	ReasonTimeout    Reason = "timeout"
	ReasonInactivity Reason = "inactivity"
)

// Default limits.
const (
	DefaultMaxDuration       = 1200 * time.Second
	DefaultInactivityTimeout = 180000 * time.Millisecond
	DefaultCountdown         = 5 * time.Second
	DefaultTick              = time.Second
)

// Config configures a [Monitor]. Zero durations select the defaults.
// Handlers may be nil; they are never called with the monitor's lock held.
type Config struct {
	// MaxDuration caps the accumulated interview duration.
	MaxDuration time.Duration

	// InactivityTimeout is the longest allowed gap between activity signals.
	InactivityTimeout time.Duration

	// Countdown is the delay between an ending being raised and the finish.
	Countdown time.Duration

	// Tick is the ticker period.
	Tick time.Duration

	// OnDuration reports the accumulated duration after every running tick.
	OnDuration func(elapsed time.Duration)

	// OnEnding fires once when an ending is raised.
	OnEnding func(reason Reason)

	// OnCountdown reports the remaining countdown, starting with the full
	// Countdown when the ending is raised.
	OnCountdown func(remaining time.Duration)

	// OnFinish fires once when the countdown reaches zero or is overridden.
	OnFinish func(reason Reason, overridden bool)
}

// Monitor tracks activity and raises endings. All methods are safe for
// concurrent use.
type Monitor struct {
	cfg Config
	now func() time.Time

	mu           sync.Mutex
	started      bool
	elapsed      time.Duration
	lastActivity time.Time
	ending       bool
	reason       Reason
	remaining    time.Duration
	finished     bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once
}

// New returns a Monitor. The activity clock starts now.
func New(cfg Config) *Monitor {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.Countdown <= 0 {
		cfg.Countdown = DefaultCountdown
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	m := &Monitor{
		cfg:  cfg,
		now:  time.Now,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.lastActivity = m.now()
	return m
}

// Transcript records a transcript fragment. The first call starts the ticker.
func (m *Monitor) Transcript() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = m.now()
	m.startLocked()
}

// Activity refreshes the activity timestamp without starting the ticker.
func (m *Monitor) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = m.now()
}

// Trigger raises an ending for reason and starts the countdown. It is a
// no-op once an ending is in progress.
func (m *Monitor) Trigger(reason Reason) {
	m.mu.Lock()
	if m.ending || m.finished {
		m.mu.Unlock()
		return
	}
	calls := m.beginEndingLocked(reason)
	m.startLocked()
	m.mu.Unlock()
	run(calls)
}

// Override finishes immediately, skipping whatever countdown remains. With no
// ending in progress the reason is [ReasonManual].
func (m *Monitor) Override() {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return
	}
	if !m.ending {
		m.ending = true
		m.reason = ReasonManual
	}
	calls := m.finishLocked(true)
	m.mu.Unlock()
	m.Stop()
	run(calls)
	m.markDone()
}

// Stop halts the ticker without finishing. Safe to call more than once and
// from inside a handler.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Done is closed once the monitor has finished and OnFinish has returned.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// Elapsed is the accumulated interview duration.
func (m *Monitor) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

// Reason is the end reason, empty while no ending is in progress.
func (m *Monitor) Reason() Reason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Ending reports whether an ending has been raised.
func (m *Monitor) Ending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ending
}

func (m *Monitor) startLocked() {
	if m.started {
		return
	}
	m.started = true
	go m.loop()
}

func (m *Monitor) loop() {
	t := time.NewTicker(m.cfg.Tick)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			if m.tick() {
				return
			}
		}
	}
}

// tick advances the monitor by one period and reports whether it finished.
func (m *Monitor) tick() bool {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return true
	}

	var calls []func()
	if !m.ending {
		m.elapsed += m.cfg.Tick
		if fn := m.cfg.OnDuration; fn != nil {
			elapsed := m.elapsed
			calls = append(calls, func() { fn(elapsed) })
		}
		switch {
		case m.elapsed >= m.cfg.MaxDuration:
			calls = append(calls, m.beginEndingLocked(ReasonTimeout)...)
		case m.now().Sub(m.lastActivity) > m.cfg.InactivityTimeout:
			calls = append(calls, m.beginEndingLocked(ReasonInactivity)...)
		}
	} else {
		m.remaining -= m.cfg.Tick
		if m.remaining <= 0 {
			calls = append(calls, m.finishLocked(false)...)
		} else if fn := m.cfg.OnCountdown; fn != nil {
			remaining := m.remaining
			calls = append(calls, func() { fn(remaining) })
		}
	}
	finished := m.finished
	m.mu.Unlock()

	run(calls)
	if finished {
		m.markDone()
	}
	return finished
}

func (m *Monitor) markDone() {
	m.doneOnce.Do(func() { close(m.done) })
}

func (m *Monitor) beginEndingLocked(reason Reason) []func() {
	m.ending = true
	m.reason = reason
	m.remaining = m.cfg.Countdown

	var calls []func()
	if fn := m.cfg.OnEnding; fn != nil {
		calls = append(calls, func() { fn(reason) })
	}
	if fn := m.cfg.OnCountdown; fn != nil {
		remaining := m.remaining
		calls = append(calls, func() { fn(remaining) })
	}
	return calls
}

func (m *Monitor) finishLocked(overridden bool) []func() {
	m.finished = true
	m.remaining = 0

	reason := m.reason
	if fn := m.cfg.OnFinish; fn != nil {
		return []func(){func() { fn(reason, overridden) }}
	}
	return nil
}

func run(calls []func()) {
	for _, fn := range calls {
		fn()
	}
}
