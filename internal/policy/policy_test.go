package policy

import (
	"slices"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced wall clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type events struct {
	mu        sync.Mutex
	endings   []Reason
	countdown []time.Duration
	finishes  []Reason
	overrides []bool
	durations []time.Duration
}

func (e *events) config(cfg Config) Config {
	cfg.OnDuration = func(d time.Duration) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.durations = append(e.durations, d)
	}
	cfg.OnEnding = func(r Reason) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.endings = append(e.endings, r)
	}
	cfg.OnCountdown = func(d time.Duration) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.countdown = append(e.countdown, d)
	}
	cfg.OnFinish = func(r Reason, overridden bool) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.finishes = append(e.finishes, r)
		e.overrides = append(e.overrides, overridden)
	}
	return cfg
}

// newManual returns a monitor whose ticker never fires on its own; tests
// drive it through tick.
func newManual(t *testing.T, cfg Config) (*Monitor, *fakeClock, *events) {
	t.Helper()
	ev := &events{}
	cfg.Tick = time.Second
	m := New(ev.config(cfg))
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m.now = clock.Now
	m.lastActivity = clock.Now()
	m.started = true // keep the real ticker out of the way
	t.Cleanup(m.Stop)
	return m, clock, ev
}

func TestTick_TimeoutWhileActive(t *testing.T) {
	t.Parallel()
	m, clock, ev := newManual(t, Config{MaxDuration: 3 * time.Second})

	for range 3 {
		clock.Add(time.Second)
		m.Transcript()
		m.tick()
	}
	if !m.Ending() || m.Reason() != ReasonTimeout {
		t.Fatalf("ending=%v reason=%q, want timeout", m.Ending(), m.Reason())
	}
	if !slices.Equal(ev.endings, []Reason{ReasonTimeout}) {
		t.Errorf("endings = %v", ev.endings)
	}
	if !slices.Equal(ev.durations, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}) {
		t.Errorf("durations = %v", ev.durations)
	}
	if m.Elapsed() != 3*time.Second {
		t.Errorf("elapsed = %v", m.Elapsed())
	}
}

func TestTick_Inactivity(t *testing.T) {
	t.Parallel()
	m, clock, ev := newManual(t, Config{})

	clock.Add(DefaultInactivityTimeout)
	m.tick()
	if m.Ending() {
		t.Fatal("exactly the threshold must not end the interview")
	}

	clock.Add(time.Millisecond)
	m.tick()
	if m.Reason() != ReasonInactivity {
		t.Fatalf("reason = %q, want inactivity", m.Reason())
	}
	if m.Elapsed() != 2*time.Second {
		t.Errorf("elapsed = %v; inactivity is independent of duration", m.Elapsed())
	}
	if !slices.Equal(ev.countdown, []time.Duration{DefaultCountdown}) {
		t.Errorf("countdown = %v", ev.countdown)
	}
}

func TestTick_ActivityKeepsAlive(t *testing.T) {
	t.Parallel()
	m, clock, _ := newManual(t, Config{InactivityTimeout: 10 * time.Second})

	for range 30 {
		clock.Add(time.Second)
		if clock.Now().Unix()%5 == 0 {
			m.Activity()
		}
		m.tick()
	}
	if m.Ending() {
		t.Errorf("ended with reason %q despite regular activity", m.Reason())
	}
}

func TestCountdown_FinishesAtZero(t *testing.T) {
	t.Parallel()
	m, _, ev := newManual(t, Config{})

	m.Trigger(ReasonManual)
	for i := range 5 {
		select {
		case <-m.Done():
			t.Fatalf("finished after %d ticks", i)
		default:
		}
		m.tick()
	}
	select {
	case <-m.Done():
	default:
		t.Fatal("not finished after the countdown")
	}

	want := []time.Duration{5 * time.Second, 4 * time.Second, 3 * time.Second, 2 * time.Second, time.Second}
	if !slices.Equal(ev.countdown, want) {
		t.Errorf("countdown = %v, want %v", ev.countdown, want)
	}
	if !slices.Equal(ev.finishes, []Reason{ReasonManual}) || ev.overrides[0] {
		t.Errorf("finishes = %v overrides = %v", ev.finishes, ev.overrides)
	}
	if m.Elapsed() != 0 {
		t.Errorf("duration must not accumulate while ending, got %v", m.Elapsed())
	}
}

func TestTrigger_OnlyFirstReasonWins(t *testing.T) {
	t.Parallel()
	m, _, ev := newManual(t, Config{})

	m.Trigger(ReasonInactivity)
	m.Trigger(ReasonManual)
	if m.Reason() != ReasonInactivity || len(ev.endings) != 1 {
		t.Errorf("reason = %q endings = %v", m.Reason(), ev.endings)
	}
}

func TestOverride(t *testing.T) {
	t.Parallel()

	t.Run("during countdown", func(t *testing.T) {
		t.Parallel()
		m, _, ev := newManual(t, Config{})
		m.Trigger(ReasonTimeout)
		m.tick()
		m.Override()
		m.Override()

		if !slices.Equal(ev.finishes, []Reason{ReasonTimeout}) || !ev.overrides[0] {
			t.Errorf("finishes = %v overrides = %v", ev.finishes, ev.overrides)
		}
		if !m.tick() {
			t.Error("tick after finish should report finished")
		}
	})

	t.Run("without ending", func(t *testing.T) {
		t.Parallel()
		m, _, ev := newManual(t, Config{})
		m.Override()
		if !slices.Equal(ev.finishes, []Reason{ReasonManual}) {
			t.Errorf("finishes = %v", ev.finishes)
		}
	})
}

func TestMonitor_RealTicker(t *testing.T) {
	t.Parallel()

	finished := make(chan Reason, 1)
	m := New(Config{
		MaxDuration: 20 * time.Millisecond,
		Countdown:   20 * time.Millisecond,
		Tick:        5 * time.Millisecond,
		OnFinish:    func(r Reason, _ bool) { finished <- r },
	})
	t.Cleanup(m.Stop)

	select {
	case <-finished:
		t.Fatal("finished before the first transcript")
	case <-time.After(40 * time.Millisecond):
	}

	m.Transcript()
	select {
	case r := <-finished:
		if r != ReasonTimeout {
			t.Errorf("reason = %q, want timeout", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never finished")
	}
	<-m.Done()
}
