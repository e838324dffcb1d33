// Package interview is the consumer layer of a live interview. A
// [Controller] owns the transcript log and the session policy, drives a
// [session.Machine], classifies failures for display and hands back the
// final [Result] once the interview is over.
//
// Observer callbacks may run on the session actor, on the policy ticker or
// on the goroutine calling [Controller.End] and [Controller.Override]. They
// must return promptly.
package interview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/panelai/internal/observe"
	"github.com/MrWong99/panelai/internal/policy"
	"github.com/MrWong99/panelai/internal/prompt"
	"github.com/MrWong99/panelai/internal/session"
	"github.com/MrWong99/panelai/internal/transcript"
	"github.com/MrWong99/panelai/pkg/audio"
	"github.com/MrWong99/panelai/pkg/provider/live"
)

// Observer receives the interview's presentation state.
type Observer interface {
	// Status reports every connection state change.
	Status(s session.State)
	// Transcript reports the current version of a turn after each update.
	Transcript(t transcript.Turn)
	// Volume reports the normalized loudness of the interviewer's speech.
	Volume(level float64)
	// AISpeaking reports when the interviewer starts or stops speaking.
	AISpeaking(speaking bool)
	// Duration reports the accumulated interview duration once per tick.
	Duration(elapsed time.Duration)
	// Ending reports that the interview is winding down.
	Ending(reason policy.Reason)
	// Countdown reports the time left before the interview closes.
	Countdown(remaining time.Duration)
	// Failure reports a classified error.
	Failure(f Failure)
}

// NopObserver ignores every notification. Embed it to implement only the
// callbacks of interest.
type NopObserver struct{}

func (NopObserver) Status(session.State) {}
func (NopObserver) Transcript(transcript.Turn) {}
func (NopObserver) Volume(float64) {}
func (NopObserver) AISpeaking(bool) {}
func (NopObserver) Duration(time.Duration) {}
func (NopObserver) Ending(policy.Reason) {}
func (NopObserver) Countdown(time.Duration) {}
func (NopObserver) Failure(Failure) {}

var _ Observer = NopObserver{}

// Config configures a [Controller].
type Config struct {
	Interview prompt.Interview

	// Limits bounds the interview. Its handler fields are replaced by the
	// Controller.
	Limits policy.Config
}

// Result is the outcome of a finished interview.
type Result struct {
	// ID identifies the interview for logs and archives.
	ID         string
	Interview  prompt.Interview
	Turns      []transcript.Turn
	Reason     policy.Reason
	Duration   time.Duration
	Overridden bool
	// Failure is the last failure seen during the interview, if any.
	Failure *Failure
}

// Option configures a [Controller].
type Option func(*Controller)

// WithMetrics records metrics on met instead of [observe.DefaultMetrics].
// The session machine uses the same instance.
func WithMetrics(met *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = met }
}

// WithSessionOptions passes opts to the session machine. Handlers set this
// way are replaced by the Controller's own.
func WithSessionOptions(opts ...session.Option) Option {
	return func(c *Controller) { c.sessionOpts = append(c.sessionOpts, opts...) }
}

// Controller runs one interview. Its methods are safe for concurrent use.
type Controller struct {
	id          string
	cfg         Config
	obs         Observer
	metrics     *observe.Metrics
	sessionOpts []session.Option

	machine *session.Machine
	monitor *policy.Monitor
	log     *transcript.Log

	mu         sync.Mutex
	failure    *Failure
	result     Result
	finishOnce sync.Once
	done       chan struct{}
}

// New returns a Controller for a single interview. mic and out are owned by
// the session and closed when the interview finishes.
func New(provider live.Provider, issuer session.Issuer, mic audio.Microphone, out audio.Output, cfg Config, obs Observer, opts ...Option) *Controller {
	if obs == nil {
		obs = NopObserver{}
	}
	c := &Controller{
		id:   uuid.NewString(),
		cfg:  cfg,
		obs:  obs,
		log:  transcript.NewLog(),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	limits := cfg.Limits
	limits.OnDuration = obs.Duration
	limits.OnEnding = c.onEnding
	limits.OnCountdown = obs.Countdown
	limits.OnFinish = func(reason policy.Reason, overridden bool) {
		// finish disconnects the machine and must stay off its actor.
		go c.finish(reason, overridden)
	}
	c.monitor = policy.New(limits)

	sessionOpts := append(c.sessionOpts,
		session.WithMetrics(c.metrics),
		session.WithHandlers(session.Handlers{
			OnOpen:                c.onOpen,
			OnClose:               c.onClose,
			OnError:               c.onError,
			OnVolume:              obs.Volume,
			OnTranscript:          c.onTranscript,
			OnAISpeaking:          c.onAISpeaking,
			OnEndSessionTriggered: c.onEndSessionTriggered,
		}),
	)
	c.machine = session.New(provider, issuer, mic, out, sessionOpts...)
	return c
}

// ID returns the interview id.
func (c *Controller) ID() string { return c.id }

// Start connects the interview. It returns once the connection is dialled;
// a failure is also reported to the Observer. Repeated calls return
// [session.ErrAlreadyStarted] without side effects.
func (c *Controller) Start(ctx context.Context, verificationToken string) error {
	c.obs.Status(session.StateConnecting)
	err := c.machine.Start(ctx, c.cfg.Interview, verificationToken)
	switch {
	case err == nil:
		slog.Info("interview: connecting", "id", c.id, "job_title", c.cfg.Interview.JobTitle, "type", c.cfg.Interview.Type)
		return nil
	case errors.Is(err, session.ErrAlreadyStarted), errors.Is(err, session.ErrClosed):
		return err
	}
	c.report(err)
	return err
}

// ToggleMute flips the microphone mute flag and returns the new value.
func (c *Controller) ToggleMute() bool { return c.machine.ToggleMute() }

// Muted reports the microphone mute flag.
func (c *Controller) Muted() bool { return c.machine.Muted() }

// State reports the connection state.
func (c *Controller) State() session.State { return c.machine.State() }

// Elapsed is the accumulated interview duration.
func (c *Controller) Elapsed() time.Duration { return c.monitor.Elapsed() }

// Transcript returns a snapshot of the log.
func (c *Controller) Transcript() []transcript.Turn { return c.log.Turns() }

// End asks for the interview to end after the closing countdown. Once the
// session has failed or closed there is nothing left to count down and the
// interview finishes immediately.
func (c *Controller) End() {
	switch c.machine.State() {
	case session.StateError, session.StateDisconnected:
		c.monitor.Override()
	default:
		c.monitor.Trigger(policy.ReasonManual)
	}
}

// Override finishes the interview now, skipping any remaining countdown.
func (c *Controller) Override() { c.monitor.Override() }

// Ending reports whether an ending has been raised and the countdown runs.
func (c *Controller) Ending() bool { return c.monitor.Ending() }

// Done is closed once the interview has finished and its session is torn
// down.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Result returns the outcome. It is complete once Done is closed.
func (c *Controller) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// ── Session handlers ──────────────────────────────────────────────────────────

func (c *Controller) onOpen() {
	slog.Info("interview: connected", "id", c.id)
	c.obs.Status(session.StateConnected)
}

func (c *Controller) onClose(code int, reason string) {
	slog.Info("interview: connection closed", "id", c.id, "code", code, "reason", reason)
	c.monitor.Stop()
	c.obs.Status(c.machine.State())
}

func (c *Controller) onError(err error) {
	c.monitor.Stop()
	c.report(err)
}

func (c *Controller) onTranscript(u transcript.Update) {
	c.monitor.Transcript()
	c.obs.Transcript(c.log.Upsert(u))
}

func (c *Controller) onAISpeaking(speaking bool) {
	if speaking {
		c.monitor.Activity()
	}
	c.obs.AISpeaking(speaking)
}

func (c *Controller) onEndSessionTriggered() {
	slog.Info("interview: interviewer ended the interview", "id", c.id)
	c.monitor.Trigger(policy.ReasonManual)
}

func (c *Controller) onEnding(reason policy.Reason) {
	slog.Info("interview: ending", "id", c.id, "reason", reason)
	c.obs.Ending(reason)
}

// ── Internals ─────────────────────────────────────────────────────────────────

func (c *Controller) report(err error) {
	f := Classify(err)
	slog.Warn("interview: session failure", "id", c.id, "kind", f.Kind, "err", err)

	c.mu.Lock()
	c.failure = &f
	c.mu.Unlock()

	c.obs.Status(session.StateError)
	c.obs.Failure(f)
}

func (c *Controller) finish(reason policy.Reason, overridden bool) {
	c.finishOnce.Do(func() {
		c.machine.Disconnect()
		elapsed := c.monitor.Elapsed()

		c.mu.Lock()
		c.result = Result{
			ID:         c.id,
			Interview:  c.cfg.Interview,
			Turns:      c.log.Turns(),
			Reason:     reason,
			Duration:   elapsed,
			Overridden: overridden,
			Failure:    c.failure,
		}
		c.mu.Unlock()

		c.metrics.RecordSessionEnded(context.Background(), string(reason), elapsed.Seconds())
		slog.Info("interview: finished", "id", c.id, "reason", reason, "overridden", overridden,
			"duration", elapsed, "turns", c.log.Len())
		c.obs.Status(c.machine.State())
		close(c.done)
	})
}
