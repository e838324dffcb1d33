// Package app wires the panelai command-line interview: it builds the live
// provider and audio devices from the [config.Registry], obtains credentials,
// runs one [interview.Controller] against the local microphone and speakers,
// and fetches the feedback report once the interview is over.
//
// Typical lifecycle:
//
//	a, err := app.New(ctx, cfg, reg)
//	if err != nil { ... }
//	defer a.Close()
//	res, err := a.Run(ctx, token)
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/panelai/internal/config"
	"github.com/MrWong99/panelai/internal/credential"
	"github.com/MrWong99/panelai/internal/feedback"
	"github.com/MrWong99/panelai/internal/interview"
	"github.com/MrWong99/panelai/internal/observe"
	"github.com/MrWong99/panelai/internal/policy"
	"github.com/MrWong99/panelai/internal/resilience"
	"github.com/MrWong99/panelai/internal/resume"
	"github.com/MrWong99/panelai/internal/session"
	"github.com/MrWong99/panelai/internal/textgen"
	"github.com/MrWong99/panelai/pkg/provider/live"
)

// reportTimeout bounds feedback generation after the interview.
const reportTimeout = 2 * time.Minute

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for [New].
type Option func(*App)

// WithProvider injects the live provider instead of creating it from the
// registry.
func WithProvider(p live.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithDevices injects the audio devices instead of creating them from the
// registry.
func WithDevices(d config.Devices) Option {
	return func(a *App) { a.devices = d }
}

// WithIssuer injects the credential source.
func WithIssuer(i session.Issuer) Option {
	return func(a *App) { a.issuer = i }
}

// WithReporter injects the feedback generator.
func WithReporter(r feedback.Reporter) Option {
	return func(a *App) { a.reporter = r }
}

// WithArchive stores every received report in ar.
func WithArchive(ar feedback.Archive) Option {
	return func(a *App) { a.archive = ar }
}

// WithExtractor injects the resume extractor.
func WithExtractor(ex resume.Extractor) Option {
	return func(a *App) { a.extractor = ex }
}

// WithMetrics records metrics on met instead of [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(a *App) { a.metrics = met }
}

// WithIO replaces stdin and stdout for commands and terminal output.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.in = in
		a.out = out
	}
}

// ── App ────────────────────────────────────────────────────────────────────────

// App runs a single command-line interview.
type App struct {
	cfg *config.Config

	provider  live.Provider
	devices   config.Devices
	issuer    session.Issuer
	reporter  feedback.Reporter
	archive   feedback.Archive
	extractor resume.Extractor
	metrics   *observe.Metrics

	in  io.Reader
	out io.Writer

	// started is set once the devices are handed to the session, which
	// closes them itself.
	started bool
}

// New creates an App from cfg. Components not injected through opts are
// built from reg and the configuration.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, in: os.Stdin, out: os.Stdout}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.provider == nil {
		p, err := reg.CreateLive(cfg.Live)
		if err != nil {
			return nil, fmt.Errorf("app: create live provider: %w", err)
		}
		a.provider = p
	}
	if a.devices.Microphone == nil || a.devices.Output == nil {
		d, err := reg.CreateAudio(cfg.Audio)
		if err != nil {
			return nil, fmt.Errorf("app: create audio devices: %w", err)
		}
		a.devices = d
	}

	if err := a.initCredentials(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.archive == nil && cfg.Feedback.ReportLog != "" {
		a.archive = feedback.NewFileStore(cfg.Feedback.ReportLog)
	}
	return a, nil
}

// initCredentials selects the issuer, reporter and resume extractor. A
// configured server takes precedence over a local API key.
func (a *App) initCredentials(ctx context.Context) error {
	server := a.cfg.Credential.ServerURL
	key := a.cfg.Live.APIKey

	if a.issuer == nil {
		switch {
		case server != "":
			a.issuer = credential.NewHTTPIssuer(server)
		default:
			a.issuer = credential.StaticIssuer{Key: key}
		}
	}

	var models textgen.Models
	if key != "" && ((a.reporter == nil && server == "") || a.extractor == nil) {
		m, err := textgen.New(ctx, key)
		if err != nil {
			return fmt.Errorf("app: text models: %w", err)
		}
		models = resilience.GuardModels(m, nil)
	}

	if a.reporter == nil {
		switch {
		case server != "":
			a.reporter = feedback.NewClient(server, nil)
		case models != nil:
			a.reporter = feedback.NewGenerator(models,
				feedback.WithModel(a.cfg.Feedback.Model),
				feedback.WithGeneratorMetrics(a.metrics),
			)
		}
	}

	if a.extractor == nil {
		chain := resume.Chain{resume.TextExtractor{}}
		if models != nil {
			chain = append(chain, resume.NewModelExtractor(models, a.cfg.Resume.Model, a.metrics))
		}
		a.extractor = chain
	}
	return nil
}

// Run conducts the interview until it finishes or ctx is cancelled, then
// generates the feedback report unless ctx was cancelled. The returned
// result is complete even when err is non-nil.
func (a *App) Run(ctx context.Context, verificationToken string) (interview.Result, error) {
	iv := a.cfg.Interview.Interview
	if path := a.cfg.Interview.ResumeFile; path != "" {
		text, err := resume.Load(ctx, path, a.extractor)
		if err != nil {
			slog.Warn("app: resume not loaded", "path", path, "err", err)
		} else {
			iv.ResumeContext = text
		}
	}
	if err := iv.Validate(); err != nil {
		return interview.Result{}, fmt.Errorf("app: %w", err)
	}

	term := newTerminal(a.out)
	limits := policy.Config{
		MaxDuration:       a.cfg.Session.MaxDuration,
		InactivityTimeout: a.cfg.Session.InactivityTimeout,
		Countdown:         a.cfg.Session.Countdown,
		Tick:              a.cfg.Session.Tick,
	}
	ctrl := interview.New(a.provider, a.issuer, a.devices.Microphone, a.devices.Output,
		interview.Config{Interview: iv, Limits: limits}, term,
		interview.WithMetrics(a.metrics),
		interview.WithSessionOptions(
			session.WithVoice(a.cfg.Live.Voice),
			session.WithEndGrace(a.cfg.Session.EndGrace),
			session.WithFrameSize(a.cfg.Audio.FrameSize),
		),
	)
	a.started = true

	term.banner(iv)
	if err := ctrl.Start(ctx, verificationToken); err != nil {
		ctrl.End()
		<-ctrl.Done()
		return ctrl.Result(), fmt.Errorf("app: start interview: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go a.readCommands(ctrl, term, stop)

	cancelled, closed := ctx.Done(), term.closed()
	for done := false; !done; {
		select {
		case <-cancelled:
			slog.Info("app: interrupted, ending interview")
			ctrl.Override()
			cancelled = nil
		case <-closed:
			// The connection is gone; nothing is left to count down.
			ctrl.End()
			closed = nil
		case <-ctrl.Done():
			done = true
		}
	}

	res := ctrl.Result()
	term.summary(res)
	if ctx.Err() != nil || a.reporter == nil {
		return res, nil
	}
	a.report(ctx, res, term)
	return res, nil
}

// readCommands handles single-letter commands from the input until stop is
// closed or the input ends.
func (a *App) readCommands(ctrl *interview.Controller, term *terminal, stop <-chan struct{}) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-stop:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch strings.ToLower(line) {
			case "m", "mute":
				term.muted(ctrl.ToggleMute())
			case "e", "end":
				if ctrl.Ending() {
					ctrl.Override()
				} else {
					ctrl.End()
				}
			case "":
			default:
				term.help()
			}
		}
	}
}

// report generates, prints and archives the feedback for res.
func (a *App) report(ctx context.Context, res interview.Result, term *terminal) {
	req := feedback.NewRequest(res.Turns, res.Interview)
	if len(req.Transcript) == 0 {
		term.line("No answers were recorded, so there is no feedback report.")
		return
	}

	term.line("Generating your feedback report...")
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	rep, err := a.reporter.Generate(ctx, req)
	switch {
	case errors.Is(err, feedback.ErrQuota):
		term.line("Feedback is unavailable: the API quota for this key has been exhausted for the day.")
		return
	case err != nil:
		slog.Warn("app: feedback generation failed", "id", res.ID, "err", err)
		fallback := feedback.FallbackReport()
		rep = &fallback
	}
	term.report(rep)

	if a.archive == nil {
		return
	}
	rec := feedback.Record{
		ID:        res.ID,
		CreatedAt: time.Now().UTC(),
		Request:   req.Sanitize(),
		Report:    *rep,
	}
	if err := a.archive.SaveReport(ctx, rec); err != nil {
		slog.Warn("app: failed to archive report", "id", res.ID, "err", err)
	}
}

// Close releases the audio devices if the interview never started. A
// started session closes its devices itself.
func (a *App) Close() {
	if a.started {
		return
	}
	if a.devices.Microphone != nil {
		if err := a.devices.Microphone.Close(); err != nil {
			slog.Warn("app: close microphone", "err", err)
		}
	}
	if a.devices.Output != nil {
		if err := a.devices.Output.Close(); err != nil {
			slog.Warn("app: close output", "err", err)
		}
	}
}
