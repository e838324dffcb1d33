// Package server assembles the panelai HTTP surface: credential issuance,
// feedback reports, resume extraction, health probes and Prometheus metrics.
//
// A [Server] is built once from a [config.Config]. Request budgets, the log
// level and the Turnstile secret are hot-reloaded when the server runs with a
// config file; everything else needs a restart.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/panelai/internal/archive"
	"github.com/MrWong99/panelai/internal/config"
	"github.com/MrWong99/panelai/internal/credential"
	"github.com/MrWong99/panelai/internal/feedback"
	"github.com/MrWong99/panelai/internal/health"
	"github.com/MrWong99/panelai/internal/observe"
	"github.com/MrWong99/panelai/internal/ratelimit"
	"github.com/MrWong99/panelai/internal/resilience"
	"github.com/MrWong99/panelai/internal/resume"
	"github.com/MrWong99/panelai/internal/textgen"
	"github.com/MrWong99/panelai/internal/verify"
)

// MetricsPath serves the Prometheus exposition.
const MetricsPath = "/metrics"

const (
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Store is the report archive as the server uses it.
type Store interface {
	feedback.Archive
	health.Pinger
}

var _ Store = (*archive.Store)(nil)

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records HTTP and provider metrics on met instead of
// [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(s *Server) { s.metrics = met }
}

// WithLogLevel lets hot reloads adjust lv, typically the level of the
// default logger's handler.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(s *Server) { s.level = lv }
}

// WithReporter injects the feedback generator instead of creating one from
// the API key.
func WithReporter(r feedback.Reporter) Option {
	return func(s *Server) { s.reporter = r }
}

// WithExtractor injects the resume extractor.
func WithExtractor(ex resume.Extractor) Option {
	return func(s *Server) { s.extractor = ex }
}

// WithStore injects the report archive instead of opening archive.postgres_dsn.
func WithStore(st Store) Option {
	return func(s *Server) { s.store = st }
}

// WithConfigPath enables hot reloading from path while the server runs.
func WithConfigPath(path string) Option {
	return func(s *Server) { s.configPath = path }
}

// WithWatchInterval sets the config polling interval.
func WithWatchInterval(d time.Duration) Option {
	return func(s *Server) { s.watchInterval = d }
}

// ── Server ─────────────────────────────────────────────────────────────────────

// Server owns the HTTP handlers and their shared dependencies.
type Server struct {
	cfg           *config.Config
	metrics       *observe.Metrics
	level         *slog.LevelVar
	reporter      feedback.Reporter
	extractor     resume.Extractor
	store         Store
	configPath    string
	watchInterval time.Duration

	verifier *reloadableVerifier
	limits   map[string]*ratelimit.Limiter
	health   *health.Handler
	handler  http.Handler

	closers []func()
}

// New builds a Server from cfg. A missing API key is not an error: the
// credential and feedback endpoints answer "API key not configured" and
// /readyz fails until the key is provided.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	if err := s.initProviders(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.initStore(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.verifier = &reloadableVerifier{}
	s.verifier.store(newTurnstile(cfg.Verify))

	s.limits = map[string]*ratelimit.Limiter{
		"credential": ratelimit.New(cfg.Credential.RateLimit, cfg.Credential.RateWindow),
		"feedback":   ratelimit.New(cfg.Feedback.RateLimit, cfg.Feedback.RateWindow),
		"resume":     ratelimit.New(cfg.Resume.RateLimit, cfg.Resume.RateWindow),
	}

	checkers := []health.Checker{
		health.Configured("api_key", func() bool { return cfg.Live.APIKey != "" }, credential.ErrMissingConfig),
	}
	if s.store != nil {
		checkers = append(checkers, health.Ping("archive", s.store))
	}
	s.health = health.New(checkers...)

	s.handler = s.routes()
	return s, nil
}

func (s *Server) initProviders(ctx context.Context) error {
	key := s.cfg.Live.APIKey
	if key == "" {
		slog.Warn("server: no API key configured; credential and feedback requests will fail")
	}

	var models textgen.Models
	if key != "" && (s.reporter == nil || s.extractor == nil) {
		m, err := textgen.New(ctx, key)
		if err != nil {
			return fmt.Errorf("server: text models: %w", err)
		}
		models = resilience.GuardModels(m, nil)
	}

	if s.reporter == nil && models != nil {
		s.reporter = feedback.NewGenerator(models,
			feedback.WithModel(s.cfg.Feedback.Model),
			feedback.WithGeneratorMetrics(s.metrics),
		)
	}

	if s.extractor == nil {
		chain := resume.Chain{resume.TextExtractor{}}
		if models != nil {
			chain = append(chain, resume.NewModelExtractor(models, s.cfg.Resume.Model, s.metrics))
		}
		s.extractor = chain
	}
	return nil
}

func (s *Server) initStore(ctx context.Context) error {
	if s.store != nil || s.cfg.Archive.PostgresDSN == "" {
		return nil
	}
	st, err := archive.Open(ctx, s.cfg.Archive.PostgresDSN)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	s.store = st
	s.closers = append(s.closers, st.Close)
	slog.Info("server: report archive connected")
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(credential.Endpoint, credential.NewHandler(s.cfg.Live.APIKey,
		credential.WithLimiter(s.limits["credential"]),
		credential.WithVerifier(s.verifier),
	))

	fbOpts := []feedback.HandlerOption{feedback.WithLimiter(s.limits["feedback"])}
	if s.store != nil {
		fbOpts = append(fbOpts, feedback.WithArchive(s.store))
	}
	mux.Handle(feedback.Endpoint, feedback.NewHandler(s.reporter, fbOpts...))

	mux.Handle(resume.Endpoint, resume.NewHandler(s.extractor, resume.WithLimiter(s.limits["resume"])))

	s.health.Register(mux)
	mux.Handle("GET "+MetricsPath, promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// Handler returns the root handler with tracing and request metrics applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Health returns the probe handler, e.g. to drain it early.
func (s *Server) Health() *health.Handler { return s.health }

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %q: %w", s.cfg.Server.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then drains the
// readiness probe and shuts down gracefully. It watches the config file when
// one was given.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.configPath != "" {
		var opts []config.WatcherOption
		if s.watchInterval > 0 {
			opts = append(opts, config.WithInterval(s.watchInterval))
		}
		w, err := config.NewWatcher(s.configPath, s.Reload, opts...)
		if err != nil {
			ln.Close()
			return fmt.Errorf("server: %w", err)
		}
		defer w.Stop()
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server: listening", "addr", ln.Addr().String(), "tls", s.cfg.Server.TLS != nil)
		var err error
		if tls := s.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		s.health.Drain()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Reload applies the hot-reloadable part of a config change.
func (s *Server) Reload(_, cfg *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && s.level != nil {
		s.level.Set(d.NewLogLevel.Level())
		slog.Info("server: log level changed", "level", d.NewLogLevel)
	}
	for _, l := range d.Limits {
		lim, ok := s.limits[l.Endpoint]
		if !ok {
			continue
		}
		lim.SetLimit(l.New.Limit, l.New.Window)
		slog.Info("server: rate limit changed", "endpoint", l.Endpoint, "limit", l.New.Limit, "window", l.New.Window)
	}
	if d.VerifyChanged {
		s.verifier.store(newTurnstile(cfg.Verify))
		slog.Info("server: bot verification reconfigured", "enabled", cfg.Verify.TurnstileSecret != "")
	}
}

// Close releases the archive connection. Safe to call more than once.
func (s *Server) Close() {
	closers := s.closers
	s.closers = nil
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// ── Verification ───────────────────────────────────────────────────────────────

func newTurnstile(cfg config.VerifyConfig) *verify.Turnstile {
	return verify.New(cfg.TurnstileSecret, verify.WithURL(cfg.URL))
}

// reloadableVerifier forwards to the current Turnstile so the secret can be
// rotated while requests are in flight.
type reloadableVerifier struct {
	cur atomic.Pointer[verify.Turnstile]
}

var _ verify.Verifier = (*reloadableVerifier)(nil)

func (r *reloadableVerifier) store(t *verify.Turnstile) { r.cur.Store(t) }

func (r *reloadableVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	return r.cur.Load().Verify(ctx, token, remoteIP)
}
