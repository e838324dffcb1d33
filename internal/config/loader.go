package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/MrWong99/panelai/internal/policy"
	"github.com/MrWong99/panelai/internal/prompt"
	"github.com/MrWong99/panelai/pkg/audio"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] to unset fields.
const (
	DefaultListenAddr    = ":8080"
	DefaultLiveProvider  = "gemini"
	DefaultLiveModel     = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice         = "Zephyr"
	DefaultAudioBackend  = "ffmpeg"
	DefaultFeedbackModel = "gemini-flash-lite-latest"
	DefaultResumeModel   = "gemma-3-4b-it"
	DefaultEndGrace      = 1500 * time.Millisecond
)

// Environment variables read by [ApplyEnv].
const (
	EnvAPIKey          = "GEMINI_API_KEY"
	EnvTurnstileSecret = "TURNSTILE_SECRET_KEY"
	EnvServerURL       = "PANELAI_SERVER_URL"
	EnvPostgresDSN     = "PANELAI_POSTGRES_DSN"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":  {"gemini"},
	"audio": {"ffmpeg"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Live.Provider, DefaultLiveProvider)
	setDefault(&cfg.Live.Model, DefaultLiveModel)
	setDefault(&cfg.Live.Voice, DefaultVoice)

	setDefault(&cfg.Audio.Backend, DefaultAudioBackend)
	setDefault(&cfg.Audio.InputSampleRate, audio.InputSampleRate)
	setDefault(&cfg.Audio.OutputSampleRate, audio.OutputSampleRate)
	setDefault(&cfg.Audio.FrameSize, audio.FrameSize)
	setDefault(&cfg.Audio.FFmpegPath, "ffmpeg")
	setDefault(&cfg.Audio.FFplayPath, "ffplay")

	setDefault(&cfg.Session.MaxDuration, policy.DefaultMaxDuration)
	setDefault(&cfg.Session.InactivityTimeout, policy.DefaultInactivityTimeout)
	setDefault(&cfg.Session.EndGrace, DefaultEndGrace)
	setDefault(&cfg.Session.Countdown, policy.DefaultCountdown)
	setDefault(&cfg.Session.Tick, policy.DefaultTick)

	setDefault(&cfg.Credential.RateLimit, 10)
	setDefault(&cfg.Credential.RateWindow, time.Minute)

	setDefault(&cfg.Feedback.Model, DefaultFeedbackModel)
	setDefault(&cfg.Feedback.RateLimit, 5)
	setDefault(&cfg.Feedback.RateWindow, time.Minute)

	setDefault(&cfg.Resume.Model, DefaultResumeModel)
	setDefault(&cfg.Resume.RateLimit, 10)
	setDefault(&cfg.Resume.RateWindow, time.Minute)

	setDefault(&cfg.Interview.Type, prompt.TypeGeneral)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// ApplyEnv overlays secrets and endpoints from the environment. Set
// variables win over the file.
func ApplyEnv(cfg *Config) {
	applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for _, e := range []struct {
		name  string
		field *string
	}{
		{EnvAPIKey, &cfg.Live.APIKey},
		{EnvTurnstileSecret, &cfg.Verify.TurnstileSecret},
		{EnvServerURL, &cfg.Credential.ServerURL},
		{EnvPostgresDSN, &cfg.Archive.PostgresDSN},
	} {
		if v, ok := lookup(e.name); ok && v != "" {
			*e.field = v
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("live", cfg.Live.Provider)
	validateProviderName("audio", cfg.Audio.Backend)

	// Audio
	if cfg.Audio.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d must not be negative", cfg.Audio.InputSampleRate))
	}
	if cfg.Audio.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d must not be negative", cfg.Audio.OutputSampleRate))
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must not be negative", cfg.Audio.FrameSize))
	}
	if cfg.Audio.InputSampleRate != 0 && cfg.Audio.InputSampleRate != audio.InputSampleRate {
		slog.Warn("audio.input_sample_rate differs from the rate the model expects; capture is resampled",
			"configured", cfg.Audio.InputSampleRate,
			"model", audio.InputSampleRate,
		)
	}

	// Session
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"session.max_duration", cfg.Session.MaxDuration},
		{"session.inactivity_timeout", cfg.Session.InactivityTimeout},
		{"session.end_grace", cfg.Session.EndGrace},
		{"session.countdown", cfg.Session.Countdown},
		{"session.tick", cfg.Session.Tick},
		{"credential.rate_window", cfg.Credential.RateWindow},
		{"feedback.rate_window", cfg.Feedback.RateWindow},
		{"resume.rate_window", cfg.Resume.RateWindow},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", d.name, d.value))
		}
	}
	if cfg.Session.Tick > 0 && cfg.Session.MaxDuration > 0 && cfg.Session.Tick > cfg.Session.MaxDuration {
		errs = append(errs, fmt.Errorf("session.tick %s exceeds session.max_duration %s", cfg.Session.Tick, cfg.Session.MaxDuration))
	}

	// Rate limits
	for _, l := range []struct {
		name  string
		value int
	}{
		{"credential.rate_limit", cfg.Credential.RateLimit},
		{"feedback.rate_limit", cfg.Feedback.RateLimit},
		{"resume.rate_limit", cfg.Resume.RateLimit},
	} {
		if l.value < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", l.name, l.value))
		}
	}

	// Credential
	if cfg.Credential.ServerURL != "" {
		if u, err := url.Parse(cfg.Credential.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("credential.server_url %q is not an absolute URL", cfg.Credential.ServerURL))
		}
	}

	// Interview
	iv := cfg.Interview.Interview
	if iv.Type != "" {
		if _, ok := prompt.ParseInterviewType(string(iv.Type)); !ok {
			errs = append(errs, fmt.Errorf("interview.interview_type %q is invalid; valid values: Behavioral, Technical, General", iv.Type))
		}
	}
	if iv.Difficulty != "" {
		if _, ok := prompt.ParseDifficulty(string(iv.Difficulty)); !ok {
			errs = append(errs, fmt.Errorf("interview.difficulty %q is invalid; valid values: Easy, Medium, Hard", iv.Difficulty))
		}
	}

	// Archive availability
	if cfg.Archive.PostgresDSN == "" {
		slog.Debug("archive.postgres_dsn is empty; feedback reports will not be archived")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a provider registered at runtime",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
