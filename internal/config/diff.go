package config

import "time"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LimitsChanged is true when any per-client request budget changed.
	LimitsChanged bool
	Limits        []LimitDiff

	// VerifyChanged is true when the Turnstile secret was set, rotated or
	// removed.
	VerifyChanged bool
}

// LimitDiff describes a changed request budget for one endpoint.
type LimitDiff struct {
	Endpoint string
	Old, New RateLimit
}

// RateLimit is a request budget: Limit requests per Window.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

// Changed reports whether d contains anything to apply.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.LimitsChanged || d.VerifyChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Request budgets
	for _, l := range []struct {
		endpoint string
		old, new RateLimit
	}{
		{"credential", RateLimit{old.Credential.RateLimit, old.Credential.RateWindow}, RateLimit{new.Credential.RateLimit, new.Credential.RateWindow}},
		{"feedback", RateLimit{old.Feedback.RateLimit, old.Feedback.RateWindow}, RateLimit{new.Feedback.RateLimit, new.Feedback.RateWindow}},
		{"resume", RateLimit{old.Resume.RateLimit, old.Resume.RateWindow}, RateLimit{new.Resume.RateLimit, new.Resume.RateWindow}},
	} {
		if l.old != l.new {
			d.Limits = append(d.Limits, LimitDiff{Endpoint: l.endpoint, Old: l.old, New: l.new})
			d.LimitsChanged = true
		}
	}

	// Verification
	if old.Verify != new.Verify {
		d.VerifyChanged = true
	}

	return d
}
