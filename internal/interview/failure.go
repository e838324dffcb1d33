package interview

import (
	"errors"
	"strings"

	"github.com/MrWong99/panelai/internal/credential"
	"github.com/MrWong99/panelai/pkg/audio/capture"
	"github.com/MrWong99/panelai/pkg/provider/live"
)

// FailureKind selects how a failure is presented to the candidate.
type FailureKind int

const (
	// FailureGeneric is any failure the candidate can retry right away.
	FailureGeneric FailureKind = iota
	// FailureQuota means the API quota is exhausted; retrying soon is futile.
	FailureQuota
	// FailureRateLimit means requests were throttled for a bounded window.
	FailureRateLimit
	// FailureMicrophone means audio capture could not acquire the device.
	FailureMicrophone
	// FailureConfig means the service is missing required configuration.
	FailureConfig
)

func (k FailureKind) String() string {
	switch k {
	case FailureGeneric:
		return "generic"
	case FailureQuota:
		return "quota"
	case FailureRateLimit:
		return "rate_limit"
	case FailureMicrophone:
		return "microphone"
	case FailureConfig:
		return "config"
	}
	return "unknown"
}

// RateWindow is the throttling window a rate-limit failure refers to.
type RateWindow string

// Rate-limit windows.
const (
	WindowRPM     RateWindow = "rpm"
	WindowTPM     RateWindow = "tpm"
	WindowRPD     RateWindow = "rpd"
	WindowGeneral RateWindow = "general"
)

// Failure is a classified session failure ready for display.
type Failure struct {
	Kind FailureKind
	// Window is set for [FailureRateLimit] only.
	Window  RateWindow
	Message string
	Err     error
}

// Title is a short heading for the failure.
func (f Failure) Title() string {
	switch f.Kind {
	case FailureQuota:
		return "Daily Limit Reached"
	case FailureRateLimit:
		if f.Window == WindowRPD {
			return "Daily Limit Reached"
		}
		return "Please Slow Down"
	case FailureMicrophone:
		return "Microphone Required"
	case FailureConfig:
		return "Service Unavailable"
	}
	return "Connection Failed"
}

// Advice tells the candidate what to do next.
func (f Failure) Advice() string {
	switch f.Kind {
	case FailureQuota:
		return "Please try again later or use a different API key."
	case FailureRateLimit:
		switch f.Window {
		case WindowRPM, WindowTPM:
			return "Please wait 1 minute before trying again."
		case WindowRPD:
			return "Please try again tomorrow."
		}
		return "Please wait a moment and try again."
	case FailureMicrophone:
		return "Allow microphone access and start the interview again."
	case FailureConfig:
		return "Contact the administrator of this service."
	}
	return "Please reconnect and try again."
}

const (
	msgQuota      = "The API quota for this key has been exhausted for the day."
	msgMicrophone = "Microphone access is required for the interview."
	msgConfig     = "API key not configured"
	msgFallback   = "Connection failed"
)

// Classify maps a session error onto a [Failure]. Typed errors decide
// first: a classified live error with an exhausted-resource status is a
// quota failure, a bare 429 is a rate limit. Untyped errors fall back to
// matching their text.
func Classify(err error) Failure {
	if err == nil {
		return Failure{Kind: FailureGeneric, Message: msgFallback}
	}
	text := strings.ToLower(err.Error())

	var le *live.Error
	switch {
	case errors.Is(err, capture.ErrMicrophoneAccess):
		return Failure{Kind: FailureMicrophone, Message: msgMicrophone, Err: err}
	case errors.Is(err, credential.ErrMissingConfig):
		return Failure{Kind: FailureConfig, Message: msgConfig, Err: err}
	case errors.Is(err, credential.ErrRateLimited):
		return rateLimited(err, text)
	case errors.As(err, &le):
		if le.Kind != live.KindQuota {
			break
		}
		if strings.EqualFold(le.Status, "RESOURCE_EXHAUSTED") || mentionsQuota(strings.ToLower(le.Message)) {
			return Failure{Kind: FailureQuota, Message: msgQuota, Err: err}
		}
		return rateLimited(err, strings.ToLower(le.Message))
	case mentionsQuota(text):
		return Failure{Kind: FailureQuota, Message: msgQuota, Err: err}
	case mentionsRateLimit(text):
		return rateLimited(err, text)
	}

	msg := err.Error()
	if msg == "" {
		msg = msgFallback
	}
	return Failure{Kind: FailureGeneric, Message: msg, Err: err}
}

func rateLimited(err error, text string) Failure {
	return Failure{Kind: FailureRateLimit, Window: rateWindow(text), Message: err.Error(), Err: err}
}

func mentionsQuota(s string) bool {
	return strings.Contains(s, "quota_exceeded") ||
		strings.Contains(s, "quota") ||
		strings.Contains(s, "resource exhausted") ||
		strings.Contains(s, "resource_exhausted")
}

func mentionsRateLimit(s string) bool {
	return strings.Contains(s, "429") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "too many requests")
}

func rateWindow(s string) RateWindow {
	switch {
	case strings.Contains(s, "per minute") || strings.Contains(s, "rpm"):
		return WindowRPM
	case strings.Contains(s, "token") || strings.Contains(s, "tpm"):
		return WindowTPM
	case strings.Contains(s, "day") || strings.Contains(s, "daily") || strings.Contains(s, "rpd"):
		return WindowRPD
	}
	return WindowGeneral
}
