package interview_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/panelai/internal/credential"
	"github.com/MrWong99/panelai/internal/interview"
	"github.com/MrWong99/panelai/pkg/audio/capture"
	"github.com/MrWong99/panelai/pkg/provider/live"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantKind   interview.FailureKind
		wantWindow interview.RateWindow
		wantMsg    string
	}{
		{
			name:     "microphone",
			err:      &capture.MicrophoneAccessError{Err: errors.New("permission denied")},
			wantKind: interview.FailureMicrophone,
			wantMsg:  "Microphone access is required for the interview.",
		},
		{
			name:     "missing config",
			err:      fmt.Errorf("session: issue credential: %w", credential.ErrMissingConfig),
			wantKind: interview.FailureConfig,
			wantMsg:  "API key not configured",
		},
		{
			name:     "quota code string",
			err:      errors.New("QUOTA_EXCEEDED"),
			wantKind: interview.FailureQuota,
		},
		{
			name:     "resource exhausted text",
			err:      errors.New("upstream: Resource Exhausted"),
			wantKind: interview.FailureQuota,
		},
		{
			name:       "structured 429",
			err:        live.NewError(429, "", "requests per minute exceeded", nil),
			wantKind:   interview.FailureRateLimit,
			wantWindow: interview.WindowRPM,
		},
		{
			name:     "structured 429 with quota message",
			err:      live.NewError(429, "", "You exceeded your current quota", nil),
			wantKind: interview.FailureQuota,
		},
		{
			name:     "structured connection error",
			err:      live.NewError(503, "UNAVAILABLE", "backend busy", nil),
			wantKind: interview.FailureGeneric,
		},
		{
			name:     "structured resource exhausted",
			err:      live.NewError(0, "RESOURCE_EXHAUSTED", "", nil),
			wantKind: interview.FailureQuota,
		},
		{
			name:       "rate limit per minute",
			err:        errors.New("429: rate limit exceeded, requests per minute"),
			wantKind:   interview.FailureRateLimit,
			wantWindow: interview.WindowRPM,
		},
		{
			name:       "rate limit tokens",
			err:        errors.New("Too many requests: input token count per window"),
			wantKind:   interview.FailureRateLimit,
			wantWindow: interview.WindowTPM,
		},
		{
			name:       "rate limit tpm",
			err:        errors.New("rate limit: TPM exceeded"),
			wantKind:   interview.FailureRateLimit,
			wantWindow: interview.WindowTPM,
		},
		{
			name:       "rate limit daily",
			err:        errors.New("rate limit reached for today, daily cap"),
			wantKind:   interview.FailureRateLimit,
			wantWindow: interview.WindowRPD,
		},
		{
			name:       "credential throttled",
			err:        fmt.Errorf("%w: slow", credential.ErrRateLimited),
			wantKind:   interview.FailureRateLimit,
			wantWindow: interview.WindowGeneral,
		},
		{
			name:     "generic",
			err:      errors.New("dial tcp: connection refused"),
			wantKind: interview.FailureGeneric,
			wantMsg:  "dial tcp: connection refused",
		},
		{
			name:     "nil",
			err:      nil,
			wantKind: interview.FailureGeneric,
			wantMsg:  "Connection failed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := interview.Classify(tc.err)
			if f.Kind != tc.wantKind {
				t.Errorf("Kind = %v, want %v", f.Kind, tc.wantKind)
			}
			if f.Window != tc.wantWindow {
				t.Errorf("Window = %q, want %q", f.Window, tc.wantWindow)
			}
			if tc.wantMsg != "" && f.Message != tc.wantMsg {
				t.Errorf("Message = %q, want %q", f.Message, tc.wantMsg)
			}
			if f.Advice() == "" || f.Title() == "" {
				t.Error("Advice and Title must not be empty")
			}
		})
	}
}

func TestFailure_Advice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		f    interview.Failure
		want string
	}{
		{interview.Failure{Kind: interview.FailureRateLimit, Window: interview.WindowRPM}, "Please wait 1 minute before trying again."},
		{interview.Failure{Kind: interview.FailureRateLimit, Window: interview.WindowTPM}, "Please wait 1 minute before trying again."},
		{interview.Failure{Kind: interview.FailureRateLimit, Window: interview.WindowRPD}, "Please try again tomorrow."},
		{interview.Failure{Kind: interview.FailureRateLimit, Window: interview.WindowGeneral}, "Please wait a moment and try again."},
		{interview.Failure{Kind: interview.FailureQuota}, "Please try again later or use a different API key."},
	}
	for _, tc := range tests {
		if got := tc.f.Advice(); got != tc.want {
			t.Errorf("Advice(%v/%s) = %q, want %q", tc.f.Kind, tc.f.Window, got, tc.want)
		}
	}
}
