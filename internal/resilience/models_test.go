package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/panelai/internal/textgen"
)

type fakeModels struct {
	calls int
	err   error
}

func (f *fakeModels) GenerateContent(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{}, nil
}

func TestModels_PassesThrough(t *testing.T) {
	t.Parallel()
	inner := &fakeModels{}
	m := GuardModels(inner, nil)

	resp, err := m.GenerateContent(t.Context(), "model", nil, nil)
	if err != nil || resp == nil {
		t.Fatalf("GenerateContent = %v, %v", resp, err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestModels_OpenKeepsQuotaError(t *testing.T) {
	t.Parallel()
	inner := &fakeModels{err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}}
	m := GuardModels(inner, New(Config{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour, Counts: CountsModelError}))

	for range 2 {
		_, _ = m.GenerateContent(t.Context(), "model", nil, nil)
	}
	_, err := m.GenerateContent(t.Context(), "model", nil, nil)
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
	if !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if !textgen.IsQuota(err) {
		t.Errorf("IsQuota(%v) = false, want true", err)
	}
	if m.Breaker().State() != StateOpen {
		t.Errorf("state = %s, want open", m.Breaker().State())
	}
}

func TestCountsModelError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"canceled", fmt.Errorf("x: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, true},
		{"quota", genai.APIError{Code: 429}, true},
		{"quota status", &genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}, true},
		{"bad request", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}, false},
		{"not found", &genai.APIError{Code: 404}, false},
		{"server error", genai.APIError{Code: 503, Status: "UNAVAILABLE"}, true},
		{"transport", errors.New("connection reset"), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CountsModelError(tc.err); got != tc.want {
				t.Errorf("CountsModelError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
