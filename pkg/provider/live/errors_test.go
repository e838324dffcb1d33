package live_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/panelai/pkg/provider/live"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		code    int
		status  string
		message string
		want    live.ErrorKind
	}{
		{"status wins", 0, "RESOURCE_EXHAUSTED", "", live.KindQuota},
		{"status lowercase", 0, "resource_exhausted", "", live.KindQuota},
		{"code 429", 429, "", "slow down", live.KindQuota},
		{"status beats quota text", 0, "INVALID_ARGUMENT", "quota field malformed", live.KindProtocol},
		{"4xx is protocol", 400, "", "", live.KindProtocol},
		{"5xx is connection", 503, "", "", live.KindConnection},
		{"text fallback", 0, "", "You exceeded your current quota", live.KindQuota},
		{"plain failure", 0, "", "socket hang up", live.KindConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := live.Classify(tt.code, tt.status, tt.message); got != tt.want {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsQuota(t *testing.T) {
	t.Parallel()

	quota := live.NewError(0, "RESOURCE_EXHAUSTED", "Quota exceeded", nil)
	if !live.IsQuota(quota) {
		t.Error("classified quota error not detected")
	}
	if !live.IsQuota(fmt.Errorf("connect: %w", quota)) {
		t.Error("wrapped quota error not detected")
	}

	// A classified non-quota error is trusted even if its text mentions 429.
	proto := live.NewError(400, "INVALID_ARGUMENT", "field 429 invalid", nil)
	if live.IsQuota(proto) {
		t.Error("structured kind should win over text")
	}

	if !live.IsQuota(errors.New("HTTP 429 Too Many Requests")) {
		t.Error("unclassified 429 text should match")
	}
	if live.IsQuota(errors.New("connection reset")) || live.IsQuota(nil) {
		t.Error("false positive")
	}
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := live.NewError(503, "", "", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose cause")
	}
	if got, want := err.Error(), "live: connection (503): boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	q := live.NewError(0, "RESOURCE_EXHAUSTED", "out of quota", nil)
	if got, want := q.Error(), "live: quota (RESOURCE_EXHAUSTED): out of quota"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
