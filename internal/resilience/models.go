package resilience

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genai"

	"github.com/MrWong99/panelai/internal/textgen"
)

// Models guards a text-model client with a [Breaker].
type Models struct {
	inner   textgen.Models
	breaker *Breaker
}

var _ textgen.Models = (*Models)(nil)

// GuardModels wraps inner. A nil b gets a breaker named "gemini-text" that
// ignores request errors the caller caused.
func GuardModels(inner textgen.Models, b *Breaker) *Models {
	if b == nil {
		b = New(Config{Name: "gemini-text", Counts: CountsModelError})
	}
	return &Models{inner: inner, breaker: b}
}

// Breaker returns the breaker guarding the client.
func (m *Models) Breaker() *Breaker { return m.breaker }

// GenerateContent implements [textgen.Models].
func (m *Models) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	err := m.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = m.inner.GenerateContent(ctx, model, contents, config)
		return err
	})
	return resp, err
}

// CountsModelError counts server failures, timeouts and quota errors. Caller
// cancellations and rejected requests (4xx other than 429) do not count.
func CountsModelError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if textgen.IsQuota(err) {
		return true
	}
	if code, ok := apiCode(err); ok && code >= http.StatusBadRequest && code < http.StatusInternalServerError {
		return false
	}
	return true
}

func apiCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code, true
	}
	return 0, false
}
