// Package textgen holds the Gemini text-model plumbing shared by report
// generation and resume extraction.
package textgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// ErrQuota reports that the model's quota is exhausted.
var ErrQuota = errors.New("textgen: quota exceeded")

// Models is the slice of [genai.Models] callers depend on.
type Models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

var _ Models = (*genai.Models)(nil)

// New returns the model service of a Gemini API client authenticated with
// apiKey.
func New(ctx context.Context, apiKey string) (*genai.Models, error) {
	if apiKey == "" {
		return nil, errors.New("textgen: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("textgen: create client: %w", err)
	}
	return client.Models, nil
}

// IsQuota reports whether err is an exhausted quota. API errors answer from
// their code and status; anything else falls back to matching the text.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuota) {
		return true
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiQuota(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiQuota(*apiErrPtr)
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "resource exhausted")
}

func apiQuota(e genai.APIError) bool {
	return e.Code == http.StatusTooManyRequests || strings.EqualFold(e.Status, "RESOURCE_EXHAUSTED")
}

// Wrap classifies a model error: quota failures wrap [ErrQuota], everything
// else is prefixed with op.
func Wrap(op string, err error) error {
	if IsQuota(err) {
		return fmt.Errorf("%w: %v", ErrQuota, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
