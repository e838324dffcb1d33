package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

// HTTPIssuerOption configures an [HTTPIssuer].
type HTTPIssuerOption func(*HTTPIssuer)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) HTTPIssuerOption {
	return func(i *HTTPIssuer) { i.client = c }
}

// HTTPIssuer requests credentials from a server running [Handler].
type HTTPIssuer struct {
	url    string
	client *http.Client
}

// NewHTTPIssuer returns an issuer for the server at baseURL.
func NewHTTPIssuer(baseURL string, opts ...HTTPIssuerOption) *HTTPIssuer {
	i := &HTTPIssuer{
		url:    strings.TrimRight(baseURL, "/") + Endpoint,
		client: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Issue fetches a credential. A non-empty token is sent with POST, otherwise
// GET is used. Server refusals map onto [ErrRateLimited],
// [ErrVerificationFailed] and [ErrMissingConfig].
func (i *HTTPIssuer) Issue(ctx context.Context, verificationToken string) (string, error) {
	var req *http.Request
	var err error
	if verificationToken != "" {
		body, _ := json.Marshal(issueRequest{TurnstileToken: verificationToken})
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, i.url, nil)
	}
	if err != nil {
		return "", fmt.Errorf("credential: build request: %w", err)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("credential: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("credential: read response: %w", err)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "application/json" {
		return "", fmt.Errorf("credential: invalid server response (not JSON, status %d)", resp.StatusCode)
	}
	var body issueResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("credential: decode response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: %s", ErrRateLimited, body.Error)
	case resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: %s", ErrVerificationFailed, body.Error)
	case body.Error == msgMissingConfig:
		return "", ErrMissingConfig
	case resp.StatusCode != http.StatusOK:
		msg := body.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("credential: server error (status %d): %s", resp.StatusCode, msg)
	case body.APIKey == "":
		return "", ErrMissingConfig
	}
	return body.APIKey, nil
}
