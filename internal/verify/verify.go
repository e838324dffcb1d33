// Package verify checks Cloudflare Turnstile bot-verification tokens
// server-side.
//
// A [Turnstile] without a secret allows every request, which keeps local
// development friction-free. Network failures while talking to the
// verification endpoint also allow the request so an outage on the
// verifier's side never locks out legitimate candidates.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultURL is the Turnstile siteverify endpoint.
const DefaultURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// ErrMissingToken is returned when verification is configured but the
// request carried no token.
var ErrMissingToken = errors.New("verify: security verification required")

// RejectedError reports a token the verifier refused.
type RejectedError struct {
	Codes []string
}

func (e *RejectedError) Error() string {
	if len(e.Codes) == 0 {
		return "verify: token rejected"
	}
	return "verify: token rejected: " + strings.Join(e.Codes, ", ")
}

// Verifier checks a bot-verification token.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// Compile-time interface assertion.
var _ Verifier = (*Turnstile)(nil)

// Option configures a [Turnstile].
type Option func(*Turnstile)

// WithURL overrides the siteverify endpoint. Intended for tests.
func WithURL(u string) Option {
	return func(t *Turnstile) {
		if u != "" {
			t.url = u
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Turnstile) { t.client = c }
}

// Turnstile verifies tokens against Cloudflare.
type Turnstile struct {
	secret string
	url    string
	client *http.Client
}

// New returns a Turnstile verifier. An empty secret disables verification.
func New(secret string, opts ...Option) *Turnstile {
	t := &Turnstile{
		secret: secret,
		url:    DefaultURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Enabled reports whether a secret is configured.
func (t *Turnstile) Enabled() bool { return t.secret != "" }

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify returns nil when the token is accepted, verification is disabled,
// or the verifier could not be reached.
func (t *Turnstile) Verify(ctx context.Context, token, remoteIP string) error {
	if !t.Enabled() {
		slog.Warn("verify: turnstile not configured, allowing request")
		return nil
	}
	if token == "" {
		return ErrMissingToken
	}

	form := url.Values{}
	form.Set("secret", t.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("verify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		slog.Error("verify: turnstile unreachable, allowing request", "err", err)
		return nil
	}
	defer resp.Body.Close()

	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Error("verify: malformed turnstile response, allowing request", "status", resp.StatusCode, "err", err)
		return nil
	}
	if !body.Success {
		slog.Warn("verify: turnstile rejected token", "codes", body.ErrorCodes)
		return &RejectedError{Codes: body.ErrorCodes}
	}
	return nil
}
