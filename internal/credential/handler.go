package credential

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/panelai/internal/ratelimit"
	"github.com/MrWong99/panelai/internal/verify"
)

// Endpoint is the path the handler is mounted on.
const Endpoint = "/api/live-session"

// Default request budget per client.
const (
	DefaultRateLimit  = 10
	DefaultRateWindow = time.Minute
)

// Messages returned in the JSON error body.
const (
	msgRateLimited   = "Too many requests. Please try again later."
	msgMissingConfig = "API key not configured"
	msgVerifyFailed  = "Security verification failed. Please refresh and try again."
	msgVerifyMissing = "Security verification required"
)

// maxBodyBytes bounds the POST body, which only ever carries a token.
const maxBodyBytes = 4 << 10

// HandlerOption configures a [Handler].
type HandlerOption func(*Handler)

// WithLimiter replaces the default per-client limiter.
func WithLimiter(l *ratelimit.Limiter) HandlerOption {
	return func(h *Handler) { h.limiter = l }
}

// WithVerifier enables bot verification on POST requests.
func WithVerifier(v verify.Verifier) HandlerOption {
	return func(h *Handler) { h.verifier = v }
}

// Handler serves the credential endpoint. GET returns the key after rate
// limiting; POST additionally verifies the bot-verification token in the
// body.
type Handler struct {
	key      string
	limiter  *ratelimit.Limiter
	verifier verify.Verifier
}

// NewHandler returns a Handler issuing key.
func NewHandler(key string, opts ...HandlerOption) *Handler {
	h := &Handler{key: key}
	for _, o := range opts {
		o(h)
	}
	if h.limiter == nil {
		h.limiter = ratelimit.New(DefaultRateLimit, DefaultRateWindow)
	}
	return h
}

type issueRequest struct {
	Token          string `json:"token"`
	TurnstileToken string `json:"turnstileToken"`
}

type issueResponse struct {
	APIKey string `json:"apiKey,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, issueResponse{Error: "Method not allowed"})
		return
	}

	ip := ratelimit.ClientIP(r)
	if !h.limiter.Allow(ip) {
		slog.Warn("credential: rate limited", "client", ip)
		writeJSON(w, http.StatusTooManyRequests, issueResponse{Error: msgRateLimited})
		return
	}

	if r.Method == http.MethodPost && h.verifier != nil {
		var req issueRequest
		body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, issueResponse{Error: "Invalid request body"})
			return
		}
		token := req.TurnstileToken
		if token == "" {
			token = req.Token
		}
		if err := h.verifier.Verify(r.Context(), token, ip); err != nil {
			msg := msgVerifyFailed
			if errors.Is(err, verify.ErrMissingToken) {
				msg = msgVerifyMissing
			}
			writeJSON(w, http.StatusForbidden, issueResponse{Error: msg})
			return
		}
	}

	if h.key == "" {
		slog.Error("credential: no API key configured")
		writeJSON(w, http.StatusInternalServerError, issueResponse{Error: msgMissingConfig})
		return
	}
	writeJSON(w, http.StatusOK, issueResponse{APIKey: h.key})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("credential: write response", "err", err)
	}
}
