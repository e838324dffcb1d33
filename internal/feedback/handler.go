package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/panelai/internal/ratelimit"
)

// Endpoint is the path the handler is mounted on.
const Endpoint = "/api/feedback"

// Default request budget per client.
const (
	DefaultRateLimit  = 5
	DefaultRateWindow = time.Minute
)

// maxBodyBytes bounds a request: 100 items of 10 000 characters plus slack.
const maxBodyBytes = 8 << 20

// Error bodies.
const (
	msgRateLimited   = "Too many requests. Please wait a moment."
	msgMissingConfig = "API key not configured"
	msgQuota         = "QUOTA_EXCEEDED"
	msgFailed        = "Failed to generate feedback"
)

// HandlerOption configures a [Handler].
type HandlerOption func(*Handler)

// WithLimiter replaces the default per-client limiter.
func WithLimiter(l *ratelimit.Limiter) HandlerOption {
	return func(h *Handler) { h.limiter = l }
}

// WithArchive stores every generated report in a.
func WithArchive(a Archive) HandlerOption {
	return func(h *Handler) { h.archive = a }
}

// Handler serves report generation. A nil Reporter answers every request
// with a configuration error.
type Handler struct {
	reporter Reporter
	limiter  *ratelimit.Limiter
	archive  Archive
}

// NewHandler returns a Handler generating with r.
func NewHandler(r Reporter, opts ...HandlerOption) *Handler {
	h := &Handler{reporter: r}
	for _, o := range opts {
		o(h)
	}
	if h.limiter == nil {
		h.limiter = ratelimit.New(DefaultRateLimit, DefaultRateWindow)
	}
	return h
}

type errorBody struct {
	Error string `json:"error"`
}

// failureBody is a fallback report carrying an error field.
type failureBody struct {
	Error string `json:"error"`
	Report
}

// rawRequest defers item decoding so malformed entries degrade to empty
// lines instead of failing the request.
type rawRequest struct {
	Transcript []json.RawMessage `json:"transcript"`
	Config     *InterviewConfig  `json:"config"`
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
		return
	}
	ip := ratelimit.ClientIP(r)
	if !h.limiter.Allow(ip) {
		slog.Warn("feedback: rate limited", "client", ip)
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: msgRateLimited})
		return
	}
	if h.reporter == nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: msgMissingConfig})
		return
	}

	var raw rawRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return
	}
	switch {
	case raw.Transcript == nil:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid transcript format"})
		return
	case raw.Config == nil:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid config format"})
		return
	case len(raw.Transcript) > MaxTranscriptItems:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Transcript too long"})
		return
	case len([]rune(raw.Config.JobTitle)) > MaxJobTitleLength:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Job title too long"})
		return
	}

	req := Request{Config: *raw.Config, Transcript: make([]Item, len(raw.Transcript))}
	for i, msg := range raw.Transcript {
		var it Item
		if err := json.Unmarshal(msg, &it); err != nil {
			it = Item{Speaker: "Unknown"}
		}
		req.Transcript[i] = it
	}
	req = req.Sanitize()

	report, err := h.reporter.Generate(r.Context(), req)
	if err != nil {
		slog.Error("feedback: generation failed", "client", ip, "err", err)
		if errors.Is(err, ErrQuota) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: msgQuota})
			return
		}
		writeJSON(w, http.StatusInternalServerError, failureBody{Error: msgFailed, Report: FallbackReport()})
		return
	}

	if h.archive != nil {
		rec := Record{ID: uuid.NewString(), CreatedAt: time.Now().UTC(), Request: req, Report: *report}
		// Best effort; the response does not wait for the archive.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.archive.SaveReport(ctx, rec); err != nil {
				slog.Warn("feedback: archive report", "id", rec.ID, "err", err)
			}
		}()
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("feedback: write response", "err", err)
	}
}
