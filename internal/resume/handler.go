package resume

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/panelai/internal/ratelimit"
	"github.com/MrWong99/panelai/internal/textgen"
)

// Endpoint is the path the handler is mounted on.
const Endpoint = "/api/resume"

// Default request budget per client.
const (
	DefaultRateLimit  = 10
	DefaultRateWindow = time.Minute
)

// HandlerOption configures a [Handler].
type HandlerOption func(*Handler)

// WithLimiter replaces the default per-client limiter.
func WithLimiter(l *ratelimit.Limiter) HandlerOption {
	return func(h *Handler) { h.limiter = l }
}

// Handler accepts a multipart upload in the "file" field and answers with
// the extracted context. A nil Extractor answers with a configuration error.
type Handler struct {
	ex      Extractor
	limiter *ratelimit.Limiter
}

// NewHandler returns a Handler extracting with ex.
func NewHandler(ex Extractor, opts ...HandlerOption) *Handler {
	h := &Handler{ex: ex}
	for _, o := range opts {
		o(h)
	}
	if h.limiter == nil {
		h.limiter = ratelimit.New(DefaultRateLimit, DefaultRateWindow)
	}
	return h
}

type response struct {
	Context string `json:"context,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, response{Error: "Method not allowed"})
		return
	}
	ip := ratelimit.ClientIP(r)
	if !h.limiter.Allow(ip) {
		writeJSON(w, http.StatusTooManyRequests, response{Error: "Too many requests. Please wait a moment."})
		return
	}
	if h.ex == nil {
		writeJSON(w, http.StatusInternalServerError, response{Error: "API key not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxFileSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusBadRequest, response{Error: "File too large. Maximum size is 5MB."})
			return
		}
		writeJSON(w, http.StatusBadRequest, response{Error: "No file provided"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxFileSize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Error: "No file provided"})
		return
	}
	f := File{Name: header.Filename, MIMEType: header.Header.Get("Content-Type"), Data: data}

	switch err := Validate(f); {
	case errors.Is(err, ErrUnsupportedType):
		writeJSON(w, http.StatusBadRequest, response{Error: "Invalid file type. Please upload PDF, TXT, or image."})
		return
	case errors.Is(err, ErrTooLarge):
		writeJSON(w, http.StatusBadRequest, response{Error: "File too large. Maximum size is 5MB."})
		return
	case errors.Is(err, ErrExtensionMismatch):
		writeJSON(w, http.StatusBadRequest, response{Error: "File extension does not match file type."})
		return
	}

	text, err := h.ex.Extract(r.Context(), f)
	if err != nil {
		slog.Error("resume: extraction failed", "client", ip, "file", f.Name, "err", err)
		if textgen.IsQuota(err) {
			writeJSON(w, http.StatusTooManyRequests, response{Error: "QUOTA_EXCEEDED"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, response{Error: "Failed to parse resume. Please ensure the file is a valid PDF, Image, or Text file."})
		return
	}
	if text == "" {
		text = fallbackContext
	}
	writeJSON(w, http.StatusOK, response{Context: text})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("resume: write response", "err", err)
	}
}
