package live

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a remote failure by what the caller should do next.
type ErrorKind int

const (
	// KindConnection covers transport and generic server failures. A fresh
	// attempt may succeed.
	KindConnection ErrorKind = iota
	// KindQuota means the credential's quota or rate budget is exhausted.
	// The caller should wait before retrying.
	KindQuota
	// KindProtocol means the remote side rejected the request itself.
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindQuota:
		return "quota"
	case KindProtocol:
		return "protocol"
	}
	return "unknown"
}

// statusResourceExhausted is the canonical status string for quota errors.
const statusResourceExhausted = "RESOURCE_EXHAUSTED"

// Error is a classified live connection failure.
type Error struct {
	Kind ErrorKind
	// Code is the HTTP-style status code reported by the server, if any.
	Code int
	// Status is the canonical status string (e.g. RESOURCE_EXHAUSTED).
	Status  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("live: ")
	b.WriteString(e.Kind.String())
	if e.Status != "" {
		fmt.Fprintf(&b, " (%s)", e.Status)
	} else if e.Code != 0 {
		fmt.Fprintf(&b, " (%d)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps a server-reported code, status and message onto a kind.
// Structured fields decide first; the message text is consulted only when
// neither carries a verdict.
func Classify(code int, status, message string) ErrorKind {
	switch strings.ToUpper(status) {
	case statusResourceExhausted:
		return KindQuota
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION", "PERMISSION_DENIED", "UNAUTHENTICATED", "NOT_FOUND":
		return KindProtocol
	case "UNAVAILABLE", "INTERNAL", "DEADLINE_EXCEEDED", "ABORTED", "CANCELLED":
		return KindConnection
	}
	switch {
	case code == http.StatusTooManyRequests:
		return KindQuota
	case code >= 400 && code < 500:
		return KindProtocol
	case code >= 500:
		return KindConnection
	}
	if quotaText(message) {
		return KindQuota
	}
	return KindConnection
}

// NewError builds a classified [Error].
func NewError(code int, status, message string, cause error) *Error {
	return &Error{
		Kind:    Classify(code, status, message),
		Code:    code,
		Status:  status,
		Message: message,
		Err:     cause,
	}
}

// IsQuota reports whether err signals an exhausted quota. Classified errors
// answer from their kind; anything else falls back to matching the text.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind == KindQuota
	}
	return quotaText(err.Error())
}

var quotaMarkers = []string{
	"429",
	"quota",
	"resource exhausted",
	"resource_exhausted",
	"too many requests",
	"limit exceeded",
}

func quotaText(s string) bool {
	s = strings.ToLower(s)
	for _, m := range quotaMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
