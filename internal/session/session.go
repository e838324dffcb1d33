// Package session implements the interview session state machine: it owns
// the live model connection, the capture pipeline, the playback scheduler and
// the transcript reconciler, and it drives them from a single actor goroutine.
//
// Every input to a [Machine] (connection events, playback completions, timer
// expiries and user commands) is posted as a typed event to one inbox and
// consumed by the actor loop, so session state is never touched from more
// than one goroutine. Handlers registered with [WithHandlers] run on that
// same goroutine and must return promptly; they must not call
// [Machine.Disconnect] synchronously.
//
// A Machine serves exactly one session. States move
// disconnected → connecting → connected → (error | disconnected); both end
// states are terminal and a new Machine is required to retry.
package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/MrWong99/panelai/internal/transcript"
)

// Tool names and fixed session settings the model is configured with.
const (
	// EndInterviewTool is the function the interviewer calls once it has
	// said goodbye.
	EndInterviewTool = "endInterview"

	// DefaultVoice is the prebuilt voice the interviewer speaks with.
	DefaultVoice = "Zephyr"
)

var (
	// ErrAlreadyStarted is returned by Start on every call after the first.
	// The repeated call has no effect.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrClosed is returned by Start once Disconnect has been called.
	ErrClosed = errors.New("session: machine is closed")
)

// Issuer obtains the short-lived credential used to open the connection.
type Issuer interface {
	Issue(ctx context.Context, verificationToken string) (string, error)
}

// State is the connection status of a session.
type State int32

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Handlers is the caller-facing callback surface. Nil handlers are skipped.
// All handlers run on the session's actor goroutine.
type Handlers struct {
	// OnOpen fires once the model has accepted the session setup.
	OnOpen func()

	// OnClose fires when the remote side closes the connection.
	OnClose func(code int, reason string)

	// OnError reports failures after Start returned. Quota failures satisfy
	// live.IsQuota; microphone failures match capture.ErrMicrophoneAccess.
	OnError func(err error)

	// OnVolume reports the advisory loudness of each inbound speech chunk.
	OnVolume func(level float64)

	// OnTranscript reports every partial and final transcript update.
	OnTranscript func(u transcript.Update)

	// OnAISpeaking reports transitions of the interviewer's speaking state.
	OnAISpeaking func(speaking bool)

	// OnEndSessionTriggered fires when the interviewer ended the interview
	// and its remaining speech has played out.
	OnEndSessionTriggered func()
}

type atomicState struct{ v atomic.Int32 }

func (a *atomicState) load() State   { return State(a.v.Load()) }
func (a *atomicState) store(s State) { a.v.Store(int32(s)) }
