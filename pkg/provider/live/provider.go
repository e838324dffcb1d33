// Package live defines the contract for real-time conversational model
// connections: a persistent duplex link that accepts microphone audio and
// streams back synthesized speech, transcripts, turn signals and tool calls.
//
// A [Conn] reports everything that happens on the link as a typed [Event] on a
// single channel, in arrival order. Consumers own all reaction logic; the
// connection itself never interprets tool calls or turn boundaries.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"

	"github.com/MrWong99/panelai/pkg/audio"
)

// Modality is a response modality requested from the model.
type Modality string

// Modalities supported by live connections.
const (
	ModalityAudio Modality = "AUDIO"
	ModalityText  Modality = "TEXT"
)

// ToolDeclaration describes a function the model may invoke.
type ToolDeclaration struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object describing the arguments.
	Parameters map[string]any
}

// SessionConfig is fixed for the lifetime of a connection.
type SessionConfig struct {
	// APIKey is the (possibly short-lived) credential used to open the link.
	APIKey string

	// Instructions is the system instruction for the model.
	Instructions string

	// Modality is the desired output modality. Defaults to audio.
	Modality Modality

	// Voice is the prebuilt voice identity for synthesized speech.
	Voice string

	// InputTranscription and OutputTranscription enable speech-to-text for
	// the candidate and the model respectively.
	InputTranscription  bool
	OutputTranscription bool

	// Tools offered to the model.
	Tools []ToolDeclaration
}

// EventType discriminates [Event].
type EventType int

// Event types, in the order a healthy connection produces them.
const (
	EventOpen EventType = iota
	EventMessage
	EventError
	EventClose
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	}
	return "unknown"
}

// Event is one lifecycle or protocol event observed on a connection.
type Event struct {
	Type EventType

	// Message is set for EventMessage.
	Message *ServerMessage

	// Err is set for EventError. It is a [*Error] whenever the cause could be
	// classified.
	Err error

	// Code and Reason describe an EventClose.
	Code   int
	Reason string
}

// ServerMessage is one inbound protocol message. Any subset of the fields may
// be populated; absent fields mean "nothing for this concern".
type ServerMessage struct {
	// InputTranscription is a fragment of the candidate's recognised speech.
	InputTranscription string
	// OutputTranscription is a fragment of the model's spoken text.
	OutputTranscription string

	// Audio holds base64 encoded PCM chunks in arrival order.
	Audio []audio.Blob

	TurnComplete bool
	Interrupted  bool

	ToolCalls []ToolCall
}

// ToolCall is a function invocation requested by the model. Every call must be
// acknowledged with a [ToolResponse].
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse acknowledges a [ToolCall].
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// Conn is an open live connection.
type Conn interface {
	// Events delivers lifecycle and protocol events in arrival order. The
	// channel is closed after the final EventClose.
	Events() <-chan Event

	// SendAudio streams one encoded audio frame to the model.
	SendAudio(ctx context.Context, frame audio.Blob) error

	// SendToolResponse acknowledges tool calls.
	SendToolResponse(ctx context.Context, responses ...ToolResponse) error

	// Close terminates the connection. Calling Close more than once is safe.
	Close() error
}

// Provider opens live connections.
type Provider interface {
	// Connect dials the model and sends the session setup. The returned Conn
	// emits EventOpen once the remote side has accepted the setup.
	Connect(ctx context.Context, cfg SessionConfig) (Conn, error)
}
