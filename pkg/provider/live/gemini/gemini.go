// Package gemini implements the live.Provider interface for Google's Gemini
// Live API.
//
// It opens a bidirectional WebSocket to the BidiGenerateContent endpoint and
// exchanges JSON messages: a setup message, realtime audio input, tool
// responses, and server content carrying audio, transcriptions, turn and
// interruption signals. Remote failures are classified from the structured
// error payload, the dial response status, or the WebSocket close frame.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/panelai/pkg/audio"
	"github.com/MrWong99/panelai/pkg/provider/live"
	"github.com/coder/websocket"
)

// Compile-time assertions that Provider and conn satisfy the live interfaces.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Conn     = (*conn)(nil)
)

const (
	// DefaultModel is the native-audio model used for interviews.
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-12-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	endpointPath   = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	eventBuffer       = 64
	readLimit         = 16 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for connections.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local server.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithAPIKey sets a fallback key used when [live.SessionConfig.APIKey] is
// empty.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithHTTPClient sets the client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for the Gemini Live API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a Gemini Live Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		model:   DefaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Connect dials the Live endpoint and sends the setup message. EventOpen is
// emitted once the server acknowledges the setup.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Conn, error) {
	key := cfg.APIKey
	if key == "" {
		key = p.apiKey
	}
	if key == "" {
		return nil, errors.New("gemini: missing api key")
	}

	wsURL := p.baseURL + endpointPath + "?key=" + url.QueryEscape(key)
	ws, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, live.NewError(resp.StatusCode, "", http.StatusText(resp.StatusCode), err)
		}
		return nil, &live.Error{Kind: live.KindConnection, Message: "dial failed", Err: err}
	}
	ws.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:     ws,
		events: make(chan live.Event, eventBuffer),
		done:   make(chan struct{}),
		ctx:    connCtx,
		cancel: cancel,
	}

	if err := c.writeJSON(ctx, buildSetup(p.model, cfg)); err != nil {
		cancel()
		ws.Close(websocket.StatusInternalError, "setup failed")
		return nil, &live.Error{Kind: live.KindConnection, Message: "setup failed", Err: err}
	}

	c.wg.Go(c.receiveLoop)
	c.wg.Go(c.keepaliveLoop)
	return c, nil
}

func buildSetup(model string, cfg live.SessionConfig) setupMessage {
	modality := cfg.Modality
	if modality == "" {
		modality = live.ModalityAudio
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/" + model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{string(modality)},
			},
		},
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = functionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
		}
		msg.Setup.Tools = []tool{{FunctionDeclarations: decls}}
	}
	return msg
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	Tools                    []tool           `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type tool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []blob `json:"mediaChunks"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	ToolCall      *toolCallMsg     `json:"toolCall,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *serverError     `json:"error,omitempty"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// translate converts a wire message into a live.ServerMessage. It reports
// false when the message carries nothing for any consumer concern.
func translate(msg *serverMessage) (live.ServerMessage, bool) {
	var out live.ServerMessage
	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil {
			out.InputTranscription = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			out.OutputTranscription = sc.OutputTranscription.Text
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && p.InlineData.Data != "" {
					out.Audio = append(out.Audio, audio.Blob{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
				}
			}
		}
		out.TurnComplete = sc.TurnComplete
		out.Interrupted = sc.Interrupted
	}
	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			out.ToolCalls = append(out.ToolCalls, live.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	empty := out.InputTranscription == "" && out.OutputTranscription == "" &&
		len(out.Audio) == 0 && !out.TurnComplete && !out.Interrupted && len(out.ToolCalls) == 0
	return out, !empty
}

// ── conn ───────────────────────────────────────────────────────────────────────

type conn struct {
	ws     *websocket.Conn
	events chan live.Event

	mu     sync.Mutex
	opened bool
	closed bool
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// emit delivers ev unless the connection has been closed locally.
func (c *conn) emit(ev live.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// receiveLoop reads frames until the socket fails or is closed. It owns the
// events channel and closes it on exit.
func (c *conn) receiveLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			c.handleReadError(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gemini: skipping malformed frame", "err", err)
			continue
		}

		if msg.SetupComplete != nil {
			c.mu.Lock()
			first := !c.opened
			c.opened = true
			c.mu.Unlock()
			if first && !c.emit(live.Event{Type: live.EventOpen}) {
				return
			}
		}
		if se := msg.Error; se != nil {
			err := live.NewError(se.Code, se.Status, se.Message, nil)
			if !c.emit(live.Event{Type: live.EventError, Err: err}) {
				return
			}
		}
		if msg.GoAway != nil {
			slog.Info("gemini: server announced disconnect", "go_away", string(*msg.GoAway))
		}
		if out, ok := translate(&msg); ok {
			if !c.emit(live.Event{Type: live.EventMessage, Message: &out}) {
				return
			}
		}
	}
}

func (c *conn) handleReadError(err error) {
	if c.isClosed() {
		// Closed locally. Offer a final close event to anyone still listening.
		select {
		case c.events <- live.Event{Type: live.EventClose, Code: int(websocket.StatusNormalClosure), Reason: "closed"}:
		default:
		}
		return
	}

	var ce websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.StatusNormalClosure || ce.Code == websocket.StatusGoingAway {
			c.emit(live.Event{Type: live.EventClose, Code: int(ce.Code), Reason: ce.Reason})
			return
		}
		if !c.emit(live.Event{Type: live.EventError, Err: closeError(ce)}) {
			return
		}
		c.emit(live.Event{Type: live.EventClose, Code: int(ce.Code), Reason: ce.Reason})
		return
	}

	lerr := &live.Error{Kind: live.KindConnection, Message: "connection lost", Err: err}
	if !c.emit(live.Event{Type: live.EventError, Err: lerr}) {
		return
	}
	c.emit(live.Event{Type: live.EventClose, Code: int(websocket.StatusAbnormalClosure), Reason: err.Error()})
}

// closeError classifies an abnormal close frame. The server puts the
// canonical status first in the reason, e.g. "RESOURCE_EXHAUSTED: ...".
func closeError(ce websocket.CloseError) *live.Error {
	status, message := splitStatus(ce.Reason)
	return live.NewError(0, status, message, ce)
}

// splitStatus pulls a leading canonical status token off a close reason.
func splitStatus(reason string) (status, message string) {
	head, tail, ok := strings.Cut(reason, ":")
	if !ok {
		return "", strings.TrimSpace(reason)
	}
	head = strings.TrimSpace(head)
	if head == "" || strings.ToUpper(head) != head || strings.ContainsAny(head, " .") {
		return "", strings.TrimSpace(reason)
	}
	return head, strings.TrimSpace(tail)
}

// keepaliveLoop pings the server so idle stretches do not drop the link.
func (c *conn) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			if err := c.ws.Ping(pingCtx); err != nil && c.ctx.Err() == nil {
				slog.Debug("gemini: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ── live.Conn methods ──────────────────────────────────────────────────────────

// Events implements live.Conn.
func (c *conn) Events() <-chan live.Event { return c.events }

// SendAudio implements live.Conn.
func (c *conn) SendAudio(ctx context.Context, frame audio.Blob) error {
	if c.isClosed() {
		return errors.New("gemini: connection closed")
	}
	return c.writeJSON(ctx, realtimeInputMessage{
		RealtimeInput: realtimeInput{MediaChunks: []blob{{MIMEType: frame.MIMEType, Data: frame.Data}}},
	})
}

// SendToolResponse implements live.Conn.
func (c *conn) SendToolResponse(ctx context.Context, responses ...live.ToolResponse) error {
	if c.isClosed() {
		return errors.New("gemini: connection closed")
	}
	frs := make([]functionResponse, len(responses))
	for i, r := range responses {
		frs[i] = functionResponse{ID: r.ID, Name: r.Name, Response: r.Response}
	}
	return c.writeJSON(ctx, toolResponseMessage{ToolResponse: toolResponse{FunctionResponses: frs}})
}

// Close implements live.Conn. Idempotent.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	if err := c.ws.Close(websocket.StatusNormalClosure, "session closed"); err != nil {
		slog.Debug("gemini: close handshake", "err", err)
	}
	c.cancel()
	c.wg.Wait()
	return nil
}
