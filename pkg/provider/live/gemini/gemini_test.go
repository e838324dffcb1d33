package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/panelai/pkg/audio"
	"github.com/MrWong99/panelai/pkg/provider/live"
	"github.com/MrWong99/panelai/pkg/provider/live/gemini"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives the
// accepted connection and the upgrade request.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSetup consumes the setup message and acknowledges it.
func acceptSetup(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var raw map[string]any
	readJSON(t, conn, &raw)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

func connect(t *testing.T, srv *httptest.Server, cfg live.SessionConfig) live.Conn {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	p := gemini.New(gemini.WithBaseURL(wsURL(srv)))
	c, err := p.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// nextEvent waits for the next event on c.
func nextEvent(t *testing.T, c live.Conn) live.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return live.Event{}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			InputAudioTranscription  *struct{} `json:"inputAudioTranscription"`
			OutputAudioTranscription *struct{} `json:"outputAudioTranscription"`
			Tools                    []struct {
				FunctionDeclarations []struct {
					Name       string         `json:"name"`
					Parameters map[string]any `json:"parameters"`
				} `json:"functionDeclarations"`
			} `json:"tools"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)
	keys := make(chan string, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		keys <- r.URL.Query().Get("key")
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	connect(t, srv, live.SessionConfig{
		APIKey:              "short-lived",
		Instructions:        "be an interviewer",
		Voice:               "Zephyr",
		InputTranscription:  true,
		OutputTranscription: true,
		Tools: []live.ToolDeclaration{{
			Name:       "endInterview",
			Parameters: map[string]any{"type": "OBJECT"},
		}},
	})

	if got := <-keys; got != "short-lived" {
		t.Errorf("key = %q", got)
	}
	var msg setupMsg
	select {
	case msg = <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup")
	}
	s := msg.Setup
	if s.Model != "models/"+gemini.DefaultModel {
		t.Errorf("model = %q", s.Model)
	}
	if len(s.GenerationConfig.ResponseModalities) != 1 || s.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Errorf("modalities = %v", s.GenerationConfig.ResponseModalities)
	}
	if v := s.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Zephyr" {
		t.Errorf("voice = %q", v)
	}
	if len(s.SystemInstruction.Parts) != 1 || s.SystemInstruction.Parts[0].Text != "be an interviewer" {
		t.Errorf("system instruction = %+v", s.SystemInstruction)
	}
	if s.InputAudioTranscription == nil || s.OutputAudioTranscription == nil {
		t.Error("transcription must be enabled in both directions")
	}
	if len(s.Tools) != 1 || len(s.Tools[0].FunctionDeclarations) != 1 || s.Tools[0].FunctionDeclarations[0].Name != "endInterview" {
		t.Errorf("tools = %+v", s.Tools)
	}
}

func TestConnect_MissingKey(t *testing.T) {
	t.Parallel()
	_, err := gemini.New().Connect(context.Background(), live.SessionConfig{})
	if err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestConnect_DialRejectedWithQuota(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	_, err := gemini.New(gemini.WithBaseURL(wsURL(srv)), gemini.WithAPIKey("k")).
		Connect(context.Background(), live.SessionConfig{})
	if !live.IsQuota(err) {
		t.Fatalf("err = %v, want quota", err)
	}
	var le *live.Error
	if !errors.As(err, &le) || le.Code != http.StatusTooManyRequests {
		t.Errorf("expected *live.Error with code 429, got %#v", err)
	}
}

func TestEvents_OpenThenMessages(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"outputTranscription": map[string]any{"text": "Hello"},
			"inputTranscription":  map[string]any{"text": "Hi"},
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAA="}},
			}},
		}})
		// Carries nothing for any concern and must not surface.
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true, "interrupted": true}})
		writeJSON(t, conn, map[string]any{"toolCall": map[string]any{"functionCalls": []any{
			map[string]any{"id": "call-1", "name": "endInterview", "args": map[string]any{"reason": "finished"}},
		}}})
		<-conn.CloseRead(context.Background()).Done()
	})
	c := connect(t, srv, live.SessionConfig{})

	if ev := nextEvent(t, c); ev.Type != live.EventOpen {
		t.Fatalf("first event = %v, want open", ev.Type)
	}

	ev := nextEvent(t, c)
	if ev.Type != live.EventMessage {
		t.Fatalf("event = %v, want message", ev.Type)
	}
	m := ev.Message
	if m.OutputTranscription != "Hello" || m.InputTranscription != "Hi" {
		t.Errorf("transcriptions = %q / %q", m.OutputTranscription, m.InputTranscription)
	}
	if len(m.Audio) != 1 || m.Audio[0].Data != "AAA=" {
		t.Errorf("audio = %+v", m.Audio)
	}

	ev = nextEvent(t, c)
	if !ev.Message.TurnComplete || !ev.Message.Interrupted {
		t.Errorf("signals = %+v", ev.Message)
	}

	ev = nextEvent(t, c)
	if len(ev.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", ev.Message.ToolCalls)
	}
	tc := ev.Message.ToolCalls[0]
	if tc.ID != "call-1" || tc.Name != "endInterview" || tc.Args["reason"] != "finished" {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestSendAudioAndToolResponse(t *testing.T) {
	t.Parallel()

	type frames struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
		ToolResponse struct {
			FunctionResponses []struct {
				ID       string         `json:"id"`
				Name     string         `json:"name"`
				Response map[string]any `json:"response"`
			} `json:"functionResponses"`
		} `json:"toolResponse"`
	}
	got := make(chan frames, 2)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		for range 2 {
			var f frames
			readJSON(t, conn, &f)
			got <- f
		}
		<-conn.CloseRead(context.Background()).Done()
	})
	c := connect(t, srv, live.SessionConfig{})
	nextEvent(t, c)

	ctx := context.Background()
	if err := c.SendAudio(ctx, audio.EncodeFrame([]float32{0, 0.5}, audio.InputSampleRate)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := c.SendToolResponse(ctx, live.ToolResponse{ID: "call-1", Name: "endInterview", Response: map[string]any{"result": "ok"}}); err != nil {
		t.Fatalf("SendToolResponse: %v", err)
	}

	f := <-got
	if len(f.RealtimeInput.MediaChunks) != 1 || f.RealtimeInput.MediaChunks[0].MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("realtime input = %+v", f.RealtimeInput)
	}
	f = <-got
	if len(f.ToolResponse.FunctionResponses) != 1 {
		t.Fatalf("tool response = %+v", f.ToolResponse)
	}
	fr := f.ToolResponse.FunctionResponses[0]
	if fr.ID != "call-1" || fr.Name != "endInterview" || fr.Response["result"] != "ok" {
		t.Errorf("function response = %+v", fr)
	}
}

func TestEvents_ServerErrorPayloadIsClassified(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"error": map[string]any{
			"code": 429, "status": "RESOURCE_EXHAUSTED", "message": "Quota exceeded",
		}})
		<-conn.CloseRead(context.Background()).Done()
	})
	c := connect(t, srv, live.SessionConfig{})
	nextEvent(t, c)

	ev := nextEvent(t, c)
	if ev.Type != live.EventError || !live.IsQuota(ev.Err) {
		t.Fatalf("event = %+v, want quota error", ev)
	}
}

func TestEvents_AbnormalCloseReportsErrorThenClose(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		conn.Close(websocket.StatusInternalError, "RESOURCE_EXHAUSTED: You exceeded your current quota")
	})
	c := connect(t, srv, live.SessionConfig{})
	nextEvent(t, c)

	ev := nextEvent(t, c)
	if ev.Type != live.EventError {
		t.Fatalf("event = %v, want error", ev.Type)
	}
	var le *live.Error
	if !errors.As(ev.Err, &le) || le.Kind != live.KindQuota || le.Status != "RESOURCE_EXHAUSTED" {
		t.Errorf("err = %#v", ev.Err)
	}
	ev = nextEvent(t, c)
	if ev.Type != live.EventClose || ev.Code != int(websocket.StatusInternalError) {
		t.Errorf("close event = %+v", ev)
	}
}

func TestEvents_NormalRemoteClose(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		conn.Close(websocket.StatusNormalClosure, "bye")
	})
	c := connect(t, srv, live.SessionConfig{})
	nextEvent(t, c)

	ev := nextEvent(t, c)
	if ev.Type != live.EventClose || ev.Reason != "bye" {
		t.Fatalf("event = %+v, want close", ev)
	}
	select {
	case _, ok := <-c.Events():
		if ok {
			t.Error("expected events channel to close")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})
	c := connect(t, srv, live.SessionConfig{})
	nextEvent(t, c)

	for range 3 {
		if err := c.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if err := c.SendAudio(context.Background(), audio.Blob{}); err == nil {
		t.Error("SendAudio after Close should fail")
	}
}
