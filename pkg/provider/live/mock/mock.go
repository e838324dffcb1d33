// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out a controllable Conn. Use
// Conn to inject server events and inspect what the client sent.
//
// Example:
//
//	conn := mock.NewConn()
//	p := &mock.Provider{Conn: conn}
//	c, _ := p.Connect(ctx, cfg)
//	conn.Open()
//	conn.Message(live.ServerMessage{OutputTranscription: "Hello"})
package mock

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/panelai/pkg/audio"
	"github.com/MrWong99/panelai/pkg/provider/live"
)

// Compile-time interface assertions.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Conn     = (*Conn)(nil)
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Conn is returned by Connect. If nil, a fresh Conn is created.
	Conn *Conn

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, makes Connect block until it is closed or the
	// context is cancelled.
	Gate chan struct{}

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Conn, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Conn, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Conn == nil {
		p.Conn = NewConn()
	}
	return p.Conn, nil
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.ConnectCalls)
}

// Conn is a mock implementation of live.Conn.
type Conn struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by SendAudio and SendToolResponse.
	SendErr error

	events        chan live.Event
	audio         []audio.Blob
	toolResponses []live.ToolResponse
	closeCalls    int
	closed        bool
}

// NewConn returns an open mock connection.
func NewConn() *Conn {
	return &Conn{events: make(chan live.Event, 256)}
}

// Events implements live.Conn.
func (c *Conn) Events() <-chan live.Event { return c.events }

// SendAudio implements live.Conn.
func (c *Conn) SendAudio(_ context.Context, frame audio.Blob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("mock: connection closed")
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.audio = append(c.audio, frame)
	return nil
}

// SendToolResponse implements live.Conn.
func (c *Conn) SendToolResponse(_ context.Context, responses ...live.ToolResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("mock: connection closed")
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.toolResponses = append(c.toolResponses, responses...)
	return nil
}

// Close implements live.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// ── Event injection ───────────────────────────────────────────────────────────

// Emit delivers ev to the consumer. It reports false once the connection is
// closed.
func (c *Conn) Emit(ev live.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events <- ev
	return true
}

// Open emits EventOpen.
func (c *Conn) Open() bool { return c.Emit(live.Event{Type: live.EventOpen}) }

// Message emits EventMessage carrying m.
func (c *Conn) Message(m live.ServerMessage) bool {
	return c.Emit(live.Event{Type: live.EventMessage, Message: &m})
}

// Fail emits EventError carrying err.
func (c *Conn) Fail(err error) bool { return c.Emit(live.Event{Type: live.EventError, Err: err}) }

// RemoteClose emits EventClose as if the server hung up, then closes the
// events channel.
func (c *Conn) RemoteClose(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- live.Event{Type: live.EventClose, Code: code, Reason: reason}
	c.closed = true
	close(c.events)
}

// ── Inspection ────────────────────────────────────────────────────────────────

// SentAudio returns a copy of every frame passed to SendAudio.
func (c *Conn) SentAudio() []audio.Blob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.audio)
}

// ToolResponses returns a copy of every acknowledged tool call.
func (c *Conn) ToolResponses() []live.ToolResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.toolResponses)
}

// CloseCalls reports how many times Close was called.
func (c *Conn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// Closed reports whether the connection has been closed by either side.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
