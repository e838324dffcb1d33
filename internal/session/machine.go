package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/panelai/internal/observe"
	"github.com/MrWong99/panelai/internal/prompt"
	"github.com/MrWong99/panelai/internal/transcript"
	"github.com/MrWong99/panelai/pkg/audio"
	"github.com/MrWong99/panelai/pkg/audio/capture"
	"github.com/MrWong99/panelai/pkg/audio/playback"
	"github.com/MrWong99/panelai/pkg/provider/live"
)

const (
	// defaultEndGrace lets trailing speech play out before a tool-triggered
	// end is reported.
	defaultEndGrace = 1500 * time.Millisecond

	// defaultInboxSize is the buffer depth of the actor inbox.
	defaultInboxSize = 64
)

// endInterviewDeclaration is the single tool offered to the interviewer.
var endInterviewDeclaration = live.ToolDeclaration{
	Name:        EndInterviewTool,
	Description: "Ends the interview session. Call this ONLY after the interview is complete and you have said goodbye.",
	Parameters: map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "STRING",
				"description": "Reason for ending the interview",
			},
		},
		"required": []string{"reason"},
	},
}

// ── Events ─────────────────────────────────────────────────────────────────────

type eventKind int

const (
	evConnected eventKind = iota
	evLive
	evPlaybackEnded
	evGraceElapsed
	evMute
)

// event is one input to the actor loop. Only the field matching kind is set.
type event struct {
	kind   eventKind
	conn   live.Conn
	live   live.Event
	handle playback.Handle
	muted  bool
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a [Machine].
type Option func(*Machine)

// WithHandlers registers the caller-facing callbacks.
func WithHandlers(h Handlers) Option {
	return func(m *Machine) { m.handlers = h }
}

// WithVoice overrides the prebuilt voice. The default is [DefaultVoice].
func WithVoice(voice string) Option {
	return func(m *Machine) {
		if voice != "" {
			m.voice = voice
		}
	}
}

// WithEndGrace overrides the delay between the last chunk of speech finishing
// and OnEndSessionTriggered after the interviewer ended the interview.
func WithEndGrace(d time.Duration) Option {
	return func(m *Machine) {
		if d >= 0 {
			m.endGrace = d
		}
	}
}

// WithFrameSize overrides the number of samples per outbound audio frame.
func WithFrameSize(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.frameSize = n
		}
	}
}

// WithMetrics records session metrics on met instead of
// [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Machine) { m.metrics = met }
}

// WithTurnIDs overrides how transcript turn ids are minted.
func WithTurnIDs(fn func(prefix string) string) Option {
	return func(m *Machine) { m.turnIDs = fn }
}

// ── Machine ────────────────────────────────────────────────────────────────────

// Machine is the session state machine. Start, SetMute, ToggleMute and
// Disconnect are safe for concurrent use.
type Machine struct {
	provider live.Provider
	issuer   Issuer
	mic      audio.Microphone
	out      audio.Output

	handlers  Handlers
	voice     string
	endGrace  time.Duration
	frameSize int
	metrics   *observe.Metrics
	turnIDs   func(prefix string) string

	state    atomicState
	muted    atomic.Bool
	stopping atomic.Bool

	lifeMu        sync.Mutex
	started       bool
	cancelConnect context.CancelFunc
	err           error

	// ctx scopes outbound writes; it is cancelled during teardown.
	ctx    context.Context
	cancel context.CancelFunc

	inbox        chan event
	quit         chan struct{}
	done         chan struct{}
	teardownOnce sync.Once
	fwd          sync.WaitGroup

	// Owned by the actor goroutine.
	conn       live.Conn
	pipeline   *capture.Pipeline
	sched      *playback.Scheduler
	rec        *transcript.Reconciler
	pendingEnd bool
	grace      *time.Timer
	opened     bool
}

// New returns a Machine for one session. mic and out are the two
// independently owned audio clocks; the Machine closes both on teardown.
func New(provider live.Provider, issuer Issuer, mic audio.Microphone, out audio.Output, opts ...Option) *Machine {
	m := &Machine{
		provider:  provider,
		issuer:    issuer,
		mic:       mic,
		out:       out,
		voice:     DefaultVoice,
		endGrace:  defaultEndGrace,
		frameSize: audio.FrameSize,
		inbox:     make(chan event, defaultInboxSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	var recOpts []transcript.ReconcilerOption
	if m.turnIDs != nil {
		recOpts = append(recOpts, transcript.WithIDGenerator(m.turnIDs))
	}
	m.rec = transcript.NewReconciler(m.emitTranscript, recOpts...)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// State reports the current connection status.
func (m *Machine) State() State { return m.state.load() }

// Muted reports the current mute flag.
func (m *Machine) Muted() bool { return m.muted.Load() }

// Err returns the error that moved the session into [StateError], if any.
func (m *Machine) Err() error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.err
}

// Done is closed once teardown has completed.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Start issues a credential, opens the live connection with the instruction
// built from iv and hands the connection to the actor. It blocks until the
// connection is dialled; the session reports [Handlers.OnOpen] once the
// model accepted the setup. Failures before that point are returned, not
// reported through OnError, and leave the session in [StateError].
//
// Calling Start again has no effect and returns [ErrAlreadyStarted].
func (m *Machine) Start(ctx context.Context, iv prompt.Interview, verificationToken string) error {
	m.lifeMu.Lock()
	switch {
	case m.stopping.Load():
		m.lifeMu.Unlock()
		return ErrClosed
	case m.started:
		m.lifeMu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	ctx, cancel := context.WithCancel(ctx)
	m.cancelConnect = cancel
	m.lifeMu.Unlock()
	defer cancel()

	m.state.store(StateConnecting)
	go m.run()

	conn, err := m.connect(ctx, iv, verificationToken)
	if err != nil {
		if m.stopping.Load() {
			return ErrClosed
		}
		m.fail(err)
		return err
	}

	select {
	case m.inbox <- event{kind: evConnected, conn: conn}:
		return nil
	case <-m.quit:
		if cerr := conn.Close(); cerr != nil {
			slog.Debug("session: close abandoned connection", "err", cerr)
		}
		return ErrClosed
	}
}

func (m *Machine) connect(ctx context.Context, iv prompt.Interview, token string) (live.Conn, error) {
	ctx, span := observe.StartSpan(ctx, "session.Start")
	defer span.End()

	key, err := m.issuer.Issue(ctx, token)
	if err != nil {
		observe.Fail(span, err)
		return nil, fmt.Errorf("session: issue credential: %w", err)
	}
	instructions, err := prompt.Build(iv)
	if err != nil {
		return nil, fmt.Errorf("session: build instructions: %w", err)
	}
	conn, err := m.provider.Connect(ctx, live.SessionConfig{
		APIKey:              key,
		Instructions:        instructions,
		Modality:            live.ModalityAudio,
		Voice:               m.voice,
		InputTranscription:  true,
		OutputTranscription: true,
		Tools:               []live.ToolDeclaration{endInterviewDeclaration},
	})
	if err != nil {
		observe.Fail(span, err)
		return nil, fmt.Errorf("session: connect: %w", err)
	}
	return conn, nil
}

// SetMute gates outbound audio. It takes effect on the next frame flush.
func (m *Machine) SetMute(muted bool) {
	m.muted.Store(muted)
	m.post(event{kind: evMute, muted: muted})
}

// ToggleMute flips the mute flag and returns the new value.
func (m *Machine) ToggleMute() bool {
	for {
		old := m.muted.Load()
		if m.muted.CompareAndSwap(old, !old) {
			m.post(event{kind: evMute, muted: !old})
			return !old
		}
	}
}

// Disconnect tears the session down and waits for teardown to finish. It is
// safe to call at any time, from any goroutine other than a handler, any
// number of times; exactly one teardown runs and every caller waits for it.
func (m *Machine) Disconnect() {
	m.teardownOnce.Do(func() {
		m.lifeMu.Lock()
		m.stopping.Store(true)
		started := m.started
		cancel := m.cancelConnect
		m.lifeMu.Unlock()

		if cancel != nil {
			cancel()
		}
		close(m.quit)
		if !started {
			m.closeClocks()
			m.cancel()
			close(m.done)
		}
	})
	<-m.done
}

// post delivers ev to the actor unless teardown has begun.
func (m *Machine) post(ev event) bool {
	select {
	case <-m.quit:
		return false
	default:
	}
	select {
	case m.inbox <- ev:
		return true
	case <-m.quit:
		return false
	}
}

func (m *Machine) fail(err error) {
	m.lifeMu.Lock()
	m.err = err
	m.lifeMu.Unlock()
	m.state.store(StateError)
	m.metrics.RecordSessionError(m.ctx, errorKind(err))
}

func errorKind(err error) string {
	var lerr *live.Error
	switch {
	case errors.Is(err, capture.ErrMicrophoneAccess):
		return "microphone"
	case live.IsQuota(err):
		return "quota"
	case errors.As(err, &lerr):
		return lerr.Kind.String()
	}
	return "other"
}

// ── Actor ──────────────────────────────────────────────────────────────────────

func (m *Machine) run() {
	defer close(m.done)
	for {
		// Teardown wins over any queued event.
		select {
		case <-m.quit:
			m.teardown()
			return
		default:
		}
		select {
		case <-m.quit:
			m.teardown()
			return
		case ev := <-m.inbox:
			m.handle(ev)
		}
	}
}

func (m *Machine) handle(ev event) {
	switch ev.kind {
	case evConnected:
		m.attach(ev.conn)
	case evLive:
		m.handleLive(ev.live)
	case evPlaybackEnded:
		if m.sched != nil {
			m.sched.Finished(ev.handle)
			m.checkEnd()
		}
	case evGraceElapsed:
		m.grace = nil
		if m.handlers.OnEndSessionTriggered != nil {
			m.handlers.OnEndSessionTriggered()
		}
	case evMute:
		if m.pipeline != nil {
			m.pipeline.SetMuted(ev.muted)
		}
	}
}

// attach wires the capture pipeline and playback scheduler to conn and starts
// forwarding its events into the inbox.
func (m *Machine) attach(conn live.Conn) {
	m.conn = conn
	m.sched = playback.New(m.out,
		func(h playback.Handle) { m.post(event{kind: evPlaybackEnded, handle: h}) },
		playback.OnSpeaking(func(v bool) {
			if m.handlers.OnAISpeaking != nil {
				m.handlers.OnAISpeaking(v)
			}
		}),
	)
	m.pipeline = capture.New(m.mic, func(frame audio.Blob) {
		if m.stopping.Load() {
			return
		}
		if err := conn.SendAudio(m.ctx, frame); err != nil {
			slog.Debug("session: send audio", "err", err)
			return
		}
		m.metrics.AudioFramesSent.Add(m.ctx, 1)
	}, capture.WithFrameSize(m.frameSize))
	m.pipeline.SetMuted(m.muted.Load())

	m.fwd.Go(func() {
		for lev := range conn.Events() {
			if !m.post(event{kind: evLive, live: lev}) {
				return
			}
		}
	})
}

func (m *Machine) handleLive(ev live.Event) {
	switch ev.Type {
	case live.EventOpen:
		m.onOpen()
	case live.EventMessage:
		if ev.Message != nil {
			m.onMessage(ev.Message)
		}
	case live.EventError:
		m.onError(ev.Err)
	case live.EventClose:
		if m.state.load() != StateError {
			m.state.store(StateDisconnected)
		}
		slog.Info("session: connection closed", "code", ev.Code, "reason", ev.Reason)
		if m.handlers.OnClose != nil {
			m.handlers.OnClose(ev.Code, ev.Reason)
		}
	}
}

func (m *Machine) onOpen() {
	m.state.store(StateConnected)
	m.lifeMu.Lock()
	m.err = nil
	m.lifeMu.Unlock()
	first := !m.opened
	m.opened = true

	if err := m.out.Resume(); err != nil {
		slog.Warn("session: resume output clock", "err", err)
	}
	var captureErr error
	if first {
		m.metrics.ActiveSessions.Add(m.ctx, 1)
		captureErr = m.pipeline.Start(m.ctx)
	}
	if m.handlers.OnOpen != nil {
		m.handlers.OnOpen()
	}
	if captureErr != nil {
		m.onError(captureErr)
	}
}

// onMessage dispatches one server message to every concern it carries, in a
// fixed order: transcripts, tool calls, audio, interruption.
func (m *Machine) onMessage(msg *live.ServerMessage) {
	if msg.OutputTranscription != "" {
		m.rec.Fragment(transcript.SpeakerAI, msg.OutputTranscription)
	}
	if msg.InputTranscription != "" {
		m.rec.Fragment(transcript.SpeakerCandidate, msg.InputTranscription)
	}
	if msg.TurnComplete {
		m.rec.TurnComplete()
	}

	for _, call := range msg.ToolCalls {
		m.onToolCall(call)
	}

	if !m.stopping.Load() {
		for _, blob := range msg.Audio {
			chunk, err := m.sched.Enqueue(blob.Data)
			if err != nil {
				slog.Warn("session: dropping audio chunk", "err", err)
				continue
			}
			m.metrics.ChunksPlayed.Add(m.ctx, 1)
			if m.handlers.OnVolume != nil {
				m.handlers.OnVolume(chunk.Volume)
			}
		}
	}

	if msg.Interrupted {
		m.sched.Interrupt()
		m.metrics.Interruptions.Add(m.ctx, 1)
		// Stopped voices never report ended, so a pending end is checked here.
		m.checkEnd()
	}
}

func (m *Machine) onToolCall(call live.ToolCall) {
	resp := live.ToolResponse{ID: call.ID, Name: call.Name}
	if call.Name == EndInterviewTool {
		slog.Info("session: interviewer ended the interview", "reason", call.Args["reason"])
		m.pendingEnd = true
		m.checkEnd()
		resp.Response = map[string]any{"result": "ok"}
	} else {
		slog.Warn("session: unsupported tool call", "name", call.Name)
		resp.Response = map[string]any{"error": "unsupported tool"}
	}
	if err := m.conn.SendToolResponse(m.ctx, resp); err != nil {
		slog.Warn("session: acknowledge tool call", "name", call.Name, "err", err)
	}
}

// checkEnd arms the grace timer once a pending end meets an empty playback
// set. It is re-evaluated whenever a chunk finishes or speech is
// interrupted. Only one grace timer is armed at a time.
func (m *Machine) checkEnd() {
	if m.grace != nil {
		m.pendingEnd = false
		return
	}
	if !m.pendingEnd || m.sched.Active() > 0 {
		return
	}
	m.pendingEnd = false
	m.grace = time.AfterFunc(m.endGrace, func() { m.post(event{kind: evGraceElapsed}) })
}

func (m *Machine) onError(err error) {
	if err == nil {
		err = errors.New("session: unknown connection error")
	}
	slog.Error("session: error", "err", err, "quota", live.IsQuota(err))
	m.fail(err)
	if m.handlers.OnError != nil {
		m.handlers.OnError(err)
	}
}

func (m *Machine) emitTranscript(u transcript.Update) {
	if u.Final {
		m.metrics.RecordTurn(m.ctx, string(u.Speaker))
	}
	if m.handlers.OnTranscript != nil {
		m.handlers.OnTranscript(u)
	}
}

// ── Teardown ───────────────────────────────────────────────────────────────────

// teardown releases every session resource in a fixed order. Each step is
// best-effort: failures are logged and the remaining steps still run.
func (m *Machine) teardown() {
	if m.grace != nil {
		m.grace.Stop()
		m.grace = nil
	}

	// a. Abandon queued speech.
	if m.sched != nil {
		m.sched.StopAll()
	}
	// b. Silence the output even if a stop raced.
	if err := m.out.SetMuted(true); err != nil {
		slog.Debug("session: teardown: mute output", "err", err)
	}
	// c. Stop frame processing. Outbound writes fail fast from here on.
	m.cancel()
	if m.pipeline != nil {
		m.pipeline.Stop()
	}
	// d. Release the microphone handle.
	if m.pipeline != nil {
		if err := m.pipeline.Release(); err != nil {
			slog.Debug("session: teardown: release microphone", "err", err)
		}
	}
	// e. Close the connection, including any handed over after quit.
	m.closeConn(m.conn)
	for drained := false; !drained; {
		select {
		case ev := <-m.inbox:
			if ev.kind == evConnected {
				m.closeConn(ev.conn)
			}
		default:
			drained = true
		}
	}
	// f. Suspend and close both clocks.
	m.closeClocks()

	m.fwd.Wait()

	if m.state.load() != StateError {
		m.state.store(StateDisconnected)
	}
	if m.opened {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

func (m *Machine) closeConn(conn live.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		slog.Debug("session: teardown: close connection", "err", err)
	}
}

func (m *Machine) closeClocks() {
	var g errgroup.Group
	for name, c := range map[string]audio.Clock{"microphone": m.mic, "output": m.out} {
		g.Go(func() error {
			if err := c.Suspend(); err != nil {
				slog.Debug("session: teardown: suspend clock", "clock", name, "err", err)
			}
			if err := c.Close(); err != nil {
				slog.Debug("session: teardown: close clock", "clock", name, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
