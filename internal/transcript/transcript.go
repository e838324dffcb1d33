// Package transcript reconciles streamed speech-to-text fragments into a
// stable, ordered interview log.
//
// The [Reconciler] keeps one slot per speaker channel. Fragments accumulate in
// the slot under its current turn id and are published as partial updates; a
// turn boundary finalizes every non-empty slot and then resets both slots
// together, minting fresh turn ids whether or not a channel spoke. The
// [Log] applies those updates with upsert-by-id semantics.
package transcript

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced a turn.
type Speaker string

// Speakers in an interview.
const (
	SpeakerAI        Speaker = "AI"
	SpeakerCandidate Speaker = "Candidate"
)

// Update is one reconciler output: the full accumulated text of a turn so far.
type Update struct {
	TurnID  string
	Speaker Speaker
	Text    string
	Final   bool
}

// Turn is one utterance in the [Log].
type Turn struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Partial   bool      `json:"isPartial"`
	Timestamp time.Time `json:"timestamp"`
}

// ── Reconciler ─────────────────────────────────────────────────────────────────

// channel is the per-speaker slot: the open turn id and its accumulated text.
type channel struct {
	speaker Speaker
	prefix  string
	turnID  string
	text    strings.Builder
}

// Reconciler turns fragments and turn boundaries into [Update]s. It is not
// safe for concurrent use; a session feeds it from a single goroutine.
type Reconciler struct {
	ai        channel
	candidate channel
	emit      func(Update)
	newID     func(prefix string) string
}

// ReconcilerOption configures a [Reconciler].
type ReconcilerOption func(*Reconciler)

// WithIDGenerator replaces the turn id generator. The prefix is "ai-" or
// "user-".
func WithIDGenerator(fn func(prefix string) string) ReconcilerOption {
	return func(r *Reconciler) { r.newID = fn }
}

// NewReconciler returns a Reconciler publishing updates to emit.
func NewReconciler(emit func(Update), opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		ai:        channel{speaker: SpeakerAI, prefix: "ai-"},
		candidate: channel{speaker: SpeakerCandidate, prefix: "user-"},
		emit:      emit,
		newID:     func(prefix string) string { return prefix + uuid.NewString() },
	}
	for _, o := range opts {
		o(r)
	}
	r.reset()
	return r
}

func (r *Reconciler) channel(s Speaker) *channel {
	if s == SpeakerAI {
		return &r.ai
	}
	return &r.candidate
}

// Fragment appends text to the speaker's open turn and publishes the
// accumulated text as a partial update. Empty fragments are ignored.
func (r *Reconciler) Fragment(s Speaker, text string) {
	if text == "" {
		return
	}
	ch := r.channel(s)
	ch.text.WriteString(text)
	r.publish(Update{TurnID: ch.turnID, Speaker: ch.speaker, Text: ch.text.String()})
}

// TurnComplete finalizes every channel holding non-blank text, then resets
// both channels and mints new turn ids for each.
func (r *Reconciler) TurnComplete() {
	for _, ch := range []*channel{&r.candidate, &r.ai} {
		text := ch.text.String()
		if strings.TrimSpace(text) == "" {
			continue
		}
		r.publish(Update{TurnID: ch.turnID, Speaker: ch.speaker, Text: text, Final: true})
	}
	r.reset()
}

// TurnID returns the id of the speaker's currently open turn.
func (r *Reconciler) TurnID(s Speaker) string { return r.channel(s).turnID }

func (r *Reconciler) reset() {
	for _, ch := range []*channel{&r.ai, &r.candidate} {
		ch.text.Reset()
		ch.turnID = r.newID(ch.prefix)
	}
}

func (r *Reconciler) publish(u Update) {
	if r.emit != nil {
		r.emit(u)
	}
}

// ── Log ────────────────────────────────────────────────────────────────────────

// Log is the ordered interview transcript. Insertion order is chronological.
// It is safe for concurrent use.
type Log struct {
	mu    sync.Mutex
	turns []Turn
	index map[string]int
	now   func() time.Time
}

// NewLog returns an empty log stamped with wall-clock time.
func NewLog() *Log {
	return &Log{index: make(map[string]int), now: time.Now}
}

// Upsert applies u. A known turn id is updated in place, keeping its position
// and timestamp; an unknown id is appended. Text never shrinks within a turn.
func (l *Log) Upsert(u Update) Turn {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i, ok := l.index[u.TurnID]; ok {
		t := &l.turns[i]
		if len(u.Text) >= len(t.Text) {
			t.Text = u.Text
		}
		t.Partial = !u.Final
		return *t
	}

	t := Turn{
		ID:        u.TurnID,
		Speaker:   u.Speaker,
		Text:      u.Text,
		Partial:   !u.Final,
		Timestamp: l.now(),
	}
	l.index[u.TurnID] = len(l.turns)
	l.turns = append(l.turns, t)
	return t
}

// Turns returns a copy of the log.
func (l *Log) Turns() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.turns)
}

// Len reports the number of turns.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}
