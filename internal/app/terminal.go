package app

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/panelai/internal/feedback"
	"github.com/MrWong99/panelai/internal/interview"
	"github.com/MrWong99/panelai/internal/policy"
	"github.com/MrWong99/panelai/internal/prompt"
	"github.com/MrWong99/panelai/internal/session"
	"github.com/MrWong99/panelai/internal/transcript"
)

// volumeWidth is the number of cells in the interviewer's volume meter.
const volumeWidth = 20

// clearLine returns the cursor to column zero and erases the line.
const clearLine = "\r\033[K"

// terminal renders the interview on a line-oriented writer. It implements
// [interview.Observer]; all writes are serialised by mu.
type terminal struct {
	interview.NopObserver

	mu       sync.Mutex
	w        io.Writer
	printed  map[string]bool
	speaking bool
	meter    bool

	closedOnce sync.Once
	closedCh   chan struct{}
}

var _ interview.Observer = (*terminal)(nil)

func newTerminal(w io.Writer) *terminal {
	return &terminal{
		w:        w,
		printed:  make(map[string]bool),
		closedCh: make(chan struct{}),
	}
}

// closed is closed once the connection has failed or been closed.
func (t *terminal) closed() <-chan struct{} { return t.closedCh }

// ── Observer ──────────────────────────────────────────────────────────────────

func (t *terminal) Status(s session.State) {
	switch s {
	case session.StateConnecting:
		t.line("Connecting to the interviewer...")
	case session.StateConnected:
		t.line("Connected. Speak when you are ready. Commands: m = mute, e = end.")
	case session.StateError, session.StateDisconnected:
		t.closedOnce.Do(func() { close(t.closedCh) })
	}
}

func (t *terminal) Transcript(turn transcript.Turn) {
	if turn.Partial || strings.TrimSpace(turn.Text) == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.printed[turn.ID] {
		return
	}
	t.printed[turn.ID] = true
	t.printLocked("%s %s", speakerLabel(turn.Speaker), turn.Text)
}

func (t *terminal) AISpeaking(speaking bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speaking = speaking
	if !speaking && t.meter {
		fmt.Fprint(t.w, clearLine)
		t.meter = false
	}
}

func (t *terminal) Volume(level float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.speaking {
		return
	}
	fmt.Fprint(t.w, clearLine+volumeBar(level))
	t.meter = true
}

func (t *terminal) Ending(reason policy.Reason) {
	switch reason {
	case policy.ReasonTimeout:
		t.line("Time is up. The interview is ending (type e + Enter to end now).")
	case policy.ReasonInactivity:
		t.line("No activity for a while. The interview is ending (type e + Enter to end now).")
	default:
		t.line("The interview is ending (type e + Enter to end now).")
	}
}

func (t *terminal) Countdown(remaining time.Duration) {
	secs := int((remaining + time.Second - 1) / time.Second)
	t.line(fmt.Sprintf("Closing in %ds...", secs))
}

func (t *terminal) Failure(f interview.Failure) {
	t.line(fmt.Sprintf("%s: %s %s", f.Title(), f.Message, f.Advice()))
}

// ── Commands ──────────────────────────────────────────────────────────────────

func (t *terminal) banner(iv prompt.Interview) {
	desc := fmt.Sprintf("%s interview for %s", iv.Type, iv.JobTitle)
	if iv.Type == prompt.TypeTechnical {
		desc += fmt.Sprintf(" (%s)", iv.Difficulty)
	}
	t.line(desc)
	if iv.ResumeContext != "" {
		t.line("Your resume has been shared with the interviewer.")
	}
}

func (t *terminal) muted(m bool) {
	if m {
		t.line("Microphone muted.")
		return
	}
	t.line("Microphone live.")
}

func (t *terminal) help() {
	t.line("Commands: m = toggle mute, e = end the interview (twice to skip the countdown).")
}

func (t *terminal) summary(res interview.Result) {
	var b strings.Builder
	fmt.Fprintf(&b, "Interview finished after %s", res.Duration.Round(time.Second))
	if res.Reason != "" {
		fmt.Fprintf(&b, " (%s)", res.Reason)
	}
	b.WriteString(".")
	t.line(b.String())
}

func (t *terminal) report(r *feedback.Report) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n── Feedback ─────────────────────────────\n")
	fmt.Fprintf(&b, "Overall score: %.0f/100\n", r.OverallScore)
	if r.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", r.Summary)
	}
	writeList(&b, "Strengths", r.Strengths)
	writeList(&b, "Improvements", r.Improvements)
	if len(r.Metrics) > 0 {
		b.WriteString("\nScores:\n")
		for _, m := range r.Metrics {
			fmt.Fprintf(&b, "  %-24s %3.0f  %s\n", m.Category, m.Score, m.Reason)
		}
	}
	if sa := r.SpeechAnalysis; sa.Feedback != "" {
		fmt.Fprintf(&b, "\nSpeech: %.0f wpm, %.0f filler words, clarity %.0f/100\n  %s\n",
			sa.WPM, sa.FillerWordCount, sa.ClarityScore, sa.Feedback)
	}
	for i, q := range r.QuestionAnalysis {
		fmt.Fprintf(&b, "\nQ%d: %s\n  Feedback: %s\n  Stronger answer: %s\n", i+1, q.Question, q.Feedback, q.IdealAnswer)
	}
	t.line(strings.TrimRight(b.String(), "\n"))
}

func (t *terminal) line(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printLocked("%s", s)
}

// printLocked writes one line, clearing the volume meter first.
func (t *terminal) printLocked(format string, args ...any) {
	if t.meter {
		fmt.Fprint(t.w, clearLine)
		t.meter = false
	}
	fmt.Fprintf(t.w, format+"\n", args...)
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "  - %s\n", it)
	}
}

func speakerLabel(s transcript.Speaker) string {
	if s == transcript.SpeakerAI {
		return "Interviewer:"
	}
	return "You:"
}

// volumeBar renders level in [0, 1] as a fixed-width meter.
func volumeBar(level float64) string {
	level = min(max(level, 0), 1)
	n := int(level*volumeWidth + 0.5)
	return "[" + strings.Repeat("#", n) + strings.Repeat("-", volumeWidth-n) + "]"
}
