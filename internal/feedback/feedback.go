// Package feedback turns a finished interview transcript into a scored
// coaching report.
//
// A [Generator] asks a text model for a report that conforms to a fixed
// JSON schema. [Handler] exposes generation over HTTP with per-client rate
// limiting and input limits, [Client] calls that endpoint, and [FileStore]
// keeps an append-only log of generated reports.
package feedback

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/panelai/internal/prompt"
	"github.com/MrWong99/panelai/internal/textgen"
	"github.com/MrWong99/panelai/internal/transcript"
)

// Input limits applied before a transcript reaches the model.
const (
	MaxTranscriptItems = 100
	MaxTextLength      = 10000
	MaxJobTitleLength  = 100
	MaxSpeakerLength   = 20
)

var (
	// ErrQuota reports that the model's quota is exhausted.
	ErrQuota = textgen.ErrQuota

	// ErrRateLimited reports that the feedback endpoint throttled the caller.
	ErrRateLimited = errors.New("feedback: too many requests")

	// ErrEmptyResponse reports a model reply without content.
	ErrEmptyResponse = errors.New("feedback: empty response from model")
)

// Item is one transcript line as the report sees it.
type Item struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// InterviewConfig describes the interview the transcript belongs to.
type InterviewConfig struct {
	JobTitle      string `json:"jobTitle"`
	InterviewType string `json:"interviewType"`
	Difficulty    string `json:"difficulty,omitempty"`
}

// Request asks for a report.
type Request struct {
	Transcript []Item          `json:"transcript"`
	Config     InterviewConfig `json:"config"`
}

// NewRequest builds a request from a transcript log, dropping empty turns.
func NewRequest(turns []transcript.Turn, iv prompt.Interview) Request {
	items := make([]Item, 0, len(turns))
	for _, t := range turns {
		if t.Text == "" {
			continue
		}
		items = append(items, Item{Speaker: string(t.Speaker), Text: t.Text})
	}
	req := Request{
		Transcript: items,
		Config: InterviewConfig{
			JobTitle:      iv.JobTitle,
			InterviewType: string(iv.Type),
		},
	}
	if iv.Type == prompt.TypeTechnical {
		req.Config.Difficulty = string(iv.Difficulty)
	}
	return req
}

// Sanitize returns a copy of r clamped to the input limits: at most
// [MaxTranscriptItems] items, speakers and texts truncated, a missing job
// title replaced and an unknown interview type coerced to General.
func (r Request) Sanitize() Request {
	items := r.Transcript
	if len(items) > MaxTranscriptItems {
		items = items[:MaxTranscriptItems]
	}
	out := Request{Transcript: make([]Item, len(items))}
	for i, it := range items {
		speaker := truncate(it.Speaker, MaxSpeakerLength)
		if speaker == "" {
			speaker = "Unknown"
		}
		out.Transcript[i] = Item{Speaker: speaker, Text: truncate(it.Text, MaxTextLength)}
	}

	out.Config.JobTitle = truncate(r.Config.JobTitle, MaxJobTitleLength)
	if out.Config.JobTitle == "" {
		out.Config.JobTitle = "Unknown Role"
	}
	out.Config.InterviewType = string(prompt.TypeGeneral)
	if t, ok := prompt.ParseInterviewType(r.Config.InterviewType); ok {
		out.Config.InterviewType = string(t)
	}
	out.Config.Difficulty = truncate(r.Config.Difficulty, 20)
	return out
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// ── Report ────────────────────────────────────────────────────────────────────

// Metric is one scored category.
type Metric struct {
	Category string  `json:"category"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

// QuestionAnalysis contrasts the candidate's answer with an ideal one.
type QuestionAnalysis struct {
	Question    string `json:"question"`
	UserAnswer  string `json:"userAnswer"`
	Feedback    string `json:"feedback"`
	IdealAnswer string `json:"idealAnswer"`
}

// SpeechAnalysis estimates delivery quality.
type SpeechAnalysis struct {
	WPM             float64 `json:"wpm"`
	FillerWordCount float64 `json:"fillerWordCount"`
	ClarityScore    float64 `json:"clarityScore"`
	Feedback        string  `json:"feedback"`
}

// Report is the coaching report for one interview.
type Report struct {
	Strengths        []string           `json:"strengths"`
	Improvements     []string           `json:"improvements"`
	Summary          string             `json:"summary"`
	OverallScore     float64            `json:"overallScore"`
	Metrics          []Metric           `json:"metrics"`
	SpeechAnalysis   SpeechAnalysis     `json:"speechAnalysis"`
	QuestionAnalysis []QuestionAnalysis `json:"questionAnalysis"`
}

// FallbackReport is returned alongside generation failures so clients always
// have a report to render.
func FallbackReport() Report {
	return Report{
		Strengths:        []string{"Error analyzing session."},
		Improvements:     []string{},
		Summary:          "Could not generate report due to a technical error.",
		Metrics:          []Metric{},
		SpeechAnalysis:   SpeechAnalysis{Feedback: "N/A"},
		QuestionAnalysis: []QuestionAnalysis{},
	}
}

// Record is a generated report together with the sanitized request it was
// generated from.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Request   Request   `json:"request"`
	Report    Report    `json:"report"`
}

// Archive persists generated reports.
type Archive interface {
	SaveReport(ctx context.Context, rec Record) error
}
