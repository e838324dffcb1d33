package feedback

import (
	"context"
	"errors"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"google.golang.org/genai"

	"github.com/MrWong99/panelai/internal/observe"
)

type fakeModels struct {
	model  string
	prompt string
	config *genai.GenerateContentConfig
	text   string
	err    error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = config
	for _, c := range contents {
		for _, p := range c.Parts {
			f.prompt += p.Text
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return met
}

const sampleReport = `{
  "strengths": ["Clear structure"],
  "improvements": ["Quantify impact"],
  "summary": "Solid answers.",
  "overallScore": 78,
  "metrics": [{"category": "Communication", "score": 8, "reason": "Concise"}],
  "speechAnalysis": {"wpm": 140, "fillerWordCount": 3, "clarityScore": 8, "feedback": "Good pace"},
  "questionAnalysis": [{"question": "Tell me about a conflict.", "userAnswer": "I listened.", "feedback": "Add detail.", "idealAnswer": "Use STAR."}]
}`

func TestGenerator_Generate(t *testing.T) {
	t.Parallel()

	fm := &fakeModels{text: sampleReport}
	g := NewGenerator(fm, WithGeneratorMetrics(testMetrics(t)))

	report, err := g.Generate(context.Background(), Request{
		Transcript: []Item{{Speaker: "AI", Text: "Tell me about a conflict."}, {Speaker: "Candidate", Text: "I listened."}},
		Config:     InterviewConfig{JobTitle: "Engineer", InterviewType: "technical", Difficulty: "Hard"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.OverallScore != 78 || len(report.Metrics) != 1 || report.SpeechAnalysis.WPM != 140 {
		t.Errorf("report = %+v", report)
	}
	if fm.model != DefaultModel {
		t.Errorf("model = %q, want %q", fm.model, DefaultModel)
	}
	if fm.config.ResponseMIMEType != "application/json" || fm.config.ResponseSchema == nil {
		t.Errorf("config = %+v, want JSON schema output", fm.config)
	}
	for _, want := range []string{"- Role: Engineer", "- Type: Technical", "Difficulty Level: Hard", "AI: Tell me about a conflict.\nCandidate: I listened."} {
		if !strings.Contains(fm.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestGenerator_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fm   *fakeModels
		want error
	}{
		{"api quota", &fakeModels{err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "slow down"}}, ErrQuota},
		{"text quota", &fakeModels{err: errors.New("Quota exceeded for metric")}, ErrQuota},
		{"empty", &fakeModels{text: "  "}, ErrEmptyResponse},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := NewGenerator(tc.fm, WithGeneratorMetrics(testMetrics(t)))
			if _, err := g.Generate(context.Background(), Request{}); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}

	t.Run("server error is not quota", func(t *testing.T) {
		t.Parallel()
		g := NewGenerator(&fakeModels{err: genai.APIError{Code: 500, Status: "INTERNAL"}}, WithGeneratorMetrics(testMetrics(t)))
		_, err := g.Generate(context.Background(), Request{})
		if err == nil || errors.Is(err, ErrQuota) {
			t.Errorf("err = %v, want non-quota error", err)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()
		g := NewGenerator(&fakeModels{text: "{not json"}, WithGeneratorMetrics(testMetrics(t)))
		if _, err := g.Generate(context.Background(), Request{}); err == nil {
			t.Error("want decode error")
		}
	})
}

func TestRequest_Sanitize(t *testing.T) {
	t.Parallel()

	items := make([]Item, MaxTranscriptItems+5)
	for i := range items {
		items[i] = Item{Speaker: "Candidate", Text: "ok"}
	}
	items[0] = Item{Speaker: strings.Repeat("s", 30), Text: strings.Repeat("x", MaxTextLength+10)}
	items[1] = Item{}

	got := Request{
		Transcript: items,
		Config:     InterviewConfig{InterviewType: "Brainteaser"},
	}.Sanitize()

	if len(got.Transcript) != MaxTranscriptItems {
		t.Errorf("items = %d, want %d", len(got.Transcript), MaxTranscriptItems)
	}
	if n := len(got.Transcript[0].Speaker); n != MaxSpeakerLength {
		t.Errorf("speaker length = %d, want %d", n, MaxSpeakerLength)
	}
	if n := len(got.Transcript[0].Text); n != MaxTextLength {
		t.Errorf("text length = %d, want %d", n, MaxTextLength)
	}
	if got.Transcript[1].Speaker != "Unknown" {
		t.Errorf("empty speaker = %q, want Unknown", got.Transcript[1].Speaker)
	}
	if got.Config.InterviewType != "General" {
		t.Errorf("type = %q, want General", got.Config.InterviewType)
	}
	if got.Config.JobTitle != "Unknown Role" {
		t.Errorf("job title = %q, want Unknown Role", got.Config.JobTitle)
	}
}
