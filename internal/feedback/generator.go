package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/panelai/internal/observe"
	"github.com/MrWong99/panelai/internal/textgen"
)

// DefaultModel is the text model reports are generated with.
const DefaultModel = "gemini-flash-lite-latest"

// Reporter produces a report for a request.
type Reporter interface {
	Generate(ctx context.Context, req Request) (*Report, error)
}

var _ Reporter = (*Generator)(nil)

// GeneratorOption configures a [Generator].
type GeneratorOption func(*Generator)

// WithModel overrides [DefaultModel].
func WithModel(model string) GeneratorOption {
	return func(g *Generator) {
		if model != "" {
			g.model = model
		}
	}
}

// WithGeneratorMetrics records latency on met instead of
// [observe.DefaultMetrics].
func WithGeneratorMetrics(met *observe.Metrics) GeneratorOption {
	return func(g *Generator) { g.metrics = met }
}

// Generator asks a Gemini text model for schema-conforming reports.
type Generator struct {
	models  textgen.Models
	model   string
	metrics *observe.Metrics
}

// NewGenerator returns a Generator calling models, typically the client
// returned by [textgen.New].
func NewGenerator(models textgen.Models, opts ...GeneratorOption) *Generator {
	g := &Generator{models: models, model: DefaultModel}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Generate sanitizes req and returns the model's report. Quota failures
// wrap [ErrQuota].
func (g *Generator) Generate(ctx context.Context, req Request) (*Report, error) {
	ctx, span := observe.StartSpan(ctx, "feedback.Generate")
	defer span.End()

	start := time.Now()
	report, err := g.generate(ctx, req.Sanitize())
	g.metrics.FeedbackDuration.Record(ctx, time.Since(start).Seconds())

	status := "ok"
	switch {
	case errors.Is(err, ErrQuota):
		status = "quota"
	case err != nil:
		status = "error"
	}
	g.metrics.RecordProviderRequest(ctx, "gemini", "feedback", status)
	if err != nil {
		observe.Fail(span, err)
	}
	return report, err
}

func (g *Generator) generate(ctx context.Context, req Request) (*Report, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(buildPrompt(req)), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   reportSchema,
	})
	if err != nil {
		return nil, textgen.Wrap("feedback: generate", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}
	var report Report
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		return nil, fmt.Errorf("feedback: decode report: %w", err)
	}
	return &report, nil
}

func buildPrompt(req Request) string {
	var lines strings.Builder
	for i, it := range req.Transcript {
		if i > 0 {
			lines.WriteByte('\n')
		}
		fmt.Fprintf(&lines, "%s: %s", it.Speaker, it.Text)
	}
	difficulty := ""
	if req.Config.Difficulty != "" {
		difficulty = "Difficulty Level: " + req.Config.Difficulty
	}

	return fmt.Sprintf(`You are an expert interview coach. Analyze the following interview transcript and provide constructive feedback with quantitative scoring.

**Interview Details:**
- Role: %s
- Type: %s
- %s

**Transcript:**
%s

**Task:**
1. Overall Score (0-100).
2. Metrics (1-10) for 3-4 categories.
3. Strengths & Improvements.
4. **Speech Analysis**: Estimate filler word usage (um, uh, like) and clarity.
5. **Ideal Answers**: Identify the 2 most important questions asked by the AI. For each, show the user's answer and write a "Better/Ideal Answer" that would score 10/10.
`, req.Config.JobTitle, req.Config.InterviewType, difficulty, lines.String())
}

var reportSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"strengths":    {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"improvements": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"summary":      {Type: genai.TypeString},
		"overallScore": {Type: genai.TypeNumber},
		"metrics": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"category": {Type: genai.TypeString},
					"score":    {Type: genai.TypeNumber},
					"reason":   {Type: genai.TypeString},
				},
				Required: []string{"category", "score", "reason"},
			},
		},
		"speechAnalysis": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"wpm":             {Type: genai.TypeNumber, Description: "Estimated Words Per Minute"},
				"fillerWordCount": {Type: genai.TypeNumber, Description: "Estimated count of 'um', 'uh', 'like'"},
				"clarityScore":    {Type: genai.TypeNumber, Description: "1-10 score for speech clarity"},
				"feedback":        {Type: genai.TypeString, Description: "Feedback on pacing and tone"},
			},
			Required: []string{"wpm", "fillerWordCount", "clarityScore", "feedback"},
		},
		"questionAnalysis": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"question":    {Type: genai.TypeString},
					"userAnswer":  {Type: genai.TypeString},
					"feedback":    {Type: genai.TypeString},
					"idealAnswer": {Type: genai.TypeString, Description: "An example of a 10/10 perfect answer to this question"},
				},
				Required: []string{"question", "userAnswer", "feedback", "idealAnswer"},
			},
		},
	},
	Required: []string{"strengths", "improvements", "summary", "overallScore", "metrics", "speechAnalysis", "questionAnalysis"},
}
