package resume

import (
	"context"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/panelai/internal/observe"
	"github.com/MrWong99/panelai/internal/textgen"
)

// DefaultModel reads resumes; it accepts documents and images inline.
const DefaultModel = "gemma-3-4b-it"

// fallbackContext is returned when the model produced no text.
const fallbackContext = "Could not extract resume context."

const extractPrompt = "Analyze this resume and extract the candidate's key skills, work history summary, and recent projects. Format it as a concise text summary suitable for an interviewer to read before an interview. Do not include any personal information like phone numbers, email addresses, or physical addresses."

// ModelExtractor summarizes any supported file with a Gemini model.
type ModelExtractor struct {
	models  textgen.Models
	model   string
	metrics *observe.Metrics
}

var _ Extractor = (*ModelExtractor)(nil)

// NewModelExtractor returns an extractor using models. An empty model
// selects [DefaultModel]; a nil met selects [observe.DefaultMetrics].
func NewModelExtractor(models textgen.Models, model string, met *observe.Metrics) *ModelExtractor {
	if model == "" {
		model = DefaultModel
	}
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &ModelExtractor{models: models, model: model, metrics: met}
}

// Extract sends f inline with the extraction prompt. Quota failures wrap
// [textgen.ErrQuota].
func (e *ModelExtractor) Extract(ctx context.Context, f File) (string, error) {
	if err := Validate(f); err != nil {
		return "", err
	}
	ctx, span := observe.StartSpan(ctx, "resume.Extract")
	defer span.End()

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: f.MIMEType, Data: f.Data}},
			{Text: extractPrompt},
		},
	}}

	start := time.Now()
	resp, err := e.models.GenerateContent(ctx, e.model, contents, nil)
	status := "ok"
	if err != nil {
		err = textgen.Wrap("resume: extract", err)
		status = "error"
		if textgen.IsQuota(err) {
			status = "quota"
		}
		observe.Fail(span, err)
	}
	e.metrics.RecordProviderRequest(ctx, "gemini", "resume", status)
	observe.Logger(ctx).Debug("resume: extraction finished", "model", e.model, "status", status, "elapsed", time.Since(start))
	if err != nil {
		return "", err
	}

	text := Cap(resp.Text())
	if text == "" {
		return fallbackContext, nil
	}
	return text, nil
}
