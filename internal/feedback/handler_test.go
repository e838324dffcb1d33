package feedback_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/panelai/internal/feedback"
	"github.com/MrWong99/panelai/internal/prompt"
	"github.com/MrWong99/panelai/internal/ratelimit"
	"github.com/MrWong99/panelai/internal/transcript"
)

type stubReporter struct {
	mu     sync.Mutex
	report *feedback.Report
	err    error
	reqs   []feedback.Request
}

func (s *stubReporter) Generate(_ context.Context, req feedback.Request) (*feedback.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return s.report, s.err
}

func (s *stubReporter) requests() []feedback.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]feedback.Request(nil), s.reqs...)
}

type chanArchive chan feedback.Record

func (c chanArchive) SaveReport(_ context.Context, rec feedback.Record) error {
	c <- rec
	return nil
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, feedback.Endpoint, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const validBody = `{"transcript":[{"speaker":"AI","text":"Hi"},{"speaker":"Candidate","text":"Hello"}],"config":{"jobTitle":"Engineer","interviewType":"Behavioral"}}`

func TestHandler_Success(t *testing.T) {
	t.Parallel()

	rep := &stubReporter{report: &feedback.Report{Summary: "Great", OverallScore: 90}}
	archive := make(chanArchive, 1)
	h := feedback.NewHandler(rep, feedback.WithArchive(archive))

	rec := post(h, validBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got feedback.Report
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Summary != "Great" || got.OverallScore != 90 {
		t.Errorf("report = %+v", got)
	}

	select {
	case r := <-archive:
		if r.ID == "" || r.Report.Summary != "Great" || len(r.Request.Transcript) != 2 {
			t.Errorf("archived = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("report not archived")
	}
}

func TestHandler_Validation(t *testing.T) {
	t.Parallel()

	many := make([]string, feedback.MaxTranscriptItems+1)
	for i := range many {
		many[i] = `{"speaker":"AI","text":"q"}`
	}

	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{"not json", `nope`, "Invalid request body"},
		{"no transcript", `{"config":{}}`, "Invalid transcript format"},
		{"no config", `{"transcript":[]}`, "Invalid config format"},
		{"too many items", fmt.Sprintf(`{"transcript":[%s],"config":{}}`, strings.Join(many, ",")), "Transcript too long"},
		{"long title", fmt.Sprintf(`{"transcript":[],"config":{"jobTitle":%q}}`, strings.Repeat("t", 101)), "Job title too long"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rep := &stubReporter{report: &feedback.Report{}}
			rec := post(feedback.NewHandler(rep), tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var body map[string]any
			_ = json.NewDecoder(rec.Body).Decode(&body)
			if body["error"] != tc.wantError {
				t.Errorf("error = %v, want %q", body["error"], tc.wantError)
			}
			if len(rep.requests()) != 0 {
				t.Error("reporter must not be called for invalid input")
			}
		})
	}
}

func TestHandler_SanitizesBeforeGenerating(t *testing.T) {
	t.Parallel()

	rep := &stubReporter{report: &feedback.Report{}}
	body := `{"transcript":[{"speaker":"A very long speaker name indeed","text":"x"},42,{"speaker":7}],"config":{"interviewType":"Puzzle"}}`
	if rec := post(feedback.NewHandler(rep), body); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := rep.requests()[0]
	if got.Transcript[0].Speaker != "A very long speaker " {
		t.Errorf("speaker = %q", got.Transcript[0].Speaker)
	}
	if got.Transcript[1].Speaker != "Unknown" || got.Transcript[2].Speaker != "Unknown" {
		t.Errorf("malformed items = %+v", got.Transcript[1:])
	}
	if got.Config.InterviewType != "General" {
		t.Errorf("type = %q, want General", got.Config.InterviewType)
	}
}

func TestHandler_Failures(t *testing.T) {
	t.Parallel()

	t.Run("quota", func(t *testing.T) {
		t.Parallel()
		rec := post(feedback.NewHandler(&stubReporter{err: fmt.Errorf("%w: 429", feedback.ErrQuota)}), validBody)
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"QUOTA_EXCEEDED"`) {
			t.Errorf("body = %s", rec.Body)
		}
	})

	t.Run("fallback report", func(t *testing.T) {
		t.Parallel()
		rec := post(feedback.NewHandler(&stubReporter{err: errors.New("boom")}), validBody)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
		var body struct {
			Error string `json:"error"`
			feedback.Report
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error != "Failed to generate feedback" || body.Summary != "Could not generate report due to a technical error." {
			t.Errorf("body = %+v", body)
		}
		if body.SpeechAnalysis.Feedback != "N/A" {
			t.Errorf("speech feedback = %q, want N/A", body.SpeechAnalysis.Feedback)
		}
	})

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()
		rec := post(feedback.NewHandler(nil), validBody)
		if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "API key not configured") {
			t.Errorf("status = %d body = %s", rec.Code, rec.Body)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		t.Parallel()
		h := feedback.NewHandler(&stubReporter{report: &feedback.Report{}}, feedback.WithLimiter(ratelimit.New(1, time.Minute)))
		if rec := post(h, validBody); rec.Code != http.StatusOK {
			t.Fatalf("first status = %d", rec.Code)
		}
		rec := post(h, validBody)
		if rec.Code != http.StatusTooManyRequests || !strings.Contains(rec.Body.String(), "Too many requests") {
			t.Errorf("second status = %d body = %s", rec.Code, rec.Body)
		}
	})
}

func TestClient_RoundTrip(t *testing.T) {
	t.Parallel()

	rep := &stubReporter{report: &feedback.Report{Summary: "Nice", Strengths: []string{"Calm"}}}
	srv := httptest.NewServer(feedback.NewHandler(rep))
	t.Cleanup(srv.Close)

	turns := []transcript.Turn{
		{ID: "ai-1", Speaker: transcript.SpeakerAI, Text: "Why this role?"},
		{ID: "user-2", Speaker: transcript.SpeakerCandidate, Text: ""},
		{ID: "user-3", Speaker: transcript.SpeakerCandidate, Text: "I like hard problems."},
	}
	req := feedback.NewRequest(turns, prompt.Interview{JobTitle: "SRE", Type: prompt.TypeTechnical, Difficulty: prompt.DifficultyEasy})

	got, err := feedback.NewClient(srv.URL, nil).Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.Summary != "Nice" {
		t.Errorf("summary = %q", got.Summary)
	}
	sent := rep.requests()[0]
	if len(sent.Transcript) != 2 || sent.Config.Difficulty != "Easy" || sent.Config.InterviewType != "Technical" {
		t.Errorf("server saw %+v", sent)
	}
}

func TestClient_Errors(t *testing.T) {
	t.Parallel()

	quota := httptest.NewServer(feedback.NewHandler(&stubReporter{err: feedback.ErrQuota}))
	t.Cleanup(quota.Close)
	if _, err := feedback.NewClient(quota.URL, nil).Generate(context.Background(), feedback.Request{Transcript: []feedback.Item{}}); !errors.Is(err, feedback.ErrQuota) {
		t.Errorf("quota err = %v", err)
	}

	throttled := httptest.NewServer(feedback.NewHandler(&stubReporter{report: &feedback.Report{}}, feedback.WithLimiter(ratelimit.New(0, time.Minute))))
	t.Cleanup(throttled.Close)
	if _, err := feedback.NewClient(throttled.URL, nil).Generate(context.Background(), feedback.Request{}); !errors.Is(err, feedback.ErrRateLimited) {
		t.Errorf("throttled err = %v", err)
	}
}
