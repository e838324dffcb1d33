package resume_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"google.golang.org/genai"

	"github.com/MrWong99/panelai/internal/observe"
	"github.com/MrWong99/panelai/internal/resume"
	"github.com/MrWong99/panelai/internal/textgen"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file resume.File
		want error
	}{
		{"pdf", resume.File{Name: "CV.PDF", MIMEType: resume.TypePDF}, nil},
		{"jpeg as jpg", resume.File{Name: "cv.jpeg", MIMEType: "image/jpg"}, nil},
		{"mismatch", resume.File{Name: "cv.png", MIMEType: resume.TypePDF}, resume.ErrExtensionMismatch},
		{"unsupported", resume.File{Name: "cv.docx", MIMEType: "application/msword"}, resume.ErrUnsupportedType},
		{"too large", resume.File{Name: "cv.txt", MIMEType: resume.TypeText, Data: make([]byte, resume.MaxFileSize+1)}, resume.ErrTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := resume.Validate(tc.file); !errors.Is(err, tc.want) {
				t.Errorf("Validate = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestTextExtractor(t *testing.T) {
	t.Parallel()

	ex := resume.TextExtractor{}
	got, err := ex.Extract(context.Background(), resume.File{Name: "cv.txt", MIMEType: resume.TypeText, Data: []byte("  Go, Kubernetes\n")})
	if err != nil || got != "Go, Kubernetes" {
		t.Errorf("Extract = (%q, %v)", got, err)
	}

	long := strings.Repeat("ä", resume.MaxContextLength+50)
	got, err = ex.Extract(context.Background(), resume.File{Name: "cv.txt", MIMEType: resume.TypeText, Data: []byte(long)})
	if err != nil {
		t.Fatalf("Extract(long): %v", err)
	}
	if n := utf8.RuneCountInString(got); n != resume.MaxContextLength {
		t.Errorf("runes = %d, want %d", n, resume.MaxContextLength)
	}

	if _, err := ex.Extract(context.Background(), resume.File{Name: "cv.pdf", MIMEType: resume.TypePDF}); !errors.Is(err, resume.ErrUnsupportedType) {
		t.Errorf("pdf err = %v, want ErrUnsupportedType", err)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "resume.txt")
	if err := os.WriteFile(path, []byte("Staff engineer, 10 years"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := resume.Load(context.Background(), path, resume.TextExtractor{})
	if err != nil || got != "Staff engineer, 10 years" {
		t.Errorf("Load = (%q, %v)", got, err)
	}

	if _, err := resume.Load(context.Background(), filepath.Join(dir, "resume.docx"), resume.TextExtractor{}); !errors.Is(err, resume.ErrUnsupportedType) {
		t.Errorf("docx err = %v", err)
	}
	if _, err := resume.Load(context.Background(), filepath.Join(dir, "missing.txt"), resume.TextExtractor{}); err == nil {
		t.Error("want error for missing file")
	}
}

// ── Model extractor ───────────────────────────────────────────────────────────

type fakeModels struct {
	parts []*genai.Part
	model string
	text  string
	err   error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.parts = contents[0].Parts
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}}}},
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

func TestModelExtractor(t *testing.T) {
	t.Parallel()

	fm := &fakeModels{text: "Skills: Go, SQL."}
	ex := resume.NewModelExtractor(fm, "", testMetrics(t))
	pdf := resume.File{Name: "cv.pdf", MIMEType: resume.TypePDF, Data: []byte("%PDF-1.7")}

	got, err := ex.Extract(context.Background(), pdf)
	if err != nil || got != "Skills: Go, SQL." {
		t.Fatalf("Extract = (%q, %v)", got, err)
	}
	if fm.model != resume.DefaultModel {
		t.Errorf("model = %q", fm.model)
	}
	if len(fm.parts) != 2 || fm.parts[0].InlineData == nil || fm.parts[0].InlineData.MIMEType != resume.TypePDF {
		t.Fatalf("parts = %+v, want inline file then prompt", fm.parts)
	}
	if !strings.Contains(fm.parts[1].Text, "Do not include any personal information") {
		t.Errorf("prompt = %q", fm.parts[1].Text)
	}

	fm.text = ""
	if got, _ := ex.Extract(context.Background(), pdf); got != "Could not extract resume context." {
		t.Errorf("empty reply = %q", got)
	}

	fm.err = genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}
	if _, err := ex.Extract(context.Background(), pdf); !errors.Is(err, textgen.ErrQuota) {
		t.Errorf("quota err = %v", err)
	}
}

func TestChain(t *testing.T) {
	t.Parallel()

	fm := &fakeModels{text: "From image"}
	chain := resume.Chain{resume.TextExtractor{}, resume.NewModelExtractor(fm, "", testMetrics(t))}

	got, err := chain.Extract(context.Background(), resume.File{Name: "cv.txt", MIMEType: resume.TypeText, Data: []byte("plain")})
	if err != nil || got != "plain" {
		t.Errorf("text = (%q, %v)", got, err)
	}
	got, err = chain.Extract(context.Background(), resume.File{Name: "cv.png", MIMEType: resume.TypePNG, Data: []byte{0x89}})
	if err != nil || got != "From image" {
		t.Errorf("image = (%q, %v)", got, err)
	}
}

// ── Handler ───────────────────────────────────────────────────────────────────

func upload(t *testing.T, h http.Handler, name, mimeType string, data []byte) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	hdr.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, resume.Endpoint, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&body)
	return rec, body
}

func TestHandler(t *testing.T) {
	t.Parallel()

	t.Run("extracts", func(t *testing.T) {
		t.Parallel()
		rec, body := upload(t, resume.NewHandler(resume.TextExtractor{}), "cv.txt", resume.TypeText, []byte("Rust and Go"))
		if rec.Code != http.StatusOK || body["context"] != "Rust and Go" {
			t.Errorf("status = %d body = %v", rec.Code, body)
		}
	})

	t.Run("bad type", func(t *testing.T) {
		t.Parallel()
		rec, body := upload(t, resume.NewHandler(resume.TextExtractor{}), "cv.exe", "application/x-msdownload", []byte("MZ"))
		if rec.Code != http.StatusBadRequest || !strings.HasPrefix(body["error"], "Invalid file type") {
			t.Errorf("status = %d body = %v", rec.Code, body)
		}
	})

	t.Run("extension mismatch", func(t *testing.T) {
		t.Parallel()
		rec, body := upload(t, resume.NewHandler(resume.TextExtractor{}), "cv.pdf", resume.TypeText, []byte("x"))
		if rec.Code != http.StatusBadRequest || body["error"] != "File extension does not match file type." {
			t.Errorf("status = %d body = %v", rec.Code, body)
		}
	})

	t.Run("quota", func(t *testing.T) {
		t.Parallel()
		ex := resume.NewModelExtractor(&fakeModels{err: genai.APIError{Code: 429}}, "", testMetrics(t))
		rec, body := upload(t, resume.NewHandler(ex), "cv.png", resume.TypePNG, []byte{0x89})
		if rec.Code != http.StatusTooManyRequests || body["error"] != "QUOTA_EXCEEDED" {
			t.Errorf("status = %d body = %v", rec.Code, body)
		}
	})

	t.Run("no file", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, resume.Endpoint, strings.NewReader(""))
		rec := httptest.NewRecorder()
		resume.NewHandler(resume.TextExtractor{}).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}
