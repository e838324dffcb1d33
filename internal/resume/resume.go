// Package resume turns an uploaded resume into a short context summary the
// interviewer reads before the interview.
package resume

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Limits on accepted files and extracted context.
const (
	MaxFileSize      = 5 << 20
	MaxContextLength = 20000
)

var (
	// ErrTooLarge reports a file above [MaxFileSize].
	ErrTooLarge = errors.New("resume: file too large")

	// ErrUnsupportedType reports a file type the extractor cannot read.
	ErrUnsupportedType = errors.New("resume: unsupported file type")

	// ErrExtensionMismatch reports a file whose name does not fit its type.
	ErrExtensionMismatch = errors.New("resume: file extension does not match file type")
)

// Supported MIME types.
const (
	TypePDF  = "application/pdf"
	TypeText = "text/plain"
	TypePNG  = "image/png"
	TypeJPEG = "image/jpeg"
)

// extensions lists the accepted file name extensions per MIME type.
var extensions = map[string][]string{
	TypePDF:     {".pdf"},
	TypeText:    {".txt"},
	TypePNG:     {".png"},
	TypeJPEG:    {".jpg", ".jpeg"},
	"image/jpg": {".jpg", ".jpeg"},
}

// File is an uploaded resume.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Extractor produces a context summary from a resume file.
type Extractor interface {
	Extract(ctx context.Context, f File) (string, error)
}

// Validate checks the size, type and extension of f.
func Validate(f File) error {
	if len(f.Data) > MaxFileSize {
		return ErrTooLarge
	}
	exts, ok := extensions[f.MIMEType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, f.MIMEType)
	}
	name := strings.ToLower(f.Name)
	for _, ext := range exts {
		if strings.HasSuffix(name, ext) {
			return nil
		}
	}
	return ErrExtensionMismatch
}

// TypeByExtension infers the MIME type of a supported file name.
func TypeByExtension(name string) (string, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return TypePDF, true
	case ".txt":
		return TypeText, true
	case ".png":
		return TypePNG, true
	case ".jpg", ".jpeg":
		return TypeJPEG, true
	}
	return "", false
}

// Load reads the file at path and extracts its context with ex.
func Load(ctx context.Context, path string, ex Extractor) (string, error) {
	mimeType, ok := TypeByExtension(path)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("resume: %w", err)
	}
	if info.Size() > MaxFileSize {
		return "", ErrTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("resume: %w", err)
	}
	f := File{Name: filepath.Base(path), MIMEType: mimeType, Data: data}
	if err := Validate(f); err != nil {
		return "", err
	}
	return ex.Extract(ctx, f)
}

// Cap trims s and cuts it to [MaxContextLength] runes.
func Cap(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= MaxContextLength {
		return s
	}
	return string([]rune(s)[:MaxContextLength])
}

// ── Plain text ────────────────────────────────────────────────────────────────

// TextExtractor reads plain-text resumes verbatim.
type TextExtractor struct{}

var _ Extractor = TextExtractor{}

// Extract returns the capped text content of f.
func (TextExtractor) Extract(_ context.Context, f File) (string, error) {
	if f.MIMEType != TypeText {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, f.MIMEType)
	}
	if !utf8.Valid(f.Data) {
		return "", errors.New("resume: text file is not valid UTF-8")
	}
	return Cap(string(f.Data)), nil
}

// ── Chain ─────────────────────────────────────────────────────────────────────

// Chain tries each extractor in order, skipping those that report
// [ErrUnsupportedType].
type Chain []Extractor

var _ Extractor = Chain(nil)

// Extract returns the first successful extraction.
func (c Chain) Extract(ctx context.Context, f File) (string, error) {
	for _, ex := range c {
		text, err := ex.Extract(ctx, f)
		if errors.Is(err, ErrUnsupportedType) {
			continue
		}
		return text, err
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, f.MIMEType)
}
