// Package prompt renders the interviewer's system instruction from the
// candidate's interview settings.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// InterviewType selects the interviewer persona.
type InterviewType string

// Interview types.
const (
	TypeBehavioral InterviewType = "Behavioral"
	TypeTechnical  InterviewType = "Technical"
	TypeGeneral    InterviewType = "General"
)

// Difficulty applies to technical interviews.
type Difficulty string

// Difficulty levels.
const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// ParseInterviewType maps a case-insensitive name to a known type. Unknown
// names report false.
func ParseInterviewType(s string) (InterviewType, bool) {
	for _, t := range []InterviewType{TypeBehavioral, TypeTechnical, TypeGeneral} {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

// ParseDifficulty maps a case-insensitive name to a known level.
func ParseDifficulty(s string) (Difficulty, bool) {
	for _, d := range []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard} {
		if strings.EqualFold(s, string(d)) {
			return d, true
		}
	}
	return "", false
}

// Interview holds the settings an instruction is built from.
type Interview struct {
	JobTitle      string        `yaml:"job_title"`
	Type          InterviewType `yaml:"interview_type"`
	Difficulty    Difficulty    `yaml:"difficulty"`
	ResumeContext string        `yaml:"-"`
}

// Validate reports missing or unknown fields.
func (iv Interview) Validate() error {
	if strings.TrimSpace(iv.JobTitle) == "" {
		return fmt.Errorf("prompt: job title is required")
	}
	if _, ok := ParseInterviewType(string(iv.Type)); !ok {
		return fmt.Errorf("prompt: unknown interview type %q", iv.Type)
	}
	if iv.Difficulty != "" {
		if _, ok := ParseDifficulty(string(iv.Difficulty)); !ok {
			return fmt.Errorf("prompt: unknown difficulty %q", iv.Difficulty)
		}
	}
	return nil
}

// speakFirst is appended to every instruction so the model opens the call.
const speakFirst = "IMPORTANT: AS SOON AS THE SESSION STARTS, YOU MUST SPEAK FIRST. INTRODUCE YOURSELF AND THE INTERVIEW IMMEDIATELY. DO NOT WAIT FOR THE USER."

var (
	systemTmpl     = template.Must(template.New("system").Parse(systemTemplate))
	personaTmpl    = template.Must(template.New("persona").Parse(personaTemplates))
	assessmentTmpl = template.Must(template.New("assessment").Parse(assessmentTemplates))
)

type view struct {
	JobTitle   string
	Type       InterviewType
	Difficulty Difficulty
	Persona    string
	Assessment string
	Resume     string
}

// Build renders the system instruction for iv.
func Build(iv Interview) (string, error) {
	v := view{
		JobTitle: strings.TrimSpace(iv.JobTitle),
		Type:     iv.Type,
		Resume:   strings.TrimSpace(iv.ResumeContext),
	}
	if t, ok := ParseInterviewType(string(iv.Type)); ok {
		v.Type = t
	}
	if v.Resume == "" {
		v.Resume = "No resume provided."
	}
	if v.Type == TypeTechnical {
		v.Difficulty, _ = ParseDifficulty(string(iv.Difficulty))
		if v.Difficulty == "" {
			v.Difficulty = DifficultyMedium
		}
	}

	name := string(v.Type)
	if personaTmpl.Lookup(name) == nil {
		name = "default"
	}
	var err error
	if v.Persona, err = render(personaTmpl, name, v); err != nil {
		return "", err
	}
	if v.Type == TypeTechnical {
		name = "Technical" + string(v.Difficulty)
	}
	if v.Assessment, err = render(assessmentTmpl, name, v); err != nil {
		return "", err
	}
	out, err := render(systemTmpl, "system", v)
	if err != nil {
		return "", err
	}
	return out + "\n\n" + speakFirst, nil
}

func render(t *template.Template, name string, v view) (string, error) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("prompt: render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
