// Package candidate implements the create-candidate feature: a scripted conversation
// that collects a resume, contact details and skills, then stores a models.Candidate.
package candidate

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ScriptFlow/internal/chat"
	"github.com/BTreeMap/ScriptFlow/internal/component"
	"github.com/BTreeMap/ScriptFlow/internal/features/stepdata"
	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/script"
	"github.com/BTreeMap/ScriptFlow/internal/store"
)

//go:embed candidate.yaml
var definitionYAML string

// Step ids of the create-candidate script.
const (
	StepResume  = "resume"
	StepContact = "contact"
	StepSkills  = "skills"
	StepReview  = "review"
)

// Keys the resume hook adds to the resume step's data.
const (
	SuggestedName    = "suggested_name"
	SuggestedEmail   = "suggested_email"
	SuggestedPhone   = "suggested_phone"
	SuggestedSkills  = "suggested_skills"
	SuggestedSummary = "suggested_summary"
)

const resumeInstructions = "You read resumes. Extract the candidate's full name, email, phone number, " +
	"a list of skills and a two sentence professional summary."

var resumeFields = []string{"name", "email", "phone", "skills", "summary"}

// Extractor pulls named fields out of free text.
type Extractor interface {
	ExtractFields(ctx context.Context, instructions, text string, fields []string) (map[string]string, error)
}

// Module wires the candidate feature.
type Module struct {
	candidates store.CandidateStore
	extractor  Extractor
	ids        script.IDGenerator
	clock      script.Clock
}

// Option configures a Module.
type Option func(*Module)

// WithExtractor enables resume parsing.
func WithExtractor(e Extractor) Option {
	return func(m *Module) { m.extractor = e }
}

// WithIDGenerator overrides the generator used for candidate ids.
func WithIDGenerator(g script.IDGenerator) Option {
	return func(m *Module) { m.ids = g }
}

// WithClock overrides the clock used for CreatedAt.
func WithClock(c script.Clock) Option {
	return func(m *Module) { m.clock = c }
}

// New creates the module. Candidates are saved to candidates.
func New(candidates store.CandidateStore, opts ...Option) *Module {
	m := &Module{
		candidates: candidates,
		ids:        script.UUIDv7Generator{},
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterComponents registers the fragments the script's steps attach.
func (m *Module) RegisterComponents(reg *component.Registry) {
	reg.Register("candidate-resume", component.KindFileUpload, map[string]any{
		"accept":      []any{".pdf", ".docx", ".txt"},
		"allow_paste": true,
		"max_size_mb": 5,
	})
	reg.Register("candidate-contact", component.KindForm, map[string]any{
		"fields": []any{"name", "email", "phone"},
	})
	reg.Register("candidate-skills", component.KindTagInput, map[string]any{
		"field": "skills",
		"min":   1,
	})
	reg.Register("candidate-review", component.KindReview, map[string]any{
		"confirm_label": "Save candidate",
	})
}

// Hooks returns the named hooks and validators the definition refers to.
func (m *Module) Hooks() script.Hooks {
	return script.Hooks{
		Complete: map[string]script.Completer{
			"parse-resume": script.CompleterFunc(m.parseResume),
		},
		Finish: map[string]script.FinishHook{
			"save-candidate": script.FinishFunc(m.save),
		},
		Validators: map[string]script.Validator{
			"resume-present":   script.ValidatorFunc(validateResume),
			"contact-complete": script.ValidatorFunc(validateContact),
			"skills-present":   script.ValidatorFunc(validateSkills),
			"confirmed":        script.ValidatorFunc(validateConfirmed),
		},
	}
}

// Definition loads the embedded create-candidate script.
func (m *Module) Definition() (*script.Definition, error) {
	return script.LoadDefinition(strings.NewReader(definitionYAML), m.Hooks())
}

// RequiredSteps are the steps a definition of this feature needs for the save hook
// to build a candidate.
var RequiredSteps = []string{StepContact}

// BackPolicy rejects returning to the resume step of def once it has been parsed.
func BackPolicy(def *script.Definition) func(stepIndex int) bool {
	resume := def.StepIndex(StepResume)
	return func(stepIndex int) bool {
		return resume < 0 || stepIndex-1 != resume
	}
}

// NewHandler creates the chat handler running def.
func (m *Module) NewHandler(def *script.Definition, runner *script.Runner) *chat.ScriptHandler {
	return chat.NewScriptHandler(def, runner, chat.WithBackPolicy(BackPolicy(def)))
}

// resume is the data of the resume step.
type resume struct {
	FileName string `json:"file_name"`
	Content  string `json:"content"`
	Text     string `json:"text"`
}

func (r resume) body() string {
	if s := strings.TrimSpace(r.Content); s != "" {
		return s
	}
	return strings.TrimSpace(r.Text)
}

type contact struct {
	Name  string
	Email string
	Phone string
}

// parseContact reads structured fields, or splits a free-text reply on commas and
// newlines, classifying parts containing "@" as the email and digit-heavy parts as
// the phone number.
func parseContact(data script.Data) contact {
	c := contact{
		Name:  stepdata.String(data, "name"),
		Email: stepdata.String(data, "email"),
		Phone: stepdata.String(data, "phone"),
	}
	if c.Name != "" || c.Email != "" {
		return c
	}
	for _, part := range stepdata.List(script.Data{stepdata.TextKey: data[stepdata.TextKey]}, stepdata.TextKey) {
		switch {
		case strings.Contains(part, "@") && c.Email == "":
			c.Email = part
		case digitCount(part) >= 7 && c.Phone == "":
			c.Phone = part
		case c.Name == "":
			c.Name = part
		}
	}
	return c
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func validateResume(data script.Data) script.Outcome {
	var r resume
	if err := stepdata.Decode(data, &r); err != nil || r.body() == "" {
		return script.Fail("Please upload a resume or paste its text.")
	}
	return script.Pass()
}

func validateContact(data script.Data) script.Outcome {
	c := parseContact(data)
	if c.Name == "" {
		return script.Fail("Please include the candidate's name.")
	}
	if c.Email == "" {
		return script.Fail("Please include the candidate's email address.")
	}
	fields := script.Data{"email": c.Email, "phone": c.Phone}
	return script.Chain{script.Email{Field: "email"}, script.Phone{Field: "phone"}}.Validate(fields)
}

func validateSkills(data script.Data) script.Outcome {
	if len(stepdata.List(data, "skills")) == 0 {
		return script.Fail("Please add at least one skill.")
	}
	return script.Pass()
}

func validateConfirmed(data script.Data) script.Outcome {
	return script.FromBool(stepdata.Confirmed(data))
}

// parseResume stores the extractor's suggestions next to the resume data. Without an
// extractor the step completes with no suggestions.
func (m *Module) parseResume(ctx context.Context, data script.Data, sc *script.Context) error {
	if m.extractor == nil {
		return nil
	}
	var r resume
	if err := stepdata.Decode(data, &r); err != nil {
		return err
	}
	fields, err := m.extractor.ExtractFields(ctx, resumeInstructions, r.body(), resumeFields)
	if err != nil {
		return fmt.Errorf("failed to parse resume: %w", err)
	}
	sc.Annotate(StepResume, script.Data{
		SuggestedName:    fields["name"],
		SuggestedEmail:   fields["email"],
		SuggestedPhone:   fields["phone"],
		SuggestedSkills:  fields["skills"],
		SuggestedSummary: fields["summary"],
	})
	slog.Debug("candidate.parseResume: resume parsed", "script", sc.ScriptID, "fields", len(fields))
	return nil
}

// Build assembles the candidate from a completed run's data.
func (m *Module) Build(sessionID string, result map[string]script.Data) (models.Candidate, error) {
	var r resume
	if err := stepdata.Decode(result[StepResume], &r); err != nil {
		return models.Candidate{}, err
	}
	c := parseContact(result[StepContact])
	res := result[StepResume]

	skills := stepdata.List(result[StepSkills], "skills")
	if len(skills) == 0 {
		skills = stepdata.List(script.Data{"skills": stepdata.String(res, SuggestedSkills)}, "skills")
	}
	phone := c.Phone
	if phone == "" {
		phone = stepdata.String(res, SuggestedPhone)
	}

	cand := models.Candidate{
		ID:         m.ids.NewID(),
		Name:       stepdata.Title(c.Name),
		Email:      strings.ToLower(c.Email),
		Phone:      phone,
		Skills:     skills,
		Summary:    stepdata.String(res, SuggestedSummary),
		ResumeName: r.FileName,
		SessionID:  sessionID,
		CreatedAt:  m.clock(),
	}
	return cand, cand.Validate()
}

func (m *Module) save(ctx context.Context, sc *script.Context) error {
	cand, err := m.Build(chat.SessionIDFromContext(ctx), sc.Result())
	if err != nil {
		return err
	}
	if err := m.candidates.AddCandidate(cand); err != nil {
		return fmt.Errorf("failed to save candidate: %w", err)
	}
	slog.Info("candidate.save: candidate saved", "candidate", cand.ID, "skills", len(cand.Skills))
	return nil
}
