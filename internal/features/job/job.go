// Package job implements the create-job feature.
package job

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

//go:embed job.yaml
var definitionYAML string

const (
	StepBasics      = "basics"
	StepDescription = "description"
	StepEmployment  = "employment"
	StepReview      = "review"
)

// RequiredSteps are the steps a definition of this feature needs for the save hook
// to build a job.
var RequiredSteps = []string{StepBasics}

// RequirementsKey is added to the description step's data by the requirements hook.
const RequirementsKey = "requirements"

const requirementsInstructions = "You read job descriptions. List the candidate requirements " +
	"the description states, one per entry."

// EmploymentOptions are the choices offered by the employment step.
var EmploymentOptions = []stepdata.Option{
	{Value: string(models.EmploymentFullTime), Label: "Full time"},
	{Value: string(models.EmploymentPartTime), Label: "Part time"},
	{Value: string(models.EmploymentContract), Label: "Contract"},
}

// Extractor pulls named fields out of free text.
type Extractor interface {
	ExtractFields(ctx context.Context, instructions, text string, fields []string) (map[string]string, error)
}

// Module wires the job feature.
type Module struct {
	jobs      store.JobStore
	extractor Extractor
	ids       script.IDGenerator
	clock     script.Clock
}

type Option func(*Module)

// WithExtractor enables AI requirement extraction. Without it requirements are read
// from bulleted lines of the description.
func WithExtractor(e Extractor) Option {
	return func(m *Module) { m.extractor = e }
}

func WithIDGenerator(g script.IDGenerator) Option {
	return func(m *Module) { m.ids = g }
}

func WithClock(c script.Clock) Option {
	return func(m *Module) { m.clock = c }
}

// New creates the module. Jobs are saved to jobs.
func New(jobs store.JobStore, opts ...Option) *Module {
	m := &Module{
		jobs:  jobs,
		ids:   script.UUIDv7Generator{},
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) RegisterComponents(reg *component.Registry) {
	reg.Register("job-basics", component.KindForm, map[string]any{
		"fields": []any{"title", "department", "location"},
	})
	reg.Register("job-description", component.KindTextInput, map[string]any{
		"field":     "description",
		"multiline": true,
		"max":       5000,
	})
	reg.Register("job-employment", component.KindChoice, map[string]any{
		"field":   "employment",
		"options": stepdata.OptionProps(EmploymentOptions),
	})
	reg.Register("job-review", component.KindReview, map[string]any{
		"confirm_label": "Post job",
	})
}

func (m *Module) Hooks() script.Hooks {
	return script.Hooks{
		Complete: map[string]script.Completer{
			"extract-requirements": script.CompleterFunc(m.extractRequirements),
		},
		Finish: map[string]script.FinishHook{
			"save-job": script.FinishFunc(m.save),
		},
		Validators: map[string]script.Validator{
			"basics-complete":     script.ValidatorFunc(validateBasics),
			"description-present": script.ValidatorFunc(validateDescription),
			"employment-choice":   script.ValidatorFunc(validateEmployment),
			"confirmed":           script.ValidatorFunc(func(d script.Data) script.Outcome { return script.FromBool(stepdata.Confirmed(d)) }),
		},
	}
}

// Definition loads the embedded create-job script.
func (m *Module) Definition() (*script.Definition, error) {
	return script.LoadDefinition(strings.NewReader(definitionYAML), m.Hooks())
}

// NewHandler creates the chat handler running def. Every step after the first may go back.
func (m *Module) NewHandler(def *script.Definition, runner *script.Runner) *chat.ScriptHandler {
	return chat.NewScriptHandler(def, runner)
}

type basics struct {
	Title      string `json:"title"`
	Department string `json:"department"`
	Location   string `json:"location"`
}

// parseBasics reads the form fields, or "title, department, location" free text.
func parseBasics(data script.Data) basics {
	var b basics
	if err := stepdata.Decode(data, &b); err == nil && strings.TrimSpace(b.Title) != "" {
		return b
	}
	parts := stepdata.List(script.Data{stepdata.TextKey: data[stepdata.TextKey]}, stepdata.TextKey)
	for i, p := range parts {
		switch i {
		case 0:
			b.Title = p
		case 1:
			b.Department = p
		case 2:
			b.Location = p
		}
	}
	return b
}

func validateBasics(data script.Data) script.Outcome {
	if strings.TrimSpace(parseBasics(data).Title) == "" {
		return script.Fail("Please include the job title.")
	}
	return script.Pass()
}

func validateDescription(data script.Data) script.Outcome {
	if stepdata.Text(data, "description") == "" {
		return script.Fail("Please describe the role.")
	}
	return script.Pass()
}

func validateEmployment(data script.Data) script.Outcome {
	if _, ok := stepdata.Choose(data, "employment", EmploymentOptions); !ok {
		return script.Fail("Please choose full time, part time or contract.")
	}
	return script.Pass()
}

// bulletRequirements reads lines starting with "-", "*" or "•".
func bulletRequirements(description string) []string {
	var out []string
	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(line)
		for _, bullet := range []string{"-", "*", "•"} {
			if rest, ok := strings.CutPrefix(line, bullet); ok {
				if rest = strings.TrimSpace(rest); rest != "" {
					out = append(out, rest)
				}
				break
			}
		}
	}
	return out
}

func (m *Module) extractRequirements(ctx context.Context, data script.Data, sc *script.Context) error {
	description := stepdata.Text(data, "description")
	requirements := bulletRequirements(description)
	if m.extractor != nil {
		fields, err := m.extractor.ExtractFields(ctx, requirementsInstructions, description, []string{RequirementsKey})
		if err != nil {
			return fmt.Errorf("failed to extract requirements: %w", err)
		}
		if extracted := stepdata.List(script.Data{RequirementsKey: fields[RequirementsKey]}, RequirementsKey); len(extracted) > 0 {
			requirements = extracted
		}
	}
	list := make([]any, len(requirements))
	for i, r := range requirements {
		list[i] = r
	}
	sc.Annotate(StepDescription, script.Data{RequirementsKey: list})
	slog.Debug("job.extractRequirements: requirements recorded", "script", sc.ScriptID, "count", len(list))
	return nil
}

// Build assembles the job from a completed run's data.
func (m *Module) Build(sessionID string, result map[string]script.Data) (models.Job, error) {
	b := parseBasics(result[StepBasics])
	desc := result[StepDescription]
	employment, _ := stepdata.Choose(result[StepEmployment], "employment", EmploymentOptions)

	j := models.Job{
		ID:           m.ids.NewID(),
		Title:        stepdata.Title(b.Title),
		Department:   stepdata.Title(b.Department),
		Location:     strings.TrimSpace(b.Location),
		Description:  stepdata.Text(desc, "description"),
		Requirements: stepdata.List(script.Data{RequirementsKey: desc[RequirementsKey]}, RequirementsKey),
		Employment:   models.EmploymentType(employment.Value),
		SessionID:    sessionID,
		CreatedAt:    m.clock(),
	}
	return j, j.Validate()
}

func (m *Module) save(ctx context.Context, sc *script.Context) error {
	j, err := m.Build(chat.SessionIDFromContext(ctx), sc.Result())
	if err != nil {
		return err
	}
	if err := m.jobs.AddJob(j); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	slog.Info("job.save: job saved", "job", j.ID, "employment", j.Employment)
	return nil
}
