// Package script implements guided conversational scripts: immutable definitions of
// ordered steps, the per-session execution context, and the runner that moves a context
// through a definition.
//
// Steps run strictly in order. The runner never branches on data; a feature that needs
// a different sequence registers a different definition.
package script

import (
	"context"
	"maps"

	"github.com/BTreeMap/ScriptFlow/internal/models"
)

// Data is the raw payload a user submits for one step.
type Data = map[string]any

// GenericFailureReason is shown when a validator rejects input without a reason.
const GenericFailureReason = "That doesn't look quite right. Please check your answer and try again."

// Outcome is the result of validating step data.
type Outcome struct {
	failed bool
	reason string
}

// Pass accepts the data.
func Pass() Outcome { return Outcome{} }

// Fail rejects the data with a user-facing reason.
func Fail(reason string) Outcome { return Outcome{failed: true, reason: reason} }

// Reject rejects the data without a specific reason.
func Reject() Outcome { return Outcome{failed: true} }

// FromBool maps a boolean check onto an Outcome.
func FromBool(ok bool) Outcome {
	if ok {
		return Pass()
	}
	return Reject()
}

// OK reports whether the data was accepted.
func (o Outcome) OK() bool { return !o.failed }

// Reason returns the failure reason, falling back to GenericFailureReason.
func (o Outcome) Reason() string {
	if !o.failed {
		return ""
	}
	if o.reason == "" {
		return GenericFailureReason
	}
	return o.reason
}

// Validator checks the data submitted for a step.
type Validator interface {
	Validate(data Data) Outcome
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(data Data) Outcome

func (f ValidatorFunc) Validate(data Data) Outcome { return f(data) }

// Completer runs after a step's data has been accepted. It may call out to
// collaborators; a returned error leaves the step pending and retryable.
type Completer interface {
	OnComplete(ctx context.Context, data Data, sc *Context) error
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, data Data, sc *Context) error

func (f CompleterFunc) OnComplete(ctx context.Context, data Data, sc *Context) error {
	return f(ctx, data, sc)
}

// StartHook runs once when a script starts.
type StartHook interface {
	OnStart(ctx context.Context, sc *Context) error
}

// StartFunc adapts a function to StartHook.
type StartFunc func(ctx context.Context, sc *Context) error

func (f StartFunc) OnStart(ctx context.Context, sc *Context) error { return f(ctx, sc) }

// FinishHook runs once every step has completed.
type FinishHook interface {
	OnFinish(ctx context.Context, sc *Context) error
}

// FinishFunc adapts a function to FinishHook.
type FinishFunc func(ctx context.Context, sc *Context) error

func (f FinishFunc) OnFinish(ctx context.Context, sc *Context) error { return f(ctx, sc) }

// ComponentSpec names the component a step attaches, with step-level params that
// override the component's defaults.
type ComponentSpec struct {
	TypeKey string
	Params  map[string]any
}

// Step is one stage of a script.
type Step struct {
	ID          string
	DisplayName string
	Prompt      string
	Component   *ComponentSpec
	Validator   Validator
	Completer   Completer
}

// Definition is an immutable script description.
type Definition struct {
	ID                string
	Feature           models.Feature
	Title             string
	CompletionMessage string
	Steps             []Step
	OnStart           StartHook
	OnComplete        FinishHook
}

// DefaultCompletionMessage is used when a definition does not set one.
const DefaultCompletionMessage = "All done! Everything has been saved."

// Validate checks the definition invariants: an id, a feature, at least one step, and
// unique non-empty step ids.
func (d *Definition) Validate() error {
	if d == nil {
		return invalidDefinition("", "definition is nil")
	}
	if d.ID == "" {
		return invalidDefinition("", "script id is required")
	}
	if d.Feature == "" {
		return invalidDefinition(d.ID, "feature is required")
	}
	if len(d.Steps) == 0 {
		return invalidDefinition(d.ID, "script must have at least one step")
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, step := range d.Steps {
		if step.ID == "" {
			return invalidDefinition(d.ID, "step %d has no id", i)
		}
		if seen[step.ID] {
			return invalidDefinition(d.ID, "duplicate step id %q", step.ID)
		}
		seen[step.ID] = true
		if step.Component != nil && step.Component.TypeKey == "" {
			return invalidDefinition(d.ID, "step %q component has no type", step.ID)
		}
	}
	return nil
}

// StepIndex returns the position of the step with the given id, or -1.
func (d *Definition) StepIndex(id string) int {
	for i, step := range d.Steps {
		if step.ID == id {
			return i
		}
	}
	return -1
}

// RequireSteps fails with an invalid definition error naming the first id that is not
// a step of d.
func (d *Definition) RequireSteps(ids ...string) error {
	for _, id := range ids {
		if d.StepIndex(id) < 0 {
			return invalidDefinition(d.ID, "missing required step %q", id)
		}
	}
	return nil
}

// TotalSteps returns the number of steps.
func (d *Definition) TotalSteps() int {
	return len(d.Steps)
}

// completionMessage returns the message shown when the script completes.
func (d *Definition) completionMessage() string {
	if d.CompletionMessage != "" {
		return d.CompletionMessage
	}
	return DefaultCompletionMessage
}

// clone copies the definition so later edits to the caller's value cannot leak into a
// registered one.
func (d *Definition) clone() *Definition {
	cp := *d
	cp.Steps = make([]Step, len(d.Steps))
	for i, step := range d.Steps {
		if step.Component != nil {
			spec := *step.Component
			spec.Params = maps.Clone(step.Component.Params)
			step.Component = &spec
		}
		cp.Steps[i] = step
	}
	return &cp
}
