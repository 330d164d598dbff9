package script

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/BTreeMap/ScriptFlow/internal/component"
	"github.com/BTreeMap/ScriptFlow/internal/models"
)

// Hook names reported in HOOK_FAILED errors.
const (
	HookOnStart    = "on_start"
	HookOnComplete = "on_complete"
	HookOnFinish   = "on_finish"
)

// BackPolicy decides whether a context may step back from stepIndex. It is feature
// policy, supplied by the chat handler that owns the script.
type BackPolicy interface {
	CanGoBack(stepIndex int) bool
}

// BackPolicyFunc adapts a function to BackPolicy.
type BackPolicyFunc func(stepIndex int) bool

func (f BackPolicyFunc) CanGoBack(stepIndex int) bool { return f(stepIndex) }

// StepResult is the outcome of a successful transition.
type StepResult struct {
	// Message is the next step's prompt, or the completion message.
	Message *models.ChatMessage
	// Completed is true when the transition finished the script.
	Completed bool
}

// Runner drives execution contexts through script definitions. It holds no per-session
// state and is safe to share between sessions.
type Runner struct {
	components *component.Registry
	clock      Clock
	ids        IDGenerator
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock sets the clock used for message timestamps and context updates.
func WithClock(c Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithIDGenerator sets the generator used for message ids.
func WithIDGenerator(g IDGenerator) RunnerOption {
	return func(r *Runner) { r.ids = g }
}

// NewRunner creates a Runner that resolves step components against components.
func NewRunner(components *component.Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		components: components,
		clock:      time.Now,
		ids:        UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.components == nil {
		r.components = component.NewRegistry()
	}
	return r
}

// Start begins a run of def and returns the new context with the first step's prompt.
// If the start hook fails no context is returned.
func (r *Runner) Start(ctx context.Context, def *Definition) (*Context, *models.ChatMessage, error) {
	if err := def.Validate(); err != nil {
		return nil, nil, err
	}
	slog.Debug("Runner.Start: starting script", "script", def.ID, "feature", def.Feature, "steps", len(def.Steps))

	sc := newContext(def, r.clock())
	if def.OnStart != nil {
		if err := def.OnStart.OnStart(ctx, sc); err != nil {
			slog.Error("Runner.Start: start hook failed", "script", def.ID, "error", err)
			return nil, nil, hookFailed(def.ID, "", HookOnStart, err)
		}
	}
	sc.Status = StatusRunning
	sc.CurrentStepIndex = 0
	sc.UpdatedAt = r.clock()

	slog.Info("Runner.Start: script running", "script", def.ID, "step", def.Steps[0].ID)
	return sc, r.Prompt(sc, def, ""), nil
}

// Submit validates raw against the current step and, if accepted, records it, runs the
// step's completion hook and advances. A validation failure leaves sc untouched and
// returns a VALIDATION_FAILED error carrying the re-prompt. A hook failure leaves the
// data recorded with the step pending; see Retry.
func (r *Runner) Submit(ctx context.Context, sc *Context, def *Definition, raw Data) (*StepResult, error) {
	if err := r.checkRunnable(sc, def); err != nil {
		return nil, err
	}
	if !sc.inFlight.CompareAndSwap(false, true) {
		return nil, &Error{Code: ErrCodeInFlight, Message: "another transition is in progress", ScriptID: sc.ScriptID}
	}
	defer sc.inFlight.Store(false)

	if sc.CurrentStepIndex >= len(def.Steps) {
		return nil, &Error{Code: ErrCodeAwaitingRetry, Message: "all steps are complete; retry the finish hook", ScriptID: sc.ScriptID}
	}

	step := def.Steps[sc.CurrentStepIndex]
	slog.Debug("Runner.Submit: validating step data", "script", def.ID, "step", step.ID, "index", sc.CurrentStepIndex)

	outcome := Pass()
	if step.Validator != nil {
		outcome = step.Validator.Validate(raw)
	}
	if !outcome.OK() {
		reason := outcome.Reason()
		slog.Info("Runner.Submit: step data rejected", "script", def.ID, "step", step.ID, "reason", reason)
		return nil, validationFailed(def.ID, step.ID, reason, r.Prompt(sc, def, reason))
	}

	sc.AccumulatedData[step.ID] = maps.Clone(raw)
	sc.PendingStepID = step.ID
	sc.UpdatedAt = r.clock()
	return r.completeStep(ctx, sc, def, step)
}

// Retry re-runs a failed completion hook on the data already recorded, without asking
// the user for input again.
func (r *Runner) Retry(ctx context.Context, sc *Context, def *Definition) (*StepResult, error) {
	if err := r.checkRunnable(sc, def); err != nil {
		return nil, err
	}
	if !sc.inFlight.CompareAndSwap(false, true) {
		return nil, &Error{Code: ErrCodeInFlight, Message: "another transition is in progress", ScriptID: sc.ScriptID}
	}
	defer sc.inFlight.Store(false)

	if sc.FinishPending {
		slog.Debug("Runner.Retry: retrying finish hook", "script", def.ID)
		return r.finish(ctx, sc, def)
	}
	if sc.PendingStepID == "" || sc.CurrentStepIndex >= len(def.Steps) {
		return nil, &Error{Code: ErrCodeNothingToRetry, Message: "no failed hook to retry", ScriptID: sc.ScriptID}
	}
	step := def.Steps[sc.CurrentStepIndex]
	if step.ID != sc.PendingStepID {
		return nil, &Error{
			Code:     ErrCodeNothingToRetry,
			Message:  fmt.Sprintf("pending step %q is not the current step", sc.PendingStepID),
			ScriptID: sc.ScriptID,
			StepID:   step.ID,
		}
	}
	slog.Debug("Runner.Retry: retrying step hook", "script", def.ID, "step", step.ID)
	return r.completeStep(ctx, sc, def, step)
}

// GoBack returns to the previous step when policy allows it. The data of the step being
// returned to is discarded, as is any pending data of the step being left.
func (r *Runner) GoBack(sc *Context, def *Definition, policy BackPolicy) (*models.ChatMessage, error) {
	if err := r.checkRunnable(sc, def); err != nil {
		return nil, err
	}
	if sc.inFlight.Load() {
		return nil, &Error{Code: ErrCodeInFlight, Message: "another transition is in progress", ScriptID: sc.ScriptID}
	}

	idx := sc.CurrentStepIndex
	allowed := idx > 0
	if allowed && policy != nil {
		allowed = policy.CanGoBack(idx)
	}
	if !allowed {
		slog.Info("Runner.GoBack: back rejected", "script", def.ID, "index", idx)
		return nil, &Error{
			Code:     ErrCodeBackRejected,
			Message:  fmt.Sprintf("cannot go back from step %d", idx),
			ScriptID: sc.ScriptID,
			StepID:   stepIDAt(def, idx),
		}
	}

	if sc.PendingStepID != "" {
		delete(sc.AccumulatedData, sc.PendingStepID)
		sc.PendingStepID = ""
	}
	sc.FinishPending = false
	sc.CurrentStepIndex--
	prev := def.Steps[sc.CurrentStepIndex]
	sc.unmarkCompleted(prev.ID)
	delete(sc.AccumulatedData, prev.ID)
	sc.UpdatedAt = r.clock()

	slog.Info("Runner.GoBack: returned to step", "script", def.ID, "step", prev.ID, "index", sc.CurrentStepIndex)
	return r.Prompt(sc, def, ""), nil
}

// Abort stops the run. No hooks are invoked; a hook already in flight still finishes
// but its result is discarded.
func (r *Runner) Abort(sc *Context) {
	if sc == nil {
		return
	}
	sc.Status = StatusAborted
	sc.UpdatedAt = r.clock()
	slog.Info("Runner.Abort: script aborted", "script", sc.ScriptID, "index", sc.CurrentStepIndex)
}

// Prompt builds the message for the current step. A non-empty reason is prepended to
// the prompt and recorded in the metadata.
func (r *Runner) Prompt(sc *Context, def *Definition, reason string) *models.ChatMessage {
	if sc.CurrentStepIndex >= len(def.Steps) {
		return r.NewMessage(models.RoleAssistant, def.completionMessage())
	}
	step := def.Steps[sc.CurrentStepIndex]

	content := step.Prompt
	if reason != "" {
		content = reason + "\n\n" + step.Prompt
	}
	msg := r.NewMessage(models.RoleAssistant, content)
	msg.Metadata = map[string]any{
		models.MetaScriptID:   def.ID,
		models.MetaStepID:     step.ID,
		models.MetaStepIndex:  sc.CurrentStepIndex,
		models.MetaTotalSteps: len(def.Steps),
	}
	if reason != "" {
		msg.Metadata[models.MetaValidationReason] = reason
	}
	msg.Component = r.resolveComponent(def, step)
	return msg
}

// NewMessage creates a message stamped with the runner's id generator and clock.
func (r *Runner) NewMessage(role models.Role, content string) *models.ChatMessage {
	return &models.ChatMessage{
		ID:        r.ids.NewID(),
		Role:      role,
		Content:   content,
		Timestamp: r.clock(),
	}
}

func (r *Runner) resolveComponent(def *Definition, step Step) *models.ComponentRef {
	if step.Component == nil {
		return nil
	}
	switch res := r.components.Resolve(step.Component.TypeKey).(type) {
	case component.Registered:
		return &models.ComponentRef{
			Type:  res.Entry.TypeKey,
			Props: res.Entry.Props(step.Component.Params),
		}
	case component.Unregistered:
		slog.Warn("Runner.Prompt: component not registered, sending plain text",
			"code", ErrCodeComponentNotRegistered, "type", res.TypeKey, "script", def.ID, "step", step.ID)
	}
	return nil
}

func (r *Runner) completeStep(ctx context.Context, sc *Context, def *Definition, step Step) (*StepResult, error) {
	if step.Completer != nil {
		slog.Debug("Runner.completeStep: running step hook", "script", def.ID, "step", step.ID)
		if err := step.Completer.OnComplete(ctx, maps.Clone(sc.AccumulatedData[step.ID]), sc); err != nil {
			slog.Error("Runner.completeStep: step hook failed", "script", def.ID, "step", step.ID, "error", err)
			return nil, hookFailed(def.ID, step.ID, HookOnComplete, err)
		}
	}
	if sc.Status != StatusRunning {
		slog.Warn("Runner.completeStep: context stopped during hook", "script", def.ID, "step", step.ID, "status", sc.Status)
		return nil, notRunning(sc.ScriptID, sc.Status)
	}

	sc.PendingStepID = ""
	sc.markCompleted(step.ID)
	sc.CurrentStepIndex++
	sc.UpdatedAt = r.clock()
	slog.Info("Runner.completeStep: step completed", "script", def.ID, "step", step.ID, "next_index", sc.CurrentStepIndex)

	if sc.CurrentStepIndex == len(def.Steps) {
		return r.finish(ctx, sc, def)
	}
	return &StepResult{Message: r.Prompt(sc, def, "")}, nil
}

func (r *Runner) finish(ctx context.Context, sc *Context, def *Definition) (*StepResult, error) {
	if def.OnComplete != nil {
		if err := def.OnComplete.OnFinish(ctx, sc); err != nil {
			sc.FinishPending = true
			sc.UpdatedAt = r.clock()
			slog.Error("Runner.finish: finish hook failed", "script", def.ID, "error", err)
			return nil, hookFailed(def.ID, "", HookOnFinish, err)
		}
	}
	if sc.Status != StatusRunning {
		return nil, notRunning(sc.ScriptID, sc.Status)
	}
	sc.FinishPending = false
	sc.Status = StatusCompleted
	sc.UpdatedAt = r.clock()
	slog.Info("Runner.finish: script completed", "script", def.ID, "steps", len(sc.CompletedStepIDs))

	msg := r.NewMessage(models.RoleAssistant, def.completionMessage())
	msg.Metadata = map[string]any{
		models.MetaScriptID:  def.ID,
		models.MetaCompleted: true,
	}
	return &StepResult{Message: msg, Completed: true}, nil
}

func (r *Runner) checkRunnable(sc *Context, def *Definition) error {
	if sc == nil {
		return notRunning("", StatusNotStarted)
	}
	if def == nil || sc.ScriptID != def.ID {
		return &Error{Code: ErrCodeScriptMismatch, Message: "context does not belong to this script", ScriptID: sc.ScriptID}
	}
	if sc.Status != StatusRunning {
		return notRunning(sc.ScriptID, sc.Status)
	}
	return nil
}

func stepIDAt(def *Definition, idx int) string {
	if idx >= 0 && idx < len(def.Steps) {
		return def.Steps[idx].ID
	}
	return ""
}
