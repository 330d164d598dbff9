package script

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/ScriptFlow/internal/models"
)

// Status is the lifecycle state of an execution context.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusAborted    Status = "aborted"
)

// Context is the mutable state of one script run. It belongs to exactly one chat
// session; the runner does not lock it, so callers must serialize transitions.
//
// Invariants:
//   - CompletedStepIDs are the ids of steps[0..CurrentStepIndex-1]
//   - AccumulatedData keys are CompletedStepIDs plus PendingStepID when set
type Context struct {
	ScriptID         string          `json:"script_id"`
	Feature          models.Feature  `json:"feature"`
	Status           Status          `json:"status"`
	CurrentStepIndex int             `json:"current_step_index"`
	AccumulatedData  map[string]Data `json:"accumulated_data"`
	CompletedStepIDs []string        `json:"completed_step_ids"`

	// PendingStepID is set while a step's data is recorded but its completion hook
	// has not succeeded.
	PendingStepID string `json:"pending_step_id,omitempty"`

	// FinishPending is set when every step completed but the finish hook failed.
	FinishPending bool `json:"finish_pending,omitempty"`

	// PromptMessageID is the transcript message that prompted the current step.
	PromptMessageID string `json:"prompt_message_id,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	inFlight atomic.Bool
}

func newContext(def *Definition, now time.Time) *Context {
	return &Context{
		ScriptID:         def.ID,
		Feature:          def.Feature,
		Status:           StatusNotStarted,
		AccumulatedData:  make(map[string]Data),
		CompletedStepIDs: []string{},
		StartedAt:        now,
		UpdatedAt:        now,
	}
}

// Running reports whether the context still accepts transitions.
func (c *Context) Running() bool {
	return c != nil && c.Status == StatusRunning
}

// IsCompleted reports whether the step with the given id has completed.
func (c *Context) IsCompleted(stepID string) bool {
	return slices.Contains(c.CompletedStepIDs, stepID)
}

// StepData returns the data recorded for a step.
func (c *Context) StepData(stepID string) (Data, bool) {
	d, ok := c.AccumulatedData[stepID]
	return d, ok
}

// Result returns a copy of all accumulated data keyed by step id.
func (c *Context) Result() map[string]Data {
	out := make(map[string]Data, len(c.AccumulatedData))
	for k, v := range c.AccumulatedData {
		out[k] = maps.Clone(v)
	}
	return out
}

// Clone returns an independent copy of the context's state.
func (c *Context) Clone() *Context {
	cp := &Context{
		ScriptID:         c.ScriptID,
		Feature:          c.Feature,
		Status:           c.Status,
		CurrentStepIndex: c.CurrentStepIndex,
		AccumulatedData:  c.Result(),
		CompletedStepIDs: slices.Clone(c.CompletedStepIDs),
		PendingStepID:    c.PendingStepID,
		FinishPending:    c.FinishPending,
		PromptMessageID:  c.PromptMessageID,
		StartedAt:        c.StartedAt,
		UpdatedAt:        c.UpdatedAt,
	}
	return cp
}

// Annotate records derived values next to the data of a step, typically from that
// step's completion hook. Steps without recorded data are left alone. Reports whether
// the values were stored.
func (c *Context) Annotate(stepID string, values Data) bool {
	d, ok := c.AccumulatedData[stepID]
	if !ok {
		return false
	}
	maps.Copy(d, values)
	return true
}

func (c *Context) markCompleted(stepID string) {
	if !c.IsCompleted(stepID) {
		c.CompletedStepIDs = append(c.CompletedStepIDs, stepID)
	}
}

func (c *Context) unmarkCompleted(stepID string) {
	c.CompletedStepIDs = slices.DeleteFunc(c.CompletedStepIDs, func(id string) bool { return id == stepID })
}

// Marshal encodes the context for persistence.
func (c *Context) Marshal() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal script context: %w", err)
	}
	return string(data), nil
}

// UnmarshalContext decodes a context produced by Marshal.
func UnmarshalContext(s string) (*Context, error) {
	var c Context
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal script context: %w", err)
	}
	if c.AccumulatedData == nil {
		c.AccumulatedData = make(map[string]Data)
	}
	if c.CompletedStepIDs == nil {
		c.CompletedStepIDs = []string{}
	}
	return &c, nil
}
