package script

import (
	"errors"
	"fmt"

	"github.com/BTreeMap/ScriptFlow/internal/models"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeValidationFailed indicates user-correctable input; the context is unchanged.
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// ErrCodeHookFailed indicates a hook failed after data was accepted. Step data is
	// retained and the transition can be retried.
	ErrCodeHookFailed ErrorCode = "HOOK_FAILED"

	// ErrCodeInvalidDefinition indicates a malformed script definition.
	ErrCodeInvalidDefinition ErrorCode = "INVALID_SCRIPT_DEFINITION"

	// ErrCodeBackRejected indicates the back policy refused a backward step.
	ErrCodeBackRejected ErrorCode = "BACK_REJECTED"

	// ErrCodeNotRunning indicates a transition on a context that is not running.
	ErrCodeNotRunning ErrorCode = "SCRIPT_NOT_RUNNING"

	// ErrCodeInFlight indicates a second transition while one is outstanding.
	ErrCodeInFlight ErrorCode = "TRANSITION_IN_FLIGHT"

	// ErrCodeNothingToRetry indicates Retry was called without a failed hook.
	ErrCodeNothingToRetry ErrorCode = "NOTHING_TO_RETRY"

	// ErrCodeAwaitingRetry indicates input arrived while the finish hook awaits retry.
	ErrCodeAwaitingRetry ErrorCode = "AWAITING_RETRY"

	// ErrCodeScriptMismatch indicates a context was driven with another definition.
	ErrCodeScriptMismatch ErrorCode = "SCRIPT_MISMATCH"

	// ErrCodeComponentNotRegistered is logged when a step references an unknown
	// component. It is never returned.
	ErrCodeComponentNotRegistered ErrorCode = "COMPONENT_NOT_REGISTERED"
)

// Error is the engine's error type.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ScriptID identifies the affected script.
	ScriptID string

	// StepID identifies the affected step, if any.
	StepID string

	// Reason is the user-facing validation failure reason.
	Reason string

	// Hook names the failed hook (on_start, on_complete, on_finish).
	Hook string

	// Reprompt is the message re-issuing the step after a validation failure.
	Reprompt *models.ChatMessage

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ScriptID != "" && e.StepID != "" {
		msg = fmt.Sprintf("%s (script=%s, step=%s)", msg, e.ScriptID, e.StepID)
	} else if e.ScriptID != "" {
		msg = fmt.Sprintf("%s (script=%s)", msg, e.ScriptID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of an engine error, or "" for other errors.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsValidationError returns true if the error is a validation failure.
func IsValidationError(err error) bool {
	return CodeOf(err) == ErrCodeValidationFailed
}

// IsHookError returns true if a hook failed after data was accepted.
func IsHookError(err error) bool {
	return CodeOf(err) == ErrCodeHookFailed
}

// IsInvalidDefinition returns true if the error reports a malformed definition.
func IsInvalidDefinition(err error) bool {
	return CodeOf(err) == ErrCodeInvalidDefinition
}

// IsBackRejected returns true if a backward step was refused.
func IsBackRejected(err error) bool {
	return CodeOf(err) == ErrCodeBackRejected
}

// IsNotRunning returns true if the context no longer accepts transitions.
func IsNotRunning(err error) bool {
	return CodeOf(err) == ErrCodeNotRunning
}

// IsInFlight returns true if another transition is outstanding.
func IsInFlight(err error) bool {
	return CodeOf(err) == ErrCodeInFlight
}

// ValidationErrorOf extracts the validation error, if err is one.
func ValidationErrorOf(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) && se.Code == ErrCodeValidationFailed {
		return se, true
	}
	return nil, false
}

func invalidDefinition(scriptID, format string, args ...any) *Error {
	return &Error{
		Code:     ErrCodeInvalidDefinition,
		Message:  fmt.Sprintf(format, args...),
		ScriptID: scriptID,
	}
}

func validationFailed(scriptID, stepID, reason string, reprompt *models.ChatMessage) *Error {
	return &Error{
		Code:     ErrCodeValidationFailed,
		Message:  "step data rejected",
		ScriptID: scriptID,
		StepID:   stepID,
		Reason:   reason,
		Reprompt: reprompt,
	}
}

func hookFailed(scriptID, stepID, hook string, err error) *Error {
	return &Error{
		Code:     ErrCodeHookFailed,
		Message:  fmt.Sprintf("%s hook failed", hook),
		ScriptID: scriptID,
		StepID:   stepID,
		Hook:     hook,
		Err:      err,
	}
}

func notRunning(scriptID string, status Status) *Error {
	return &Error{
		Code:     ErrCodeNotRunning,
		Message:  fmt.Sprintf("script is %s", status),
		ScriptID: scriptID,
	}
}
