// Package models defines the core data structures for ScriptFlow.
//
// It includes chat transcript messages, persisted sessions, the records produced by
// completed scripts, and the JSON envelope shared by the API.
package models

import (
	"errors"
	"time"
)

// Feature identifies the conversational feature that owns a chat session.
type Feature string

const (
	// FeatureCandidate drives the create-candidate script.
	FeatureCandidate Feature = "candidate"
	// FeatureJob drives the create-job script.
	FeatureJob Feature = "job"
	// FeatureAssistant answers free-form questions without a script.
	FeatureAssistant Feature = "assistant"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// IsValidRole checks if the given role is supported.
func IsValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Metadata keys attached to chat messages.
const (
	MetaScriptID           = "script_id"
	MetaStepID             = "step_id"
	MetaStepIndex          = "step_index"
	MetaTotalSteps         = "total_steps"
	MetaValidationReason   = "validation_reason"
	MetaComponentResultFor = "component_result_for"
	MetaCompleted          = "completed"
	MetaRetryable          = "retryable"
)

// ComponentRef tells the rendering layer which UI fragment to attach to a message.
type ComponentRef struct {
	Type  string         `json:"type"`
	Props map[string]any `json:"props,omitempty"`
}

// ChatMessage is one immutable entry of a session transcript.
type ChatMessage struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Component *ComponentRef  `json:"component,omitempty"`
}

// HasComponent reports whether a UI fragment is attached.
func (m *ChatMessage) HasComponent() bool {
	return m != nil && m.Component != nil
}

// Error variables for session and record validation
var (
	ErrEmptySessionID = errors.New("session id cannot be empty")
	ErrInvalidFeature = errors.New("feature is required")
	ErrEmptyName      = errors.New("name is required")
	ErrEmptyTitle     = errors.New("title is required")
)

// Session is the persisted form of a chat session. The script context is stored as
// opaque JSON so this package does not depend on the engine.
type Session struct {
	ID          string        `json:"id"`
	Feature     Feature       `json:"feature"`
	PhoneNumber string        `json:"phone_number,omitempty"` // optional plain-text mirror target
	Transcript  []ChatMessage `json:"transcript"`
	ScriptState string        `json:"script_state,omitempty"`
	Closed      bool          `json:"closed,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Validate ensures the session has the fields required for persistence.
func (s *Session) Validate() error {
	if s.ID == "" {
		return ErrEmptySessionID
	}
	if s.Feature == "" {
		return ErrInvalidFeature
	}
	return nil
}

// Candidate is the record produced by a completed create-candidate script.
type Candidate struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
	Skills     []string  `json:"skills"`
	Summary    string    `json:"summary,omitempty"`
	ResumeName string    `json:"resume_name,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate validates a Candidate before it is persisted.
func (c *Candidate) Validate() error {
	if c.Name == "" {
		return ErrEmptyName
	}
	return nil
}

// EmploymentType enumerates the supported job contract types.
type EmploymentType string

const (
	EmploymentFullTime EmploymentType = "full_time"
	EmploymentPartTime EmploymentType = "part_time"
	EmploymentContract EmploymentType = "contract"
)

// Job is the record produced by a completed create-job script.
type Job struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Department   string         `json:"department,omitempty"`
	Location     string         `json:"location,omitempty"`
	Description  string         `json:"description"`
	Requirements []string       `json:"requirements,omitempty"`
	Employment   EmploymentType `json:"employment"`
	SessionID    string         `json:"session_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Validate validates a Job before it is persisted.
func (j *Job) Validate() error {
	if j.Title == "" {
		return ErrEmptyTitle
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
