package models

import (
	"errors"
	"strings"
)

// MaxMessageLength bounds free-text chat input.
const MaxMessageLength = 4096

var (
	ErrEmptyMessage   = errors.New("text is required")
	ErrMessageTooLong = errors.New("text exceeds maximum length")
	ErrEmptyComponent = errors.New("data is required for component updates")
)

// OpenSessionRequest is the payload for POST /sessions.
type OpenSessionRequest struct {
	Feature     Feature `json:"feature"`
	PhoneNumber string  `json:"phone_number,omitempty"`
}

// Validate validates an OpenSessionRequest.
func (r *OpenSessionRequest) Validate() error {
	if strings.TrimSpace(string(r.Feature)) == "" {
		return ErrInvalidFeature
	}
	return nil
}

// SendMessageRequest is the payload for POST /sessions/{id}/messages.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// Validate validates a SendMessageRequest.
func (r *SendMessageRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyMessage
	}
	if len(r.Text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// ComponentUpdateRequest is the payload for POST /sessions/{id}/components/{messageID}.
type ComponentUpdateRequest struct {
	Data map[string]any `json:"data"`
}

// Validate validates a ComponentUpdateRequest.
func (r *ComponentUpdateRequest) Validate() error {
	if len(r.Data) == 0 {
		return ErrEmptyComponent
	}
	return nil
}

// SessionView is the API representation of a session and its transcript.
type SessionView struct {
	ID         string        `json:"id"`
	Feature    Feature       `json:"feature"`
	Transcript []ChatMessage `json:"transcript"`
	Active     bool          `json:"active"`
}

// ExchangeView carries the messages appended by a single inbound event.
type ExchangeView struct {
	SessionID string        `json:"session_id"`
	Messages  []ChatMessage `json:"messages"`
	Active    bool          `json:"active"`
}

// StepView describes one step of a scripted feature.
type StepView struct {
	Index     int    `json:"index"`
	Prompt    string `json:"prompt"`
	CanGoBack bool   `json:"can_go_back"`
}

// FeatureView describes a registered feature for GET /features.
type FeatureView struct {
	Feature        Feature    `json:"feature"`
	InitialMessage string     `json:"initial_message,omitempty"`
	TotalSteps     int        `json:"total_steps"`
	Steps          []StepView `json:"steps,omitempty"`
}
