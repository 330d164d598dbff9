package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestIsValidRole(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem} {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = false, want true", r)
		}
	}
	if IsValidRole("narrator") {
		t.Error("IsValidRole accepted an unknown role")
	}
}

func TestSessionValidate(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		wantErr error
	}{
		{"valid", Session{ID: "s1", Feature: FeatureJob}, nil},
		{"missing id", Session{Feature: FeatureJob}, ErrEmptySessionID},
		{"missing feature", Session{ID: "s1"}, ErrInvalidFeature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.session.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecordValidate(t *testing.T) {
	if err := (&Candidate{}).Validate(); !errors.Is(err, ErrEmptyName) {
		t.Errorf("Candidate without a name: got %v", err)
	}
	if err := (&Candidate{Name: "Ada"}).Validate(); err != nil {
		t.Errorf("Candidate with a name: got %v", err)
	}
	if err := (&Job{}).Validate(); !errors.Is(err, ErrEmptyTitle) {
		t.Errorf("Job without a title: got %v", err)
	}
	if err := (&Job{Title: "Engineer"}).Validate(); err != nil {
		t.Errorf("Job with a title: got %v", err)
	}
}

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     interface{ Validate() error }
		wantErr error
	}{
		{"open ok", &OpenSessionRequest{Feature: FeatureCandidate}, nil},
		{"open blank feature", &OpenSessionRequest{Feature: "  "}, ErrInvalidFeature},
		{"send ok", &SendMessageRequest{Text: "hello"}, nil},
		{"send blank", &SendMessageRequest{Text: " \n"}, ErrEmptyMessage},
		{"send too long", &SendMessageRequest{Text: strings.Repeat("a", MaxMessageLength+1)}, ErrMessageTooLong},
		{"component ok", &ComponentUpdateRequest{Data: map[string]any{"name": "Ada"}}, nil},
		{"component empty", &ComponentUpdateRequest{}, ErrEmptyComponent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestChatMessageOmitsEmptyComponent(t *testing.T) {
	var nilMsg *ChatMessage
	if nilMsg.HasComponent() {
		t.Error("nil message reported a component")
	}

	b, err := json.Marshal(ChatMessage{ID: "m1", Role: RoleAssistant, Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "component") || strings.Contains(string(b), "metadata") {
		t.Errorf("expected empty component and metadata to be omitted, got %s", b)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := SuccessWithMessage("saved", map[string]string{"id": "j1"})
	if ok.Status != string(APIStatusOK) || ok.Message != "saved" || ok.Result == nil {
		t.Errorf("unexpected success response %+v", ok)
	}
	failed := Error("boom")
	if failed.Status != string(APIStatusError) || failed.Message != "boom" {
		t.Errorf("unexpected error response %+v", failed)
	}
}
