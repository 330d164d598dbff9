package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp     *openai.ChatCompletion
	err      error
	calls    int
	lastBody openai.ChatCompletionNewParams
	deadline bool
}

func (m *mockChatService) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.calls++
	m.lastBody = body
	_, m.deadline = ctx.Deadline()
	return m.resp, m.err
}

func reply(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGeneratePrompt_Success(t *testing.T) {
	mock := &mockChatService{resp: reply("Hello World")}
	client := newClient(mock, Opts{})
	out, err := client.GeneratePrompt(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(mock.lastBody.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(mock.lastBody.Messages))
	}
	if mock.lastBody.Model != DefaultModel {
		t.Errorf("expected default model, got %s", mock.lastBody.Model)
	}
	if !mock.deadline {
		t.Error("expected request context to carry a deadline")
	}
}

func TestGeneratePrompt_ServiceError(t *testing.T) {
	client := newClient(&mockChatService{err: errors.New("service failure")}, Opts{})
	_, err := client.GeneratePrompt(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGeneratePrompt_NoChoices(t *testing.T) {
	client := newClient(&mockChatService{resp: &openai.ChatCompletion{}}, Opts{})
	_, err := client.GeneratePrompt(context.Background(), "sys", "usr")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-4o" {
		t.Errorf("expected model override, got %s", cli.model)
	}
	if cli.timeout != 5*time.Second {
		t.Errorf("expected timeout override, got %s", cli.timeout)
	}
}

func TestExtractFields(t *testing.T) {
	mock := &mockChatService{resp: reply("```json\n{\"name\": \"Ada Lovelace\", \"skills\": [\"math\", \" \", \"engines\"], \"age\": 36, \"extra\": \"x\"}\n```")}
	client := newClient(mock, Opts{})

	out, err := client.ExtractFields(context.Background(), "Extract candidate details.", "resume text", []string{"name", "skills", "age", "email"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["name"] != "Ada Lovelace" {
		t.Errorf("name = %q", out["name"])
	}
	if out["skills"] != "math\nengines" {
		t.Errorf("skills = %q", out["skills"])
	}
	if out["age"] != "36" {
		t.Errorf("age = %q", out["age"])
	}
	if _, ok := out["email"]; ok {
		t.Error("missing fields should be absent")
	}
	if _, ok := out["extra"]; ok {
		t.Error("unrequested fields should be dropped")
	}
}

func TestExtractFields_MalformedReply(t *testing.T) {
	client := newClient(&mockChatService{resp: reply("Sorry, I can't help with that.")}, Opts{})
	_, err := client.ExtractFields(context.Background(), "x", "y", []string{"name"})
	if !errors.Is(err, ErrMalformedReply) {
		t.Errorf("expected ErrMalformedReply, got %v", err)
	}
}
