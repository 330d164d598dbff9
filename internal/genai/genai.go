// Package genai provides GenAI-enhanced operations using OpenAI API.
//
// Script hooks use it to turn free text (resume contents, job descriptions) into
// structured fields, and the assistant feature uses it for direct replies.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = openai.ChatModelGPT4oMini

// DefaultTimeout bounds a single completion request.
const DefaultTimeout = 30 * time.Second

var (
	// ErrNoChoicesReturned is returned when the API answers without any choice.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrMissingAPIKey is returned by NewClient when no API key is configured.
	ErrMissingAPIKey = errors.New("OpenAI API key not set")
	// ErrMalformedReply is returned when a structured reply is not a JSON object.
	ErrMalformedReply = errors.New("reply is not a JSON object")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client wraps the OpenAI ChatCompletion service for generating text and extracting
// fields.
type Client struct {
	chat        chatService
	model       openai.ChatModel
	temperature float64
	timeout     time.Duration
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the API key used to authenticate with OpenAI.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// NewClient initializes a new GenAI client from the given options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Temperature: 0.2}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	c := newClient(&cli.Chat.Completions, cfg)
	slog.Debug("genai.NewClient: client created", "model", c.model, "timeout", c.timeout)
	return c, nil
}

func newClient(chat chatService, cfg Opts) *Client {
	c := &Client{
		chat:        chat,
		model:       DefaultModel,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}
	if cfg.Model != "" {
		c.model = openai.ChatModel(cfg.Model)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		slog.Error("Client.GeneratePrompt: completion failed", "error", err, "model", c.model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("Client.GeneratePrompt: completion succeeded", "model", c.model, "length", len(content))
	return content, nil
}

// ExtractFields asks the model to pull fields out of text and returns the values it
// found. Missing fields are absent from the result; list values are joined with
// newlines.
func (c *Client) ExtractFields(ctx context.Context, instructions, text string, fields []string) (map[string]string, error) {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nReply with a single JSON object and nothing else. Use exactly these keys: ")
	b.WriteString(strings.Join(fields, ", "))
	b.WriteString(". Use a JSON array for lists. Omit keys you cannot determine.")

	reply, err := c.GeneratePrompt(ctx, b.String(), text)
	if err != nil {
		return nil, err
	}
	out, err := ParseFields(reply, fields)
	if err != nil {
		slog.Warn("Client.ExtractFields: unusable reply", "error", err, "length", len(reply))
		return nil, err
	}
	slog.Debug("Client.ExtractFields: fields extracted", "requested", len(fields), "found", len(out))
	return out, nil
}

// ParseFields decodes a JSON object reply, keeping only the requested fields. Markdown
// code fences around the object are tolerated.
func ParseFields(reply string, fields []string) (map[string]string, error) {
	body := strings.TrimSpace(reply)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	out := make(map[string]string, len(fields))
	for _, field := range fields {
		v, ok := raw[field]
		if !ok || v == nil {
			continue
		}
		if s := stringify(v); s != "" {
			out[field] = s
		}
	}
	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
