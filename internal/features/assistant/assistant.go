// Package assistant implements the free-form assistant feature. It has no script: each
// message is answered directly, by a language model when one is configured.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ScriptFlow/internal/chat"
	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/script"
)

// HistoryLimit is the number of transcript messages sent to the model as context.
const HistoryLimit = 12

const systemPrompt = "You are the assistant of a recruiting tool. Answer briefly and helpfully. " +
	"Users can start these guided flows: %s."

const (
	greeting       = "Hi! Ask me anything, or type /help to see what I can do."
	msgUnavailable = "I couldn't reach the assistant just now. Please try again in a moment."
)

// Generator produces a model reply.
type Generator interface {
	GeneratePrompt(ctx context.Context, system, user string) (string, error)
}

// Handler answers assistant sessions.
type Handler struct {
	generator Generator
	features  []FeatureInfo
	ids       script.IDGenerator
	clock     script.Clock
}

// FeatureInfo describes a feature for the help text.
type FeatureInfo struct {
	Feature models.Feature
	Title   string
}

type Option func(*Handler)

// WithGenerator enables model replies. Without one every message gets the help text.
func WithGenerator(g Generator) Option {
	return func(h *Handler) { h.generator = g }
}

// WithFeatures sets the features listed in the help text.
func WithFeatures(features ...FeatureInfo) Option {
	return func(h *Handler) { h.features = append(h.features, features...) }
}

func WithIDGenerator(g script.IDGenerator) Option {
	return func(h *Handler) { h.ids = g }
}

func WithClock(c script.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// New creates the assistant handler.
func New(opts ...Option) *Handler {
	h := &Handler{
		ids:   script.UUIDv7Generator{},
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ chat.Handler = (*Handler)(nil)

func (h *Handler) Feature() models.Feature { return models.FeatureAssistant }

func (h *Handler) InitialMessage() string { return greeting }

func (h *Handler) StepMessage(int) string { return "" }

func (h *Handler) CanGoBack(int) bool { return false }

func (h *Handler) TotalSteps() int { return 0 }

func (h *Handler) HandleMessage(ctx context.Context, text string, s *chat.Session) (*models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if h.generator == nil || strings.EqualFold(text, "/help") || strings.EqualFold(text, "help") {
		return h.message(models.RoleAssistant, h.HelpText()), nil
	}

	reply, err := h.generator.GeneratePrompt(ctx, h.systemPrompt(), history(s.Transcript))
	if err != nil {
		slog.Warn("assistant.HandleMessage: generator failed", "session", s.ID, "error", err)
		return h.message(models.RoleSystem, msgUnavailable), nil
	}
	return h.message(models.RoleAssistant, strings.TrimSpace(reply)), nil
}

// HelpText lists the available guided flows.
func (h *Handler) HelpText() string {
	var b strings.Builder
	b.WriteString("I can help you with:")
	for _, f := range h.features {
		fmt.Fprintf(&b, "\n- %s (%s)", f.Title, f.Feature)
	}
	if len(h.features) == 0 {
		b.WriteString("\n- answering questions")
	}
	b.WriteString("\nStart a new session with one of these features to begin.")
	return b.String()
}

func (h *Handler) systemPrompt() string {
	names := make([]string, 0, len(h.features))
	for _, f := range h.features {
		names = append(names, string(f.Feature))
	}
	if len(names) == 0 {
		names = append(names, "none")
	}
	return fmt.Sprintf(systemPrompt, strings.Join(names, ", "))
}

// history renders the tail of the transcript as "role: content" lines. The user's
// latest message is already the last entry.
func history(transcript []models.ChatMessage) string {
	start := max(0, len(transcript)-HistoryLimit)
	lines := make([]string, 0, len(transcript)-start)
	for _, msg := range transcript[start:] {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) message(role models.Role, content string) *models.ChatMessage {
	return &models.ChatMessage{
		ID:        h.ids.NewID(),
		Role:      role,
		Content:   content,
		Timestamp: h.clock(),
	}
}
