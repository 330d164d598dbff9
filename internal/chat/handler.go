// Package chat routes inbound chat events to the feature that owns a session.
//
// A Dispatcher holds exactly one Handler per feature. Scripted features use
// ScriptHandler, which delegates to the script runner; other features implement Handler
// directly. The Manager owns session transcripts and serializes events per session.
package chat

import (
	"context"

	"github.com/BTreeMap/ScriptFlow/internal/models"
)

// Handler is the conversational logic of one feature.
type Handler interface {
	// Feature returns the feature tag the handler serves.
	Feature() models.Feature

	// HandleMessage answers free text. A nil message means no reply.
	HandleMessage(ctx context.Context, text string, s *Session) (*models.ChatMessage, error)

	// InitialMessage is the greeting appended when a session opens. Empty means none.
	InitialMessage() string

	// StepMessage returns the prompt of a step, or "" for handlers without steps.
	StepMessage(stepIndex int) string

	// CanGoBack reports whether the user may return from stepIndex to the previous step.
	CanGoBack(stepIndex int) bool

	// TotalSteps returns the number of steps, or 0 for handlers without steps.
	TotalSteps() int
}

// ComponentUpdater is implemented by handlers that accept data submitted through a
// rendered component.
type ComponentUpdater interface {
	HandleComponentUpdate(ctx context.Context, messageID string, data map[string]any, s *Session) (*models.ChatMessage, error)
}

// Starter is implemented by handlers that emit a message of their own when a session
// opens, after the initial greeting.
type Starter interface {
	Start(ctx context.Context, s *Session) (*models.ChatMessage, error)
}

// Aborter is implemented by handlers that hold per-session state which must be discarded
// when the session layer ends a conversation on its own, such as on idle expiry.
type Aborter interface {
	Abort(s *Session)
}
