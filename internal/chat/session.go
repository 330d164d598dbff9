package chat

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/script"
)

// Session is one chat conversation. Its transcript is append-only; Script is the
// execution context of the feature's script while one is running.
type Session struct {
	ID          string
	Feature     models.Feature
	PhoneNumber string
	Transcript  []models.ChatMessage
	Script      *script.Context
	// Closed is set once the conversation has ended (script completed or cancelled).
	Closed    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Append adds msg to the transcript. Nil messages are ignored.
func (s *Session) Append(msg *models.ChatMessage) {
	if msg == nil {
		return
	}
	s.Transcript = append(s.Transcript, *msg)
}

// Active reports whether the session still accepts input that can change state.
func (s *Session) Active() bool {
	return !s.Closed
}

// View returns the API representation of the session.
func (s *Session) View() *models.SessionView {
	return &models.SessionView{
		ID:         s.ID,
		Feature:    s.Feature,
		Transcript: slices.Clone(s.Transcript),
		Active:     s.Active(),
	}
}

// record converts the session to its persisted form.
func (s *Session) record() (models.Session, error) {
	rec := models.Session{
		ID:          s.ID,
		Feature:     s.Feature,
		PhoneNumber: s.PhoneNumber,
		Transcript:  s.Transcript,
		Closed:      s.Closed,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if s.Script != nil {
		state, err := s.Script.Marshal()
		if err != nil {
			return rec, fmt.Errorf("session %s: %w", s.ID, err)
		}
		rec.ScriptState = state
	}
	return rec, nil
}

// sessionFromRecord restores a session loaded from the store.
func sessionFromRecord(rec *models.Session) (*Session, error) {
	s := &Session{
		ID:          rec.ID,
		Feature:     rec.Feature,
		PhoneNumber: rec.PhoneNumber,
		Transcript:  rec.Transcript,
		Closed:      rec.Closed,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if rec.ScriptState != "" {
		sc, err := script.UnmarshalContext(rec.ScriptState)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", rec.ID, err)
		}
		s.Script = sc
	}
	return s, nil
}

type sessionIDKey struct{}

// WithSessionID returns a context carrying the id of the session being handled. Script
// hooks use it to link the records they create to the conversation.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext returns the session id set by WithSessionID, or "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
