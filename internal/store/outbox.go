// Package store provides the OutboxRepo interface and model for restart-safe delivery
// of mirrored chat messages.
package store

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus represents the lifecycle state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusQueued  OutboxStatus = "queued"
	OutboxStatusSending OutboxStatus = "sending"
	OutboxStatusSent    OutboxStatus = "sent"
	// OutboxStatusFailed is terminal: the sender gave up after its attempt limit.
	OutboxStatusFailed OutboxStatus = "failed"
)

// OutboxMessage is a chat message waiting to be delivered to an external channel.
type OutboxMessage struct {
	ID            string       `json:"id"`
	SessionID     string       `json:"session_id"`
	MessageID     string       `json:"message_id"`
	Recipient     string       `json:"recipient"`
	Body          string       `json:"body"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at"`
	LockedAt      *time.Time   `json:"locked_at"`
	LastError     string       `json:"last_error"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OutboxRepo defines the interface for durable outbox message persistence.
type OutboxRepo interface {
	// EnqueueOutboxMessage queues msg for delivery. A chat message is delivered at most
	// once per recipient: when a row for the same MessageID and Recipient exists, its
	// ID is returned and nothing is inserted.
	EnqueueOutboxMessage(msg OutboxMessage) (string, error)

	// ClaimDueOutboxMessages marks up to limit queued messages whose
	// next_attempt_at <= now (or is NULL) as sending and returns them, oldest first.
	ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error)

	// MarkOutboxMessageSent marks a message as delivered.
	MarkOutboxMessageSent(id string) error

	// FailOutboxMessage records a failed attempt and requeues the message for nextAttemptAt.
	FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error

	// AbandonOutboxMessage records a failed attempt and stops retrying the message.
	AbandonOutboxMessage(id string, errMsg string) error

	// RequeueStaleSendingMessages resets messages stuck in sending since before
	// staleBefore back to queued (crash recovery).
	RequeueStaleSendingMessages(staleBefore time.Time) (int, error)

	// GetOutboxMessage returns a single outbox message.
	GetOutboxMessage(id string) (*OutboxMessage, error)
}

func newOutboxID() string {
	return "outbox_" + uuid.NewString()
}

// Compile-time check that InMemoryStore implements OutboxRepo.
var _ OutboxRepo = (*InMemoryStore)(nil)

func (s *InMemoryStore) EnqueueOutboxMessage(msg OutboxMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.outbox {
		if existing.MessageID == msg.MessageID && existing.Recipient == msg.Recipient {
			return existing.ID, nil
		}
	}
	now := time.Now()
	msg.ID = newOutboxID()
	msg.Status = OutboxStatusQueued
	msg.Attempts = 0
	msg.CreatedAt = now
	msg.UpdatedAt = now
	s.outbox[msg.ID] = &msg
	return msg.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*OutboxMessage
	for _, m := range s.outbox {
		if m.Status != OutboxStatusQueued {
			continue
		}
		if m.NextAttemptAt != nil && m.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, m)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]OutboxMessage, 0, len(due))
	for _, m := range due {
		locked := now
		m.Status = OutboxStatusSending
		m.LockedAt = &locked
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusSent
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		next := nextAttemptAt
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		m.NextAttemptAt = &next
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) AbandonOutboxMessage(id string, errMsg string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusFailed
		m.Attempts++
		m.LastError = errMsg
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetOutboxMessage(id string) (*OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.outbox[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *InMemoryStore) updateOutbox(id string, fn func(*OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return ErrNotFound
	}
	fn(m)
	m.UpdatedAt = time.Now()
	return nil
}
