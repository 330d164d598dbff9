package store

import (
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that PostgresStore implements OutboxRepo.
var _ OutboxRepo = (*PostgresStore)(nil)

func (s *PostgresStore) EnqueueOutboxMessage(msg OutboxMessage) (string, error) {
	id := newOutboxID()
	now := time.Now()
	// The unique (message_id, recipient) index makes concurrent enqueues of the same
	// message collapse onto the first row.
	var storedID string
	err := s.db.QueryRow(
		`INSERT INTO outbox_messages (id, session_id, message_id, recipient, body, status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'queued', 0, $6, $6)
		 ON CONFLICT (message_id, recipient) DO UPDATE SET message_id = EXCLUDED.message_id
		 RETURNING id`,
		id, msg.SessionID, msg.MessageID, msg.Recipient, msg.Body, now,
	).Scan(&storedID)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	if storedID != id {
		slog.Debug("PostgresStore.EnqueueOutboxMessage: already queued", "message", msg.MessageID, "existingID", storedID)
		return storedID, nil
	}
	slog.Debug("PostgresStore.EnqueueOutboxMessage", "id", id, "session", msg.SessionID, "message", msg.MessageID)
	return id, nil
}

func (s *PostgresStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	rows, err := s.db.Query(
		`UPDATE outbox_messages SET status = 'sending', locked_at = $1, updated_at = $1
		 WHERE id IN (
		   SELECT id FROM outbox_messages WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		   ORDER BY created_at ASC LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+outboxColumns,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
	}
	return collectOutbox(rows)
}

func (s *PostgresStore) MarkOutboxMessageSent(id string) error {
	return s.execOutbox(`UPDATE outbox_messages SET status = 'sent', locked_at = NULL, updated_at = $1 WHERE id = $2`,
		time.Now(), id)
}

func (s *PostgresStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	return s.execOutbox(
		`UPDATE outbox_messages SET status = 'queued', attempts = attempts + 1, last_error = $1, next_attempt_at = $2, locked_at = NULL, updated_at = $3 WHERE id = $4`,
		errMsg, nextAttemptAt, time.Now(), id)
}

func (s *PostgresStore) AbandonOutboxMessage(id string, errMsg string) error {
	return s.execOutbox(
		`UPDATE outbox_messages SET status = 'failed', attempts = attempts + 1, last_error = $1, locked_at = NULL, updated_at = $2 WHERE id = $3`,
		errMsg, time.Now(), id)
}

func (s *PostgresStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE outbox_messages SET status = 'queued', locked_at = NULL, updated_at = $1 WHERE status = 'sending' AND locked_at < $2`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleSendingMessages", "requeued", n)
	}
	return int(n), nil
}

func (s *PostgresStore) GetOutboxMessage(id string) (*OutboxMessage, error) {
	rows, err := s.db.Query(`SELECT `+outboxColumns+` FROM outbox_messages WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get outbox message failed: %w", err)
	}
	msgs, err := collectOutbox(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[0], nil
}

func (s *PostgresStore) execOutbox(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update outbox message failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
