package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InboundRecord remembers an inbound channel message so webhook redeliveries are
// handled once.
type InboundRecord struct {
	MessageSID  string     `json:"message_sid"`
	PhoneNumber string     `json:"phone_number"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound message deduplication.
type DedupRepo interface {
	// RecordInbound records messageSID. It returns false when the message was already
	// recorded, in which case it must not be processed again.
	RecordInbound(messageSID, phoneNumber string) (bool, error)

	// MarkProcessed sets the processed timestamp of a recorded message.
	MarkProcessed(messageSID string) error
}

// Compile-time checks that every backend implements DedupRepo.
var (
	_ DedupRepo = (*InMemoryStore)(nil)
	_ DedupRepo = (*SQLiteStore)(nil)
	_ DedupRepo = (*PostgresStore)(nil)
)

func (s *InMemoryStore) RecordInbound(messageSID, phoneNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageSID]; ok {
		return false, nil
	}
	s.inbound[messageSID] = &InboundRecord{MessageSID: messageSID, PhoneNumber: phoneNumber, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageSID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageSID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	rec.ProcessedAt = &now
	return nil
}

func (s *SQLiteStore) RecordInbound(messageSID, phoneNumber string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (message_sid, phone_number, received_at) VALUES (?, ?, ?)`,
		messageSID, phoneNumber, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *SQLiteStore) MarkProcessed(messageSID string) error {
	return markProcessed(s.db, `UPDATE inbound_dedup SET processed_at = ? WHERE message_sid = ?`, messageSID)
}

func (s *PostgresStore) RecordInbound(messageSID, phoneNumber string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO inbound_dedup (message_sid, phone_number, received_at) VALUES ($1, $2, $3)
		 ON CONFLICT (message_sid) DO NOTHING`,
		messageSID, phoneNumber, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *PostgresStore) MarkProcessed(messageSID string) error {
	return markProcessed(s.db, `UPDATE inbound_dedup SET processed_at = $1 WHERE message_sid = $2`, messageSID)
}

func markProcessed(db *sql.DB, query, messageSID string) error {
	res, err := db.Exec(query, time.Now(), messageSID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: inbound message %s", ErrNotFound, messageSID)
	}
	return nil
}
