package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/ScriptFlow/internal/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	return string(data), nil
}

func decodeJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}

// Column lists shared by both SQL dialects; scan functions read them in this order.
const (
	sessionColumns   = "id, feature, phone_number, transcript, script_state, closed, created_at, updated_at"
	candidateColumns = "id, name, email, phone, skills, summary, resume_name, session_id, created_at"
	jobColumns       = "id, title, department, location, description, requirements, employment, session_id, created_at"
	outboxColumns    = "id, session_id, message_id, recipient, body, status, attempts, next_attempt_at, locked_at, last_error, created_at, updated_at"
	taskColumns      = "id, kind, session_id, run_at, status, attempt, max_attempts, last_error, locked_at, created_at, updated_at"
)

type nullString struct{ s *string }

func (n nullString) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n.s = ""
	case string:
		*n.s = v
	case []byte:
		*n.s = string(v)
	default:
		return fmt.Errorf("unexpected column type %T", src)
	}
	return nil
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var transcript string
	err := row.Scan(&s.ID, &s.Feature, nullString{&s.PhoneNumber}, nullString{&transcript},
		nullString{&s.ScriptState}, &s.Closed, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(transcript, &s.Transcript); err != nil {
		return nil, fmt.Errorf("session %s transcript: %w", s.ID, err)
	}
	if s.Transcript == nil {
		s.Transcript = []models.ChatMessage{}
	}
	return &s, nil
}

func scanCandidate(row rowScanner) (models.Candidate, error) {
	var c models.Candidate
	var skills string
	err := row.Scan(&c.ID, &c.Name, nullString{&c.Email}, nullString{&c.Phone}, nullString{&skills},
		nullString{&c.Summary}, nullString{&c.ResumeName}, nullString{&c.SessionID}, &c.CreatedAt)
	if err != nil {
		return c, fmt.Errorf("scan candidate failed: %w", err)
	}
	if err := decodeJSON(skills, &c.Skills); err != nil {
		return c, fmt.Errorf("candidate %s skills: %w", c.ID, err)
	}
	return c, nil
}

func scanJob(row rowScanner) (models.Job, error) {
	var j models.Job
	var requirements, employment string
	err := row.Scan(&j.ID, &j.Title, nullString{&j.Department}, nullString{&j.Location}, nullString{&j.Description},
		nullString{&requirements}, nullString{&employment}, nullString{&j.SessionID}, &j.CreatedAt)
	if err != nil {
		return j, fmt.Errorf("scan job failed: %w", err)
	}
	j.Employment = models.EmploymentType(employment)
	if err := decodeJSON(requirements, &j.Requirements); err != nil {
		return j, fmt.Errorf("job %s requirements: %w", j.ID, err)
	}
	return j, nil
}

// sessionArgs returns the column values for sessionColumns.
func sessionArgs(s models.Session) ([]any, error) {
	transcript := s.Transcript
	if transcript == nil {
		transcript = []models.ChatMessage{}
	}
	encoded, err := encodeJSON(transcript)
	if err != nil {
		return nil, err
	}
	return []any{s.ID, string(s.Feature), nilIfEmpty(s.PhoneNumber), encoded, nilIfEmpty(s.ScriptState),
		s.Closed, s.CreatedAt, s.UpdatedAt}, nil
}

func candidateArgs(c models.Candidate) ([]any, error) {
	skills, err := encodeJSON(c.Skills)
	if err != nil {
		return nil, err
	}
	return []any{c.ID, c.Name, nilIfEmpty(c.Email), nilIfEmpty(c.Phone), skills, nilIfEmpty(c.Summary),
		nilIfEmpty(c.ResumeName), nilIfEmpty(c.SessionID), c.CreatedAt}, nil
}

func jobArgs(j models.Job) ([]any, error) {
	requirements, err := encodeJSON(j.Requirements)
	if err != nil {
		return nil, err
	}
	return []any{j.ID, j.Title, nilIfEmpty(j.Department), nilIfEmpty(j.Location), j.Description, requirements,
		string(j.Employment), nilIfEmpty(j.SessionID), j.CreatedAt}, nil
}

// collectOutbox scans outboxColumns rows and closes rows.
func collectOutbox(rows *sql.Rows) ([]OutboxMessage, error) {
	defer rows.Close()
	var msgs []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var lastError sql.NullString
		var nextAttemptAt, lockedAt sql.NullTime
		err := rows.Scan(&m.ID, &m.SessionID, &m.MessageID, &m.Recipient, &m.Body, &m.Status, &m.Attempts,
			&nextAttemptAt, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan outbox message failed: %w", err)
		}
		m.LastError = lastError.String
		if nextAttemptAt.Valid {
			m.NextAttemptAt = &nextAttemptAt.Time
		}
		if lockedAt.Valid {
			m.LockedAt = &lockedAt.Time
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox iteration failed: %w", err)
	}
	return msgs, nil
}

// collectTasks scans taskColumns rows and closes rows.
func collectTasks(rows *sql.Rows) ([]Task, error) {
	defer rows.Close()
	var tasks []Task
	for rows.Next() {
		var t Task
		var lastError sql.NullString
		var lockedAt sql.NullTime
		err := rows.Scan(&t.ID, &t.Kind, &t.SessionID, &t.RunAt, &t.Status, &t.Attempt, &t.MaxAttempts,
			&lastError, &lockedAt, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan task failed: %w", err)
		}
		t.LastError = lastError.String
		if lockedAt.Valid {
			t.LockedAt = &lockedAt.Time
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task iteration failed: %w", err)
	}
	return tasks, nil
}
