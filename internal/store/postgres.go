// Package store provides storage backends for ScriptFlow.
//
// This file implements a PostgreSQL-backed store for sessions, candidates, and jobs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/ScriptFlow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore.NewPostgresStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("PostgresStore.NewPostgresStore: failed to open connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore.NewPostgresStore: migrations applied")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	args, err := sessionArgs(sess)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			feature = EXCLUDED.feature,
			phone_number = EXCLUDED.phone_number,
			transcript = EXCLUDED.transcript,
			script_state = EXCLUDED.script_state,
			closed = EXCLUDED.closed,
			updated_at = EXCLUDED.updated_at`
	if _, err := s.db.Exec(query, args...); err != nil {
		slog.Error("PostgresStore.SaveSession: failed", "error", err, "session", sess.ID)
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore.SaveSession: succeeded", "session", sess.ID, "messages", len(sess.Transcript))
	return nil
}

func (s *PostgresStore) GetSession(id string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore.GetSession: failed", "error", err, "session", id)
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return sess, nil
}

func (s *PostgresStore) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore.DeleteSession: failed", "error", err, "session", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	slog.Debug("PostgresStore.DeleteSession: succeeded", "session", id)
	return nil
}

func (s *PostgresStore) ListSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at, id`)
	if err != nil {
		slog.Error("PostgresStore.ListSessions: query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			slog.Error("PostgresStore.ListSessions: scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

func (s *PostgresStore) AddCandidate(c models.Candidate) error {
	if err := c.Validate(); err != nil {
		return err
	}
	args, err := candidateArgs(c)
	if err != nil {
		return err
	}
	query := `INSERT INTO candidates (` + candidateColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := s.db.Exec(query, args...); err != nil {
		slog.Error("PostgresStore.AddCandidate: failed", "error", err, "candidate", c.ID)
		return fmt.Errorf("failed to insert candidate %s: %w", c.ID, err)
	}
	slog.Debug("PostgresStore.AddCandidate: succeeded", "candidate", c.ID)
	return nil
}

func (s *PostgresStore) ListCandidates() ([]models.Candidate, error) {
	rows, err := s.db.Query(`SELECT ` + candidateColumns + ` FROM candidates ORDER BY created_at, id`)
	if err != nil {
		slog.Error("PostgresStore.ListCandidates: query failed", "error", err)
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []models.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddJob(j models.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	args, err := jobArgs(j)
	if err != nil {
		return err
	}
	query := `INSERT INTO jobs (` + jobColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := s.db.Exec(query, args...); err != nil {
		slog.Error("PostgresStore.AddJob: failed", "error", err, "job", j.ID)
		return fmt.Errorf("failed to insert job %s: %w", j.ID, err)
	}
	slog.Debug("PostgresStore.AddJob: succeeded", "job", j.ID)
	return nil
}

func (s *PostgresStore) ListJobs() ([]models.Job, error) {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at, id`)
	if err != nil {
		slog.Error("PostgresStore.ListJobs: query failed", "error", err)
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("PostgresStore.Close: closing database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("PostgresStore.Close: failed to close database", "error", err)
	}
	return err
}
