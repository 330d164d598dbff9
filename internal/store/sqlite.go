// Package store provides storage backends for ScriptFlow.
//
// This file implements an SQLite-backed store for sessions, candidates, and jobs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/ScriptFlow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore.NewSQLiteStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to open connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: migrations applied", "path", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	args, err := sessionArgs(sess)
	if err != nil {
		return err
	}
	query := `INSERT OR REPLACE INTO sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Exec(query, args...); err != nil {
		slog.Error("SQLiteStore.SaveSession: failed", "error", err, "session", sess.ID)
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	slog.Debug("SQLiteStore.SaveSession: succeeded", "session", sess.ID, "messages", len(sess.Transcript))
	return nil
}

func (s *SQLiteStore) GetSession(id string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore.GetSession: failed", "error", err, "session", id)
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLiteStore) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore.DeleteSession: failed", "error", err, "session", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	slog.Debug("SQLiteStore.DeleteSession: succeeded", "session", id)
	return nil
}

func (s *SQLiteStore) ListSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at, id`)
	if err != nil {
		slog.Error("SQLiteStore.ListSessions: query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			slog.Error("SQLiteStore.ListSessions: scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

func (s *SQLiteStore) AddCandidate(c models.Candidate) error {
	if err := c.Validate(); err != nil {
		return err
	}
	args, err := candidateArgs(c)
	if err != nil {
		return err
	}
	query := `INSERT INTO candidates (` + candidateColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Exec(query, args...); err != nil {
		slog.Error("SQLiteStore.AddCandidate: failed", "error", err, "candidate", c.ID)
		return fmt.Errorf("failed to insert candidate %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore.AddCandidate: succeeded", "candidate", c.ID)
	return nil
}

func (s *SQLiteStore) ListCandidates() ([]models.Candidate, error) {
	rows, err := s.db.Query(`SELECT ` + candidateColumns + ` FROM candidates ORDER BY created_at, id`)
	if err != nil {
		slog.Error("SQLiteStore.ListCandidates: query failed", "error", err)
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

func (s *SQLiteStore) AddJob(j models.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	args, err := jobArgs(j)
	if err != nil {
		return err
	}
	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Exec(query, args...); err != nil {
		slog.Error("SQLiteStore.AddJob: failed", "error", err, "job", j.ID)
		return fmt.Errorf("failed to insert job %s: %w", j.ID, err)
	}
	slog.Debug("SQLiteStore.AddJob: succeeded", "job", j.ID)
	return nil
}

func (s *SQLiteStore) ListJobs() ([]models.Job, error) {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at, id`)
	if err != nil {
		slog.Error("SQLiteStore.ListJobs: query failed", "error", err)
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

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("SQLiteStore.Close: closing database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("SQLiteStore.Close: failed to close database", "error", err)
	}
	return err
}
