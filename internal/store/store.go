// Package store provides storage backends for ScriptFlow.
//
// It persists chat sessions (transcript plus serialized script context), the
// candidate and job records produced by completed scripts, and the durable queues behind
// channel delivery (outbox), webhook deduplication and session tasks. Backends: in-memory for tests
// and the interactive CLI, SQLite for single-node deployments, and PostgreSQL.
package store

import (
	"errors"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/ScriptFlow/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SessionStore persists chat sessions.
type SessionStore interface {
	SaveSession(s models.Session) error
	GetSession(id string) (*models.Session, error)
	DeleteSession(id string) error
	ListSessions() ([]models.Session, error)
}

// CandidateStore persists candidates created by the candidate script.
type CandidateStore interface {
	AddCandidate(c models.Candidate) error
	ListCandidates() ([]models.Candidate, error)
}

// JobStore persists jobs created by the job script.
type JobStore interface {
	AddJob(j models.Job) error
	ListJobs() ([]models.Job, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	SessionStore
	CandidateStore
	JobStore
	OutboxRepo
	DedupRepo
	TaskRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns the database/sql driver name for dsn: "postgres" for URLs and
// key/value connection strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the backend selected by the DSN. An empty DSN yields an InMemoryStore.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("store.New: no DSN set, using in-memory store")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(cfg.DSN) {
	case "postgres":
		slog.Debug("store.New: using Postgres store")
		return NewPostgresStore(opts...)
	default:
		slog.Debug("store.New: using SQLite store", "path", cfg.DSN)
		return NewSQLiteStore(opts...)
	}
}

// InMemoryStore is a simple in-memory store. Safe for concurrent use.
type InMemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]models.Session
	candidates []models.Candidate
	jobs       []models.Job
	outbox     map[string]*OutboxMessage
	inbound    map[string]*InboundRecord
	tasks      map[string]*Task
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]models.Session),
		outbox:   make(map[string]*OutboxMessage),
		inbound:  make(map[string]*InboundRecord),
		tasks:    make(map[string]*Task),
	}
}

func (s *InMemoryStore) SaveSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.Transcript = slices.Clone(sess.Transcript)
	s.sessions[sess.ID] = sess
	return nil
}

func (s *InMemoryStore) GetSession(id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	sess.Transcript = slices.Clone(sess.Transcript)
	return &sess, nil
}

func (s *InMemoryStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *InMemoryStore) ListSessions() ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sess.Transcript = slices.Clone(sess.Transcript)
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) AddCandidate(c models.Candidate) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Skills = slices.Clone(c.Skills)
	s.candidates = append(s.candidates, c)
	return nil
}

func (s *InMemoryStore) ListCandidates() ([]models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.candidates), nil
}

func (s *InMemoryStore) AddJob(j models.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j.Requirements = slices.Clone(j.Requirements)
	s.jobs = append(s.jobs, j)
	return nil
}

func (s *InMemoryStore) ListJobs() ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.jobs), nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
