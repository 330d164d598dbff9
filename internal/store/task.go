// Package store provides the TaskRepo interface and model for durable, session-scoped
// background work such as idle session expiry.
package store

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusQueued   TaskStatus = "queued"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusDone     TaskStatus = "done"
	TaskStatusFailed   TaskStatus = "failed"
	TaskStatusCanceled TaskStatus = "canceled"
)

// DefaultTaskMaxAttempts bounds the executions of a failing task.
const DefaultTaskMaxAttempts = 3

// Task is a durable unit of work bound to a session. A session has at most one
// non-terminal task of each kind.
type Task struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	SessionID   string     `json:"session_id"`
	RunAt       time.Time  `json:"run_at"`
	Status      TaskStatus `json:"status"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error"`
	LockedAt    *time.Time `json:"locked_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskRepo defines the interface for durable task persistence.
type TaskRepo interface {
	// ScheduleTask queues a task of kind for sessionID at runAt. If a queued task of the
	// same kind exists for the session it is moved to runAt and its ID returned.
	ScheduleTask(kind, sessionID string, runAt time.Time) (string, error)

	// ClaimDueTasks marks up to limit queued tasks whose run_at <= now as running and
	// returns them.
	ClaimDueTasks(now time.Time, limit int) ([]Task, error)

	// CompleteTask marks a task as done.
	CompleteTask(id string) error

	// FailTask records a failure. The task is requeued for nextRunAt while attempts
	// remain, and marked failed otherwise.
	FailTask(id string, errMsg string, nextRunAt time.Time) error

	// CancelSessionTasks cancels every queued task of the session.
	CancelSessionTasks(sessionID string) (int, error)

	// RequeueStaleRunningTasks resets tasks running since before staleBefore back to
	// queued (crash recovery).
	RequeueStaleRunningTasks(staleBefore time.Time) (int, error)

	// GetTask retrieves a single task by ID.
	GetTask(id string) (*Task, error)
}

func newTaskID() string {
	return "task_" + uuid.NewString()
}

// Compile-time check that InMemoryStore implements TaskRepo.
var _ TaskRepo = (*InMemoryStore)(nil)

func (s *InMemoryStore) ScheduleTask(kind, sessionID string, runAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, t := range s.tasks {
		if t.Kind == kind && t.SessionID == sessionID && t.Status == TaskStatusQueued {
			t.RunAt = runAt
			t.UpdatedAt = now
			return t.ID, nil
		}
	}
	t := &Task{
		ID:          newTaskID(),
		Kind:        kind,
		SessionID:   sessionID,
		RunAt:       runAt,
		Status:      TaskStatusQueued,
		MaxAttempts: DefaultTaskMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[t.ID] = t
	return t.ID, nil
}

func (s *InMemoryStore) ClaimDueTasks(now time.Time, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Task
	for _, t := range s.tasks {
		if t.Status == TaskStatusQueued && !t.RunAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]Task, 0, len(due))
	for _, t := range due {
		locked := now
		t.Status = TaskStatusRunning
		t.LockedAt = &locked
		t.UpdatedAt = now
		out = append(out, *t)
	}
	return out, nil
}

func (s *InMemoryStore) CompleteTask(id string) error {
	return s.updateTask(id, func(t *Task) {
		t.Status = TaskStatusDone
		t.LockedAt = nil
	})
}

func (s *InMemoryStore) FailTask(id string, errMsg string, nextRunAt time.Time) error {
	return s.updateTask(id, func(t *Task) {
		t.Attempt++
		t.LastError = errMsg
		t.LockedAt = nil
		if t.Attempt >= t.MaxAttempts {
			t.Status = TaskStatusFailed
			return
		}
		t.Status = TaskStatusQueued
		t.RunAt = nextRunAt
	})
}

func (s *InMemoryStore) CancelSessionTasks(sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.SessionID == sessionID && t.Status == TaskStatusQueued {
			t.Status = TaskStatusCanceled
			t.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) RequeueStaleRunningTasks(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.Status == TaskStatusRunning && t.LockedAt != nil && t.LockedAt.Before(staleBefore) {
			t.Status = TaskStatusQueued
			t.LockedAt = nil
			t.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetTask(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *InMemoryStore) updateTask(id string, fn func(*Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	fn(t)
	t.UpdatedAt = time.Now()
	return nil
}
