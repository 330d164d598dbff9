package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTaskPollInterval is the TaskRunner poll interval used when none is given.
const DefaultTaskPollInterval = 10 * time.Second

// TaskHandler executes a claimed task.
type TaskHandler func(ctx context.Context, task Task) error

// TaskRunner periodically claims due tasks and dispatches them to the handler
// registered for their kind.
type TaskRunner struct {
	repo           TaskRepo
	handlers       map[string]TaskHandler
	mu             sync.RWMutex
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	now            func() time.Time
}

// NewTaskRunner creates a new TaskRunner.
func NewTaskRunner(repo TaskRepo, pollInterval time.Duration) *TaskRunner {
	if pollInterval <= 0 {
		pollInterval = DefaultTaskPollInterval
	}
	return &TaskRunner{
		repo:           repo,
		handlers:       make(map[string]TaskHandler),
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		now:            time.Now,
	}
}

// RegisterHandler registers the handler for a task kind.
func (r *TaskRunner) RegisterHandler(kind string, handler TaskHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
	slog.Debug("TaskRunner.RegisterHandler", "kind", kind)
}

// RecoverStaleTasks requeues tasks that were running when the process stopped.
// Should be called once at startup.
func (r *TaskRunner) RecoverStaleTasks() error {
	n, err := r.repo.RequeueStaleRunningTasks(r.now().Add(-r.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("TaskRunner.RecoverStaleTasks: requeued stale tasks", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (r *TaskRunner) Run(ctx context.Context) {
	slog.Info("TaskRunner.Run: starting task runner", "pollInterval", r.pollInterval)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("TaskRunner.Run: stopping")
			return
		case <-ticker.C:
			r.RunDue(ctx)
		}
	}
}

// RunDue executes every due task once and returns how many succeeded.
func (r *TaskRunner) RunDue(ctx context.Context) int {
	now := r.now()
	tasks, err := r.repo.ClaimDueTasks(now, r.claimLimit)
	if err != nil {
		slog.Error("TaskRunner.RunDue: claim failed", "error", err)
		return 0
	}

	done := 0
	for _, task := range tasks {
		r.mu.RLock()
		handler, ok := r.handlers[task.Kind]
		r.mu.RUnlock()

		if !ok {
			slog.Warn("TaskRunner.RunDue: no handler for task kind", "kind", task.Kind, "id", task.ID)
			if err := r.repo.FailTask(task.ID, "no handler registered for kind: "+task.Kind, now.Add(time.Minute)); err != nil {
				slog.Error("TaskRunner.RunDue: fail task error", "id", task.ID, "error", err)
			}
			continue
		}

		slog.Debug("TaskRunner.RunDue: executing task", "id", task.ID, "kind", task.Kind, "session", task.SessionID, "attempt", task.Attempt)
		if err := handler(ctx, task); err != nil {
			slog.Error("TaskRunner.RunDue: task failed", "id", task.ID, "kind", task.Kind, "error", err)
			// Exponential backoff: 30s, 60s, 120s, ...
			backoff := time.Duration(30*(1<<task.Attempt)) * time.Second
			if err := r.repo.FailTask(task.ID, err.Error(), now.Add(backoff)); err != nil {
				slog.Error("TaskRunner.RunDue: fail task error", "id", task.ID, "error", err)
			}
			continue
		}
		if err := r.repo.CompleteTask(task.ID); err != nil {
			slog.Error("TaskRunner.RunDue: complete task error", "id", task.ID, "error", err)
		}
		done++
	}
	return done
}
