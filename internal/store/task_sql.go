package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Compile-time checks that the SQL backends implement TaskRepo.
var (
	_ TaskRepo = (*SQLiteStore)(nil)
	_ TaskRepo = (*PostgresStore)(nil)
)

func (s *SQLiteStore) ScheduleTask(kind, sessionID string, runAt time.Time) (string, error) {
	now := time.Now()
	var existingID string
	err := s.db.QueryRow(
		`SELECT id FROM tasks WHERE kind = ? AND session_id = ? AND status = 'queued'`,
		kind, sessionID,
	).Scan(&existingID)
	switch {
	case err == nil:
		if _, err := s.db.Exec(`UPDATE tasks SET run_at = ?, updated_at = ? WHERE id = ?`, runAt, now, existingID); err != nil {
			return "", fmt.Errorf("reschedule task failed: %w", err)
		}
		slog.Debug("SQLiteStore.ScheduleTask: rescheduled", "id", existingID, "kind", kind, "runAt", runAt)
		return existingID, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("task lookup failed: %w", err)
	}

	id := newTaskID()
	_, err = s.db.Exec(
		`INSERT INTO tasks (id, kind, session_id, run_at, status, attempt, max_attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?)`,
		id, kind, sessionID, runAt, DefaultTaskMaxAttempts, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("schedule task failed: %w", err)
	}
	slog.Debug("SQLiteStore.ScheduleTask", "id", id, "kind", kind, "session", sessionID, "runAt", runAt)
	return id, nil
}

func (s *SQLiteStore) ClaimDueTasks(now time.Time, limit int) ([]Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks WHERE status = 'queued' AND run_at <= ? ORDER BY run_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks query failed: %w", err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if _, err := s.db.Exec(`UPDATE tasks SET status = 'running', locked_at = ?, updated_at = ? WHERE id = ?`,
			now, now, tasks[i].ID); err != nil {
			return nil, fmt.Errorf("mark task running failed: %w", err)
		}
		locked := now
		tasks[i].Status = TaskStatusRunning
		tasks[i].LockedAt = &locked
	}
	return tasks, nil
}

func (s *SQLiteStore) CompleteTask(id string) error {
	return execTask(s.db, `UPDATE tasks SET status = 'done', locked_at = NULL, updated_at = ? WHERE id = ?`, time.Now(), id)
}

func (s *SQLiteStore) FailTask(id string, errMsg string, nextRunAt time.Time) error {
	return execTask(s.db,
		`UPDATE tasks SET attempt = attempt + 1, last_error = ?, locked_at = NULL, updated_at = ?,
		   status = CASE WHEN attempt + 1 >= max_attempts THEN 'failed' ELSE 'queued' END,
		   run_at = CASE WHEN attempt + 1 >= max_attempts THEN run_at ELSE ? END
		 WHERE id = ?`,
		errMsg, time.Now(), nextRunAt, id)
}

func (s *SQLiteStore) CancelSessionTasks(sessionID string) (int, error) {
	return countTasks(s.db, `UPDATE tasks SET status = 'canceled', updated_at = ? WHERE session_id = ? AND status = 'queued'`,
		time.Now(), sessionID)
}

func (s *SQLiteStore) RequeueStaleRunningTasks(staleBefore time.Time) (int, error) {
	n, err := countTasks(s.db, `UPDATE tasks SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'running' AND locked_at < ?`,
		time.Now(), staleBefore)
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleRunningTasks", "requeued", n)
	}
	return n, err
}

func (s *SQLiteStore) GetTask(id string) (*Task, error) {
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get task failed: %w", err)
	}
	return firstTask(rows)
}

func (s *PostgresStore) ScheduleTask(kind, sessionID string, runAt time.Time) (string, error) {
	now := time.Now()
	var id string
	err := s.db.QueryRow(
		`UPDATE tasks SET run_at = $1, updated_at = $2 WHERE kind = $3 AND session_id = $4 AND status = 'queued' RETURNING id`,
		runAt, now, kind, sessionID,
	).Scan(&id)
	switch {
	case err == nil:
		slog.Debug("PostgresStore.ScheduleTask: rescheduled", "id", id, "kind", kind, "runAt", runAt)
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("reschedule task failed: %w", err)
	}

	id = newTaskID()
	_, err = s.db.Exec(
		`INSERT INTO tasks (id, kind, session_id, run_at, status, attempt, max_attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'queued', 0, $5, $6, $6)`,
		id, kind, sessionID, runAt, DefaultTaskMaxAttempts, now,
	)
	if err != nil {
		return "", fmt.Errorf("schedule task failed: %w", err)
	}
	slog.Debug("PostgresStore.ScheduleTask", "id", id, "kind", kind, "session", sessionID, "runAt", runAt)
	return id, nil
}

func (s *PostgresStore) ClaimDueTasks(now time.Time, limit int) ([]Task, error) {
	rows, err := s.db.Query(
		`UPDATE tasks SET status = 'running', locked_at = $1, updated_at = $1
		 WHERE id IN (
		   SELECT id FROM tasks WHERE status = 'queued' AND run_at <= $1
		   ORDER BY run_at ASC LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+taskColumns,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks query failed: %w", err)
	}
	return collectTasks(rows)
}

func (s *PostgresStore) CompleteTask(id string) error {
	return execTask(s.db, `UPDATE tasks SET status = 'done', locked_at = NULL, updated_at = $1 WHERE id = $2`, time.Now(), id)
}

func (s *PostgresStore) FailTask(id string, errMsg string, nextRunAt time.Time) error {
	return execTask(s.db,
		`UPDATE tasks SET attempt = attempt + 1, last_error = $1, locked_at = NULL, updated_at = $2,
		   status = CASE WHEN attempt + 1 >= max_attempts THEN 'failed' ELSE 'queued' END,
		   run_at = CASE WHEN attempt + 1 >= max_attempts THEN run_at ELSE $3 END
		 WHERE id = $4`,
		errMsg, time.Now(), nextRunAt, id)
}

func (s *PostgresStore) CancelSessionTasks(sessionID string) (int, error) {
	return countTasks(s.db, `UPDATE tasks SET status = 'canceled', updated_at = $1 WHERE session_id = $2 AND status = 'queued'`,
		time.Now(), sessionID)
}

func (s *PostgresStore) RequeueStaleRunningTasks(staleBefore time.Time) (int, error) {
	n, err := countTasks(s.db, `UPDATE tasks SET status = 'queued', locked_at = NULL, updated_at = $1 WHERE status = 'running' AND locked_at < $2`,
		time.Now(), staleBefore)
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleRunningTasks", "requeued", n)
	}
	return n, err
}

func (s *PostgresStore) GetTask(id string) (*Task, error) {
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get task failed: %w", err)
	}
	return firstTask(rows)
}

func execTask(db *sql.DB, query string, args ...any) error {
	n, err := countTasks(db, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func countTasks(db *sql.DB, query string, args ...any) (int, error) {
	res, err := db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("update tasks failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func firstTask(rows *sql.Rows) (*Task, error) {
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrNotFound
	}
	return &tasks[0], nil
}
