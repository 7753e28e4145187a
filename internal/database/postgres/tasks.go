package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/consent-audit/internal/database"
)

const taskColumns = `task_id, card_id, status, stage, progress, message, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*database.Task, error) {
	var t database.Task
	if err := row.Scan(&t.ID, &t.CardID, &t.Status, &t.Stage, &t.Progress, &t.Message, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask inserts a pending task for a card.
func (s *Store) CreateTask(ctx context.Context, cardID string) (*database.Task, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO processing_tasks (task_id, card_id, status)
		VALUES ($1, $2, $3)
		RETURNING `+taskColumns,
		newID(), cardID, database.TaskPending,
	)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// UpdateTask applies the set fields of upd. The status is resolved against the locked
// current row, so a concurrent stop request is never overwritten by a progress update.
func (s *Store) UpdateTask(ctx context.Context, taskID string, upd database.TaskUpdate) error {
	if !validID(taskID) {
		return database.ErrNotFound
	}

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current database.TaskStatus
	err = tx.QueryRowContext(ctx, "SELECT status FROM processing_tasks WHERE task_id = $1 FOR UPDATE", taskID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return database.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock task: %w", err)
	}

	status := current
	if upd.Status != nil {
		status = database.ResolveTaskStatus(current, *upd.Status)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE processing_tasks
		SET status = $2,
		    stage = COALESCE($3, stage),
		    progress = COALESCE($4, progress),
		    message = COALESCE($5, message),
		    updated_at = clock_timestamp()
		WHERE task_id = $1`,
		taskID, status, upd.Stage, upd.Progress, upd.Message,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit task update: %w", err)
	}
	return nil
}

// GetTaskStatus returns the status of a task.
func (s *Store) GetTaskStatus(ctx context.Context, taskID string) (database.TaskStatus, error) {
	if !validID(taskID) {
		return "", database.ErrNotFound
	}
	var status database.TaskStatus
	err := s.pool.QueryRow(ctx, "SELECT status FROM processing_tasks WHERE task_id = $1", taskID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", database.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query task status: %w", err)
	}
	return status, nil
}

// GetTask returns the full task record.
func (s *Store) GetTask(ctx context.Context, taskID string) (*database.Task, error) {
	if !validID(taskID) {
		return nil, database.ErrNotFound
	}
	t, err := scanTask(s.pool.QueryRow(ctx, "SELECT "+taskColumns+" FROM processing_tasks WHERE task_id = $1", taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

// GetActiveTaskFor returns the newest non-terminal task of a card, or nil.
func (s *Store) GetActiveTaskFor(ctx context.Context, cardID string) (*database.Task, error) {
	if !validID(cardID) {
		return nil, nil
	}
	t, err := scanTask(s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM processing_tasks
		WHERE card_id = $1 AND NOT (status = ANY($2))
		ORDER BY created_at DESC
		LIMIT 1`,
		cardID, statusArray([]database.TaskStatus{
			database.TaskComplete, database.TaskIncomplete, database.TaskCancelled, database.TaskError,
		}),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active task: %w", err)
	}
	return t, nil
}

// ListTasks returns all tasks, newest first.
func (s *Store) ListTasks(ctx context.Context) ([]database.Task, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+taskColumns+" FROM processing_tasks ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []database.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}
