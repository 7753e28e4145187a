package hasura

import (
	"context"
	"fmt"

	"github.com/kozaktomas/consent-audit/internal/database"
)

const (
	taskTable  = "processing_tasks"
	taskFields = "task_id card_id status stage progress message created_at updated_at"

	// UpdateTask retries when another writer changes the status between its read
	// and its conditional write.
	maxTaskUpdateAttempts = 5
)

var terminalTaskStatuses = []string{
	string(database.TaskComplete), string(database.TaskIncomplete),
	string(database.TaskCancelled), string(database.TaskError),
}

// CreateTask inserts a pending task for a card.
func (s *Store) CreateTask(ctx context.Context, cardID string) (*database.Task, error) {
	now := s.now().UTC()
	t, err := insertOne[database.Task](ctx, s, taskTable, map[string]any{
		"task_id":    newID(),
		"card_id":    cardID,
		"status":     database.TaskPending,
		"created_at": now,
		"updated_at": now,
	}, taskFields)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// UpdateTask applies the set fields of upd. The write is conditional on the status
// that was read, so a stop request arriving in between is never overwritten.
func (s *Store) UpdateTask(ctx context.Context, taskID string, upd database.TaskUpdate) error {
	for range maxTaskUpdateAttempts {
		current, err := s.GetTaskStatus(ctx, taskID)
		if err != nil {
			return err
		}

		status := current
		if upd.Status != nil {
			status = database.ResolveTaskStatus(current, *upd.Status)
		}
		set := map[string]any{
			"status":     status,
			"updated_at": s.now().UTC(),
		}
		if upd.Stage != nil {
			set["stage"] = *upd.Stage
		}
		if upd.Progress != nil {
			set["progress"] = *upd.Progress
		}
		if upd.Message != nil {
			set["message"] = *upd.Message
		}

		n, err := s.update(ctx, taskTable, map[string]any{
			"task_id": eq(taskID),
			"status":  eq(current),
		}, set)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
	}
	return fmt.Errorf("update task %s: status changed concurrently %d times", taskID, maxTaskUpdateAttempts)
}

// GetTaskStatus returns the status of a task.
func (s *Store) GetTaskStatus(ctx context.Context, taskID string) (database.TaskStatus, error) {
	row, err := byPK[struct {
		Status database.TaskStatus `json:"status"`
	}](ctx, s, taskTable, "task_id", taskID, "status")
	if err != nil {
		return "", err
	}
	return row.Status, nil
}

// GetTask returns the full task record.
func (s *Store) GetTask(ctx context.Context, taskID string) (*database.Task, error) {
	return byPK[database.Task](ctx, s, taskTable, "task_id", taskID, taskFields)
}

// GetActiveTaskFor returns the newest non-terminal task of a card, or nil.
func (s *Store) GetActiveTaskFor(ctx context.Context, cardID string) (*database.Task, error) {
	if !validID(cardID) {
		return nil, nil
	}
	tasks, err := list[database.Task](ctx, s, taskTable, taskFields, map[string]any{
		"card_id": eq(cardID),
		"status":  map[string]any{"_nin": terminalTaskStatuses},
	}, listOptions{order: []orderBy{{"created_at": "desc"}}, limit: 1})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

// ListTasks returns all tasks, newest first.
func (s *Store) ListTasks(ctx context.Context) ([]database.Task, error) {
	return list[database.Task](ctx, s, taskTable, taskFields, map[string]any{},
		listOptions{order: []orderBy{{"created_at": "desc"}}})
}
