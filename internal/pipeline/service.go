package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/database"
)

// StatusNoClips is reported by Start when the card has no pending work at any stage.
const StatusNoClips = "no_clips"

// Runner executes one pipeline run. *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, taskID, cardID string, cfg RunConfig) (Outcome, error)
}

// StartResult describes the task a Start call created or found.
type StartResult struct {
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	ClipsCount int    `json:"clips_count"`
	Existing   bool   `json:"existing"`
}

// StopResult describes the state of a task after a Stop call.
type StopResult struct {
	Status  database.TaskStatus `json:"status"`
	Message string              `json:"message"`
}

// Service starts, stops and reports pipeline runs. Runs execute on background goroutines
// bound to the service context, not to the request that started them.
type Service struct {
	store  database.Store
	runner Runner
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a service whose background runs stop when ctx is cancelled or
// Shutdown is called.
func NewService(ctx context.Context, store database.Store, runner Runner, logger *zap.Logger) *Service {
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		store:  store,
		runner: runner,
		logger: logger.Named("service"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches a run for the card unless one is already active.
func (s *Service) Start(ctx context.Context, cardID string, overrides map[string]any) (*StartResult, error) {
	active, err := s.store.GetActiveTaskFor(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("check active task: %w", err)
	}
	if active != nil {
		queued, err := s.store.CountClips(ctx, cardID, database.PendingClipStatuses...)
		if err != nil {
			return nil, fmt.Errorf("count queued clips: %w", err)
		}
		s.logger.Info("active task exists", zap.String("card_id", cardID), zap.String("task_id", active.ID))
		return &StartResult{
			TaskID:     active.ID,
			Status:     string(active.Status),
			Message:    fmt.Sprintf("Active processing task %s already exists for card %s", active.ID, cardID),
			ClipsCount: queued,
			Existing:   true,
		}, nil
	}

	stored, err := s.store.GetCardConfig(ctx, cardID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("configuration not found for card %s: %w", cardID, err)
		}
		return nil, fmt.Errorf("get card config: %w", err)
	}
	cfg := MergeConfig(stored, overrides)
	cfg.ApplyStartDefaults()

	// A paused card may have extracted clips with frames or faces still pending.
	pending, err := countPending(ctx, s.store, cardID)
	if err != nil {
		return nil, fmt.Errorf("count pending work: %w", err)
	}
	queued := pending.Clips
	if pending.Total() == 0 {
		return &StartResult{
			TaskID:  "none",
			Status:  StatusNoClips,
			Message: fmt.Sprintf("No pending work to process for card %s", cardID),
		}, nil
	}

	task, err := s.store.CreateTask(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := s.store.UpdateCardStatus(ctx, cardID, database.CardProcessing); err != nil {
		s.logger.Warn("failed to update card status", zap.String("card_id", cardID), zap.Error(err))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.runner.Run(s.ctx, task.ID, cardID, cfg); err != nil {
			s.logger.Error("run failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}()

	s.logger.Info("started processing", zap.String("card_id", cardID), zap.String("task_id", task.ID),
		zap.Int("clips", queued), zap.Int("pending", pending.Total()))
	return &StartResult{
		TaskID:     task.ID,
		Status:     string(database.TaskPending),
		Message:    fmt.Sprintf("Started processing for card %s", cardID),
		ClipsCount: queued,
	}, nil
}

// Stop requests cancellation of a task. Tasks that already finished or are already
// stopping are left unchanged.
func (s *Service) Stop(ctx context.Context, taskID string) (*StopResult, error) {
	status, err := s.store.GetTaskStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if status.IsTerminal() || status == database.TaskCancelling {
		return &StopResult{
			Status:  status,
			Message: fmt.Sprintf("Task %s is already %s.", taskID, status),
		}, nil
	}

	upd := database.TaskUpdate{}.
		WithStatus(database.TaskCancelling).
		WithMessage("Cancellation requested by user.")
	if err := s.store.UpdateTask(ctx, taskID, upd); err != nil {
		return nil, fmt.Errorf("request cancellation: %w", err)
	}

	s.logger.Info("cancellation requested", zap.String("task_id", taskID))
	return &StopResult{
		Status:  database.TaskCancelling,
		Message: fmt.Sprintf("Cancellation requested for task %s. It will stop shortly.", taskID),
	}, nil
}

// Task returns one task record.
func (s *Service) Task(ctx context.Context, taskID string) (*database.Task, error) {
	return s.store.GetTask(ctx, taskID)
}

// Tasks returns all task records, newest first.
func (s *Service) Tasks(ctx context.Context) ([]database.Task, error) {
	return s.store.ListTasks(ctx)
}

// Wait blocks until all background runs have returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels background runs and waits for them, or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
