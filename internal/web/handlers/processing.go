package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/constants"
	"github.com/kozaktomas/consent-audit/internal/database"
	"github.com/kozaktomas/consent-audit/internal/pipeline"
)

// Processing is the part of the processing service the API needs.
type Processing interface {
	Start(ctx context.Context, cardID string, overrides map[string]any) (*pipeline.StartResult, error)
	Stop(ctx context.Context, taskID string) (*pipeline.StopResult, error)
	Task(ctx context.Context, taskID string) (*database.Task, error)
	Tasks(ctx context.Context) ([]database.Task, error)
}

// ProcessingHandler serves the processing and task endpoints.
type ProcessingHandler struct {
	service      Processing
	logger       *zap.Logger
	pollInterval time.Duration
}

// NewProcessingHandler creates a processing handler. A zero pollInterval uses the default.
func NewProcessingHandler(service Processing, logger *zap.Logger, pollInterval time.Duration) *ProcessingHandler {
	if pollInterval <= 0 {
		pollInterval = constants.TaskEventsPollInterval
	}
	return &ProcessingHandler{
		service:      service,
		logger:       logger.Named("api"),
		pollInterval: pollInterval,
	}
}

type startRequest struct {
	CardID string         `json:"card_id"`
	Config map[string]any `json:"config"`
}

type stopRequest struct {
	TaskID string `json:"task_id"`
}

// Start handles POST /api/v1/processing/start.
func (h *ProcessingHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.CardID == "" {
		respondError(w, http.StatusBadRequest, "card_id is required")
		return
	}

	res, err := h.service.Start(r.Context(), req.CardID, req.Config)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("Configuration not found for card %s", req.CardID))
		return
	}
	if err != nil {
		h.logger.Error("start processing failed", zap.String("card_id", sanitizeForLog(req.CardID)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Internal server error: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Stop handles POST /api/v1/processing/stop.
func (h *ProcessingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.TaskID == "" {
		respondError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	res, err := h.service.Stop(r.Context(), req.TaskID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("Task %s not found", req.TaskID))
		return
	}
	if err != nil {
		h.logger.Error("stop processing failed", zap.String("task_id", sanitizeForLog(req.TaskID)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Internal server error: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"task_id": req.TaskID,
		"status":  res.Status,
		"message": res.Message,
	})
}

// ListTasks handles GET /api/v1/tasks.
func (h *ProcessingHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.service.Tasks(r.Context())
	if err != nil {
		h.logger.Error("list tasks failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []database.Task{}
	}
	respondJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /api/v1/tasks/{taskId}.
func (h *ProcessingHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	task, err := h.service.Task(r.Context(), taskID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("Task %s not found", taskID))
		return
	}
	if err != nil {
		h.logger.Error("get task failed", zap.String("task_id", sanitizeForLog(taskID)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}
	respondJSON(w, http.StatusOK, task)
}
