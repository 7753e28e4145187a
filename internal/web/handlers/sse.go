package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/database"
)

// sendSSEEvent writes one server-sent event and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// taskChanged reports whether the visible state of a task differs between polls.
func taskChanged(prev, cur *database.Task) bool {
	return prev == nil ||
		prev.Status != cur.Status ||
		prev.Stage != cur.Stage ||
		prev.Progress != cur.Progress ||
		prev.Message != cur.Message
}

// TaskEvents handles GET /api/v1/tasks/{taskId}/events. Progress lives in the store, so
// the stream polls the task record and emits a "status" event whenever it changes. The
// stream ends with a "done" event once the task reaches a terminal status.
func (h *ProcessingHandler) TaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "missing task ID")
		return
	}

	task, err := h.service.Task(r.Context(), taskID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("Task %s not found", taskID))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sendSSEEvent(w, flusher, "status", task)

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	last := task
	for !last.Status.IsTerminal() {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		cur, err := h.service.Task(r.Context(), taskID)
		if err != nil {
			if r.Context().Err() == nil {
				h.logger.Warn("task poll failed", zap.String("task_id", sanitizeForLog(taskID)), zap.Error(err))
				sendSSEEvent(w, flusher, "error", map[string]string{"error": err.Error()})
			}
			return
		}
		if taskChanged(last, cur) {
			sendSSEEvent(w, flusher, "status", cur)
		}
		last = cur
	}

	sendSSEEvent(w, flusher, "done", last)
}
