package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/database"
	"github.com/kozaktomas/consent-audit/internal/watch"
)

// FolderWatcher is the part of the watch registry the API needs.
type FolderWatcher interface {
	Start(ctx context.Context, folderID string, opts watch.Options) error
	Stop(ctx context.Context, folderID string) error
	Scan(ctx context.Context, folderID string) (*watch.ScanResult, error)
}

// WatchFoldersHandler serves the watch-folder endpoints.
type WatchFoldersHandler struct {
	watcher FolderWatcher
	opts    watch.Options
	logger  *zap.Logger
}

// NewWatchFoldersHandler creates a handler that starts monitors with opts.
func NewWatchFoldersHandler(watcher FolderWatcher, opts watch.Options, logger *zap.Logger) *WatchFoldersHandler {
	return &WatchFoldersHandler{
		watcher: watcher,
		opts:    opts,
		logger:  logger.Named("api"),
	}
}

type monitorResponse struct {
	Status        string `json:"status"`
	WatchFolderID string `json:"watch_folder_id"`
	Message       string `json:"message"`
}

// StartMonitoring handles POST /api/v1/watch-folders/{id}/monitor.
func (h *WatchFoldersHandler) StartMonitoring(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.watcher.Start(r.Context(), id, h.opts)
	switch {
	case errors.Is(err, watch.ErrAlreadyMonitored):
		respondError(w, http.StatusConflict, fmt.Sprintf("Watch folder %s is already being monitored", id))
		return
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, fmt.Sprintf("Watch folder not found: %s", id))
		return
	case err != nil:
		h.logger.Error("start monitoring failed", zap.String("watch_folder_id", sanitizeForLog(id)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Error starting watch folder monitoring: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, monitorResponse{
		Status:        "success",
		WatchFolderID: id,
		Message:       "Watch folder monitoring started",
	})
}

// StopMonitoring handles DELETE /api/v1/watch-folders/{id}/monitor.
func (h *WatchFoldersHandler) StopMonitoring(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.watcher.Stop(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("Watch folder not found: %s", id))
		return
	}
	if err != nil {
		h.logger.Error("stop monitoring failed", zap.String("watch_folder_id", sanitizeForLog(id)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Error stopping watch folder monitoring: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, monitorResponse{
		Status:        "success",
		WatchFolderID: id,
		Message:       "Watch folder monitoring stopped",
	})
}

// Scan handles POST /api/v1/watch-folders/{id}/scan.
func (h *WatchFoldersHandler) Scan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.watcher.Scan(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("Watch folder not found: %s", id))
		return
	}
	if err != nil {
		h.logger.Error("scan failed", zap.String("watch_folder_id", sanitizeForLog(id)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}
