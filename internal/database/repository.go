package database

import (
	"context"
)

// TaskStore persists processing task records.
type TaskStore interface {
	// CreateTask inserts a pending task for a card and returns it
	CreateTask(ctx context.Context, cardID string) (*Task, error)
	// UpdateTask applies the non-nil fields of upd and always refreshes updated_at.
	// A requested status that CanTransitionTask rejects leaves the status unchanged.
	UpdateTask(ctx context.Context, taskID string, upd TaskUpdate) error
	// GetTaskStatus returns the status of a task, or ErrNotFound
	GetTaskStatus(ctx context.Context, taskID string) (TaskStatus, error)
	// GetTask returns the full task record, or ErrNotFound
	GetTask(ctx context.Context, taskID string) (*Task, error)
	// GetActiveTaskFor returns the newest non-terminal task of a card, or nil when there is none
	GetActiveTaskFor(ctx context.Context, cardID string) (*Task, error)
	// ListTasks returns all tasks, newest first
	ListTasks(ctx context.Context) ([]Task, error)
}

// CardStore reads cards and their stored configuration.
type CardStore interface {
	// GetCard returns the card, or ErrNotFound
	GetCard(ctx context.Context, cardID string) (*Card, error)
	// UpdateCardStatus sets the card's processing status
	UpdateCardStatus(ctx context.Context, cardID string, status CardStatus) error
	// GetCardConfig returns the stored flat config map of a card, or ErrNotFound
	GetCardConfig(ctx context.Context, cardID string) (map[string]any, error)
}

// ClipStore persists clips.
type ClipStore interface {
	// CreateClip inserts a clip; returns ErrDuplicate if the card already has the filename
	CreateClip(ctx context.Context, clip Clip) (*Clip, error)
	// GetClip returns a clip, or ErrNotFound
	GetClip(ctx context.Context, clipID string) (*Clip, error)
	// ListClips returns a card's clips in any of the given statuses (all clips if none given), ordered by id
	ListClips(ctx context.Context, cardID string, statuses ...ClipStatus) ([]Clip, error)
	// CountClips counts a card's clips in any of the given statuses
	CountClips(ctx context.Context, cardID string, statuses ...ClipStatus) (int, error)
	// UpdateClipStatus moves a clip to a new status; errMsg is stored for the error status.
	// Returns ErrInvalidTransition if the move is not allowed from the current status.
	UpdateClipStatus(ctx context.Context, clipID string, status ClipStatus, errMsg string) error
}

// FrameStore persists frames.
type FrameStore interface {
	// CreateFrames inserts frames of one clip in a single batch
	CreateFrames(ctx context.Context, frames []Frame) error
	// ListFrames returns frames of a card in any of the given statuses, ordered by id
	ListFrames(ctx context.Context, cardID string, statuses ...FrameStatus) ([]Frame, error)
	// CountFrames counts frames of a card in any of the given statuses
	CountFrames(ctx context.Context, cardID string, statuses ...FrameStatus) (int, error)
	// FrameStatusCounts returns the number of frames per status for one clip
	FrameStatusCounts(ctx context.Context, clipID string) (map[FrameStatus]int, error)
	// UpdateFrameStatus moves a frame to a new status, or returns ErrInvalidTransition
	UpdateFrameStatus(ctx context.Context, frameID string, status FrameStatus) error
	// CompleteFrame stores the annotated image path and moves the frame to status
	CompleteFrame(ctx context.Context, frameID, processedPath string, status FrameStatus) error
}

// FaceStore persists detected faces and their matches.
type FaceStore interface {
	// CreateDetectedFace inserts a detection with status queued
	CreateDetectedFace(ctx context.Context, face DetectedFace) (*DetectedFace, error)
	// ListFaces returns detections of a card in any of the given statuses, ordered by id
	ListFaces(ctx context.Context, cardID string, statuses ...FaceStatus) ([]DetectedFace, error)
	// CountFaces counts detections of a card in any of the given statuses
	CountFaces(ctx context.Context, cardID string, statuses ...FaceStatus) (int, error)
	// ListFacesForFrame returns all detections of one frame
	ListFacesForFrame(ctx context.Context, frameID string) ([]DetectedFace, error)
	// UpdateFaceStatus moves a detection to a new status, or returns ErrInvalidTransition
	UpdateFaceStatus(ctx context.Context, faceID string, status FaceStatus) error
	// CreateFaceMatch inserts the best match of a detection
	CreateFaceMatch(ctx context.Context, match FaceMatch) (*FaceMatch, error)
	// ListMatchesForFrame returns the matches of all detections of one frame
	ListMatchesForFrame(ctx context.Context, frameID string) ([]FaceMatch, error)
}

// ConsentStore reads the consent reference set and stores its embeddings.
type ConsentStore interface {
	// ListConsentFaces returns every consent face of a project, with or without embedding
	ListConsentFaces(ctx context.Context, projectID string) ([]ConsentFace, error)
	// UpdateConsentEmbedding stores a generated embedding and bumps last_updated
	UpdateConsentEmbedding(ctx context.Context, faceID string, embedding []float32) error
	// ClearConsentEmbedding sets the embedding to null so it is regenerated
	ClearConsentEmbedding(ctx context.Context, faceID string) error
}

// WatchFolderStore reads watch folders and records their monitoring state.
type WatchFolderStore interface {
	// GetWatchFolder returns the folder, or ErrNotFound
	GetWatchFolder(ctx context.Context, folderID string) (*WatchFolder, error)
	// UpdateWatchFolderStatus sets the folder status; scanned also stamps last_scanned
	UpdateWatchFolderStatus(ctx context.Context, folderID string, status WatchFolderStatus) error
	// ListClipPaths returns the paths of all clips already recorded for a card
	ListClipPaths(ctx context.Context, cardID string) ([]string, error)
	// ListClipFilenames returns the filenames of all clips already recorded for a card
	ListClipFilenames(ctx context.Context, cardID string) ([]string, error)
}

// Store is the full persistence surface used by the pipeline, monitor and API.
type Store interface {
	TaskStore
	CardStore
	ClipStore
	FrameStore
	FaceStore
	ConsentStore
	WatchFolderStore
}
