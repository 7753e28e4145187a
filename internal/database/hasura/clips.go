package hasura

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/consent-audit/internal/database"
)

const clipFields = "clip_id card_id watch_folder_id filename path status error_message"

var clipOrder = []orderBy{{"created_at": "asc"}, {"clip_id": "asc"}}

// CreateClip inserts a clip. A second clip with the same filename on the card returns
// ErrDuplicate.
func (s *Store) CreateClip(ctx context.Context, clip database.Clip) (*database.Clip, error) {
	if clip.Status == "" {
		clip.Status = database.ClipQueued
	}
	c, err := insertOne[database.Clip](ctx, s, "clips", map[string]any{
		"clip_id":         newID(),
		"card_id":         clip.CardID,
		"watch_folder_id": nullable(clip.WatchFolderID),
		"filename":        clip.Filename,
		"path":            clip.Path,
		"status":          clip.Status,
	}, clipFields)
	if errors.Is(err, database.ErrDuplicate) {
		return nil, fmt.Errorf("clip %s: %w", clip.Filename, database.ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("insert clip: %w", err)
	}
	return c, nil
}

// GetClip returns one clip.
func (s *Store) GetClip(ctx context.Context, clipID string) (*database.Clip, error) {
	return byPK[database.Clip](ctx, s, "clips", "clip_id", clipID, clipFields)
}

// ListClips returns a card's clips in any of the given statuses, oldest first.
func (s *Store) ListClips(ctx context.Context, cardID string, statuses ...database.ClipStatus) ([]database.Clip, error) {
	if !validID(cardID) {
		return nil, nil
	}
	where := statusIn(map[string]any{"card_id": eq(cardID)}, statuses)
	return list[database.Clip](ctx, s, "clips", clipFields, where, listOptions{order: clipOrder})
}

// CountClips counts a card's clips in any of the given statuses.
func (s *Store) CountClips(ctx context.Context, cardID string, statuses ...database.ClipStatus) (int, error) {
	if !validID(cardID) {
		return 0, nil
	}
	return s.count(ctx, "clips", statusIn(map[string]any{"card_id": eq(cardID)}, statuses))
}

// UpdateClipStatus moves a clip forward.
func (s *Store) UpdateClipStatus(ctx context.Context, clipID string, status database.ClipStatus, errMsg string) error {
	return updateStatus(ctx, s, "clips", "clip_id", clipID, database.ClipStatusesInto(status), map[string]any{
		"status":        status,
		"error_message": nullable(errMsg),
	})
}

// ListClipPaths returns the paths of all clips of a card.
func (s *Store) ListClipPaths(ctx context.Context, cardID string) ([]string, error) {
	if !validID(cardID) {
		return nil, nil
	}
	rows, err := list[struct {
		Path string `json:"path"`
	}](ctx, s, "clips", "path", map[string]any{"card_id": eq(cardID)}, listOptions{order: []orderBy{{"path": "asc"}}})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Path
	}
	return out, nil
}

// ListClipFilenames returns the filenames of all clips of a card.
func (s *Store) ListClipFilenames(ctx context.Context, cardID string) ([]string, error) {
	if !validID(cardID) {
		return nil, nil
	}
	rows, err := list[struct {
		Filename string `json:"filename"`
	}](ctx, s, "clips", "filename", map[string]any{"card_id": eq(cardID)}, listOptions{order: []orderBy{{"filename": "asc"}}})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Filename
	}
	return out, nil
}
