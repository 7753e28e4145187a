package hasura

import (
	"context"
	"fmt"

	"github.com/kozaktomas/consent-audit/internal/database"
)

const frameFields = "frame_id clip_id timestamp raw_frame_image_path processed_frame_image_path status scene_change"

var frameOrder = []orderBy{{"created_at": "asc"}, {"frame_id": "asc"}}

func cardFrames(cardID string) map[string]any {
	return map[string]any{"clip": map[string]any{"card_id": eq(cardID)}}
}

// CreateFrames inserts the frames of a clip in one mutation.
func (s *Store) CreateFrames(ctx context.Context, frames []database.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	objects := make([]map[string]any, len(frames))
	for i, f := range frames {
		if f.Status == "" {
			f.Status = database.FrameQueued
		}
		objects[i] = map[string]any{
			"frame_id":             newID(),
			"clip_id":              f.ClipID,
			"timestamp":            f.Timestamp,
			"raw_frame_image_path": f.RawImagePath,
			"status":               f.Status,
			"scene_change":         f.SceneChange,
		}
	}

	const q = `mutation ($objects: [frames_insert_input!]!) {
  insert_frames(objects: $objects) { affected_rows }
}`
	out, err := execute[struct {
		Insert struct {
			AffectedRows int `json:"affected_rows"`
		} `json:"insert_frames"`
	}](ctx, s.client, q, map[string]any{"objects": objects})
	if err != nil {
		return fmt.Errorf("insert frames: %w", err)
	}
	if out.Insert.AffectedRows != len(frames) {
		return fmt.Errorf("insert frames: %d of %d rows inserted", out.Insert.AffectedRows, len(frames))
	}
	return nil
}

// ListFrames returns the frames of a card in any of the given statuses, oldest first.
func (s *Store) ListFrames(ctx context.Context, cardID string, statuses ...database.FrameStatus) ([]database.Frame, error) {
	if !validID(cardID) {
		return nil, nil
	}
	return list[database.Frame](ctx, s, "frames", frameFields, statusIn(cardFrames(cardID), statuses), listOptions{order: frameOrder})
}

// CountFrames counts the frames of a card in any of the given statuses.
func (s *Store) CountFrames(ctx context.Context, cardID string, statuses ...database.FrameStatus) (int, error) {
	if !validID(cardID) {
		return 0, nil
	}
	return s.count(ctx, "frames", statusIn(cardFrames(cardID), statuses))
}

// FrameStatusCounts returns the number of frames per status of one clip.
func (s *Store) FrameStatusCounts(ctx context.Context, clipID string) (map[database.FrameStatus]int, error) {
	counts := map[database.FrameStatus]int{}
	if !validID(clipID) {
		return counts, nil
	}
	rows, err := list[struct {
		Status database.FrameStatus `json:"status"`
	}](ctx, s, "frames", "status", map[string]any{"clip_id": eq(clipID)}, listOptions{})
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.Status]++
	}
	return counts, nil
}

// UpdateFrameStatus moves a frame forward.
func (s *Store) UpdateFrameStatus(ctx context.Context, frameID string, status database.FrameStatus) error {
	return updateStatus(ctx, s, "frames", "frame_id", frameID, database.FrameStatusesInto(status),
		map[string]any{"status": status})
}

// CompleteFrame stores the annotated image path and moves the frame to status.
func (s *Store) CompleteFrame(ctx context.Context, frameID, processedPath string, status database.FrameStatus) error {
	return updateStatus(ctx, s, "frames", "frame_id", frameID, database.FrameStatusesInto(status), map[string]any{
		"status":                     status,
		"processed_frame_image_path": processedPath,
	})
}
