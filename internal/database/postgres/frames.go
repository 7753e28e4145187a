package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/consent-audit/internal/database"
)

const frameColumns = `f.frame_id, f.clip_id, f.timestamp, f.raw_frame_image_path,
	f.processed_frame_image_path, f.status, f.scene_change`

func scanFrame(row interface{ Scan(...any) error }) (*database.Frame, error) {
	var (
		f         database.Frame
		processed sql.NullString
	)
	if err := row.Scan(&f.ID, &f.ClipID, &f.Timestamp, &f.RawImagePath, &processed, &f.Status, &f.SceneChange); err != nil {
		return nil, err
	}
	f.ProcessedImagePath = processed.String
	return &f, nil
}

// CreateFrames inserts the frames of a clip in one transaction.
func (s *Store) CreateFrames(ctx context.Context, frames []database.Frame) error {
	if len(frames) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frames (frame_id, clip_id, timestamp, raw_frame_image_path, status, scene_change)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("prepare frame insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range frames {
		if f.Status == "" {
			f.Status = database.FrameQueued
		}
		if _, err := stmt.ExecContext(ctx, newID(), f.ClipID, f.Timestamp, f.RawImagePath, f.Status, f.SceneChange); err != nil {
			return fmt.Errorf("insert frame %s: %w", f.RawImagePath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit frames: %w", err)
	}
	return nil
}

// ListFrames returns the frames of a card in any of the given statuses, oldest first.
func (s *Store) ListFrames(ctx context.Context, cardID string, statuses ...database.FrameStatus) ([]database.Frame, error) {
	if !validID(cardID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+frameColumns+`
		FROM frames f
		JOIN clips c ON c.clip_id = f.clip_id
		WHERE c.card_id = $1 AND ($2::text[] IS NULL OR f.status = ANY($2))
		ORDER BY f.created_at, f.frame_id`,
		cardID, statusArray(statuses),
	)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var frames []database.Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		frames = append(frames, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frames: %w", err)
	}
	return frames, nil
}

// CountFrames counts the frames of a card in any of the given statuses.
func (s *Store) CountFrames(ctx context.Context, cardID string, statuses ...database.FrameStatus) (int, error) {
	if !validID(cardID) {
		return 0, nil
	}
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM frames f
		JOIN clips c ON c.clip_id = f.clip_id
		WHERE c.card_id = $1 AND ($2::text[] IS NULL OR f.status = ANY($2))`,
		cardID, statusArray(statuses),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count frames: %w", err)
	}
	return n, nil
}

// FrameStatusCounts returns the number of frames per status of one clip.
func (s *Store) FrameStatusCounts(ctx context.Context, clipID string) (map[database.FrameStatus]int, error) {
	counts := map[database.FrameStatus]int{}
	if !validID(clipID) {
		return counts, nil
	}
	rows, err := s.pool.Query(ctx, "SELECT status, COUNT(*) FROM frames WHERE clip_id = $1 GROUP BY status", clipID)
	if err != nil {
		return nil, fmt.Errorf("query frame counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status database.FrameStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan frame count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frame counts: %w", err)
	}
	return counts, nil
}

// UpdateFrameStatus moves a frame forward.
func (s *Store) UpdateFrameStatus(ctx context.Context, frameID string, status database.FrameStatus) error {
	if !validID(frameID) {
		return database.ErrNotFound
	}
	res, err := s.pool.Exec(ctx,
		"UPDATE frames SET status = $2 WHERE frame_id = $1 AND status = ANY($3)",
		frameID, status, statusArray(database.FrameStatusesInto(status)),
	)
	if err != nil {
		return fmt.Errorf("update frame status: %w", err)
	}
	return s.checkTransition(ctx, res, "frames", "frame_id", frameID)
}

// CompleteFrame stores the annotated image path and moves the frame to status.
func (s *Store) CompleteFrame(ctx context.Context, frameID, processedPath string, status database.FrameStatus) error {
	if !validID(frameID) {
		return database.ErrNotFound
	}
	res, err := s.pool.Exec(ctx, `
		UPDATE frames SET processed_frame_image_path = $2, status = $3
		WHERE frame_id = $1 AND status = ANY($4)`,
		frameID, processedPath, status, statusArray(database.FrameStatusesInto(status)),
	)
	if err != nil {
		return fmt.Errorf("complete frame: %w", err)
	}
	return s.checkTransition(ctx, res, "frames", "frame_id", frameID)
}
