package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/consent-audit/internal/database"
)

const clipColumns = `clip_id, card_id, watch_folder_id, filename, path, status, error_message`

func scanClip(row interface{ Scan(...any) error }) (*database.Clip, error) {
	var (
		c        database.Clip
		folderID sql.NullString
		errMsg   sql.NullString
	)
	if err := row.Scan(&c.ID, &c.CardID, &folderID, &c.Filename, &c.Path, &c.Status, &errMsg); err != nil {
		return nil, err
	}
	c.WatchFolderID = folderID.String
	c.ErrorMessage = errMsg.String
	return &c, nil
}

// CreateClip inserts a clip. A second clip with the same filename on the card returns
// ErrDuplicate.
func (s *Store) CreateClip(ctx context.Context, clip database.Clip) (*database.Clip, error) {
	if clip.Status == "" {
		clip.Status = database.ClipQueued
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO clips (clip_id, card_id, watch_folder_id, filename, path, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+clipColumns,
		newID(), clip.CardID, nullString(clip.WatchFolderID), clip.Filename, clip.Path, clip.Status,
	)
	c, err := scanClip(row)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("clip %s: %w", clip.Filename, database.ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("insert clip: %w", err)
	}
	return c, nil
}

// GetClip returns one clip.
func (s *Store) GetClip(ctx context.Context, clipID string) (*database.Clip, error) {
	if !validID(clipID) {
		return nil, database.ErrNotFound
	}
	c, err := scanClip(s.pool.QueryRow(ctx, "SELECT "+clipColumns+" FROM clips WHERE clip_id = $1", clipID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query clip: %w", err)
	}
	return c, nil
}

// ListClips returns a card's clips in any of the given statuses, oldest first.
func (s *Store) ListClips(ctx context.Context, cardID string, statuses ...database.ClipStatus) ([]database.Clip, error) {
	if !validID(cardID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+clipColumns+`
		FROM clips
		WHERE card_id = $1 AND ($2::text[] IS NULL OR status = ANY($2))
		ORDER BY created_at, clip_id`,
		cardID, statusArray(statuses),
	)
	if err != nil {
		return nil, fmt.Errorf("query clips: %w", err)
	}
	defer rows.Close()

	var clips []database.Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan clip: %w", err)
		}
		clips = append(clips, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clips: %w", err)
	}
	return clips, nil
}

// CountClips counts a card's clips in any of the given statuses.
func (s *Store) CountClips(ctx context.Context, cardID string, statuses ...database.ClipStatus) (int, error) {
	if !validID(cardID) {
		return 0, nil
	}
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM clips
		WHERE card_id = $1 AND ($2::text[] IS NULL OR status = ANY($2))`,
		cardID, statusArray(statuses),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count clips: %w", err)
	}
	return n, nil
}

// UpdateClipStatus moves a clip forward. The update only applies when the current row
// status allows the move.
func (s *Store) UpdateClipStatus(ctx context.Context, clipID string, status database.ClipStatus, errMsg string) error {
	if !validID(clipID) {
		return database.ErrNotFound
	}
	res, err := s.pool.Exec(ctx, `
		UPDATE clips SET status = $2, error_message = $3
		WHERE clip_id = $1 AND status = ANY($4)`,
		clipID, status, nullString(errMsg), statusArray(database.ClipStatusesInto(status)),
	)
	if err != nil {
		return fmt.Errorf("update clip status: %w", err)
	}
	return s.checkTransition(ctx, res, "clips", "clip_id", clipID)
}

// ListClipPaths returns the paths of all clips of a card.
func (s *Store) ListClipPaths(ctx context.Context, cardID string) ([]string, error) {
	return s.listClipColumn(ctx, "path", cardID)
}

// ListClipFilenames returns the filenames of all clips of a card.
func (s *Store) ListClipFilenames(ctx context.Context, cardID string) ([]string, error) {
	return s.listClipColumn(ctx, "filename", cardID)
}

func (s *Store) listClipColumn(ctx context.Context, column, cardID string) ([]string, error) {
	if !validID(cardID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, "SELECT "+column+" FROM clips WHERE card_id = $1 ORDER BY "+column, cardID)
	if err != nil {
		return nil, fmt.Errorf("query clip %s: %w", column, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan clip %s: %w", column, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clip %s: %w", column, err)
	}
	return out, nil
}
