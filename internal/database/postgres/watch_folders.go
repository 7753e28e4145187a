package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/consent-audit/internal/database"
)

// GetWatchFolder returns a watch folder.
func (s *Store) GetWatchFolder(ctx context.Context, folderID string) (*database.WatchFolder, error) {
	if !validID(folderID) {
		return nil, database.ErrNotFound
	}
	var (
		f       database.WatchFolder
		scanned sql.NullTime
	)
	err := s.pool.QueryRow(ctx,
		"SELECT watch_folder_id, card_id, folder_path, status, last_scanned FROM watch_folders WHERE watch_folder_id = $1",
		folderID,
	).Scan(&f.ID, &f.CardID, &f.FolderPath, &f.Status, &scanned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query watch folder: %w", err)
	}
	if scanned.Valid {
		f.LastScanned = &scanned.Time
	}
	return &f, nil
}

// UpdateWatchFolderStatus sets the folder status. The scanned status also stamps
// last_scanned.
func (s *Store) UpdateWatchFolderStatus(ctx context.Context, folderID string, status database.WatchFolderStatus) error {
	if !validID(folderID) {
		return database.ErrNotFound
	}
	res, err := s.pool.Exec(ctx, `
		UPDATE watch_folders
		SET status = $2,
		    last_scanned = CASE WHEN $2 = 'scanned' THEN NOW() ELSE last_scanned END
		WHERE watch_folder_id = $1`,
		folderID, status,
	)
	if err != nil {
		return fmt.Errorf("update watch folder status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// CreateWatchFolder registers a folder for a card and returns its id.
func (s *Store) CreateWatchFolder(ctx context.Context, cardID, folderPath string) (string, error) {
	id := newID()
	_, err := s.pool.Exec(ctx,
		"INSERT INTO watch_folders (watch_folder_id, card_id, folder_path) VALUES ($1, $2, $3)",
		id, cardID, folderPath,
	)
	if err != nil {
		return "", fmt.Errorf("insert watch folder: %w", err)
	}
	return id, nil
}
