package hasura

import (
	"context"

	"github.com/kozaktomas/consent-audit/internal/database"
)

// GetWatchFolder returns a watch folder.
func (s *Store) GetWatchFolder(ctx context.Context, folderID string) (*database.WatchFolder, error) {
	return byPK[database.WatchFolder](ctx, s, "watch_folders", "watch_folder_id", folderID,
		"watch_folder_id card_id folder_path status last_scanned")
}

// UpdateWatchFolderStatus sets the folder status. The scanned status also stamps
// last_scanned.
func (s *Store) UpdateWatchFolderStatus(ctx context.Context, folderID string, status database.WatchFolderStatus) error {
	if !validID(folderID) {
		return database.ErrNotFound
	}
	set := map[string]any{"status": status}
	if status == database.WatchFolderScanned {
		set["last_scanned"] = s.now().UTC()
	}
	n, err := s.update(ctx, "watch_folders", map[string]any{"watch_folder_id": eq(folderID)}, set)
	if err != nil {
		return err
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}
