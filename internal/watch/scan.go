package watch

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/database"
)

// ScanResult summarizes a one-shot folder scan.
type ScanResult struct {
	FolderID           string   `json:"watch_folder_id"`
	FolderPath         string   `json:"watch_folder_path"`
	ClipsFound         int      `json:"clips_found"`
	ClipsCreated       int      `json:"clips_created"`
	DuplicateFilenames []string `json:"duplicate_filenames"`
}

// Scan enqueues every video file of the folder that is not yet recorded and marks the
// folder scanned. It does not require or start a monitor.
func (r *Registry) Scan(ctx context.Context, folderID string) (*ScanResult, error) {
	folder, err := r.store.GetWatchFolder(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("get watch folder %s: %w", folderID, err)
	}
	if folder.CardID == "" {
		return nil, fmt.Errorf("could not find card ID for watch folder %s", folderID)
	}

	info, err := os.Stat(folder.FolderPath)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("folder path does not exist: %s", folder.FolderPath)
	}

	logger := r.logger.With(zap.String("watch_folder_id", folderID))
	logger.Info("scanning watch folder", zap.String("path", folder.FolderPath))

	files, err := FindVideoFiles(folder.FolderPath)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", folder.FolderPath, err)
	}

	res, err := enqueue(ctx, r.store, folder, files, logger)
	if err != nil {
		return nil, err
	}

	if err := r.store.UpdateWatchFolderStatus(ctx, folderID, database.WatchFolderScanned); err != nil {
		return nil, fmt.Errorf("mark folder scanned: %w", err)
	}

	logger.Info("scan complete",
		zap.Int("found", len(files)),
		zap.Int("created", res.Created),
		zap.Int("duplicates", len(res.Duplicates)))

	dups := res.Duplicates
	if dups == nil {
		dups = []string{}
	}
	return &ScanResult{
		FolderID:           folderID,
		FolderPath:         folder.FolderPath,
		ClipsFound:         len(files),
		ClipsCreated:       res.Created,
		DuplicateFilenames: dups,
	}, nil
}
