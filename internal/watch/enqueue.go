package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/database"
	"github.com/kozaktomas/consent-audit/internal/metrics"
)

// Store is the part of the persistence layer used by watch folders.
type Store interface {
	database.WatchFolderStore
	CreateClip(ctx context.Context, clip database.Clip) (*database.Clip, error)
}

type enqueueResult struct {
	Created    int
	Duplicates []string
}

// enqueue inserts a queued clip for every path not yet recorded for the folder's card.
// Paths already known are skipped silently. Filenames already used by another clip of the
// card are skipped and reported as duplicates.
func enqueue(ctx context.Context, store Store, folder *database.WatchFolder, paths []string, logger *zap.Logger) (enqueueResult, error) {
	var res enqueueResult

	knownPaths, err := store.ListClipPaths(ctx, folder.CardID)
	if err != nil {
		return res, fmt.Errorf("list clip paths: %w", err)
	}
	knownNames, err := store.ListClipFilenames(ctx, folder.CardID)
	if err != nil {
		return res, fmt.Errorf("list clip filenames: %w", err)
	}

	seenPath := make(map[string]bool, len(knownPaths))
	for _, p := range knownPaths {
		seenPath[p] = true
	}
	seenName := make(map[string]bool, len(knownNames))
	for _, n := range knownNames {
		seenName[NormalizeFilename(n)] = true
	}

	for _, p := range paths {
		if seenPath[p] {
			continue
		}
		name := NormalizeFilename(filepath.Base(p))
		if seenName[name] {
			res.Duplicates = append(res.Duplicates, name)
			logger.Warn("skipping file, filename already exists for card",
				zap.String("filename", name), zap.String("path", p), zap.String("card_id", folder.CardID))
			continue
		}

		_, err := store.CreateClip(ctx, database.Clip{
			CardID:        folder.CardID,
			WatchFolderID: folder.ID,
			Filename:      name,
			Path:          p,
			Status:        database.ClipQueued,
		})
		if errors.Is(err, database.ErrDuplicate) {
			res.Duplicates = append(res.Duplicates, name)
			logger.Warn("clip rejected as duplicate by store", zap.String("filename", name))
			continue
		}
		if err != nil {
			return res, fmt.Errorf("insert clip %s: %w", p, err)
		}
		seenPath[p] = true
		seenName[name] = true
		res.Created++
	}

	metrics.AddClipsEnqueued(res.Created)
	metrics.AddDuplicateFilenames(len(res.Duplicates))
	return res, nil
}
