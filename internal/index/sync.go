package index

import (
	"context"
	"log/slog"

	"github.com/starford/revsync/internal/storage"
)

// Sync brings the blob store in line with the index: blobs that no chunk
// record references (left behind by superseded revisions or interrupted
// uploads) are deleted.
func Sync(ctx context.Context, db FileIndex, store storage.Provider, logger *slog.Logger) (int, error) {
	blobs, err := store.List("")
	if err != nil {
		return 0, err
	}
	live, err := db.Locators(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, loc := range blobs {
		if _, ok := live[loc]; ok {
			continue
		}
		if err := store.Delete(loc); err != nil {
			logger.Warn("sync: delete failed", slog.String("locator", loc), slog.String("error", err.Error()))
			continue
		}
		removed++
		logger.Debug("sync: removed orphan", slog.String("locator", loc))
	}
	return removed, nil
}
