package index

import (
	"log/slog"

	"github.com/starford/othala/internal/cache"
)

// SyncSnapshot brings the index in line with the authoritative cache
// snapshot:
//   - documents whose recorded mtime differs are rewritten
//   - documents gone from the snapshot are removed
func SyncSnapshot(db *DB, snap *cache.Snapshot, logger *slog.Logger) error {
	stored, err := db.AllMtimes()
	if err != nil {
		return err
	}

	for path, mtime := range snap.DocMtimes {
		if stored[path] == string(mtime) {
			continue
		}
		if err := db.UpsertDoc(path, mtime, snap.DocCallouts(path)); err != nil {
			logger.Warn("index: sync upsert failed", slog.String("path", path), slog.String("error", err.Error()))
		} else {
			logger.Debug("index: synced", slog.String("path", path))
		}
	}

	// Remove stale entries.
	for path := range stored {
		if _, ok := snap.DocMtimes[path]; !ok {
			if err := db.DeleteDoc(path); err != nil {
				logger.Warn("index: sync delete failed", slog.String("path", path), slog.String("error", err.Error()))
			} else {
				logger.Debug("index: removed stale", slog.String("path", path))
			}
		}
	}

	return nil
}

// Refresher adapts the index into the updater's refresh hook: every landed
// batch is folded into the index from the store's post-batch snapshot, so
// search stays one debounce interval behind the vault at worst.
func Refresher(db *DB, store *cache.Store, logger *slog.Logger) cache.RefreshFunc {
	return func(updated, removed []string) {
		snap := store.Snapshot()
		for _, path := range removed {
			if err := db.DeleteDoc(path); err != nil {
				logger.Warn("index: refresh delete failed", slog.String("path", path), slog.String("error", err.Error()))
			}
		}
		for _, path := range updated {
			if err := db.UpsertDoc(path, snap.DocMtimes[path], snap.DocCallouts(path)); err != nil {
				logger.Warn("index: refresh upsert failed", slog.String("path", path), slog.String("error", err.Error()))
			}
		}
	}
}
