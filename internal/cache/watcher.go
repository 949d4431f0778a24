package cache

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watcher on the vault root and forwards document
// change events to the updater until ctx is cancelled. Only .md files feed
// the updater, so artifact writes (canvas files, the snapshot itself) can
// never loop back into a re-parse.
//
// New directories created at runtime are automatically added to the watch
// list. Hidden directories and the ignore list (the canvas output dir) are
// never watched.
func Watch(ctx context.Context, u *Updater, vaultRoot string, ignoreDirs []string, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	ignored := make(map[string]struct{}, len(ignoreDirs))
	for _, d := range ignoreDirs {
		ignored[filepath.Join(vaultRoot, filepath.FromSlash(d))] = struct{}{}
	}

	if err := addDirsRecursive(w, vaultRoot, ignored); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", vaultRoot))

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			// --- Handle new directories: add to watcher ---
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if skipDir(absPath, ignored) {
						continue
					}
					if addErr := addDirsRecursive(w, absPath, ignored); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					// Queue any .md files already inside it.
					notifyDirDocs(u, vaultRoot, absPath)
					continue
				}
			}

			// Only documents feed the updater from here on.
			if !strings.HasSuffix(absPath, ".md") {
				continue
			}

			rel, relErr := filepath.Rel(vaultRoot, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				logger.Debug("watcher: change queued", slog.String("path", rel))
				u.Notify(rel)

			case ev.Op&fsnotify.Remove != 0:
				logger.Debug("watcher: removal queued", slog.String("path", rel))
				u.NotifyRemove(rel)

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only. The new path
				// arrives as a separate Create event if it stays within a
				// watched dir, so a rename is observed as delete + add.
				logger.Debug("watcher: rename queued as removal", slog.String("path", rel))
				u.NotifyRemove(rel)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// notifyDirDocs queues every .md file under a newly created directory.
func notifyDirDocs(u *Updater, vaultRoot, dirPath string) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(vaultRoot, path)
		if relErr != nil {
			return nil
		}
		u.Notify(filepath.ToSlash(rel))
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher,
// skipping hidden directories and the ignore set.
func addDirsRecursive(w *fsnotify.Watcher, root string, ignored map[string]struct{}) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(path, ignored) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func skipDir(path string, ignored map[string]struct{}) bool {
	if _, ok := ignored[path]; ok {
		return true
	}
	return strings.HasPrefix(filepath.Base(path), ".")
}
