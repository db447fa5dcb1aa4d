package media

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventCallback is called after a watcher-driven registry change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// Watch starts an fsnotify watcher on the media root and keeps the registry
// in step with files copied in or removed by hand, until ctx is cancelled.
// Rename events trigger a debounced Sync to pick up the new name.
func (l *Library) Watch(ctx context.Context, cb EventCallback) error {
	root := l.files.Root()
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	l.logger.Info("watcher: started", slog.String("root", root))

	var syncTimer *time.Timer
	var syncCh <-chan time.Time
	scheduleSync := func() {
		if syncTimer == nil {
			syncTimer = time.NewTimer(200 * time.Millisecond)
			syncCh = syncTimer.C
		} else {
			syncTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if syncTimer != nil {
				syncTimer.Stop()
			}
			l.logger.Info("watcher: stopped")
			return nil

		case <-syncCh:
			if err := l.Sync(ctx); err != nil {
				l.logger.Warn("watcher: sync failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						l.logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					scheduleSync()
					continue
				}
			}

			if strings.HasPrefix(filepath.Base(absPath), ".") {
				continue
			}
			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				known, err := l.repo.MediaChecksums(ctx)
				if err != nil {
					l.logger.Warn("watcher: registry read failed", slog.String("error", err.Error()))
					continue
				}
				_, exists := known[rel]
				if err := l.registerFile(ctx, rel, exists); err != nil {
					l.logger.Warn("watcher: register failed", slog.String("path", rel), slog.String("error", err.Error()))
					continue
				}
				kind := "updated"
				if !exists {
					kind = "created"
				}
				l.logger.Debug("watcher: registered", slog.String("path", rel), slog.String("op", kind))
				if cb != nil {
					cb(kind, rel)
				}

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				if err := l.repo.DeleteMediaByFile(ctx, rel); err != nil {
					l.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
					continue
				}
				l.logger.Debug("watcher: deleted", slog.String("path", rel))
				if cb != nil {
					cb("deleted", rel)
				}
				if ev.Op&fsnotify.Rename != 0 {
					scheduleSync()
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
