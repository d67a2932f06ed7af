// Package watch syncs a directory automatically on file changes.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/starford/revsync/internal/apperr"
	"github.com/starford/revsync/internal/engine"
)

// DefaultDebounce is the quiet period after the last event for a path
// before it is synced.
const DefaultDebounce = 500 * time.Millisecond

// Syncer syncs one file by path.
type Syncer interface {
	SyncFile(ctx context.Context, path string) (engine.Outcome, error)
}

// EventCallback is called after each watcher-driven sync attempt.
type EventCallback func(path string, out engine.Outcome, err error)

// Watcher runs Syncer.SyncFile for regular files created or written in dir.
// Syncs run serially on the watcher goroutine.
type Watcher struct {
	dir      string
	syncer   Syncer
	debounce time.Duration
	logger   *slog.Logger

	// InitialScan queues every regular file already in dir on start.
	InitialScan bool
	// OnSync is optional.
	OnSync EventCallback
}

// New creates a watcher. A non-positive debounce uses DefaultDebounce.
func New(dir string, syncer Syncer, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, syncer: syncer, debounce: debounce, logger: logger}
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("dir", w.dir))

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	schedule := func(path string) {
		pending[path] = struct{}{}
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			fire = timer.C
			return
		}
		timer.Reset(w.debounce)
	}

	if w.InitialScan {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Type().IsRegular() && !ignored(e.Name()) {
				schedule(filepath.Join(w.dir, e.Name()))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-fire:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			slices.Sort(paths)
			for _, p := range paths {
				if ctx.Err() != nil {
					break
				}
				w.syncOne(ctx, p)
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || ignored(filepath.Base(ev.Name)) {
				continue
			}
			info, statErr := os.Stat(ev.Name)
			if statErr != nil || !info.Mode().IsRegular() {
				continue
			}
			schedule(ev.Name)

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) syncOne(ctx context.Context, path string) {
	out, err := w.syncer.SyncFile(ctx, path)
	switch {
	case err == nil:
		w.logger.Info("watcher: synced",
			slog.String("path", path),
			slog.String("file_id", out.FileID),
			slog.String("status", out.Status.String()))
	case errors.Is(err, apperr.ErrNoChange):
		w.logger.Debug("watcher: unchanged", slog.String("path", path))
	case errors.Is(err, os.ErrNotExist):
		w.logger.Debug("watcher: gone before sync", slog.String("path", path))
	default:
		w.logger.Warn("watcher: sync failed",
			slog.String("path", path),
			slog.String("status", out.Status.String()),
			slog.String("error", err.Error()))
	}
	if w.OnSync != nil {
		w.OnSync(path, out, err)
	}
}

// ignored skips hidden files and editor swap or temp files.
func ignored(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") ||
		strings.HasSuffix(name, ".tmp")
}
