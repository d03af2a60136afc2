package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period before a change triggers a re-sync
const DefaultDebounce = 250 * time.Millisecond

// Watcher re-syncs the catalogue when its file changes. Bursts of events
// collapse into one sync after the debounce interval.
type Watcher struct {
	path     string
	syncer   *Syncer
	debounce time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a Watcher for the catalogue at path. A zero debounce
// uses DefaultDebounce.
func NewWatcher(path string, syncer *Syncer, debounce time.Duration, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:     filepath.Clean(path),
		syncer:   syncer,
		debounce: debounce,
		logger:   logger,
	}
}

// Watch blocks until ctx is done. The parent directory is watched rather
// than the file so that editors replacing the file by rename are seen.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", w.path, err)
	}

	w.logger.Info("catalog watcher started",
		zap.String("path", w.path),
		zap.Duration("debounce", w.debounce),
	)
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("catalog watcher stopped")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("catalog file event",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()),
			)
			w.trigger(ctx)

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("catalog watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&fsnotify.Chmod == fsnotify.Chmod {
		return false
	}
	if event.Op&fsnotify.Remove == fsnotify.Remove {
		return false
	}
	return filepath.Clean(event.Name) == w.path
}

// trigger schedules a sync, replacing any sync still waiting
func (w *Watcher) trigger(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.syncer.SyncFile(ctx, w.path); err != nil {
			w.logger.Error("catalog re-sync failed",
				zap.String("path", w.path),
				zap.Error(err),
			)
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
