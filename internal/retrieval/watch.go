package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"docqa/internal/snapshot"
)

// Watch keeps the cached state in step with snapshots written by other
// processes until ctx is cancelled. Local snapshot directories are watched
// with fsnotify; every store is also polled every interval.
func (e *Engine) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	var events <-chan fsnotify.Event
	var errs <-chan error
	if local, ok := e.store.(snapshot.LocalStore); ok {
		w, err := watchDir(local.Dir())
		if err != nil {
			e.logger.Warn("snapshot dir watch unavailable, polling only", zap.Error(err))
		} else {
			defer w.Close()
			events, errs = w.Events, w.Errors
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != "CURRENT" {
				continue
			}
			e.refresh(ctx, "fsnotify")
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			e.logger.Warn("snapshot watch error", zap.Error(err))
		case <-ticker.C:
			e.refresh(ctx, "poll")
		}
	}
}

func (e *Engine) refresh(ctx context.Context, trigger string) {
	reloaded, err := e.Refresh(ctx)
	if err != nil {
		e.logger.Warn("snapshot refresh failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	if reloaded {
		st := e.Stats()
		e.logger.Info("snapshot reloaded",
			zap.String("trigger", trigger),
			zap.String("generation", st.Generation),
			zap.Int("fragments", st.Fragments))
	}
}

func watchDir(dir string) (*fsnotify.Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}
