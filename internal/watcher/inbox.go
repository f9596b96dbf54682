package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"docqa/internal/service"
)

// Ingester ingests files by path.
type Ingester interface {
	IngestFiles(ctx context.Context, patterns []string) (service.IngestReport, error)
}

// Inbox ingests files dropped into a directory. Events are debounced so a
// file being written is ingested once, after it settles.
type Inbox struct {
	dir      string
	debounce time.Duration
	accept   func(name string) bool
	ingester Ingester
	logger   *zap.Logger
}

// NewInbox watches dir. accept filters file names; nil accepts everything.
func NewInbox(dir string, debounce time.Duration, accept func(string) bool, ingester Ingester, logger *zap.Logger) *Inbox {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if accept == nil {
		accept = func(string) bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{dir: dir, debounce: debounce, accept: accept, ingester: ingester, logger: logger}
}

// Run ingests files already in the inbox and then every new or changed file
// until ctx is cancelled.
func (b *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(b.dir); err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}

	pending := map[string]struct{}{}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() && b.accept(e.Name()) {
			pending[filepath.Join(b.dir, e.Name())] = struct{}{}
		}
	}
	b.flush(ctx, pending)

	timer := time.NewTimer(b.debounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !b.accept(filepath.Base(ev.Name)) {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(b.debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn("inbox watch error", zap.Error(err))
		case <-timer.C:
			b.flush(ctx, pending)
		}
	}
}

func (b *Inbox) flush(ctx context.Context, pending map[string]struct{}) {
	if len(pending) == 0 {
		return
	}
	paths := make([]string, 0, len(pending))
	for p := range pending {
		delete(pending, p)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)
	report, err := b.ingester.IngestFiles(ctx, paths)
	if err != nil {
		b.logger.Error("inbox ingest failed", zap.Strings("files", paths), zap.Error(err))
		return
	}
	b.logger.Info("inbox ingested",
		zap.Int("documents", len(report.DocumentIDs)),
		zap.Int("duplicates", len(report.Duplicates)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("fragments", report.NewFragments))
}
