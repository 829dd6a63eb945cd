package rules

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader is the engine surface the watcher drives.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Watcher triggers a debounced reload when the rule file changes on disk.
type Watcher struct {
	path     string
	debounce time.Duration
	target   Reloader
	logger   *slog.Logger
}

// NewWatcher builds a file watcher for path.
// Params: path rule file; debounce quiet period before reload; target reloader; logger.
// Returns: watcher ready to Run.
func NewWatcher(path string, debounce time.Duration, target Reloader, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, debounce: debounce, target: target, logger: logger}
}

// Run watches the parent directory so editor rename-and-replace saves are seen.
// Params: ctx stops the watcher.
// Returns: setup error or nil after ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch rules dir %q: %w", dir, err)
	}
	w.logger.Info("rules watcher started", slog.String("rules_file", w.path))

	target := filepath.Clean(w.path)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rules watcher error", slog.String("error", err.Error()))
		case <-timer.C:
			w.logger.Info("rules file changed, reloading", slog.String("rules_file", w.path))
			_ = w.target.Reload(ctx)
		}
	}
}
