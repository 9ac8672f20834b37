package profiles

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"workswitch/internal/core"
)

// Watcher observes the profiles file, validates it after every change and
// publishes config_changed so that clients can refresh.
type Watcher struct {
	source   *FileSource
	sink     core.Sink
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewWatcher creates a watcher for the source's file.
func NewWatcher(source *FileSource, sink core.Sink, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		source:   source,
		sink:     sink,
		logger:   logger,
		watcher:  fsWatcher,
		debounce: 200 * time.Millisecond,
	}, nil
}

// Start watches the directory containing the profiles file. Saves are done
// by rename, so the directory is watched rather than the file itself.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.source.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	go w.run(ctx)
	return nil
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	target := filepath.Clean(w.source.Path())
	var pending time.Time
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				pending = time.Now()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("profiles watcher", "err", err)

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < w.debounce {
				continue
			}
			pending = time.Time{}
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := w.source.Load(ctx)
	if err != nil {
		w.logger.Warn("profiles file changed but could not be loaded", "path", w.source.Path(), "err", err)
		return
	}
	if err := Validate(cfg); err != nil {
		w.logger.Warn("profiles file has problems", "path", w.source.Path(), "err", err)
	}
	w.logger.Info("profiles reloaded", "path", w.source.Path(), "profiles", len(cfg.Profiles))
	if w.sink != nil {
		w.sink.Publish(core.Event{Kind: core.EventConfigChanged, At: time.Now().UTC()})
	}
}
