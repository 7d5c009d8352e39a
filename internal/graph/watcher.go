package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads a ServiceGraph when its file changes. Editor save sequences
// produce bursts of events, so reloads are debounced. A file that fails to
// parse or contains a cycle is logged and the previous graph stays in place.
type Watcher struct {
	graph    *ServiceGraph
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	timer    *time.Timer
	reloaded func(error)
}

// NewWatcher prepares a watcher for path. debounce <= 0 uses 500ms.
func NewWatcher(g *ServiceGraph, path string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if g == nil {
		return nil, errors.New("graph watcher needs a graph")
	}
	if path == "" {
		return nil, errors.New("graph watcher needs a file path")
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{graph: g, path: path, debounce: debounce, logger: logger}, nil
}

// Run watches until ctx is cancelled. It watches the parent directory so
// atomic rename-into-place writes are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(w.path)
	w.logger.Info("watching service graph", slog.String("path", w.path), slog.Duration("debounce", w.debounce))

	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("service graph watcher error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) reload() {
	err := w.apply()
	if err != nil {
		w.logger.Error("service graph reload failed, keeping previous graph", slog.String("path", w.path), slog.Any("error", err))
	} else {
		w.logger.Info("service graph reloaded", slog.String("path", w.path), slog.Int("services", w.graph.Len()))
	}
	w.mu.Lock()
	hook := w.reloaded
	w.mu.Unlock()
	if hook != nil {
		hook(err)
	}
}

func (w *Watcher) apply() error {
	specs, err := LoadFile(w.path)
	if err != nil {
		return err
	}
	return w.graph.Replace(specs)
}
