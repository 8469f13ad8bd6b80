package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrNoFiles is returned by New when no paths are given.
var ErrNoFiles = errors.New("watcher: no files to watch")

// Watcher reports changes to a fixed set of files.
type Watcher struct {
	opts      Options
	files     map[string]struct{}
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	errors    chan error
	stopCh    chan struct{}

	mu      sync.Mutex
	stopped bool
}

// New creates a watcher for paths. The files need not exist yet.
func New(opts Options, paths ...string) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, ErrNoFiles
	}
	opts = opts.WithDefaults()

	w := &Watcher{
		opts:      opts,
		files:     make(map[string]struct{}, len(paths)),
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize, opts.Logger),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve absolute path: %w", err)
		}
		w.files[abs] = struct{}{}
	}

	if !opts.ForcePolling {
		if fsw, err := fsnotify.NewWatcher(); err == nil {
			w.fsWatcher = fsw
		} else {
			opts.Logger.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		}
	}
	return w, nil
}

// Mode returns "fsnotify" or "polling".
func (w *Watcher) Mode() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}

// Start watches until ctx is done or Stop is called. It blocks.
func (w *Watcher) Start(ctx context.Context) error {
	if w.fsWatcher == nil {
		return w.poll(ctx)
	}

	dirs := map[string]struct{}{}
	for f := range w.files {
		dirs[filepath.Dir(f)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			// A missing directory can't be watched; polling still can.
			w.opts.Logger.Warn("watch_dir_failed",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
			w.mu.Lock()
			_ = w.fsWatcher.Close()
			w.fsWatcher = nil
			w.mu.Unlock()
			return w.poll(ctx)
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if _, ok := w.files[path]; !ok {
		return
	}

	var op Operation
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}
	w.debouncer.Add(FileEvent{Path: path, Operation: op, Timestamp: time.Now()})
}

// Events returns debounced batches. The channel is closed by Stop.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors returns non-fatal watcher errors. The channel is closed by Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) emitError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Stop releases resources. Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
	}
	close(w.errors)
	return nil
}

func statSnapshot(path string) (fileSnapshot, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return fileSnapshot{}, false
	}
	return fileSnapshot{modTime: info.ModTime(), size: info.Size()}, true
}
