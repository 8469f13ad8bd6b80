package watcher

import (
	"context"
	"time"
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// poll compares file size and modification time on every tick.
func (w *Watcher) poll(ctx context.Context) error {
	state := make(map[string]fileSnapshot, len(w.files))
	for f := range w.files {
		if snap, ok := statSnapshot(f); ok {
			state[f] = snap
		}
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			w.detectChanges(state)
		}
	}
}

func (w *Watcher) detectChanges(state map[string]fileSnapshot) {
	now := time.Now()
	for f := range w.files {
		prev, existed := state[f]
		cur, exists := statSnapshot(f)
		switch {
		case !existed && exists:
			state[f] = cur
			w.debouncer.Add(FileEvent{Path: f, Operation: OpCreate, Timestamp: now})
		case existed && !exists:
			delete(state, f)
			w.debouncer.Add(FileEvent{Path: f, Operation: OpDelete, Timestamp: now})
		case existed && exists && (cur.size != prev.size || !cur.modTime.Equal(prev.modTime)):
			state[f] = cur
			w.debouncer.Add(FileEvent{Path: f, Operation: OpModify, Timestamp: now})
		}
	}
}
