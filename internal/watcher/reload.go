package watcher

import (
	"context"
	"log/slog"
)

// ReloadFunc applies a batch of configuration changes.
type ReloadFunc func(ctx context.Context, events []FileEvent) error

// Reload calls fn for every batch until ctx is done or events is closed.
// A failing reload is logged and the previous configuration stays active.
func Reload(ctx context.Context, events <-chan []FileEvent, fn ReloadFunc, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-events:
			if !ok {
				return
			}
			paths := make([]string, 0, len(batch))
			for _, e := range batch {
				paths = append(paths, e.Path)
			}
			if err := fn(ctx, batch); err != nil {
				logger.Warn("config_reload_failed",
					slog.Any("paths", paths),
					slog.String("error", err.Error()))
				continue
			}
			logger.Info("config_reloaded", slog.Any("paths", paths))
		}
	}
}
