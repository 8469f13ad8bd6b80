// Package watcher watches configuration files and reports debounced changes.
//
// fsnotify is the primary mechanism. Each watched file's parent directory is
// registered so that editors replacing a file by rename are still seen.
// Where fsnotify is unavailable (network mounts, some containers) the
// watcher falls back to polling file size and modification time.
//
// Usage:
//
//	w, err := watcher.New(watcher.DefaultOptions(), cfgPath)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go w.Start(ctx)
//
//	watcher.Reload(ctx, w.Events(), func(ctx context.Context, events []watcher.FileEvent) error {
//	    return engine.Reconfigure(...)
//	}, logger)
package watcher
