package async

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// LockFileName marks a rebuild in progress. A lock file left behind without
// a holder means the previous rebuild was interrupted.
const LockFileName = "indexing.lock"

// ErrAlreadyRunning is returned when another process holds the lock.
var ErrAlreadyRunning = errors.New("another rebuild holds the indexing lock")

// RunFunc performs the work. stop is closed when Stop is called; the function
// should finish in-flight work and return. ctx cancellation aborts.
type RunFunc func(ctx context.Context, stop <-chan struct{}, progress *Progress) error

// TaskConfig configures a Task.
type TaskConfig struct {
	// DataDir holds the indexing lock. Empty disables locking.
	DataDir string
}

// Task runs a RunFunc in a background goroutine with progress tracking.
type Task struct {
	config   TaskConfig
	progress *Progress
	run      RunFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu      sync.Mutex
	started bool
	running bool
	err     error
}

// NewTask creates a task for fn.
func NewTask(cfg TaskConfig, fn RunFunc) *Task {
	return &Task{
		config:   cfg,
		progress: NewProgress(),
		run:      fn,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the progress tracker of the task.
func (t *Task) Progress() *Progress {
	return t.progress
}

// IsRunning returns true while the task runs.
func (t *Task) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Start runs the task in the background. Later calls are no-ops.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.running = true
	t.mu.Unlock()

	go t.loop(ctx)
}

func (t *Task) loop(ctx context.Context) {
	defer close(t.doneCh)
	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()

	release, err := t.acquire()
	if err != nil {
		t.fail(err)
		return
	}
	// Kept on failure so the next start can detect the interrupted rebuild.
	succeeded := false
	defer func() { release(succeeded) }()

	if err := t.run(ctx, t.stopCh, t.progress); err != nil {
		t.fail(err)
		return
	}
	succeeded = true

	select {
	case <-t.stopCh:
		t.progress.SetStopped()
	default:
		t.progress.SetDone()
	}
}

func (t *Task) acquire() (func(remove bool), error) {
	if t.config.DataDir == "" {
		return func(bool) {}, nil
	}
	if err := os.MkdirAll(t.config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	lockPath := filepath.Join(t.config.DataDir, LockFileName)
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire indexing lock: %w", err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}
	if err := os.WriteFile(lockPath, []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to write indexing lock: %w", err)
	}
	return func(remove bool) {
		if remove {
			_ = os.Remove(lockPath)
		}
		_ = lock.Unlock()
	}, nil
}

func (t *Task) fail(err error) {
	t.progress.SetError(err.Error())
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Stop asks the task to finish in-flight work and waits for it.
func (t *Task) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })

	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if started {
		<-t.doneCh
	}
}

// Wait blocks until the task completes and returns its error.
func (t *Task) Wait() error {
	<-t.doneCh
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed when the task completes.
func (t *Task) Done() <-chan struct{} {
	return t.doneCh
}

// HasIncompleteLock reports whether dataDir holds a lock file that no running
// rebuild owns, i.e. a rebuild was interrupted.
func HasIncompleteLock(dataDir string) bool {
	lockPath := filepath.Join(dataDir, LockFileName)
	if _, err := os.Stat(lockPath); err != nil {
		return false
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil || !locked {
		return false
	}
	_ = lock.Unlock()
	return true
}
