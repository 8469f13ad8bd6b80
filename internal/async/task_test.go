package async

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_RunsInBackground(t *testing.T) {
	// Given: a task that waits for a signal
	release := make(chan struct{})
	var ran atomic.Bool
	task := NewTask(TaskConfig{DataDir: t.TempDir()}, func(ctx context.Context, stop <-chan struct{}, p *Progress) error {
		<-release
		ran.Store(true)
		return nil
	})

	// When: starting it
	task.Start(context.Background())

	// Then: it runs until released
	assert.True(t, task.IsRunning())
	close(release)
	require.NoError(t, task.Wait())
	assert.True(t, ran.Load())
	assert.False(t, task.IsRunning())
	assert.Equal(t, string(StatusDone), task.Progress().Snapshot().Status)
}

func TestTask_StopIsCooperative(t *testing.T) {
	// Given: a task processing batches until told to stop
	var batches atomic.Int32
	started := make(chan struct{})
	task := NewTask(TaskConfig{}, func(ctx context.Context, stop <-chan struct{}, p *Progress) error {
		close(started)
		for {
			select {
			case <-stop:
				return nil
			default:
			}
			batches.Add(1)
			time.Sleep(time.Millisecond)
		}
	})

	// When: stopping after it started
	task.Start(context.Background())
	<-started
	task.Stop()

	// Then: it finished cleanly and reports stopped
	require.NoError(t, task.Wait())
	assert.Positive(t, batches.Load())
	assert.Equal(t, string(StatusStopped), task.Progress().Snapshot().Status)
}

func TestTask_FailureIsReported(t *testing.T) {
	boom := errors.New("batch failed")
	task := NewTask(TaskConfig{}, func(ctx context.Context, stop <-chan struct{}, p *Progress) error {
		return boom
	})

	task.Start(context.Background())

	assert.ErrorIs(t, task.Wait(), boom)
	snap := task.Progress().Snapshot()
	assert.Equal(t, string(StatusError), snap.Status)
	assert.Equal(t, "batch failed", snap.ErrorMessage)
}

func TestTask_LockRemovedOnSuccess(t *testing.T) {
	dir := t.TempDir()
	var sawLock atomic.Bool
	task := NewTask(TaskConfig{DataDir: dir}, func(ctx context.Context, stop <-chan struct{}, p *Progress) error {
		_, err := os.Stat(filepath.Join(dir, LockFileName))
		sawLock.Store(err == nil)
		return nil
	})

	task.Start(context.Background())
	require.NoError(t, task.Wait())

	assert.True(t, sawLock.Load())
	assert.NoFileExists(t, filepath.Join(dir, LockFileName))
	assert.False(t, HasIncompleteLock(dir))
}

func TestTask_LockKeptOnFailure(t *testing.T) {
	// Given: a rebuild that fails midway
	dir := t.TempDir()
	task := NewTask(TaskConfig{DataDir: dir}, func(ctx context.Context, stop <-chan struct{}, p *Progress) error {
		return errors.New("interrupted")
	})

	// When: it completes
	task.Start(context.Background())
	require.Error(t, task.Wait())

	// Then: the leftover lock reveals the interrupted rebuild
	assert.FileExists(t, filepath.Join(dir, LockFileName))
	assert.True(t, HasIncompleteLock(dir))
}

func TestTask_RejectsConcurrentRebuild(t *testing.T) {
	// Given: another holder of the lock
	dir := t.TempDir()
	other := flock.New(filepath.Join(dir, LockFileName))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = other.Unlock() }()

	// When: starting a task on the same directory
	task := NewTask(TaskConfig{DataDir: dir}, func(ctx context.Context, stop <-chan struct{}, p *Progress) error {
		return nil
	})
	task.Start(context.Background())

	// Then: it refuses to run
	assert.ErrorIs(t, task.Wait(), ErrAlreadyRunning)
	assert.False(t, HasIncompleteLock(dir), "a held lock is not an interrupted rebuild")
}

func TestTask_StartTwiceRunsOnce(t *testing.T) {
	var runs atomic.Int32
	task := NewTask(TaskConfig{}, func(ctx context.Context, stop <-chan struct{}, p *Progress) error {
		runs.Add(1)
		return nil
	})

	task.Start(context.Background())
	task.Start(context.Background())
	require.NoError(t, task.Wait())

	assert.Equal(t, int32(1), runs.Load())
}
