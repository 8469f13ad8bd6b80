// Package async runs long indexing jobs in the background and tracks their
// progress.
package async

import (
	"sync"
	"sync/atomic"
	"time"
)

// Status is the overall state of a background task.
type Status string

const (
	// StatusRunning indicates the task is in progress.
	StatusRunning Status = "running"
	// StatusDone indicates the task completed and the index is consistent.
	StatusDone Status = "done"
	// StatusStopped indicates the task was stopped before completion.
	StatusStopped Status = "stopped"
	// StatusError indicates the task failed.
	StatusError Status = "error"
)

// Stage is the current phase of a rebuild.
type Stage string

const (
	// StagePurging removes existing documents of the targeted types.
	StagePurging Stage = "purging"
	// StageLoading streams entities and adds their documents.
	StageLoading Stage = "loading"
	// StageOptimizing compacts the index.
	StageOptimizing Stage = "optimizing"
	// StageCompleted indicates all batches finished.
	StageCompleted Stage = "completed"
)

// Snapshot is an immutable copy of the progress state.
type Snapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage"`
	EntitiesTotal  int64   `json:"entities_total"`
	EntitiesLoaded int64   `json:"entities_loaded"`
	DocumentsAdded int64   `json:"documents_added"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// Progress tracks a rebuild. It satisfies the progress monitor contract of
// the work package, so it can be handed to the mass indexer directly.
type Progress struct {
	entitiesTotal  atomic.Int64
	entitiesLoaded atomic.Int64
	documentsAdded atomic.Int64

	mu           sync.RWMutex
	status       Status
	stage        Stage
	startTime    time.Time
	errorMessage string
}

// NewProgress creates a running progress tracker.
func NewProgress() *Progress {
	return &Progress{
		status:    StatusRunning,
		stage:     StagePurging,
		startTime: time.Now(),
	}
}

// SetStage updates the current stage.
func (p *Progress) SetStage(stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
}

// AddToTotalCount grows the number of entities expected.
func (p *Progress) AddToTotalCount(n int64) { p.entitiesTotal.Add(n) }

// EntitiesLoaded records entities read from the data store.
func (p *Progress) EntitiesLoaded(n int64) { p.entitiesLoaded.Add(n) }

// DocumentsAdded records documents written to the index.
func (p *Progress) DocumentsAdded(n int64) { p.documentsAdded.Add(n) }

// IndexingCompleted marks the last batch as done.
func (p *Progress) IndexingCompleted() { p.SetStage(StageCompleted) }

// SetError marks the task as failed.
func (p *Progress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errorMessage = message
}

// SetDone marks the task as complete.
func (p *Progress) SetDone() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusDone
}

// SetStopped marks the task as stopped early.
func (p *Progress) SetStopped() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusStopped
}

// IsRunning returns true while the task is in progress.
func (p *Progress) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusRunning
}

// Snapshot returns a copy of the current state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := p.entitiesTotal.Load()
	loaded := p.entitiesLoaded.Load()
	var pct float64
	if total > 0 {
		pct = float64(loaded) / float64(total) * 100.0
	}

	return Snapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		EntitiesTotal:  total,
		EntitiesLoaded: loaded,
		DocumentsAdded: p.documentsAdded.Load(),
		ProgressPct:    pct,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}
