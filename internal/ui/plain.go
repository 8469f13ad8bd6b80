package ui

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/indexsync/internal/async"
)

// PlainRenderer prints one line per stage change or percent step, for CI
// logs and pipes.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	stage   string
	lastPct int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, lastPct: -1}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error { return nil }

// Update implements Renderer.
func (r *PlainRenderer) Update(snap async.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Stage != r.stage {
		r.stage = snap.Stage
		r.lastPct = -1
		_, _ = fmt.Fprintf(r.out, "[%s] %d entities\n", stageIcon(snap.Stage), snap.EntitiesTotal)
	}
	// Print at most every 10%.
	pct := int(snap.ProgressPct) / 10 * 10
	if snap.EntitiesTotal > 0 && pct > r.lastPct {
		r.lastPct = pct
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d entities, %d documents (%d%%)\n",
			stageIcon(snap.Stage), snap.EntitiesLoaded, snap.EntitiesTotal, snap.DocumentsAdded, pct)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case s.Err != nil:
		_, _ = fmt.Fprintf(r.out, "Failed after %s: %v\n", s.Duration.Round(100*time.Millisecond), s.Err)
	case s.Stopped:
		_, _ = fmt.Fprintf(r.out, "Stopped after %s: %d entities indexed\n", s.Duration.Round(100*time.Millisecond), s.Entities)
	default:
		_, _ = fmt.Fprintf(r.out, "Complete: %d entities indexed in %s\n", s.Entities, s.Duration.Round(100*time.Millisecond))
	}
	for _, line := range perTypeLines(s.PerType) {
		_, _ = fmt.Fprintln(r.out, line)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

func perTypeLines(perType map[string]uint64) []string {
	types := make([]string, 0, len(perType))
	for t := range perType {
		types = append(types, t)
	}
	sort.Strings(types)
	lines := make([]string, 0, len(types))
	for _, t := range types {
		lines = append(lines, fmt.Sprintf("  %-20s %d", t, perType[t]))
	}
	return lines
}

func stageIcon(stage string) string {
	switch async.Stage(stage) {
	case async.StagePurging:
		return "PURGE"
	case async.StageLoading:
		return "LOAD"
	case async.StageOptimizing:
		return "OPTIMIZE"
	case async.StageCompleted:
		return "DONE"
	default:
		return "???"
	}
}
