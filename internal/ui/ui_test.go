package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexsync/internal/async"
)

func TestNewRenderer_PlainForBuffers(t *testing.T) {
	// Given: a non-terminal writer
	var buf bytes.Buffer

	// When: creating a renderer
	r := NewRenderer(NewConfig(&buf, WithTitle("Book")))

	// Then: plain output is used
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
	assert.False(t, IsTTY(&buf))
}

func TestNewTUIRenderer_RejectsNonTTY(t *testing.T) {
	_, err := NewTUIRenderer(NewConfig(&bytes.Buffer{}))
	assert.ErrorIs(t, err, ErrNotTTY)
}

func TestNewConfig_Options(t *testing.T) {
	cfg := NewConfig(nil, WithForcePlain(true), WithNoColor(true), WithTitle("t"))
	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "t", cfg.Title)
}

func TestPlainRenderer_StagesAndSteps(t *testing.T) {
	// Given: a plain renderer
	var buf bytes.Buffer
	r := NewPlainRenderer(NewConfig(&buf))
	require.NoError(t, r.Start(context.Background()))

	// When: progress moves through loading
	r.Update(async.Snapshot{Stage: "loading", EntitiesTotal: 100})
	r.Update(async.Snapshot{Stage: "loading", EntitiesTotal: 100, EntitiesLoaded: 15, ProgressPct: 15})
	r.Update(async.Snapshot{Stage: "loading", EntitiesTotal: 100, EntitiesLoaded: 18, ProgressPct: 18})
	r.Update(async.Snapshot{Stage: "completed", EntitiesTotal: 100, EntitiesLoaded: 100, ProgressPct: 100})

	// Then: one line per stage and per 10% step
	out := buf.String()
	assert.Contains(t, out, "[LOAD] 100 entities")
	assert.Contains(t, out, "[LOAD] 15/100 entities")
	assert.NotContains(t, out, "18/100")
	assert.Contains(t, out, "[DONE] 100/100 entities")
}

func TestPlainRenderer_Complete(t *testing.T) {
	tests := []struct {
		name    string
		summary Summary
		want    string
	}{
		{"success", Summary{Entities: 3, Duration: time.Second, PerType: map[string]uint64{"Book": 2, "Author": 1}}, "Complete: 3 entities"},
		{"stopped", Summary{Entities: 1, Stopped: true}, "Stopped after"},
		{"failed", Summary{Err: errors.New("disk full")}, "disk full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewPlainRenderer(NewConfig(&buf)).Complete(tt.summary)
			assert.Contains(t, buf.String(), tt.want)
		})
	}

	var buf bytes.Buffer
	NewPlainRenderer(NewConfig(&buf)).Complete(Summary{PerType: map[string]uint64{"Book": 2, "Author": 1}})
	assert.Less(t, strings.Index(buf.String(), "Author"), strings.Index(buf.String(), "Book"))
}

type countingRenderer struct {
	PlainRenderer
	updates atomic.Int32
}

func (c *countingRenderer) Update(async.Snapshot) { c.updates.Add(1) }

func TestFollow_StopsOnDone(t *testing.T) {
	// Given: a renderer and a progress source
	r := &countingRenderer{}
	p := async.NewProgress()
	done := make(chan struct{})

	// When: following until done closes
	finished := make(chan struct{})
	go func() {
		Follow(context.Background(), r, p, 5*time.Millisecond, done)
		close(finished)
	}()
	time.Sleep(30 * time.Millisecond)
	close(done)

	// Then: it returns after a final update
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Follow did not return")
	}
	assert.GreaterOrEqual(t, r.updates.Load(), int32(2))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "4.2s", formatDuration(4200*time.Millisecond))
	assert.Equal(t, "2m 15s", formatDuration(135*time.Second))
	assert.Equal(t, "1h 2m", formatDuration(62*time.Minute))
}

func TestRebuildModel_View(t *testing.T) {
	// Given: a model fed a loading snapshot
	tr := NewTracker()
	tr.Observe(async.Snapshot{Stage: "loading", EntitiesTotal: 10, EntitiesLoaded: 5})
	m := newRebuildModel(tr, "Book", NoColorStyles())

	// Then: the view shows counts and stages
	view := m.View()
	assert.Contains(t, view, "5 / 10 entities")
	assert.Contains(t, view, "● purging")
	assert.Contains(t, view, "○ optimizing")

	// When: completion arrives
	_, _ = m.Update(completeMsg(Summary{Entities: 10, Duration: time.Second}))
	assert.Contains(t, m.View(), "10 entities indexed")
}
