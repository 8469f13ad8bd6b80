package massindex

import (
	"context"
	"fmt"
	"log/slog"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/work"
)

// guardedMonitor shields the rebuild from panicking monitors.
type guardedMonitor struct {
	m      work.ProgressMonitor
	logger *slog.Logger
}

func (g *guardedMonitor) DocumentsAdded(n int64) {
	defer g.guard("DocumentsAdded")
	g.m.DocumentsAdded(n)
}

func (g *guardedMonitor) EntitiesLoaded(n int64) {
	defer g.guard("EntitiesLoaded")
	g.m.EntitiesLoaded(n)
}

func (g *guardedMonitor) IndexingCompleted() {
	defer g.guard("IndexingCompleted")
	g.m.IndexingCompleted()
}

func (g *guardedMonitor) AddToTotalCount(n int64) {
	tc, ok := g.m.(work.TotalCounter)
	if !ok {
		return
	}
	defer g.guard("AddToTotalCount")
	tc.AddToTotalCount(n)
}

func (g *guardedMonitor) guard(callback string) {
	r := recover()
	if r == nil {
		return
	}
	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("%v", r)
	}
	err := ierrors.MonitorCallbackFailure(callback, cause)
	g.logger.LogAttrs(context.Background(), slog.LevelWarn, "monitor_callback_failed", ierrors.LogAttrs(err)...)
}
