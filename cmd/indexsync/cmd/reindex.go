package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexsync/internal/async"
	"github.com/Aman-CERP/indexsync/internal/massindex"
	"github.com/Aman-CERP/indexsync/internal/ui"
)

type reindexFlags struct {
	batchSize int
	workers   int
	rate      float64
	optimize  bool
	plain     bool
	noColor   bool
}

func newReindexCmd(flags *globalFlags) *cobra.Command {
	rf := &reindexFlags{}

	cmd := &cobra.Command{
		Use:   "reindex [entity-type...]",
		Short: "Rebuild indexes from the entity store",
		Long: `Rebuild the indexes of the given entity types, or of every bound type.

Existing documents of each type are purged, then entities are streamed from
the store in key-range batches. Ctrl+C stops cooperatively: batches in
flight finish, no new ones start. A second Ctrl+C aborts.`,
		Example: `  indexsync reindex
  indexsync reindex Book Author --workers 8 --rate 2000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd, flags, rf, args)
		},
	}
	cmd.Flags().IntVar(&rf.batchSize, "batch-size", 0, "Entities per batch (default from config)")
	cmd.Flags().IntVar(&rf.workers, "workers", 0, "Concurrent batches (default from config)")
	cmd.Flags().Float64Var(&rf.rate, "rate", 0, "Documents per second, 0 for unlimited (default from config)")
	cmd.Flags().BoolVar(&rf.optimize, "optimize", false, "Compact indexes when done")
	cmd.Flags().BoolVar(&rf.plain, "plain", false, "Plain progress output")
	cmd.Flags().BoolVar(&rf.noColor, "no-color", false, "Disable colors")
	return cmd
}

func runReindex(cmd *cobra.Command, flags *globalFlags, rf *reindexFlags, types []string) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if async.HasIncompleteLock(cfg.MassIndexer.DataDir) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Previous rebuild was interrupted; indexes may be incomplete.")
	}

	opts := massindex.Options{
		BatchSize:          int64(firstPositive(rf.batchSize, cfg.MassIndexer.BatchSize)),
		Workers:            firstPositive(rf.workers, cfg.MassIndexer.Workers),
		DocumentsPerSecond: cfg.MassIndexer.DocumentsPerSecond,
		OptimizeOnFinish:   rf.optimize || cfg.MassIndexer.OptimizeOnFinish,
		DataDir:            cfg.MassIndexer.DataDir,
		Logger:             logger,
	}
	if rf.rate > 0 {
		opts.DocumentsPerSecond = rf.rate
	}

	mi, err := a.engine.MassIndexer(a.entities, massindex.FieldsBuilder, opts, types...)
	if err != nil {
		return err
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(rf.plain),
		ui.WithNoColor(rf.noColor),
		ui.WithTitle(strings.Join(mi.Types(), ", "))))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	start := time.Now()
	h := mi.Start(ctx)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		stopped := false
		for {
			select {
			case <-h.Done():
				return
			case <-sigs:
				if stopped {
					cancel()
					return
				}
				stopped = true
				go h.Stop()
			}
		}
	}()

	ui.Follow(ctx, renderer, h.Progress(), 200*time.Millisecond, h.Done())
	res, err := h.Wait()

	summary := ui.Summary{Duration: time.Since(start), Err: err}
	snap := h.Progress().Snapshot()
	summary.Entities = snap.EntitiesLoaded
	summary.Documents = snap.DocumentsAdded
	if res != nil {
		summary.Duration = res.Duration
		summary.Stopped = res.Stopped
		summary.PerType = make(map[string]uint64, len(mi.Types()))
		for _, t := range mi.Types() {
			summary.PerType[t] = res.Count(t)
		}
	}
	renderer.Complete(summary)

	if errors.Is(err, async.ErrAlreadyRunning) {
		return fmt.Errorf("another rebuild holds the lock in %s: %w", cfg.MassIndexer.DataDir, err)
	}
	return err
}
