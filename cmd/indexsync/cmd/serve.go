package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexsync/internal/config"
	"github.com/Aman-CERP/indexsync/internal/factory"
	"github.com/Aman-CERP/indexsync/internal/metrics"
	"github.com/Aman-CERP/indexsync/internal/watcher"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an indexing node",
		Long: `Run an indexing node until interrupted.

In clustered mode the node subscribes to the work queues of the indexes it
is master of and applies them. The configuration files are watched and
entity bindings and filters are reloaded on change. Backend parameters and
analyzers apply to indexes opened after the reload; indexes already open
keep theirs. Changing the index directory requires a restart.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, flags, !noWatch)
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload configuration on change")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, flags *globalFlags, watch bool) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := slog.Default()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if cfg.Metrics.Enabled {
		srv, err := startMetrics(cfg.Metrics.Listen, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if watch {
		w, err := watchConfig(flags)
		if err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()
		go func() { _ = w.Start(ctx) }()
		go watcher.Reload(ctx, w.Events(), func(ctx context.Context, _ []watcher.FileEvent) error {
			return a.reload(flags)
		}, logger)
		logger.Info("config_watch_started", slog.String("mode", w.Mode()))
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "indexsync serving %d indexes; press Ctrl+C to stop\n", len(a.engine.State().Indexes()))
	<-ctx.Done()
	logger.Info("shutdown_requested")
	return nil
}

// watchConfig watches the files Load reads.
func watchConfig(flags *globalFlags) (*watcher.Watcher, error) {
	paths := []string{config.GetUserConfigPath()}
	if flags.configFile != "" {
		paths = []string{flags.configFile}
	} else {
		project, _ := config.ProjectPath(flags.projectDir)
		paths = append(paths, project)
	}
	return watcher.New(watcher.Options{Logger: slog.Default()}, paths...)
}

// reload swaps in a state built from the current configuration files.
// Units of work already begun finish against the previous state.
func (a *app) reload(flags *globalFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if cfg.Index.Dir != a.cfg.Index.Dir {
		a.logger.Warn("config_change_requires_restart",
			slog.String("reason", "index directory changed"))
	}
	state := a.engine.State()
	analyzer, _ := state.Property(propDefaultAnalyzer)
	if open := a.registry.Indexes(); len(open) > 0 &&
		(!maps.Equal(cfg.Index.Analyzers, state.Analyzers()) || cfg.Index.DefaultAnalyzer != analyzer) {
		a.logger.Warn("config_change_requires_restart",
			slog.String("reason", "analyzers changed"),
			slog.Any("open_indexes", open))
	}
	cache, err := factory.NewFilterCache(cfg.Filters.CacheSize)
	if err != nil {
		return err
	}
	_, err = a.engine.Reconfigure(func(b *factory.Builder) {
		configureBuilder(b, cfg, a.registry, cache)
	})
	return err
}

// startMetrics serves /metrics and /healthz on listen.
func startMetrics(listen string, logger *slog.Logger) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics_server_started", slog.String("listen", listen))
	return srv, nil
}
