package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/indexsync/internal/backend"
	"github.com/Aman-CERP/indexsync/internal/cluster"
	"github.com/Aman-CERP/indexsync/internal/config"
	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/factory"
	"github.com/Aman-CERP/indexsync/internal/search"
	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/work"
)

// app is the wired runtime of one command invocation.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	entities  *store.EntityStore
	transport *cluster.NATSTransport
	registry  *backend.Registry
	engine    *search.Engine
}

// openApp wires the entity store, backends and engine described by cfg.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if err := a.openEntities(); err != nil {
		return nil, err
	}

	opts, err := registryOptions(cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if cfg.Cluster.Enabled {
		if err := a.dialCluster(); err != nil {
			_ = a.Close()
			return nil, err
		}
		opts.Transport = a.transport
	}

	// Set once the engine exists; transports may deliver before that.
	var engine atomic.Pointer[search.Engine]
	opts.OnCommit = func(index string) {
		if eng := engine.Load(); eng != nil {
			eng.IndexCommitted(index)
		}
	}
	opts.Settings = func(index string) (backend.IndexSettings, bool) {
		eng := engine.Load()
		if eng == nil {
			return backend.IndexSettings{}, false
		}
		return indexSettings(eng.State(), index)
	}
	a.registry = backend.NewRegistry(opts)

	state, err := buildState(factory.NewBuilder(), cfg, a.registry)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	eng, err := search.NewEngine(state, search.WithLogger(logger))
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.engine = eng
	engine.Store(eng)

	logger.Info("app_opened",
		slog.Int("entity_types", len(state.EntityTypes())),
		slog.Any("indexes", state.Indexes()),
		slog.Bool("clustered", cfg.Cluster.Enabled))
	return a, nil
}

func (a *app) openEntities() error {
	path := a.cfg.Store.Path
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	es, err := store.OpenEntityStoreWithDriver(a.cfg.Store.Driver, path)
	if err != nil {
		return err
	}
	a.entities = es
	return nil
}

func (a *app) dialCluster() error {
	timeout, err := config.Duration(a.cfg.Cluster.RequestTimeout, 5*time.Second)
	if err != nil {
		return ierrors.ConfigError("cluster.request_timeout", err)
	}
	nodeID := a.cfg.Cluster.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()[:8]
	}
	t, err := cluster.DialNATS(cluster.NATSOptions{
		URL:            a.cfg.Cluster.NATSURL,
		NodeID:         nodeID,
		SubjectPrefix:  a.cfg.Cluster.SubjectPrefix,
		MasterIndexes:  a.cfg.Cluster.MasterIndexes,
		RequestTimeout: timeout,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}
	a.transport = t
	return nil
}

// Close flushes pending work and releases everything in reverse order.
func (a *app) Close() error {
	var errs []error
	if a.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		errs = append(errs, a.registry.FlushAll(ctx))
		cancel()
	}
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	} else if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	if a.transport != nil {
		errs = append(errs, a.transport.Close())
	}
	if a.entities != nil {
		errs = append(errs, a.entities.Close())
	}
	return errors.Join(errs...)
}

// registryOptions translates the backend section of cfg.
func registryOptions(cfg *config.Config, logger *slog.Logger) (backend.RegistryOptions, error) {
	global, err := localOptions(cfg.Backend.Mode, cfg.Backend.QueueSize, cfg.Backend.CommitInterval, cfg.Backend.CommitEvery)
	if err != nil {
		return backend.RegistryOptions{}, err
	}
	onError := func(q *work.Queue, err error) {
		logger.Error("async_queue_failed",
			slog.String("index", q.Index()),
			slog.String("queue_id", q.ID()),
			slog.String("error", err.Error()))
	}
	global.OnError = onError

	perIndex := make(map[string]backend.LocalOptions, len(cfg.Backend.PerIndex))
	for index, o := range cfg.Backend.PerIndex {
		lo, err := localOptions(
			firstNonEmpty(o.Mode, cfg.Backend.Mode),
			firstPositive(o.QueueSize, cfg.Backend.QueueSize),
			firstNonEmpty(o.CommitInterval, cfg.Backend.CommitInterval),
			firstPositive(o.CommitEvery, cfg.Backend.CommitEvery),
		)
		if err != nil {
			return backend.RegistryOptions{}, fmt.Errorf("backend.per_index.%s: %w", index, err)
		}
		lo.OnError = onError
		perIndex[index] = lo
	}

	lockTimeout, err := config.Duration(cfg.Index.LockTimeout, 5*time.Second)
	if err != nil {
		return backend.RegistryOptions{}, ierrors.ConfigError("index.lock_timeout", err)
	}

	return backend.RegistryOptions{
		IndexDir:        cfg.Index.Dir,
		DefaultAnalyzer: cfg.Index.DefaultAnalyzer,
		FieldAnalyzers:  cfg.Index.Analyzers,
		Local:           global,
		PerIndex:        perIndex,
		LockRetry:       lockRetry(lockTimeout),
		Logger:          logger,
	}, nil
}

func localOptions(mode string, queueSize int, interval string, every int) (backend.LocalOptions, error) {
	d, err := config.Duration(interval, time.Second)
	if err != nil {
		return backend.LocalOptions{}, ierrors.ConfigError("commit_interval", err)
	}
	return backend.LocalOptions{
		Async:          mode == "async",
		QueueSize:      queueSize,
		CommitInterval: d,
		CommitEvery:    every,
	}, nil
}

// lockRetry spreads retries of a held writer lock over roughly timeout.
func lockRetry(timeout time.Duration) ierrors.RetryConfig {
	rc := ierrors.DefaultRetryConfig()
	rc.MaxRetries = 0
	var waited time.Duration
	delay := rc.InitialDelay
	for waited < timeout {
		waited += delay
		rc.MaxRetries++
		delay = min(time.Duration(float64(delay)*rc.Multiplier), rc.MaxDelay)
	}
	return rc
}

// buildState creates a snapshot from cfg.
func buildState(b *factory.Builder, cfg *config.Config, managers factory.IndexManagerHolder) (*factory.State, error) {
	cache, err := factory.NewFilterCache(cfg.Filters.CacheSize)
	if err != nil {
		return nil, ierrors.ConfigError("filters.cache_size", err)
	}
	configureBuilder(b, cfg, managers, cache)
	return b.Build()
}

// configureBuilder applies the configuration to b. It is used for the
// initial state and again on every config reload.
func configureBuilder(b *factory.Builder, cfg *config.Config, managers factory.IndexManagerHolder, cache *factory.FilterCache) {
	defs := make([]factory.FilterDefinition, 0, len(cfg.Filters.Definitions))
	for _, fd := range cfg.Filters.Definitions {
		defs = append(defs, factory.FilterDefinition{Name: fd.Name, Field: fd.Field, Cache: fd.Cache})
	}

	b.WithIndexBindings(cfg.Index.Bindings).
		WithIndexManagers(managers).
		WithFilters(defs).
		WithFilterCache(cache).
		WithProperty(search.PropFacetComparison, cfg.Facets.Comparison).
		WithProperty("backend.mode", cfg.Backend.Mode).
		WithProperty(propDefaultAnalyzer, cfg.Index.DefaultAnalyzer).
		WithDefaultIndexingParameters(indexingParameters(cfg, ""))
	for field, analyzer := range cfg.Index.Analyzers {
		b.WithAnalyzer(field, analyzer)
	}
	for _, index := range cfg.Indexes() {
		b.WithIndexingParameters(index, indexingParameters(cfg, index))
	}
	for index := range cfg.Backend.PerIndex {
		b.WithIndexingParameters(index, indexingParameters(cfg, index))
	}
}

const propDefaultAnalyzer = "index.default_analyzer"

// indexSettings reads the settings of index from state. Indexes opened
// after a reload use them; indexes already open keep their own.
func indexSettings(state *factory.State, index string) (backend.IndexSettings, bool) {
	p, ok := state.IndexingParameters(index)
	if !ok {
		return backend.IndexSettings{}, false
	}
	analyzer, _ := state.Property(propDefaultAnalyzer)
	return backend.IndexSettings{
		Local: backend.LocalOptions{
			Async:          p.Async,
			QueueSize:      p.QueueSize,
			CommitInterval: p.CommitInterval,
			CommitEvery:    p.CommitEvery,
		},
		DefaultAnalyzer: analyzer,
		FieldAnalyzers:  state.Analyzers(),
	}, true
}

func indexingParameters(cfg *config.Config, index string) factory.IndexingParameters {
	mode, size, interval, every := cfg.Backend.Mode, cfg.Backend.QueueSize, cfg.Backend.CommitInterval, cfg.Backend.CommitEvery
	if o, ok := cfg.Backend.PerIndex[index]; ok {
		mode = firstNonEmpty(o.Mode, mode)
		size = firstPositive(o.QueueSize, size)
		interval = firstNonEmpty(o.CommitInterval, interval)
		every = firstPositive(o.CommitEvery, every)
	}
	d, _ := config.Duration(interval, time.Second)
	return factory.IndexingParameters{Async: mode == "async", QueueSize: size, CommitInterval: d, CommitEvery: every}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstPositive(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}
