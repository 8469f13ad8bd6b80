package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Aman-CERP/indexsync/internal/facet"
	"github.com/Aman-CERP/indexsync/internal/logging"
	"github.com/Aman-CERP/indexsync/internal/store"
)

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !store.KnownAnalyzer(c.Index.DefaultAnalyzer) {
		add("index.default_analyzer: unknown analyzer %q", c.Index.DefaultAnalyzer)
	}
	for field, analyzer := range c.Index.Analyzers {
		if field == store.ClassField || field == store.IDField {
			add("index.analyzers: field %q is reserved", field)
		}
		if !store.KnownAnalyzer(analyzer) {
			add("index.analyzers.%s: unknown analyzer %q", field, analyzer)
		}
	}
	for entityType, index := range c.Index.Bindings {
		if entityType == "" || index == "" {
			add("index.bindings: empty entity type or index in %q -> %q", entityType, index)
		}
		if strings.ContainsAny(index, `/\`) {
			add("index.bindings.%s: index name %q must not contain path separators", entityType, index)
		}
	}
	if _, err := Duration(c.Index.LockTimeout, 0); err != nil {
		add("index.lock_timeout: %v", err)
	}

	if err := validateMode(c.Backend.Mode, false); err != nil {
		add("backend.mode: %v", err)
	}
	if c.Backend.QueueSize < 0 {
		add("backend.queue_size must be non-negative, got %d", c.Backend.QueueSize)
	}
	if c.Backend.CommitEvery < 0 {
		add("backend.commit_every must be non-negative, got %d", c.Backend.CommitEvery)
	}
	if _, err := Duration(c.Backend.CommitInterval, 0); err != nil {
		add("backend.commit_interval: %v", err)
	}
	for index, o := range c.Backend.PerIndex {
		if err := validateMode(o.Mode, true); err != nil {
			add("backend.per_index.%s.mode: %v", index, err)
		}
		if _, err := Duration(o.CommitInterval, 0); err != nil {
			add("backend.per_index.%s.commit_interval: %v", index, err)
		}
	}

	if c.Cluster.Enabled {
		if c.Cluster.NATSURL == "" {
			add("cluster.nats_url is required when clustering is enabled")
		}
		if _, err := Duration(c.Cluster.RequestTimeout, 0); err != nil {
			add("cluster.request_timeout: %v", err)
		}
	}

	if c.MassIndexer.BatchSize < 0 || c.MassIndexer.Workers < 0 {
		add("mass_indexer.batch_size and workers must be non-negative")
	}
	if c.MassIndexer.DocumentsPerSecond < 0 {
		add("mass_indexer.documents_per_second must be non-negative")
	}

	switch c.Store.Driver {
	case "sqlite", "sqlite3":
	default:
		add("store.driver must be 'sqlite' or 'sqlite3', got %q", c.Store.Driver)
	}

	if c.Filters.CacheSize < 0 {
		add("filters.cache_size must be non-negative, got %d", c.Filters.CacheSize)
	}
	seen := map[string]bool{}
	for i, fd := range c.Filters.Definitions {
		if fd.Name == "" || fd.Field == "" {
			add("filters.definitions[%d]: name and field are required", i)
		}
		if seen[fd.Name] {
			add("filters.definitions[%d]: duplicate filter %q", i, fd.Name)
		}
		seen[fd.Name] = true
	}

	if _, err := facet.ParseComparison(c.Facets.Comparison); err != nil {
		add("facets.comparison: %v", err)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		add("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return errors.Join(errs...)
}

func validateMode(mode string, allowEmpty bool) error {
	switch mode {
	case "sync", "async":
		return nil
	case "":
		if allowEmpty {
			return nil
		}
	}
	return fmt.Errorf("must be 'sync' or 'async', got %q", mode)
}
