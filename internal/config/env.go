package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INDEXSYNC_"

// applyEnvOverrides applies INDEXSYNC_* variables. Malformed numbers and
// booleans are errors rather than silently ignored.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"INDEX_DIR":             &c.Index.Dir,
		"DEFAULT_ANALYZER":      &c.Index.DefaultAnalyzer,
		"BACKEND_MODE":          &c.Backend.Mode,
		"COMMIT_INTERVAL":       &c.Backend.CommitInterval,
		"NATS_URL":              &c.Cluster.NATSURL,
		"NODE_ID":               &c.Cluster.NodeID,
		"STORE_PATH":            &c.Store.Path,
		"FACET_COMPARISON":      &c.Facets.Comparison,
		"METRICS_LISTEN":        &c.Metrics.Listen,
		"LOG_LEVEL":             &c.Logging.Level,
		"LOG_FILE":              &c.Logging.File,
		"MASS_INDEXER_DATA_DIR": &c.MassIndexer.DataDir,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"COMMIT_EVERY":          &c.Backend.CommitEvery,
		"QUEUE_SIZE":            &c.Backend.QueueSize,
		"MASS_INDEXER_BATCH":    &c.MassIndexer.BatchSize,
		"MASS_INDEXER_WORKERS":  &c.MassIndexer.Workers,
		"FILTER_CACHE_SIZE":     &c.Filters.CacheSize,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"CLUSTER_ENABLED": &c.Cluster.Enabled,
		"METRICS_ENABLED": &c.Metrics.Enabled,
	}
	for key, dst := range bools {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	if v := os.Getenv(EnvPrefix + "MASTER_INDEXES"); v != "" {
		c.Cluster.MasterIndexes = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
