// Package config loads the indexsync configuration.
//
// Values are applied in order of increasing precedence:
//  1. Built-in defaults
//  2. User config (~/.config/indexsync/config.yaml)
//  3. Project config (.indexsync.yaml in the working directory)
//  4. Environment variables (INDEXSYNC_*)
//
// The result is validated before it is returned.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file name.
const FileName = ".indexsync.yaml"

// Config is the complete indexsync configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Index       IndexConfig       `yaml:"index" json:"index"`
	Backend     BackendConfig     `yaml:"backend" json:"backend"`
	Cluster     ClusterConfig     `yaml:"cluster" json:"cluster"`
	MassIndexer MassIndexerConfig `yaml:"mass_indexer" json:"mass_indexer"`
	Store       StoreConfig       `yaml:"store" json:"store"`
	Filters     FiltersConfig     `yaml:"filters" json:"filters"`
	Facets      FacetsConfig      `yaml:"facets" json:"facets"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// IndexConfig configures the index directories and entity bindings.
type IndexConfig struct {
	// Dir holds one bleve directory per index. Empty keeps indexes in memory.
	Dir string `yaml:"dir" json:"dir"`
	// DefaultAnalyzer applies to fields without an explicit analyzer.
	DefaultAnalyzer string `yaml:"default_analyzer" json:"default_analyzer"`
	// Analyzers binds field names to analyzer names.
	Analyzers map[string]string `yaml:"analyzers" json:"analyzers"`
	// Bindings maps entity types to index names.
	Bindings map[string]string `yaml:"bindings" json:"bindings"`
	// LockTimeout is how long to wait for a writer lock held elsewhere.
	LockTimeout string `yaml:"lock_timeout" json:"lock_timeout"`
}

// BackendConfig configures how queues are applied locally.
type BackendConfig struct {
	// Mode is "sync" or "async".
	Mode           string `yaml:"mode" json:"mode"`
	QueueSize      int    `yaml:"queue_size" json:"queue_size"`
	CommitInterval string `yaml:"commit_interval" json:"commit_interval"`
	CommitEvery    int    `yaml:"commit_every" json:"commit_every"`
	// PerIndex overrides the settings above for single indexes.
	PerIndex map[string]IndexBackendConfig `yaml:"per_index" json:"per_index"`
}

// IndexBackendConfig overrides backend settings of one index. Zero values
// inherit the global setting.
type IndexBackendConfig struct {
	Mode           string `yaml:"mode" json:"mode"`
	QueueSize      int    `yaml:"queue_size" json:"queue_size"`
	CommitInterval string `yaml:"commit_interval" json:"commit_interval"`
	CommitEvery    int    `yaml:"commit_every" json:"commit_every"`
}

// ClusterConfig configures shipping queues to master nodes over NATS.
type ClusterConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	NATSURL       string `yaml:"nats_url" json:"nats_url"`
	NodeID        string `yaml:"node_id" json:"node_id"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
	// MasterIndexes lists the indexes this node writes.
	MasterIndexes  []string `yaml:"master_indexes" json:"master_indexes"`
	RequestTimeout string   `yaml:"request_timeout" json:"request_timeout"`
}

// MassIndexerConfig tunes rebuilds.
type MassIndexerConfig struct {
	BatchSize          int     `yaml:"batch_size" json:"batch_size"`
	Workers            int     `yaml:"workers" json:"workers"`
	DocumentsPerSecond float64 `yaml:"documents_per_second" json:"documents_per_second"`
	OptimizeOnFinish   bool    `yaml:"optimize_on_finish" json:"optimize_on_finish"`
	// DataDir holds the indexing lock.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// StoreConfig locates the entity database.
type StoreConfig struct {
	// Path of the SQLite database. Empty means in-memory.
	Path string `yaml:"path" json:"path"`
	// Driver is the database/sql driver: "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `yaml:"driver" json:"driver"`
}

// FiltersConfig declares the named filters available to searches.
type FiltersConfig struct {
	// CacheSize bounds cached filter results; 0 disables caching.
	CacheSize   int                `yaml:"cache_size" json:"cache_size"`
	Definitions []FilterDefinition `yaml:"definitions" json:"definitions"`
}

// FilterDefinition restricts results to documents whose Field equals the
// value given at query time.
type FilterDefinition struct {
	Name  string `yaml:"name" json:"name"`
	Field string `yaml:"field" json:"field"`
	Cache bool   `yaml:"cache" json:"cache"`
}

// FacetsConfig selects how numeric facet bounds are compared.
type FacetsConfig struct {
	// Comparison is "exact" or "float64".
	Comparison string `yaml:"comparison" json:"comparison"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Index: IndexConfig{
			Dir:             filepath.Join(".indexsync", "indexes"),
			DefaultAnalyzer: "standard",
			Analyzers:       map[string]string{},
			Bindings:        map[string]string{},
			LockTimeout:     "5s",
		},
		Backend: BackendConfig{
			Mode:           "sync",
			QueueSize:      64,
			CommitInterval: "1s",
			CommitEvery:    16,
			PerIndex:       map[string]IndexBackendConfig{},
		},
		Cluster: ClusterConfig{
			NATSURL:        "nats://127.0.0.1:4222",
			SubjectPrefix:  "indexsync",
			RequestTimeout: "5s",
		},
		MassIndexer: MassIndexerConfig{
			BatchSize: 100,
			Workers:   4,
			DataDir:   ".indexsync",
		},
		Store: StoreConfig{
			Path:   filepath.Join(".indexsync", "entities.db"),
			Driver: "sqlite",
		},
		Filters: FiltersConfig{
			CacheSize: 256,
		},
		Facets: FacetsConfig{
			Comparison: "exact",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the user configuration path, honouring
// XDG_CONFIG_HOME.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "indexsync", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "indexsync", "config.yaml")
	}
	return filepath.Join(home, ".config", "indexsync", "config.yaml")
}

// Load loads configuration for the project in dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads defaults overlaid with a single file, then env overrides.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ProjectPath returns the project config file of dir, trying .yaml then .yml.
// ok is false when neither exists.
func ProjectPath(dir string) (string, bool) {
	yamlPath := filepath.Join(dir, FileName)
	if fileExists(yamlPath) {
		return yamlPath, true
	}
	ymlPath := strings.TrimSuffix(yamlPath, ".yaml") + ".yml"
	if fileExists(ymlPath) {
		return ymlPath, true
	}
	return yamlPath, false
}

func (c *Config) loadFromDir(dir string) error {
	path, ok := ProjectPath(dir)
	if !ok {
		return nil
	}
	return c.loadYAML(path)
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith copies the non-zero values of other into c. Maps are merged key
// by key; lists replace.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	setString(&c.Index.Dir, other.Index.Dir)
	setString(&c.Index.DefaultAnalyzer, other.Index.DefaultAnalyzer)
	setString(&c.Index.LockTimeout, other.Index.LockTimeout)
	c.Index.Analyzers = mergeMap(c.Index.Analyzers, other.Index.Analyzers)
	c.Index.Bindings = mergeMap(c.Index.Bindings, other.Index.Bindings)

	setString(&c.Backend.Mode, other.Backend.Mode)
	setInt(&c.Backend.QueueSize, other.Backend.QueueSize)
	setString(&c.Backend.CommitInterval, other.Backend.CommitInterval)
	setInt(&c.Backend.CommitEvery, other.Backend.CommitEvery)
	c.Backend.PerIndex = mergeMap(c.Backend.PerIndex, other.Backend.PerIndex)

	// Booleans can't distinguish "unset" from false; a file enabling a
	// feature wins, disabling is done by omitting it or via env.
	if other.Cluster.Enabled {
		c.Cluster.Enabled = true
	}
	setString(&c.Cluster.NATSURL, other.Cluster.NATSURL)
	setString(&c.Cluster.NodeID, other.Cluster.NodeID)
	setString(&c.Cluster.SubjectPrefix, other.Cluster.SubjectPrefix)
	setString(&c.Cluster.RequestTimeout, other.Cluster.RequestTimeout)
	if len(other.Cluster.MasterIndexes) > 0 {
		c.Cluster.MasterIndexes = other.Cluster.MasterIndexes
	}

	setInt(&c.MassIndexer.BatchSize, other.MassIndexer.BatchSize)
	setInt(&c.MassIndexer.Workers, other.MassIndexer.Workers)
	if other.MassIndexer.DocumentsPerSecond != 0 {
		c.MassIndexer.DocumentsPerSecond = other.MassIndexer.DocumentsPerSecond
	}
	if other.MassIndexer.OptimizeOnFinish {
		c.MassIndexer.OptimizeOnFinish = true
	}
	setString(&c.MassIndexer.DataDir, other.MassIndexer.DataDir)

	setString(&c.Store.Path, other.Store.Path)
	setString(&c.Store.Driver, other.Store.Driver)

	setInt(&c.Filters.CacheSize, other.Filters.CacheSize)
	if len(other.Filters.Definitions) > 0 {
		c.Filters.Definitions = other.Filters.Definitions
	}

	setString(&c.Facets.Comparison, other.Facets.Comparison)

	if other.Metrics.Enabled {
		c.Metrics.Enabled = true
	}
	setString(&c.Metrics.Listen, other.Metrics.Listen)

	setString(&c.Logging.Level, other.Logging.Level)
	setString(&c.Logging.File, other.Logging.File)
	setInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	setInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func mergeMap[V any](dst, src map[string]V) map[string]V {
	if dst == nil {
		dst = make(map[string]V, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Indexes lists the distinct indexes named by bindings, sorted.
func (c *Config) Indexes() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, index := range c.Index.Bindings {
		if _, ok := seen[index]; !ok {
			seen[index] = struct{}{}
			out = append(out, index)
		}
	}
	sort.Strings(out)
	return out
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Duration parses a duration setting; empty means def.
func Duration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
