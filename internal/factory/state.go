// Package factory holds the immutable configuration snapshot shared by every
// indexing component.
//
// A State is never modified after Build. Reconfiguration builds a new State
// from the old one (CopyStateFromOld plus changes) and swaps it into the
// Holder; work queues keep the generation they were created against.
package factory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/Aman-CERP/indexsync/internal/backend"
	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/store"
)

// IndexManagerHolder gives access to the backend of every index.
// *backend.Registry implements it.
type IndexManagerHolder interface {
	Get(ctx context.Context, index string) (backend.Backend, error)
	// Session returns the local writer session of index for reading.
	Session(ctx context.Context, index string) (*store.Session, error)
	Close() error
}

// IndexingParameters are the per-index writer settings.
type IndexingParameters struct {
	Async          bool
	QueueSize      int
	CommitInterval time.Duration
	CommitEvery    int
}

// FilterDefinition is a named, parameterized restriction: documents whose
// Field equals the value supplied at query time.
type FilterDefinition struct {
	Name  string
	Field string
	// Cache enables caching of the matching document ids.
	Cache bool
}

// State is one immutable configuration snapshot.
type State struct {
	generation        uint64
	indexBindings     map[string]string
	indexManagers     IndexManagerHolder
	filterDefinitions map[string]FilterDefinition
	filterCache       *FilterCache
	analyzers         map[string]string
	indexingParams    map[string]IndexingParameters
	defaultParams     *IndexingParameters
	properties        map[string]string
}

// Generation increases with every rebuilt snapshot.
func (s *State) Generation() uint64 { return s.generation }

// IndexBindings returns a copy of the entity type to index bindings.
func (s *State) IndexBindings() map[string]string { return maps.Clone(s.indexBindings) }

// IndexManagers returns the backend holder.
func (s *State) IndexManagers() IndexManagerHolder { return s.indexManagers }

// FilterDefinitions returns a copy of the filter definitions.
func (s *State) FilterDefinitions() map[string]FilterDefinition {
	return maps.Clone(s.filterDefinitions)
}

// FilterDefinition returns one filter definition.
func (s *State) FilterDefinition(name string) (FilterDefinition, bool) {
	fd, ok := s.filterDefinitions[name]
	return fd, ok
}

// FilterCache returns the filter caching strategy; nil disables caching.
func (s *State) FilterCache() *FilterCache { return s.filterCache }

// Analyzers returns a copy of the field to analyzer bindings.
func (s *State) Analyzers() map[string]string { return maps.Clone(s.analyzers) }

// IndexingParameters returns the writer settings of index, falling back to
// the default parameters when index has none of its own.
func (s *State) IndexingParameters(index string) (IndexingParameters, bool) {
	if p, ok := s.indexingParams[index]; ok {
		return p, true
	}
	if s.defaultParams != nil {
		return *s.defaultParams, true
	}
	return IndexingParameters{}, false
}

// Property returns a free-form configuration property.
func (s *State) Property(key string) (string, bool) {
	v, ok := s.properties[key]
	return v, ok
}

// Properties returns a copy of all properties.
func (s *State) Properties() map[string]string { return maps.Clone(s.properties) }

// IndexFor returns the index entityType is bound to.
func (s *State) IndexFor(entityType string) (string, error) {
	index, ok := s.indexBindings[entityType]
	if !ok {
		return "", ierrors.New(ierrors.ErrCodeUnknownEntityBinding,
			"entity type "+entityType+" is not bound to an index", nil).
			WithSuggestion("add it under index.bindings in the configuration")
	}
	return index, nil
}

// EntityTypes lists the bound entity types, sorted.
func (s *State) EntityTypes() []string {
	types := make([]string, 0, len(s.indexBindings))
	for t := range s.indexBindings {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Indexes lists the distinct bound indexes, sorted.
func (s *State) Indexes() []string {
	seen := make(map[string]struct{}, len(s.indexBindings))
	var indexes []string
	for _, index := range s.indexBindings {
		if _, ok := seen[index]; !ok {
			seen[index] = struct{}{}
			indexes = append(indexes, index)
		}
	}
	sort.Strings(indexes)
	return indexes
}

// Builder assembles a State.
type Builder struct {
	s State
}

// NewBuilder starts an empty first-generation state.
func NewBuilder() *Builder {
	return &Builder{s: State{
		generation:        1,
		indexBindings:     map[string]string{},
		filterDefinitions: map[string]FilterDefinition{},
		analyzers:         map[string]string{},
		indexingParams:    map[string]IndexingParameters{},
		properties:        map[string]string{},
	}}
}

// CopyStateFromOld starts the next generation with every field of old.
func CopyStateFromOld(old *State) *Builder {
	b := NewBuilder()
	b.s.generation = old.generation + 1
	b.s.indexBindings = maps.Clone(old.indexBindings)
	b.s.indexManagers = old.indexManagers
	b.s.filterDefinitions = maps.Clone(old.filterDefinitions)
	b.s.filterCache = old.filterCache
	b.s.analyzers = maps.Clone(old.analyzers)
	b.s.indexingParams = maps.Clone(old.indexingParams)
	b.s.defaultParams = old.defaultParams
	b.s.properties = maps.Clone(old.properties)
	return b
}

// Bind maps entityType to index.
func (b *Builder) Bind(entityType, index string) *Builder {
	b.s.indexBindings[entityType] = index
	return b
}

// Unbind removes the binding of entityType.
func (b *Builder) Unbind(entityType string) *Builder {
	delete(b.s.indexBindings, entityType)
	return b
}

// WithIndexBindings replaces every binding.
func (b *Builder) WithIndexBindings(bindings map[string]string) *Builder {
	b.s.indexBindings = maps.Clone(bindings)
	if b.s.indexBindings == nil {
		b.s.indexBindings = map[string]string{}
	}
	return b
}

// WithIndexManagers sets the backend holder.
func (b *Builder) WithIndexManagers(h IndexManagerHolder) *Builder {
	b.s.indexManagers = h
	return b
}

// WithFilter adds or replaces a filter definition.
func (b *Builder) WithFilter(fd FilterDefinition) *Builder {
	b.s.filterDefinitions[fd.Name] = fd
	return b
}

// WithFilters replaces every filter definition.
func (b *Builder) WithFilters(defs []FilterDefinition) *Builder {
	b.s.filterDefinitions = make(map[string]FilterDefinition, len(defs))
	for _, fd := range defs {
		b.s.filterDefinitions[fd.Name] = fd
	}
	return b
}

// WithFilterCache sets the filter caching strategy.
func (b *Builder) WithFilterCache(c *FilterCache) *Builder {
	b.s.filterCache = c
	return b
}

// WithAnalyzer binds field to analyzer.
func (b *Builder) WithAnalyzer(field, analyzer string) *Builder {
	b.s.analyzers[field] = analyzer
	return b
}

// WithIndexingParameters sets the writer settings of index.
func (b *Builder) WithIndexingParameters(index string, p IndexingParameters) *Builder {
	b.s.indexingParams[index] = p
	return b
}

// WithDefaultIndexingParameters sets the writer settings of indexes without
// their own.
func (b *Builder) WithDefaultIndexingParameters(p IndexingParameters) *Builder {
	b.s.defaultParams = &p
	return b
}

// WithProperty sets a free-form property.
func (b *Builder) WithProperty(key, value string) *Builder {
	b.s.properties[key] = value
	return b
}

// Build validates and returns the snapshot. The builder must not be reused.
func (b *Builder) Build() (*State, error) {
	for entityType, index := range b.s.indexBindings {
		if entityType == "" || index == "" {
			return nil, ierrors.ConfigError(fmt.Sprintf("invalid binding %q -> %q", entityType, index), nil)
		}
	}
	for name, fd := range b.s.filterDefinitions {
		if name == "" || fd.Field == "" {
			return nil, ierrors.ConfigError(fmt.Sprintf("filter %q requires a field", name), nil)
		}
	}
	s := b.s
	return &s, nil
}
