// Package search is the entry point of indexsync: it collects mutations in
// units of work, dispatches them to the index backends, rebuilds indexes and
// answers filtered queries.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/indexsync/internal/backend"
	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/facet"
	"github.com/Aman-CERP/indexsync/internal/factory"
	"github.com/Aman-CERP/indexsync/internal/massindex"
	"github.com/Aman-CERP/indexsync/internal/store"
)

var _ factory.IndexManagerHolder = (*backend.Registry)(nil)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Engine ties the factory state to the index backends.
type Engine struct {
	holder *factory.Holder
	logger *slog.Logger
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an engine publishing initial. The state must carry the
// index managers.
func NewEngine(initial *factory.State, opts ...EngineOption) (*Engine, error) {
	if initial == nil {
		return nil, fmt.Errorf("%w: factory state is required", ErrNilDependency)
	}
	if initial.IndexManagers() == nil {
		return nil, fmt.Errorf("%w: index managers are required", ErrNilDependency)
	}
	e := &Engine{
		holder: factory.NewHolder(initial),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// State returns the current factory state.
func (e *Engine) State() *factory.State {
	return e.holder.Load()
}

// Reconfigure publishes a new state derived from the current one. Units of
// work already begun keep the state they started with.
func (e *Engine) Reconfigure(fn func(b *factory.Builder)) (*factory.State, error) {
	next, err := e.holder.Update(fn)
	if err != nil {
		return nil, err
	}
	if next.IndexManagers() == nil {
		return nil, ierrors.ConfigurationInconsistency("reconfigured state has no index managers")
	}
	e.logger.Info("factory_state_swapped",
		slog.Uint64("generation", next.Generation()),
		slog.Int("entity_types", len(next.EntityTypes())))
	return next, nil
}

// Begin starts a unit of work against the current state.
func (e *Engine) Begin() *UnitOfWork {
	return newUnitOfWork(e.holder.Load(), e.logger)
}

// IndexCommitted drops cached filter results of index. Install it as the
// commit hook of the backend registry.
func (e *Engine) IndexCommitted(index string) {
	e.holder.Load().FilterCache().InvalidateIndex(index)
}

// MassIndexer creates a rebuild of types bound in the current state.
func (e *Engine) MassIndexer(source massindex.EntitySource, builder massindex.DocumentBuilder, opts massindex.Options, types ...string) (*massindex.MassIndexer, error) {
	state := e.holder.Load()
	if len(types) == 0 {
		types = state.EntityTypes()
	}
	for _, t := range types {
		if _, err := state.IndexFor(t); err != nil {
			return nil, err
		}
	}
	opts.StateSnapshot = state.Generation()
	if opts.Logger == nil {
		opts.Logger = e.logger
	}
	resolve := func(ctx context.Context, entityType string) (string, backend.Backend, error) {
		index, err := state.IndexFor(entityType)
		if err != nil {
			return "", nil, err
		}
		b, err := state.IndexManagers().Get(ctx, index)
		if err != nil {
			return "", nil, err
		}
		return index, b, nil
	}
	return massindex.New(source, builder, resolve, opts, types...)
}

// Filter enables a named filter definition with a value.
type Filter struct {
	Name  string
	Value string
}

// Request is a full-text query against one index.
type Request struct {
	Index string
	// Field and Text form an analyzed match query. An empty Text matches
	// every document.
	Field   string
	Text    string
	Filters []Filter
	Limit   int
}

// Search runs req against the committed documents of its index.
func (e *Engine) Search(ctx context.Context, req Request) ([]store.Hit, uint64, error) {
	state := e.holder.Load()
	session, err := state.IndexManagers().Session(ctx, req.Index)
	if err != nil {
		return nil, 0, err
	}
	q, empty, err := e.query(ctx, state, session, req)
	if err != nil {
		return nil, 0, err
	}
	if empty {
		return []store.Hit{}, 0, nil
	}
	return session.Search(ctx, q, req.Limit)
}

// PropFacetComparison names the state property holding the facet comparison
// mode.
const PropFacetComparison = "facets.comparison"

// FacetCount is the number of matching documents inside one range.
type FacetCount struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

// Facet counts the documents matching req whose numeric field value falls
// in each of ranges, written as "lo..hi" or "lo..<hi". Values that do not
// parse as the range bound type are not counted. req.Limit is ignored.
func (e *Engine) Facet(ctx context.Context, req Request, field string, ranges ...string) ([]FacetCount, error) {
	state := e.holder.Load()
	mode, _ := state.Property(PropFacetComparison)
	cmp, err := facet.ParseComparison(mode)
	if err != nil {
		return nil, err
	}
	buckets := make([]*facet.Dynamic, 0, len(ranges))
	for _, spec := range ranges {
		d, err := facet.ParseDynamic(spec, facet.WithComparison(cmp))
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, d)
	}

	counts := make([]FacetCount, len(buckets))
	for i, d := range buckets {
		counts[i].Range = d.String()
	}
	session, err := state.IndexManagers().Session(ctx, req.Index)
	if err != nil {
		return nil, err
	}
	q, empty, err := e.query(ctx, state, session, req)
	if err != nil || empty {
		return counts, err
	}
	values, err := session.FieldValues(ctx, q, field)
	if err != nil {
		return nil, err
	}
	for _, raw := range values {
		for i, d := range buckets {
			v, err := d.Parse(raw)
			if err != nil {
				continue
			}
			in, err := d.InRange(v)
			if err != nil {
				return nil, err
			}
			if in {
				counts[i].Count++
			}
		}
	}
	return counts, nil
}

// query builds the bleve query of req. empty reports that a filter admits
// no document.
func (e *Engine) query(ctx context.Context, state *factory.State, session *store.Session, req Request) (q query.Query, empty bool, err error) {
	if req.Text == "" {
		q = bleve.NewMatchAllQuery()
	} else {
		mq := bleve.NewMatchQuery(req.Text)
		if req.Field != "" {
			mq.SetField(req.Field)
		}
		q = mq
	}
	if len(req.Filters) == 0 {
		return q, false, nil
	}
	conjuncts := []query.Query{q}
	for _, f := range req.Filters {
		ids, err := e.filterIDs(ctx, state, session, req.Index, f)
		if err != nil {
			return nil, false, err
		}
		if len(ids) == 0 {
			return nil, true, nil
		}
		conjuncts = append(conjuncts, bleve.NewDocIDQuery(ids))
	}
	return bleve.NewConjunctionQuery(conjuncts...), false, nil
}

// filterIDs resolves the documents a filter admits, through the cache when
// the definition allows it.
func (e *Engine) filterIDs(ctx context.Context, state *factory.State, session *store.Session, index string, f Filter) ([]string, error) {
	def, ok := state.FilterDefinition(f.Name)
	if !ok {
		return nil, ierrors.ValidationError("unknown filter "+f.Name, nil).
			WithSuggestion("define it under filters in the configuration")
	}
	cache := state.FilterCache()
	if def.Cache {
		if ids, ok := cache.Get(index, def.Name, f.Value); ok {
			return ids, nil
		}
	}
	ids, err := session.MatchIDs(ctx, store.Term{Field: def.Field, Value: f.Value})
	if err != nil {
		return nil, err
	}
	if def.Cache {
		cache.Add(index, def.Name, f.Value, ids)
	}
	return ids, nil
}

// Close closes every index backend.
func (e *Engine) Close() error {
	return e.holder.Load().IndexManagers().Close()
}
