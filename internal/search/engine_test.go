package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexsync/internal/backend"
	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/factory"
	"github.com/Aman-CERP/indexsync/internal/massindex"
	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/work"
)

func newEngine(t *testing.T) (*Engine, *backend.Registry) {
	t.Helper()
	var eng *Engine
	reg := backend.NewRegistry(backend.RegistryOptions{
		OnCommit: func(index string) { eng.IndexCommitted(index) },
	})
	cache, err := factory.NewFilterCache(64)
	require.NoError(t, err)
	state, err := factory.NewBuilder().
		Bind("Book", "books").
		Bind("Author", "books").
		Bind("Order", "orders").
		WithIndexManagers(reg).
		WithFilter(factory.FilterDefinition{Name: "genre", Field: "genre", Cache: true}).
		WithFilter(factory.FilterDefinition{Name: "status", Field: "status"}).
		WithFilterCache(cache).
		Build()
	require.NoError(t, err)
	eng, err = NewEngine(state)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng, reg
}

func count(t *testing.T, reg *backend.Registry, index string, terms ...store.Term) uint64 {
	t.Helper()
	s, err := reg.Session(context.Background(), index)
	require.NoError(t, err)
	n, err := s.Count(context.Background(), terms...)
	require.NoError(t, err)
	return n
}

func TestNewEngine_RequiresIndexManagers(t *testing.T) {
	state, err := factory.NewBuilder().Bind("Book", "books").Build()
	require.NoError(t, err)

	_, err = NewEngine(state)
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewEngine(nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestUnitOfWork_CommitSplitsByIndex(t *testing.T) {
	// Given: mutations touching two indexes
	eng, reg := newEngine(t)
	ctx := context.Background()
	uow := eng.Begin()
	require.NoError(t, uow.Enqueue("Book", "1", work.KindAdd, map[string]string{"title": "Dune"}))
	require.NoError(t, uow.Enqueue("Order", "7", work.KindAdd, map[string]string{"status": "open"}))
	require.NoError(t, uow.Enqueue("Author", "3", work.KindAdd, map[string]string{"name": "Herbert"}))
	assert.Equal(t, 3, uow.Len())

	// When: committing
	require.NoError(t, uow.Commit(ctx))

	// Then: each index received its own documents
	assert.Equal(t, uint64(2), count(t, reg, "books"))
	assert.Equal(t, uint64(1), count(t, reg, "orders"))
	assert.Equal(t, []string{"books", "orders"}, reg.Indexes())
}

func TestUnitOfWork_UpdateReplacesDocument(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	uow := eng.Begin()
	require.NoError(t, uow.Enqueue("Book", "1", work.KindAdd, map[string]string{"title": "Dune"}))
	require.NoError(t, uow.Commit(ctx))

	uow = eng.Begin()
	require.NoError(t, uow.Enqueue("Book", "1", work.KindUpdate, map[string]string{"title": "Children of Dune"}))
	require.NoError(t, uow.Commit(ctx))

	hits, total, err := eng.Search(ctx, Request{Index: "books", Field: "title", Text: "children"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
	assert.Equal(t, "1", hits[0].Identifier)
}

func TestUnitOfWork_UnknownEntityType(t *testing.T) {
	eng, _ := newEngine(t)

	err := eng.Begin().Enqueue("Invoice", "1", work.KindAdd, nil)

	assert.ErrorIs(t, err, ierrors.ErrUnknownEntityBinding)
}

func TestUnitOfWork_IsSingleUse(t *testing.T) {
	eng, reg := newEngine(t)
	ctx := context.Background()

	rolled := eng.Begin()
	require.NoError(t, rolled.Enqueue("Book", "1", work.KindAdd, nil))
	rolled.Rollback()
	assert.ErrorIs(t, rolled.Commit(ctx), ErrUnitOfWorkClosed)

	committed := eng.Begin()
	require.NoError(t, committed.Enqueue("Book", "2", work.KindAdd, nil))
	require.NoError(t, committed.Commit(ctx))
	assert.ErrorIs(t, committed.Enqueue("Book", "3", work.KindAdd, nil), ErrUnitOfWorkClosed)
	assert.ErrorIs(t, committed.Commit(ctx), ErrUnitOfWorkClosed)

	assert.Zero(t, count(t, reg, "books", store.IDTerm("1")))
	assert.Equal(t, uint64(1), count(t, reg, "books", store.IDTerm("2")))
}

func TestUnitOfWork_KeepsStateAcrossReconfigure(t *testing.T) {
	// Given: a unit of work begun before books moved to a new index
	eng, reg := newEngine(t)
	ctx := context.Background()
	before := eng.Begin()
	require.NoError(t, before.Enqueue("Book", "1", work.KindAdd, nil))

	next, err := eng.Reconfigure(func(b *factory.Builder) { b.Bind("Book", "archive") })
	require.NoError(t, err)
	after := eng.Begin()
	require.NoError(t, after.Enqueue("Book", "2", work.KindAdd, nil))

	// When: both commit
	require.NoError(t, before.Commit(ctx))
	require.NoError(t, after.Commit(ctx))

	// Then: each used the state it began with
	assert.Equal(t, next.Generation()-1, before.Generation())
	assert.Equal(t, next.Generation(), after.Generation())
	assert.Equal(t, uint64(1), count(t, reg, "books", store.IDTerm("1")))
	assert.Equal(t, uint64(1), count(t, reg, "archive", store.IDTerm("2")))
}

func TestUnitOfWork_ReportsDocumentsToMonitor(t *testing.T) {
	eng, _ := newEngine(t)
	mon := &recordingMonitor{}
	uow := eng.Begin()
	uow.SetMonitor(mon)
	require.NoError(t, uow.Enqueue("Book", "1", work.KindAdd, nil))
	require.NoError(t, uow.Enqueue("Book", "2", work.KindDelete, nil))

	require.NoError(t, uow.Commit(context.Background()))

	assert.Equal(t, int64(1), mon.added)
}

type recordingMonitor struct {
	work.NopMonitor
	added int64
}

func (m *recordingMonitor) DocumentsAdded(n int64) { m.added += n }

func TestSearch_FilterUsesCacheAndCommitInvalidates(t *testing.T) {
	// Given: books of two genres
	eng, _ := newEngine(t)
	ctx := context.Background()
	uow := eng.Begin()
	require.NoError(t, uow.Enqueue("Book", "1", work.KindAdd, map[string]string{"title": "Dune", "genre": "scifi"}))
	require.NoError(t, uow.Enqueue("Book", "2", work.KindAdd, map[string]string{"title": "Odes", "genre": "poetry"}))
	require.NoError(t, uow.Commit(ctx))

	// When: filtering by genre
	req := Request{Index: "books", Filters: []Filter{{Name: "genre", Value: "scifi"}}}
	hits, total, err := eng.Search(ctx, req)

	// Then: only the matching book, and the filter result is cached
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
	assert.Equal(t, "1", hits[0].Identifier)
	assert.Equal(t, 1, eng.State().FilterCache().Len())

	// When: another scifi book is committed
	uow = eng.Begin()
	require.NoError(t, uow.Enqueue("Book", "3", work.KindAdd, map[string]string{"title": "Hyperion", "genre": "scifi"}))
	require.NoError(t, uow.Commit(ctx))

	// Then: the cache was dropped and the new book is found
	assert.Zero(t, eng.State().FilterCache().Len())
	_, total, err = eng.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), total)
}

func TestSearch_UncachedFilterAndTextCombine(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	uow := eng.Begin()
	require.NoError(t, uow.Enqueue("Order", "1", work.KindAdd, map[string]string{"item": "lamp", "status": "open"}))
	require.NoError(t, uow.Enqueue("Order", "2", work.KindAdd, map[string]string{"item": "lamp", "status": "closed"}))
	require.NoError(t, uow.Enqueue("Order", "3", work.KindAdd, map[string]string{"item": "desk", "status": "open"}))
	require.NoError(t, uow.Commit(ctx))

	hits, total, err := eng.Search(ctx, Request{
		Index:   "orders",
		Field:   "item",
		Text:    "lamp",
		Filters: []Filter{{Name: "status", Value: "open"}},
	})

	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
	assert.Equal(t, "1", hits[0].Identifier)
	assert.Zero(t, eng.State().FilterCache().Len())

	_, total, err = eng.Search(ctx, Request{Index: "orders", Filters: []Filter{{Name: "status", Value: "lost"}}})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSearch_UnknownFilter(t *testing.T) {
	eng, _ := newEngine(t)

	_, _, err := eng.Search(context.Background(), Request{Index: "books", Filters: []Filter{{Name: "color", Value: "red"}}})

	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeInvalidInput, ierrors.GetCode(err))
}

func TestFacet_CountsMatchingDocumentsPerRange(t *testing.T) {
	// Given: orders with numeric totals, one of them unparseable
	eng, _ := newEngine(t)
	ctx := context.Background()
	uow := eng.Begin()
	for id, f := range map[string]map[string]string{
		"1": {"item": "lamp", "status": "open", "total": "5"},
		"2": {"item": "lamp", "status": "open", "total": "10"},
		"3": {"item": "lamp", "status": "closed", "total": "15"},
		"4": {"item": "desk", "status": "open", "total": "20"},
		"5": {"item": "lamp", "status": "open", "total": "n/a"},
	} {
		require.NoError(t, uow.Enqueue("Order", id, work.KindAdd, f))
	}
	require.NoError(t, uow.Commit(ctx))

	// When: counting every order by total
	counts, err := eng.Facet(ctx, Request{Index: "orders"}, "total", "0..10", "0..<10", "11..100")

	// Then: bounds are honored and the bad value is skipped
	require.NoError(t, err)
	assert.Equal(t, []FacetCount{
		{Range: "[0, 10]", Count: 2},
		{Range: "[0, 10)", Count: 1},
		{Range: "[11, 100]", Count: 2},
	}, counts)

	// When: restricting to open lamps
	counts, err = eng.Facet(ctx, Request{
		Index:   "orders",
		Field:   "item",
		Text:    "lamp",
		Filters: []Filter{{Name: "status", Value: "open"}},
	}, "total", "0..100")

	// Then: only matching documents are counted
	require.NoError(t, err)
	assert.Equal(t, 2, counts[0].Count)

	// When: the filter admits nothing
	counts, err = eng.Facet(ctx, Request{Index: "orders", Filters: []Filter{{Name: "status", Value: "lost"}}}, "total", "0..100")

	// Then: every range is reported empty
	require.NoError(t, err)
	assert.Equal(t, []FacetCount{{Range: "[0, 100]", Count: 0}}, counts)
}

func TestFacet_UsesConfiguredComparison(t *testing.T) {
	// Given: an order total above 2^53
	eng, _ := newEngine(t)
	ctx := context.Background()
	uow := eng.Begin()
	require.NoError(t, uow.Enqueue("Order", "1", work.KindAdd, map[string]string{"total": "9007199254740993"}))
	require.NoError(t, uow.Commit(ctx))
	narrow := "9007199254740992..9007199254740992"

	// When: comparing exactly
	counts, err := eng.Facet(ctx, Request{Index: "orders"}, "total", narrow)

	// Then: the value is outside the single-value range
	require.NoError(t, err)
	assert.Zero(t, counts[0].Count)

	// When: switching to float64 comparison
	_, err = eng.Reconfigure(func(b *factory.Builder) {
		b.WithProperty(PropFacetComparison, "float64")
	})
	require.NoError(t, err)
	counts, err = eng.Facet(ctx, Request{Index: "orders"}, "total", narrow)

	// Then: precision loss makes it fall inside
	require.NoError(t, err)
	assert.Equal(t, 1, counts[0].Count)
}

func TestFacet_RejectsMalformedRange(t *testing.T) {
	eng, _ := newEngine(t)

	_, err := eng.Facet(context.Background(), Request{Index: "orders"}, "total", "10-20")
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeInvalidInput, ierrors.GetCode(err))

	_, err = eng.Facet(context.Background(), Request{Index: "orders"}, "total", "1..2.5")
	require.NoError(t, err)
}

func TestEngine_MassIndexerRebuildsBoundTypes(t *testing.T) {
	// Given: stored books and an index with a stale one
	eng, reg := newEngine(t)
	ctx := context.Background()
	es, err := store.OpenEntityStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = es.Close() })
	for id := int64(1); id <= 5; id++ {
		require.NoError(t, es.Save(ctx, store.Entity{Type: "Book", ID: id, Fields: map[string]string{"title": "book"}}))
	}
	uow := eng.Begin()
	require.NoError(t, uow.Enqueue("Book", "99", work.KindAdd, nil))
	require.NoError(t, uow.Commit(ctx))

	// When: rebuilding books through the engine
	mi, err := eng.MassIndexer(es, nil, massindex.Options{BatchSize: 2}, "Book")
	require.NoError(t, err)
	res, err := mi.StartAndWait(ctx)

	// Then: the index mirrors the store
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res.Count("Book"))
	assert.Equal(t, uint64(5), count(t, reg, "books", store.ClassTerm("Book")))

	_, err = eng.MassIndexer(es, nil, massindex.Options{}, "Invoice")
	assert.ErrorIs(t, err, ierrors.ErrUnknownEntityBinding)
}
