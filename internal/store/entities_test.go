package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntityStore(t *testing.T) *EntityStore {
	t.Helper()
	es, err := OpenEntityStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func seed(t *testing.T, es *EntityStore, entityType string, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, es.Save(context.Background(), Entity{Type: entityType, ID: id, Fields: map[string]string{"n": "x"}}))
	}
}

func TestEntityStore_KeyRangeAndCount(t *testing.T) {
	// Given: books with sparse ids
	es := newEntityStore(t)
	seed(t, es, "Book", 3, 10, 7)
	seed(t, es, "Author", 100)
	ctx := context.Background()

	// When: reading the key range
	lo, hi, ok, err := es.KeyRange(ctx, "Book")

	// Then: bounds and count match
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), lo)
	assert.Equal(t, int64(10), hi)
	n, err := es.Count(ctx, "Book")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, _, ok, err = es.KeyRange(ctx, "Missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntityStore_StreamRangeIsHalfOpenAndOrdered(t *testing.T) {
	es := newEntityStore(t)
	seed(t, es, "Book", 5, 1, 3, 4, 2)

	var got []int64
	err := es.StreamRange(context.Background(), "Book", 2, 5, func(e Entity) error {
		got = append(got, e.ID)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4}, got)
}

func TestEntityStore_StreamRangeSkipsDeletedRows(t *testing.T) {
	es := newEntityStore(t)
	seed(t, es, "Book", 1, 2, 3)
	require.NoError(t, es.Delete(context.Background(), "Book", 2))

	var got []int64
	require.NoError(t, es.StreamRange(context.Background(), "Book", 1, 4, func(e Entity) error {
		got = append(got, e.ID)
		return nil
	}))

	assert.Equal(t, []int64{1, 3}, got)
}

func TestEntityStore_SaveUpsertsAndGet(t *testing.T) {
	es := newEntityStore(t)
	ctx := context.Background()
	require.NoError(t, es.Save(ctx, Entity{Type: "Book", ID: 1, Fields: map[string]string{"title": "Dune"}}))
	require.NoError(t, es.Save(ctx, Entity{Type: "Book", ID: 1, Fields: map[string]string{"title": "Emma"}}))

	e, ok, err := es.Get(ctx, "Book", 1)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Emma", e.Fields["title"])
	types, err := es.Types(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Book"}, types)
}

func TestEntityStore_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "entities.db")
	es, err := OpenEntityStore(path)
	require.NoError(t, err)
	seed(t, es, "Book", 1)
	require.NoError(t, es.Close())

	reopened, err := OpenEntityStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.Count(context.Background(), "Book")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEntityStore_WorksWithCgoDriver(t *testing.T) {
	es, err := OpenEntityStoreWithDriver("sqlite3", ":memory:")
	if err != nil && strings.Contains(err.Error(), "cgo") {
		t.Skip("go-sqlite3 requires cgo")
	}
	require.NoError(t, err)
	defer es.Close()

	seed(t, es, "Book", 1, 2)
	lo, hi, ok, err := es.KeyRange(context.Background(), "Book")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, [2]int64{1, 2}, [2]int64{lo, hi})
}
