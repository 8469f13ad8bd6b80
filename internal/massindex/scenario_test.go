package massindex

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/work"
)

// rootBuilder embeds the referenced Leaf and its collection items into the
// Root document.
func rootBuilder(es *store.EntityStore) DocumentBuilder {
	return DocumentBuilderFunc(func(ctx context.Context, root store.Entity) (map[string]string, bool, error) {
		fields := map[string]string{"name": root.Fields["name"]}
		leafID, err := strconv.ParseInt(root.Fields["leaf_id"], 10, 64)
		if err != nil {
			return fields, true, nil
		}
		leaf, ok, err := es.Get(ctx, "Leaf", leafID)
		if err != nil || !ok {
			return fields, true, err
		}
		var values []string
		err = es.StreamRange(ctx, "CollectionItem", 0, 1<<62, func(item store.Entity) error {
			if item.Fields["leaf_id"] == strconv.FormatInt(leaf.ID, 10) {
				values = append(values, item.Fields["value"])
			}
			return nil
		})
		if err != nil {
			return nil, false, err
		}
		fields["leaf_items"] = strings.Join(values, " ")
		return fields, true, nil
	})
}

func TestScenario_RootLeafCollectionItem(t *testing.T) {
	// Given: a Leaf with one CollectionItem and a Root named "name" referencing it
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.entities.Save(ctx, store.Entity{Type: "Leaf", ID: 1, Fields: map[string]string{}}))
	require.NoError(t, e.entities.Save(ctx, store.Entity{Type: "CollectionItem", ID: 1, Fields: map[string]string{"leaf_id": "1", "value": "item"}}))
	require.NoError(t, e.entities.Save(ctx, store.Entity{Type: "Root", ID: 1, Fields: map[string]string{"name": "name", "leaf_id": "1"}}))

	root, ok, err := e.entities.Get(ctx, "Root", 1)
	require.NoError(t, err)
	require.True(t, ok)
	builder := rootBuilder(e.entities)
	fields, _, err := builder.Build(ctx, root)
	require.NoError(t, err)
	item, err := work.NewAdd("Root", "1", fields)
	require.NoError(t, err)
	q := work.NewQueue("catalog")
	require.NoError(t, q.Add(item))
	require.NoError(t, e.local.Apply(ctx, q))

	hits, total, err := e.session.SearchMatch(ctx, "name", "name", 10)
	require.NoError(t, err)
	require.Equal(t, uint64(1), total)
	assert.Equal(t, "Root", hits[0].EntityType)

	// When: mass indexing Root
	mi, err := New(e.entities, builder, e.resolver(), Options{}, "Root")
	require.NoError(t, err)
	_, err = mi.StartAndWait(ctx)
	require.NoError(t, err)

	// Then: the same query still returns exactly one result
	hits, total, err = e.session.SearchMatch(ctx, "name", "name", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
	assert.Equal(t, "1", hits[0].Identifier)

	_, total, err = e.session.SearchMatch(ctx, "leaf_items", "item", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
}
