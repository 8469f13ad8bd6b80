package work

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustItem(t *testing.T, kind Kind, entityType, id string) Item {
	t.Helper()
	var fields map[string]string
	if kind == KindAdd || kind == KindUpdate {
		fields = map[string]string{"id": id}
	}
	item, err := NewItem(kind, entityType, id, fields)
	require.NoError(t, err)
	return item
}

func describe(items []Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.String()
	}
	return out
}

func TestQueue_PreservesSubmissionOrder(t *testing.T) {
	// Given: a queue with no redundant items
	q := NewQueue("books")
	require.NoError(t, q.Add(
		mustItem(t, KindAdd, "Book", "3"),
		mustItem(t, KindDelete, "Book", "1"),
		mustItem(t, KindUpdate, "Author", "9"),
		mustItem(t, KindAdd, "Book", "2"),
	))

	// When: sealing
	q.Seal()

	// Then: items come back exactly as submitted
	assert.Equal(t, []string{"ADD(Book#3)", "DELETE(Book#1)", "UPDATE(Author#9)", "ADD(Book#2)"}, describe(q.Items()))
}

func TestQueue_SealedRejectsAppends(t *testing.T) {
	q := NewQueue("books")
	q.Seal()

	err := q.Add(mustItem(t, KindAdd, "Book", "1"))

	assert.ErrorIs(t, err, ErrQueueSealed)
	assert.True(t, q.Sealed())
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		name  string
		items [][3]string
		want  []string
	}{
		{
			name:  "delete cancels earlier writes",
			items: [][3]string{{"ADD", "Book", "1"}, {"UPDATE", "Book", "1"}, {"DELETE", "Book", "1"}},
			want:  []string{"DELETE(Book#1)"},
		},
		{
			name:  "delete then add keeps both",
			items: [][3]string{{"DELETE", "Book", "1"}, {"ADD", "Book", "1"}},
			want:  []string{"DELETE(Book#1)", "ADD(Book#1)"},
		},
		{
			name:  "purge cancels update of same key only",
			items: [][3]string{{"UPDATE", "Book", "1"}, {"UPDATE", "Book", "2"}, {"PURGE", "Book", "1"}},
			want:  []string{"UPDATE(Book#2)", "PURGE(Book#1)"},
		},
		{
			name:  "purge all discards earlier items of its type",
			items: [][3]string{{"ADD", "Book", "1"}, {"ADD", "Author", "1"}, {"DELETE", "Book", "2"}, {"PURGE_ALL", "Book", ""}, {"ADD", "Book", "3"}},
			want:  []string{"ADD(Author#1)", "PURGE_ALL(Book)", "ADD(Book#3)"},
		},
		{
			name:  "repeated purge all collapses",
			items: [][3]string{{"PURGE_ALL", "Book", ""}, {"PURGE_ALL", "Book", ""}},
			want:  []string{"PURGE_ALL(Book)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]Item, len(tt.items))
			for i, row := range tt.items {
				kind, err := ParseKind(row[0])
				require.NoError(t, err)
				items[i] = mustItem(t, kind, row[1], row[2])
			}

			got := Coalesce(items)

			assert.Equal(t, tt.want, describe(got))
			assert.Equal(t, tt.want, describe(Coalesce(got)), "coalescing is idempotent")
		})
	}
}

func TestQueue_ConcurrentAdds(t *testing.T) {
	q := NewQueue("books")
	item := mustItem(t, KindOptimize, "", "")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = q.Add(item)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, q.Len())
}

func TestQueue_MonitorDefaultsToNop(t *testing.T) {
	q := NewQueue("books", WithStateSnapshot(3))

	assert.Equal(t, NopMonitor{}, q.Monitor())
	assert.Equal(t, uint64(3), q.StateSnapshot())
	assert.NotEmpty(t, q.ID())
}
