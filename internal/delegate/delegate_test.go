package delegate

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/work"
)

type recordingWriter struct {
	calls []string
	err   error
}

func (r *recordingWriter) AddDocument(doc store.Document) error {
	r.calls = append(r.calls, "add "+doc.ID())
	return r.err
}

func (r *recordingWriter) DeleteByTerms(terms ...store.Term) (int, error) {
	call := "delete"
	for _, t := range terms {
		call += " " + t.Field + "=" + t.Value
	}
	r.calls = append(r.calls, call)
	return 1, r.err
}

func (r *recordingWriter) RequestOptimize() error {
	r.calls = append(r.calls, "optimize")
	return r.err
}

func item(t *testing.T, kind work.Kind, entityType, id string) work.Item {
	t.Helper()
	it, err := work.NewItem(kind, entityType, id, map[string]string{"title": "Dune"})
	require.NoError(t, err)
	return it
}

func TestPerform_DispatchesByKind(t *testing.T) {
	tests := []struct {
		kind  work.Kind
		id    string
		calls []string
	}{
		{work.KindAdd, "1", []string{"add Book#1"}},
		{work.KindUpdate, "1", []string{"delete entity_class=Book entity_id=1", "add Book#1"}},
		{work.KindDelete, "1", []string{"delete entity_class=Book entity_id=1"}},
		{work.KindPurge, "1", []string{"delete entity_class=Book entity_id=1"}},
		{work.KindPurgeAll, "", []string{"delete entity_class=Book"}},
		{work.KindOptimize, "", []string{"optimize"}},
	}

	set := NewSet(nil)
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			w := &recordingWriter{}

			err := set.Perform(context.Background(), item(t, tt.kind, "Book", tt.id), w)

			require.NoError(t, err)
			assert.Equal(t, tt.calls, w.calls)
		})
	}
}

func TestPerform_WrapsFailures(t *testing.T) {
	// Given: a writer that fails
	cause := errors.New("segment closed")
	w := &recordingWriter{err: cause}

	// When: purging all books
	err := NewSet(nil).Perform(context.Background(), item(t, work.KindPurgeAll, "Book", ""), w)

	// Then: the failure is an index mutation failure naming the type
	require.Error(t, err)
	assert.True(t, errors.Is(err, ierrors.ErrIndexMutation))
	assert.ErrorIs(t, err, cause)
	ie, ok := ierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "Book", ie.Details["entity_type"])
	assert.Contains(t, ie.Message, "unable to purge all from index: Book")
}

func TestPerform_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &recordingWriter{}

	err := NewSet(nil).Perform(ctx, item(t, work.KindAdd, "Book", "1"), w)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, w.calls)
}

type countingMonitor struct {
	work.NopMonitor
	added atomic.Int64
}

func (m *countingMonitor) DocumentsAdded(n int64) { m.added.Add(n) }

func TestLogWorkDone_CountsDocumentsAdded(t *testing.T) {
	set := NewSet(nil)
	m := &countingMonitor{}

	for _, kind := range work.Kinds() {
		id := "1"
		if kind == work.KindPurgeAll || kind == work.KindOptimize {
			id = ""
		}
		set.LogWorkDone(item(t, kind, "Book", id), m)
	}

	// ADD and UPDATE each produce one document
	assert.Equal(t, int64(2), m.added.Load())
}

type panickingMonitor struct{ work.NopMonitor }

func (panickingMonitor) DocumentsAdded(int64) { panic("monitor exploded") }

func TestLogWorkDone_SwallowsMonitorPanics(t *testing.T) {
	// Given: a monitor that panics and a captured logger
	var buf bytes.Buffer
	set := NewSet(slog.New(slog.NewJSONHandler(&buf, nil)))

	// When: reporting an add
	assert.NotPanics(t, func() {
		set.LogWorkDone(item(t, work.KindAdd, "Book", "1"), panickingMonitor{})
	})

	// Then: the failure was logged as a monitor callback failure
	assert.Contains(t, buf.String(), "monitor_callback_failed")
	assert.Contains(t, buf.String(), ierrors.ErrCodeMonitorCallback)
}

func TestPerform_AgainstRealSession(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, store.Options{Name: "books"})
	require.NoError(t, err)
	defer s.Close()
	set := NewSet(nil)

	// Given: an added book, committed
	require.NoError(t, s.Apply(ctx, func(w *store.Writer) error {
		return set.Perform(ctx, item(t, work.KindAdd, "Book", "1"), w)
	}))
	require.NoError(t, s.Commit(ctx))

	// When: updating it twice in one batch
	require.NoError(t, s.Apply(ctx, func(w *store.Writer) error {
		for i := 0; i < 2; i++ {
			if err := set.Perform(ctx, item(t, work.KindUpdate, "Book", "1"), w); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, s.Commit(ctx))

	// Then: there is still exactly one document
	n, err := s.Count(ctx, store.ClassTerm("Book"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}
