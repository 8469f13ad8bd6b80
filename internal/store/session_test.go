package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
)

func newMemSession(t *testing.T) *Session {
	t.Helper()
	s, err := Open(context.Background(), Options{Name: "test", FieldAnalyzers: map[string]string{"symbol": IdentifierAnalyzerName}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func book(id, title string) Document {
	return Document{EntityType: "Book", Identifier: id, Fields: map[string]string{"title": title}}
}

func apply(t *testing.T, s *Session, fn func(w *Writer) error) {
	t.Helper()
	require.NoError(t, s.Apply(context.Background(), fn))
	require.NoError(t, s.Commit(context.Background()))
}

func TestSession_AddIsInvisibleUntilCommit(t *testing.T) {
	// Given: a session with one pending add
	s := newMemSession(t)
	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, func(w *Writer) error {
		return w.AddDocument(book("1", "Dune"))
	}))

	// Then: nothing is searchable yet
	n, err := s.Count(ctx, ClassTerm("Book"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, s.Pending())

	// When: committing
	require.NoError(t, s.Commit(ctx))

	// Then: the document is visible
	n, err = s.Count(ctx, ClassTerm("Book"), IDTerm("1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	assert.Zero(t, s.Pending())
}

func TestSession_DeleteThenAddKeepsOneDocument(t *testing.T) {
	s := newMemSession(t)
	apply(t, s, func(w *Writer) error { return w.AddDocument(book("1", "Dune")) })

	// When: delete and re-add of the same key in one batch
	apply(t, s, func(w *Writer) error {
		if _, err := w.DeleteByTerms(ClassTerm("Book"), IDTerm("1")); err != nil {
			return err
		}
		return w.AddDocument(book("1", "Dune Messiah"))
	})

	// Then: exactly one document, with the new content
	n, err := s.Count(context.Background(), ClassTerm("Book"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	hits, _, err := s.SearchMatch(context.Background(), "title", "messiah", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "1", hits[0].Identifier)
}

func TestSession_AddThenDeleteInSameBatchLeavesNothing(t *testing.T) {
	s := newMemSession(t)

	apply(t, s, func(w *Writer) error {
		if err := w.AddDocument(book("1", "Dune")); err != nil {
			return err
		}
		n, err := w.DeleteByTerms(ClassTerm("Book"), IDTerm("1"))
		assert.Equal(t, 1, n)
		return err
	})

	count, err := s.DocCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSession_PurgeByClassLeavesOtherTypes(t *testing.T) {
	// Given: books and authors
	s := newMemSession(t)
	apply(t, s, func(w *Writer) error {
		for _, d := range []Document{
			book("1", "Dune"), book("2", "Emma"),
			{EntityType: "Author", Identifier: "1", Fields: map[string]string{"name": "Herbert"}},
		} {
			if err := w.AddDocument(d); err != nil {
				return err
			}
		}
		return nil
	})

	// When: deleting by class
	apply(t, s, func(w *Writer) error {
		n, err := w.DeleteByTerms(ClassTerm("Book"))
		assert.Equal(t, 2, n)
		return err
	})

	// Then: only the author remains
	ctx := context.Background()
	books, err := s.Count(ctx, ClassTerm("Book"))
	require.NoError(t, err)
	authors, err := s.Count(ctx, ClassTerm("Author"))
	require.NoError(t, err)
	assert.Zero(t, books)
	assert.Equal(t, uint64(1), authors)
}

func TestSession_FailedApplyDiscardsOnlyItsOwnOps(t *testing.T) {
	s := newMemSession(t)
	ctx := context.Background()

	// Given: one successful apply still pending
	require.NoError(t, s.Apply(ctx, func(w *Writer) error { return w.AddDocument(book("1", "Dune")) }))

	// When: a second apply records an op and then fails
	boom := errors.New("boom")
	err := s.Apply(ctx, func(w *Writer) error {
		if err := w.AddDocument(book("2", "Emma")); err != nil {
			return err
		}
		return boom
	})

	// Then: the failure is returned and only the first op survives
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, s.Pending())
	require.NoError(t, s.Commit(ctx))
	n, err := s.Count(ctx, ClassTerm("Book"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestSession_WriterUnusableAfterApply(t *testing.T) {
	s := newMemSession(t)
	var leaked *Writer
	require.NoError(t, s.Apply(context.Background(), func(w *Writer) error {
		leaked = w
		return nil
	}))

	assert.Error(t, leaked.AddDocument(book("1", "Dune")))
}

func TestSession_RollbackDiscardsPending(t *testing.T) {
	s := newMemSession(t)
	require.NoError(t, s.Apply(context.Background(), func(w *Writer) error {
		if err := w.RequestOptimize(); err != nil {
			return err
		}
		return w.AddDocument(book("1", "Dune"))
	}))

	s.Rollback()

	assert.Zero(t, s.Pending())
}

func TestSession_OnCommitHooksRun(t *testing.T) {
	s := newMemSession(t)
	calls := 0
	s.OnCommit(func() { calls++ })

	apply(t, s, func(w *Writer) error { return w.AddDocument(book("1", "Dune")) })

	assert.Equal(t, 1, calls)
}

func TestSession_IdentifierAnalyzer(t *testing.T) {
	s := newMemSession(t)
	apply(t, s, func(w *Writer) error {
		return w.AddDocument(Document{EntityType: "Symbol", Identifier: "1", Fields: map[string]string{"symbol": "parseHTTPRequest"}})
	})

	hits, total, err := s.SearchMatch(context.Background(), "symbol", "http", 10)

	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
	assert.Equal(t, "Symbol#1", hits[0].ID)
}

func TestOpen_RejectsUnknownAnalyzer(t *testing.T) {
	_, err := Open(context.Background(), Options{Name: "bad", FieldAnalyzers: map[string]string{"title": "klingon"}})

	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeConfigInvalid, ierrors.GetCode(err))
}

func TestOpen_OnDiskWriterLockIsExclusive(t *testing.T) {
	// Given: an on-disk session holding the writer lock
	path := filepath.Join(t.TempDir(), "books")
	first, err := Open(context.Background(), Options{Name: "books", Path: path})
	require.NoError(t, err)

	// When: a second writer opens the same index
	_, err = Open(context.Background(), Options{Name: "books", Path: path})

	// Then: it is refused
	assert.True(t, errors.Is(err, ierrors.ErrWriterLocked))

	// And: the index reopens after the first writer closes
	apply(t, first, func(w *Writer) error { return w.AddDocument(book("1", "Dune")) })
	require.NoError(t, first.Close())
	second, err := Open(context.Background(), Options{Name: "books", Path: path})
	require.NoError(t, err)
	defer second.Close()
	n, err := second.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestSession_OptimizeOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books")
	s, err := Open(context.Background(), Options{Name: "books", Path: path})
	require.NoError(t, err)
	defer s.Close()

	apply(t, s, func(w *Writer) error {
		if err := w.AddDocument(book("1", "Dune")); err != nil {
			return err
		}
		return w.RequestOptimize()
	})

	n, err := s.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestSession_ClosedRejectsWork(t *testing.T) {
	s, err := Open(context.Background(), Options{Name: "test"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Apply(context.Background(), func(w *Writer) error { return nil })

	assert.True(t, errors.Is(err, ierrors.ErrBackendClosed))
	assert.NoError(t, s.Close())
}

func TestDocumentID_RoundTrip(t *testing.T) {
	entityType, id := SplitDocumentID(DocumentID("Book", "12"))

	assert.Equal(t, "Book", entityType)
	assert.Equal(t, "12", id)

	// Identifiers may contain the separator; types may not.
	entityType, id = SplitDocumentID(DocumentID("Book", "isbn#12"))
	assert.Equal(t, "Book", entityType)
	assert.Equal(t, "isbn#12", id)
}

func TestWriter_RejectsTypeContainingSeparator(t *testing.T) {
	// Given: a document whose type would corrupt its id
	s := newMemSession(t)
	doc := Document{EntityType: "Book#Draft", Identifier: "1"}

	// When: adding it
	err := s.Apply(context.Background(), func(w *Writer) error {
		return w.AddDocument(doc)
	})

	// Then: the write is refused and nothing is pending
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeInvalidInput, ierrors.GetCode(err))
	assert.Zero(t, s.Pending())
}
