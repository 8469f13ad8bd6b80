package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/index/scorch/mergeplan"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/gofrs/flock"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
)

// deletePageSize bounds the hits fetched per query while resolving a
// delete-by-terms against committed documents.
const deletePageSize = 1000

// Options configures an index writer session.
type Options struct {
	// Name is the logical index name, used in logs and errors.
	Name string

	// Path is the bleve index directory. Empty means in-memory.
	Path string

	// DefaultAnalyzer applies to fields without an explicit binding.
	DefaultAnalyzer string

	// FieldAnalyzers binds field names to analyzer names.
	FieldAnalyzers map[string]string

	// LockRetry controls waiting for a writer lock held by another process.
	// Zero value fails on the first attempt.
	LockRetry ierrors.RetryConfig

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Session is the single writer of one index. Every mutation goes through
// Apply, which serializes callers; changes become visible to searches on
// Commit.
type Session struct {
	name   string
	path   string
	idx    bleve.Index
	lock   *flock.Flock
	logger *slog.Logger

	mu       sync.Mutex
	ops      []op
	pending  map[string]pendingDoc
	optimize bool
	closed   bool
	onCommit []func()
}

type op struct {
	id     string
	doc    Document
	delete bool
}

type pendingDoc struct {
	doc     Document
	present bool
}

// Open opens or creates the index described by opts and acquires its
// writer lock.
func Open(ctx context.Context, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	im, err := buildMapping(opts.DefaultAnalyzer, opts.FieldAnalyzers)
	if err != nil {
		return nil, ierrors.ConfigError("index "+opts.Name+": "+err.Error(), err)
	}

	s := &Session{
		name:    opts.Name,
		path:    opts.Path,
		logger:  logger.With(slog.String("index", opts.Name)),
		pending: make(map[string]pendingDoc),
	}

	if opts.Path == "" {
		s.idx, err = bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory index %s: %w", opts.Name, err)
		}
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, ierrors.New(ierrors.ErrCodeFilePermission, "failed to create index directory", err)
	}

	s.lock = flock.New(opts.Path + ".lock")
	err = ierrors.Retry(ctx, opts.LockRetry, func() error {
		locked, err := s.lock.TryLock()
		if err != nil {
			return ierrors.New(ierrors.ErrCodeFilePermission, "failed to lock index "+opts.Name, err)
		}
		if !locked {
			return ierrors.New(ierrors.ErrCodeWriterLocked, "index "+opts.Name+" is locked by another writer", nil).
				WithSuggestion("stop the other indexsync process or wait for it to finish")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.idx, err = openOrCreate(opts.Path, im, s.logger)
	if err != nil {
		_ = s.lock.Unlock()
		return nil, err
	}
	return s, nil
}

// openOrCreate opens an on-disk index, clearing and recreating it when its
// metadata is unreadable. A cleared index needs a mass index run.
func openOrCreate(path string, im mapping.IndexMapping, logger *slog.Logger) (bleve.Index, error) {
	if validErr := validateIndexIntegrity(path); validErr != nil {
		logger.Warn("index_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, ierrors.New(ierrors.ErrCodeCorruptIndex, "index corrupted and cannot be removed", err).
				WithDetail("path", path)
		}
		logger.Info("index_cleared",
			slog.String("path", path),
			slog.String("reason", "corruption detected, run reindex"))
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, im)
	} else if err != nil && isCorruptionError(err) {
		logger.Warn("index_open_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, ierrors.New(ierrors.ErrCodeCorruptIndex, "index corrupted and cannot be removed", removeErr)
		}
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeCorruptIndex, "failed to open index at "+path, err)
	}
	return idx, nil
}

// validateIndexIntegrity checks index_meta.json of an existing index.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// Name returns the index name.
func (s *Session) Name() string { return s.name }

// OnCommit registers fn to run after every successful commit.
func (s *Session) OnCommit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = append(s.onCommit, fn)
}

// Apply runs fn with exclusive access to the writer. If fn fails, the
// changes it recorded are discarded; changes recorded by earlier calls stay
// pending.
func (s *Session) Apply(ctx context.Context, fn func(w *Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ierrors.New(ierrors.ErrCodeBackendClosed, "index "+s.name+" is closed", nil)
	}

	mark, optimize := len(s.ops), s.optimize
	w := &Writer{s: s, ctx: ctx}
	err := fn(w)
	w.done = true
	if err != nil {
		s.rollbackTo(mark)
		s.optimize = optimize
		return err
	}
	return nil
}

// rollbackTo drops ops recorded after mark. Must be called with mu held.
func (s *Session) rollbackTo(mark int) {
	if mark >= len(s.ops) {
		return
	}
	s.ops = s.ops[:mark]
	s.pending = make(map[string]pendingDoc, len(s.ops))
	for _, o := range s.ops {
		s.pending[o.id] = pendingDoc{doc: o.doc, present: !o.delete}
	}
}

// Pending returns the number of recorded, uncommitted operations.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

// Rollback discards every uncommitted operation.
func (s *Session) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbackTo(0)
	s.optimize = false
}

// Commit applies pending operations as one batch, then runs a requested
// optimization.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ierrors.New(ierrors.ErrCodeBackendClosed, "index "+s.name+" is closed", nil)
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	if s.optimize {
		s.optimize = false
		if err := s.optimizeLocked(ctx); err != nil {
			return err
		}
	}
	for _, fn := range s.onCommit {
		fn()
	}
	return nil
}

func (s *Session) flushLocked() error {
	if len(s.ops) == 0 {
		return nil
	}

	// Every op replaces or removes a whole document, so applying only the
	// last op per id is equivalent to applying all of them in order.
	last := make(map[string]int, len(s.pending))
	for i, o := range s.ops {
		last[o.id] = i
	}

	batch := s.idx.NewBatch()
	for i, o := range s.ops {
		if last[o.id] != i {
			continue
		}
		if o.delete {
			batch.Delete(o.id)
			continue
		}
		if err := batch.Index(o.id, o.doc.source()); err != nil {
			s.rollbackTo(0)
			return ierrors.New(ierrors.ErrCodeIndexCommit, "failed to index document "+o.id, err).
				WithDetail("index", s.name)
		}
	}

	count := len(s.ops)
	s.rollbackTo(0)
	if err := s.idx.Batch(batch); err != nil {
		return ierrors.New(ierrors.ErrCodeIndexCommit, "failed to commit index "+s.name, err).
			WithDetail("index", s.name)
	}

	s.logger.Debug("index_committed", slog.Int("operations", count))
	return nil
}

type forceMerger interface {
	ForceMerge(ctx context.Context, mo *mergeplan.MergePlanOptions) error
}

func (s *Session) optimizeLocked(ctx context.Context) error {
	// In-memory indexes have no segments on disk to compact.
	if s.path == "" {
		return nil
	}
	adv, err := s.idx.Advanced()
	if err != nil {
		return ierrors.New(ierrors.ErrCodeIndexCommit, "failed to access index internals", err)
	}
	fm, ok := adv.(forceMerger)
	if !ok {
		s.logger.Info("index_optimize_unsupported")
		return nil
	}
	if err := fm.ForceMerge(ctx, &mergeplan.SingleSegmentMergePlanOptions); err != nil {
		return ierrors.IndexMutationFailure("", "unable to optimize index "+s.name, err)
	}
	s.logger.Info("index_optimized")
	return nil
}

// Close commits nothing: pending operations are discarded.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if n := len(s.ops); n > 0 {
		s.logger.Warn("index_closed_with_pending", slog.Int("operations", n))
	}
	s.rollbackTo(0)

	err := s.idx.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}
	return err
}

// matchCommitted returns ids of committed documents satisfying every term.
// Must be called with mu held.
func (s *Session) matchCommitted(ctx context.Context, terms []Term) ([]string, error) {
	var ids []string
	q := termsQuery(terms)
	for from := 0; ; from += deletePageSize {
		req := bleve.NewSearchRequestOptions(q, deletePageSize, from, false)
		req.SortBy([]string{"_id"})
		res, err := s.idx.SearchInContext(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < deletePageSize {
			return ids, nil
		}
	}
}

func termsQuery(terms []Term) query.Query {
	if len(terms) == 0 {
		return bleve.NewMatchAllQuery()
	}
	queries := make([]query.Query, len(terms))
	for i, t := range terms {
		tq := bleve.NewTermQuery(t.Value)
		tq.SetField(t.Field)
		queries[i] = tq
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewConjunctionQuery(queries...)
}
