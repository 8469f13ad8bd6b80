package massindex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Aman-CERP/indexsync/internal/async"
	"github.com/Aman-CERP/indexsync/internal/backend"
	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/metrics"
	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/work"
)

// EntitySource is the backing data store a rebuild reads from.
// *store.EntityStore implements it.
type EntitySource interface {
	// KeyRange returns the smallest and largest key of a type; ok is false
	// when the type is empty.
	KeyRange(ctx context.Context, entityType string) (lo, hi int64, ok bool, err error)
	Count(ctx context.Context, entityType string) (int64, error)
	// StreamRange calls fn for each entity with start <= key < end. Rows
	// deleted since KeyRange are absent.
	StreamRange(ctx context.Context, entityType string, start, end int64, fn func(store.Entity) error) error
}

// DocumentBuilder turns an entity into the fields of its document. ok false
// skips the entity.
type DocumentBuilder interface {
	Build(ctx context.Context, e store.Entity) (fields map[string]string, ok bool, err error)
}

// DocumentBuilderFunc adapts a function to DocumentBuilder.
type DocumentBuilderFunc func(ctx context.Context, e store.Entity) (map[string]string, bool, error)

// Build implements DocumentBuilder.
func (f DocumentBuilderFunc) Build(ctx context.Context, e store.Entity) (map[string]string, bool, error) {
	return f(ctx, e)
}

// FieldsBuilder indexes the stored fields of an entity as they are.
var FieldsBuilder = DocumentBuilderFunc(func(_ context.Context, e store.Entity) (map[string]string, bool, error) {
	return e.Fields, true, nil
})

// Resolver returns the index and backend an entity type is written to.
type Resolver func(ctx context.Context, entityType string) (index string, b backend.Backend, err error)

// Options tunes a rebuild.
type Options struct {
	// BatchSize is the width of one key range.
	BatchSize int64
	// Workers bounds the number of batches loaded concurrently.
	Workers int
	// DocumentsPerSecond throttles the rebuild; 0 disables throttling.
	DocumentsPerSecond float64
	// OptimizeOnFinish compacts every touched index at the end.
	OptimizeOnFinish bool
	// DataDir holds the indexing lock used by Start. Empty disables it.
	DataDir string
	// StateSnapshot is recorded on every queue.
	StateSnapshot uint64
	// WorkID stamps every item of the rebuild. Empty generates one per run.
	WorkID string

	Monitor work.ProgressMonitor
	Logger  *slog.Logger
}

// DefaultOptions returns the default tuning.
func DefaultOptions() Options {
	return Options{
		BatchSize: 100,
		Workers:   4,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.Monitor == nil {
		o.Monitor = work.NopMonitor{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// MassIndexer rebuilds the indexes of a set of entity types.
type MassIndexer struct {
	source  EntitySource
	builder DocumentBuilder
	resolve Resolver
	types   []string
	opts    Options
}

// New creates a mass indexer for types. Types are deduplicated.
func New(source EntitySource, builder DocumentBuilder, resolve Resolver, opts Options, types ...string) (*MassIndexer, error) {
	if source == nil || resolve == nil {
		return nil, ierrors.ValidationError("mass indexer requires an entity source and a resolver", nil)
	}
	if len(types) == 0 {
		return nil, ierrors.ValidationError("mass indexer requires at least one entity type", nil)
	}
	if builder == nil {
		builder = FieldsBuilder
	}
	opts.applyDefaults()

	seen := make(map[string]struct{}, len(types))
	var unique []string
	for _, t := range types {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			unique = append(unique, t)
		}
	}
	return &MassIndexer{source: source, builder: builder, resolve: resolve, types: unique, opts: opts}, nil
}

// Types returns the targeted entity types.
func (m *MassIndexer) Types() []string { return append([]string(nil), m.types...) }

// StartAndWait runs the rebuild on the calling goroutine.
func (m *MassIndexer) StartAndWait(ctx context.Context) (*Result, error) {
	return m.run(ctx, nil, nil)
}

// Handle controls a rebuild started with Start.
type Handle struct {
	task   *async.Task
	result atomic.Pointer[Result]
}

// Start runs the rebuild in the background.
func (m *MassIndexer) Start(ctx context.Context) *Handle {
	h := &Handle{}
	h.task = async.NewTask(async.TaskConfig{DataDir: m.opts.DataDir},
		func(ctx context.Context, stop <-chan struct{}, progress *async.Progress) error {
			res, err := m.run(ctx, stop, progress)
			if res != nil {
				h.result.Store(res)
			}
			return err
		})
	h.task.Start(ctx)
	return h
}

// Wait blocks until the rebuild finishes.
func (h *Handle) Wait() (*Result, error) {
	err := h.task.Wait()
	return h.result.Load(), err
}

// Stop lets in-flight batches finish, schedules no new ones and waits.
func (h *Handle) Stop() { h.task.Stop() }

// Progress returns the live progress of the rebuild.
func (h *Handle) Progress() *async.Progress { return h.task.Progress() }

// Done is closed when the rebuild finishes.
func (h *Handle) Done() <-chan struct{} { return h.task.Done() }

type target struct {
	entityType string
	index      string
	backend    backend.Backend
	lo, hi     int64
	nonEmpty   bool
}

type batch struct {
	t          *target
	start, end int64
}

func (m *MassIndexer) run(ctx context.Context, stop <-chan struct{}, progress *async.Progress) (*Result, error) {
	metrics.MassIndexRunning.Inc()
	defer metrics.MassIndexRunning.Dec()

	monitor := m.opts.Monitor
	if progress != nil {
		monitor = work.MultiMonitor{monitor, progress}
	}
	guarded := &guardedMonitor{m: monitor, logger: m.opts.Logger}

	start := time.Now()
	res := newResult(m.types)
	res.WorkID = m.opts.WorkID
	if res.WorkID == "" {
		res.WorkID = uuid.NewString()
	}

	targets, err := m.resolveTargets(ctx)
	if err != nil {
		return nil, err
	}

	if progress != nil {
		progress.SetStage(async.StagePurging)
	}
	if err := m.purge(ctx, targets, res.WorkID); err != nil {
		return nil, err
	}

	if err := m.countTotals(ctx, targets, guarded); err != nil {
		return nil, err
	}

	if progress != nil {
		progress.SetStage(async.StageLoading)
	}
	stopped, err := m.load(ctx, stop, targets, guarded, res)
	if err != nil {
		m.opts.Logger.Error("mass_indexer_failed",
			slog.Int("types", len(m.types)),
			slog.String("error", err.Error()))
		return res, err
	}

	if err := m.finish(ctx, targets, progress, stopped, res.WorkID); err != nil {
		return res, err
	}
	if !stopped {
		guarded.IndexingCompleted()
	}

	res.Duration = time.Since(start)
	res.Stopped = stopped
	m.opts.Logger.Info("mass_indexer_done",
		slog.Int("types", len(m.types)),
		slog.Uint64("documents", res.Total()),
		slog.Bool("stopped", stopped),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func (m *MassIndexer) resolveTargets(ctx context.Context) ([]*target, error) {
	targets := make([]*target, 0, len(m.types))
	for _, entityType := range m.types {
		index, b, err := m.resolve(ctx, entityType)
		if err != nil {
			return nil, err
		}
		targets = append(targets, &target{entityType: entityType, index: index, backend: b})
	}
	return targets, nil
}

// purge commits a PURGE_ALL for every type before any add starts. Flush
// reports a purge that an async backend failed to apply.
func (m *MassIndexer) purge(ctx context.Context, targets []*target, workID string) error {
	for _, t := range targets {
		item, err := work.NewPurgeAll(t.entityType)
		if err != nil {
			return err
		}
		item = item.WithWorkID(workID)
		q := work.NewQueue(t.index, work.WithStateSnapshot(m.opts.StateSnapshot))
		if err := q.Add(item); err != nil {
			return err
		}
		if err := t.backend.Apply(ctx, q); err != nil {
			return err
		}
		if err := t.backend.Flush(ctx); err != nil {
			return err
		}
		m.opts.Logger.Debug("mass_indexer_purged",
			slog.String("entity_type", t.entityType),
			slog.String("index", t.index))
	}
	return nil
}

func (m *MassIndexer) countTotals(ctx context.Context, targets []*target, monitor *guardedMonitor) error {
	for _, t := range targets {
		lo, hi, ok, err := m.source.KeyRange(ctx, t.entityType)
		if err != nil {
			return err
		}
		t.lo, t.hi, t.nonEmpty = lo, hi, ok
		if !ok {
			continue
		}
		n, err := m.source.Count(ctx, t.entityType)
		if err != nil {
			return err
		}
		monitor.AddToTotalCount(n)
	}
	return nil
}

// batches partitions every key range into [start, start+BatchSize) windows.
func (m *MassIndexer) batches(targets []*target) []batch {
	var out []batch
	for _, t := range targets {
		if !t.nonEmpty {
			continue
		}
		for start := t.lo; start <= t.hi; start += m.opts.BatchSize {
			end := start + m.opts.BatchSize
			if end > t.hi || end < start {
				end = t.hi + 1
			}
			out = append(out, batch{t: t, start: start, end: end})
			if end > t.hi {
				break
			}
		}
	}
	return out
}

// load runs every batch on the worker pool. Scheduling stops on the first
// failure or on stop; batches already started run to completion.
func (m *MassIndexer) load(ctx context.Context, stop <-chan struct{}, targets []*target, monitor *guardedMonitor, res *Result) (bool, error) {
	var limiter *rate.Limiter
	if m.opts.DocumentsPerSecond > 0 {
		burst := int(m.opts.BatchSize)
		if int(m.opts.DocumentsPerSecond) > burst {
			burst = int(m.opts.DocumentsPerSecond)
		}
		limiter = rate.NewLimiter(rate.Limit(m.opts.DocumentsPerSecond), burst)
	}

	var g errgroup.Group
	g.SetLimit(m.opts.Workers)

	var failed atomic.Bool
	stopped := false

schedule:
	for _, b := range m.batches(targets) {
		select {
		case <-stop:
			stopped = true
			break schedule
		case <-ctx.Done():
			break schedule
		default:
		}
		if failed.Load() {
			break
		}

		b := b
		g.Go(func() error {
			if err := m.loadBatch(ctx, b, limiter, monitor, res); err != nil {
				failed.Store(true)
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stopped, err
	}
	if err := ctx.Err(); err != nil {
		return stopped, err
	}
	return stopped, nil
}

func (m *MassIndexer) loadBatch(ctx context.Context, b batch, limiter *rate.Limiter, monitor *guardedMonitor, res *Result) error {
	q := work.NewQueue(b.t.index,
		work.WithStateSnapshot(m.opts.StateSnapshot),
		work.WithMonitor(monitor))

	var loaded int64
	var ids []uint64
	err := m.source.StreamRange(ctx, b.t.entityType, b.start, b.end, func(e store.Entity) error {
		loaded++
		fields, ok, err := m.builder.Build(ctx, e)
		if err != nil {
			return ierrors.IndexMutationFailure(e.Type, fmt.Sprintf("unable to build document for %s#%d", e.Type, e.ID), err)
		}
		if !ok {
			return nil
		}
		item, err := work.NewAdd(e.Type, strconv.FormatInt(e.ID, 10), fields)
		if err != nil {
			return err
		}
		ids = append(ids, uint64(e.ID))
		return q.Add(item.WithWorkID(res.WorkID))
	})
	if err != nil {
		return err
	}
	monitor.EntitiesLoaded(loaded)

	if q.Len() == 0 {
		return nil
	}
	if limiter != nil {
		if err := limiter.WaitN(ctx, min(q.Len(), limiter.Burst())); err != nil {
			return err
		}
	}
	if err := b.t.backend.Apply(ctx, q); err != nil {
		return err
	}
	// Keys count as indexed only once the batch is committed.
	if err := b.t.backend.Flush(ctx); err != nil {
		return err
	}

	res.record(b.t.entityType, ids)
	metrics.MassIndexDocuments.WithLabelValues(b.t.entityType).Add(float64(len(ids)))
	m.opts.Logger.Debug("mass_indexer_batch_done",
		slog.String("entity_type", b.t.entityType),
		slog.Int64("start", b.start),
		slog.Int64("end", b.end),
		slog.Int("documents", len(ids)))
	return nil
}

// finish commits every touched backend and optionally compacts it.
func (m *MassIndexer) finish(ctx context.Context, targets []*target, progress *async.Progress, stopped bool, workID string) error {
	byIndex := make(map[string]backend.Backend)
	for _, t := range targets {
		byIndex[t.index] = t.backend
	}
	indexes := make([]string, 0, len(byIndex))
	for index := range byIndex {
		indexes = append(indexes, index)
	}
	sort.Strings(indexes)

	for _, index := range indexes {
		if err := byIndex[index].Flush(ctx); err != nil {
			return err
		}
	}
	if !m.opts.OptimizeOnFinish || stopped {
		return nil
	}

	if progress != nil {
		progress.SetStage(async.StageOptimizing)
	}
	for _, index := range indexes {
		item, err := work.NewOptimize("")
		if err != nil {
			return err
		}
		item = item.WithWorkID(workID)
		q := work.NewQueue(index, work.WithStateSnapshot(m.opts.StateSnapshot))
		if err := q.Add(item); err != nil {
			return err
		}
		if err := byIndex[index].Apply(ctx, q); err != nil {
			return err
		}
		if err := byIndex[index].Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Result reports what a rebuild indexed.
type Result struct {
	// WorkID stamps every item the rebuild produced.
	WorkID   string
	Duration time.Duration
	Stopped  bool

	mu  sync.Mutex
	ids map[string]*roaring64.Bitmap
}

func newResult(types []string) *Result {
	r := &Result{ids: make(map[string]*roaring64.Bitmap, len(types))}
	for _, t := range types {
		r.ids[t] = roaring64.New()
	}
	return r
}

func (r *Result) record(entityType string, ids []uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[entityType].AddMany(ids)
}

// Indexed returns a copy of the keys indexed for entityType.
func (r *Result) Indexed(entityType string) *roaring64.Bitmap {
	r.mu.Lock()
	defer r.mu.Unlock()
	bm, ok := r.ids[entityType]
	if !ok {
		return roaring64.New()
	}
	return bm.Clone()
}

// Count returns the number of documents indexed for entityType.
func (r *Result) Count(entityType string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bm, ok := r.ids[entityType]; ok {
		return bm.GetCardinality()
	}
	return 0
}

// Total returns the number of documents indexed across all types.
func (r *Result) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n uint64
	for _, bm := range r.ids {
		n += bm.GetCardinality()
	}
	return n
}
