package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/indexsync/internal/delegate"
	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/metrics"
	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/work"
)

// LocalOptions configures a Local backend.
type LocalOptions struct {
	// Async applies queues on a dedicated goroutine.
	Async bool

	// QueueSize bounds the queues waiting for the async goroutine.
	QueueSize int

	// CommitInterval and CommitEvery control async commits: whichever
	// comes first of the interval elapsing or CommitEvery queues applied.
	CommitInterval time.Duration
	CommitEvery    int

	// OnError receives failures of queues applied asynchronously. The same
	// failures are also returned by the next Flush.
	OnError func(q *work.Queue, err error)

	Logger *slog.Logger
}

// DefaultLocalOptions returns synchronous options.
func DefaultLocalOptions() LocalOptions {
	return LocalOptions{
		QueueSize:      64,
		CommitInterval: time.Second,
		CommitEvery:    16,
	}
}

func (o *LocalOptions) applyDefaults() {
	d := DefaultLocalOptions()
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.CommitInterval <= 0 {
		o.CommitInterval = d.CommitInterval
	}
	if o.CommitEvery <= 0 {
		o.CommitEvery = d.CommitEvery
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Performer applies single work items; *delegate.Set implements it.
type Performer interface {
	Perform(ctx context.Context, item work.Item, w delegate.Writer) error
	LogWorkDone(item work.Item, m work.ProgressMonitor)
}

// Local applies queues to an index writer session owned by this process.
type Local struct {
	index     string
	session   *store.Session
	delegates Performer
	opts      LocalOptions
	logger    *slog.Logger

	// queueMu makes every queue atomic with respect to the others.
	queueMu sync.Mutex

	mu     sync.RWMutex // guards closed against sends on jobs
	closed bool
	jobs   chan job
	done   chan struct{}

	// closeErr holds failures not yet flushed when run exits.
	closeErr error
}

type job struct {
	q     *work.Queue
	flush chan error
}

// NewLocal creates a backend owning session. Close closes the session.
func NewLocal(index string, session *store.Session, delegates Performer, opts LocalOptions) *Local {
	opts.applyDefaults()
	l := &Local{
		index:     index,
		session:   session,
		delegates: delegates,
		opts:      opts,
		logger:    opts.Logger.With(slog.String("index", index)),
	}
	if opts.Async {
		l.jobs = make(chan job, opts.QueueSize)
		l.done = make(chan struct{})
		go l.run()
	}
	return l
}

// Index returns the index name.
func (l *Local) Index() string { return l.index }

// Async reports whether queues are applied on a dedicated goroutine.
func (l *Local) Async() bool { return l.opts.Async }

// Options returns the options the backend runs with.
func (l *Local) Options() LocalOptions { return l.opts }

// Session returns the index writer session, for read access.
func (l *Local) Session() *store.Session { return l.session }

// Apply implements Backend.
func (l *Local) Apply(ctx context.Context, q *work.Queue) error {
	q.Seal()

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return closedError(l.index)
	}

	if l.opts.Async {
		select {
		case l.jobs <- job{q: q}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.queueMu.Lock()
	defer l.queueMu.Unlock()

	if err := l.applyQueue(ctx, q); err != nil {
		return err
	}
	if err := l.session.Commit(ctx); err != nil {
		return err
	}
	l.logWorkDone(q)
	return nil
}

// applyQueue records every item of q in the session. On failure none of
// the queue's items stay pending.
func (l *Local) applyQueue(ctx context.Context, q *work.Queue) error {
	start := time.Now()
	items := q.Items()

	err := l.session.Apply(ctx, func(w *store.Writer) error {
		for _, item := range items {
			if err := l.delegates.Perform(ctx, item, w); err != nil {
				return err
			}
		}
		return nil
	})

	metrics.ApplyDuration.WithLabelValues(l.index).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.QueuesApplied.WithLabelValues(l.index, "error").Inc()
		l.logger.Warn("backend_queue_failed",
			slog.String("queue", q.ID()),
			slog.Int("items", len(items)),
			slog.String("error", err.Error()))
		return err
	}

	metrics.QueuesApplied.WithLabelValues(l.index, "ok").Inc()
	for _, item := range items {
		metrics.ItemsApplied.WithLabelValues(l.index, item.Kind().String()).Inc()
	}
	l.logger.Debug("backend_queue_applied",
		slog.String("queue", q.ID()),
		slog.Int("items", len(items)))
	return nil
}

func (l *Local) logWorkDone(q *work.Queue) {
	m := q.Monitor()
	for _, item := range q.Items() {
		l.delegates.LogWorkDone(item, m)
	}
}

// maxFlushErrors bounds the failures kept between two flushes.
const maxFlushErrors = 16

// flushErrors collects async failures until the next Flush.
type flushErrors struct {
	errs    []error
	dropped int
}

func (f *flushErrors) add(err error) {
	if len(f.errs) < maxFlushErrors {
		f.errs = append(f.errs, err)
		return
	}
	f.dropped++
}

// take returns the collected failures joined and resets the collector.
func (f *flushErrors) take() error {
	errs := f.errs
	if f.dropped > 0 {
		errs = append(errs, fmt.Errorf("%d more queue failures", f.dropped))
	}
	f.errs, f.dropped = nil, 0
	return errors.Join(errs...)
}

// run is the async applier. Queues are applied in arrival order.
func (l *Local) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.opts.CommitInterval)
	defer ticker.Stop()

	var (
		uncommitted []*work.Queue
		failures    flushErrors
	)
	commit := func() {
		if len(uncommitted) == 0 {
			return
		}
		err := l.session.Commit(context.Background())
		for _, q := range uncommitted {
			if err != nil {
				l.reportError(q, err)
				continue
			}
			l.logWorkDone(q)
		}
		if err != nil {
			failures.add(err)
		}
		uncommitted = uncommitted[:0]
	}

	for {
		select {
		case j, ok := <-l.jobs:
			if !ok {
				commit()
				l.closeErr = failures.take()
				return
			}
			if j.flush != nil {
				commit()
				j.flush <- failures.take()
				continue
			}
			if err := l.applyQueue(context.Background(), j.q); err != nil {
				l.reportError(j.q, err)
				failures.add(err)
				continue
			}
			uncommitted = append(uncommitted, j.q)
			if len(uncommitted) >= l.opts.CommitEvery {
				commit()
			}
		case <-ticker.C:
			commit()
		}
	}
}

func (l *Local) reportError(q *work.Queue, err error) {
	l.logger.LogAttrs(context.Background(), slog.LevelError, "backend_async_queue_failed",
		append(ierrors.LogAttrs(err), slog.String("queue", q.ID()))...)
	if l.opts.OnError != nil {
		l.opts.OnError(q, err)
	}
}

// Flush implements Backend. In async mode it also returns the failures of
// queues applied or committed since the previous Flush.
func (l *Local) Flush(ctx context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return closedError(l.index)
	}

	if !l.opts.Async {
		// Sync queues are committed by Apply; wait for the one in flight.
		l.queueMu.Lock()
		defer l.queueMu.Unlock()
		return nil
	}

	reply := make(chan error, 1)
	select {
	case l.jobs <- job{flush: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements Backend.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	var pending error
	if l.opts.Async {
		close(l.jobs)
		<-l.done
		pending = l.closeErr
	}

	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	return errors.Join(pending, l.session.Close())
}

func closedError(index string) error {
	return ierrors.New(ierrors.ErrCodeBackendClosed, "backend for index "+index+" is closed", nil)
}

var _ Backend = (*Local)(nil)
