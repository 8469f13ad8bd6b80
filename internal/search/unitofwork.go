package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/factory"
	"github.com/Aman-CERP/indexsync/internal/work"
)

// ErrUnitOfWorkClosed is returned when using a unit of work after Commit or
// Rollback.
var ErrUnitOfWorkClosed = ierrors.New(ierrors.ErrCodeQueueSealed, "unit of work is closed", nil)

// UnitOfWork collects the mutations of one transaction and dispatches them
// on Commit, one queue per index. It is single use.
type UnitOfWork struct {
	state  *factory.State
	workID string
	logger *slog.Logger

	mu      sync.Mutex
	queues  map[string]*work.Queue
	order   []string
	monitor work.ProgressMonitor
	closed  bool
}

func newUnitOfWork(state *factory.State, logger *slog.Logger) *UnitOfWork {
	return &UnitOfWork{
		state:  state,
		workID: uuid.NewString(),
		logger: logger,
		queues: make(map[string]*work.Queue),
	}
}

// ID returns the work id stamped on every item.
func (u *UnitOfWork) ID() string { return u.workID }

// Generation returns the generation of the state the unit of work uses.
func (u *UnitOfWork) Generation() uint64 { return u.state.Generation() }

// SetMonitor attaches m to the queues created from now on.
func (u *UnitOfWork) SetMonitor(m work.ProgressMonitor) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.monitor = m
}

// Enqueue records a mutation intent.
func (u *UnitOfWork) Enqueue(entityType, identifier string, kind work.Kind, fields map[string]string) error {
	index, err := u.state.IndexFor(entityType)
	if err != nil {
		return err
	}
	item, err := work.NewItem(kind, entityType, identifier, fields)
	if err != nil {
		return err
	}
	item = item.WithWorkID(u.workID)

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrUnitOfWorkClosed
	}
	q, ok := u.queues[index]
	if !ok {
		opts := []work.QueueOption{work.WithStateSnapshot(u.state.Generation())}
		if u.monitor != nil {
			opts = append(opts, work.WithMonitor(u.monitor))
		}
		q = work.NewQueue(index, opts...)
		u.queues[index] = q
		u.order = append(u.order, index)
	}
	return q.Add(item)
}

// Commit seals and dispatches every queue in the order their indexes were
// first touched. A failing index does not prevent the others from being
// dispatched; all failures are returned joined.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrUnitOfWorkClosed
	}
	u.closed = true
	queues := make([]*work.Queue, 0, len(u.order))
	for _, index := range u.order {
		queues = append(queues, u.queues[index])
	}
	u.mu.Unlock()

	var errs []error
	for _, q := range queues {
		b, err := u.state.IndexManagers().Get(ctx, q.Index())
		if err == nil {
			err = b.Apply(ctx, q)
		}
		if err != nil {
			u.logger.LogAttrs(ctx, slog.LevelWarn, "unit_of_work_dispatch_failed",
				append(ierrors.LogAttrs(err),
					slog.String("work_id", u.workID),
					slog.String("index", q.Index()))...)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Rollback discards every recorded mutation.
func (u *UnitOfWork) Rollback() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	u.queues = nil
	u.order = nil
}

// Len returns the number of recorded items, before coalescing.
func (u *UnitOfWork) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, q := range u.queues {
		n += q.Len()
	}
	return n
}
