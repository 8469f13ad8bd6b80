package work

import (
	"sync"

	"github.com/google/uuid"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
)

// ErrQueueSealed is returned when appending to a queue that was already sealed.
var ErrQueueSealed = ierrors.New(ierrors.ErrCodeQueueSealed, "work queue is sealed", nil)

// Queue is the ordered list of items one unit of work produced for one index.
//
// A queue is appended to until Seal is called; afterwards it is read-only and
// may be shared between goroutines.
type Queue struct {
	id            string
	index         string
	stateSnapshot uint64
	monitor       ProgressMonitor

	mu     sync.Mutex
	items  []Item
	sealed bool
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithMonitor attaches a progress monitor; it is not serialized.
func WithMonitor(m ProgressMonitor) QueueOption {
	return func(q *Queue) {
		q.monitor = m
	}
}

// WithStateSnapshot records the generation of the factory state the queue
// was created against.
func WithStateSnapshot(generation uint64) QueueOption {
	return func(q *Queue) {
		q.stateSnapshot = generation
	}
}

// WithID overrides the generated queue id.
func WithID(id string) QueueOption {
	return func(q *Queue) {
		q.id = id
	}
}

// NewQueue creates an open queue targeting index.
func NewQueue(index string, opts ...QueueOption) *Queue {
	q := &Queue{
		id:    uuid.NewString(),
		index: index,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ID returns the queue id.
func (q *Queue) ID() string { return q.id }

// Index returns the name of the index the queue targets.
func (q *Queue) Index() string { return q.index }

// StateSnapshot returns the factory state generation captured at creation.
func (q *Queue) StateSnapshot() uint64 { return q.stateSnapshot }

// Monitor returns the attached monitor, or a no-op monitor.
func (q *Queue) Monitor() ProgressMonitor {
	if q.monitor == nil {
		return NopMonitor{}
	}
	return q.monitor
}

// Add appends items in order.
func (q *Queue) Add(items ...Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed {
		return ErrQueueSealed
	}
	q.items = append(q.items, items...)
	return nil
}

// Seal coalesces the queue and makes it read-only. Sealing twice is a no-op.
func (q *Queue) Seal() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed {
		return
	}
	q.items = Coalesce(q.items)
	q.sealed = true
}

// Sealed reports whether Seal was called.
func (q *Queue) Sealed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sealed
}

// Items returns a copy of the items in submission order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Coalesce drops items made redundant by later items in the same list:
//
//	ADD/UPDATE  + DELETE/PURGE (same key) = DELETE/PURGE
//	anything    + PURGE_ALL (same type)   = PURGE_ALL
//
// A delete is never dropped, since the document may already be in the
// index. Surviving items keep their relative order.
func Coalesce(items []Item) []Item {
	if len(items) < 2 {
		return append([]Item(nil), items...)
	}

	dropped := make([]bool, len(items))
	writes := make(map[Key][]int)
	byType := make(map[string][]int)

	for i, item := range items {
		switch {
		case item.kind.writes():
			writes[item.Key()] = append(writes[item.Key()], i)
		case item.kind.deletes():
			for _, j := range writes[item.Key()] {
				dropped[j] = true
			}
			delete(writes, item.Key())
		case item.kind == KindPurgeAll:
			for _, j := range byType[item.entityType] {
				dropped[j] = true
			}
			byType[item.entityType] = nil
			for k := range writes {
				if k.EntityType == item.entityType {
					delete(writes, k)
				}
			}
		}
		if item.entityType != "" {
			byType[item.entityType] = append(byType[item.entityType], i)
		}
	}

	out := make([]Item, 0, len(items))
	for i, item := range items {
		if !dropped[i] {
			out = append(out, item)
		}
	}
	return out
}
