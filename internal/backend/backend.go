// Package backend dispatches sealed work queues to index writers.
//
// A Local backend applies queues to the index writer session of its index,
// either on the caller's goroutine (sync) or on a dedicated goroutine
// (async). A Clustered backend applies locally only while this node is the
// master of the index and otherwise ships the queue to the master.
package backend

import (
	"context"

	"github.com/Aman-CERP/indexsync/internal/work"
)

// Backend applies work queues to one index.
type Backend interface {
	// Apply dispatches q. The queue is sealed first. In sync mode the queue
	// is committed when Apply returns; in async mode it is only accepted.
	Apply(ctx context.Context, q *work.Queue) error

	// Flush returns once every queue accepted before the call is committed.
	// It reports any accepted queue that failed to apply or commit since
	// the previous Flush, so Apply followed by Flush is the durable form of
	// a write in every mode.
	Flush(ctx context.Context) error

	// Close flushes and releases the index writer.
	Close() error
}
