package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Aman-CERP/indexsync/internal/cluster"
	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/work"
)

// OpenLocalFunc opens the local backend of an index.
type OpenLocalFunc func(ctx context.Context) (*Local, error)

// Clustered routes the queues of one index to its master. While this node is
// master it applies locally; otherwise it never opens the index writer.
type Clustered struct {
	index     string
	transport cluster.Transport
	openLocal OpenLocalFunc
	logger    *slog.Logger

	mu     sync.Mutex
	local  *Local
	closed bool
}

// NewClustered creates the clustered backend of index.
func NewClustered(index string, transport cluster.Transport, openLocal OpenLocalFunc, logger *slog.Logger) *Clustered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Clustered{
		index:     index,
		transport: transport,
		openLocal: openLocal,
		logger:    logger.With(slog.String("index", index)),
	}
}

// Apply implements Backend.
func (c *Clustered) Apply(ctx context.Context, q *work.Queue) error {
	q.Seal()

	if c.transport.IsMaster(c.index) {
		c.mu.Lock()
		defer c.mu.Unlock()
		local, err := c.ensureLocalLocked(ctx)
		if err != nil {
			return err
		}
		return local.Apply(ctx, q)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return closedError(c.index)
	}
	if err := c.release(); err != nil {
		c.logger.Warn("cluster_release_failed", slog.String("error", err.Error()))
	}

	payload, err := work.Encode(q)
	if err != nil {
		return ierrors.DispatchTransportFailure(c.index, err)
	}
	env, err := cluster.NewEnvelope(c.index, payload)
	if err != nil {
		return ierrors.DispatchTransportFailure(c.index, err)
	}
	if err := c.transport.Send(ctx, env); err != nil {
		if !errors.Is(err, ierrors.ErrDispatchTransport) {
			err = ierrors.DispatchTransportFailure(c.index, err)
		}
		c.logger.Warn("cluster_dispatch_failed",
			slog.String("queue", q.ID()),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

// Receive applies an envelope sent by a peer and commits it before
// returning, so that the sender's acknowledgement means the work is durable.
func (c *Clustered) Receive(ctx context.Context, env cluster.Envelope) error {
	if !c.transport.IsMaster(c.index) {
		return ierrors.New(ierrors.ErrCodeMasterUnavailable, "node is not master of index "+c.index, nil)
	}
	q, err := work.Decode(env.Payload())
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	local, err := c.ensureLocalLocked(ctx)
	if err != nil {
		return err
	}
	if err := local.Apply(ctx, q); err != nil {
		return err
	}
	return local.Flush(ctx)
}

// Refresh opens or closes the local writer to follow the current mastership.
func (c *Clustered) Refresh(ctx context.Context) error {
	if c.transport.IsMaster(c.index) {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, err := c.ensureLocalLocked(ctx)
		return err
	}
	return c.release()
}

// Local returns the local backend if this node currently holds the writer.
func (c *Clustered) Local() (*Local, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local, c.local != nil
}

func (c *Clustered) ensureLocalLocked(ctx context.Context) (*Local, error) {
	if c.closed {
		return nil, closedError(c.index)
	}
	if c.local != nil {
		return c.local, nil
	}
	local, err := c.openLocal(ctx)
	if err != nil {
		return nil, err
	}
	c.local = local
	c.logger.Info("cluster_local_writer_opened")
	return local, nil
}

func (c *Clustered) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		return nil
	}
	err := c.local.Close()
	c.local = nil
	c.logger.Info("cluster_local_writer_closed")
	return err
}

// Flush implements Backend. Peers have nothing to flush: Send returns once
// the master has committed.
func (c *Clustered) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		return nil
	}
	return c.local.Flush(ctx)
}

// Close implements Backend.
func (c *Clustered) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.local == nil {
		return nil
	}
	err := c.local.Close()
	c.local = nil
	return err
}

var _ Backend = (*Clustered)(nil)
