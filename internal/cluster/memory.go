package cluster

import (
	"context"
	"fmt"
	"sync"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
)

// MemoryHub connects in-process nodes. It is used by tests and by
// single-binary deployments that still want master/peer routing.
type MemoryHub struct {
	mu      sync.RWMutex
	nodes   map[string]*MemoryTransport
	masters map[string]string // index -> node id
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		nodes:   make(map[string]*MemoryTransport),
		masters: make(map[string]string),
	}
}

// Join registers a node and returns its transport.
func (h *MemoryHub) Join(nodeID string) *MemoryTransport {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := &MemoryTransport{hub: h, nodeID: nodeID}
	h.nodes[nodeID] = t
	return t
}

// SetMaster makes nodeID the master of index.
func (h *MemoryHub) SetMaster(index, nodeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.masters[index] = nodeID
}

func (h *MemoryHub) master(index string) (*MemoryTransport, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.nodes[h.masters[index]]
	return t, ok
}

// MemoryTransport is one node's view of a MemoryHub.
type MemoryTransport struct {
	hub    *MemoryHub
	nodeID string

	mu      sync.Mutex // serializes delivery to this node
	handler Handler
	closed  bool
}

// NodeID returns the node id.
func (t *MemoryTransport) NodeID() string { return t.nodeID }

// Send implements Transport. Delivery is synchronous.
func (t *MemoryTransport) Send(ctx context.Context, env Envelope) error {
	master, ok := t.hub.master(env.IndexName())
	if !ok {
		return ierrors.DispatchTransportFailure(env.IndexName(),
			ierrors.New(ierrors.ErrCodeMasterUnavailable, "no master for index "+env.IndexName(), nil))
	}
	// Round trip through the wire form so in-process delivery behaves like
	// a remote one.
	data, err := env.Marshal()
	if err != nil {
		return ierrors.DispatchTransportFailure(env.IndexName(), err)
	}
	if err := master.deliver(ctx, data); err != nil {
		return ierrors.DispatchTransportFailure(env.IndexName(), err)
	}
	return nil
}

func (t *MemoryTransport) deliver(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.handler == nil {
		return fmt.Errorf("node %s is not receiving", t.nodeID)
	}
	env, err := UnmarshalEnvelope(data)
	if err != nil {
		return err
	}
	return t.handler(ctx, env)
}

// OnReceive implements Transport.
func (t *MemoryTransport) OnReceive(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// IsMaster implements Transport.
func (t *MemoryTransport) IsMaster(index string) bool {
	t.hub.mu.RLock()
	defer t.hub.mu.RUnlock()
	return t.hub.masters[index] == t.nodeID
}

// Close implements Transport.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

var _ Transport = (*MemoryTransport)(nil)
