package cluster

import "context"

// Handler processes an envelope received by the master of its index.
// A returned error is reported back to the sender.
type Handler func(ctx context.Context, env Envelope) error

// Transport delivers envelopes from peers to masters. Envelopes sent by one
// node for one index arrive in send order.
//
// Mastership is decided outside of indexsync (static configuration or an
// external election); IsMaster reports the current decision.
type Transport interface {
	// Send delivers env to the master of env.IndexName() and waits for it
	// to be handled. Failures are DispatchTransportFailure errors.
	Send(ctx context.Context, env Envelope) error

	// OnReceive installs the handler for envelopes addressed to indexes
	// this node is master of.
	OnReceive(h Handler)

	// IsMaster reports whether this node owns the writer of index.
	IsMaster(index string) bool

	// Close releases the transport.
	Close() error
}
