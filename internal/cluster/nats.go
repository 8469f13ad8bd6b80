package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/metrics"
)

// NATSOptions configures a NATSTransport.
type NATSOptions struct {
	// URL of the NATS server, e.g. nats://127.0.0.1:4222.
	URL string

	// NodeID names this node in connection names and logs.
	NodeID string

	// SubjectPrefix is prepended to per-index subjects. Default "indexsync".
	SubjectPrefix string

	// MasterIndexes lists the indexes this node owns at startup.
	MasterIndexes []string

	// RequestTimeout bounds one Send. Default 5s.
	RequestTimeout time.Duration

	// MaxFailures consecutive transport failures open the per-index circuit
	// breaker for ResetTimeout. Defaults 5 and 30s.
	MaxFailures  int
	ResetTimeout time.Duration

	Logger *slog.Logger
}

func (o *NATSOptions) applyDefaults() {
	if o.SubjectPrefix == "" {
		o.SubjectPrefix = "indexsync"
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Second
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = 5
	}
	if o.ResetTimeout <= 0 {
		o.ResetTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// NATSTransport sends envelopes as NATS requests on
// "<prefix>.index.<index>"; the master subscribes to the subjects of the
// indexes it owns and replies once the queue has been applied.
type NATSTransport struct {
	conn   *nats.Conn
	owned  bool
	opts   NATSOptions
	logger *slog.Logger

	mu       sync.Mutex
	handler  Handler
	subs     map[string]*nats.Subscription
	breakers map[string]*ierrors.CircuitBreaker
}

type natsReply struct {
	OK    bool            `json:"ok"`
	Error json.RawMessage `json:"error,omitempty"`
}

// DialNATS connects to opts.URL and subscribes for opts.MasterIndexes.
func DialNATS(opts NATSOptions) (*NATSTransport, error) {
	opts.applyDefaults()
	conn, err := nats.Connect(opts.URL,
		nats.Name("indexsync-"+opts.NodeID),
		nats.Timeout(opts.RequestTimeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeNetworkUnavailable, "failed to connect to NATS at "+opts.URL, err)
	}
	t, err := NewNATSTransport(conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	t.owned = true
	return t, nil
}

// NewNATSTransport uses an existing connection; Close leaves it open.
func NewNATSTransport(conn *nats.Conn, opts NATSOptions) (*NATSTransport, error) {
	opts.applyDefaults()
	t := &NATSTransport{
		conn:     conn,
		opts:     opts,
		logger:   opts.Logger.With(slog.String("node", opts.NodeID)),
		subs:     make(map[string]*nats.Subscription),
		breakers: make(map[string]*ierrors.CircuitBreaker),
	}
	for _, index := range opts.MasterIndexes {
		if err := t.SetMaster(index, true); err != nil {
			t.unsubscribeAll()
			return nil, err
		}
	}
	return t, nil
}

// Subject returns the subject envelopes for index are sent on.
func (t *NATSTransport) Subject(index string) string {
	return t.opts.SubjectPrefix + ".index." + index
}

// SetMaster starts or stops owning index on this node.
func (t *NATSTransport) SetMaster(index string, master bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, owned := t.subs[index]
	switch {
	case master && !owned:
		sub, err := t.conn.Subscribe(t.Subject(index), t.handleMsg)
		if err != nil {
			return ierrors.New(ierrors.ErrCodeNetworkUnavailable, "failed to subscribe for index "+index, err)
		}
		// Make sure the server has registered the subscription before
		// anyone is told this node is master.
		if err := t.conn.Flush(); err != nil {
			_ = sub.Unsubscribe()
			return ierrors.New(ierrors.ErrCodeNetworkUnavailable, "failed to subscribe for index "+index, err)
		}
		t.subs[index] = sub
		t.logger.Info("cluster_master_acquired", slog.String("index", index))
	case !master && owned:
		if err := sub.Drain(); err != nil {
			return ierrors.New(ierrors.ErrCodeNetworkUnavailable, "failed to unsubscribe for index "+index, err)
		}
		delete(t.subs, index)
		t.logger.Info("cluster_master_released", slog.String("index", index))
	}
	return nil
}

// IsMaster implements Transport.
func (t *NATSTransport) IsMaster(index string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.subs[index]
	return ok
}

// OnReceive implements Transport.
func (t *NATSTransport) OnReceive(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *NATSTransport) breaker(index string) *ierrors.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.breakers[index]
	if !ok {
		cb = ierrors.NewCircuitBreaker("master:"+index,
			ierrors.WithMaxFailures(t.opts.MaxFailures),
			ierrors.WithResetTimeout(t.opts.ResetTimeout))
		t.breakers[index] = cb
	}
	return cb
}

// Send implements Transport. A master-side failure is returned wrapped in
// a DispatchTransportFailure whose cause carries the remote error code.
func (t *NATSTransport) Send(ctx context.Context, env Envelope) error {
	index := env.IndexName()
	data, err := env.Marshal()
	if err != nil {
		return ierrors.DispatchTransportFailure(index, err)
	}

	var remoteErr error
	err = t.breaker(index).Execute(func() error {
		reqCtx, cancel := context.WithTimeout(ctx, t.opts.RequestTimeout)
		defer cancel()

		msg, err := t.conn.RequestWithContext(reqCtx, t.Subject(index), data)
		if err != nil {
			return err
		}
		var reply natsReply
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			return fmt.Errorf("malformed reply from master: %w", err)
		}
		if !reply.OK {
			// The master answered: the transport itself is healthy.
			remoteErr = remoteError(reply.Error)
		}
		return nil
	})
	if err == nil {
		err = remoteErr
	}
	if err != nil {
		metrics.Envelopes.WithLabelValues(index, "out", "error").Inc()
		return ierrors.DispatchTransportFailure(index, err)
	}
	metrics.Envelopes.WithLabelValues(index, "out", "ok").Inc()
	return nil
}

func remoteError(raw json.RawMessage) error {
	if ie, err := ierrors.ParseJSON(raw); err == nil && ie.Code != "" {
		return ie
	}
	return fmt.Errorf("master rejected envelope: %s", string(raw))
}

func (t *NATSTransport) handleMsg(msg *nats.Msg) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()

	var herr error
	env, err := UnmarshalEnvelope(msg.Data)
	switch {
	case err != nil:
		herr = err
	case h == nil:
		herr = ierrors.New(ierrors.ErrCodeMasterUnavailable, "node "+t.opts.NodeID+" has no receive handler", nil)
	default:
		herr = h(context.Background(), env)
	}

	reply := natsReply{OK: herr == nil}
	result := "ok"
	if herr != nil {
		result = "error"
		reply.Error, _ = ierrors.FormatJSON(herr)
		t.logger.Warn("cluster_envelope_failed",
			slog.String("subject", msg.Subject),
			slog.String("error", herr.Error()))
	}
	metrics.Envelopes.WithLabelValues(env.IndexName(), "in", result).Inc()

	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		t.logger.Warn("cluster_reply_failed", slog.String("error", err.Error()))
	}
}

func (t *NATSTransport) unsubscribeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for index, sub := range t.subs {
		_ = sub.Unsubscribe()
		delete(t.subs, index)
	}
}

// Close implements Transport.
func (t *NATSTransport) Close() error {
	t.unsubscribeAll()
	if t.owned {
		return t.conn.Drain()
	}
	return nil
}

var _ Transport = (*NATSTransport)(nil)
