package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexsync/internal/cluster"
	"github.com/Aman-CERP/indexsync/internal/delegate"
	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/work"
)

func clusterPair(t *testing.T) (hub *cluster.MemoryHub, master, peer *Registry) {
	t.Helper()
	hub = cluster.NewMemoryHub()
	master = NewRegistry(RegistryOptions{Transport: hub.Join("a")})
	peer = NewRegistry(RegistryOptions{Transport: hub.Join("b")})
	t.Cleanup(func() {
		_ = master.Close()
		_ = peer.Close()
	})
	return hub, master, peer
}

func TestClustered_PeerShipsQueueToMaster(t *testing.T) {
	// Given: node a is master of "books"
	hub, master, peer := clusterPair(t)
	hub.SetMaster("books", "a")
	ctx := context.Background()

	// When: node b applies a queue
	b, err := peer.Get(ctx, "books")
	require.NoError(t, err)
	require.NoError(t, b.Apply(ctx, queueOf(t, nil, "ADD", "Book", "1", "ADD", "Book", "2")))

	// Then: the master's index has the documents and the peer opened no writer
	s, err := master.Session(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count(t, s, store.ClassTerm("Book")))
	_, held := b.(*Clustered).Local()
	assert.False(t, held)
	_, err = peer.Session(ctx, "books")
	assert.Error(t, err)
}

func TestClustered_MasterAppliesLocally(t *testing.T) {
	hub, master, _ := clusterPair(t)
	hub.SetMaster("books", "a")
	ctx := context.Background()

	b, err := master.Get(ctx, "books")
	require.NoError(t, err)
	require.NoError(t, b.Apply(ctx, queueOf(t, nil, "ADD", "Book", "1")))

	s, err := master.Session(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count(t, s, store.ClassTerm("Book")))
}

func TestClustered_TransportFailureIsSurfaced(t *testing.T) {
	// Given: no master for "books"
	_, _, peer := clusterPair(t)
	ctx := context.Background()
	b, err := peer.Get(ctx, "books")
	require.NoError(t, err)

	// When: applying
	err = b.Apply(ctx, queueOf(t, nil, "ADD", "Book", "1"))

	// Then: the caller gets a dispatch transport failure
	assert.True(t, errors.Is(err, ierrors.ErrDispatchTransport))
}

func TestClustered_MasterFailureReachesPeer(t *testing.T) {
	hub, master, peer := clusterPair(t)
	hub.SetMaster("books", "a")
	ctx := context.Background()
	// Open the master writer, then close it underneath the registry.
	s, err := master.Session(ctx, "books")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	b, err := peer.Get(ctx, "books")
	require.NoError(t, err)
	err = b.Apply(ctx, queueOf(t, nil, "ADD", "Book", "1"))

	assert.True(t, errors.Is(err, ierrors.ErrDispatchTransport))
	assert.True(t, errors.Is(err, ierrors.ErrBackendClosed))
}

func TestClustered_AsyncMasterFailureReachesPeer(t *testing.T) {
	// Given: a master whose local backend applies asynchronously
	hub := cluster.NewMemoryHub()
	hub.SetMaster("books", "a")
	var s *store.Session
	ta := hub.Join("a")
	master := NewClustered("books", ta, func(ctx context.Context) (*Local, error) {
		var err error
		s, err = store.Open(ctx, store.Options{Name: "books"})
		if err != nil {
			return nil, err
		}
		return NewLocal("books", s, failingPerformer{delegate.NewSet(nil)},
			LocalOptions{Async: true, CommitInterval: time.Hour}), nil
	}, nil)
	ta.OnReceive(master.Receive)
	peer := NewClustered("books", hub.Join("b"), func(context.Context) (*Local, error) {
		return nil, errors.New("peer must not open a writer")
	}, nil)
	t.Cleanup(func() {
		_ = master.Close()
		_ = peer.Close()
	})
	ctx := context.Background()

	// When: the peer ships a queue the master fails to apply
	err := peer.Apply(ctx, queueOf(t, nil, "ADD", "Book", "1", "ADD", "Book", "boom"))

	// Then: the peer is not acknowledged and nothing was indexed
	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrDispatchTransport)
	assert.ErrorIs(t, err, errInjected)
	require.NotNil(t, s)
	assert.Zero(t, count(t, s, store.ClassTerm("Book")))

	// And: a good queue is acknowledged once committed
	require.NoError(t, peer.Apply(ctx, queueOf(t, nil, "ADD", "Book", "2")))
	assert.Equal(t, uint64(1), count(t, s, store.ClassTerm("Book")))
}

func TestClustered_MastershipTransition(t *testing.T) {
	// Given: a is master and has applied work
	hub, master, peer := clusterPair(t)
	hub.SetMaster("books", "a")
	ctx := context.Background()
	ma, err := master.Get(ctx, "books")
	require.NoError(t, err)
	require.NoError(t, ma.Apply(ctx, queueOf(t, nil, "ADD", "Book", "1")))

	// When: mastership moves to b
	hub.SetMaster("books", "b")
	require.NoError(t, master.Refresh(ctx))

	// Then: a released its writer and forwards to b
	_, held := ma.(*Clustered).Local()
	assert.False(t, held)
	require.NoError(t, ma.Apply(ctx, queueOf(t, nil, "ADD", "Book", "2")))
	s, err := peer.Session(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count(t, s, store.ClassTerm("Book"), store.IDTerm("2")))
}

func TestClustered_EnvelopePreservesQueue(t *testing.T) {
	// Given: a sealed queue with every kind
	q := queueOf(t, nil, "ADD", "Book", "1", "UPDATE", "Book", "2", "DELETE", "Book", "3",
		"PURGE", "Book", "4", "PURGE_ALL", "Author", "", "OPTIMIZE", "", "")
	q.Seal()

	// When: it travels through the envelope wire form
	payload, err := work.Encode(q)
	require.NoError(t, err)
	env, err := cluster.NewEnvelope(q.Index(), payload)
	require.NoError(t, err)
	data, err := env.Marshal()
	require.NoError(t, err)
	received, err := cluster.UnmarshalEnvelope(data)
	require.NoError(t, err)
	decoded, err := work.Decode(received.Payload())
	require.NoError(t, err)

	// Then: the receiver sees the identical ordered sequence
	assert.Equal(t, q.Items(), decoded.Items())
}
