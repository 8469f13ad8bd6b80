package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
)

func runNATS(t *testing.T) string {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

func TestNATSTransport_DeliversToMaster(t *testing.T) {
	// Given: a master and a peer on one NATS server
	url := runNATS(t)
	master, err := DialNATS(NATSOptions{URL: url, NodeID: "a", MasterIndexes: []string{"books"}})
	require.NoError(t, err)
	defer master.Close()
	peer, err := DialNATS(NATSOptions{URL: url, NodeID: "b", RequestTimeout: time.Second})
	require.NoError(t, err)
	defer peer.Close()

	var mu sync.Mutex
	var got []string
	master.OnReceive(func(ctx context.Context, env Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(env.Payload()))
		return nil
	})

	// When: the peer sends envelopes
	for _, p := range []string{"q1", "q2", "q3"} {
		env, err := NewEnvelope("books", []byte(p))
		require.NoError(t, err)
		require.NoError(t, peer.Send(context.Background(), env))
	}

	// Then: they were handled in order before Send returned
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"q1", "q2", "q3"}, got)
	assert.True(t, master.IsMaster("books"))
	assert.False(t, peer.IsMaster("books"))
}

func TestNATSTransport_RemoteErrorsCarryTheirCode(t *testing.T) {
	url := runNATS(t)
	master, err := DialNATS(NATSOptions{URL: url, NodeID: "a", MasterIndexes: []string{"books"}})
	require.NoError(t, err)
	defer master.Close()
	peer, err := DialNATS(NATSOptions{URL: url, NodeID: "b", RequestTimeout: time.Second})
	require.NoError(t, err)
	defer peer.Close()

	master.OnReceive(func(context.Context, Envelope) error {
		return ierrors.IndexMutationFailure("Book", "unable to add", errors.New("disk full"))
	})

	env, err := NewEnvelope("books", []byte("q"))
	require.NoError(t, err)
	err = peer.Send(context.Background(), env)

	assert.True(t, errors.Is(err, ierrors.ErrDispatchTransport))
	assert.True(t, errors.Is(err, ierrors.ErrIndexMutation))
}

func TestNATSTransport_NoMasterOpensBreaker(t *testing.T) {
	// Given: a peer and nobody subscribed for "books"
	url := runNATS(t)
	peer, err := DialNATS(NATSOptions{
		URL: url, NodeID: "b",
		RequestTimeout: 200 * time.Millisecond,
		MaxFailures:    2,
		ResetTimeout:   time.Minute,
	})
	require.NoError(t, err)
	defer peer.Close()
	env, err := NewEnvelope("books", []byte("q"))
	require.NoError(t, err)

	// When: sending repeatedly
	for i := 0; i < 2; i++ {
		err = peer.Send(context.Background(), env)
		assert.True(t, errors.Is(err, ierrors.ErrDispatchTransport))
	}
	err = peer.Send(context.Background(), env)

	// Then: the breaker fails fast
	assert.True(t, errors.Is(err, ierrors.ErrDispatchTransport))
	assert.ErrorIs(t, err, ierrors.ErrCircuitOpen)
}

func TestNATSTransport_MastershipTransition(t *testing.T) {
	url := runNATS(t)
	node, err := DialNATS(NATSOptions{URL: url, NodeID: "a"})
	require.NoError(t, err)
	defer node.Close()

	require.NoError(t, node.SetMaster("books", true))
	assert.True(t, node.IsMaster("books"))
	assert.Equal(t, "indexsync.index.books", node.Subject("books"))

	require.NoError(t, node.SetMaster("books", false))
	assert.False(t, node.IsMaster("books"))
}
