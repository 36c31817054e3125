package p2p

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/boombox/internal/proto"
	"github.com/petervdpas/boombox/internal/state"
)

func TestLowestID(t *testing.T) {
	t.Parallel()

	assert.Empty(t, lowestID(nil))
	assert.Equal(t, "12D3a", lowestID([]string{"12D3c", "12D3a", "12D3b"}))
}

func TestLoadOrCreateKeyPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "identity.key")
	first, created, err := loadOrCreateKey(path)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := loadOrCreateKey(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, first.Equals(again))
}

func newTestNode(t *testing.T, ctx context.Context) *Node {
	t.Helper()
	n, err := New(ctx, Options{
		KeyFile: filepath.Join(t.TempDir(), "identity.key"),
	}, state.NewMemberTable())
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestSendOutsideSession(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, t.Context())
	assert.False(t, n.Connected())
	assert.False(t, n.IsMaster())
	assert.ErrorIs(t, n.Send(t.Context(), proto.TargetAll, proto.StopRequest()), ErrNotInSession)
	assert.Error(t, n.JoinSession("a/b"))
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := t.Context()
	a := newTestNode(t, ctx)
	b := newTestNode(t, ctx)

	require.NoError(t, b.Host.Connect(ctx, peer.AddrInfo{ID: a.Host.ID(), Addrs: a.Host.Addrs()}))

	var mu sync.Mutex
	var got []proto.SyncMsg
	b.SetHandler(func(m proto.SyncMsg) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	a.SetHandler(func(proto.SyncMsg) { t.Error("sender must not receive its own message") })

	require.NoError(t, a.JoinSession("kitchen"))
	require.NoError(t, b.JoinSession("kitchen"))
	require.NoError(t, b.JoinSession("kitchen"), "rejoin is a no-op")
	assert.Equal(t, "kitchen", b.Room())

	require.Eventually(t, func() bool {
		return len(a.topicPeers()) == 1 && len(b.topicPeers()) == 1
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, a.MasterID(), b.MasterID())
	assert.NotEqual(t, a.IsMaster(), b.IsMaster())

	require.Eventually(t, func() bool {
		_ = a.Send(ctx, proto.TargetOthers, proto.PlayRequest("https://youtu.be/ABCDEFGHIJK", "alice"))
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 10*time.Second, 200*time.Millisecond)

	mu.Lock()
	first := got[0]
	mu.Unlock()
	assert.Equal(t, proto.ActionPlayRequest, first.Action)
	assert.Equal(t, a.ID(), first.From)

	m, ok := b.Members().Get(a.ID())
	require.True(t, ok)
	assert.Equal(t, "alice", m.Requester)

	b.LeaveSession()
	assert.False(t, b.Connected())
	assert.Empty(t, b.Members().Snapshot())
}

func (n *Node) topicPeers() []peer.ID {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.topic == nil {
		return nil
	}
	return n.topic.ListPeers()
}
