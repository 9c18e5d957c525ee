package swarmnet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-swarm-net/swarmnode/internal/types"
	"github.com/the-swarm-net/swarmnode/internal/wire"
)

func TestDialFiresConnectionEstablishedOnBothSides(t *testing.T) {
	network := NewLoopbackNetwork([]types.PeerID{"alice", "bob"}, 4)

	require.NoError(t, network["alice"].Dial(context.Background(), "bob"))

	evA := <-network["alice"].Events()
	assert.Equal(t, ConnectionEstablished, evA.Kind)
	assert.Equal(t, types.PeerID("bob"), evA.Peer)

	evB := <-network["bob"].Events()
	assert.Equal(t, ConnectionEstablished, evB.Kind)
	assert.Equal(t, types.PeerID("alice"), evB.Peer)
}

func TestDialTwiceIsNoOp(t *testing.T) {
	network := NewLoopbackNetwork([]types.PeerID{"alice", "bob"}, 4)
	require.NoError(t, network["alice"].Dial(context.Background(), "bob"))
	<-network["alice"].Events()
	<-network["bob"].Events()

	require.NoError(t, network["alice"].Dial(context.Background(), "bob"))
	select {
	case ev := <-network["bob"].Events():
		t.Fatalf("unexpected second ConnectionEstablished event: %+v", ev)
	default:
	}
}

func TestSendRequestDeliversMintedIdAndResponseRoundTrips(t *testing.T) {
	network := NewLoopbackNetwork([]types.PeerID{"alice", "bob"}, 4)
	req := wire.Request{Kind: wire.ReqGetShard}

	id, err := network["alice"].SendRequest(context.Background(), "bob", req)
	require.NoError(t, err)

	ev := <-network["bob"].Events()
	assert.Equal(t, InboundRequest, ev.Kind)
	assert.Equal(t, types.PeerID("alice"), ev.Peer)
	assert.Equal(t, id, ev.ReqID)
	assert.Equal(t, req, ev.Request)

	resp := wire.Response{Kind: wire.ReqGetShard}
	require.NoError(t, network["bob"].SendResponse(context.Background(), "alice", id, resp))

	back := <-network["alice"].Events()
	assert.Equal(t, InboundResponse, back.Kind)
	assert.Equal(t, id, back.ReqID)
	assert.Equal(t, resp, back.Response)
}

func TestCloseConnectionOnlyFiresForConnectedPeer(t *testing.T) {
	network := NewLoopbackNetwork([]types.PeerID{"alice", "bob"}, 4)
	network["alice"].CloseConnection("bob")
	select {
	case ev := <-network["alice"].Events():
		t.Fatalf("unexpected ConnectionClosed for never-connected peer: %+v", ev)
	default:
	}

	require.NoError(t, network["alice"].Dial(context.Background(), "bob"))
	<-network["alice"].Events()
	<-network["bob"].Events()

	network["alice"].CloseConnection("bob")
	ev := <-network["alice"].Events()
	assert.Equal(t, ConnectionClosed, ev.Kind)
	assert.Equal(t, types.PeerID("bob"), ev.Peer)
}

func TestSendToUnknownPeerIsDroppedNotPanicking(t *testing.T) {
	network := NewLoopbackNetwork([]types.PeerID{"alice"}, 4)
	assert.NotPanics(t, func() {
		_ = network["alice"].SendGossip(context.Background(), "ghost", wire.SyncJobs{})
	})
}
