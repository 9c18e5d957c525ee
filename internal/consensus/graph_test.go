package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-swarm-net/swarmnode/internal/types"
)

func TestGraphGenesisSelfChain(t *testing.T) {
	g := newGraphInner(types.PeerID("alice"))
	h, ok := g.peerLatestEvent(types.PeerID("alice"))
	require.True(t, ok)
	require.Equal(t, g.events[h].Seq, uint64(0))
	require.Nil(t, g.events[h].SelfParent)
}

func TestGraphCreateEventAdvancesSelfChain(t *testing.T) {
	g := newGraphInner(types.PeerID("alice"))
	e1, err := g.createEvent([]Transaction{NewStorageRequest(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e1.Seq)
	require.NotNil(t, e1.SelfParent)

	e2, err := g.createEvent([]Transaction{NewStorageRequest(2)}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e2.Seq)
	assert.Equal(t, e1.Hash, *e2.SelfParent)
}

func TestGraphPushEventRejectsSequenceGap(t *testing.T) {
	g := newGraphInner(types.PeerID("alice"))
	bobGenesis := newEvent(types.PeerID("bob"), nil, nil, 0, nil)
	require.NoError(t, g.pushEvent(bobGenesis))
	bogusParent := bobGenesis.Hash
	bad := newEvent(types.PeerID("bob"), &bogusParent, nil, 5, nil)
	err := g.pushEvent(bad)
	require.Error(t, err)
	var pushErr *PushError
	require.ErrorAs(t, err, &pushErr)
}

func TestGraphPushEventRejectsTamperedHash(t *testing.T) {
	g := newGraphInner(types.PeerID("alice"))
	e := newEvent(types.PeerID("bob"), nil, nil, 0, nil)
	e.Hash[0] ^= 0xff
	err := g.pushEvent(e)
	require.Error(t, err)
}

func TestGraphSyncForReturnsOnlyUnsentSuffix(t *testing.T) {
	g := newGraphInner(types.PeerID("alice"))
	peer := types.PeerID("bob")

	first := g.syncFor(peer)
	assert.Len(t, first, 1) // just the genesis event

	second := g.syncFor(peer)
	assert.Empty(t, second)

	_, _ = g.createEvent([]Transaction{NewStorageRequest(1)}, nil)
	third := g.syncFor(peer)
	assert.Len(t, third, 1)
}

func TestGraphNextFinalizedOrdersByInsertion(t *testing.T) {
	g := newGraphInner(types.PeerID("alice"))
	e1, err := g.createEvent([]Transaction{NewStorageRequest(1)}, nil)
	require.NoError(t, err)
	e2, err := g.createEvent([]Transaction{NewStorageRequest(2)}, nil)
	require.NoError(t, err)

	first, ok := g.nextFinalized()
	require.True(t, ok)
	assert.Equal(t, "alice", string(first.Author))
	assert.Equal(t, uint64(0), first.Seq) // genesis finalizes first

	second, ok := g.nextFinalized()
	require.True(t, ok)
	assert.Equal(t, e1.Hash, second.Hash)

	third, ok := g.nextFinalized()
	require.True(t, ok)
	assert.Equal(t, e2.Hash, third.Hash)

	_, ok = g.nextFinalized()
	assert.False(t, ok)
}
