package consensus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-swarm-net/swarmnode/internal/module"
	"github.com/the-swarm-net/swarmnode/internal/types"
	"github.com/the-swarm-net/swarmnode/internal/wire"
)

func encodeBatch(events []Event) wire.SyncJobs {
	encoded := make([]wire.EncodedEvent, len(events))
	for i, e := range events {
		encoded[i] = EncodeEvent(e)
	}
	return wire.SyncJobs{Events: encoded}
}

func newTestModule(t *testing.T, self types.PeerID) (*Module, *module.Pair[InEvent, OutEvent, ModuleState]) {
	t.Helper()
	pair := module.New[InEvent, OutEvent, ModuleState](context.Background(), 64, ModuleState{})
	return NewModule(self), &pair
}

func TestModuleScheduleTxThenStandaloneFinalizes(t *testing.T) {
	m, pair := newTestModule(t, types.PeerID("alice"))

	tx := NewStorageRequest(42)
	m.handle(pair.Server, InEvent{ScheduleTx: &tx})
	m.handle(pair.Server, InEvent{CreateStandalone: true})

	// genesis finalizes with no payload, then the standalone event with our tx.
	out, res := pair.Client.TryRecv()
	require.Equal(t, module.RecvOK, res)
	require.NotNil(t, out.FinalizedTransaction)
	assert.Equal(t, TxStorageRequest, out.FinalizedTransaction.Tx.Kind)
	assert.Equal(t, types.DataId(42), out.FinalizedTransaction.Tx.Address)

	_, res = pair.Client.TryRecv()
	assert.Equal(t, module.RecvEmpty, res)
}

func TestModuleEmptySyncIsNoOp(t *testing.T) {
	m, pair := newTestModule(t, types.PeerID("alice"))

	m.handle(pair.Server, InEvent{ApplySync: &ApplySync{From: types.PeerID("bob")}})

	// an empty sync batch creates no event and the local genesis carries no
	// payload, so nothing should ever reach the output channel.
	_, res := pair.Client.TryRecv()
	assert.Equal(t, module.RecvEmpty, res)
}

func TestModuleApplySyncLinksSendersLatestEventAsOtherParent(t *testing.T) {
	bob, bobPair := newTestModule(t, types.PeerID("bob"))
	tx := NewStorageRequest(7)
	bob.handle(bobPair.Server, InEvent{ScheduleTx: &tx})
	bob.handle(bobPair.Server, InEvent{CreateStandalone: true})
	batch := encodeBatch(bob.g.syncFor(types.PeerID("relay")))

	alice, alicePair := newTestModule(t, types.PeerID("alice"))
	alice.handle(alicePair.Server, InEvent{ApplySync: &ApplySync{From: types.PeerID("bob"), Sync: batch}})

	// bob's genesis carries no payload; bob's standalone event carries the tx.
	out, res := alicePair.Client.TryRecv()
	require.Equal(t, module.RecvOK, res)
	require.NotNil(t, out.FinalizedTransaction)
	assert.Equal(t, types.PeerID("bob"), out.FinalizedTransaction.From)
	assert.Equal(t, TxStorageRequest, out.FinalizedTransaction.Tx.Kind)

	bobLatest, ok := bob.g.peerLatestEvent(types.PeerID("bob"))
	require.True(t, ok)

	aliceLatestHash, ok := alice.g.peerLatestEvent(types.PeerID("alice"))
	require.True(t, ok)
	ack := alice.g.events[aliceLatestHash]
	require.NotNil(t, ack.OtherParent)
	assert.Equal(t, bobLatest, *ack.OtherParent)
}

func TestModuleApplySyncFromUnknownPeerSurfacesErrUnknownPeer(t *testing.T) {
	carol, _ := newTestModule(t, types.PeerID("carol"))
	batch := encodeBatch(carol.g.syncFor(types.PeerID("relay")))

	alice, alicePair := newTestModule(t, types.PeerID("alice"))
	alice.handle(alicePair.Server, InEvent{ApplySync: &ApplySync{From: types.PeerID("bob"), Sync: batch}})

	// carol's genesis carries no payload, so nothing reaches the output channel.
	_, res := alicePair.Client.TryRecv()
	assert.Equal(t, module.RecvEmpty, res)

	_, ok := alice.g.peerLatestEvent(types.PeerID("bob"))
	assert.False(t, ok, "bob must remain unknown to the graph")

	aliceLatestHash, ok := alice.g.peerLatestEvent(types.PeerID("alice"))
	require.True(t, ok)
	assert.Equal(t, uint64(0), alice.g.events[aliceLatestHash].Seq, "no acknowledging event should have been authored")
}

func TestModuleGenerateSyncRequest(t *testing.T) {
	m, pair := newTestModule(t, types.PeerID("alice"))

	peer := types.PeerID("bob")
	m.handle(pair.Server, InEvent{GenerateSyncReq: &peer})

	out, res := pair.Client.TryRecv()
	require.Equal(t, module.RecvOK, res)
	require.NotNil(t, out.GenerateSyncResponse)
	assert.Equal(t, peer, out.GenerateSyncResponse.To)
	assert.Len(t, out.GenerateSyncResponse.Sync.Events, 1) // genesis event
}

func TestModuleKnownPeersRequest(t *testing.T) {
	m, pair := newTestModule(t, types.PeerID("alice"))

	m.handle(pair.Server, InEvent{KnownPeersRequest: true})

	out, res := pair.Client.TryRecv()
	require.Equal(t, module.RecvOK, res)
	require.Len(t, out.KnownPeersResponse, 1)
	assert.Equal(t, types.PeerID("alice"), out.KnownPeersResponse[0])
}
