package datamemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-swarm-net/swarmnode/internal/module"
	"github.com/the-swarm-net/swarmnode/internal/types"
)

func newPair(t *testing.T) (*module.Server[InEvent, OutEvent, ModuleState], *module.Client[InEvent, OutEvent, ModuleState]) {
	t.Helper()
	pair := module.New[InEvent, OutEvent, ModuleState](context.Background(), 8, ModuleState{})
	return pair.Server, pair.Client
}

func TestHandleInitializeReportsAssignedShard(t *testing.T) {
	store := NewStore(types.PeerID("alice"))
	server, client := newPair(t)

	handle(context.Background(), store, server, InEvent{Initialize: map[types.PeerID]types.ShardId{
		types.PeerID("alice"): 0,
		types.PeerID("bob"):   1,
	}})

	out, res := client.TryRecv()
	require.Equal(t, module.RecvOK, res)
	assert.True(t, out.Initialized)

	sid, ok := store.AssignedShard()
	require.True(t, ok)
	assert.Equal(t, types.ShardId(0), sid)
}

func TestHandlePrepareServiceStoresOriginCopyAndOwnSlot(t *testing.T) {
	store := NewStore(types.PeerID("alice"))
	store.RecordDistribution(map[types.PeerID]types.ShardId{
		types.PeerID("alice"): 0,
		types.PeerID("bob"):   1,
	})
	server, client := newPair(t)

	value := types.Data{1, 2, 3, 4, 5, 6, 7, 8}
	handle(context.Background(), store, server, InEvent{PrepareService: &PrepareServiceRequest{Data: 7, Value: value}})

	out, res := client.TryRecv()
	require.Equal(t, module.RecvOK, res)
	require.NotNil(t, out.AssignedStoreSuccess)
	assert.Equal(t, types.FullShardId{Data: 7, Shard: 0}, *out.AssignedStoreSuccess)

	out, res = client.TryRecv()
	require.Equal(t, module.RecvOK, res)
	require.NotNil(t, out.PreparedServiceResponse)
	assert.Equal(t, types.DataId(7), *out.PreparedServiceResponse)

	shard, err := store.GetShard(context.Background(), types.FullShardId{Data: 7, Shard: 1})
	require.NoError(t, err)
	assert.Equal(t, types.Shard{5, 6, 7, 8}, shard)
}

func TestHandleStorageRequestTxFetchesMissingAssignedSlot(t *testing.T) {
	store := NewStore(types.PeerID("bob"))
	store.RecordDistribution(map[types.PeerID]types.ShardId{
		types.PeerID("alice"): 0,
		types.PeerID("bob"):   1,
	})
	server, client := newPair(t)

	handle(context.Background(), store, server, InEvent{StorageRequestTx: &StorageRequestTx{
		Address: 7,
		From:    types.PeerID("alice"),
	}})

	out, res := client.TryRecv()
	require.Equal(t, module.RecvOK, res)
	require.NotNil(t, out.AssignedRequest)
	assert.Equal(t, types.PeerID("alice"), out.AssignedRequest.Location)
	assert.Equal(t, types.FullShardId{Data: 7, Shard: 1}, out.AssignedRequest.Full)
}

func TestHandleAssignedResponseStoresFetchedSlot(t *testing.T) {
	store := NewStore(types.PeerID("bob"))
	store.RecordDistribution(map[types.PeerID]types.ShardId{
		types.PeerID("alice"): 0,
		types.PeerID("bob"):   1,
	})
	server, client := newPair(t)
	full := types.FullShardId{Data: 7, Shard: 1}
	shard := types.Shard{5, 6, 7, 8}

	handle(context.Background(), store, server, InEvent{AssignedResponse: &AssignedShardAnswer{Full: full, Shard: &shard}})

	out, res := client.TryRecv()
	require.Equal(t, module.RecvOK, res)
	require.NotNil(t, out.AssignedStoreSuccess)
	assert.Equal(t, full, *out.AssignedStoreSuccess)

	got, err := store.GetShard(context.Background(), full)
	require.NoError(t, err)
	assert.Equal(t, shard, got)
}

func TestHandleStoreConfirmedFiresDistributionSuccessOnlyWhenComplete(t *testing.T) {
	store := NewStore(types.PeerID("alice"))
	store.RecordDistribution(map[types.PeerID]types.ShardId{
		types.PeerID("alice"): 0,
		types.PeerID("bob"):   1,
	})
	server, client := newPair(t)

	handle(context.Background(), store, server, InEvent{StoreConfirmed: &StoreConfirmed{Data: 7, Shard: 0}})
	_, res := client.TryRecv()
	assert.Equal(t, module.RecvEmpty, res)

	handle(context.Background(), store, server, InEvent{StoreConfirmed: &StoreConfirmed{Data: 7, Shard: 1}})
	out, res := client.TryRecv()
	require.Equal(t, module.RecvOK, res)
	require.NotNil(t, out.DistributionSuccess)
	assert.Equal(t, types.DataId(7), *out.DistributionSuccess)
}

func TestHandleRecollectRequestReassemblesFromAllSlots(t *testing.T) {
	store := NewStore(types.PeerID("alice"))
	store.RecordDistribution(map[types.PeerID]types.ShardId{
		types.PeerID("alice"): 0,
		types.PeerID("bob"):   1,
	})
	require.NoError(t, store.PutShard(context.Background(), types.FullShardId{Data: 7, Shard: 0}, types.Shard{1, 2, 3, 4}))
	require.NoError(t, store.PutShard(context.Background(), types.FullShardId{Data: 7, Shard: 1}, types.Shard{5, 6, 7, 8}))
	server, client := newPair(t)

	id := types.DataId(7)
	handle(context.Background(), store, server, InEvent{RecollectRequest: &id})

	out, res := client.TryRecv()
	require.Equal(t, module.RecvOK, res)
	require.NotNil(t, out.RecollectedData)
	require.NoError(t, out.RecollectedData.Err)
	assert.Equal(t, types.Data{1, 2, 3, 4, 5, 6, 7, 8}, out.RecollectedData.Value)
}

func TestHandleRecollectRequestFailsWhenSlotMissing(t *testing.T) {
	store := NewStore(types.PeerID("alice"))
	store.RecordDistribution(map[types.PeerID]types.ShardId{
		types.PeerID("alice"): 0,
		types.PeerID("bob"):   1,
	})
	require.NoError(t, store.PutShard(context.Background(), types.FullShardId{Data: 7, Shard: 0}, types.Shard{1, 2, 3, 4}))
	server, client := newPair(t)

	id := types.DataId(7)
	handle(context.Background(), store, server, InEvent{RecollectRequest: &id})

	out, res := client.TryRecv()
	require.Equal(t, module.RecvOK, res)
	require.NotNil(t, out.RecollectedData)
	assert.Error(t, out.RecollectedData.Err)
}

func TestHandleAssignedRequestAnswersFromLocalCopy(t *testing.T) {
	store := NewStore(types.PeerID("alice"))
	full := types.FullShardId{Data: 7, Shard: 1}
	require.NoError(t, store.PutShard(context.Background(), full, types.Shard{9, 9, 9, 9}))
	server, client := newPair(t)

	handle(context.Background(), store, server, InEvent{AssignedRequest: &full})

	out, res := client.TryRecv()
	require.Equal(t, module.RecvOK, res)
	require.NotNil(t, out.AssignedResponse)
	require.NotNil(t, out.AssignedResponse.Shard)
	assert.Equal(t, types.Shard{9, 9, 9, 9}, *out.AssignedResponse.Shard)
}

func TestHandleServeShardRequestAnswersNilWhenAbsent(t *testing.T) {
	store := NewStore(types.PeerID("alice"))
	server, client := newPair(t)
	full := types.FullShardId{Data: 7, Shard: 1}

	handle(context.Background(), store, server, InEvent{ServeShardRequest: &full})

	out, res := client.TryRecv()
	require.Equal(t, module.RecvOK, res)
	require.NotNil(t, out.ServeShardResponse)
	assert.Nil(t, out.ServeShardResponse.Shard)
}
