package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-swarm-net/swarmnode/internal/types"
)

var errFakeShardNotFound = errors.New("fake bus: shard not found")

type fakeBus struct {
	shards map[types.FullShardId]types.Shard
	locals []types.ShardId
}

func newFakeBus(locals ...types.ShardId) *fakeBus {
	return &fakeBus{shards: make(map[types.FullShardId]types.Shard), locals: locals}
}

func (f *fakeBus) GetShard(_ context.Context, id types.FullShardId) (types.Shard, error) {
	s, ok := f.shards[id]
	if !ok {
		return types.Shard{}, errFakeShardNotFound
	}
	return s, nil
}

func (f *fakeBus) PutShard(_ context.Context, id types.FullShardId, shard types.Shard) error {
	f.shards[id] = shard
	return nil
}

func (f *fakeBus) LocalShardIds(_ context.Context) ([]types.ShardId, error) {
	return f.locals, nil
}

func allOK(t *testing.T, results []InstructionResult) {
	t.Helper()
	for _, r := range results {
		require.NoError(t, r.Err)
	}
}

func TestExecutePlusIsXor(t *testing.T) {
	bus := newFakeBus(0)
	bus.shards[types.FullShardId{Data: 1, Shard: 0}] = types.Shard{0x0f, 0x00, 0x00, 0x00}
	bus.shards[types.FullShardId{Data: 2, Shard: 0}] = types.Shard{0xf0, 0x00, 0x00, 0x00}

	m := NewModule(bus)
	program := types.Program{Instructions: types.Instructions{types.Plus(1, 2, 3)}}
	allOK(t, m.execute(context.Background(), program))

	got := bus.shards[types.FullShardId{Data: 3, Shard: 0}]
	assert.Equal(t, types.Shard{0xff, 0x00, 0x00, 0x00}, got)
}

func TestExecuteInvIsIdentity(t *testing.T) {
	bus := newFakeBus(0)
	bus.shards[types.FullShardId{Data: 1, Shard: 0}] = types.Shard{1, 2, 3, 4}

	m := NewModule(bus)
	program := types.Program{Instructions: types.Instructions{types.Inv(1, 2)}}
	allOK(t, m.execute(context.Background(), program))

	assert.Equal(t, types.Shard{1, 2, 3, 4}, bus.shards[types.FullShardId{Data: 2, Shard: 0}])
}

func TestExecuteRunsAcrossAllLocalShardIndices(t *testing.T) {
	bus := newFakeBus(0, 1)
	bus.shards[types.FullShardId{Data: 1, Shard: 0}] = types.Shard{1, 0, 0, 0}
	bus.shards[types.FullShardId{Data: 1, Shard: 1}] = types.Shard{2, 0, 0, 0}

	m := NewModule(bus)
	program := types.Program{Instructions: types.Instructions{types.Inv(1, 9)}}
	allOK(t, m.execute(context.Background(), program))

	assert.Equal(t, types.Shard{1, 0, 0, 0}, bus.shards[types.FullShardId{Data: 9, Shard: 0}])
	assert.Equal(t, types.Shard{2, 0, 0, 0}, bus.shards[types.FullShardId{Data: 9, Shard: 1}])
}

func TestExecuteRecordsNoShardsAssignedAndKeepsGoing(t *testing.T) {
	bus := newFakeBus(0)
	bus.shards[types.FullShardId{Data: 1, Shard: 0}] = types.Shard{1, 0, 0, 0}
	// Data 2 is never stored: the first instruction's operand is missing.

	m := NewModule(bus)
	program := types.Program{Instructions: types.Instructions{
		types.Plus(1, 2, 3), // operand 2 missing: should record an error and continue
		types.Inv(1, 4),     // must still run despite the prior instruction's failure
	}}
	results := m.execute(context.Background(), program)

	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Err, ErrNoShardsAssigned)
	assert.Equal(t, types.DataId(3), results[0].Result)

	require.NoError(t, results[1].Err)
	assert.Equal(t, types.DataId(4), results[1].Result)
	assert.Equal(t, types.Shard{1, 0, 0, 0}, bus.shards[types.FullShardId{Data: 4, Shard: 0}])
}

func TestExecuteOneFailingShardIndexDoesNotStopOthers(t *testing.T) {
	bus := newFakeBus(0, 1)
	bus.shards[types.FullShardId{Data: 1, Shard: 1}] = types.Shard{9, 0, 0, 0}
	// Shard index 0 has no operand stored at all; shard index 1 does.

	m := NewModule(bus)
	program := types.Program{Instructions: types.Instructions{types.Inv(1, 2)}}
	results := m.execute(context.Background(), program)

	require.Len(t, results, 2)
	errCount, okCount := 0, 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
		} else {
			okCount++
		}
	}
	assert.Equal(t, 1, errCount)
	assert.Equal(t, 1, okCount)
	assert.Equal(t, types.Shard{9, 0, 0, 0}, bus.shards[types.FullShardId{Data: 2, Shard: 1}])
}

func TestFieldNandNor(t *testing.T) {
	zero := types.Shard{}
	nonzero := types.Shard{1, 0, 0, 0}

	assert.Equal(t, types.Shard{1, 1, 1, 1}, fieldNand(zero, zero))
	assert.Equal(t, types.Shard{1, 1, 1, 1}, fieldNand(nonzero, zero))
	assert.Equal(t, types.Shard{0x00, 1, 1, 1}, fieldNand(nonzero, nonzero))
	assert.Equal(t, types.Shard{0x00, 1, 1, 1}, fieldNor(nonzero, zero))
	assert.Equal(t, types.Shard{1, 1, 1, 1}, fieldNor(zero, zero))
	assert.Equal(t, types.Shard{0x00, 1, 1, 1}, fieldNor(nonzero, nonzero))
}
