// Package processor executes a finalized program across every shard index
// the local peer is responsible for, reading and writing operands through
// a MemoryBus backed by the data-memory module.
package processor

import (
	"context"
	"errors"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/the-swarm-net/swarmnode/internal/module"
	"github.com/the-swarm-net/swarmnode/internal/types"
)

var log = logging.Logger("processor")

// ErrNoShardsAssigned is recorded against an instruction whose operand isn't
// resident on this peer's memory bus — not a fatal condition, just a miss
// this peer can't itself resolve (spec.md §4.4 step 3, §7 ProcessorError).
var ErrNoShardsAssigned = errors.New("no shards assigned")

// MemoryBus is the subset of data-memory's surface the processor needs:
// read and write one shard, and know which shard indices are resident
// locally so a program can be replayed once per index.
type MemoryBus interface {
	GetShard(ctx context.Context, id types.FullShardId) (types.Shard, error)
	PutShard(ctx context.Context, id types.FullShardId, shard types.Shard) error
	LocalShardIds(ctx context.Context) ([]types.ShardId, error)
}

// ReadinessState is the processor's published back-pressure signal: it
// accepts at most one program at a time, matching spec.md §4.4's
// Ready/Executing gate.
type ReadinessState int

const (
	Ready ReadinessState = iota
	Executing
)

func (s ReadinessState) AcceptsInput() bool { return s == Ready }

// InEvent is the request vocabulary: the orchestrator relays the next
// finalized program here once the processor reports Ready.
type InEvent struct {
	NextProgram *types.Program
}

// InstructionResult is one instruction's outcome: either it produced Result
// successfully, or Err names why it didn't (spec.md §7: ProcessorError is
// "per-instruction; recorded in the results vector").
type InstructionResult struct {
	Result types.DataId
	Err    error
}

// FinishedExecution reports that every local shard index has run the
// program. It is this module's sole completion record — instruction
// memory has no independent notion of execution finishing. Results holds
// one entry per instruction executed (possibly more than len(program) when
// this peer is replaying across more than one local shard index); a missing
// operand or a failed write-back shows up as a per-instruction Err rather
// than aborting the rest of the program.
type FinishedExecution struct {
	ProgramID types.ProgramId
	Results   []InstructionResult
}

type OutEvent struct {
	FinishedExecution *FinishedExecution
}

// Module is the executor itself, parameterized over a MemoryBus so tests
// can supply an in-memory fake without standing up the real data-memory
// backend.
type Module struct {
	bus MemoryBus
}

func NewModule(bus MemoryBus) *Module {
	return &Module{bus: bus}
}

// Run drives the module off its bounded channel pair.
func Run(ctx context.Context, bus MemoryBus, server *module.Server[InEvent, OutEvent, ReadinessState]) {
	m := NewModule(bus)
	server.SetState(Ready)
	for {
		select {
		case <-server.Done():
			return
		case in, ok := <-server.Input:
			if !ok {
				return
			}
			if in.NextProgram == nil {
				continue
			}
			server.SetState(Executing)
			results := m.execute(ctx, *in.NextProgram)
			for _, r := range results {
				if r.Err != nil {
					log.Warnw("instruction failed", "program", in.NextProgram.ID, "result", r.Result, "error", r.Err)
				}
			}
			server.Output <- OutEvent{FinishedExecution: &FinishedExecution{ProgramID: in.NextProgram.ID, Results: results}}
			server.SetState(Ready)
		}
	}
}

// execute replays program.Instructions once per locally-resident shard
// index, prefetching each instruction's operands concurrently (the domain
// analog of dagstore's concurrent shard-acquisition fan-out). A failure on
// one shard index never stops the others — each runs to completion and
// contributes its own per-instruction results.
func (m *Module) execute(ctx context.Context, program types.Program) []InstructionResult {
	shardIds, err := m.bus.LocalShardIds(ctx)
	if err != nil {
		log.Warnw("listing local shard ids failed", "error", err)
		return nil
	}
	var results []InstructionResult
	for _, sid := range shardIds {
		results = append(results, m.executeForShard(ctx, sid, program)...)
	}
	return results
}

// executeForShard runs every instruction in order against one shard index.
// A missing operand or a failed write-back is recorded as that single
// instruction's error (spec.md §4.4 step 3: "record Err(NoShardsAssigned)
// for that instruction and continue") — it never aborts the remaining
// instructions.
func (m *Module) executeForShard(ctx context.Context, sid types.ShardId, program types.Program) []InstructionResult {
	context := make(map[types.DataId]types.Shard)
	results := make([]InstructionResult, 0, len(program.Instructions))

	fetch := func(id types.DataId) (types.Shard, error) {
		if s, ok := context[id]; ok {
			return s, nil
		}
		return m.bus.GetShard(ctx, types.FullShardId{Data: id, Shard: sid})
	}

	for _, instr := range program.Instructions {
		args := instr.Operation.Args()
		shards := make([]types.Shard, len(args))

		g, gctx := errgroup.WithContext(ctx)
		_ = gctx
		for i, arg := range args {
			i, arg := i, arg
			g.Go(func() error {
				s, err := fetch(arg)
				if err != nil {
					return err
				}
				shards[i] = s
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			results = append(results, InstructionResult{
				Result: instr.Result,
				Err:    fmt.Errorf("instruction result %d: %w", instr.Result, ErrNoShardsAssigned),
			})
			continue
		}

		result := apply(instr.Operation, shards)
		context[instr.Result] = result
		if err := m.bus.PutShard(ctx, types.FullShardId{Data: instr.Result, Shard: sid}, result); err != nil {
			results = append(results, InstructionResult{
				Result: instr.Result,
				Err:    fmt.Errorf("writing result %d: %w", instr.Result, err),
			})
			continue
		}
		results = append(results, InstructionResult{Result: instr.Result})
	}
	return results
}
