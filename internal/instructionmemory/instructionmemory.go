// Package instructionmemory is the FIFO of finalized programs awaiting
// execution: consensus hands it fully-ordered programs as they finalize,
// the processor pulls them one at a time in that same order.
package instructionmemory

import (
	"container/list"
	"context"

	logging "github.com/ipfs/go-log/v2"

	"github.com/the-swarm-net/swarmnode/internal/module"
	"github.com/the-swarm-net/swarmnode/internal/types"
)

var log = logging.Logger("instructionmemory")

// InEvent is the request vocabulary this module accepts.
type InEvent struct {
	FinalizedProgram *types.Program
	ExecutedProgram  *types.ProgramId
}

// OutEvent reports the next program ready for execution. There is no
// independent "finished execution" notification: the processor's own
// output transaction is the sole record of completion, so this module only
// ever needs to hand work forward.
type OutEvent struct {
	NextProgram *types.Program
}

// ModuleState reports whether the queue has room for another finalized
// program. The bound exists so a burst of finalizations can't grow the
// queue without limit; a program arriving while the queue is full is logged
// and dropped. The orchestrator does not consult this state: its only
// back-pressure gate is the processor's readiness.
type ModuleState struct {
	accepting bool
}

func (s ModuleState) AcceptsInput() bool { return s.accepting }

const maxQueued = 256

// Module is the FIFO itself.
type Module struct {
	queue *list.List // of types.Program
	// inFlight is set while an emitted program awaits its ExecutedProgram.
	inFlight bool
}

func NewModule() *Module {
	return &Module{queue: list.New()}
}

// Run drives the module off its bounded channel pair.
func Run(ctx context.Context, server *module.Server[InEvent, OutEvent, ModuleState]) {
	m := NewModule()
	server.SetState(ModuleState{accepting: true})
	for {
		select {
		case <-server.Done():
			return
		case in, ok := <-server.Input:
			if !ok {
				return
			}
			m.handle(server, in)
			server.SetState(ModuleState{accepting: m.queue.Len() < maxQueued})
		}
	}
}

func (m *Module) handle(server *module.Server[InEvent, OutEvent, ModuleState], in InEvent) {
	switch {
	case in.FinalizedProgram != nil:
		if m.queue.Len() >= maxQueued {
			log.Warnw("dropping finalized program, queue saturated", "program", in.FinalizedProgram.ID)
			return
		}
		m.queue.PushBack(*in.FinalizedProgram)
		m.tryAdvance(server)
	case in.ExecutedProgram != nil:
		m.inFlight = false
		m.tryAdvance(server)
	}
}

// tryAdvance pops and emits the head of the queue. The processor pulls
// programs one at a time; this module does not push ahead of demand.
func (m *Module) tryAdvance(server *module.Server[InEvent, OutEvent, ModuleState]) {
	if m.inFlight {
		return
	}
	front := m.queue.Front()
	if front == nil {
		return
	}
	program := front.Value.(types.Program)
	m.queue.Remove(front)
	m.inFlight = true
	server.Output <- OutEvent{NextProgram: &program}
}
