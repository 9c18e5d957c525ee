// Package consensus implements the gossip-DAG: an append-only per-peer
// event chain gossiped between peers as topologically sorted sync batches,
// finalizing transactions in a deterministic total order. It is the Go
// translation of the original's hashgraph-backed consensus module, run as
// its own goroutine driven by a bounded module.Pair the way the teacher's
// dagstore drives its shard-lifecycle goroutine off externalCh.
package consensus

import (
	"context"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"

	"github.com/the-swarm-net/swarmnode/internal/module"
	"github.com/the-swarm-net/swarmnode/internal/types"
	"github.com/the-swarm-net/swarmnode/internal/wire"
)

var log = logging.Logger("consensus")

// InEvent is the request vocabulary the orchestrator drives this module
// with, matching behaviour/mod.rs's consensus InEvent.
type InEvent struct {
	ApplySync         *ApplySync
	CreateStandalone  bool
	ScheduleTx        *Transaction
	GenerateSyncReq   *types.PeerID
	KnownPeersRequest bool
}

type ApplySync struct {
	From types.PeerID
	Sync wire.SyncJobs
}

// OutEvent is everything this module can report back.
type OutEvent struct {
	GenerateSyncResponse *GenerateSyncResponse
	KnownPeersResponse   []types.PeerID
	FinalizedTransaction *FinalizedTransaction
}

type GenerateSyncResponse struct {
	To   types.PeerID
	Sync wire.SyncJobs
}

type FinalizedTransaction struct {
	From      types.PeerID
	Tx        Transaction
	EventHash EventHash
}

// ModuleState is this module's published SharedState snapshot. Consensus
// bookkeeping is cheap and in-memory, so it never exerts back-pressure.
type ModuleState struct{}

func (ModuleState) AcceptsInput() bool { return true }

// Module owns the graph and the buffered local transactions awaiting
// inclusion in the next self-authored event.
type Module struct {
	self   types.PeerID
	g      *graph
	buffer []Transaction
}

// NewModule constructs the consensus module for the local peer, seeded with
// its own genesis event.
func NewModule(self types.PeerID) *Module {
	return &Module{self: self, g: newGraphInner(self)}
}

// Run drives the module off its bounded channel pair until ctx is
// cancelled, mirroring the teacher's own-goroutine-per-subsystem shape.
func Run(ctx context.Context, self types.PeerID, server *module.Server[InEvent, OutEvent, ModuleState]) {
	m := NewModule(self)
	for {
		select {
		case <-server.Done():
			return
		case in, ok := <-server.Input:
			if !ok {
				return
			}
			m.handle(server, in)
		}
	}
}

func (m *Module) handle(server *module.Server[InEvent, OutEvent, ModuleState], in InEvent) {
	switch {
	case in.ApplySync != nil:
		m.applySync(server, *in.ApplySync)
	case in.CreateStandalone:
		m.createStandalone()
	case in.ScheduleTx != nil:
		m.buffer = append(m.buffer, *in.ScheduleTx)
	case in.GenerateSyncReq != nil:
		m.generateSync(server, *in.GenerateSyncReq)
	case in.KnownPeersRequest:
		server.Output <- OutEvent{KnownPeersResponse: m.g.knownPeers()}
	}
	m.drainFinalized(server)
}

// applySync pushes every event of an incoming batch, then (if anything new
// landed) advances the local self-chain with an event acknowledging the
// merge, carrying any buffered local transactions. The acknowledging event's
// other-parent is the sender's own latest known event, not merely whichever
// event happened to be pushed last — a sync batch is the full topological
// suffix the sender holds, so it can legitimately carry events authored by
// peers other than the sender itself. If the sender has no known event at
// all, there is nothing to anchor to and ErrUnknownPeer is surfaced. An
// empty sync is a documented no-op boundary: nothing is pushed, no local
// event is created.
func (m *Module) applySync(server *module.Server[InEvent, OutEvent, ModuleState], sync ApplySync) {
	if len(sync.Sync.Events) == 0 {
		return
	}
	var merr error
	pushedAny := false
	for _, encoded := range sync.Sync.Events {
		e, err := DecodeEvent(encoded)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		if err := m.g.pushEvent(e); err != nil {
			if pe, ok := err.(*PushError); ok && pe.Reason == "duplicate event" {
				// already known: not an error worth surfacing, just skip it.
				continue
			}
			merr = multierror.Append(merr, err)
			continue
		}
		pushedAny = true
	}
	if merr != nil {
		log.Warnw("rejected events in sync batch", "from", sync.From, "error", merr)
	}
	if !pushedAny {
		return
	}
	otherParent, ok := m.g.peerLatestEvent(sync.From)
	if !ok {
		log.Warnw("sync batch from unknown peer", "from", sync.From, "error", ErrUnknownPeer)
		return
	}
	if _, err := m.g.createEvent(m.drainBuffer(), &otherParent); err != nil {
		log.Warnw("failed to create acknowledging event", "error", err)
	}
}

func (m *Module) createStandalone() {
	if _, err := m.g.createEvent(m.drainBuffer(), nil); err != nil {
		log.Warnw("failed to create standalone event", "error", err)
	}
}

func (m *Module) drainBuffer() []Transaction {
	if len(m.buffer) == 0 {
		return nil
	}
	out := m.buffer
	m.buffer = nil
	return out
}

func (m *Module) generateSync(server *module.Server[InEvent, OutEvent, ModuleState], to types.PeerID) {
	batch := m.g.syncFor(to)
	encoded := make([]wire.EncodedEvent, len(batch))
	for i, e := range batch {
		encoded[i] = EncodeEvent(e)
	}
	server.Output <- OutEvent{GenerateSyncResponse: &GenerateSyncResponse{
		To:   to,
		Sync: wire.SyncJobs{Events: encoded},
	}}
}

func (m *Module) drainFinalized(server *module.Server[InEvent, OutEvent, ModuleState]) {
	for {
		e, ok := m.g.nextFinalized()
		if !ok {
			return
		}
		for _, tx := range e.Payload {
			server.Output <- OutEvent{FinalizedTransaction: &FinalizedTransaction{
				From:      e.Author,
				Tx:        tx,
				EventHash: e.Hash,
			}}
		}
	}
}
