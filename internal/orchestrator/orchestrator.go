// Package orchestrator is the Behaviour of spec.md §4.3: a single,
// non-blocking poll loop multiplexing the network transport and every
// subsystem module, in a fixed phase order. It is the Go translation of the
// teacher's control()/consumeNext() goroutine (other_examples'
// dagstore_control.go): pull whatever is ready from a priority-ordered set
// of sources, dispatch by a tag switch, mutate local bookkeeping, and loop —
// except here there is no single internal task queue to prioritize first,
// so each phase polls its own source in the fixed order spec.md lays out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/exp/slices"

	"github.com/the-swarm-net/swarmnode/internal/consensus"
	"github.com/the-swarm-net/swarmnode/internal/datamemory"
	"github.com/the-swarm-net/swarmnode/internal/instructionmemory"
	"github.com/the-swarm-net/swarmnode/internal/module"
	"github.com/the-swarm-net/swarmnode/internal/processor"
	"github.com/the-swarm-net/swarmnode/internal/swarmnet"
	"github.com/the-swarm-net/swarmnode/internal/types"
	"github.com/the-swarm-net/swarmnode/internal/userio"
	"github.com/the-swarm-net/swarmnode/internal/wire"
)

var log = logging.Logger("orchestrator")

// ErrShutdown is returned by Poll/Run once the embedding application has
// called the user-channel Client's Shutdown.
var ErrShutdown = errors.New("orchestrator: shutdown requested")

// UnableToOperateError is the fatal condition of spec.md §9: a module
// queue is saturated or closed outside the gossip send path, which is the
// one phase allowed to silently drop work under back-pressure.
type UnableToOperateError struct {
	Phase string
	Cause string
}

func (e *UnableToOperateError) Error() string {
	return fmt.Sprintf("unable to operate: %s: %s", e.Phase, e.Cause)
}

// waiter is one peer awaiting a reply to an inbound request this node is
// still resolving locally.
type waiter struct {
	from  types.PeerID
	reqID types.RequestId
}

// Orchestrator wires every subsystem's Client end to the network transport
// and to the user-facing Server end, and drives all of it from Poll.
type Orchestrator struct {
	self types.PeerID
	net  swarmnet.Transport

	consensus   *module.Client[consensus.InEvent, consensus.OutEvent, consensus.ModuleState]
	dataMemory  *module.Client[datamemory.InEvent, datamemory.OutEvent, datamemory.ModuleState]
	instrMemory *module.Client[instructionmemory.InEvent, instructionmemory.OutEvent, instructionmemory.ModuleState]
	processor   *module.Client[processor.InEvent, processor.OutEvent, processor.ReadinessState]
	user        *module.Server[userio.InEvent, userio.OutEvent, userio.State]

	discoveredPeers []types.PeerID
	connectedPeers  map[types.PeerID]struct{}

	// pendingResponse tracks outbound requests this node issued, keyed by
	// the correlation id the transport minted at send time.
	pendingResponse map[types.RequestId]wire.Request

	// processedRequests fans an inbound request out to every peer that
	// asked for the same FullShardId concurrently, so one local answer
	// resolves all of them (mirrors dagstore's dispatchResult waiter list).
	processedRequests map[wire.Request][]waiter

	rng *rand.Rand

	gossipEvery  time.Duration
	nextGossipAt time.Time
}

// Deps bundles every subsystem's Client/Server end the orchestrator drives.
type Deps struct {
	Self        types.PeerID
	Net         swarmnet.Transport
	Consensus   *module.Client[consensus.InEvent, consensus.OutEvent, consensus.ModuleState]
	DataMemory  *module.Client[datamemory.InEvent, datamemory.OutEvent, datamemory.ModuleState]
	InstrMemory *module.Client[instructionmemory.InEvent, instructionmemory.OutEvent, instructionmemory.ModuleState]
	Processor   *module.Client[processor.InEvent, processor.OutEvent, processor.ReadinessState]
	User        *module.Server[userio.InEvent, userio.OutEvent, userio.State]

	// GossipEvery is the interval at which a random connected peer is sent
	// a sync batch; zero disables the timer entirely (useful in tests that
	// drive gossip manually).
	GossipEvery time.Duration
	Seed        int64
}

func New(d Deps) *Orchestrator {
	gossipEvery := d.GossipEvery
	var next time.Time
	if gossipEvery > 0 {
		next = time.Now().Add(gossipEvery)
	}
	return &Orchestrator{
		self:              d.Self,
		net:               d.Net,
		consensus:         d.Consensus,
		dataMemory:        d.DataMemory,
		instrMemory:       d.InstrMemory,
		processor:         d.Processor,
		user:              d.User,
		connectedPeers:    make(map[types.PeerID]struct{}),
		pendingResponse:   make(map[types.RequestId]wire.Request),
		processedRequests: make(map[wire.Request][]waiter),
		rng:               rand.New(rand.NewSource(d.Seed)),
		gossipEvery:       gossipEvery,
		nextGossipAt:      next,
	}
}

// Run drives Poll to completion, backing off briefly whenever a poll does
// no work so the goroutine doesn't spin. It returns ErrShutdown on a clean
// user-initiated stop, or the first UnableToOperateError encountered.
func (o *Orchestrator) Run(ctx context.Context) error {
	const idleBackoff = 2 * time.Millisecond
	for {
		progressed, err := o.Poll(ctx)
		if err != nil {
			return err
		}
		if progressed {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(idleBackoff):
		}
	}
}

// Poll runs every phase once, in the fixed order spec.md §4.3 lays out, and
// reports whether any phase did anything. It never blocks.
func (o *Orchestrator) Poll(ctx context.Context) (progressed bool, err error) {
	if o.isShuttingDown() {
		return progressed, ErrShutdown
	}

	if o.dialNextDiscovered(ctx) {
		progressed = true
	}

	p, err := o.drainNetwork(ctx)
	progressed = progressed || p
	if err != nil {
		return progressed, err
	}

	p, err = o.drainDataMemory(ctx)
	progressed = progressed || p
	if err != nil {
		return progressed, err
	}

	if p := o.drainUser(ctx); p {
		progressed = true
	}

	p, err = o.drainProcessor(ctx)
	progressed = progressed || p
	if err != nil {
		return progressed, err
	}

	p, err = o.drainInstructionMemory(ctx)
	progressed = progressed || p
	if err != nil {
		return progressed, err
	}

	p, err = o.drainConsensus(ctx)
	progressed = progressed || p
	if err != nil {
		return progressed, err
	}

	if p := o.maybeGossip(ctx); p {
		progressed = true
	}

	return progressed, nil
}

func (o *Orchestrator) isShuttingDown() bool {
	select {
	case <-o.user.Done():
		return true
	default:
		return false
	}
}

// dialNextDiscovered pops one discovered peer per tick and dials it, unless
// already connected (spec.md §4.3 phase 2).
func (o *Orchestrator) dialNextDiscovered(ctx context.Context) bool {
	if len(o.discoveredPeers) == 0 {
		return false
	}
	peer := o.discoveredPeers[0]
	o.discoveredPeers = o.discoveredPeers[1:]
	if _, connected := o.connectedPeers[peer]; connected {
		return true
	}
	if err := o.net.Dial(ctx, peer); err != nil {
		log.Warnw("dial failed", "peer", peer, "error", err)
	}
	return true
}

// drainNetwork empties the transport's event stream, dispatching each
// event before pulling the next (spec.md §4.3 phase 3).
func (o *Orchestrator) drainNetwork(ctx context.Context) (bool, error) {
	progressed := false
	for {
		select {
		case ev, ok := <-o.net.Events():
			if !ok {
				return progressed, &UnableToOperateError{Phase: "network", Cause: "event stream closed"}
			}
			progressed = true
			if err := o.handleNetworkEvent(ctx, ev); err != nil {
				return progressed, err
			}
		default:
			return progressed, nil
		}
	}
}

func (o *Orchestrator) handleNetworkEvent(ctx context.Context, ev swarmnet.Event) error {
	switch ev.Kind {
	case swarmnet.PeerDiscovered:
		o.discoveredPeers = append(o.discoveredPeers, ev.Peer)

	case swarmnet.PeerExpired:
		log.Debugw("peer expired, no-op", "peer", ev.Peer)

	case swarmnet.ConnectionEstablished:
		if ev.OtherEstablished == 0 {
			o.connectedPeers[ev.Peer] = struct{}{}
		}

	case swarmnet.ConnectionClosed:
		if ev.RemainingEstablished == 0 {
			delete(o.connectedPeers, ev.Peer)
		}

	case swarmnet.InboundGossip:
		res := o.consensus.TrySend(consensus.InEvent{ApplySync: &consensus.ApplySync{From: ev.Peer, Sync: ev.Gossip}})
		if err := failFast("consensus", res); err != nil {
			return err
		}

	case swarmnet.InboundRequest:
		if err := o.handleInboundRequest(ev); err != nil {
			return err
		}

	case swarmnet.InboundResponse:
		if err := o.handleInboundResponse(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) handleInboundRequest(ev swarmnet.Event) error {
	req := ev.Request
	o.processedRequests[req] = append(o.processedRequests[req], waiter{from: ev.Peer, reqID: ev.ReqID})

	switch req.Kind {
	case wire.ReqGetShard:
		full := req.FullID
		return failFast("datamemory", o.dataMemory.TrySend(datamemory.InEvent{AssignedRequest: &full}))
	case wire.ReqServeShard:
		full := req.FullID
		return failFast("datamemory", o.dataMemory.TrySend(datamemory.InEvent{ServeShardRequest: &full}))
	default:
		log.Warnw("inbound request of unknown kind", "kind", req.Kind)
		return nil
	}
}

func (o *Orchestrator) handleInboundResponse(ctx context.Context, ev swarmnet.Event) error {
	req, ok := o.pendingResponse[ev.ReqID]
	if !ok {
		log.Warnw("response with no matching pending request, dropping", "reqID", ev.ReqID)
		return nil
	}
	delete(o.pendingResponse, ev.ReqID)
	if !req.Matches(ev.Response) {
		log.Warnw("response kind mismatch, dropping", "reqID", ev.ReqID)
		return nil
	}

	switch req.Kind {
	case wire.ReqGetShard:
		ans := &datamemory.AssignedShardAnswer{Full: req.FullID, Shard: ev.Response.Shard}
		return failFast("datamemory", o.dataMemory.TrySend(datamemory.InEvent{AssignedResponse: ans}))
	case wire.ReqServeShard:
		// ServeShard responses answer a recollection fetch this simplified
		// reference implementation doesn't issue (see datamemory's
		// handleRecollectRequest doc comment); still a valid protocol
		// reply, just nothing currently correlates to it.
		log.Debugw("serve-shard response received with no consumer", "full", req.FullID)
		return nil
	default:
		return nil
	}
}

// drainDataMemory empties data_memory's output, translating each event per
// spec.md §4.3 phase 4.
func (o *Orchestrator) drainDataMemory(ctx context.Context) (bool, error) {
	progressed := false
	for {
		out, res := o.dataMemory.TryRecv()
		if res != module.RecvOK {
			if res == module.RecvClosed {
				return progressed, &UnableToOperateError{Phase: "datamemory", Cause: "output channel closed"}
			}
			return progressed, nil
		}
		progressed = true
		if err := o.handleDataMemoryOut(ctx, out); err != nil {
			return progressed, err
		}
	}
}

func (o *Orchestrator) handleDataMemoryOut(ctx context.Context, out datamemory.OutEvent) error {
	switch {
	case out.AssignedStoreSuccess != nil:
		full := *out.AssignedStoreSuccess
		return o.submitTx(consensus.NewStored(full.Data, full.Shard))

	case out.DistributionSuccess != nil:
		o.emitToUser(userio.OutEvent{PutConfirmed: out.DistributionSuccess})

	case out.PreparedServiceResponse != nil:
		return o.submitTx(consensus.NewStorageRequest(*out.PreparedServiceResponse))

	case out.ServeShardResponse != nil:
		o.resolveWaiters(ctx, wire.Request{Kind: wire.ReqServeShard, FullID: out.ServeShardResponse.Full}, out.ServeShardResponse.Shard)

	case out.AssignedRequest != nil:
		req := wire.Request{Kind: wire.ReqGetShard, FullID: out.AssignedRequest.Full}
		reqID, err := o.net.SendRequest(ctx, out.AssignedRequest.Location, req)
		if err != nil {
			log.Warnw("sending outbound GetShard request failed", "error", err)
			return nil
		}
		o.pendingResponse[reqID] = req

	case out.AssignedResponse != nil:
		o.resolveWaiters(ctx, wire.Request{Kind: wire.ReqGetShard, FullID: out.AssignedResponse.Full}, out.AssignedResponse.Shard)

	case out.RecollectedData != nil:
		o.emitToUser(userio.OutEvent{GetResponse: &userio.RecollectResult{
			Data:  out.RecollectedData.Data,
			Value: out.RecollectedData.Value,
			Err:   out.RecollectedData.Err,
		}})

	case out.DistributedList != nil:
		ids := make([]types.DataId, 0, len(out.DistributedList))
		for id := range out.DistributedList {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		o.emitToUser(userio.OutEvent{ListStoredResponse: ids})

	case out.Initialized:
		o.emitToUser(userio.OutEvent{StorageInitialized: true})
	}
	return nil
}

// resolveWaiters answers every peer that asked for the same FullShardId,
// mirroring dagstore's dispatchResult fanning one outcome out to every
// registered waiter.
func (o *Orchestrator) resolveWaiters(ctx context.Context, req wire.Request, shard *types.Shard) {
	waiters := o.processedRequests[req]
	delete(o.processedRequests, req)
	for _, w := range waiters {
		if err := o.net.SendResponse(ctx, w.from, w.reqID, wire.Response{Kind: req.Kind, Shard: shard}); err != nil {
			log.Warnw("sending response failed", "to", w.from, "error", err)
		}
	}
}

// drainUser empties the user-facing inbound queue (spec.md §4.3 phase 5).
func (o *Orchestrator) drainUser(ctx context.Context) bool {
	progressed := false
	for {
		select {
		case in, ok := <-o.user.Input:
			if !ok {
				return progressed
			}
			progressed = true
			o.handleUserIn(ctx, in)
		default:
			return progressed
		}
	}
}

func (o *Orchestrator) handleUserIn(ctx context.Context, in userio.InEvent) {
	switch {
	case in.ScheduleProgram != nil:
		if err := o.submitTx(consensus.NewExecute(*in.ScheduleProgram)); err != nil {
			log.Warnw("scheduling program failed", "error", err)
			return
		}
		o.emitToUser(userio.OutEvent{ScheduleOk: true})

	case in.Get != nil:
		id := *in.Get
		if err := failFast("datamemory", o.dataMemory.TrySend(datamemory.InEvent{RecollectRequest: &id})); err != nil {
			log.Warnw("forwarding Get failed", "error", err)
		}

	case in.Put != nil:
		req := &datamemory.PrepareServiceRequest{Data: in.Put.Data, Value: in.Put.Value}
		if err := failFast("datamemory", o.dataMemory.TrySend(datamemory.InEvent{PrepareService: req})); err != nil {
			log.Warnw("forwarding Put failed", "error", err)
		}

	case in.ListStored:
		if err := failFast("datamemory", o.dataMemory.TrySend(datamemory.InEvent{ListDistributed: true})); err != nil {
			log.Warnw("forwarding ListStored failed", "error", err)
		}

	case in.InitializeStorage:
		dist := o.computeDistribution()
		if err := o.submitTx(consensus.NewInitializeStorage(dist)); err != nil {
			log.Warnw("initializing storage failed", "error", err)
		}
	}
}

// computeDistribution assigns a shard slot to every peer this node
// currently knows about (itself plus every connected peer), in a
// deterministic order so every peer applying the same finalized transaction
// computes the same assignment.
func (o *Orchestrator) computeDistribution() map[types.PeerID]types.ShardId {
	peers := make([]types.PeerID, 0, len(o.connectedPeers)+1)
	peers = append(peers, o.self)
	for p := range o.connectedPeers {
		peers = append(peers, p)
	}
	slices.Sort(peers)

	dist := make(map[types.PeerID]types.ShardId, len(peers))
	for i, p := range peers {
		dist[p] = types.ShardId(i)
	}
	return dist
}

func (o *Orchestrator) emitToUser(ev userio.OutEvent) {
	select {
	case o.user.Output <- ev:
	default:
		log.Warnw("user output queue saturated, dropping response")
	}
}

// drainProcessor empties the processor's output (spec.md §4.3 phase 6).
func (o *Orchestrator) drainProcessor(ctx context.Context) (bool, error) {
	progressed := false
	for {
		out, res := o.processor.TryRecv()
		if res != module.RecvOK {
			if res == module.RecvClosed {
				return progressed, &UnableToOperateError{Phase: "processor", Cause: "output channel closed"}
			}
			return progressed, nil
		}
		progressed = true
		if out.FinishedExecution == nil {
			continue
		}
		fin := out.FinishedExecution
		for _, r := range fin.Results {
			if r.Err != nil {
				log.Warnw("instruction failed", "program", fin.ProgramID, "result", r.Result, "error", r.Err)
			}
		}
		if err := o.submitTx(consensus.NewExecuted(fin.ProgramID)); err != nil {
			return progressed, err
		}
		id := fin.ProgramID
		if err := failFast("instructionmemory", o.instrMemory.TrySend(instructionmemory.InEvent{ExecutedProgram: &id})); err != nil {
			return progressed, err
		}
	}
}

// drainInstructionMemory forwards the next finalized program to the
// processor, but only when the processor currently accepts input — this is
// the back-pressure gate of spec.md §4.3 phase 7.
func (o *Orchestrator) drainInstructionMemory(ctx context.Context) (bool, error) {
	if !o.processor.AcceptsInput() {
		return false, nil
	}
	out, res := o.instrMemory.TryRecv()
	if res != module.RecvOK {
		if res == module.RecvClosed {
			return false, &UnableToOperateError{Phase: "instructionmemory", Cause: "output channel closed"}
		}
		return false, nil
	}
	if out.NextProgram == nil {
		return true, nil
	}
	err := failFast("processor", o.processor.TrySend(processor.InEvent{NextProgram: out.NextProgram}))
	return true, err
}

// drainConsensus empties consensus's output (spec.md §4.3 phase 8).
func (o *Orchestrator) drainConsensus(ctx context.Context) (bool, error) {
	progressed := false
	for {
		out, res := o.consensus.TryRecv()
		if res != module.RecvOK {
			if res == module.RecvClosed {
				return progressed, &UnableToOperateError{Phase: "consensus", Cause: "output channel closed"}
			}
			return progressed, nil
		}
		progressed = true
		if err := o.handleConsensusOut(ctx, out); err != nil {
			return progressed, err
		}
	}
}

func (o *Orchestrator) handleConsensusOut(ctx context.Context, out consensus.OutEvent) error {
	switch {
	case out.GenerateSyncResponse != nil:
		resp := out.GenerateSyncResponse
		if err := o.net.SendGossip(ctx, resp.To, resp.Sync); err != nil {
			log.Warnw("gossip send failed", "to", resp.To, "error", err)
		}

	case out.KnownPeersResponse != nil:
		log.Debugw("known peers", "peers", out.KnownPeersResponse)

	case out.FinalizedTransaction != nil:
		return o.handleFinalizedTransaction(*out.FinalizedTransaction)
	}
	return nil
}

func (o *Orchestrator) handleFinalizedTransaction(f consensus.FinalizedTransaction) error {
	tx := f.Tx
	switch tx.Kind {
	case consensus.TxInitializeStorage:
		return failFast("datamemory", o.dataMemory.TrySend(datamemory.InEvent{Initialize: tx.Distribution}))

	case consensus.TxStorageRequest:
		return failFast("datamemory", o.dataMemory.TrySend(datamemory.InEvent{
			StorageRequestTx: &datamemory.StorageRequestTx{Address: tx.Address, From: f.From},
		}))

	case consensus.TxStored:
		return failFast("datamemory", o.dataMemory.TrySend(datamemory.InEvent{
			StoreConfirmed: &datamemory.StoreConfirmed{Data: tx.StoredData, Shard: tx.StoredShard},
		}))

	case consensus.TxExecute:
		program, err := types.NewProgram(tx.Program, f.EventHash[:])
		if err != nil {
			log.Warnw("deriving program id failed", "error", err)
			return nil
		}
		return failFast("instructionmemory", o.instrMemory.TrySend(instructionmemory.InEvent{FinalizedProgram: &program}))

	case consensus.TxExecuted:
		// the processor's own FinishedExecution output is this node's
		// authoritative completion record (see instructionmemory's doc
		// comment); a finalized Executed tx is bookkeeping only.
		log.Debugw("program executed", "program", tx.ProgramID)
	}
	return nil
}

// maybeGossip fires the gossip timer: per spec.md §4.3 phase 9, it always
// authors a standalone event first (flushing whatever transactions have
// been scheduled since the last tick — at most one standalone event per
// tick), then, if any peer is connected, picks one uniformly at random and
// asks consensus for a sync batch targeting it. Both sends tolerate drops
// (phase 9 is the one path exempt from the fail-fast policy), since a
// missed tick is just retried on the next one.
func (o *Orchestrator) maybeGossip(ctx context.Context) bool {
	if o.gossipEvery <= 0 || time.Now().Before(o.nextGossipAt) {
		return false
	}
	o.nextGossipAt = time.Now().Add(o.gossipEvery)

	if res := o.consensus.TrySend(consensus.InEvent{CreateStandalone: true}); res != module.SendOK {
		log.Debugw("gossip tick standalone-event request dropped, consensus queue busy")
	}

	if len(o.connectedPeers) == 0 {
		return true
	}
	peers := make([]types.PeerID, 0, len(o.connectedPeers))
	for p := range o.connectedPeers {
		peers = append(peers, p)
	}
	target := peers[o.rng.Intn(len(peers))]

	res := o.consensus.TrySend(consensus.InEvent{GenerateSyncReq: &target})
	if res != module.SendOK {
		log.Debugw("gossip tick dropped, consensus queue busy", "target", target)
	}
	return true
}

// submitTx only buffers a transaction for inclusion in the next authored
// event (spec.md §4.2/§5: "at most one standalone event per timer tick").
// It does not itself author an event — that happens solely via the gossip
// timer's CreateStandalone (maybeGossip) or an incoming sync batch's
// acknowledging event, so independently scheduled transactions get batched
// together instead of each minting its own event.
func (o *Orchestrator) submitTx(tx consensus.Transaction) error {
	return failFast("consensus", o.consensus.TrySend(consensus.InEvent{ScheduleTx: &tx}))
}

// failFast turns a non-OK SendResult into the fatal UnableToOperateError of
// spec.md §9, except for SendOK.
func failFast(phase string, res module.SendResult) error {
	switch res {
	case module.SendOK:
		return nil
	case module.SendFull:
		return &UnableToOperateError{Phase: phase, Cause: "queue saturated"}
	case module.SendClosed:
		return &UnableToOperateError{Phase: phase, Cause: "module shut down"}
	default:
		return nil
	}
}
