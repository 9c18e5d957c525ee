package datamemory

import (
	"context"
	"fmt"

	"github.com/the-swarm-net/swarmnode/internal/module"
	"github.com/the-swarm-net/swarmnode/internal/types"
)

// StoreConfirmed carries a finalized TxStored: some peer now holds a shard.
type StoreConfirmed struct {
	Data  types.DataId
	Shard types.ShardId
}

// StorageRequestTx carries a finalized TxStorageRequest: the peer named by
// From has a full origin copy of Address ready to hand out, and is asking
// the cluster to pull their assigned slots from it.
type StorageRequestTx struct {
	Address types.DataId
	From    types.PeerID
}

// PrepareServiceRequest carries a user Put: the logical value to split into
// ShardCount() shards and store, pending cluster-wide distribution.
type PrepareServiceRequest struct {
	Data  types.DataId
	Value types.Data
}

// ServeShardResult answers a remote peer's ServeShard request; a nil Shard
// means this peer no longer (or never did) hold it.
type ServeShardResult struct {
	Full  types.FullShardId
	Shard *types.Shard
}

// AssignedShardRequest asks the orchestrator to send an outbound GetShard
// request to Location, pulling the shard this peer is assigned but has not
// yet received from the datum's proposer.
type AssignedShardRequest struct {
	Full     types.FullShardId
	Location types.PeerID
}

// AssignedShardAnswer answers a remote peer's GetShard request (nil Shard
// if this peer doesn't hold that exact FullShardId), or carries the answer
// to one of this peer's own outstanding AssignedShardRequest fetches.
type AssignedShardAnswer struct {
	Full  types.FullShardId
	Shard *types.Shard
}

type InEvent struct {
	// Initialize carries a finalized TxInitializeStorage: the cluster-wide
	// peer -> shard-slot assignment, reused for every datum.
	Initialize        map[types.PeerID]types.ShardId
	StoreConfirmed    *StoreConfirmed
	StorageRequestTx  *StorageRequestTx
	PrepareService    *PrepareServiceRequest
	RecollectRequest  *types.DataId
	ListDistributed   bool

	// AssignedRequest/AssignedResponse/ServeShardRequest arrive from the
	// orchestrator after translating an inbound or resolved network
	// message; see the OutEvent doc comments for the matching direction.
	AssignedRequest   *types.FullShardId
	AssignedResponse  *AssignedShardAnswer
	ServeShardRequest *types.FullShardId
}

// RecollectResult is the outcome of a RecollectRequest: either the
// reassembled value or the reason reassembly could not be completed
// (spec.md §7 "RecollectionError: returned verbatim in GetResponse").
type RecollectResult struct {
	Data  types.DataId
	Value types.Data
	Err   error
}

// RecollectionError names why a RecollectRequest failed.
type RecollectionError struct {
	Data   types.DataId
	Reason string
}

func (e *RecollectionError) Error() string {
	return fmt.Sprintf("recollecting data %d: %s", e.Data, e.Reason)
}

type OutEvent struct {
	// AssignedStoreSuccess fires once this peer's own assigned shard for a
	// datum has been written, via either PrepareService (it was the
	// proposer) or an AssignedResponse fetch (it pulled its slot from the
	// proposer). The orchestrator schedules a TxStored for it.
	AssignedStoreSuccess *types.FullShardId

	// DistributionSuccess fires once every distribution slot for a datum
	// has a confirmed TxStored; the orchestrator reports PutConfirmed.
	DistributionSuccess *types.DataId

	// PreparedServiceResponse fires once a Put's origin copy is fully
	// written locally; the orchestrator schedules a TxStorageRequest.
	PreparedServiceResponse *types.DataId

	ServeShardResponse *ServeShardResult
	AssignedRequest    *AssignedShardRequest
	AssignedResponse   *AssignedShardAnswer

	RecollectedData *RecollectResult
	DistributedList map[types.DataId]types.PeerID
	Initialized     bool
}

// ModuleState reports whether the store can absorb more assignments. The
// reference backend is in-memory and unbounded for this exercise, so it
// always accepts — a disk-backed backend would gate on available space
// here instead.
type ModuleState struct{}

func (ModuleState) AcceptsInput() bool { return true }

// Run drives the store off its bounded channel pair.
func Run(ctx context.Context, store *Store, server *module.Server[InEvent, OutEvent, ModuleState]) {
	for {
		select {
		case <-server.Done():
			return
		case in, ok := <-server.Input:
			if !ok {
				return
			}
			handle(ctx, store, server, in)
		}
	}
}

func handle(ctx context.Context, store *Store, server *module.Server[InEvent, OutEvent, ModuleState], in InEvent) {
	switch {
	case in.Initialize != nil:
		store.RecordDistribution(in.Initialize)
		if sid, ok := store.AssignedShard(); ok {
			log.Infow("assigned shard slot", "shard", sid)
		}
		server.Output <- OutEvent{Initialized: true}

	case in.StoreConfirmed != nil:
		sc := in.StoreConfirmed
		if store.MarkConfirmed(sc.Data, sc.Shard) {
			server.Output <- OutEvent{DistributionSuccess: &sc.Data}
		}

	case in.StorageRequestTx != nil:
		handleStorageRequestTx(ctx, store, server, in.StorageRequestTx)

	case in.PrepareService != nil:
		handlePrepareService(ctx, store, server, in.PrepareService)

	case in.AssignedRequest != nil:
		// inbound GetShard wire request: answer with whatever this peer
		// physically holds for the exact FullShardId asked about.
		full := *in.AssignedRequest
		shard, err := store.GetShard(ctx, full)
		if err != nil {
			server.Output <- OutEvent{AssignedResponse: &AssignedShardAnswer{Full: full}}
			return
		}
		server.Output <- OutEvent{AssignedResponse: &AssignedShardAnswer{Full: full, Shard: &shard}}

	case in.AssignedResponse != nil:
		// inbound GetShard wire response, resolving this peer's own earlier
		// AssignedShardRequest: persist the fetched slot and let the
		// orchestrator know to schedule a TxStored for it.
		ans := in.AssignedResponse
		if ans.Shard == nil {
			log.Warnw("assigned shard fetch came back empty", "full", ans.Full)
			return
		}
		if err := store.PutShard(ctx, ans.Full, *ans.Shard); err != nil {
			log.Warnw("storing fetched assigned shard failed", "full", ans.Full, "error", err)
			return
		}
		server.Output <- OutEvent{AssignedStoreSuccess: &ans.Full}

	case in.ServeShardRequest != nil:
		// inbound ServeShard wire request: this peer is the current owner
		// of the shard slot and is asked to hand it over.
		full := *in.ServeShardRequest
		shard, err := store.GetShard(ctx, full)
		if err != nil {
			server.Output <- OutEvent{ServeShardResponse: &ServeShardResult{Full: full}}
			return
		}
		server.Output <- OutEvent{ServeShardResponse: &ServeShardResult{Full: full, Shard: &shard}}

	case in.RecollectRequest != nil:
		handleRecollectRequest(ctx, store, server, *in.RecollectRequest)

	case in.ListDistributed:
		listing, err := store.ListDistributed(ctx)
		if err != nil {
			log.Warnw("listing distributed data failed", "error", err)
			return
		}
		server.Output <- OutEvent{DistributedList: listing}
	}
}

// handleStorageRequestTx reacts to a finalized TxStorageRequest: every peer
// that owns a distribution slot for the datum and doesn't already hold it
// (the proposer already does, from PrepareService) fetches it from the
// proposer via an outbound GetShard request.
func handleStorageRequestTx(ctx context.Context, store *Store, server *module.Server[InEvent, OutEvent, ModuleState], tx *StorageRequestTx) {
	sid, ok := store.AssignedShard()
	if !ok {
		return
	}
	full := types.FullShardId{Data: tx.Address, Shard: sid}
	if has, _ := store.HasShard(ctx, full); has {
		return
	}
	server.Output <- OutEvent{AssignedRequest: &AssignedShardRequest{Full: full, Location: tx.From}}
}

// handlePrepareService splits a Put's value into ShardCount() shards (one
// per distribution slot, ShardSize bytes each, zero-padded if short) and
// stores every one of them locally as the origin copy: the proposer always
// holds a complete copy so that any peer's GetShard request can be served
// directly out of it during distribution.
func handlePrepareService(ctx context.Context, store *Store, server *module.Server[InEvent, OutEvent, ModuleState], req *PrepareServiceRequest) {
	n := store.ShardCount()
	if n == 0 {
		n = 1
	}
	for sid := 0; sid < n; sid++ {
		var shard types.Shard
		start := sid * types.ShardSize
		if start < len(req.Value) {
			end := start + types.ShardSize
			if end > len(req.Value) {
				end = len(req.Value)
			}
			copy(shard[:], req.Value[start:end])
		}
		full := types.FullShardId{Data: req.Data, Shard: types.ShardId(sid)}
		if err := store.PutShard(ctx, full, shard); err != nil {
			log.Warnw("writing origin shard failed", "full", full, "error", err)
			return
		}
	}
	if mine, ok := store.AssignedShard(); ok {
		mineFull := types.FullShardId{Data: req.Data, Shard: mine}
		server.Output <- OutEvent{AssignedStoreSuccess: &mineFull}
	}
	server.Output <- OutEvent{PreparedServiceResponse: &req.Data}
}

// handleRecollectRequest gathers every distribution slot this peer holds
// locally for a datum and reassembles it in shard-index order. Slots this
// peer doesn't physically hold are not fetched here — the orchestrator's
// AssignedShardRequest/ServeShardRequest flow is expected to have already
// settled them by the time a Get is issued (spec.md §8's Put-then-Get
// scenarios always wait for PutConfirmed first). The erasure-coding math
// that would let this assemble from fewer than all shards is explicitly a
// black box this peer doesn't implement (spec.md's own scope boundary).
func handleRecollectRequest(ctx context.Context, store *Store, server *module.Server[InEvent, OutEvent, ModuleState], id types.DataId) {
	n := store.ShardCount()
	if n == 0 {
		server.Output <- OutEvent{RecollectedData: &RecollectResult{
			Data: id,
			Err:  &RecollectionError{Data: id, Reason: "no distribution known for this datum"},
		}}
		return
	}
	data := make(types.Data, 0, n*types.ShardSize)
	for sid := 0; sid < n; sid++ {
		shard, err := store.GetShard(ctx, types.FullShardId{Data: id, Shard: types.ShardId(sid)})
		if err != nil {
			server.Output <- OutEvent{RecollectedData: &RecollectResult{
				Data: id,
				Err:  &RecollectionError{Data: id, Reason: "not enough shards gathered to reconstruct the datum"},
			}}
			return
		}
		data = append(data, shard[:]...)
	}
	server.Output <- OutEvent{RecollectedData: &RecollectResult{Data: id, Value: data}}
}
