// Package datamemory is the shard-storage backend: it holds the shards the
// local peer is responsible for, serves them to the processor and to
// remote peers, and reconstructs a logical Data value from its shards on
// demand. The concrete backend adapts the teacher's go-datastore-backed
// shard store (dagstore.go wraps shards behind a content-addressed key
// space) into this domain's FullShardId key space.
package datamemory

import (
	"context"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dsq "github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/singleflight"

	"github.com/the-swarm-net/swarmnode/internal/types"
)

var log = logging.Logger("datamemory")

var shardsNamespace = ds.NewKey("/shards")

// Store is the concrete reference backend: an in-memory, mutex-guarded
// datastore keyed by FullShardId, with singleflight coalescing so that N
// concurrent local reads of the same shard produce exactly one datastore
// read (mirroring dagstore_async.go's single-flight acquisition of a shard
// already being fetched). It never fetches over the network itself.
type Store struct {
	ds   ds.Datastore
	sf   singleflight.Group
	self types.PeerID

	// distribution is the single peer -> shard-slot assignment the cluster
	// agreed on via a finalized TxInitializeStorage. It is global, not
	// per-datum: every Data value is split into exactly len(distribution)
	// shards, one per peer slot, and the same assignment is reused for
	// every datum the cluster ever stores.
	distribution map[types.PeerID]types.ShardId
	bySlot       map[types.ShardId]types.PeerID

	// confirmed tracks, per DataId, which shard slots have a finalized
	// TxStored transaction. Once every known slot is confirmed for a datum,
	// the Put that proposed it is considered fully distributed.
	confirmed map[types.DataId]map[types.ShardId]bool
}

func NewStore(self types.PeerID) *Store {
	base := dssync.MutexWrap(ds.NewMapDatastore())
	return &Store{
		ds:        namespace.Wrap(base, shardsNamespace),
		self:      self,
		bySlot:    make(map[types.ShardId]types.PeerID),
		confirmed: make(map[types.DataId]map[types.ShardId]bool),
	}
}

func shardKey(id types.FullShardId) ds.Key {
	return ds.NewKey(fmt.Sprintf("/%d/%d", id.Data, id.Shard))
}

// PutShard stores a shard this peer now holds, keyed by FullShardId.
func (s *Store) PutShard(ctx context.Context, id types.FullShardId, shard types.Shard) error {
	return s.ds.Put(ctx, shardKey(id), shard[:])
}

// GetShard reads a shard this peer holds locally. It returns
// ds.ErrNotFound if absent; callers needing network recollection
// should go through the orchestrator's GetShard/ServeShard request path
// instead. Concurrent callers asking for the same FullShardId (the
// processor prefetching an operand shared by several instructions, or a
// burst of ServeShardRequest/RecollectRequest events racing on the same
// datum) are coalesced into a single datastore read via singleflight.
func (s *Store) GetShard(ctx context.Context, id types.FullShardId) (types.Shard, error) {
	return s.coalesceFetch(id, func() (types.Shard, error) {
		raw, err := s.ds.Get(ctx, shardKey(id))
		if err != nil {
			return types.Shard{}, err
		}
		var shard types.Shard
		copy(shard[:], raw)
		return shard, nil
	})
}

// HasShard reports local presence without materializing the value.
func (s *Store) HasShard(ctx context.Context, id types.FullShardId) (bool, error) {
	return s.ds.Has(ctx, shardKey(id))
}

// LocalShardIds returns the distinct shard indices this peer is assigned —
// ordinarily exactly one, its own distribution slot. The processor replays
// a program once per entry returned here.
func (s *Store) LocalShardIds(ctx context.Context) ([]types.ShardId, error) {
	if sid, ok := s.AssignedShard(); ok {
		return []types.ShardId{sid}, nil
	}
	return nil, nil
}

// RecordDistribution registers a finalized TxInitializeStorage assignment.
// It is idempotent and last-write-wins, matching the fact that consensus
// only ever finalizes one TxInitializeStorage per running cluster in every
// scenario this node is expected to handle.
func (s *Store) RecordDistribution(dist map[types.PeerID]types.ShardId) {
	cp := make(map[types.PeerID]types.ShardId, len(dist))
	bySlot := make(map[types.ShardId]types.PeerID, len(dist))
	for p, sid := range dist {
		cp[p] = sid
		bySlot[sid] = p
	}
	s.distribution = cp
	s.bySlot = bySlot
}

// ShardCount is the number of shards every Data value is split into: one
// per distribution slot.
func (s *Store) ShardCount() int {
	return len(s.distribution)
}

// AssignedShard reports the shard index this peer owns, if the cluster has
// finalized a distribution yet.
func (s *Store) AssignedShard() (types.ShardId, bool) {
	sid, ok := s.distribution[s.self]
	return sid, ok
}

// LocationOf reports which peer currently owns a shard slot.
func (s *Store) LocationOf(sid types.ShardId) (types.PeerID, bool) {
	p, ok := s.bySlot[sid]
	return p, ok
}

// MarkConfirmed records a finalized TxStored and reports whether every
// distribution slot for this datum is now confirmed.
func (s *Store) MarkConfirmed(id types.DataId, sid types.ShardId) (complete bool) {
	set, ok := s.confirmed[id]
	if !ok {
		set = make(map[types.ShardId]bool)
		s.confirmed[id] = set
	}
	set[sid] = true
	return len(set) >= s.ShardCount() && s.ShardCount() > 0
}

// ListDistributed enumerates every datum this peer currently holds at least
// one shard of, by walking the namespace's query surface (exercising
// go-datastore's query package the way the teacher enumerates shard
// metadata). Each datum maps to this peer; which slots are held is not
// reported, and the known distribution is not consulted.
func (s *Store) ListDistributed(ctx context.Context) (map[types.DataId]types.PeerID, error) {
	results, err := s.ds.Query(ctx, dsq.Query{KeysOnly: true})
	if err != nil {
		return nil, fmt.Errorf("querying shard keys: %w", err)
	}
	defer results.Close()

	out := make(map[types.DataId]types.PeerID)
	for entry := range results.Next() {
		var data types.DataId
		var shard types.ShardId
		if _, err := fmt.Sscanf(entry.Key, "/%d/%d", &data, &shard); err != nil {
			continue
		}
		out[data] = s.self
	}
	return out, nil
}

// coalesceFetch ensures only one in-flight fetch exists per FullShardId
// across concurrent callers, returning the same result to all of them.
func (s *Store) coalesceFetch(id types.FullShardId, fetch func() (types.Shard, error)) (types.Shard, error) {
	key := fmt.Sprintf("%d:%d", id.Data, id.Shard)
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return fetch()
	})
	if err != nil {
		return types.Shard{}, err
	}
	return v.(types.Shard), nil
}
