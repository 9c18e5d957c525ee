// Package wire defines the messages exchanged between peers: the one-shot
// gossip message and the request/response pair of spec.md §6, plus the
// envelope that stamps every message with a protocol-version token and
// carries it over the wire in a stable, self-describing encoding.
package wire

import (
	"github.com/the-swarm-net/swarmnode/internal/types"
)

// ProtocolVersion gates wire compatibility. Only V1 is defined.
type ProtocolVersion uint8

const V1 ProtocolVersion = 1

// EncodedTransaction is the wire projection of a consensus transaction: a
// flat, tagged record with every variant's fields present (zero otherwise),
// so the codec never needs a union type.
type EncodedTransaction struct {
	Kind uint64

	Address types.DataId

	StoredData  types.DataId
	StoredShard types.ShardId

	Program []EncodedInstruction

	ProgramID []byte

	DistributionPeers []string
	DistributionSlots []types.ShardId
}

// EncodedInstruction is the wire projection of one program step.
type EncodedInstruction struct {
	Kind   uint64
	First  types.DataId
	Second types.DataId
	Result types.DataId
}

// EncodedEvent is the wire projection of a consensus event: hashes travel as
// raw bytes, absent parents as nil slices.
type EncodedEvent struct {
	Hash        []byte
	Author      string
	SelfParent  []byte
	OtherParent []byte
	Seq         uint64
	Payload     []EncodedTransaction
}

// SyncJobs is a topologically-sorted batch of DAG events the recipient is
// presumed to lack (spec.md glossary: "Sync (Jobs)").
type SyncJobs struct {
	Events []EncodedEvent
}

// Simple is the one-shot message family: gossip of a sync batch.
type Simple struct {
	GossipGraph SyncJobs
}

// RequestKind tags a Request/Response pair.
type RequestKind uint8

const (
	ReqGetShard RequestKind = iota
	ReqServeShard
)

// Request is the request half of the request/response family.
type Request struct {
	Kind   RequestKind
	FullID types.FullShardId
}

// Response is the response half. For ReqGetShard, Shard==nil means the
// sender no longer holds the shard.
type Response struct {
	Kind  RequestKind
	Shard *types.Shard
}

// Matches reports whether resp is a structurally valid reply to req (same
// kind). A mismatch is the ProtocolMismatch condition of spec.md §7.
func (req Request) Matches(resp Response) bool {
	return req.Kind == resp.Kind
}
