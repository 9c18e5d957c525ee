// Package types holds the identifiers and value types shared by every
// module: data and shard handles, peer identity, the shard byte array, and
// the program instruction vocabulary.
package types

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// DataId names a logical datum; all of its shards share it.
type DataId uint64

// ShardId indexes a shard within a datum, and doubles as a peer's storage
// slot in a distribution map.
type ShardId uint64

// FullShardId addresses one shard of one datum.
type FullShardId struct {
	Data  DataId
	Shard ShardId
}

func (f FullShardId) String() string {
	return fmt.Sprintf("(%d,%d)", f.Data, f.Shard)
}

// RequestId is a correlation token local to the orchestrator, assigned to
// every outbound request so the matching response can be routed back.
type RequestId uint64

// ShardSize is the fixed width of a Shard, the unit of distributed storage
// and of finite-field computation.
const ShardSize = 4

// Shard is the unit of distributed storage: a fixed-size byte array
// interpreted element-wise over GF(2^8) by the processor.
type Shard [ShardSize]byte

// Data is a logical value split into ShardSize-byte shards; it is
// reassembled from all of its shards, in shard-index order.
type Data []byte

// PeerID is the network identity of a peer: a raw identity byte string held
// as a Go string (comparable and hashable, so it can key connected-peer sets
// and distribution maps directly) the way libp2p's own peer.ID does.
type PeerID string

// NewPeerID wraps raw identity bytes as a PeerID.
func NewPeerID(raw []byte) PeerID {
	return PeerID(raw)
}

// String renders the peer identity the way libp2p peer IDs are displayed:
// base58.
func (p PeerID) String() string {
	return base58.Encode([]byte(p))
}
