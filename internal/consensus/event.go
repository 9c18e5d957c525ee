package consensus

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/the-swarm-net/swarmnode/internal/types"
)

// EventHash content-addresses an Event: author, parents and payload.
type EventHash [sha256.Size]byte

func (h EventHash) String() string {
	return fmt.Sprintf("%x", h[:6])
}

var zeroHash EventHash

// Event is one node of the per-peer append-only chain woven into the DAG.
// It is immutable once inserted: spec.md §3 "An event is created, never
// mutated, never deleted."
type Event struct {
	Hash        EventHash
	Author      types.PeerID
	SelfParent  *EventHash // nil only for a peer's genesis event
	OtherParent *EventHash // nil for a standalone event (== self-parent case)
	Seq         uint64     // position in the author's self-chain, genesis == 0
	Payload     []Transaction
}

func computeHash(author types.PeerID, selfParent, otherParent *EventHash, seq uint64, payload []Transaction) EventHash {
	var buf bytes.Buffer
	buf.WriteString(string(author))
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	buf.Write(seqBuf[:])
	if selfParent != nil {
		buf.Write(selfParent[:])
	}
	if otherParent != nil {
		buf.Write(otherParent[:])
	}
	for _, tx := range payload {
		buf.WriteString(tx.String())
	}
	return sha256.Sum256(buf.Bytes())
}

func newEvent(author types.PeerID, selfParent, otherParent *EventHash, seq uint64, payload []Transaction) Event {
	e := Event{Author: author, SelfParent: selfParent, OtherParent: otherParent, Seq: seq, Payload: payload}
	e.Hash = computeHash(author, selfParent, otherParent, seq, payload)
	return e
}
