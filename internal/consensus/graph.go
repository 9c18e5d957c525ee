package consensus

import (
	"errors"
	"fmt"

	"github.com/the-swarm-net/swarmnode/internal/types"
)

// PushError is returned when a sync batch violates a DAG invariant: a
// missing parent, a duplicate event, or an event whose declared author
// doesn't match its self-chain.
type PushError struct {
	Hash   EventHash
	Reason string
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push event %s: %s", e.Hash, e.Reason)
}

// ErrUnknownPeer is logged by the module's applySync when `from` has no known
// event yet, so there is no other-parent to anchor the locally-authored event to.
var ErrUnknownPeer = errors.New("peer is unknown to the graph")

// graph is the DAG-growth engine: spec.md §4.2's opaque `inner`. It is
// intentionally simple — this system's Non-goals exclude Byzantine fault
// tolerance, so finality here is plain topological order of insertion
// (every event's parents are already present before it is accepted, so
// insertion order is a valid total order for any prefix common to peers
// that applied the same sequence of syncs). A production hashgraph-style
// weighted-finality algorithm would replace only this file.
type graph struct {
	self types.PeerID

	events map[EventHash]Event
	latest map[types.PeerID]EventHash
	order  []EventHash // topological insertion order; also the finality order

	finalizedCursor int
	sentTo          map[types.PeerID]int // gossip cursor per peer into `order`
}

func newGraphInner(self types.PeerID) *graph {
	g := &graph{
		self:   self,
		events: make(map[EventHash]Event),
		latest: make(map[types.PeerID]EventHash),
		sentTo: make(map[types.PeerID]int),
	}
	genesis := newEvent(self, nil, nil, 0, nil)
	g.insert(genesis)
	return g
}

func (g *graph) selfID() types.PeerID { return g.self }

func (g *graph) peerLatestEvent(peer types.PeerID) (EventHash, bool) {
	h, ok := g.latest[peer]
	return h, ok
}

func (g *graph) insert(e Event) {
	g.events[e.Hash] = e
	g.latest[e.Author] = e.Hash
	g.order = append(g.order, e.Hash)
}

// pushEvent validates and inserts one event received from a peer.
func (g *graph) pushEvent(e Event) error {
	if _, exists := g.events[e.Hash]; exists {
		return &PushError{Hash: e.Hash, Reason: "duplicate event"}
	}
	if e.SelfParent != nil {
		parent, ok := g.events[*e.SelfParent]
		if !ok {
			return &PushError{Hash: e.Hash, Reason: "self-parent not present"}
		}
		if parent.Author != e.Author {
			return &PushError{Hash: e.Hash, Reason: "self-parent authored by different peer"}
		}
		if parent.Seq+1 != e.Seq {
			return &PushError{Hash: e.Hash, Reason: "self-chain sequence gap"}
		}
	} else if e.Seq != 0 {
		return &PushError{Hash: e.Hash, Reason: "non-genesis event missing self-parent"}
	}
	if e.OtherParent != nil {
		if _, ok := g.events[*e.OtherParent]; !ok {
			return &PushError{Hash: e.Hash, Reason: "other-parent not present"}
		}
	}
	got := computeHash(e.Author, e.SelfParent, e.OtherParent, e.Seq, e.Payload)
	if got != e.Hash {
		return &PushError{Hash: e.Hash, Reason: "hash does not match declared content"}
	}
	g.insert(e)
	return nil
}

// createEvent authors a new event on the local self-chain.
func (g *graph) createEvent(payload []Transaction, otherParent *EventHash) (Event, error) {
	selfLatest, ok := g.latest[g.self]
	var selfParent *EventHash
	var seq uint64
	if ok {
		h := selfLatest
		selfParent = &h
		seq = g.events[selfLatest].Seq + 1
	} else {
		return Event{}, fmt.Errorf("local peer must know its own genesis event")
	}
	e := newEvent(g.self, selfParent, otherParent, seq, payload)
	g.insert(e)
	return e, nil
}

// nextFinalized pulls the next event that has reached finality, in the
// graph's deterministic total order.
func (g *graph) nextFinalized() (Event, bool) {
	if g.finalizedCursor >= len(g.order) {
		return Event{}, false
	}
	e := g.events[g.order[g.finalizedCursor]]
	g.finalizedCursor++
	return e, true
}

// syncFor computes the batch of events peer `to` is presumed to lack: the
// suffix of our topological order not yet sent to it.
func (g *graph) syncFor(to types.PeerID) []Event {
	start := g.sentTo[to]
	if start >= len(g.order) {
		return nil
	}
	batch := make([]Event, 0, len(g.order)-start)
	for _, h := range g.order[start:] {
		batch = append(batch, g.events[h])
	}
	g.sentTo[to] = len(g.order)
	return batch
}

// knownPeers returns every peer the graph has ever authored or received an
// event from, including the local peer.
func (g *graph) knownPeers() []types.PeerID {
	peers := make([]types.PeerID, 0, len(g.latest))
	for p := range g.latest {
		peers = append(peers, p)
	}
	return peers
}
