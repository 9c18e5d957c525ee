// Package swarmnet stands in for the libp2p Swarm executor: peer discovery,
// handshake cryptography and connection multiplexing are explicitly out of
// scope (spec.md §1), so this package only defines the event vocabulary and
// transport surface the orchestrator drives, plus a loopback implementation
// usable by tests and the demo harness.
//
// RequestId correlation is handled here rather than on the wire: spec.md §3
// is explicit that a RequestId is "a monotonically-assigned correlation
// token local to the orchestrator", never serialized. A real libp2p
// request-response behaviour correlates a reply to its request through the
// substream it arrived on; our loopback has no substreams, so SendRequest
// mints an id and threads it through the delivered events instead.
package swarmnet

import (
	"context"
	"sync"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"

	"github.com/the-swarm-net/swarmnode/internal/types"
	"github.com/the-swarm-net/swarmnode/internal/wire"
)

var log = logging.Logger("swarmnet")

// EventKind tags a Event.
type EventKind int

const (
	PeerDiscovered EventKind = iota
	PeerExpired
	ConnectionEstablished
	ConnectionClosed
	InboundGossip
	InboundRequest
	InboundResponse
)

// Event is everything the network surface can report to the orchestrator.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind
	Peer types.PeerID

	// OtherEstablished/RemainingEstablished mirror libp2p's connection
	// counting fields (spec.md §4.3 on_swarm_event): the count of
	// established connections to Peer other than this one, observed at the
	// moment this event fired.
	OtherEstablished     int
	RemainingEstablished int

	Gossip wire.SyncJobs

	ReqID    types.RequestId
	Request  wire.Request
	Response wire.Response
}

// Transport is the surface the orchestrator drives: gossip is fire-and-
// forget, requests mint a correlation id the eventual response event
// echoes back, and Events streams everything inbound (discovery,
// connection lifecycle, gossip, requests, responses).
type Transport interface {
	SendGossip(ctx context.Context, to types.PeerID, sync wire.SyncJobs) error
	SendRequest(ctx context.Context, to types.PeerID, req wire.Request) (types.RequestId, error)
	SendResponse(ctx context.Context, to types.PeerID, reqID types.RequestId, resp wire.Response) error
	Dial(ctx context.Context, to types.PeerID) error
	Events() <-chan Event
	Close()
}

// Loopback is an in-process Transport connecting a fixed set of named
// peers, used by the demo harness and by orchestrator tests in place of a
// real network stack. All peers built by one NewLoopbackNetwork call share
// a routing table, so Send*/Dial on one delivers the matching inbound
// event to another's Events channel.
type Loopback struct {
	self types.PeerID

	mu        sync.Mutex
	peers     map[types.PeerID]chan Event
	connected map[types.PeerID]bool
	out       chan Event
	nextReqID uint64
}

// NewLoopbackNetwork builds one connected Transport per named peer. No
// peers are connected to each other until Dial (or Announce) is called for
// a pair.
func NewLoopbackNetwork(peerNames []types.PeerID, bufferSize int) map[types.PeerID]*Loopback {
	peers := make(map[types.PeerID]chan Event, len(peerNames))
	for _, p := range peerNames {
		peers[p] = make(chan Event, bufferSize)
	}
	network := make(map[types.PeerID]*Loopback, len(peerNames))
	for _, p := range peerNames {
		network[p] = &Loopback{self: p, peers: peers, connected: make(map[types.PeerID]bool), out: peers[p]}
	}
	return network
}

func (l *Loopback) deliver(to types.PeerID, ev Event) {
	l.mu.Lock()
	ch, ok := l.peers[to]
	l.mu.Unlock()
	if !ok {
		log.Warnw("send to unknown peer", "to", to)
		return
	}
	select {
	case ch <- ev:
	default:
		log.Warnw("peer inbound queue saturated, dropping message", "to", to, "kind", ev.Kind)
	}
}

func (l *Loopback) SendGossip(ctx context.Context, to types.PeerID, sync wire.SyncJobs) error {
	l.deliver(to, Event{Kind: InboundGossip, Peer: l.self, Gossip: sync})
	return nil
}

func (l *Loopback) SendRequest(ctx context.Context, to types.PeerID, req wire.Request) (types.RequestId, error) {
	id := types.RequestId(atomic.AddUint64(&l.nextReqID, 1))
	l.deliver(to, Event{Kind: InboundRequest, Peer: l.self, ReqID: id, Request: req})
	return id, nil
}

func (l *Loopback) SendResponse(ctx context.Context, to types.PeerID, reqID types.RequestId, resp wire.Response) error {
	l.deliver(to, Event{Kind: InboundResponse, Peer: l.self, ReqID: reqID, Response: resp})
	return nil
}

// Dial establishes a bidirectional connection between self and to, firing
// ConnectionEstablished on both sides. Dialing an already-connected peer is
// a no-op, matching the "only if currently disconnected" condition
// spec.md §4.3 phase 2 attaches to dialing.
func (l *Loopback) Dial(ctx context.Context, to types.PeerID) error {
	l.mu.Lock()
	if l.connected[to] {
		l.mu.Unlock()
		return nil
	}
	l.connected[to] = true
	l.mu.Unlock()

	l.deliver(to, Event{Kind: ConnectionEstablished, Peer: l.self})
	l.deliver(l.self, Event{Kind: ConnectionEstablished, Peer: to})
	return nil
}

// CloseConnection tears down the connection to a peer from this side only
// (spec.md §7: transport errors close "the offending connection"; other
// peers continue unaffected).
func (l *Loopback) CloseConnection(to types.PeerID) {
	l.mu.Lock()
	wasConnected := l.connected[to]
	delete(l.connected, to)
	l.mu.Unlock()
	if !wasConnected {
		return
	}
	l.deliver(l.self, Event{Kind: ConnectionClosed, Peer: to})
}

func (l *Loopback) Events() <-chan Event { return l.out }

func (l *Loopback) Close() {}

// Announce injects a discovery or raw lifecycle event, letting the demo
// harness and tests script a fixed peer set without a real discovery
// backend.
func (l *Loopback) Announce(kind EventKind, peer types.PeerID) {
	select {
	case l.out <- Event{Kind: kind, Peer: peer}:
	default:
		log.Warnw("dropping network lifecycle event, queue saturated", "kind", kind, "peer", peer)
	}
}
