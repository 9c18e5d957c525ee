// Package module defines the bounded, bidirectional channel pair shared by
// the orchestrator and every subsystem it drives (consensus, data memory,
// instruction memory, processor). It generalizes the teacher's bounded
// task/result channel pairs (externalCh/completionCh/dispatchResultsCh in
// dagstore.go) into a reusable client/server pair keyed by the module's own
// event types.
package module

import (
	"context"
)

// State is the read-only snapshot a module publishes about itself. The
// orchestrator consults AcceptsInput before handing over new work; this is
// the sole back-pressure gate described in spec.md §4.1.
type State interface {
	AcceptsInput() bool
}

// Channel is one bounded mpsc pair plus the shared state snapshot and the
// shutdown signal every module exposes uniformly.
type Channel[In any, Out any, St State] struct {
	input  chan In
	output chan Out
	state  *atomicState[St]
	cancel context.CancelFunc
	ctx    context.Context
}

// atomicState holds the module's SharedState snapshot behind a channel-based
// single-writer/multi-reader cell: the server goroutine is the only writer,
// the client only reads. No locks, per spec.md §5.
type atomicState[St State] struct {
	ch chan St
	// last is the most recently observed value, used so Load() never
	// blocks once at least one state has been published.
	last St
}

func newAtomicState[St State](initial St) *atomicState[St] {
	s := &atomicState[St]{ch: make(chan St, 1), last: initial}
	s.ch <- initial
	return s
}

func (s *atomicState[St]) Store(v St) {
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}

func (s *atomicState[St]) Load() St {
	select {
	case v := <-s.ch:
		s.last = v
		select {
		case s.ch <- v:
		default: // a newer value was stored meanwhile; keep that one
		}
	default:
	}
	return s.last
}

// Pair is the two ends of a module channel: Server is driven by the
// module's own run loop, Client is driven by the orchestrator.
type Pair[In any, Out any, St State] struct {
	Server *Server[In, Out, St]
	Client *Client[In, Out, St]
}

// New builds a bounded channel pair with the given queue depth and initial
// shared state.
func New[In any, Out any, St State](ctx context.Context, bufferSize int, initial St) Pair[In, Out, St] {
	ctx, cancel := context.WithCancel(ctx)
	toModule := make(chan In, bufferSize)
	fromModule := make(chan Out, bufferSize)
	st := newAtomicState(initial)
	return Pair[In, Out, St]{
		Server: &Server[In, Out, St]{Input: toModule, Output: fromModule, state: st, ctx: ctx},
		Client: &Client[In, Out, St]{Input: toModule, Output: fromModule, state: st, ctx: ctx, cancel: cancel},
	}
}

// Server is the end owned by the module's own task: it reads In, writes Out,
// and publishes its own State.
type Server[In any, Out any, St State] struct {
	Input  <-chan In
	Output chan<- Out
	state  *atomicState[St]
	ctx    context.Context
}

func (s *Server[In, Out, St]) SetState(v St) { s.state.Store(v) }
func (s *Server[In, Out, St]) Done() <-chan struct{} { return s.ctx.Done() }

// Client is the end owned by the orchestrator: it writes In, reads Out, and
// observes the module's published State.
type Client[In any, Out any, St State] struct {
	Input  chan<- In
	Output <-chan Out
	state  *atomicState[St]
	ctx    context.Context
	cancel context.CancelFunc
}

// AcceptsInput reports the module's current back-pressure signal.
func (c *Client[In, Out, St]) AcceptsInput() bool {
	return c.state.Load().AcceptsInput()
}

// Shutdown trips the cancellation token shared with the module's run loop.
func (c *Client[In, Out, St]) Shutdown() { c.cancel() }

// TrySend attempts one non-blocking send, mirroring the teacher's
// single-attempt poll of a channel send (dagstore.go's queueTask, and the
// original source's policy of abandoning a send that would block rather
// than buffering it — spec.md §9 "polling-as-progress"). It returns:
//   - SendOK if the value was accepted immediately,
//   - SendClosed if the receiving half is gone,
//   - SendFull if the queue is saturated right now.
func (c *Client[In, Out, St]) TrySend(v In) SendResult {
	select {
	case c.Input <- v:
		return SendOK
	default:
	}
	select {
	case <-c.ctx.Done():
		return SendClosed
	default:
		return SendFull
	}
}

// TryRecv attempts one non-blocking receive of the module's output.
func (c *Client[In, Out, St]) TryRecv() (Out, RecvResult) {
	select {
	case v, ok := <-c.Output:
		if !ok {
			var zero Out
			return zero, RecvClosed
		}
		return v, RecvOK
	default:
		var zero Out
		return zero, RecvEmpty
	}
}

type SendResult int

const (
	SendOK SendResult = iota
	SendFull
	SendClosed
)

type RecvResult int

const (
	RecvOK RecvResult = iota
	RecvEmpty
	RecvClosed
)
