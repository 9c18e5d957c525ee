// Package userio defines the user-facing module boundary of spec.md §6: the
// requests an embedding application (CLI, demo harness, future RPC front
// end) issues against a running node, and the responses the orchestrator
// emits back. It is a module.Channel pair like every other subsystem, but
// with the ends reversed: the orchestrator owns the Server end and the
// embedding application owns the Client end, since here the orchestrator is
// the one being driven.
package userio

import (
	"fmt"

	"github.com/the-swarm-net/swarmnode/internal/types"
)

// PutRequest carries a user-supplied logical value to be split into shards
// and distributed (plain splitting; no erasure coding is applied).
type PutRequest struct {
	Data  types.DataId
	Value types.Data
}

// RecollectionError is returned verbatim in a GetResponse when a Get could
// not be satisfied, per spec.md §7.
type RecollectionError struct {
	Data   types.DataId
	Reason string
}

func (e *RecollectionError) Error() string {
	return fmt.Sprintf("recollecting data %d: %s", e.Data, e.Reason)
}

// RecollectResult is the outcome of a Get: either the reassembled value or
// the reason reassembly failed.
type RecollectResult struct {
	Data  types.DataId
	Value types.Data
	Err   error
}

// InEvent is the request vocabulary a user can issue.
type InEvent struct {
	ScheduleProgram   *types.Instructions
	Get               *types.DataId
	Put               *PutRequest
	ListStored        bool
	InitializeStorage bool
}

// OutEvent is everything the orchestrator reports back to the user.
type OutEvent struct {
	ScheduleOk   bool
	GetResponse  *RecollectResult
	PutConfirmed *types.DataId

	// ListStoredResponse names every datum this peer holds a shard of. The
	// peer -> shard-slot assignment itself is global, not per-datum (set
	// once by InitializeStorage), so it isn't repeated per entry here.
	ListStoredResponse []types.DataId
	StorageInitialized bool
}

// State is this module's published SharedState. The user-interaction
// boundary never exerts back-pressure of its own; callers are throttled
// indirectly by the orchestrator's own fail-fast queues.
type State struct{}

func (State) AcceptsInput() bool { return true }
