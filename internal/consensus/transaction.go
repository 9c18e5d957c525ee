package consensus

import (
	"fmt"

	"github.com/the-swarm-net/swarmnode/internal/types"
)

// TxKind tags the variant carried by a Transaction.
type TxKind int

const (
	TxStorageRequest TxKind = iota
	TxStored
	TxExecute
	TxExecuted
	TxInitializeStorage
)

// Transaction is the consensus payload: a tagged variant matching spec.md
// §3's five transaction kinds. Only the fields relevant to Kind are
// populated; the zero value of the others is ignored.
type Transaction struct {
	Kind TxKind

	// TxStorageRequest
	Address types.DataId

	// TxStored
	StoredData  types.DataId
	StoredShard types.ShardId

	// TxExecute
	Program types.Instructions

	// TxExecuted
	ProgramID types.ProgramId

	// TxInitializeStorage
	Distribution map[types.PeerID]types.ShardId
}

func NewStorageRequest(address types.DataId) Transaction {
	return Transaction{Kind: TxStorageRequest, Address: address}
}

func NewStored(d types.DataId, s types.ShardId) Transaction {
	return Transaction{Kind: TxStored, StoredData: d, StoredShard: s}
}

func NewExecute(program types.Instructions) Transaction {
	return Transaction{Kind: TxExecute, Program: program}
}

func NewExecuted(id types.ProgramId) Transaction {
	return Transaction{Kind: TxExecuted, ProgramID: id}
}

func NewInitializeStorage(distribution map[types.PeerID]types.ShardId) Transaction {
	return Transaction{Kind: TxInitializeStorage, Distribution: distribution}
}

func (t Transaction) String() string {
	switch t.Kind {
	case TxStorageRequest:
		return fmt.Sprintf("StorageRequest{%d}", t.Address)
	case TxStored:
		return fmt.Sprintf("Stored(%d,%d)", t.StoredData, t.StoredShard)
	case TxExecute:
		return fmt.Sprintf("Execute(%d instructions)", len(t.Program))
	case TxExecuted:
		return fmt.Sprintf("Executed(%s)", t.ProgramID)
	case TxInitializeStorage:
		return fmt.Sprintf("InitializeStorage(%d peers)", len(t.Distribution))
	default:
		return "Transaction(unknown)"
	}
}
