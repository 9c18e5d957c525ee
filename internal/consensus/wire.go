package consensus

import (
	"fmt"

	"github.com/the-swarm-net/swarmnode/internal/types"
	"github.com/the-swarm-net/swarmnode/internal/wire"
)

func encodeTransaction(tx Transaction) wire.EncodedTransaction {
	et := wire.EncodedTransaction{Kind: uint64(tx.Kind)}
	switch tx.Kind {
	case TxStorageRequest:
		et.Address = tx.Address
	case TxStored:
		et.StoredData = tx.StoredData
		et.StoredShard = tx.StoredShard
	case TxExecute:
		et.Program = make([]wire.EncodedInstruction, len(tx.Program))
		for i, instr := range tx.Program {
			et.Program[i] = wire.EncodedInstruction{
				Kind:   uint64(instr.Operation.Kind),
				First:  instr.Operation.First,
				Second: instr.Operation.Second,
				Result: instr.Result,
			}
		}
	case TxExecuted:
		et.ProgramID = tx.ProgramID.Bytes()
	case TxInitializeStorage:
		et.DistributionPeers = make([]string, 0, len(tx.Distribution))
		et.DistributionSlots = make([]types.ShardId, 0, len(tx.Distribution))
		for peer, slot := range tx.Distribution {
			et.DistributionPeers = append(et.DistributionPeers, string(peer))
			et.DistributionSlots = append(et.DistributionSlots, slot)
		}
	}
	return et
}

func decodeTransaction(et wire.EncodedTransaction) (Transaction, error) {
	switch TxKind(et.Kind) {
	case TxStorageRequest:
		return NewStorageRequest(et.Address), nil
	case TxStored:
		return NewStored(et.StoredData, et.StoredShard), nil
	case TxExecute:
		program := make(types.Instructions, len(et.Program))
		for i, ei := range et.Program {
			program[i] = types.Instruction{
				Operation: types.Operation{Kind: types.Op(ei.Kind), First: ei.First, Second: ei.Second},
				Result:    ei.Result,
			}
		}
		return NewExecute(program), nil
	case TxExecuted:
		id, err := types.ProgramIdFromBytes(et.ProgramID)
		if err != nil {
			return Transaction{}, fmt.Errorf("decoding TxExecuted program id: %w", err)
		}
		return NewExecuted(id), nil
	case TxInitializeStorage:
		if len(et.DistributionPeers) != len(et.DistributionSlots) {
			return Transaction{}, fmt.Errorf("distribution peers/slots length mismatch")
		}
		dist := make(map[types.PeerID]types.ShardId, len(et.DistributionPeers))
		for i, p := range et.DistributionPeers {
			dist[types.PeerID(p)] = et.DistributionSlots[i]
		}
		return NewInitializeStorage(dist), nil
	default:
		return Transaction{}, fmt.Errorf("unknown transaction kind %d", et.Kind)
	}
}

// EncodeEvent projects an Event onto its wire representation for inclusion
// in a gossiped SyncJobs batch.
func EncodeEvent(e Event) wire.EncodedEvent {
	ee := wire.EncodedEvent{
		Hash:    append([]byte(nil), e.Hash[:]...),
		Author:  string(e.Author),
		Seq:     e.Seq,
		Payload: make([]wire.EncodedTransaction, len(e.Payload)),
	}
	if e.SelfParent != nil {
		ee.SelfParent = append([]byte(nil), e.SelfParent[:]...)
	}
	if e.OtherParent != nil {
		ee.OtherParent = append([]byte(nil), e.OtherParent[:]...)
	}
	for i, tx := range e.Payload {
		ee.Payload[i] = encodeTransaction(tx)
	}
	return ee
}

// DecodeEvent reconstructs an Event from its wire representation. The hash
// is recomputed and compared, never trusted from the wire.
func DecodeEvent(ee wire.EncodedEvent) (Event, error) {
	if len(ee.Hash) != len(EventHash{}) {
		return Event{}, fmt.Errorf("malformed event hash length %d", len(ee.Hash))
	}
	var hash EventHash
	copy(hash[:], ee.Hash)

	var selfParent, otherParent *EventHash
	if len(ee.SelfParent) > 0 {
		var h EventHash
		copy(h[:], ee.SelfParent)
		selfParent = &h
	}
	if len(ee.OtherParent) > 0 {
		var h EventHash
		copy(h[:], ee.OtherParent)
		otherParent = &h
	}

	payload := make([]Transaction, len(ee.Payload))
	for i, et := range ee.Payload {
		tx, err := decodeTransaction(et)
		if err != nil {
			return Event{}, fmt.Errorf("decoding event %x payload[%d]: %w", ee.Hash, i, err)
		}
		payload[i] = tx
	}

	e := Event{
		Hash:        hash,
		Author:      types.PeerID(ee.Author),
		SelfParent:  selfParent,
		OtherParent: otherParent,
		Seq:         ee.Seq,
		Payload:     payload,
	}
	if got := computeHash(e.Author, e.SelfParent, e.OtherParent, e.Seq, e.Payload); got != hash {
		return Event{}, fmt.Errorf("event %x failed hash verification", ee.Hash)
	}
	return e, nil
}
