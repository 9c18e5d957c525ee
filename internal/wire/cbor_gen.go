package wire

// Hand-maintained in the style cbor-gen produces: each type is encoded as a
// fixed-length CBOR array of its fields, in declaration order. Kept small
// and explicit (rather than running the generator) because only the
// envelope and its two payload families ever cross the wire.

import (
	"bufio"
	"fmt"
	"io"

	cbg "github.com/whyrusleeping/cbor-gen"

	"github.com/the-swarm-net/swarmnode/internal/types"
)

func writeUint(w io.Writer, v uint64) error {
	return cbg.WriteMajorTypeHeader(w, cbg.MajUnsignedInt, v)
}

func writeBytes(w io.Writer, b []byte) error {
	if err := cbg.WriteMajorTypeHeader(w, cbg.MajByteString, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func writeString(w io.Writer, s string) error {
	if err := cbg.WriteMajorTypeHeader(w, cbg.MajTextString, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeArrayHeader(w io.Writer, n int) error {
	return cbg.WriteMajorTypeHeader(w, cbg.MajArray, uint64(n))
}

func readHeader(br *bufio.Reader) (byte, uint64, error) {
	scratch := make([]byte, 9)
	return cbg.CborReadHeaderBuf(br, scratch)
}

func readBytes(br *bufio.Reader) ([]byte, error) {
	maj, extra, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	if maj != cbg.MajByteString {
		return nil, fmt.Errorf("expected byte string, got major type %d", maj)
	}
	buf := make([]byte, extra)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readString(br *bufio.Reader) (string, error) {
	maj, extra, err := readHeader(br)
	if err != nil {
		return "", err
	}
	if maj != cbg.MajTextString {
		return "", fmt.Errorf("expected text string, got major type %d", maj)
	}
	buf := make([]byte, extra)
	if _, err := io.ReadFull(br, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readUint(br *bufio.Reader) (uint64, error) {
	maj, extra, err := readHeader(br)
	if err != nil {
		return 0, err
	}
	if maj != cbg.MajUnsignedInt {
		return 0, fmt.Errorf("expected unsigned int, got major type %d", maj)
	}
	return extra, nil
}

func expectArray(br *bufio.Reader, n int) error {
	maj, extra, err := readHeader(br)
	if err != nil {
		return err
	}
	if maj != cbg.MajArray {
		return fmt.Errorf("cbor input should be of type array")
	}
	if int(extra) != n {
		return fmt.Errorf("cbor array had wrong number of fields: got %d, want %d", extra, n)
	}
	return nil
}

// --- EncodedInstruction ---

func (t *EncodedInstruction) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, 4); err != nil {
		return err
	}
	if err := writeUint(w, t.Kind); err != nil {
		return err
	}
	if err := writeUint(w, uint64(t.First)); err != nil {
		return err
	}
	if err := writeUint(w, uint64(t.Second)); err != nil {
		return err
	}
	return writeUint(w, uint64(t.Result))
}

func (t *EncodedInstruction) UnmarshalCBOR(r io.Reader) error {
	*t = EncodedInstruction{}
	br := bufio.NewReader(r)
	if err := expectArray(br, 4); err != nil {
		return err
	}
	kind, err := readUint(br)
	if err != nil {
		return err
	}
	first, err := readUint(br)
	if err != nil {
		return err
	}
	second, err := readUint(br)
	if err != nil {
		return err
	}
	result, err := readUint(br)
	if err != nil {
		return err
	}
	t.Kind = kind
	t.First = types.DataId(first)
	t.Second = types.DataId(second)
	t.Result = types.DataId(result)
	return nil
}

// --- EncodedTransaction ---

func (t *EncodedTransaction) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, 8); err != nil {
		return err
	}
	if err := writeUint(w, t.Kind); err != nil {
		return err
	}
	if err := writeUint(w, uint64(t.Address)); err != nil {
		return err
	}
	if err := writeUint(w, uint64(t.StoredData)); err != nil {
		return err
	}
	if err := writeUint(w, uint64(t.StoredShard)); err != nil {
		return err
	}
	if err := writeArrayHeader(w, len(t.Program)); err != nil {
		return err
	}
	for i := range t.Program {
		if err := t.Program[i].MarshalCBOR(w); err != nil {
			return err
		}
	}
	if err := writeBytes(w, t.ProgramID); err != nil {
		return err
	}
	if err := writeArrayHeader(w, len(t.DistributionPeers)); err != nil {
		return err
	}
	for _, p := range t.DistributionPeers {
		if err := writeString(w, p); err != nil {
			return err
		}
	}
	if err := writeArrayHeader(w, len(t.DistributionSlots)); err != nil {
		return err
	}
	for _, s := range t.DistributionSlots {
		if err := writeUint(w, uint64(s)); err != nil {
			return err
		}
	}
	return nil
}

func (t *EncodedTransaction) UnmarshalCBOR(r io.Reader) error {
	*t = EncodedTransaction{}
	br := bufio.NewReader(r)
	if err := expectArray(br, 8); err != nil {
		return err
	}
	kind, err := readUint(br)
	if err != nil {
		return err
	}
	address, err := readUint(br)
	if err != nil {
		return err
	}
	storedData, err := readUint(br)
	if err != nil {
		return err
	}
	storedShard, err := readUint(br)
	if err != nil {
		return err
	}
	_, progLen, err := readHeader(br)
	if err != nil {
		return err
	}
	program := make([]EncodedInstruction, progLen)
	for i := range program {
		if err := program[i].UnmarshalCBOR(br); err != nil {
			return err
		}
	}
	programID, err := readBytes(br)
	if err != nil {
		return err
	}
	_, peersLen, err := readHeader(br)
	if err != nil {
		return err
	}
	peers := make([]string, peersLen)
	for i := range peers {
		peers[i], err = readString(br)
		if err != nil {
			return err
		}
	}
	_, slotsLen, err := readHeader(br)
	if err != nil {
		return err
	}
	slots := make([]types.ShardId, slotsLen)
	for i := range slots {
		v, err := readUint(br)
		if err != nil {
			return err
		}
		slots[i] = types.ShardId(v)
	}

	t.Kind = kind
	t.Address = types.DataId(address)
	t.StoredData = types.DataId(storedData)
	t.StoredShard = types.ShardId(storedShard)
	t.Program = program
	t.ProgramID = programID
	t.DistributionPeers = peers
	t.DistributionSlots = slots
	return nil
}

// --- EncodedEvent ---

func (t *EncodedEvent) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, 6); err != nil {
		return err
	}
	if err := writeBytes(w, t.Hash); err != nil {
		return err
	}
	if err := writeString(w, t.Author); err != nil {
		return err
	}
	if err := writeBytes(w, t.SelfParent); err != nil {
		return err
	}
	if err := writeBytes(w, t.OtherParent); err != nil {
		return err
	}
	if err := writeUint(w, t.Seq); err != nil {
		return err
	}
	if err := writeArrayHeader(w, len(t.Payload)); err != nil {
		return err
	}
	for i := range t.Payload {
		if err := t.Payload[i].MarshalCBOR(w); err != nil {
			return err
		}
	}
	return nil
}

func (t *EncodedEvent) UnmarshalCBOR(r io.Reader) error {
	*t = EncodedEvent{}
	br := bufio.NewReader(r)
	if err := expectArray(br, 6); err != nil {
		return err
	}
	hash, err := readBytes(br)
	if err != nil {
		return err
	}
	author, err := readString(br)
	if err != nil {
		return err
	}
	selfParent, err := readBytes(br)
	if err != nil {
		return err
	}
	otherParent, err := readBytes(br)
	if err != nil {
		return err
	}
	seq, err := readUint(br)
	if err != nil {
		return err
	}
	_, payloadLen, err := readHeader(br)
	if err != nil {
		return err
	}
	payload := make([]EncodedTransaction, payloadLen)
	for i := range payload {
		if err := payload[i].UnmarshalCBOR(br); err != nil {
			return err
		}
	}

	t.Hash = hash
	t.Author = author
	t.SelfParent = selfParent
	t.OtherParent = otherParent
	t.Seq = seq
	t.Payload = payload
	return nil
}

// --- SyncJobs / Simple ---

func (t *SyncJobs) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, len(t.Events)); err != nil {
		return err
	}
	for i := range t.Events {
		if err := t.Events[i].MarshalCBOR(w); err != nil {
			return err
		}
	}
	return nil
}

func (t *SyncJobs) UnmarshalCBOR(r io.Reader) error {
	br := bufio.NewReader(r)
	_, n, err := readHeader(br)
	if err != nil {
		return err
	}
	events := make([]EncodedEvent, n)
	for i := range events {
		if err := events[i].UnmarshalCBOR(br); err != nil {
			return err
		}
	}
	t.Events = events
	return nil
}

func (t *Simple) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, 1); err != nil {
		return err
	}
	return t.GossipGraph.MarshalCBOR(w)
}

func (t *Simple) UnmarshalCBOR(r io.Reader) error {
	*t = Simple{}
	br := bufio.NewReader(r)
	if err := expectArray(br, 1); err != nil {
		return err
	}
	return t.GossipGraph.UnmarshalCBOR(br)
}

// --- Request / Response ---

func (t *Request) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, 3); err != nil {
		return err
	}
	if err := writeUint(w, uint64(t.Kind)); err != nil {
		return err
	}
	if err := writeUint(w, uint64(t.FullID.Data)); err != nil {
		return err
	}
	return writeUint(w, uint64(t.FullID.Shard))
}

func (t *Request) UnmarshalCBOR(r io.Reader) error {
	*t = Request{}
	br := bufio.NewReader(r)
	if err := expectArray(br, 3); err != nil {
		return err
	}
	kind, err := readUint(br)
	if err != nil {
		return err
	}
	dataID, err := readUint(br)
	if err != nil {
		return err
	}
	shardID, err := readUint(br)
	if err != nil {
		return err
	}
	t.Kind = RequestKind(kind)
	t.FullID = types.FullShardId{Data: types.DataId(dataID), Shard: types.ShardId(shardID)}
	return nil
}

func (t *Response) MarshalCBOR(w io.Writer) error {
	if t.Shard == nil {
		if err := writeArrayHeader(w, 2); err != nil {
			return err
		}
		if err := writeUint(w, uint64(t.Kind)); err != nil {
			return err
		}
		return writeBytes(w, nil)
	}
	if err := writeArrayHeader(w, 2); err != nil {
		return err
	}
	if err := writeUint(w, uint64(t.Kind)); err != nil {
		return err
	}
	return writeBytes(w, t.Shard[:])
}

func (t *Response) UnmarshalCBOR(r io.Reader) error {
	*t = Response{}
	br := bufio.NewReader(r)
	if err := expectArray(br, 2); err != nil {
		return err
	}
	kind, err := readUint(br)
	if err != nil {
		return err
	}
	raw, err := readBytes(br)
	if err != nil {
		return err
	}
	t.Kind = RequestKind(kind)
	if len(raw) == types.ShardSize {
		var s types.Shard
		copy(s[:], raw)
		t.Shard = &s
	}
	return nil
}

// --- Envelope ---

func (t *Envelope) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, 3); err != nil {
		return err
	}
	if err := writeUint(w, uint64(t.Version)); err != nil {
		return err
	}
	if err := writeUint(w, uint64(t.Kind)); err != nil {
		return err
	}
	switch t.Kind {
	case EnvelopeSimple:
		return t.Simple.MarshalCBOR(w)
	case EnvelopeRequest:
		return t.Request.MarshalCBOR(w)
	case EnvelopeResponse:
		return t.Response.MarshalCBOR(w)
	default:
		return fmt.Errorf("unknown envelope kind %d", t.Kind)
	}
}

func (t *Envelope) UnmarshalCBOR(r io.Reader) error {
	*t = Envelope{}
	br := bufio.NewReader(r)
	if err := expectArray(br, 3); err != nil {
		return err
	}
	version, err := readUint(br)
	if err != nil {
		return err
	}
	kind, err := readUint(br)
	if err != nil {
		return err
	}
	t.Version = ProtocolVersion(version)
	t.Kind = EnvelopeKind(kind)
	switch t.Kind {
	case EnvelopeSimple:
		var s Simple
		if err := s.UnmarshalCBOR(br); err != nil {
			return err
		}
		t.Simple = &s
	case EnvelopeRequest:
		var req Request
		if err := req.UnmarshalCBOR(br); err != nil {
			return err
		}
		t.Request = &req
	case EnvelopeResponse:
		var resp Response
		if err := resp.UnmarshalCBOR(br); err != nil {
			return err
		}
		t.Response = &resp
	default:
		return fmt.Errorf("unknown envelope kind %d", t.Kind)
	}
	return nil
}
