package types

import (
	"fmt"

	"github.com/ipfs/go-cid"
	mc "github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
)

// ProgramId is a content hash of the consensus event that finalized the
// program, so that any peer deriving it from the same finalized event
// arrives at the same identifier.
type ProgramId struct {
	c cid.Cid
}

// NewProgramId builds a ProgramId from the hash bytes of the finalizing
// event (spec.md §4.3 phase 8: "derive Program using event_hash as
// identifier").
func NewProgramId(eventHash []byte) (ProgramId, error) {
	mhash, err := mh.Sum(eventHash, mh.SHA2_256, -1)
	if err != nil {
		return ProgramId{}, fmt.Errorf("hashing event reference for program id: %w", err)
	}
	return ProgramId{c: cid.NewCidV1(uint64(mc.Raw), mhash)}, nil
}

// ProgramIdFromBytes reconstructs a ProgramId from its encoded cid form, the
// inverse of Bytes. Used when decoding a ProgramId off the wire.
func ProgramIdFromBytes(b []byte) (ProgramId, error) {
	c, err := cid.Cast(b)
	if err != nil {
		return ProgramId{}, fmt.Errorf("casting program id bytes: %w", err)
	}
	return ProgramId{c: c}, nil
}

func (p ProgramId) String() string {
	if !p.c.Defined() {
		return "<undefined-program>"
	}
	return p.c.String()
}

func (p ProgramId) Equal(o ProgramId) bool {
	return p.c.Equals(o.c)
}

func (p ProgramId) Bytes() []byte {
	return p.c.Bytes()
}

// Program is a finalized, content-addressed instruction sequence ready for
// execution.
type Program struct {
	ID           ProgramId
	Instructions Instructions
}

func NewProgram(instructions Instructions, eventHash []byte) (Program, error) {
	id, err := NewProgramId(eventHash)
	if err != nil {
		return Program{}, err
	}
	return Program{ID: id, Instructions: instructions}, nil
}
