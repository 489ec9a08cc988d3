package types

import (
	"github.com/prysmaticlabs/go-bitfield"
)

// SSZ Containers. Encoding and hash tree roots live in ssz.go.

// Checkpoint is a (root, slot) pair identifying a block in the chain.
type Checkpoint struct {
	Root Root `ssz-size:"32"`
	Slot Slot
}

// AttestationData is the part of an attestation that aggregates share.
type AttestationData struct {
	Slot            Slot
	Index           uint64
	BeaconBlockRoot Root `ssz-size:"32"`
	Source          Checkpoint
	Target          Checkpoint
}

// Attestation is an aggregated vote. Identified by its hash tree root.
type Attestation struct {
	AggregationBits bitfield.Bitlist `ssz:"bitlist" ssz-max:"4096"`
	Data            AttestationData
	Signature       BLSSignature `ssz-size:"96"`
}

// Copy returns a deep copy of the attestation.
func (a *Attestation) Copy() *Attestation {
	if a == nil {
		return nil
	}
	cp := *a
	cp.AggregationBits = append(bitfield.Bitlist(nil), a.AggregationBits...)
	return &cp
}

// SyncAggregate carries sync committee participation (Altair bodies only).
type SyncAggregate struct {
	ParticipationBits bitfield.Bitvector64 `ssz-size:"8"`
	Signature         BLSSignature         `ssz-size:"96"`
}

type BlockHeader struct {
	Slot          Slot
	ProposerIndex ValidatorIndex
	ParentRoot    Root `ssz-size:"32"`
	StateRoot     Root `ssz-size:"32"`
	BodyRoot      Root `ssz-size:"32"`
}

type Validator struct {
	Pubkey           BLSPubkey `ssz-size:"48"`
	EffectiveBalance uint64
}

// BeaconState is the consensus state at one slot.
type BeaconState struct {
	GenesisTime       uint64
	Slot              Slot
	ForkVersion       ForkVersion `ssz-size:"4"`
	LatestBlockHeader BlockHeader

	Validators []*Validator `ssz-max:"4096"`

	LatestJustified Checkpoint
	LatestFinalized Checkpoint

	HistoricalBlockRoots []Root          `ssz-max:"262144" ssz-size:"?,32"`
	JustifiedSlots       bitfield.Bitlist `ssz:"bitlist" ssz-max:"262144"`
}

// Kind returns the state variant implied by the fork version.
func (s *BeaconState) Kind() StateKind {
	return StateKindOf(s.ForkVersion)
}

// Copy returns a deep copy of the state.
func (s *BeaconState) Copy() *BeaconState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Validators = make([]*Validator, len(s.Validators))
	for i, v := range s.Validators {
		vv := *v
		cp.Validators[i] = &vv
	}
	cp.HistoricalBlockRoots = append([]Root(nil), s.HistoricalBlockRoots...)
	cp.JustifiedSlots = append(bitfield.Bitlist(nil), s.JustifiedSlots...)
	return &cp
}
