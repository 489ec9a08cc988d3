package types

import (
	"fmt"

	ssz "github.com/ferranbt/fastssz"
	"github.com/pkg/errors"
	"github.com/prysmaticlabs/go-bitfield"
)

// BlockKind tags the concrete shape of a block.
type BlockKind uint8

const (
	Phase0BlockKind BlockKind = iota
	AltairBlockKind
)

func (k BlockKind) String() string {
	switch k {
	case Phase0BlockKind:
		return "phase0"
	case AltairBlockKind:
		return "altair"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// StateKind tags the concrete shape of a state.
type StateKind uint8

const (
	UnknownStateKind StateKind = iota
	Phase0StateKind
	AltairStateKind
)

func (k StateKind) String() string {
	switch k {
	case Phase0StateKind:
		return "phase0"
	case AltairStateKind:
		return "altair"
	default:
		return "unknown"
	}
}

// StateKindOf maps a fork version to its state kind.
func StateKindOf(v ForkVersion) StateKind {
	switch v {
	case Phase0ForkVersion:
		return Phase0StateKind
	case AltairForkVersion:
		return AltairStateKind
	default:
		return UnknownStateKind
	}
}

// ForkVersionOf is the inverse of StateKindOf.
func ForkVersionOf(k StateKind) (ForkVersion, error) {
	switch k {
	case Phase0StateKind:
		return Phase0ForkVersion, nil
	case AltairStateKind:
		return AltairForkVersion, nil
	default:
		return ForkVersion{}, errors.Errorf("no fork version for state kind %s", k)
	}
}

// BeaconBlock is implemented by every block variant. Blocks are treated as
// immutable: the With* methods return modified copies.
type BeaconBlock interface {
	Kind() BlockKind
	GetSlot() Slot
	GetProposerIndex() ValidatorIndex
	GetParentRoot() Root
	GetStateRoot() Root
	GetSignature() BLSSignature
	GetRandaoReveal() BLSSignature
	GetAttestations() []*Attestation

	// SigningRoot is the hash tree root of the block without its signature.
	// It is the block's identity.
	SigningRoot() (Root, error)
	Header() (BlockHeader, error)

	WithStateRoot(root Root) BeaconBlock
	WithSignature(sig BLSSignature) BeaconBlock
	Copy() BeaconBlock

	MarshalSSZ() ([]byte, error)
	MarshalSSZTo(dst []byte) ([]byte, error)
	UnmarshalSSZ(buf []byte) error
	SizeSSZ() int
	HashTreeRootWith(hh ssz.HashWalker) error
}

// NewBlock returns an empty block of the given kind.
func NewBlock(kind BlockKind) (BeaconBlock, error) {
	switch kind {
	case Phase0BlockKind:
		return &Phase0Block{}, nil
	case AltairBlockKind:
		return &AltairBlock{Body: AltairBlockBody{SyncAggregate: SyncAggregate{ParticipationBits: bitfield.NewBitvector64()}}}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownBlockKind, "%s", kind)
	}
}

// Phase0BlockBody is the body of a phase0 block.
type Phase0BlockBody struct {
	RandaoReveal BLSSignature   `ssz-size:"96"`
	Graffiti     Root           `ssz-size:"32"`
	Attestations []*Attestation `ssz-max:"128"`
}

// Phase0Block is a signed phase0 block.
type Phase0Block struct {
	Slot          Slot
	ProposerIndex ValidatorIndex
	ParentRoot    Root `ssz-size:"32"`
	StateRoot     Root `ssz-size:"32"`
	Body          Phase0BlockBody
	Signature     BLSSignature `ssz-size:"96"`
}

func (b *Phase0Block) Kind() BlockKind                  { return Phase0BlockKind }
func (b *Phase0Block) GetSlot() Slot                    { return b.Slot }
func (b *Phase0Block) GetProposerIndex() ValidatorIndex { return b.ProposerIndex }
func (b *Phase0Block) GetParentRoot() Root              { return b.ParentRoot }
func (b *Phase0Block) GetStateRoot() Root               { return b.StateRoot }
func (b *Phase0Block) GetSignature() BLSSignature       { return b.Signature }
func (b *Phase0Block) GetRandaoReveal() BLSSignature    { return b.Body.RandaoReveal }
func (b *Phase0Block) GetAttestations() []*Attestation  { return b.Body.Attestations }

func (b *Phase0Block) SigningRoot() (Root, error) { return hashRoot(b) }

func (b *Phase0Block) Header() (BlockHeader, error) {
	bodyRoot, err := hashRoot(&b.Body)
	if err != nil {
		return BlockHeader{}, err
	}
	return BlockHeader{
		Slot:          b.Slot,
		ProposerIndex: b.ProposerIndex,
		ParentRoot:    b.ParentRoot,
		StateRoot:     b.StateRoot,
		BodyRoot:      bodyRoot,
	}, nil
}

func (b *Phase0Block) Copy() BeaconBlock {
	cp := *b
	cp.Body.Attestations = copyAttestations(b.Body.Attestations)
	return &cp
}

func (b *Phase0Block) WithStateRoot(root Root) BeaconBlock {
	cp := b.Copy().(*Phase0Block)
	cp.StateRoot = root
	return cp
}

func (b *Phase0Block) WithSignature(sig BLSSignature) BeaconBlock {
	cp := b.Copy().(*Phase0Block)
	cp.Signature = sig
	return cp
}

// AltairBlockBody adds a sync aggregate to the phase0 body.
type AltairBlockBody struct {
	RandaoReveal  BLSSignature   `ssz-size:"96"`
	Graffiti      Root           `ssz-size:"32"`
	Attestations  []*Attestation `ssz-max:"128"`
	SyncAggregate SyncAggregate
}

// AltairBlock is a signed altair block.
type AltairBlock struct {
	Slot          Slot
	ProposerIndex ValidatorIndex
	ParentRoot    Root `ssz-size:"32"`
	StateRoot     Root `ssz-size:"32"`
	Body          AltairBlockBody
	Signature     BLSSignature `ssz-size:"96"`
}

func (b *AltairBlock) Kind() BlockKind                  { return AltairBlockKind }
func (b *AltairBlock) GetSlot() Slot                    { return b.Slot }
func (b *AltairBlock) GetProposerIndex() ValidatorIndex { return b.ProposerIndex }
func (b *AltairBlock) GetParentRoot() Root              { return b.ParentRoot }
func (b *AltairBlock) GetStateRoot() Root               { return b.StateRoot }
func (b *AltairBlock) GetSignature() BLSSignature       { return b.Signature }
func (b *AltairBlock) GetRandaoReveal() BLSSignature    { return b.Body.RandaoReveal }
func (b *AltairBlock) GetAttestations() []*Attestation  { return b.Body.Attestations }

func (b *AltairBlock) SigningRoot() (Root, error) { return hashRoot(b) }

func (b *AltairBlock) Header() (BlockHeader, error) {
	bodyRoot, err := hashRoot(&b.Body)
	if err != nil {
		return BlockHeader{}, err
	}
	return BlockHeader{
		Slot:          b.Slot,
		ProposerIndex: b.ProposerIndex,
		ParentRoot:    b.ParentRoot,
		StateRoot:     b.StateRoot,
		BodyRoot:      bodyRoot,
	}, nil
}

func (b *AltairBlock) Copy() BeaconBlock {
	cp := *b
	cp.Body.Attestations = copyAttestations(b.Body.Attestations)
	cp.Body.SyncAggregate.ParticipationBits = append(bitfield.Bitvector64(nil), b.Body.SyncAggregate.ParticipationBits...)
	return &cp
}

func (b *AltairBlock) WithStateRoot(root Root) BeaconBlock {
	cp := b.Copy().(*AltairBlock)
	cp.StateRoot = root
	return cp
}

func (b *AltairBlock) WithSignature(sig BLSSignature) BeaconBlock {
	cp := b.Copy().(*AltairBlock)
	cp.Signature = sig
	return cp
}

func copyAttestations(atts []*Attestation) []*Attestation {
	if atts == nil {
		return nil
	}
	out := make([]*Attestation, len(atts))
	for i, a := range atts {
		out[i] = a.Copy()
	}
	return out
}
