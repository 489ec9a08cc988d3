package validator

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/prysmaticlabs/go-bitfield"

	"github.com/geanlabs/beaconchain/bls"
	"github.com/geanlabs/beaconchain/chain"
	"github.com/geanlabs/beaconchain/statemachine"
	"github.com/geanlabs/beaconchain/types"
)

// ErrSlotTaken is returned when the canonical head is already at or past
// the proposal slot.
var ErrSlotTaken = errors.New("head already at proposal slot")

// Chain is the part of the chain a proposer drives.
type Chain interface {
	GetCanonicalHead() (types.BeaconBlock, error)
	GetHeadState() (*types.BeaconState, error)
	GetStateMachine(atSlot types.Slot) (statemachine.Machine, error)
	CreateBlockFromParent(parent types.BeaconBlock, params statemachine.BlockParams) (types.BeaconBlock, error)
	ImportBlock(block types.BeaconBlock, performValidation bool) (*chain.ImportResult, error)
}

// BlockPublisher gossips imported blocks.
type BlockPublisher interface {
	PublishBlock(ctx context.Context, block types.BeaconBlock) error
}

// Proposer builds, signs, imports and publishes blocks for local validators.
type Proposer struct {
	chain     Chain
	keys      *Keys
	backend   bls.Backend
	publisher BlockPublisher // optional
	graffiti  types.Root
	log       *slog.Logger
}

type ProposerConfig struct {
	Chain     Chain
	Keys      *Keys
	Backend   bls.Backend
	Publisher BlockPublisher
	Graffiti  string
	Logger    *slog.Logger
}

func NewProposer(cfg ProposerConfig) *Proposer {
	p := &Proposer{
		chain:     cfg.Chain,
		keys:      cfg.Keys,
		backend:   cfg.Backend,
		publisher: cfg.Publisher,
		log:       cfg.Logger,
	}
	copy(p.graffiti[:], cfg.Graffiti)
	if p.backend == nil {
		p.backend = bls.NoopBackend{}
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Propose produces the block for slot on top of the canonical head. It
// returns nil when no local validator is the proposer.
func (p *Proposer) Propose(ctx context.Context, slot types.Slot) (types.BeaconBlock, error) {
	head, err := p.chain.GetCanonicalHead()
	if err != nil {
		return nil, errors.Wrap(err, "canonical head")
	}
	if head.GetSlot() >= slot {
		return nil, errors.Wrapf(ErrSlotTaken, "head at %d, slot %d", head.GetSlot(), slot)
	}
	state, err := p.chain.GetHeadState()
	if err != nil {
		return nil, errors.Wrap(err, "head state")
	}
	proposer := ProposerIndex(slot, len(state.Validators))
	if !p.keys.Has(proposer) {
		return nil, nil
	}

	randao, err := p.keys.Sign(proposer, slotRoot(slot), types.DomainRandao)
	if err != nil {
		return nil, errors.Wrap(err, "randao reveal")
	}
	block, err := p.chain.CreateBlockFromParent(head, statemachine.BlockParams{
		Slot:          &slot,
		ProposerIndex: proposer,
		RandaoReveal:  randao,
		Graffiti:      p.graffiti,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create block")
	}
	if altair, ok := block.(*types.AltairBlock); ok {
		if err := p.fillSyncAggregate(altair, len(state.Validators)); err != nil {
			return nil, err
		}
	}

	// Dry run to learn the state root.
	machine, err := p.chain.GetStateMachine(head.GetSlot())
	if err != nil {
		return nil, err
	}
	_, filled, err := machine.ImportBlock(block, false)
	if err != nil {
		return nil, errors.Wrap(err, "compute state root")
	}

	root, err := filled.SigningRoot()
	if err != nil {
		return nil, err
	}
	sig, err := p.keys.Sign(proposer, root, types.DomainBeaconProposer)
	if err != nil {
		return nil, errors.Wrap(err, "sign block")
	}
	signed := filled.WithSignature(sig)

	res, err := p.chain.ImportBlock(signed, true)
	if err != nil {
		return nil, errors.Wrap(err, "import own block")
	}

	p.log.Info("proposed block",
		"slot", slot,
		"proposer", proposer,
		"root", root.Short(),
		"attestations", len(signed.GetAttestations()),
	)
	if p.publisher != nil {
		if err := p.publisher.PublishBlock(ctx, res.Block); err != nil {
			return res.Block, errors.Wrap(err, "publish block")
		}
	}
	return res.Block, nil
}

// fillSyncAggregate sets the sync committee bits of local validators and
// aggregates their signatures over the parent root.
func (p *Proposer) fillSyncAggregate(b *types.AltairBlock, numValidators int) error {
	if numValidators == 0 {
		return nil
	}
	bits := bitfield.NewBitvector64()
	var sigs []types.BLSSignature
	for i := uint64(0); i < types.SyncCommitteeSize; i++ {
		index := types.ValidatorIndex(i % uint64(numValidators))
		if !p.keys.Has(index) {
			continue
		}
		sig, err := p.keys.Sign(index, b.ParentRoot, types.DomainSyncCommittee)
		if err != nil {
			return errors.Wrap(err, "sync committee signature")
		}
		bits.SetBitAt(i, true)
		sigs = append(sigs, sig)
	}
	if len(sigs) == 0 {
		return nil
	}
	agg, err := p.backend.AggregateSignatures(sigs)
	if err != nil {
		return errors.Wrap(err, "aggregate sync signatures")
	}
	b.Body.SyncAggregate = types.SyncAggregate{ParticipationBits: bits, Signature: agg}
	return nil
}
