package validator

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/prysmaticlabs/go-bitfield"

	"github.com/geanlabs/beaconchain/bls"
	"github.com/geanlabs/beaconchain/pool"
	"github.com/geanlabs/beaconchain/types"
)

// HeadReader reads the canonical head and its post-state.
type HeadReader interface {
	GetCanonicalHead() (types.BeaconBlock, error)
	GetHeadState() (*types.BeaconState, error)
}

// AttestationPublisher gossips attestations.
type AttestationPublisher interface {
	PublishAttestation(ctx context.Context, att *types.Attestation) error
}

// Attester votes for the canonical head with every local validator, as one
// aggregate.
type Attester struct {
	chain     HeadReader
	keys      *Keys
	backend   bls.Backend
	pool      *pool.AttestationPool
	publisher AttestationPublisher // optional
	log       *slog.Logger
}

type AttesterConfig struct {
	Chain     HeadReader
	Keys      *Keys
	Backend   bls.Backend
	Pool      *pool.AttestationPool
	Publisher AttestationPublisher
	Logger    *slog.Logger
}

func NewAttester(cfg AttesterConfig) *Attester {
	a := &Attester{
		chain:     cfg.Chain,
		keys:      cfg.Keys,
		backend:   cfg.Backend,
		pool:      cfg.Pool,
		publisher: cfg.Publisher,
		log:       cfg.Logger,
	}
	if a.backend == nil {
		a.backend = bls.NoopBackend{}
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	return a
}

// Attest builds the aggregate attestation of local validators for slot,
// adds it to the pool and publishes it. It returns nil when this node has
// no validator in the state.
func (a *Attester) Attest(ctx context.Context, slot types.Slot) (*types.Attestation, error) {
	head, err := a.chain.GetCanonicalHead()
	if err != nil {
		return nil, errors.Wrap(err, "canonical head")
	}
	state, err := a.chain.GetHeadState()
	if err != nil {
		return nil, errors.Wrap(err, "head state")
	}
	headRoot, err := head.SigningRoot()
	if err != nil {
		return nil, err
	}

	data := types.AttestationData{
		Slot:            slot,
		BeaconBlockRoot: headRoot,
		Source:          state.LatestJustified,
		Target:          types.Checkpoint{Root: headRoot, Slot: head.GetSlot()},
	}
	if data.Target.Slot > slot {
		return nil, errors.Errorf("head slot %d after attestation slot %d", head.GetSlot(), slot)
	}
	dataRoot, err := data.HashTreeRoot()
	if err != nil {
		return nil, err
	}

	bits := bitfield.NewBitlist(uint64(len(state.Validators)))
	var sigs []types.BLSSignature
	for _, index := range a.keys.Indices() {
		if uint64(index) >= uint64(len(state.Validators)) {
			continue
		}
		sig, err := a.keys.Sign(index, dataRoot, types.DomainBeaconAttester)
		if err != nil {
			return nil, err
		}
		bits.SetBitAt(uint64(index), true)
		sigs = append(sigs, sig)
	}
	if len(sigs) == 0 {
		return nil, nil
	}
	agg, err := a.backend.AggregateSignatures(sigs)
	if err != nil {
		return nil, errors.Wrap(err, "aggregate signatures")
	}
	att := &types.Attestation{AggregationBits: bits, Data: data, Signature: agg}

	if _, err := a.pool.Add(att); err != nil {
		return nil, errors.Wrap(err, "pool attestation")
	}
	a.log.Debug("attested",
		"slot", slot,
		"head", headRoot.Short(),
		"validators", len(sigs),
	)
	if a.publisher != nil {
		if err := a.publisher.PublishAttestation(ctx, att); err != nil {
			return att, errors.Wrap(err, "publish attestation")
		}
	}
	return att, nil
}
