package statemachine

import (
	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/bls"
	"github.com/geanlabs/beaconchain/types"
)

// Rules are the per-version parts of the state transition.
type Rules interface {
	Name() string
	BlockKind() types.BlockKind
	StateKind() types.StateKind
	// UpgradeState converts a state of the previous version at the first
	// slot this version is active.
	UpgradeState(s *types.BeaconState) error
	// ProcessBody applies body fields beyond the shared header and attestations.
	ProcessBody(backend bls.Backend, s *types.BeaconState, block types.BeaconBlock, verify bool) error
	// Score is the fork-choice score of a block built under these rules.
	Score(block types.BeaconBlock) (types.Score, error)
}

// RulesByName returns the rules for a configured fork name.
func RulesByName(name string) (Rules, error) {
	switch name {
	case "phase0":
		return Phase0(), nil
	case "altair":
		return Altair(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownRules, "%q", name)
	}
}

type phase0Rules struct{}

// Phase0 returns the phase0 rules. Blocks are scored by slot.
func Phase0() Rules { return phase0Rules{} }

func (phase0Rules) Name() string               { return "phase0" }
func (phase0Rules) BlockKind() types.BlockKind { return types.Phase0BlockKind }
func (phase0Rules) StateKind() types.StateKind { return types.Phase0StateKind }

func (phase0Rules) UpgradeState(s *types.BeaconState) error {
	s.ForkVersion = types.Phase0ForkVersion
	return nil
}

func (phase0Rules) ProcessBody(bls.Backend, *types.BeaconState, types.BeaconBlock, bool) error {
	return nil
}

func (phase0Rules) Score(block types.BeaconBlock) (types.Score, error) {
	return types.Score(block.GetSlot()), nil
}

type altairRules struct{}

// Altair returns the altair rules. Blocks carry a sync aggregate and are
// scored by slot first, then by attestation and sync participation.
func Altair() Rules { return altairRules{} }

func (altairRules) Name() string               { return "altair" }
func (altairRules) BlockKind() types.BlockKind { return types.AltairBlockKind }
func (altairRules) StateKind() types.StateKind { return types.AltairStateKind }

func (altairRules) UpgradeState(s *types.BeaconState) error {
	s.ForkVersion = types.AltairForkVersion
	return nil
}

// syncCommittee maps sync aggregate bit i to validator i mod n.
func syncCommittee(s *types.BeaconState, agg *types.SyncAggregate) []types.BLSPubkey {
	if len(s.Validators) == 0 || len(agg.ParticipationBits) == 0 {
		return nil
	}
	var pks []types.BLSPubkey
	for i := uint64(0); i < types.SyncCommitteeSize; i++ {
		if agg.ParticipationBits.BitAt(i) {
			pks = append(pks, s.Validators[i%uint64(len(s.Validators))].Pubkey)
		}
	}
	return pks
}

func (altairRules) ProcessBody(backend bls.Backend, s *types.BeaconState, block types.BeaconBlock, verify bool) error {
	b, ok := block.(*types.AltairBlock)
	if !ok {
		return errors.Wrapf(ErrBlockKindMismatch, "%s block under altair rules", block.Kind())
	}
	agg := &b.Body.SyncAggregate
	pks := syncCommittee(s, agg)
	if len(pks) == 0 || !verify {
		return nil
	}
	msg, err := types.ComputeSigningRoot(b.ParentRoot, types.DomainSyncCommittee)
	if err != nil {
		return err
	}
	if !backend.FastAggregateVerify(pks, msg, agg.Signature) {
		return errors.Wrapf(ErrInvalidSyncAggregate, "%d participants", len(pks))
	}
	return nil
}

func (altairRules) Score(block types.BeaconBlock) (types.Score, error) {
	score := types.Score(block.GetSlot()) * types.ScoreSlotWeight
	for _, att := range block.GetAttestations() {
		score += types.Score(att.AggregationBits.Count())
	}
	if b, ok := block.(*types.AltairBlock); ok && len(b.Body.SyncAggregate.ParticipationBits) > 0 {
		score += types.Score(b.Body.SyncAggregate.ParticipationBits.Count())
	}
	return score, nil
}
