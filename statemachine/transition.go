package statemachine

import (
	"github.com/pkg/errors"
	"github.com/prysmaticlabs/go-bitfield"

	"github.com/geanlabs/beaconchain/bls"
	"github.com/geanlabs/beaconchain/protocol"
	"github.com/geanlabs/beaconchain/types"
)

// The functions in this file mutate the state they are given. Callers work
// on a copy.

// processSlot fills the latest block header's state root if it is still empty.
func processSlot(s *types.BeaconState) error {
	if s.LatestBlockHeader.StateRoot.IsZero() {
		root, err := s.HashTreeRoot()
		if err != nil {
			return errors.Wrap(err, "hash state")
		}
		s.LatestBlockHeader.StateRoot = root
	}
	return nil
}

// processSlots advances the state through empty slots up to target,
// upgrading it whenever a new protocol version activates.
func processSlots(rules *protocol.Registry[Rules], s *types.BeaconState, target types.Slot) error {
	if s.Slot >= target {
		return errors.Wrapf(ErrSlotMismatch, "target slot %d must be greater than state slot %d", target, s.Slot)
	}
	for s.Slot < target {
		if err := processSlot(s); err != nil {
			return err
		}
		s.Slot++
		r, err := rules.Resolve(s.Slot)
		if err != nil {
			return err
		}
		if s.Kind() != r.StateKind() {
			if err := r.UpgradeState(s); err != nil {
				return errors.Wrapf(err, "upgrade to %s at slot %d", r.Name(), s.Slot)
			}
		}
	}
	return nil
}

// historyStart is the slot of the first entry in HistoricalBlockRoots.
func historyStart(s *types.BeaconState) types.Slot {
	return s.LatestBlockHeader.Slot - types.Slot(len(s.HistoricalBlockRoots))
}

// processBlockHeader validates and applies a block header.
func processBlockHeader(s *types.BeaconState, block types.BeaconBlock) error {
	if block.GetSlot() != s.Slot {
		return errors.Wrapf(ErrSlotMismatch, "block slot %d != state slot %d", block.GetSlot(), s.Slot)
	}
	// Block must be newer than latest header
	if block.GetSlot() <= s.LatestBlockHeader.Slot {
		return errors.Wrapf(ErrSlotMismatch, "block slot %d <= latest header slot %d", block.GetSlot(), s.LatestBlockHeader.Slot)
	}

	// Validate proposer (round-robin)
	if len(s.Validators) == 0 {
		return errors.Wrap(ErrInvalidProposer, "empty validator set")
	}
	expected := types.ValidatorIndex(uint64(block.GetSlot()) % uint64(len(s.Validators)))
	if block.GetProposerIndex() != expected {
		return errors.Wrapf(ErrInvalidProposer, "%d for slot %d, expected %d", block.GetProposerIndex(), block.GetSlot(), expected)
	}

	expectedParent, err := s.LatestBlockHeader.HashTreeRoot()
	if err != nil {
		return errors.Wrap(err, "hash latest header")
	}
	if block.GetParentRoot() != expectedParent {
		return errors.Wrapf(ErrParentRootMismatch, "got %s, want %s", block.GetParentRoot().Short(), expectedParent.Short())
	}

	start := historyStart(s)
	parentSlot := s.LatestBlockHeader.Slot
	first := len(s.HistoricalBlockRoots) == 0

	// First block after genesis: mark genesis as justified and finalized
	if first {
		s.LatestJustified = types.Checkpoint{Root: block.GetParentRoot(), Slot: parentSlot}
		s.LatestFinalized = types.Checkpoint{Root: block.GetParentRoot(), Slot: parentSlot}
	}

	s.HistoricalBlockRoots = append(s.HistoricalBlockRoots, block.GetParentRoot())
	s.JustifiedSlots = setBit(s.JustifiedSlots, uint64(parentSlot-start), first)

	// Fill empty slots with zero hashes
	for slot := parentSlot + 1; slot < block.GetSlot(); slot++ {
		s.HistoricalBlockRoots = append(s.HistoricalBlockRoots, types.Root{})
		s.JustifiedSlots = setBit(s.JustifiedSlots, uint64(slot-start), false)
	}
	if len(s.HistoricalBlockRoots) > types.HistoricalRootsLimit {
		return errors.Wrapf(ErrInvalidBlock, "historical roots exhausted at slot %d", block.GetSlot())
	}

	// State root left empty, filled by the next processSlot
	header, err := block.Header()
	if err != nil {
		return errors.Wrap(err, "block header")
	}
	header.StateRoot = types.Root{}
	s.LatestBlockHeader = header
	return nil
}

// verifyProposerSignature checks the block signature against the proposer's key.
func verifyProposerSignature(backend bls.Backend, s *types.BeaconState, block types.BeaconBlock) error {
	idx := block.GetProposerIndex()
	if uint64(idx) >= uint64(len(s.Validators)) {
		return errors.Wrapf(ErrInvalidProposer, "proposer %d out of range", idx)
	}
	root, err := block.SigningRoot()
	if err != nil {
		return errors.Wrap(err, "signing root")
	}
	msg, err := types.ComputeSigningRoot(root, types.DomainBeaconProposer)
	if err != nil {
		return err
	}
	if !backend.Verify(s.Validators[idx].Pubkey, msg, block.GetSignature()) {
		return errors.Wrapf(ErrInvalidSignature, "block %s by %d", root.Short(), idx)
	}
	return nil
}

// Includable reports whether an attestation made at attSlot is old enough
// to go into a block at slot.
func Includable(attSlot, slot types.Slot) bool {
	return slot >= types.MinAttestationInclusionDelay && attSlot <= slot-types.MinAttestationInclusionDelay
}

// ValidateAttestation checks an attestation against a state for inclusion in
// a block at slot. Signatures are checked only when verify is set.
func ValidateAttestation(backend bls.Backend, s *types.BeaconState, att *types.Attestation, slot types.Slot, verify bool) error {
	if !Includable(att.Data.Slot, slot) {
		return errors.Wrapf(ErrInvalidAttestation, "attestation slot %d too recent for block slot %d", att.Data.Slot, slot)
	}
	if att.Data.Source.Slot > att.Data.Target.Slot || att.Data.Target.Slot > att.Data.Slot {
		return errors.Wrapf(ErrInvalidAttestation, "source %d, target %d, slot %d", att.Data.Source.Slot, att.Data.Target.Slot, att.Data.Slot)
	}
	if start := historyStart(s); att.Data.Target.Slot >= start && uint64(att.Data.Target.Slot-start) >= types.HistoricalRootsLimit {
		return errors.Wrapf(ErrInvalidAttestation, "target %d beyond historical roots from %d", att.Data.Target.Slot, start)
	}
	bits := att.AggregationBits
	if bits.Len() != uint64(len(s.Validators)) {
		return errors.Wrapf(ErrInvalidAttestation, "%d aggregation bits for %d validators", bits.Len(), len(s.Validators))
	}
	if bits.Count() == 0 {
		return errors.Wrap(ErrInvalidAttestation, "no participants")
	}
	if !verify {
		return nil
	}
	pks := make([]types.BLSPubkey, 0, bits.Count())
	for _, i := range bits.BitIndices() {
		pks = append(pks, s.Validators[i].Pubkey)
	}
	dataRoot, err := att.Data.HashTreeRoot()
	if err != nil {
		return err
	}
	msg, err := types.ComputeSigningRoot(dataRoot, types.DomainBeaconAttester)
	if err != nil {
		return err
	}
	if !backend.FastAggregateVerify(pks, msg, att.Signature) {
		return errors.Wrap(ErrInvalidAttestation, "bad aggregate signature")
	}
	return nil
}

// processAttestations validates the block's attestations and applies their
// votes. A vote from a justified source justifies its target; a vote between
// consecutive slots also finalizes its source.
func processAttestations(backend bls.Backend, s *types.BeaconState, block types.BeaconBlock, verify bool) error {
	start := historyStart(s)
	for i, att := range block.GetAttestations() {
		if err := ValidateAttestation(backend, s, att, block.GetSlot(), verify); err != nil {
			return errors.Wrapf(err, "attestation %d", i)
		}
		vote := att.Data

		if vote.Source.Slot >= vote.Target.Slot || vote.Source.Slot < start {
			continue
		}
		sourceIdx := uint64(vote.Source.Slot - start)
		targetIdx := uint64(vote.Target.Slot - start)
		if targetIdx >= types.HistoricalRootsLimit {
			return errors.Wrapf(ErrInvalidAttestation, "attestation %d: target index %d", i, targetIdx)
		}

		if !getBit(s.JustifiedSlots, sourceIdx) {
			continue
		}

		if !getBit(s.JustifiedSlots, targetIdx) {
			s.JustifiedSlots = setBit(s.JustifiedSlots, targetIdx, true)
			if vote.Target.Slot > s.LatestJustified.Slot {
				s.LatestJustified = vote.Target
			}
		}

		// Consecutive justified slots finalize the source.
		if vote.Source.Slot+1 == vote.Target.Slot && vote.Source.Slot > s.LatestFinalized.Slot {
			s.LatestFinalized = vote.Source
		}
	}
	return nil
}

// getBit returns the value of a bit at the given index.
// Returns false if index is out of bounds.
func getBit(bits bitfield.Bitlist, index uint64) bool {
	if index >= bits.Len() {
		return false
	}
	return bits.BitAt(index)
}

// setBit sets a bit at the given index, growing the bitlist if needed.
func setBit(bits bitfield.Bitlist, index uint64, val bool) bitfield.Bitlist {
	if len(bits) == 0 || index >= bits.Len() {
		grown := bitfield.NewBitlist(index + 1)
		for i := uint64(0); len(bits) > 0 && i < bits.Len(); i++ {
			if bits.BitAt(i) {
				grown.SetBitAt(i, true)
			}
		}
		bits = grown
	}
	bits.SetBitAt(index, val)
	return bits
}
