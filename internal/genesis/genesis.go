package genesis

import (
	"github.com/pkg/errors"
	"github.com/prysmaticlabs/go-bitfield"

	"github.com/geanlabs/beaconchain/types"
)

// MaxEffectiveBalance is the balance given to every genesis validator, in gwei.
const MaxEffectiveBalance uint64 = 32_000_000_000

// GenerateGenesis creates the genesis state at slot and the matching genesis block.
//
// The genesis state has:
//   - empty historical data (block roots, justified slots)
//   - a genesis block header with zeroed state/parent roots
//   - default checkpoints at the genesis slot with zero root
//
// The genesis block has a zero parent root and commits to the state's root.
func GenerateGenesis(genesisTime uint64, slot types.Slot, validators []*types.Validator, kind types.BlockKind, fork types.ForkVersion) (*types.BeaconState, types.BeaconBlock, error) {
	if len(validators) == 0 {
		return nil, nil, errors.New("genesis needs at least one validator")
	}

	block, err := types.NewBlock(kind)
	if err != nil {
		return nil, nil, err
	}
	header, err := withSlot(block, slot).Header()
	if err != nil {
		return nil, nil, errors.Wrap(err, "genesis header")
	}

	defaultCheckpoint := types.Checkpoint{Slot: slot}

	state := &types.BeaconState{
		GenesisTime:          genesisTime,
		Slot:                 slot,
		ForkVersion:          fork,
		LatestBlockHeader:    header,
		Validators:           validators,
		LatestJustified:      defaultCheckpoint,
		LatestFinalized:      defaultCheckpoint,
		HistoricalBlockRoots: []types.Root{},
		JustifiedSlots:       bitfield.NewBitlist(0),
	}

	stateRoot, err := state.HashTreeRoot()
	if err != nil {
		return nil, nil, errors.Wrap(err, "genesis state root")
	}
	return state, withSlot(block, slot).WithStateRoot(stateRoot), nil
}

func withSlot(b types.BeaconBlock, slot types.Slot) types.BeaconBlock {
	switch blk := b.Copy().(type) {
	case *types.Phase0Block:
		blk.Slot = slot
		return blk
	case *types.AltairBlock:
		blk.Slot = slot
		return blk
	default:
		return b
	}
}
