package genesis

import (
	"strings"
	"testing"

	"github.com/geanlabs/beaconchain/bls"
	"github.com/geanlabs/beaconchain/types"
)

var (
	pubkeyHex1 = "0x" + strings.Repeat("ab", 48)
	pubkeyHex2 = "0x" + strings.Repeat("0c", 48)
)

func TestLoadFromJSON(t *testing.T) {
	jsonData := []byte(`{
		"GENESIS_TIME": 1704085200,
		"GENESIS_SLOT": 4,
		"GENESIS_VALIDATORS": ["` + pubkeyHex1 + `", "` + pubkeyHex2 + `"]
	}`)

	config, err := LoadFromJSON(jsonData)
	if err != nil {
		t.Fatalf("LoadFromJSON failed: %v", err)
	}

	if config.GenesisTime != 1704085200 {
		t.Errorf("GenesisTime = %d, want 1704085200", config.GenesisTime)
	}
	if config.GenesisSlot != 4 {
		t.Errorf("GenesisSlot = %d, want 4", config.GenesisSlot)
	}
	if len(config.GenesisValidators) != 2 {
		t.Fatalf("len(GenesisValidators) = %d, want 2", len(config.GenesisValidators))
	}
	if config.GenesisValidators[0][0] != 0xab || config.GenesisValidators[1][47] != 0x0c {
		t.Error("pubkeys not decoded")
	}
}

func TestLoadFromJSON_InvalidPubkeys(t *testing.T) {
	tests := []struct {
		name   string
		pubkey string
	}{
		{"invalid hex", "0x" + strings.Repeat("zz", 48)},
		{"wrong length", "0x1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jsonData := []byte(`{"GENESIS_TIME": 1, "GENESIS_VALIDATORS": ["` + tt.pubkey + `"]}`)
			if _, err := LoadFromJSON(jsonData); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestToValidators(t *testing.T) {
	config := &GenesisConfig{GenesisValidators: []types.BLSPubkey{{1}, {2}}}

	validators := config.ToValidators()
	if len(validators) != 2 {
		t.Fatalf("len(validators) = %d, want 2", len(validators))
	}
	if validators[1].Pubkey != (types.BLSPubkey{2}) {
		t.Error("validators[1].Pubkey does not match")
	}
	if validators[0].EffectiveBalance != MaxEffectiveBalance {
		t.Errorf("EffectiveBalance = %d, want %d", validators[0].EffectiveBalance, MaxEffectiveBalance)
	}
}

func TestGenerateGenesis_BlockMatchesState(t *testing.T) {
	tests := []struct {
		name string
		kind types.BlockKind
		fork types.ForkVersion
	}{
		{"phase0", types.Phase0BlockKind, types.Phase0ForkVersion},
		{"altair", types.AltairBlockKind, types.AltairForkVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validators := []*types.Validator{{Pubkey: types.BLSPubkey{1}}}
			state, block, err := GenerateGenesis(1704085200, 7, validators, tt.kind, tt.fork)
			if err != nil {
				t.Fatalf("GenerateGenesis failed: %v", err)
			}

			if state.Slot != 7 || block.GetSlot() != 7 {
				t.Errorf("slots = %d/%d, want 7", state.Slot, block.GetSlot())
			}
			if block.Kind() != tt.kind {
				t.Errorf("block kind = %s, want %s", block.Kind(), tt.kind)
			}
			if !block.GetParentRoot().IsZero() {
				t.Error("genesis parent root should be zero")
			}
			if state.LatestJustified.Slot != 7 || !state.LatestJustified.Root.IsZero() {
				t.Errorf("LatestJustified = %+v, want slot 7 with zero root", state.LatestJustified)
			}

			stateRoot, err := state.HashTreeRoot()
			if err != nil {
				t.Fatalf("HashTreeRoot failed: %v", err)
			}
			if block.GetStateRoot() != stateRoot {
				t.Error("genesis block does not commit to the genesis state")
			}

			// After filling the header's state root, the header must hash to
			// the genesis block root so that children link to it.
			header := state.LatestBlockHeader
			if !header.StateRoot.IsZero() {
				t.Fatal("LatestBlockHeader.StateRoot should be zero")
			}
			header.StateRoot = stateRoot
			headerRoot, _ := header.HashTreeRoot()
			blockRoot, _ := block.SigningRoot()
			if headerRoot != blockRoot {
				t.Errorf("header root %s != block root %s", headerRoot.Short(), blockRoot.Short())
			}
		})
	}
}

func TestGenerateGenesis_NoValidators(t *testing.T) {
	if _, _, err := GenerateGenesis(0, 0, nil, types.Phase0BlockKind, types.Phase0ForkVersion); err == nil {
		t.Error("expected error for empty validator set")
	}
}

func TestInterop_CreateState(t *testing.T) {
	config, err := Interop(bls.NoopBackend{}, 1704085200, 0, 4)
	if err != nil {
		t.Fatalf("Interop failed: %v", err)
	}
	state, _, err := config.CreateState(types.Phase0BlockKind, types.Phase0ForkVersion)
	if err != nil {
		t.Fatalf("CreateState failed: %v", err)
	}
	if len(state.Validators) != 4 {
		t.Errorf("len(Validators) = %d, want 4", len(state.Validators))
	}
	if state.Validators[0].Pubkey == state.Validators[1].Pubkey {
		t.Error("interop validators share a key")
	}
	if state.GenesisTime != 1704085200 {
		t.Errorf("GenesisTime = %d, want 1704085200", state.GenesisTime)
	}
}
