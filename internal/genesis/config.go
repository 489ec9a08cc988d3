// Package genesis provides configuration loading and genesis state generation.
package genesis

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/bls"
	"github.com/geanlabs/beaconchain/types"
)

// GenesisConfig holds the parameters needed to create a genesis state.
type GenesisConfig struct {
	GenesisTime       uint64            `json:"GENESIS_TIME"`
	GenesisSlot       types.Slot        `json:"GENESIS_SLOT"`
	GenesisValidators []types.BLSPubkey `json:"GENESIS_VALIDATORS"`
}

// configJSON is the intermediate struct for JSON unmarshaling.
type configJSON struct {
	GenesisTime       uint64   `json:"GENESIS_TIME"`
	GenesisSlot       uint64   `json:"GENESIS_SLOT"`
	GenesisValidators []string `json:"GENESIS_VALIDATORS"`
}

// LoadFromFile loads a GenesisConfig from a JSON file.
func LoadFromFile(path string) (*GenesisConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading genesis file")
	}
	return LoadFromJSON(data)
}

// LoadFromJSON loads a GenesisConfig from JSON bytes.
func LoadFromJSON(data []byte) (*GenesisConfig, error) {
	var raw configJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing genesis JSON")
	}

	config := &GenesisConfig{
		GenesisTime:       raw.GenesisTime,
		GenesisSlot:       types.Slot(raw.GenesisSlot),
		GenesisValidators: make([]types.BLSPubkey, len(raw.GenesisValidators)),
	}

	for i, hexStr := range raw.GenesisValidators {
		pubkey, err := parseHexPubkey(hexStr)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing validator %d pubkey", i)
		}
		config.GenesisValidators[i] = pubkey
	}

	return config, nil
}

// Interop builds a config whose validators use the deterministic interop keys.
func Interop(backend bls.Backend, genesisTime uint64, genesisSlot types.Slot, numValidators uint64) (*GenesisConfig, error) {
	config := &GenesisConfig{
		GenesisTime:       genesisTime,
		GenesisSlot:       genesisSlot,
		GenesisValidators: make([]types.BLSPubkey, numValidators),
	}
	for i := range config.GenesisValidators {
		pk, err := backend.PrivToPub(bls.InteropSecretKey(types.ValidatorIndex(i)))
		if err != nil {
			return nil, errors.Wrapf(err, "interop key %d", i)
		}
		config.GenesisValidators[i] = pk
	}
	return config, nil
}

// parseHexPubkey converts a hex string (with or without 0x prefix) to a BLS pubkey.
func parseHexPubkey(s string) (types.BLSPubkey, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 96 { // 48 bytes = 96 hex chars
		return types.BLSPubkey{}, errors.Errorf("invalid pubkey length: got %d hex chars, want 96", len(s))
	}

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return types.BLSPubkey{}, errors.Wrap(err, "decoding hex")
	}

	var pubkey types.BLSPubkey
	copy(pubkey[:], decoded)
	return pubkey, nil
}

// ToValidators converts genesis pubkeys to validators with the default balance.
func (c *GenesisConfig) ToValidators() []*types.Validator {
	validators := make([]*types.Validator, len(c.GenesisValidators))
	for i, pk := range c.GenesisValidators {
		validators[i] = &types.Validator{
			Pubkey:           pk,
			EffectiveBalance: MaxEffectiveBalance,
		}
	}
	return validators
}

// CreateState generates the genesis state and block for the given block
// kind and fork version.
func (c *GenesisConfig) CreateState(kind types.BlockKind, fork types.ForkVersion) (*types.BeaconState, types.BeaconBlock, error) {
	return GenerateGenesis(c.GenesisTime, c.GenesisSlot, c.ToValidators(), kind, fork)
}
