// Package validator produces blocks and attestations for the validators
// this node holds keys for.
package validator

import (
	"encoding/binary"
	"slices"

	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/bls"
	"github.com/geanlabs/beaconchain/types"
)

// Keys holds the secret keys of local validators.
type Keys struct {
	backend bls.Backend
	secret  map[types.ValidatorIndex]bls.SecretKey
}

// NewInteropKeys derives the interop keys of indices.
func NewInteropKeys(backend bls.Backend, indices []uint64) *Keys {
	k := &Keys{backend: backend, secret: make(map[types.ValidatorIndex]bls.SecretKey, len(indices))}
	for _, i := range indices {
		k.secret[types.ValidatorIndex(i)] = bls.InteropSecretKey(types.ValidatorIndex(i))
	}
	return k
}

// Indices returns the local validator indices in ascending order.
func (k *Keys) Indices() []types.ValidatorIndex {
	out := make([]types.ValidatorIndex, 0, len(k.secret))
	for i := range k.secret {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

func (k *Keys) Has(index types.ValidatorIndex) bool {
	_, ok := k.secret[index]
	return ok
}

// Sign signs objectRoot under domain with the key of index.
func (k *Keys) Sign(index types.ValidatorIndex, objectRoot types.Root, domain types.Domain) (types.BLSSignature, error) {
	sk, ok := k.secret[index]
	if !ok {
		return types.BLSSignature{}, errors.Errorf("no key for validator %d", index)
	}
	msg, err := types.ComputeSigningRoot(objectRoot, domain)
	if err != nil {
		return types.BLSSignature{}, err
	}
	return k.backend.Sign(sk, msg)
}

// ProposerIndex is the round-robin proposer of slot.
func ProposerIndex(slot types.Slot, numValidators int) types.ValidatorIndex {
	if numValidators == 0 {
		return 0
	}
	return types.ValidatorIndex(uint64(slot) % uint64(numValidators))
}

func slotRoot(slot types.Slot) types.Root {
	var r types.Root
	binary.LittleEndian.PutUint64(r[:8], uint64(slot))
	return r
}
