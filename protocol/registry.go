// Package protocol maps slots to the protocol version active at that slot.
package protocol

import (
	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/types"
)

var (
	ErrEmptyConfiguration    = errors.New("protocol: no versions configured")
	ErrUnsortedConfiguration = errors.New("protocol: start slots must be strictly ascending")
	ErrNoGenesisVersion      = errors.New("protocol: no version starts at the genesis slot")
	ErrNoVersionForSlot      = errors.New("protocol: no version for slot")
)

// Entry activates Version from StartSlot onward.
type Entry[V any] struct {
	StartSlot types.Slot
	Version   V
}

// Registry is an immutable, ascending list of version entries.
type Registry[V any] struct {
	entries []Entry[V]
}

// NewRegistry validates the entries and returns a registry over a copy of them.
func NewRegistry[V any](genesisSlot types.Slot, entries ...Entry[V]) (*Registry[V], error) {
	if len(entries) == 0 {
		return nil, ErrEmptyConfiguration
	}
	hasGenesis := false
	for i, e := range entries {
		if i > 0 && e.StartSlot <= entries[i-1].StartSlot {
			return nil, errors.Wrapf(ErrUnsortedConfiguration, "entry %d starts at %d after %d", i, e.StartSlot, entries[i-1].StartSlot)
		}
		if e.StartSlot == genesisSlot {
			hasGenesis = true
		}
	}
	if !hasGenesis {
		return nil, errors.Wrapf(ErrNoGenesisVersion, "genesis slot %d", genesisSlot)
	}
	return &Registry[V]{entries: append([]Entry[V](nil), entries...)}, nil
}

// Resolve returns the version of the entry with the highest start slot not
// greater than slot.
func (r *Registry[V]) Resolve(slot types.Slot) (V, error) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].StartSlot <= slot {
			return r.entries[i].Version, nil
		}
	}
	var zero V
	return zero, errors.Wrapf(ErrNoVersionForSlot, "%d", slot)
}

// GenesisVersion returns the version with the lowest start slot.
func (r *Registry[V]) GenesisVersion() V {
	return r.entries[0].Version
}

// Entries returns a copy of the configured entries.
func (r *Registry[V]) Entries() []Entry[V] {
	return append([]Entry[V](nil), r.entries...)
}

func (r *Registry[V]) Len() int { return len(r.entries) }
