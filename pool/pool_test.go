package pool

import (
	"testing"

	"github.com/prysmaticlabs/go-bitfield"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geanlabs/beaconchain/types"
)

func makeAttestation(slot types.Slot) *types.Attestation {
	bits := bitfield.NewBitlist(4)
	bits.SetBitAt(0, true)
	return &types.Attestation{
		AggregationBits: bits,
		Data: types.AttestationData{
			Slot:            slot,
			BeaconBlockRoot: types.Root{byte(slot)},
		},
	}
}

func collect(p *AttestationPool) []types.Slot {
	var slots []types.Slot
	for att := range p.Candidates() {
		slots = append(slots, att.Data.Slot)
	}
	return slots
}

func TestPool_AddIsIdempotent(t *testing.T) {
	p := New(0)

	added, err := p.Add(makeAttestation(1))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = p.Add(makeAttestation(1))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, p.Len())

	root, err := makeAttestation(1).HashTreeRoot()
	require.NoError(t, err)
	assert.True(t, p.Has(root))
}

func TestPool_CandidatesOldestFirstAndRestartable(t *testing.T) {
	p := New(10)
	for _, s := range []types.Slot{3, 1, 2} {
		_, err := p.Add(makeAttestation(s))
		require.NoError(t, err)
	}

	assert.Equal(t, []types.Slot{3, 1, 2}, collect(p))
	assert.Equal(t, []types.Slot{3, 1, 2}, collect(p), "second pass must see the same attestations")

	var first []types.Slot
	for att := range p.Candidates() {
		first = append(first, att.Data.Slot)
		break
	}
	assert.Equal(t, []types.Slot{3}, first)
}

func TestPool_EvictsOldest(t *testing.T) {
	p := New(2)
	for _, s := range []types.Slot{1, 2, 3} {
		_, err := p.Add(makeAttestation(s))
		require.NoError(t, err)
	}
	assert.Equal(t, []types.Slot{2, 3}, collect(p))
}

func TestPool_RemoveIncluded(t *testing.T) {
	p := New(10)
	a1, a2 := makeAttestation(1), makeAttestation(2)
	_, err := p.Add(a1)
	require.NoError(t, err)
	_, err = p.Add(a2)
	require.NoError(t, err)

	p.RemoveIncluded([]*types.Attestation{a1})
	assert.Equal(t, []types.Slot{2}, collect(p))

	root, err := a2.HashTreeRoot()
	require.NoError(t, err)
	assert.True(t, p.Remove(root))
	assert.Zero(t, p.Len())
}

func TestPool_StoresCopies(t *testing.T) {
	p := New(10)
	att := makeAttestation(1)
	root, err := att.HashTreeRoot()
	require.NoError(t, err)
	_, err = p.Add(att)
	require.NoError(t, err)

	att.Data.Slot = 99
	got, ok := p.Get(root)
	require.True(t, ok)
	assert.Equal(t, types.Slot(1), got.Data.Slot)
}
