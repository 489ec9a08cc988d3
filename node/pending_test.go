package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geanlabs/beaconchain/types"
)

func orphan(slot types.Slot, parent types.Root) types.BeaconBlock {
	return &types.Phase0Block{Slot: slot, ProposerIndex: 1, ParentRoot: parent}
}

func TestPendingBlocks_PopChildren(t *testing.T) {
	p := NewPendingBlocks(0)
	parent := types.Root{0x01}

	late := orphan(5, parent)
	early := orphan(3, parent)
	other := orphan(4, types.Root{0x02})
	for _, b := range []types.BeaconBlock{late, early, other} {
		added, err := p.Add(b, "")
		require.NoError(t, err)
		assert.True(t, added)
	}
	added, err := p.Add(late, "")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 3, p.Len())

	children := p.PopChildren(parent)
	require.Len(t, children, 2)
	assert.Equal(t, types.Slot(3), children[0].GetSlot())
	assert.Equal(t, types.Slot(5), children[1].GetSlot())
	assert.Equal(t, 1, p.Len())
	assert.Empty(t, p.PopChildren(parent))

	otherRoot, err := other.SigningRoot()
	require.NoError(t, err)
	assert.True(t, p.Has(otherRoot))
}

func TestPendingBlocks_EvictsOldest(t *testing.T) {
	p := NewPendingBlocks(2)
	parent := types.Root{0x01}

	first := orphan(1, parent)
	_, err := p.Add(first, "")
	require.NoError(t, err)
	_, err = p.Add(orphan(2, parent), "")
	require.NoError(t, err)
	_, err = p.Add(orphan(3, parent), "")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())

	firstRoot, err := first.SigningRoot()
	require.NoError(t, err)
	assert.False(t, p.Has(firstRoot))

	children := p.PopChildren(parent)
	require.Len(t, children, 2)
	assert.Equal(t, types.Slot(2), children[0].GetSlot())
	assert.Zero(t, p.Len())
}
