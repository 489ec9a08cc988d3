package statemachine

import (
	"math"
	"testing"

	"github.com/prysmaticlabs/go-bitfield"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geanlabs/beaconchain/bls"
	"github.com/geanlabs/beaconchain/chaindb"
	"github.com/geanlabs/beaconchain/internal/genesis"
	"github.com/geanlabs/beaconchain/pool"
	"github.com/geanlabs/beaconchain/protocol"
	"github.com/geanlabs/beaconchain/storage/memory"
	"github.com/geanlabs/beaconchain/types"
)

const numValidators = 4

type harness struct {
	t        *testing.T
	backend  bls.Backend
	registry *protocol.Registry[Version]
	db       *chaindb.DB
	pool     *pool.AttestationPool
	genesis  types.BeaconBlock
}

func newHarness(t *testing.T, backend bls.Backend, schedule ...protocol.Entry[Rules]) *harness {
	t.Helper()
	if len(schedule) == 0 {
		schedule = []protocol.Entry[Rules]{{StartSlot: 0, Version: Phase0()}}
	}
	registry, err := NewRegistry(Config{Backend: backend}, 0, schedule...)
	require.NoError(t, err)

	cfg, err := genesis.Interop(backend, 1000, 0, numValidators)
	require.NoError(t, err)
	gv := registry.GenesisVersion()
	fork, err := types.ForkVersionOf(gv.StateKind())
	require.NoError(t, err)
	state, block, err := cfg.CreateState(gv.BlockKind(), fork)
	require.NoError(t, err)

	db := chaindb.New(memory.New(), chaindb.GenesisConfig{})
	require.NoError(t, db.PersistState(state))
	_, _, err = db.PersistBlock(block, block.Kind(), func(types.BeaconBlock) (types.Score, error) { return 0, nil })
	require.NoError(t, err)

	return &harness{t: t, backend: backend, registry: registry, db: db, pool: pool.New(0), genesis: block}
}

func (h *harness) machine(slot types.Slot) Machine {
	v, err := h.registry.Resolve(slot)
	require.NoError(h.t, err)
	return v.New(h.db, h.pool, slot)
}

// build creates, fills and signs a child of parent at slot and persists it.
func (h *harness) build(parent types.BeaconBlock, slot types.Slot) types.BeaconBlock {
	h.t.Helper()
	m := h.machine(parent.GetSlot())
	block, err := m.CreateBlockFromParent(parent, BlockParams{
		Slot:          &slot,
		ProposerIndex: types.ValidatorIndex(uint64(slot) % numValidators),
	})
	require.NoError(h.t, err)

	_, block, err = m.ImportBlock(block, false)
	require.NoError(h.t, err)
	block = h.sign(block)

	state, imported, err := m.ImportBlock(block, true)
	require.NoError(h.t, err)
	require.NoError(h.t, h.db.PersistState(state))
	_, _, err = h.db.PersistBlock(imported, imported.Kind(), m.ForkChoiceScoring())
	require.NoError(h.t, err)
	return imported
}

func (h *harness) sign(block types.BeaconBlock) types.BeaconBlock {
	h.t.Helper()
	root, err := block.SigningRoot()
	require.NoError(h.t, err)
	msg, err := types.ComputeSigningRoot(root, types.DomainBeaconProposer)
	require.NoError(h.t, err)
	sig, err := h.backend.Sign(bls.InteropSecretKey(block.GetProposerIndex()), msg)
	require.NoError(h.t, err)
	return block.WithSignature(sig)
}

func (h *harness) attest(slot types.Slot, target types.BeaconBlock, source types.Checkpoint, validators ...uint64) *types.Attestation {
	h.t.Helper()
	bits := bitfield.NewBitlist(numValidators)
	for _, v := range validators {
		bits.SetBitAt(v, true)
	}
	att := &types.Attestation{
		AggregationBits: bits,
		Data: types.AttestationData{
			Slot:            slot,
			BeaconBlockRoot: h.root(target),
			Source:          source,
			Target:          types.Checkpoint{Root: h.root(target), Slot: target.GetSlot()},
		},
	}
	dataRoot, err := att.Data.HashTreeRoot()
	require.NoError(h.t, err)
	msg, err := types.ComputeSigningRoot(dataRoot, types.DomainBeaconAttester)
	require.NoError(h.t, err)
	var sigs []types.BLSSignature
	for _, v := range validators {
		sig, err := h.backend.Sign(bls.InteropSecretKey(types.ValidatorIndex(v)), msg)
		require.NoError(h.t, err)
		sigs = append(sigs, sig)
	}
	att.Signature, err = h.backend.AggregateSignatures(sigs)
	require.NoError(h.t, err)
	return att
}

func (h *harness) root(b types.BeaconBlock) types.Root {
	h.t.Helper()
	r, err := b.SigningRoot()
	require.NoError(h.t, err)
	return r
}

func TestImportBlock_FillsStateRoot(t *testing.T) {
	h := newHarness(t, bls.NoopBackend{})
	m := h.machine(0)

	block, err := m.CreateBlockFromParent(h.genesis, BlockParams{ProposerIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, types.Slot(1), block.GetSlot())
	assert.True(t, block.GetStateRoot().IsZero())

	state, imported, err := m.ImportBlock(block, false)
	require.NoError(t, err)
	stateRoot, err := state.HashTreeRoot()
	require.NoError(t, err)
	assert.Equal(t, stateRoot, imported.GetStateRoot())
	assert.True(t, block.GetStateRoot().IsZero(), "input block must not be mutated")

	// Re-importing the canonical block is accepted unchanged.
	_, again, err := m.ImportBlock(imported, false)
	require.NoError(t, err)
	eq, err := types.BlocksEqual(imported, again)
	require.NoError(t, err)
	assert.True(t, eq)

	// The genesis is justified and finalized by the first block.
	assert.Equal(t, h.root(h.genesis), state.LatestJustified.Root)
	assert.Equal(t, h.root(h.genesis), state.LatestFinalized.Root)
}

func TestImportBlock_Rejections(t *testing.T) {
	h := newHarness(t, bls.NoopBackend{})
	m := h.machine(0)

	valid, err := m.CreateBlockFromParent(h.genesis, BlockParams{ProposerIndex: 1})
	require.NoError(t, err)
	_, filled, err := m.ImportBlock(valid, false)
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(b *types.Phase0Block)
		wantErr error
	}{
		{"wrong proposer", func(b *types.Phase0Block) { b.ProposerIndex = 2 }, ErrInvalidProposer},
		{"wrong state root", func(b *types.Phase0Block) { b.StateRoot = types.Root{0xde} }, ErrStateRootMismatch},
		{"bad attestation", func(b *types.Phase0Block) {
			b.Body.Attestations = []*types.Attestation{h.attest(1, h.genesis, types.Checkpoint{}, 0)}
		}, ErrInvalidAttestation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := filled.Copy().(*types.Phase0Block)
			tt.mutate(b)
			_, _, err := m.ImportBlock(b, false)
			require.ErrorIs(t, err, tt.wantErr)
			require.ErrorIs(t, err, ErrInvalidBlock)
		})
	}

	t.Run("wrong kind", func(t *testing.T) {
		b := &types.AltairBlock{Slot: 1, ProposerIndex: 1, ParentRoot: h.root(h.genesis)}
		_, _, err := m.ImportBlock(b, false)
		require.ErrorIs(t, err, ErrBlockKindMismatch)
	})
}

func TestImportBlock_ProposerSignature(t *testing.T) {
	h := newHarness(t, bls.BlstBackend{})
	m := h.machine(0)

	block, err := m.CreateBlockFromParent(h.genesis, BlockParams{ProposerIndex: 1})
	require.NoError(t, err)
	_, filled, err := m.ImportBlock(block, false)
	require.NoError(t, err)

	_, _, err = m.ImportBlock(filled, true)
	require.ErrorIs(t, err, ErrInvalidSignature, "unsigned block accepted")

	signed := h.sign(filled)
	_, _, err = m.ImportBlock(signed, true)
	require.NoError(t, err)
}

func TestImportBlock_JustifiesAndFinalizes(t *testing.T) {
	h := newHarness(t, bls.BlstBackend{})
	genesisCp := types.Checkpoint{Root: h.root(h.genesis), Slot: 0}

	b1 := h.build(h.genesis, 1)
	_, err := h.pool.Add(h.attest(1, b1, genesisCp, 0, 1, 2))
	require.NoError(t, err)

	b2 := h.build(b1, 2)
	require.Len(t, b2.GetAttestations(), 1)
	state, err := h.db.GetStateBySlot(2, types.Phase0StateKind)
	require.NoError(t, err)
	assert.Equal(t, types.Slot(1), state.LatestJustified.Slot)

	// The first attestation is canonical now and is not selected again.
	cp1 := types.Checkpoint{Root: h.root(b1), Slot: 1}
	_, err = h.pool.Add(h.attest(2, b2, cp1, 1, 2, 3))
	require.NoError(t, err)
	b3 := h.build(b2, 3)
	require.Len(t, b3.GetAttestations(), 1)

	state, err = h.db.GetStateBySlot(3, types.Phase0StateKind)
	require.NoError(t, err)
	assert.Equal(t, types.Slot(2), state.LatestJustified.Slot)
	assert.Equal(t, types.Slot(1), state.LatestFinalized.Slot)
}

func TestImportBlock_ForkUpgrade(t *testing.T) {
	h := newHarness(t, bls.NoopBackend{},
		protocol.Entry[Rules]{StartSlot: 0, Version: Phase0()},
		protocol.Entry[Rules]{StartSlot: 2, Version: Altair()},
	)

	b1 := h.build(h.genesis, 1)
	assert.Equal(t, types.Phase0BlockKind, b1.Kind())

	// Skip slot 2: the upgrade happens while processing empty slots.
	b3 := h.build(b1, 3)
	assert.Equal(t, types.AltairBlockKind, b3.Kind())

	state, err := h.db.GetStateBySlot(3, types.AltairStateKind)
	require.NoError(t, err)
	assert.Equal(t, types.AltairForkVersion, state.ForkVersion)
	assert.Len(t, state.HistoricalBlockRoots, 3)
}

func TestImportBlock_SiblingUsesParentState(t *testing.T) {
	h := newHarness(t, bls.NoopBackend{})

	a1 := h.build(h.genesis, 1)
	h.build(a1, 2)

	// The state at slot 2 belongs to another branch than a block at slot 3
	// built on genesis.
	m := h.machine(2)
	slot := types.Slot(3)
	block, err := m.CreateBlockFromParent(h.genesis, BlockParams{Slot: &slot, ProposerIndex: 3})
	require.NoError(t, err)

	state, imported, err := m.ImportBlock(block, false)
	require.NoError(t, err)
	assert.Equal(t, h.root(h.genesis), imported.GetParentRoot())
	assert.Equal(t, []types.Root{h.root(h.genesis), {}, {}}, state.HistoricalBlockRoots)
}

func TestForkChoiceScoring(t *testing.T) {
	h := newHarness(t, bls.NoopBackend{},
		protocol.Entry[Rules]{StartSlot: 0, Version: Phase0()},
		protocol.Entry[Rules]{StartSlot: 10, Version: Altair()},
	)

	score, err := h.machine(0).ForkChoiceScoring()(&types.Phase0Block{Slot: 7})
	require.NoError(t, err)
	assert.Equal(t, types.Score(7), score)

	bits := bitfield.NewBitlist(numValidators)
	bits.SetBitAt(0, true)
	bits.SetBitAt(3, true)
	altair := &types.AltairBlock{
		Slot: 10,
		Body: types.AltairBlockBody{
			Attestations:  []*types.Attestation{{AggregationBits: bits}},
			SyncAggregate: types.SyncAggregate{ParticipationBits: bitfield.Bitvector64{0x07, 0, 0, 0, 0, 0, 0, 0}},
		},
	}

	// A machine scores with its own version, whatever the block's slot.
	score, err = h.machine(9).ForkChoiceScoring()(altair)
	require.NoError(t, err)
	assert.Equal(t, types.Score(10), score)

	score, err = h.machine(10).ForkChoiceScoring()(altair)
	require.NoError(t, err)
	assert.Equal(t, 10*types.ScoreSlotWeight+2+3, score)
}

func TestIncludable(t *testing.T) {
	assert.True(t, Includable(0, 1))
	assert.True(t, Includable(3, 10))
	assert.False(t, Includable(1, 1))
	assert.False(t, Includable(0, 0))
	assert.False(t, Includable(math.MaxUint64, 1))
	assert.False(t, Includable(math.MaxUint64, math.MaxUint64))
	assert.True(t, Includable(math.MaxUint64-1, math.MaxUint64))
}

func TestImportBlock_FarFutureAttestation(t *testing.T) {
	h := newHarness(t, bls.NoopBackend{})
	m := h.machine(0)

	att := h.attest(math.MaxUint64, h.genesis, types.Checkpoint{}, 0)
	att.Data.Target.Slot = math.MaxUint64 - 1
	_, err := h.pool.Add(att)
	require.NoError(t, err)

	block, err := m.CreateBlockFromParent(h.genesis, BlockParams{ProposerIndex: 1})
	require.NoError(t, err)
	assert.Empty(t, block.GetAttestations(), "attestation from a future slot selected")

	_, filled, err := m.ImportBlock(block, false)
	require.NoError(t, err)

	b := filled.Copy().(*types.Phase0Block)
	b.Body.Attestations = []*types.Attestation{att}
	require.NotPanics(t, func() {
		_, _, err = m.ImportBlock(b, false)
	})
	require.ErrorIs(t, err, ErrInvalidAttestation)
}

func TestRulesByName(t *testing.T) {
	r, err := RulesByName("altair")
	require.NoError(t, err)
	assert.Equal(t, types.AltairBlockKind, r.BlockKind())

	_, err = RulesByName("bellatrix")
	require.ErrorIs(t, err, ErrUnknownRules)
}
