// Package statemachine implements the versioned beacon state transition.
//
// A Version describes one protocol version (its block and state shapes and
// fork-choice scoring). A Machine is a Version bound to a chain database,
// an attestation pool and the slot whose state it starts from.
package statemachine

import (
	"iter"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/bls"
	"github.com/geanlabs/beaconchain/chaindb"
	"github.com/geanlabs/beaconchain/protocol"
	"github.com/geanlabs/beaconchain/types"
)

// ChainReader is the read side of the chain database a machine needs.
type ChainReader interface {
	GetStateBySlot(slot types.Slot, kind types.StateKind) (*types.BeaconState, error)
	GetStateByRoot(root types.Root, kind types.StateKind) (*types.BeaconState, error)
	GetBlockKind(root types.Root) (types.BlockKind, error)
	GetBlockByRoot(root types.Root, kind types.BlockKind) (types.BeaconBlock, error)
	AttestationExists(root types.Root) (bool, error)
}

// AttestationSource supplies attestations for block production.
type AttestationSource interface {
	Candidates() iter.Seq[*types.Attestation]
}

// BlockParams are the proposer-chosen fields of a new block.
type BlockParams struct {
	Slot          *types.Slot // defaults to parent slot + 1
	ProposerIndex types.ValidatorIndex
	RandaoReveal  types.BLSSignature
	Graffiti      types.Root
}

// Version is one protocol version.
type Version interface {
	Name() string
	BlockKind() types.BlockKind
	StateKind() types.StateKind
	New(db ChainReader, pool AttestationSource, slot types.Slot) Machine
}

// Machine runs the state transition starting from the state at its slot.
type Machine interface {
	// CreateBlockFromParent builds an unsigned child of parent. It does not
	// touch storage.
	CreateBlockFromParent(parent types.BeaconBlock, params BlockParams) (types.BeaconBlock, error)
	// ImportBlock applies block and returns the post-state together with the
	// block as the machine canonicalizes it (a zero state root is filled in).
	ImportBlock(block types.BeaconBlock, checkProposerSignature bool) (*types.BeaconState, types.BeaconBlock, error)
	ForkChoiceScoring() chaindb.ScoringFunc
}

// Config is shared by all versions of a registry.
type Config struct {
	Backend bls.Backend // signature backend; NoopBackend when nil
	Logger  *slog.Logger
}

type env struct {
	backend bls.Backend
	log     *slog.Logger
	rules   *protocol.Registry[Rules]
}

// NewRegistry builds the protocol version registry for a fork schedule.
func NewRegistry(cfg Config, genesisSlot types.Slot, schedule ...protocol.Entry[Rules]) (*protocol.Registry[Version], error) {
	rules, err := protocol.NewRegistry(genesisSlot, schedule...)
	if err != nil {
		return nil, err
	}
	e := &env{backend: cfg.Backend, log: cfg.Logger, rules: rules}
	if e.backend == nil {
		e.backend = bls.NoopBackend{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	entries := make([]protocol.Entry[Version], len(schedule))
	for i, s := range schedule {
		entries[i] = protocol.Entry[Version]{StartSlot: s.StartSlot, Version: &version{rules: s.Version, env: e}}
	}
	return protocol.NewRegistry(genesisSlot, entries...)
}

type version struct {
	rules Rules
	env   *env
}

func (v *version) Name() string               { return v.rules.Name() }
func (v *version) BlockKind() types.BlockKind { return v.rules.BlockKind() }
func (v *version) StateKind() types.StateKind { return v.rules.StateKind() }

func (v *version) New(db ChainReader, pool AttestationSource, slot types.Slot) Machine {
	return &machine{version: v, db: db, pool: pool, slot: slot}
}

type machine struct {
	version *version
	db      ChainReader
	pool    AttestationSource
	slot    types.Slot
}

// ForkChoiceScoring scores with the rules of the machine's version, which
// is the version active at the base state's slot.
func (m *machine) ForkChoiceScoring() chaindb.ScoringFunc {
	return m.version.rules.Score
}

func (m *machine) CreateBlockFromParent(parent types.BeaconBlock, params BlockParams) (types.BeaconBlock, error) {
	slot := parent.GetSlot() + 1
	if params.Slot != nil {
		slot = *params.Slot
	}
	if slot <= parent.GetSlot() {
		return nil, errors.Wrapf(ErrSlotMismatch, "child slot %d not after parent slot %d", slot, parent.GetSlot())
	}
	r, err := m.version.env.rules.Resolve(slot)
	if err != nil {
		return nil, err
	}
	parentRoot, err := parent.SigningRoot()
	if err != nil {
		return nil, errors.Wrap(err, "parent root")
	}
	atts, err := m.selectAttestations(slot)
	if err != nil {
		return nil, err
	}

	switch r.BlockKind() {
	case types.Phase0BlockKind:
		return &types.Phase0Block{
			Slot:          slot,
			ProposerIndex: params.ProposerIndex,
			ParentRoot:    parentRoot,
			Body: types.Phase0BlockBody{
				RandaoReveal: params.RandaoReveal,
				Graffiti:     params.Graffiti,
				Attestations: atts,
			},
		}, nil
	case types.AltairBlockKind:
		b, _ := types.NewBlock(types.AltairBlockKind)
		ab := b.(*types.AltairBlock)
		ab.Slot = slot
		ab.ProposerIndex = params.ProposerIndex
		ab.ParentRoot = parentRoot
		ab.Body.RandaoReveal = params.RandaoReveal
		ab.Body.Graffiti = params.Graffiti
		ab.Body.Attestations = atts
		return ab, nil
	default:
		return nil, errors.Wrapf(types.ErrUnknownBlockKind, "%s", r.BlockKind())
	}
}

// selectAttestations picks pooled attestations old enough for slot and not
// yet in the canonical chain.
func (m *machine) selectAttestations(slot types.Slot) ([]*types.Attestation, error) {
	var atts []*types.Attestation
	if m.pool == nil {
		return atts, nil
	}
	for att := range m.pool.Candidates() {
		if len(atts) == types.MaxAttestations {
			break
		}
		if !Includable(att.Data.Slot, slot) || att.AggregationBits.Count() == 0 {
			continue
		}
		root, err := att.HashTreeRoot()
		if err != nil {
			continue
		}
		included, err := m.db.AttestationExists(root)
		if err != nil {
			return nil, err
		}
		if !included {
			atts = append(atts, att.Copy())
		}
	}
	return atts, nil
}

// baseState loads the state the import starts from: the state at the
// machine's slot when it is an ancestor of the block, otherwise the
// post-state of the block's parent.
func (m *machine) baseState(block types.BeaconBlock) (*types.BeaconState, error) {
	state, err := m.db.GetStateBySlot(m.slot, m.version.StateKind())
	if err == nil {
		ok, err := extends(state, block)
		if err != nil {
			return nil, err
		}
		if ok {
			return state, nil
		}
	} else if !errors.Is(err, chaindb.ErrStateNotFound) {
		return nil, err
	}

	parentRoot := block.GetParentRoot()
	kind, err := m.db.GetBlockKind(parentRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "parent %s", parentRoot.Short())
	}
	parent, err := m.db.GetBlockByRoot(parentRoot, kind)
	if err != nil {
		return nil, errors.Wrapf(err, "parent %s", parentRoot.Short())
	}
	r, err := m.version.env.rules.Resolve(parent.GetSlot())
	if err != nil {
		return nil, err
	}
	m.version.env.log.Debug("base state is not an ancestor, using parent state",
		"slot", block.GetSlot(), "base_slot", m.slot, "parent_slot", parent.GetSlot())
	return m.db.GetStateByRoot(parent.GetStateRoot(), r.StateKind())
}

// extends reports whether block can be applied on top of state.
func extends(state *types.BeaconState, block types.BeaconBlock) (bool, error) {
	if state.Slot >= block.GetSlot() {
		return false, nil
	}
	header := state.LatestBlockHeader
	if header.StateRoot.IsZero() {
		root, err := state.HashTreeRoot()
		if err != nil {
			return false, err
		}
		header.StateRoot = root
	}
	root, err := header.HashTreeRoot()
	if err != nil {
		return false, err
	}
	return root == block.GetParentRoot(), nil
}

func (m *machine) ImportBlock(block types.BeaconBlock, checkProposerSignature bool) (*types.BeaconState, types.BeaconBlock, error) {
	env := m.version.env
	r, err := env.rules.Resolve(block.GetSlot())
	if err != nil {
		return nil, nil, err
	}
	if block.Kind() != r.BlockKind() {
		return nil, nil, errors.Wrapf(ErrBlockKindMismatch, "got %s at slot %d, want %s", block.Kind(), block.GetSlot(), r.BlockKind())
	}

	base, err := m.baseState(block)
	if err != nil {
		return nil, nil, err
	}
	state := base.Copy()

	if err := processSlots(env.rules, state, block.GetSlot()); err != nil {
		return nil, nil, err
	}
	if err := processBlockHeader(state, block); err != nil {
		return nil, nil, err
	}
	if checkProposerSignature {
		if err := verifyProposerSignature(env.backend, state, block); err != nil {
			return nil, nil, err
		}
	}
	if err := processAttestations(env.backend, state, block, checkProposerSignature); err != nil {
		return nil, nil, err
	}
	if err := r.ProcessBody(env.backend, state, block, checkProposerSignature); err != nil {
		return nil, nil, err
	}

	stateRoot, err := state.HashTreeRoot()
	if err != nil {
		return nil, nil, errors.Wrap(err, "hash post-state")
	}
	switch {
	case block.GetStateRoot().IsZero():
		block = block.WithStateRoot(stateRoot)
	case block.GetStateRoot() != stateRoot:
		return nil, nil, errors.Wrapf(ErrStateRootMismatch, "block %s, computed %s", block.GetStateRoot().Short(), stateRoot.Short())
	default:
		block = block.Copy()
	}
	return state, block, nil
}
