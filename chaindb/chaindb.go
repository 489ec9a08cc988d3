// Package chaindb persists blocks, states, fork-choice scores and the
// canonical chain on top of a storage.Store.
package chaindb

import (
	"sync"

	"github.com/golang/snappy"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/storage"
	"github.com/geanlabs/beaconchain/types"
)

var (
	ErrBlockNotFound         = errors.New("block not found")
	ErrStateNotFound         = errors.New("state not found")
	ErrHeadNotFound          = errors.New("canonical head not found")
	ErrAttestationNotFound   = errors.New("attestation not found")
	ErrScoreNotFound         = errors.New("score not found")
	ErrCanonicalRootNotFound = errors.New("no canonical block at slot")
	ErrParentNotFound        = errors.New("parent block not persisted")
	ErrBlockKindMismatch     = errors.New("stored block has a different kind")
	ErrStateKindMismatch     = errors.New("stored state has a different kind")
	ErrCorrupt               = errors.New("corrupt database entry")
)

// ScoringFunc computes the fork-choice score of a block about to be persisted.
type ScoringFunc func(types.BeaconBlock) (types.Score, error)

// GenesisConfig is the chain-wide genesis information the database is opened with.
type GenesisConfig struct {
	GenesisSlot types.Slot
	GenesisTime uint64
}

const blockCacheSize = 256

// DB is the chain database. Reads never block on writes; writes are
// serialized and each one lands as a single atomic batch.
type DB struct {
	store   storage.Store
	genesis GenesisConfig

	writeMu sync.Mutex
	blocks  *lru.Cache[types.Root, types.BeaconBlock]
}

// New wraps store. The store is owned by the caller.
func New(store storage.Store, genesis GenesisConfig) *DB {
	cache, _ := lru.New[types.Root, types.BeaconBlock](blockCacheSize)
	return &DB{store: store, genesis: genesis, blocks: cache}
}

// Genesis returns the configuration the database was opened with.
func (db *DB) Genesis() GenesisConfig { return db.genesis }

// --- Blocks ---

func encodeBlock(b types.BeaconBlock) ([]byte, error) {
	enc, err := b.MarshalSSZ()
	if err != nil {
		return nil, errors.Wrap(err, "encode block")
	}
	return append([]byte{byte(b.Kind())}, snappy.Encode(nil, enc)...), nil
}

func decodeBlock(data []byte) (types.BeaconBlock, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrCorrupt, "empty block entry")
	}
	raw, err := snappy.Decode(nil, data[1:])
	if err != nil {
		return nil, errors.Wrap(ErrCorrupt, err.Error())
	}
	return types.UnmarshalTaggedBlock(append([]byte{data[0]}, raw...))
}

func (db *DB) getBlock(root types.Root) (types.BeaconBlock, error) {
	if b, ok := db.blocks.Get(root); ok {
		return b.Copy(), nil
	}
	data, err := db.store.Get(rootKey(blockPrefix, root))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrapf(ErrBlockNotFound, "root %s", root.Short())
	}
	if err != nil {
		return nil, err
	}
	b, err := decodeBlock(data)
	if err != nil {
		return nil, errors.Wrapf(err, "block %s", root.Short())
	}
	db.blocks.Add(root, b)
	return b.Copy(), nil
}

// GetBlockByRoot returns the block with the given signing root, checking that
// it has the expected kind.
func (db *DB) GetBlockByRoot(root types.Root, kind types.BlockKind) (types.BeaconBlock, error) {
	b, err := db.getBlock(root)
	if err != nil {
		return nil, err
	}
	if b.Kind() != kind {
		return nil, errors.Wrapf(ErrBlockKindMismatch, "block %s is %s, want %s", root.Short(), b.Kind(), kind)
	}
	return b, nil
}

// GetBlockKind returns the kind of a stored block without decoding it.
func (db *DB) GetBlockKind(root types.Root) (types.BlockKind, error) {
	if b, ok := db.blocks.Peek(root); ok {
		return b.Kind(), nil
	}
	data, err := db.store.Get(rootKey(blockPrefix, root))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, errors.Wrapf(ErrBlockNotFound, "root %s", root.Short())
	}
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, errors.Wrapf(ErrCorrupt, "block %s", root.Short())
	}
	return types.BlockKind(data[0]), nil
}

// BlockExists reports whether a block with the given root is persisted.
func (db *DB) BlockExists(root types.Root) (bool, error) {
	if db.blocks.Contains(root) {
		return true, nil
	}
	return db.store.Has(rootKey(blockPrefix, root))
}

// GetSlotByRoot returns the slot of a stored block.
func (db *DB) GetSlotByRoot(root types.Root) (types.Slot, error) {
	b, err := db.getBlock(root)
	if err != nil {
		return 0, err
	}
	return b.GetSlot(), nil
}

// GetScore returns the fork-choice score recorded for a block.
func (db *DB) GetScore(root types.Root) (types.Score, error) {
	data, err := db.store.Get(rootKey(scorePrefix, root))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, errors.Wrapf(ErrScoreNotFound, "root %s", root.Short())
	}
	if err != nil {
		return 0, err
	}
	v, ok := decodeUint64(data)
	if !ok {
		return 0, errors.Wrapf(ErrCorrupt, "score of %s", root.Short())
	}
	return types.Score(v), nil
}

// --- Canonical chain ---

// GetCanonicalHeadRoot returns the root of the canonical head.
func (db *DB) GetCanonicalHeadRoot() (types.Root, error) {
	data, err := db.store.Get(canonicalHeadKey)
	if errors.Is(err, storage.ErrNotFound) {
		return types.Root{}, ErrHeadNotFound
	}
	if err != nil {
		return types.Root{}, err
	}
	if len(data) != 32 {
		return types.Root{}, errors.Wrap(ErrCorrupt, "canonical head")
	}
	return types.Root(data), nil
}

// GetCanonicalHead returns the canonical head block.
func (db *DB) GetCanonicalHead() (types.BeaconBlock, error) {
	root, err := db.GetCanonicalHeadRoot()
	if err != nil {
		return nil, err
	}
	return db.getBlock(root)
}

// GetCanonicalBlockRoot returns the root of the canonical block at slot.
func (db *DB) GetCanonicalBlockRoot(slot types.Slot) (types.Root, error) {
	data, err := db.store.Get(slotKey(canonicalSlotPrefix, slot))
	if errors.Is(err, storage.ErrNotFound) {
		return types.Root{}, errors.Wrapf(ErrCanonicalRootNotFound, "slot %d", slot)
	}
	if err != nil {
		return types.Root{}, err
	}
	if len(data) != 32 {
		return types.Root{}, errors.Wrapf(ErrCorrupt, "canonical root at slot %d", slot)
	}
	return types.Root(data), nil
}

// GetCanonicalBlockBySlot returns the canonical block at slot.
func (db *DB) GetCanonicalBlockBySlot(slot types.Slot, kind types.BlockKind) (types.BeaconBlock, error) {
	root, err := db.GetCanonicalBlockRoot(slot)
	if err != nil {
		return nil, err
	}
	return db.GetBlockByRoot(root, kind)
}

// --- Attestations ---

// GetAttestationKeyByRoot locates an attestation included in a canonical block.
func (db *DB) GetAttestationKeyByRoot(root types.Root) (AttestationKey, error) {
	data, err := db.store.Get(rootKey(attestationKeyPrefix, root))
	if errors.Is(err, storage.ErrNotFound) {
		return AttestationKey{}, errors.Wrapf(ErrAttestationNotFound, "root %s", root.Short())
	}
	if err != nil {
		return AttestationKey{}, err
	}
	k, ok := decodeAttestationKey(data)
	if !ok {
		return AttestationKey{}, errors.Wrapf(ErrCorrupt, "attestation key %s", root.Short())
	}
	return k, nil
}

// GetAttestationByRoot returns an attestation included in a canonical block.
func (db *DB) GetAttestationByRoot(root types.Root) (*types.Attestation, error) {
	key, err := db.GetAttestationKeyByRoot(root)
	if err != nil {
		return nil, err
	}
	b, err := db.getBlock(key.BlockRoot)
	if err != nil {
		return nil, err
	}
	atts := b.GetAttestations()
	if key.Index >= uint64(len(atts)) {
		return nil, errors.Wrapf(ErrCorrupt, "attestation %s index %d out of range", root.Short(), key.Index)
	}
	return atts[key.Index], nil
}

// AttestationExists reports whether an attestation is included in the canonical chain.
func (db *DB) AttestationExists(root types.Root) (bool, error) {
	return db.store.Has(rootKey(attestationKeyPrefix, root))
}

// --- States ---

// PersistState stores a state under its hash tree root and indexes it by
// slot. A later state for the same slot replaces the slot index entry.
func (db *DB) PersistState(state *types.BeaconState) error {
	root, err := state.HashTreeRoot()
	if err != nil {
		return errors.Wrap(err, "state root")
	}
	enc, err := state.MarshalSSZ()
	if err != nil {
		return errors.Wrap(err, "encode state")
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	batch := db.store.NewBatch()
	batch.Put(rootKey(statePrefix, root), snappy.Encode(nil, enc))
	batch.Put(slotKey(stateSlotPrefix, state.Slot), root[:])

	headSlot, err := db.GetHeadStateSlot()
	switch {
	case errors.Is(err, ErrStateNotFound):
		batch.Put(headStateSlotKey, encodeUint64(uint64(state.Slot)))
	case err != nil:
		return err
	case state.Slot > headSlot:
		batch.Put(headStateSlotKey, encodeUint64(uint64(state.Slot)))
	}
	return batch.Commit()
}

// GetHeadStateSlot returns the highest slot a state was persisted for.
func (db *DB) GetHeadStateSlot() (types.Slot, error) {
	data, err := db.store.Get(headStateSlotKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, errors.Wrap(ErrStateNotFound, "no head state")
	}
	if err != nil {
		return 0, err
	}
	v, ok := decodeUint64(data)
	if !ok {
		return 0, errors.Wrap(ErrCorrupt, "head state slot")
	}
	return types.Slot(v), nil
}

// GetStateByRoot returns the state with the given hash tree root.
func (db *DB) GetStateByRoot(root types.Root, kind types.StateKind) (*types.BeaconState, error) {
	data, err := db.store.Get(rootKey(statePrefix, root))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrapf(ErrStateNotFound, "root %s", root.Short())
	}
	if err != nil {
		return nil, err
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "state %s: %v", root.Short(), err)
	}
	state := new(types.BeaconState)
	if err := state.UnmarshalSSZ(raw); err != nil {
		return nil, errors.Wrapf(err, "decode state %s", root.Short())
	}
	if state.Kind() != kind {
		return nil, errors.Wrapf(ErrStateKindMismatch, "state %s is %s, want %s", root.Short(), state.Kind(), kind)
	}
	return state, nil
}

// GetStateBySlot returns the last state persisted for slot.
func (db *DB) GetStateBySlot(slot types.Slot, kind types.StateKind) (*types.BeaconState, error) {
	data, err := db.store.Get(slotKey(stateSlotPrefix, slot))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrapf(ErrStateNotFound, "slot %d", slot)
	}
	if err != nil {
		return nil, err
	}
	if len(data) != 32 {
		return nil, errors.Wrapf(ErrCorrupt, "state root at slot %d", slot)
	}
	return db.GetStateByRoot(types.Root(data), kind)
}
