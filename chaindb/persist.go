package chaindb

import (
	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/storage"
	"github.com/geanlabs/beaconchain/types"
)

// PersistBlock stores block with the score computed by scoring and, if it
// outscores the current head (or there is none), makes it the canonical
// head. It returns the blocks that became canonical and those that stopped
// being canonical, both in ascending slot order. Everything is committed in
// one batch. Persisting a block that is already stored is a no-op.
func (db *DB) PersistBlock(block types.BeaconBlock, kind types.BlockKind, scoring ScoringFunc) (newCanonical, oldCanonical []types.BeaconBlock, err error) {
	if block.Kind() != kind {
		return nil, nil, errors.Wrapf(ErrBlockKindMismatch, "persist %s block as %s", block.Kind(), kind)
	}
	root, err := block.SigningRoot()
	if err != nil {
		return nil, nil, errors.Wrap(err, "block root")
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	exists, err := db.BlockExists(root)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return nil, nil, nil
	}

	isGenesis := block.GetParentRoot().IsZero() && block.GetSlot() == db.genesis.GenesisSlot
	if !isGenesis {
		ok, err := db.BlockExists(block.GetParentRoot())
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, errors.Wrapf(ErrParentNotFound, "block %s parent %s", root.Short(), block.GetParentRoot().Short())
		}
	}

	score, err := scoring(block)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "score block %s", root.Short())
	}

	enc, err := encodeBlock(block)
	if err != nil {
		return nil, nil, err
	}
	batch := db.store.NewBatch()
	batch.Put(rootKey(blockPrefix, root), enc)
	batch.Put(rootKey(scorePrefix, root), encodeUint64(uint64(score)))

	becomesHead := false
	headRoot, err := db.GetCanonicalHeadRoot()
	switch {
	case errors.Is(err, ErrHeadNotFound):
		becomesHead = true
	case err != nil:
		return nil, nil, err
	default:
		headScore, err := db.GetScore(headRoot)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "head %s", headRoot.Short())
		}
		becomesHead = score > headScore
	}

	if becomesHead {
		newCanonical, oldCanonical, err = db.setHead(batch, block, root)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := batch.Commit(); err != nil {
		return nil, nil, errors.Wrap(err, "commit block")
	}
	db.blocks.Add(root, block.Copy())
	return newCanonical, oldCanonical, nil
}

// setHead stages the canonical chain update that makes block the head.
func (db *DB) setHead(batch storage.Batch, block types.BeaconBlock, root types.Root) (newCanonical, oldCanonical []types.BeaconBlock, err error) {
	// Walk back from the new head until we reach a block that is already
	// canonical at its slot.
	type entry struct {
		root  types.Root
		block types.BeaconBlock
	}
	var branch []entry
	cur, curRoot := block, root
	forkSlot, hasFork := types.Slot(0), false
	for {
		canonical, err := db.GetCanonicalBlockRoot(cur.GetSlot())
		if err == nil && canonical == curRoot {
			forkSlot, hasFork = cur.GetSlot(), true
			break
		}
		if err != nil && !errors.Is(err, ErrCanonicalRootNotFound) {
			return nil, nil, err
		}
		branch = append(branch, entry{curRoot, cur})
		parentRoot := cur.GetParentRoot()
		if parentRoot.IsZero() {
			break
		}
		parent, err := db.getBlock(parentRoot)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "ancestor of %s", root.Short())
		}
		cur, curRoot = parent, parentRoot
	}

	// Everything canonical above the fork point is replaced.
	oldHeadRoot, err := db.GetCanonicalHeadRoot()
	if err != nil && !errors.Is(err, ErrHeadNotFound) {
		return nil, nil, err
	}
	if err == nil {
		oldHead, err := db.getBlock(oldHeadRoot)
		if err != nil {
			return nil, nil, errors.Wrap(err, "old head")
		}
		start := forkSlot + 1
		if !hasFork {
			start = db.genesis.GenesisSlot
		}
		for slot := start; slot <= oldHead.GetSlot(); slot++ {
			r, err := db.GetCanonicalBlockRoot(slot)
			if errors.Is(err, ErrCanonicalRootNotFound) {
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			b, err := db.getBlock(r)
			if err != nil {
				return nil, nil, err
			}
			batch.Delete(slotKey(canonicalSlotPrefix, slot))
			if err := unindexAttestations(batch, b); err != nil {
				return nil, nil, err
			}
			oldCanonical = append(oldCanonical, b)
		}
	}

	for i := len(branch) - 1; i >= 0; i-- {
		e := branch[i]
		batch.Put(slotKey(canonicalSlotPrefix, e.block.GetSlot()), e.root[:])
		if err := indexAttestations(batch, e.block, e.root); err != nil {
			return nil, nil, err
		}
		newCanonical = append(newCanonical, e.block)
	}
	batch.Put(canonicalHeadKey, root[:])
	return newCanonical, oldCanonical, nil
}

func indexAttestations(batch storage.Batch, block types.BeaconBlock, root types.Root) error {
	for i, att := range block.GetAttestations() {
		attRoot, err := att.HashTreeRoot()
		if err != nil {
			return errors.Wrapf(err, "attestation %d of %s", i, root.Short())
		}
		batch.Put(rootKey(attestationKeyPrefix, attRoot), AttestationKey{BlockRoot: root, Index: uint64(i)}.encode())
	}
	return nil
}

func unindexAttestations(batch storage.Batch, block types.BeaconBlock) error {
	for _, att := range block.GetAttestations() {
		attRoot, err := att.HashTreeRoot()
		if err != nil {
			return err
		}
		batch.Delete(rootKey(attestationKeyPrefix, attRoot))
	}
	return nil
}
