package reqresp

import (
	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/chain"
	"github.com/geanlabs/beaconchain/types"
)

// ChainReader provides read access to the chain. *chain.BeaconChain
// satisfies it.
type ChainReader interface {
	GetCanonicalHead() (types.BeaconBlock, error)
	GetHeadState() (*types.BeaconState, error)
	GetBlockByRoot(root types.Root) (types.BeaconBlock, error)
}

// Handler answers request/response protocol messages from the chain.
type Handler struct {
	chain ChainReader
}

// NewHandler creates a new request/response handler.
func NewHandler(c ChainReader) *Handler {
	return &Handler{chain: c}
}

// GetStatus returns the node's current status for the handshake protocol.
func (h *Handler) GetStatus() (*Status, error) {
	head, err := h.chain.GetCanonicalHead()
	if err != nil {
		return nil, errors.Wrap(err, "canonical head")
	}
	headRoot, err := head.SigningRoot()
	if err != nil {
		return nil, errors.Wrap(err, "head root")
	}
	state, err := h.chain.GetHeadState()
	if err != nil {
		return nil, errors.Wrap(err, "head state")
	}
	return &Status{
		Finalized: state.LatestFinalized,
		Head:      types.Checkpoint{Root: headRoot, Slot: head.GetSlot()},
	}, nil
}

// HandleBlocksByRoot returns the known blocks among the requested roots, in
// request order. Unknown roots are skipped.
func (h *Handler) HandleBlocksByRoot(request *BlocksByRootRequest) ([]types.BeaconBlock, error) {
	var blocks []types.BeaconBlock
	for _, root := range request.Roots {
		if len(blocks) >= MaxRequestBlocks {
			break
		}
		block, err := h.chain.GetBlockByRoot(root)
		if chain.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "block %s", root.Short())
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// HasBlock reports whether the chain knows a block with this root.
func (h *Handler) HasBlock(root types.Root) (bool, error) {
	_, err := h.chain.GetBlockByRoot(root)
	if chain.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// ValidatePeerStatus checks that a peer's status is consistent with our
// chain: if we have the peer's finalized block, its slot must match the
// claimed finalized slot.
func (h *Handler) ValidatePeerStatus(peerStatus *Status) error {
	if peerStatus.Finalized.Slot == 0 {
		return nil
	}
	block, err := h.chain.GetBlockByRoot(peerStatus.Finalized.Root)
	if chain.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if block.GetSlot() != peerStatus.Finalized.Slot {
		return errors.Wrapf(ErrInvalidStatus, "finalized %s at slot %d, we have it at slot %d",
			peerStatus.Finalized.Root.Short(), peerStatus.Finalized.Slot, block.GetSlot())
	}
	return nil
}
