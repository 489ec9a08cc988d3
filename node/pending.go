package node

import (
	"cmp"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/geanlabs/beaconchain/types"
)

// DefaultPendingCapacity bounds the blocks waiting for a parent.
const DefaultPendingCapacity = 256

type pendingBlock struct {
	block types.BeaconBlock
	from  peer.ID
}

// PendingBlocks parks blocks whose parent is not imported yet. When full,
// the oldest block is dropped. Safe for concurrent use.
type PendingBlocks struct {
	mu       sync.Mutex
	cache    *lru.Cache[types.Root, pendingBlock]
	byParent map[types.Root]map[types.Root]struct{}
}

// NewPendingBlocks creates a queue of at most capacity blocks.
// A non-positive capacity selects DefaultPendingCapacity.
func NewPendingBlocks(capacity int) *PendingBlocks {
	if capacity <= 0 {
		capacity = DefaultPendingCapacity
	}
	p := &PendingBlocks{byParent: make(map[types.Root]map[types.Root]struct{})}
	cache, err := lru.NewWithEvict[types.Root, pendingBlock](capacity, p.unindex)
	if err != nil {
		panic(err)
	}
	p.cache = cache
	return p
}

// unindex runs inside cache calls, with mu already held.
func (p *PendingBlocks) unindex(root types.Root, pb pendingBlock) {
	parent := pb.block.GetParentRoot()
	children := p.byParent[parent]
	delete(children, root)
	if len(children) == 0 {
		delete(p.byParent, parent)
	}
}

// Add parks block, received from peer from. It reports whether the block
// was new.
func (p *PendingBlocks) Add(block types.BeaconBlock, from peer.ID) (bool, error) {
	root, err := block.SigningRoot()
	if err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache.Contains(root) {
		return false, nil
	}
	p.cache.Add(root, pendingBlock{block: block, from: from})
	parent := block.GetParentRoot()
	if p.byParent[parent] == nil {
		p.byParent[parent] = make(map[types.Root]struct{})
	}
	p.byParent[parent][root] = struct{}{}
	return true, nil
}

// PopChildren removes and returns the parked children of parent in
// ascending slot order.
func (p *PendingBlocks) PopChildren(parent types.Root) []types.BeaconBlock {
	p.mu.Lock()
	defer p.mu.Unlock()

	roots := make([]types.Root, 0, len(p.byParent[parent]))
	for root := range p.byParent[parent] {
		roots = append(roots, root)
	}
	blocks := make([]types.BeaconBlock, 0, len(roots))
	for _, root := range roots {
		if pb, ok := p.cache.Peek(root); ok {
			blocks = append(blocks, pb.block)
		}
		p.cache.Remove(root)
	}
	slices.SortFunc(blocks, func(a, b types.BeaconBlock) int {
		return cmp.Compare(a.GetSlot(), b.GetSlot())
	})
	return blocks
}

// Has reports whether a block with this root is parked.
func (p *PendingBlocks) Has(root types.Root) bool {
	return p.cache.Contains(root)
}

func (p *PendingBlocks) Len() int { return p.cache.Len() }
