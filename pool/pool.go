// Package pool holds attestations waiting to be included in a block.
package pool

import (
	"iter"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/geanlabs/beaconchain/types"
)

// DefaultCapacity keeps sixteen blocks worth of attestations.
const DefaultCapacity = types.MaxAttestations * 16

// AttestationPool is a bounded set of attestations keyed by hash tree root.
// When full, the oldest attestation is evicted. Safe for concurrent use.
type AttestationPool struct {
	cache *lru.Cache[types.Root, *types.Attestation]
}

// New creates a pool holding at most capacity attestations.
// A non-positive capacity selects DefaultCapacity.
func New(capacity int) *AttestationPool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := lru.New[types.Root, *types.Attestation](capacity)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &AttestationPool{cache: cache}
}

// Add inserts att unless an identical attestation is already pooled.
// It reports whether the attestation was new.
func (p *AttestationPool) Add(att *types.Attestation) (bool, error) {
	root, err := att.HashTreeRoot()
	if err != nil {
		return false, err
	}
	found, _ := p.cache.ContainsOrAdd(root, att.Copy())
	return !found, nil
}

// Has reports whether an attestation with the given root is pooled.
func (p *AttestationPool) Has(root types.Root) bool {
	return p.cache.Contains(root)
}

// Get returns the pooled attestation with the given root.
func (p *AttestationPool) Get(root types.Root) (*types.Attestation, bool) {
	return p.cache.Peek(root)
}

// Candidates yields pooled attestations from oldest to newest. The sequence
// is lazy and can be iterated more than once; attestations removed while it
// runs are skipped.
func (p *AttestationPool) Candidates() iter.Seq[*types.Attestation] {
	return func(yield func(*types.Attestation) bool) {
		for _, root := range p.cache.Keys() {
			att, ok := p.cache.Peek(root)
			if !ok {
				continue
			}
			if !yield(att) {
				return
			}
		}
	}
}

// RemoveIncluded drops attestations that made it into a block.
func (p *AttestationPool) RemoveIncluded(atts []*types.Attestation) {
	for _, att := range atts {
		root, err := att.HashTreeRoot()
		if err != nil {
			continue
		}
		p.cache.Remove(root)
	}
}

// Remove drops the attestation with the given root.
func (p *AttestationPool) Remove(root types.Root) bool {
	return p.cache.Remove(root)
}

func (p *AttestationPool) Len() int { return p.cache.Len() }
