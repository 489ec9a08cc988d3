// Package reqresp implements the request/response protocols Status and
// BlocksByRoot.
package reqresp

import (
	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/types"
)

const (
	StatusProtocolV1       = "/beaconchain/req/status/1/ssz_snappy"
	BlocksByRootProtocolV1 = "/beaconchain/req/blocks_by_root/1/ssz_snappy"
	MaxRequestBlocks       = 1024
)

var (
	ErrInvalidStatus  = errors.New("peer status conflicts with local chain")
	ErrInvalidRequest = errors.New("invalid request")
)

const (
	checkpointSize = 40
	statusSize     = 2 * checkpointSize
	rootSize       = 32
)

// Status is the handshake message exchanged upon connection.
type Status struct {
	Finalized types.Checkpoint
	Head      types.Checkpoint
}

func (s *Status) MarshalSSZ() ([]byte, error) {
	dst := make([]byte, 0, statusSize)
	dst, err := s.Finalized.MarshalSSZTo(dst)
	if err != nil {
		return nil, err
	}
	return s.Head.MarshalSSZTo(dst)
}

func (s *Status) UnmarshalSSZ(buf []byte) error {
	if len(buf) != statusSize {
		return errors.Wrapf(ErrInvalidRequest, "status is %d bytes, want %d", len(buf), statusSize)
	}
	if err := s.Finalized.UnmarshalSSZ(buf[:checkpointSize]); err != nil {
		return err
	}
	return s.Head.UnmarshalSSZ(buf[checkpointSize:])
}

// BlocksByRootRequest is a request for blocks by their roots.
type BlocksByRootRequest struct {
	Roots []types.Root
}

func (r *BlocksByRootRequest) MarshalSSZ() ([]byte, error) {
	if len(r.Roots) > MaxRequestBlocks {
		return nil, errors.Wrapf(ErrInvalidRequest, "%d roots > %d", len(r.Roots), MaxRequestBlocks)
	}
	out := make([]byte, 0, len(r.Roots)*rootSize)
	for _, root := range r.Roots {
		out = append(out, root[:]...)
	}
	return out, nil
}

func (r *BlocksByRootRequest) UnmarshalSSZ(buf []byte) error {
	if len(buf)%rootSize != 0 {
		return errors.Wrapf(ErrInvalidRequest, "%d bytes is not a list of roots", len(buf))
	}
	n := len(buf) / rootSize
	if n > MaxRequestBlocks {
		return errors.Wrapf(ErrInvalidRequest, "%d roots > %d", n, MaxRequestBlocks)
	}
	r.Roots = make([]types.Root, n)
	for i := range r.Roots {
		copy(r.Roots[i][:], buf[i*rootSize:])
	}
	return nil
}
