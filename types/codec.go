package types

import (
	"bytes"

	"github.com/pkg/errors"
)

// MarshalTaggedBlock encodes a block as its kind byte followed by its SSZ encoding.
func MarshalTaggedBlock(b BeaconBlock) ([]byte, error) {
	dst := make([]byte, 1, 1+b.SizeSSZ())
	dst[0] = byte(b.Kind())
	return b.MarshalSSZTo(dst)
}

// UnmarshalTaggedBlock decodes the output of MarshalTaggedBlock.
func UnmarshalTaggedBlock(data []byte) (BeaconBlock, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrSize, "empty tagged block")
	}
	b, err := NewBlock(BlockKind(data[0]))
	if err != nil {
		return nil, err
	}
	if err := b.UnmarshalSSZ(data[1:]); err != nil {
		return nil, errors.Wrapf(err, "decode %s block", BlockKind(data[0]))
	}
	return b, nil
}

// BlocksEqual reports whether two blocks have the same kind and encoding.
func BlocksEqual(a, b BeaconBlock) (bool, error) {
	if a.Kind() != b.Kind() {
		return false, nil
	}
	ea, err := a.MarshalSSZ()
	if err != nil {
		return false, err
	}
	eb, err := b.MarshalSSZ()
	if err != nil {
		return false, err
	}
	return bytes.Equal(ea, eb), nil
}
