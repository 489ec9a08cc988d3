package p2p

import (
	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/types"
)

// MaxGossipSize bounds the decompressed size of a gossip payload.
const MaxGossipSize = 10 * 1024 * 1024

var ErrMessageTooLarge = errors.New("gossip message too large")

// EncodeBlock returns the snappy-compressed tagged SSZ encoding of b.
func EncodeBlock(b types.BeaconBlock) ([]byte, error) {
	data, err := types.MarshalTaggedBlock(b)
	if err != nil {
		return nil, errors.Wrap(err, "marshal block")
	}
	return snappy.Encode(nil, data), nil
}

func DecodeBlock(data []byte) (types.BeaconBlock, error) {
	raw, err := decompress(data)
	if err != nil {
		return nil, err
	}
	b, err := types.UnmarshalTaggedBlock(raw)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal block")
	}
	return b, nil
}

// EncodeAttestation returns the snappy-compressed SSZ encoding of att.
func EncodeAttestation(att *types.Attestation) ([]byte, error) {
	data, err := att.MarshalSSZ()
	if err != nil {
		return nil, errors.Wrap(err, "marshal attestation")
	}
	return snappy.Encode(nil, data), nil
}

func DecodeAttestation(data []byte) (*types.Attestation, error) {
	raw, err := decompress(data)
	if err != nil {
		return nil, err
	}
	var att types.Attestation
	if err := att.UnmarshalSSZ(raw); err != nil {
		return nil, errors.Wrap(err, "unmarshal attestation")
	}
	return &att, nil
}

func decompress(data []byte) ([]byte, error) {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, errors.Wrap(err, "snappy header")
	}
	if n > MaxGossipSize {
		return nil, errors.Wrapf(ErrMessageTooLarge, "%d bytes", n)
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, errors.Wrap(err, "snappy decode")
	}
	return out, nil
}
