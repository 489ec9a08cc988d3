package bls

import (
	blst "github.com/supranational/blst/bindings/go"

	"github.com/geanlabs/beaconchain/types"
)

// ETH2 uses BLS12381-G2 Curve
var eth2Curve = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

// BlstBackend implements Backend with the blst library.
type BlstBackend struct{}

func secretKey(sk SecretKey) (*blst.SecretKey, error) {
	key := new(blst.SecretKey).Deserialize(sk[:])
	if key == nil {
		// Not a valid scalar; derive one the way KeyGen does for seeds.
		key = blst.KeyGen(sk[:])
	}
	if key == nil {
		return nil, ErrInvalidSecretKey
	}
	return key, nil
}

func publicKey(pk types.BLSPubkey) (*blst.P1Affine, error) {
	p := new(blst.P1Affine).Uncompress(pk[:])
	if p == nil || !p.KeyValidate() {
		return nil, ErrDeserializePubkey
	}
	return p, nil
}

func publicKeys(pks []types.BLSPubkey) ([]*blst.P1Affine, error) {
	out := make([]*blst.P1Affine, 0, len(pks))
	for _, pk := range pks {
		p, err := publicKey(pk)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func signature(sig types.BLSSignature) (*blst.P2Affine, error) {
	s := new(blst.P2Affine).Uncompress(sig[:])
	if s == nil {
		return nil, ErrDeserializeSignature
	}
	// Group check signature. Do not check for infinity since an aggregated signature
	// could be infinite.
	if !s.SigValidate(false) {
		return nil, ErrNotGroupSignature
	}
	return s, nil
}

func (BlstBackend) PrivToPub(sk SecretKey) (types.BLSPubkey, error) {
	key, err := secretKey(sk)
	if err != nil {
		return types.BLSPubkey{}, err
	}
	var pk types.BLSPubkey
	copy(pk[:], new(blst.P1Affine).From(key).Compress())
	return pk, nil
}

func (BlstBackend) Sign(sk SecretKey, msg types.Root) (types.BLSSignature, error) {
	key, err := secretKey(sk)
	if err != nil {
		return types.BLSSignature{}, err
	}
	var sig types.BLSSignature
	copy(sig[:], new(blst.P2Affine).Sign(key, msg[:], eth2Curve).Compress())
	return sig, nil
}

func (BlstBackend) Verify(pk types.BLSPubkey, msg types.Root, sig types.BLSSignature) bool {
	p, err := publicKey(pk)
	if err != nil {
		return false
	}
	s, err := signature(sig)
	if err != nil {
		return false
	}
	return s.Verify(false, p, false, msg[:], eth2Curve)
}

func (BlstBackend) FastAggregateVerify(pks []types.BLSPubkey, msg types.Root, sig types.BLSSignature) bool {
	if len(pks) == 0 {
		return sig == InfiniteSignature
	}
	affines, err := publicKeys(pks)
	if err != nil {
		return false
	}
	s, err := signature(sig)
	if err != nil {
		return false
	}
	return s.FastAggregateVerify(true, affines, msg[:], eth2Curve)
}

func (BlstBackend) VerifyMultiple(pks []types.BLSPubkey, msgs []types.Root, sig types.BLSSignature) bool {
	if len(pks) == 0 || len(pks) != len(msgs) {
		return false
	}
	affines, err := publicKeys(pks)
	if err != nil {
		return false
	}
	s, err := signature(sig)
	if err != nil {
		return false
	}
	raw := make([]blst.Message, len(msgs))
	for i := range msgs {
		raw[i] = msgs[i][:]
	}
	return s.AggregateVerify(true, affines, false, raw, eth2Curve)
}

func (BlstBackend) AggregateSignatures(sigs []types.BLSSignature) (types.BLSSignature, error) {
	if len(sigs) == 0 {
		return types.BLSSignature{}, ErrNoSignaturesToAggregate
	}
	compressed := make([][]byte, len(sigs))
	for i := range sigs {
		compressed[i] = sigs[i][:]
	}
	agg := new(blst.P2Aggregate)
	if !agg.AggregateCompressed(compressed, true) {
		return types.BLSSignature{}, ErrDeserializeSignature
	}
	var out types.BLSSignature
	copy(out[:], agg.ToAffine().Compress())
	return out, nil
}

func (BlstBackend) AggregatePubkeys(pks []types.BLSPubkey) (types.BLSPubkey, error) {
	if len(pks) == 0 {
		return types.BLSPubkey{}, ErrNoPubkeysToAggregate
	}
	compressed := make([][]byte, len(pks))
	for i := range pks {
		compressed[i] = pks[i][:]
	}
	agg := new(blst.P1Aggregate)
	if !agg.AggregateCompressed(compressed, true) {
		return types.BLSPubkey{}, ErrDeserializePubkey
	}
	var out types.BLSPubkey
	copy(out[:], agg.ToAffine().Compress())
	return out, nil
}
