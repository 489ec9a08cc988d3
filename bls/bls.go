// Package bls provides the signature backends used for block and
// attestation verification.
package bls

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/types"
)

var (
	ErrInvalidSecretKey        = errors.New("bls: invalid secret key")
	ErrDeserializePubkey       = errors.New("bls: could not deserialize public key")
	ErrDeserializeSignature    = errors.New("bls: could not deserialize signature")
	ErrNotGroupSignature       = errors.New("bls: signature not in group")
	ErrNoSignaturesToAggregate = errors.New("bls: no signatures to aggregate")
	ErrNoPubkeysToAggregate    = errors.New("bls: no public keys to aggregate")
)

// InfiniteSignature is the compressed G2 point at infinity.
var InfiniteSignature = types.BLSSignature{0xC0}

// SecretKey is a big-endian serialized BLS scalar.
type SecretKey [32]byte

// Backend signs and verifies messages. Messages are signing roots, see
// types.ComputeSigningRoot.
type Backend interface {
	PrivToPub(sk SecretKey) (types.BLSPubkey, error)
	Sign(sk SecretKey, msg types.Root) (types.BLSSignature, error)
	Verify(pk types.BLSPubkey, msg types.Root, sig types.BLSSignature) bool
	// FastAggregateVerify checks an aggregate signature of pks over one message.
	FastAggregateVerify(pks []types.BLSPubkey, msg types.Root, sig types.BLSSignature) bool
	// VerifyMultiple checks an aggregate signature where pks[i] signed msgs[i].
	VerifyMultiple(pks []types.BLSPubkey, msgs []types.Root, sig types.BLSSignature) bool
	AggregateSignatures(sigs []types.BLSSignature) (types.BLSSignature, error)
	AggregatePubkeys(pks []types.BLSPubkey) (types.BLSPubkey, error)
}

// InteropSecretKey derives the deterministic devnet key of a validator.
func InteropSecretKey(index types.ValidatorIndex) SecretKey {
	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[:], uint64(index))
	return SecretKey(sha256.Sum256(seed[:]))
}

// NoopBackend accepts every signature. Keys are derived by hashing so that
// distinct secret keys still map to distinct public keys.
type NoopBackend struct{}

func (NoopBackend) PrivToPub(sk SecretKey) (types.BLSPubkey, error) {
	var pk types.BLSPubkey
	h := sha256.Sum256(sk[:])
	copy(pk[:], h[:])
	return pk, nil
}

func (NoopBackend) Sign(SecretKey, types.Root) (types.BLSSignature, error) {
	return types.BLSSignature{}, nil
}

func (NoopBackend) Verify(types.BLSPubkey, types.Root, types.BLSSignature) bool { return true }

func (NoopBackend) FastAggregateVerify([]types.BLSPubkey, types.Root, types.BLSSignature) bool {
	return true
}

func (NoopBackend) VerifyMultiple([]types.BLSPubkey, []types.Root, types.BLSSignature) bool {
	return true
}

func (NoopBackend) AggregateSignatures([]types.BLSSignature) (types.BLSSignature, error) {
	return types.BLSSignature{}, nil
}

func (NoopBackend) AggregatePubkeys([]types.BLSPubkey) (types.BLSPubkey, error) {
	return types.BLSPubkey{}, nil
}
