package bls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geanlabs/beaconchain/types"
)

func signingRoot(t *testing.T, b byte) types.Root {
	t.Helper()
	root, err := types.ComputeSigningRoot(types.Root{b}, types.DomainBeaconProposer)
	require.NoError(t, err)
	return root
}

func TestBlst_SignVerify(t *testing.T) {
	var backend BlstBackend
	sk := InteropSecretKey(0)
	pk, err := backend.PrivToPub(sk)
	require.NoError(t, err)

	msg := signingRoot(t, 1)
	sig, err := backend.Sign(sk, msg)
	require.NoError(t, err)

	assert.True(t, backend.Verify(pk, msg, sig))
	assert.False(t, backend.Verify(pk, signingRoot(t, 2), sig), "wrong message")

	otherPk, err := backend.PrivToPub(InteropSecretKey(1))
	require.NoError(t, err)
	assert.False(t, backend.Verify(otherPk, msg, sig), "wrong key")
	assert.False(t, backend.Verify(pk, msg, types.BLSSignature{}), "garbage signature")
}

func TestBlst_Aggregates(t *testing.T) {
	var backend BlstBackend
	msg := signingRoot(t, 3)

	var (
		pks   []types.BLSPubkey
		sigs  []types.BLSSignature
		msgs  []types.Root
		multi []types.BLSSignature
	)
	for i := types.ValidatorIndex(0); i < 3; i++ {
		sk := InteropSecretKey(i)
		pk, err := backend.PrivToPub(sk)
		require.NoError(t, err)
		sig, err := backend.Sign(sk, msg)
		require.NoError(t, err)
		pks = append(pks, pk)
		sigs = append(sigs, sig)

		own := signingRoot(t, byte(10+i))
		ownSig, err := backend.Sign(sk, own)
		require.NoError(t, err)
		msgs = append(msgs, own)
		multi = append(multi, ownSig)
	}

	agg, err := backend.AggregateSignatures(sigs)
	require.NoError(t, err)
	assert.True(t, backend.FastAggregateVerify(pks, msg, agg))
	assert.False(t, backend.FastAggregateVerify(pks[:2], msg, agg))

	aggPk, err := backend.AggregatePubkeys(pks)
	require.NoError(t, err)
	assert.True(t, backend.Verify(aggPk, msg, agg))

	multiAgg, err := backend.AggregateSignatures(multi)
	require.NoError(t, err)
	assert.True(t, backend.VerifyMultiple(pks, msgs, multiAgg))
	assert.False(t, backend.VerifyMultiple(pks, msgs[:2], multiAgg))

	_, err = backend.AggregateSignatures(nil)
	require.ErrorIs(t, err, ErrNoSignaturesToAggregate)
	assert.True(t, backend.FastAggregateVerify(nil, msg, InfiniteSignature))
}

func TestNoop_DistinctKeys(t *testing.T) {
	var backend NoopBackend
	a, err := backend.PrivToPub(InteropSecretKey(0))
	require.NoError(t, err)
	b, err := backend.PrivToPub(InteropSecretKey(1))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.True(t, backend.Verify(a, types.Root{}, types.BLSSignature{}))
}
