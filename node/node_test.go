package node

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/prysmaticlabs/go-bitfield"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geanlabs/beaconchain/chain"
	"github.com/geanlabs/beaconchain/config"
	"github.com/geanlabs/beaconchain/statemachine"
	"github.com/geanlabs/beaconchain/types"
)

var genesisTime = uint64(time.Now().Unix())

func testConfig(indices ...uint64) *config.Config {
	cfg := config.Default()
	cfg.GenesisTime = genesisTime
	cfg.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.ValidatorIndices = indices
	return cfg
}

func newTestNode(t *testing.T, cfg *config.Config) *Node {
	t.Helper()
	n, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func headRoot(t *testing.T, n *Node) types.Root {
	t.Helper()
	root, err := n.Chain().GetCanonicalHeadRoot()
	require.NoError(t, err)
	return root
}

func rootOf(t *testing.T, b types.BeaconBlock) types.Root {
	t.Helper()
	r, err := b.SigningRoot()
	require.NoError(t, err)
	return r
}

// proposeChain has src propose one block per slot up to slot last.
func proposeChain(t *testing.T, src *Node, last types.Slot) []types.BeaconBlock {
	t.Helper()
	var blocks []types.BeaconBlock
	for slot := types.Slot(1); slot <= last; slot++ {
		b, err := src.proposer.Propose(context.Background(), slot)
		require.NoError(t, err)
		require.NotNil(t, b)
		blocks = append(blocks, b)
	}
	return blocks
}

func TestNew_SameGenesis(t *testing.T) {
	a := newTestNode(t, testConfig(0, 1, 2, 3))
	b := newTestNode(t, testConfig())

	assert.Equal(t, StatusReady, a.Status())
	assert.Equal(t, headRoot(t, a), headRoot(t, b))
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestImportBlock_ParksOrphansUntilParent(t *testing.T) {
	src := newTestNode(t, testConfig(0, 1, 2, 3))
	dst := newTestNode(t, testConfig())
	ctx := context.Background()

	blocks := proposeChain(t, src, 3)

	err := dst.importBlock(ctx, "", blocks[2])
	require.ErrorIs(t, err, chain.ErrMissingParent)
	err = dst.importBlock(ctx, "", blocks[1])
	require.ErrorIs(t, err, chain.ErrMissingParent)
	assert.Equal(t, 2, dst.pending.Len())
	require.ErrorIs(t, dst.importBlock(ctx, "", blocks[2]), ErrKnownBlock)

	require.NoError(t, dst.importBlock(ctx, "", blocks[0]))
	assert.Zero(t, dst.pending.Len())
	assert.Equal(t, rootOf(t, blocks[2]), headRoot(t, dst))

	require.ErrorIs(t, dst.importBlock(ctx, "", blocks[0]), ErrKnownBlock)
}

func TestOnGossipAttestation(t *testing.T) {
	src := newTestNode(t, testConfig(0, 1))
	dst := newTestNode(t, testConfig())
	ctx := context.Background()

	att, err := src.attester.Attest(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, att)

	require.NoError(t, dst.onGossipAttestation(ctx, "", att))
	assert.Equal(t, 1, dst.pool.Len())
	require.ErrorIs(t, dst.onGossipAttestation(ctx, "", att), ErrKnownAttestation)

	bad := att.Copy()
	bad.AggregationBits = bitfield.NewBitlist(3)
	bad.AggregationBits.SetBitAt(0, true)
	err = dst.onGossipAttestation(ctx, "", bad)
	require.Error(t, err)
	assert.True(t, chain.IsValidationError(err))
	assert.Equal(t, 1, dst.pool.Len())
}

func TestOnGossipAttestation_FutureSlot(t *testing.T) {
	src := newTestNode(t, testConfig(0, 1))
	dst := newTestNode(t, testConfig())
	ctx := context.Background()

	att, err := src.attester.Attest(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, att)

	for _, slot := range []types.Slot{math.MaxUint64, math.MaxUint64 - 1, dst.clock.CurrentSlot() + 10} {
		future := att.Copy()
		future.Data.Slot = slot
		future.Data.Target.Slot = slot - 1
		err := dst.onGossipAttestation(ctx, "", future)
		require.Error(t, err, "slot %d", slot)
		assert.True(t, chain.IsValidationError(err))
	}
	assert.Zero(t, dst.pool.Len())

	// Even when pooled, it is never selected into a block.
	far := att.Copy()
	far.Data.Slot = math.MaxUint64
	far.Data.Target.Slot = math.MaxUint64 - 1
	_, err = dst.pool.Add(far)
	require.NoError(t, err)
	head, err := dst.Chain().GetCanonicalHead()
	require.NoError(t, err)
	b, err := dst.chain.CreateBlockFromParent(head, statemachine.BlockParams{ProposerIndex: 1})
	require.NoError(t, err)
	assert.Empty(t, b.GetAttestations())
}

func TestRun_Lifecycle(t *testing.T) {
	n := newTestNode(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.Eventually(t, func() bool { return n.Status() == StatusStarted }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("node did not stop")
	}
	assert.Equal(t, StatusStopped, n.Status())
	require.ErrorIs(t, n.Run(context.Background()), ErrInvalidStatus)
}

func TestRun_SyncsFromBootnode(t *testing.T) {
	src := newTestNode(t, testConfig(0, 1, 2, 3))
	blocks := proposeChain(t, src, 3)

	cfg := testConfig()
	cfg.Bootnodes = src.Addrs()
	dst := newTestNode(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = src.Run(ctx) }()
	go func() { _ = dst.Run(ctx) }()

	want := rootOf(t, blocks[len(blocks)-1])
	require.Eventually(t, func() bool {
		root, err := dst.Chain().GetCanonicalHeadRoot()
		return err == nil && root == want
	}, 20*time.Second, 50*time.Millisecond)
}

func TestNew_ResumesFromDatabase(t *testing.T) {
	cfg := testConfig(0, 1, 2, 3)
	cfg.DataDir = t.TempDir()

	first, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	blocks := proposeChain(t, first, 2)
	require.NoError(t, first.Close())

	second := newTestNode(t, cfg)
	assert.Equal(t, rootOf(t, blocks[1]), headRoot(t, second))
}
