// Package chain imports blocks into the beacon chain. It picks the protocol
// version for each slot, runs the block through that version's state
// machine and commits the result together with its fork-choice score.
package chain

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/chaindb"
	"github.com/geanlabs/beaconchain/metrics"
	"github.com/geanlabs/beaconchain/pool"
	"github.com/geanlabs/beaconchain/protocol"
	"github.com/geanlabs/beaconchain/statemachine"
	"github.com/geanlabs/beaconchain/types"
)

// ChainDB is the storage the chain runs on. *chaindb.DB implements it.
type ChainDB interface {
	statemachine.ChainReader

	PersistState(state *types.BeaconState) error
	PersistBlock(block types.BeaconBlock, kind types.BlockKind, scoring chaindb.ScoringFunc) (newCanonical, oldCanonical []types.BeaconBlock, err error)

	GetCanonicalHead() (types.BeaconBlock, error)
	GetCanonicalHeadRoot() (types.Root, error)
	GetCanonicalBlockRoot(slot types.Slot) (types.Root, error)
	GetCanonicalBlockBySlot(slot types.Slot, kind types.BlockKind) (types.BeaconBlock, error)
	GetScore(root types.Root) (types.Score, error)
	GetHeadStateSlot() (types.Slot, error)
	GetSlotByRoot(root types.Root) (types.Slot, error)
	GetAttestationKeyByRoot(root types.Root) (chaindb.AttestationKey, error)
	GetAttestationByRoot(root types.Root) (*types.Attestation, error)
}

// Chain is what the rest of the node needs from the chain.
type Chain interface {
	GetCanonicalHead() (types.BeaconBlock, error)
	GetCanonicalHeadRoot() (types.Root, error)
	GetBlockByRoot(root types.Root) (types.BeaconBlock, error)
	GetStateBySlot(slot types.Slot) (*types.BeaconState, error)
	GetCanonicalBlockBySlot(slot types.Slot) (types.BeaconBlock, error)
	GetCanonicalBlockRoot(slot types.Slot) (types.Root, error)
	GetScore(root types.Root) (types.Score, error)
	GetAttestationByRoot(root types.Root) (*types.Attestation, error)
	AttestationExists(root types.Root) (bool, error)
	GetBlockKind(root types.Root) (types.BlockKind, error)
	GetHeadState() (*types.BeaconState, error)
	GetStateMachine(atSlot types.Slot) (statemachine.Machine, error)

	CreateBlockFromParent(parent types.BeaconBlock, params statemachine.BlockParams) (types.BeaconBlock, error)
	ImportBlock(block types.BeaconBlock, performValidation bool) (*ImportResult, error)
}

// Config is fixed for the lifetime of a chain.
type Config struct {
	Registry *protocol.Registry[statemachine.Version]
	DB       ChainDB
	Pool     *pool.AttestationPool // empty pool when nil
	Logger   *slog.Logger
	Metrics  *metrics.Metrics // optional
}

// ImportResult is the outcome of a successful import.
type ImportResult struct {
	Block        types.BeaconBlock   // the block as persisted
	NewCanonical []types.BeaconBlock // blocks that became canonical, ascending slot
	OldCanonical []types.BeaconBlock // blocks that stopped being canonical, ascending slot
}

// BeaconChain implements Chain.
type BeaconChain struct {
	registry *protocol.Registry[statemachine.Version]
	db       ChainDB
	pool     *pool.AttestationPool
	log      *slog.Logger
	metrics  *metrics.Metrics

	importMu sync.Mutex
}

var _ Chain = (*BeaconChain)(nil)

// New creates a chain over an already initialized database.
func New(cfg Config) (*BeaconChain, error) {
	if cfg.Registry == nil || cfg.DB == nil {
		return nil, ErrEmptyConfiguration
	}
	c := &BeaconChain{
		registry: cfg.Registry,
		db:       cfg.DB,
		pool:     cfg.Pool,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if c.pool == nil {
		c.pool = pool.New(pool.DefaultCapacity)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c, nil
}

// FromGenesis persists the genesis state and block and returns a chain
// whose head is the genesis block.
func FromGenesis(cfg Config, genesisState *types.BeaconState, genesisBlock types.BeaconBlock) (*BeaconChain, error) {
	if cfg.Registry == nil || cfg.DB == nil {
		return nil, ErrEmptyConfiguration
	}
	version, err := cfg.Registry.Resolve(genesisBlock.GetSlot())
	if err != nil {
		return nil, errors.Wrap(err, "genesis version")
	}
	if genesisBlock.Kind() != version.BlockKind() {
		return nil, errors.Wrapf(ErrGenesisBlockVersionMismatch, "%s block, %s expects %s",
			genesisBlock.Kind(), version.Name(), version.BlockKind())
	}
	if err := cfg.DB.PersistState(genesisState); err != nil {
		return nil, errors.Wrap(err, "persist genesis state")
	}
	zero := func(types.BeaconBlock) (types.Score, error) { return 0, nil }
	if _, _, err := cfg.DB.PersistBlock(genesisBlock, genesisBlock.Kind(), zero); err != nil {
		return nil, errors.Wrap(err, "persist genesis block")
	}
	return New(cfg)
}

// Pool returns the attestation pool blocks are filled from.
func (c *BeaconChain) Pool() *pool.AttestationPool { return c.pool }

// Registry returns the protocol version schedule.
func (c *BeaconChain) Registry() *protocol.Registry[statemachine.Version] { return c.registry }

// --- Queries ---

func (c *BeaconChain) GetCanonicalHead() (types.BeaconBlock, error) {
	return c.db.GetCanonicalHead()
}

func (c *BeaconChain) GetCanonicalHeadRoot() (types.Root, error) {
	return c.db.GetCanonicalHeadRoot()
}

// GetBlockByRoot returns the block with this root, decoded as the block kind
// of the version active at its slot.
func (c *BeaconChain) GetBlockByRoot(root types.Root) (types.BeaconBlock, error) {
	kind, err := c.GetBlockKind(root)
	if err != nil {
		return nil, err
	}
	return c.db.GetBlockByRoot(root, kind)
}

func (c *BeaconChain) GetStateBySlot(slot types.Slot) (*types.BeaconState, error) {
	version, err := c.registry.Resolve(slot)
	if err != nil {
		return nil, err
	}
	return c.db.GetStateBySlot(slot, version.StateKind())
}

func (c *BeaconChain) GetCanonicalBlockBySlot(slot types.Slot) (types.BeaconBlock, error) {
	version, err := c.registry.Resolve(slot)
	if err != nil {
		return nil, err
	}
	return c.db.GetCanonicalBlockBySlot(slot, version.BlockKind())
}

func (c *BeaconChain) GetCanonicalBlockRoot(slot types.Slot) (types.Root, error) {
	return c.db.GetCanonicalBlockRoot(slot)
}

func (c *BeaconChain) GetScore(root types.Root) (types.Score, error) {
	return c.db.GetScore(root)
}

func (c *BeaconChain) GetAttestationByRoot(root types.Root) (*types.Attestation, error) {
	return c.db.GetAttestationByRoot(root)
}

func (c *BeaconChain) AttestationExists(root types.Root) (bool, error) {
	return c.db.AttestationExists(root)
}

// GetBlockKind returns the block kind of the protocol version active at the
// slot of the stored block with this root.
func (c *BeaconChain) GetBlockKind(root types.Root) (types.BlockKind, error) {
	slot, err := c.db.GetSlotByRoot(root)
	if err != nil {
		return 0, err
	}
	version, err := c.registry.Resolve(slot)
	if err != nil {
		return 0, err
	}
	return version.BlockKind(), nil
}

// GetHeadState returns the post-state of the canonical head block.
func (c *BeaconChain) GetHeadState() (*types.BeaconState, error) {
	head, err := c.db.GetCanonicalHead()
	if err != nil {
		return nil, err
	}
	version, err := c.registry.Resolve(head.GetSlot())
	if err != nil {
		return nil, err
	}
	return c.db.GetStateByRoot(head.GetStateRoot(), version.StateKind())
}

// GetStateMachine returns the machine of the version active at atSlot,
// starting from the state at that slot.
func (c *BeaconChain) GetStateMachine(atSlot types.Slot) (statemachine.Machine, error) {
	version, err := c.registry.Resolve(atSlot)
	if err != nil {
		return nil, err
	}
	return version.New(c.db, c.pool, atSlot), nil
}

// --- Block production ---

// CreateBlockFromParent builds an unsigned child of parent. Nothing is
// written.
func (c *BeaconChain) CreateBlockFromParent(parent types.BeaconBlock, params statemachine.BlockParams) (types.BeaconBlock, error) {
	slot := parent.GetSlot() + 1
	if params.Slot != nil {
		if *params.Slot < slot {
			return nil, errors.Wrapf(ErrInvalidSlotOverride, "slot %d, parent slot %d", *params.Slot, parent.GetSlot())
		}
		slot = *params.Slot
	}
	params.Slot = &slot
	machine, err := c.GetStateMachine(slot)
	if err != nil {
		return nil, err
	}
	return machine.CreateBlockFromParent(parent, params)
}

// --- Import ---

// ImportBlock runs block through the state machine and persists it. With
// performValidation set, the block must come out of the state machine
// unchanged. Imports are serialized.
func (c *BeaconChain) ImportBlock(block types.BeaconBlock, performValidation bool) (*ImportResult, error) {
	c.importMu.Lock()
	defer c.importMu.Unlock()

	start := time.Now()
	res, err := c.importBlock(block, performValidation)
	switch {
	case err == nil:
		c.metrics.RecordImport(metrics.ResultImported, time.Since(start))
	case errors.Is(err, ErrMissingParent):
		c.metrics.RecordImport(metrics.ResultOrphan, 0)
	case IsValidationError(err):
		c.metrics.RecordImport(metrics.ResultInvalid, 0)
	default:
		c.metrics.RecordImport(metrics.ResultError, 0)
	}
	return res, err
}

func (c *BeaconChain) importBlock(block types.BeaconBlock, performValidation bool) (*ImportResult, error) {
	root, err := block.SigningRoot()
	if err != nil {
		return nil, errors.Wrap(err, "block root")
	}

	parentRoot := block.GetParentRoot()
	parent, err := c.GetBlockByRoot(parentRoot)
	if errors.Is(err, chaindb.ErrBlockNotFound) {
		return nil, &MissingParentError{Slot: block.GetSlot(), BlockRoot: root, ParentRoot: parentRoot}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parent %s", parentRoot.Short())
	}

	// The head state is the cheapest starting point unless it is already at
	// or past the block; then start from the parent.
	baseSlot, err := c.db.GetHeadStateSlot()
	if err != nil {
		return nil, errors.Wrap(err, "head state slot")
	}
	if baseSlot >= block.GetSlot() {
		baseSlot = parent.GetSlot()
	}
	machine, err := c.GetStateMachine(baseSlot)
	if err != nil {
		return nil, err
	}

	state, imported, err := machine.ImportBlock(block, true)
	if err != nil {
		return nil, errors.Wrapf(err, "import block %s at slot %d", root.Short(), block.GetSlot())
	}

	if performValidation {
		if err := validateUnchanged(block, imported); err != nil {
			return nil, err
		}
	}

	if err := c.db.PersistState(state); err != nil {
		return nil, errors.Wrap(err, "persist state")
	}
	newCanonical, oldCanonical, err := c.db.PersistBlock(imported, imported.Kind(), machine.ForkChoiceScoring())
	if err != nil {
		return nil, errors.Wrap(err, "persist block")
	}

	// Attestations on a losing branch stay pooled for the canonical chain.
	for _, b := range newCanonical {
		c.pool.RemoveIncluded(b.GetAttestations())
	}
	c.report(imported, newCanonical, oldCanonical)

	return &ImportResult{Block: imported, NewCanonical: newCanonical, OldCanonical: oldCanonical}, nil
}

// validateUnchanged fails when the state machine had to change the block.
func validateUnchanged(given, imported types.BeaconBlock) error {
	equal, err := types.BlocksEqual(given, imported)
	if err != nil {
		return errors.Wrap(err, "compare blocks")
	}
	if equal {
		return nil
	}
	givenRoot, _ := given.SigningRoot()
	importedRoot, _ := imported.SigningRoot()
	return &BlockMutationError{
		BlockRoot:    givenRoot,
		ImportedRoot: importedRoot,
		Diff:         cmp.Diff(given, imported),
	}
}

func (c *BeaconChain) report(block types.BeaconBlock, newCanonical, oldCanonical []types.BeaconBlock) {
	c.metrics.SetPoolSize(c.pool.Len())
	c.metrics.RecordReorg(len(oldCanonical))
	if len(newCanonical) > 0 {
		c.metrics.SetHeadSlot(uint64(newCanonical[len(newCanonical)-1].GetSlot()))
	}

	root, _ := block.SigningRoot()
	if len(oldCanonical) > 0 {
		c.log.Warn("chain reorganized",
			"slot", block.GetSlot(),
			"head", root.Short(),
			"removed", len(oldCanonical),
			"added", len(newCanonical),
		)
		return
	}
	c.log.Info("imported block",
		"slot", block.GetSlot(),
		"root", root.Short(),
		"attestations", len(block.GetAttestations()),
		"head", len(newCanonical) > 0,
	)
}
