// Package node assembles a beacon node: storage, chain, gossip, req/resp
// sync, peer discovery and local validator duties, and drives them from
// the slot clock.
package node

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/geanlabs/beaconchain/bls"
	"github.com/geanlabs/beaconchain/chain"
	"github.com/geanlabs/beaconchain/chaindb"
	"github.com/geanlabs/beaconchain/clock"
	"github.com/geanlabs/beaconchain/config"
	"github.com/geanlabs/beaconchain/discovery"
	"github.com/geanlabs/beaconchain/internal/genesis"
	"github.com/geanlabs/beaconchain/metrics"
	"github.com/geanlabs/beaconchain/p2p"
	"github.com/geanlabs/beaconchain/p2p/reqresp"
	"github.com/geanlabs/beaconchain/pool"
	"github.com/geanlabs/beaconchain/protocol"
	"github.com/geanlabs/beaconchain/statemachine"
	"github.com/geanlabs/beaconchain/storage"
	"github.com/geanlabs/beaconchain/storage/memory"
	"github.com/geanlabs/beaconchain/storage/pebble"
	"github.com/geanlabs/beaconchain/types"
	"github.com/geanlabs/beaconchain/validator"
)

var (
	// ErrKnownBlock is returned for a block that is already imported or parked.
	ErrKnownBlock = errors.New("block already known")
	// ErrKnownAttestation is returned for an attestation already pooled.
	ErrKnownAttestation = errors.New("attestation already known")
)

const (
	tickInterval            = time.Second
	discoveryInterval       = 10 * time.Second
	discoveryRequestTimeout = 5 * time.Second
	defaultMaxPeers         = 50
)

// Node is a running beacon node.
type Node struct {
	cfg *config.Config
	log *slog.Logger
	lc  lifecycle

	backend  bls.Backend
	store    storage.Store
	chain    *chain.BeaconChain
	pool     *pool.AttestationPool
	pending  *PendingBlocks
	clock    *clock.SlotClock
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	host     host.Host
	p2p      *p2p.Service
	syncer   *syncer
	bus      *discovery.Bus
	backends []discovery.PeerBackend
	unsub    []func()

	proposer *validator.Proposer
	attester *validator.Attester

	lastSlot     types.Slot
	lastInterval clock.Interval
	ticked       bool
}

// New builds every component of the node and leaves it Ready. Nothing
// runs until Run is called.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Node, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{
		cfg:      cfg,
		log:      logger,
		pending:  NewPendingBlocks(DefaultPendingCapacity),
		registry: prometheus.NewRegistry(),
		bus:      discovery.NewBus(),
	}
	defer func() {
		if err != nil {
			n.release()
		}
	}()

	n.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	n.metrics = metrics.New(n.registry)

	n.backend = backendFor(cfg)

	gen, err := loadGenesis(cfg, n.backend)
	if err != nil {
		return nil, err
	}
	if err := n.openChain(cfg, gen); err != nil {
		return nil, err
	}
	n.clock = clock.New(gen.GenesisTime, gen.GenesisSlot, cfg.SecondsPerSlot)

	if err := n.openNetwork(ctx, cfg); err != nil {
		return nil, err
	}

	keys := validator.NewInteropKeys(n.backend, cfg.ValidatorIndices)
	n.proposer = validator.NewProposer(validator.ProposerConfig{
		Chain:     n.chain,
		Keys:      keys,
		Backend:   n.backend,
		Publisher: n.p2p,
		Graffiti:  cfg.Graffiti,
		Logger:    logger,
	})
	n.attester = validator.NewAttester(validator.AttesterConfig{
		Chain:     n.chain,
		Keys:      keys,
		Backend:   n.backend,
		Pool:      n.pool,
		Publisher: n.p2p,
		Logger:    logger,
	})

	if err := n.lc.ready(); err != nil {
		return nil, err
	}
	head, err := n.chain.GetCanonicalHead()
	if err != nil {
		return nil, errors.Wrap(err, "canonical head")
	}
	logger.Info("node ready",
		"peer_id", n.host.ID(),
		"head_slot", head.GetSlot(),
		"genesis_time", gen.GenesisTime,
		"validators", len(keys.Indices()),
	)
	return n, nil
}

func backendFor(cfg *config.Config) bls.Backend {
	if cfg.VerifySignatures {
		return bls.BlstBackend{}
	}
	return bls.NoopBackend{}
}

// Genesis builds the genesis state and block described by cfg.
func Genesis(cfg *config.Config) (*types.BeaconState, types.BeaconBlock, error) {
	backend := backendFor(cfg)
	gen, err := loadGenesis(cfg, backend)
	if err != nil {
		return nil, nil, err
	}
	registry, err := newRegistry(cfg, backend, gen, nil)
	if err != nil {
		return nil, nil, err
	}
	return genesisBlock(registry, gen)
}

func newRegistry(cfg *config.Config, backend bls.Backend, gen *genesis.GenesisConfig, logger *slog.Logger) (*protocol.Registry[statemachine.Version], error) {
	schedule, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}
	registry, err := statemachine.NewRegistry(statemachine.Config{Backend: backend, Logger: logger}, gen.GenesisSlot, schedule...)
	if err != nil {
		return nil, errors.Wrap(err, "protocol registry")
	}
	return registry, nil
}

func loadGenesis(cfg *config.Config, backend bls.Backend) (*genesis.GenesisConfig, error) {
	if cfg.GenesisFile != "" {
		gen, err := genesis.LoadFromFile(cfg.GenesisFile)
		if err != nil {
			return nil, errors.Wrap(err, "load genesis")
		}
		return gen, nil
	}
	gen, err := genesis.Interop(backend, cfg.GenesisTime, cfg.GenesisSlot, cfg.ValidatorCount)
	if err != nil {
		return nil, errors.Wrap(err, "interop genesis")
	}
	return gen, nil
}

// openChain opens the database and resumes from its head, or initializes
// it from genesis when it is empty.
func (n *Node) openChain(cfg *config.Config, gen *genesis.GenesisConfig) error {
	registry, err := newRegistry(cfg, n.backend, gen, n.log)
	if err != nil {
		return err
	}

	if cfg.DataDir == "" {
		n.store = memory.New()
	} else {
		store, err := pebble.Open(filepath.Join(cfg.DataDir, "chaindata"))
		if err != nil {
			return errors.Wrap(err, "open database")
		}
		n.store = store
	}
	db := chaindb.New(n.store, chaindb.GenesisConfig{GenesisSlot: gen.GenesisSlot, GenesisTime: gen.GenesisTime})

	n.pool = pool.New(cfg.PoolCapacity)
	chainCfg := chain.Config{
		Registry: registry,
		DB:       db,
		Pool:     n.pool,
		Logger:   n.log,
		Metrics:  n.metrics,
	}

	_, err = db.GetCanonicalHeadRoot()
	switch {
	case err == nil:
		n.chain, err = chain.New(chainCfg)
		return err
	case errors.Is(err, chaindb.ErrHeadNotFound):
	default:
		return errors.Wrap(err, "read head")
	}

	state, block, err := genesisBlock(registry, gen)
	if err != nil {
		return err
	}
	n.chain, err = chain.FromGenesis(chainCfg, state, block)
	if err != nil {
		return err
	}
	root, _ := block.SigningRoot()
	n.log.Info("initialized chain from genesis", "slot", block.GetSlot(), "root", root.Short())
	return nil
}

func genesisBlock(registry *protocol.Registry[statemachine.Version], gen *genesis.GenesisConfig) (*types.BeaconState, types.BeaconBlock, error) {
	version := registry.GenesisVersion()
	fork, err := types.ForkVersionOf(version.StateKind())
	if err != nil {
		return nil, nil, err
	}
	state, block, err := gen.CreateState(version.BlockKind(), fork)
	if err != nil {
		return nil, nil, errors.Wrap(err, "genesis state")
	}
	return state, block, nil
}

func (n *Node) openNetwork(ctx context.Context, cfg *config.Config) error {
	nodeKey, err := p2p.LoadOrGenerateNodeKey(cfg.NodeKeyFile)
	if err != nil {
		return errors.Wrap(err, "node key")
	}
	privKey, err := p2p.Libp2pKey(nodeKey)
	if err != nil {
		return err
	}
	n.host, err = p2p.NewHost(ctx, p2p.HostConfig{PrivateKey: privKey, ListenAddrs: cfg.ListenAddrs})
	if err != nil {
		return err
	}
	if ip, port, ok := p2p.QUICEndpoint(n.host.Addrs()); ok {
		if record, err := p2p.LocalENR(nodeKey, ip, port); err == nil {
			n.log.Info("local node record", "enr", record.String())
		}
	}

	handler := reqresp.NewHandler(n.chain)
	streams := reqresp.NewStreamHandler(n.host, handler, n.log)
	streams.RegisterProtocols()
	n.syncer = newSyncer(n.host, streams, handler, n.importBlock, n.log)

	n.p2p, err = p2p.NewService(ctx, p2p.ServiceConfig{
		Host: n.host,
		Handlers: p2p.Handlers{
			OnBlock:       n.importBlock,
			OnAttestation: n.onGossipAttestation,
		},
		Params:  p2p.DefaultGossipsubParams(cfg.SecondsPerSlot),
		Logger:  n.log,
		Metrics: n.metrics,
	})
	if err != nil {
		return err
	}

	addrs, err := cfg.AllBootnodes()
	if err != nil {
		return err
	}
	bootnodes, err := p2p.ParseBootnodes(addrs)
	if err != nil {
		return errors.Wrap(err, "parse bootnodes")
	}
	for kind, responder := range map[discovery.RequestKind]discovery.Responder{
		discovery.RandomBootnodeRequest: discovery.BootnodeResponder(bootnodes),
		discovery.PeerCandidatesRequest: discovery.PeerstoreResponder(n.host.Peerstore(), n.host.ID()),
	} {
		unsub, err := n.bus.Subscribe(kind, responder)
		if err != nil {
			return err
		}
		n.unsub = append(n.unsub, unsub)
	}
	n.backends = []discovery.PeerBackend{
		discovery.DiscoveryBackend{Bus: n.bus},
		discovery.BootnodesBackend{Bus: n.bus},
	}
	return nil
}

// Status returns the lifecycle stage of the node.
func (n *Node) Status() Status { return n.lc.get() }

// Chain returns the node's chain.
func (n *Node) Chain() *chain.BeaconChain { return n.chain }

// ID returns the libp2p identity of the node.
func (n *Node) ID() peer.ID { return n.host.ID() }

// Addrs returns the node's dialable addresses, each with its /p2p suffix.
func (n *Node) Addrs() []string {
	out := make([]string, 0, len(n.host.Addrs()))
	for _, a := range n.host.Addrs() {
		out = append(out, a.String()+"/p2p/"+n.host.ID().String())
	}
	return out
}

// Run starts the node and blocks until ctx is cancelled or a component
// fails. The node is Stopped when Run returns and cannot run again.
func (n *Node) Run(ctx context.Context) error {
	if err := n.lc.start(); err != nil {
		return err
	}
	defer n.Close()

	n.p2p.Start()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.syncer.run(ctx) })
	g.Go(func() error { return n.dutyLoop(ctx) })
	g.Go(func() error { return n.discoveryLoop(ctx) })
	if n.cfg.MetricsAddr != "" {
		g.Go(func() error {
			n.log.Info("serving metrics", "addr", n.cfg.MetricsAddr)
			return metrics.Serve(ctx, n.cfg.MetricsAddr, n.registry)
		})
	}
	n.log.Info("node started", "addrs", n.Addrs())

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the node's resources. It is safe to call more than once.
func (n *Node) Close() error {
	if !n.lc.stop() {
		return nil
	}
	err := n.release()
	n.log.Info("node stopped")
	return err
}

func (n *Node) release() error {
	for _, unsub := range n.unsub {
		unsub()
	}
	n.unsub = nil
	if n.p2p != nil {
		n.p2p.Stop()
	} else if n.host != nil {
		_ = n.host.Close()
	}
	if n.store != nil {
		return n.store.Close()
	}
	return nil
}

// importBlock imports a block from gossip or sync. A block whose parent is
// unknown is parked and its parent requested from the sender; once a block
// is imported its parked descendants follow.
func (n *Node) importBlock(ctx context.Context, from peer.ID, block types.BeaconBlock) error {
	root, err := block.SigningRoot()
	if err != nil {
		return err
	}
	if n.pending.Has(root) {
		return ErrKnownBlock
	}
	_, err = n.chain.GetBlockByRoot(root)
	if err == nil {
		return ErrKnownBlock
	}
	if !chain.IsNotFound(err) {
		return err
	}

	_, err = n.chain.ImportBlock(block, true)
	if errors.Is(err, chain.ErrMissingParent) {
		if added, _ := n.pending.Add(block, from); added {
			n.metrics.SetPendingBlocks(n.pending.Len())
			n.log.Debug("parked block with unknown parent",
				"slot", block.GetSlot(),
				"root", root.Short(),
				"parent", block.GetParentRoot().Short(),
			)
			if from != "" {
				n.syncer.requestParent(from, block.GetParentRoot())
			}
		}
		return err
	}
	if err != nil {
		return err
	}
	n.importPending(root)
	return nil
}

// importPending imports the parked descendants of root, parents first.
func (n *Node) importPending(root types.Root) {
	queue := []types.Root{root}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, child := range n.pending.PopChildren(parent) {
			res, err := n.chain.ImportBlock(child, true)
			if err != nil {
				n.log.Warn("parked block failed to import", "slot", child.GetSlot(), "error", err)
				continue
			}
			childRoot, err := res.Block.SigningRoot()
			if err != nil {
				continue
			}
			queue = append(queue, childRoot)
		}
	}
	n.metrics.SetPendingBlocks(n.pending.Len())
}

// onGossipAttestation pools an attestation that is valid against the head
// state and not from beyond the next slot.
func (n *Node) onGossipAttestation(_ context.Context, _ peer.ID, att *types.Attestation) error {
	root, err := att.HashTreeRoot()
	if err != nil {
		return err
	}
	if n.pool.Has(root) {
		return ErrKnownAttestation
	}
	if current := n.clock.CurrentSlot(); att.Data.Slot > current+1 {
		return errors.Wrapf(statemachine.ErrInvalidAttestation, "attestation slot %d ahead of clock slot %d", att.Data.Slot, current)
	}
	state, err := n.chain.GetHeadState()
	if err != nil {
		return errors.Wrap(err, "head state")
	}
	inclusionSlot := att.Data.Slot + types.MinAttestationInclusionDelay
	if err := statemachine.ValidateAttestation(n.backend, state, att, inclusionSlot, n.cfg.VerifySignatures); err != nil {
		return err
	}
	if _, err := n.pool.Add(att); err != nil {
		return err
	}
	n.metrics.SetPoolSize(n.pool.Len())
	return nil
}

// dutyLoop proposes at the first interval of each slot and attests at the
// second.
func (n *Node) dutyLoop(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.onTick(ctx)
		}
	}
}

func (n *Node) onTick(ctx context.Context) {
	if n.clock.IsBeforeGenesis() {
		return
	}
	slot := n.clock.CurrentSlot()
	interval := n.clock.CurrentInterval()
	if n.ticked && slot == n.lastSlot && interval == n.lastInterval {
		return
	}
	n.ticked, n.lastSlot, n.lastInterval = true, slot, interval

	if slot == n.clock.GenesisSlot {
		return
	}
	switch interval {
	case 0:
		head, _ := n.chain.GetCanonicalHeadRoot()
		n.log.Debug("slot", "slot", slot, "head", head.Short(), "peers", n.p2p.PeerCount())
		block, err := n.proposer.Propose(ctx, slot)
		switch {
		case errors.Is(err, validator.ErrSlotTaken):
			n.log.Debug("skipping proposal", "slot", slot, "error", err)
		case err != nil:
			n.log.Error("block proposal failed", "slot", slot, "error", err)
		case block != nil:
			if root, err := block.SigningRoot(); err == nil {
				n.importPending(root)
			}
		}
	case 1:
		if _, err := n.attester.Attest(ctx, slot); err != nil {
			n.log.Error("attestation failed", "slot", slot, "error", err)
		}
		n.metrics.SetPoolSize(n.pool.Len())
	}
}

// discoveryLoop tops up connections from the peer backends, in order,
// until MaxPeers is reached.
func (n *Node) discoveryLoop(ctx context.Context) error {
	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	for {
		n.discoverPeers(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (n *Node) discoverPeers(ctx context.Context) {
	maxPeers := n.cfg.MaxPeers
	if maxPeers <= 0 {
		maxPeers = defaultMaxPeers
	}
	// Refreshes the peer gauge.
	defer n.p2p.PeerCount()

	for _, backend := range n.backends {
		connected := n.p2p.ConnectedPeers()
		need := maxPeers - len(connected)
		if need <= 0 {
			return
		}
		reqCtx, cancel := context.WithTimeout(ctx, discoveryRequestTimeout)
		candidates, err := backend.GetPeerCandidates(reqCtx, need, connected)
		if err != nil {
			cancel()
			n.log.Debug("peer discovery failed", "error", err)
			continue
		}
		if len(candidates) > need {
			candidates = candidates[:need]
		}
		n.p2p.Connect(reqCtx, candidates)
		cancel()
	}
}
