package p2p

import (
	"context"
	"log/slog"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/metrics"
	"github.com/geanlabs/beaconchain/types"
)

// Service manages gossip for the beacon node.
type Service struct {
	host    host.Host
	pubsub  *pubsub.PubSub
	logger  *slog.Logger
	metrics *metrics.Metrics

	blockTopic *pubsub.Topic
	blockSub   *pubsub.Subscription
	attTopic   *pubsub.Topic
	attSub     *pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ServiceConfig holds configuration for the p2p service.
type ServiceConfig struct {
	Host     host.Host
	Handlers Handlers
	Params   GossipsubParams
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// NewService joins the block and attestation topics and registers their
// validators.
func NewService(ctx context.Context, cfg ServiceConfig) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	svc.cancel = cancel
	return svc, nil
}

func newService(ctx context.Context, cfg ServiceConfig, logger *slog.Logger) (*Service, error) {
	ps, err := NewGossipSub(ctx, cfg.Host, cfg.Params)
	if err != nil {
		return nil, errors.Wrap(err, "create gossipsub")
	}

	v := &validator{
		self:     cfg.Host.ID(),
		handlers: cfg.Handlers,
		log:      logger,
		metrics:  cfg.Metrics,
	}
	if err := ps.RegisterTopicValidator(TopicBlocks, v.validateBlock); err != nil {
		return nil, errors.Wrap(err, "register block validator")
	}
	if err := ps.RegisterTopicValidator(TopicAttestations, v.validateAttestation); err != nil {
		return nil, errors.Wrap(err, "register attestation validator")
	}

	blockTopic, err := ps.Join(TopicBlocks)
	if err != nil {
		return nil, errors.Wrap(err, "join block topic")
	}
	attTopic, err := ps.Join(TopicAttestations)
	if err != nil {
		return nil, errors.Wrap(err, "join attestation topic")
	}
	blockSub, err := blockTopic.Subscribe()
	if err != nil {
		return nil, errors.Wrap(err, "subscribe block topic")
	}
	attSub, err := attTopic.Subscribe()
	if err != nil {
		return nil, errors.Wrap(err, "subscribe attestation topic")
	}

	return &Service{
		host:       cfg.Host,
		pubsub:     ps,
		logger:     logger,
		metrics:    cfg.Metrics,
		blockTopic: blockTopic,
		blockSub:   blockSub,
		attTopic:   attTopic,
		attSub:     attSub,
		ctx:        ctx,
	}, nil
}

// Start begins draining the subscriptions. Messages are handled by the
// topic validators before they reach a subscription.
func (s *Service) Start() {
	s.wg.Add(2)
	go s.drain(s.blockSub)
	go s.drain(s.attSub)
	s.logger.Info("p2p service started",
		"peer_id", s.host.ID(),
		"addrs", s.host.Addrs(),
	)
}

// Stop shuts down the p2p service and closes the host.
func (s *Service) Stop() {
	s.cancel()
	s.blockSub.Cancel()
	s.attSub.Cancel()
	s.wg.Wait()
	if err := s.host.Close(); err != nil {
		s.logger.Warn("close host", "error", err)
	}
	s.logger.Info("p2p service stopped")
}

// Host returns the underlying libp2p host.
func (s *Service) Host() host.Host { return s.host }

// PublishBlock gossips a block. The block must already be imported.
func (s *Service) PublishBlock(ctx context.Context, block types.BeaconBlock) error {
	data, err := EncodeBlock(block)
	if err != nil {
		return err
	}
	return s.blockTopic.Publish(ctx, data)
}

// PublishAttestation gossips an attestation.
func (s *Service) PublishAttestation(ctx context.Context, att *types.Attestation) error {
	data, err := EncodeAttestation(att)
	if err != nil {
		return err
	}
	return s.attTopic.Publish(ctx, data)
}

// PeerCount returns the number of connected peers.
func (s *Service) PeerCount() int {
	n := len(s.host.Network().Peers())
	s.metrics.SetPeerCount(n)
	return n
}

// ConnectedPeers returns the set of connected peers.
func (s *Service) ConnectedPeers() map[peer.ID]struct{} {
	peers := s.host.Network().Peers()
	out := make(map[peer.ID]struct{}, len(peers))
	for _, id := range peers {
		out[id] = struct{}{}
	}
	return out
}

// Connect dials each candidate and returns how many connections succeeded.
func (s *Service) Connect(ctx context.Context, candidates []peer.AddrInfo) int {
	connected := 0
	for _, pi := range candidates {
		if pi.ID == s.host.ID() {
			continue
		}
		if err := s.host.Connect(ctx, pi); err != nil {
			s.logger.Debug("failed to connect to peer", "peer", pi.ID, "error", err)
			continue
		}
		s.logger.Info("connected to peer", "peer", pi.ID)
		connected++
	}
	return connected
}

func (s *Service) drain(sub *pubsub.Subscription) {
	defer s.wg.Done()
	for {
		msg, err := sub.Next(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("subscription error", "topic", sub.Topic(), "error", err)
			return
		}
		if msg.ReceivedFrom == s.host.ID() {
			continue
		}
		s.logger.Debug("gossip delivered", "topic", topicLabel(sub.Topic()), "from", msg.ReceivedFrom)
	}
}
