package node

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/p2p/reqresp"
	"github.com/geanlabs/beaconchain/types"
)

const (
	reqrespTimeout = 30 * time.Second
	maxSyncRetries = 3
	baseRetryDelay = 1 * time.Second
)

// blockImporter hands a fetched block to the node.
type blockImporter func(ctx context.Context, from peer.ID, block types.BeaconBlock) error

// syncer exchanges status with connected peers and fetches blocks by root:
// the head of any peer whose head we do not know, and the missing parent
// of any block parked in the pending queue. Requests are retried with
// exponential backoff (1s, 2s, 4s).
type syncer struct {
	host    host.Host
	streams *reqresp.StreamHandler
	handler *reqresp.Handler
	importF blockImporter
	log     *slog.Logger

	mu         sync.Mutex
	peerStatus map[peer.ID]*reqresp.Status
	inflight   map[types.Root]struct{}
	closing    bool

	ctx context.Context
	wg  sync.WaitGroup
}

func newSyncer(h host.Host, streams *reqresp.StreamHandler, handler *reqresp.Handler, importF blockImporter, log *slog.Logger) *syncer {
	return &syncer{
		host:       h,
		streams:    streams,
		handler:    handler,
		importF:    importF,
		log:        log,
		peerStatus: make(map[peer.ID]*reqresp.Status),
		inflight:   make(map[types.Root]struct{}),
	}
}

// run registers for connection events, greets already connected peers and
// blocks until ctx is done and every fetch has returned.
func (s *syncer) run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	notifiee := &network.NotifyBundle{
		ConnectedF: func(_ network.Network, conn network.Conn) {
			s.greet(conn.RemotePeer())
		},
		DisconnectedF: func(_ network.Network, conn network.Conn) {
			s.mu.Lock()
			delete(s.peerStatus, conn.RemotePeer())
			s.mu.Unlock()
		},
	}
	s.host.Network().Notify(notifiee)
	defer s.host.Network().StopNotify(notifiee)

	for _, pid := range s.host.Network().Peers() {
		s.greet(pid)
	}
	s.log.Info("syncer started")

	<-ctx.Done()
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info("syncer stopped")
	return nil
}

func (s *syncer) greet(pid peer.ID) {
	s.goSafe(func() {
		ctx, cancel := context.WithTimeout(s.ctx, reqrespTimeout)
		defer cancel()
		if err := s.exchangeStatus(ctx, pid); err != nil && s.ctx.Err() == nil {
			s.log.Debug("status exchange failed", "peer", pid, "error", err)
		}
	})
}

// goSafe runs f unless the syncer is shutting down.
func (s *syncer) goSafe(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.closing {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f()
	}()
}

// exchangeStatus sends our status to pid and acts on the reply.
func (s *syncer) exchangeStatus(ctx context.Context, pid peer.ID) error {
	ours, err := s.handler.GetStatus()
	if err != nil {
		return errors.Wrap(err, "our status")
	}
	theirs, err := s.streams.SendStatus(ctx, pid, ours)
	if err != nil {
		return errors.Wrap(err, "send status")
	}
	return s.onPeerStatus(ctx, pid, theirs)
}

func (s *syncer) onPeerStatus(ctx context.Context, pid peer.ID, status *reqresp.Status) error {
	if err := s.handler.ValidatePeerStatus(status); err != nil {
		s.log.Warn("invalid peer status, disconnecting", "peer", pid, "error", err)
		_ = s.host.Network().ClosePeer(pid)
		return err
	}
	s.mu.Lock()
	s.peerStatus[pid] = status
	s.mu.Unlock()

	known, err := s.handler.HasBlock(status.Head.Root)
	if err != nil || known {
		return err
	}
	s.log.Info("peer has unknown head, fetching",
		"peer", pid,
		"peer_head_slot", status.Head.Slot,
		"peer_head", status.Head.Root.Short(),
	)
	s.fetch(ctx, pid, status.Head.Root)
	return nil
}

// requestParent fetches root from pid in the background.
func (s *syncer) requestParent(pid peer.ID, root types.Root) {
	s.goSafe(func() { s.fetch(s.ctx, pid, root) })
}

// fetch requests root from pid and imports what comes back. Concurrent
// fetches of the same root collapse into one.
func (s *syncer) fetch(ctx context.Context, pid peer.ID, root types.Root) {
	s.mu.Lock()
	if _, ok := s.inflight[root]; ok {
		s.mu.Unlock()
		return
	}
	s.inflight[root] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, root)
		s.mu.Unlock()
	}()

	blocks, err := s.requestBlocksWithRetry(ctx, pid, []types.Root{root})
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("failed to fetch block", "peer", pid, "root", root.Short(), "error", err)
		}
		return
	}
	for _, block := range blocks {
		if err := s.importF(ctx, pid, block); err != nil && !errors.Is(err, ErrKnownBlock) {
			s.log.Debug("fetched block not imported", "slot", block.GetSlot(), "error", err)
		}
	}
}

// requestBlocksWithRetry retries BlocksByRoot up to maxSyncRetries times.
func (s *syncer) requestBlocksWithRetry(ctx context.Context, pid peer.ID, roots []types.Root) ([]types.BeaconBlock, error) {
	var lastErr error
	for attempt := 0; attempt <= maxSyncRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			s.log.Debug("retrying block request", "peer", pid, "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		reqCtx, cancel := context.WithTimeout(ctx, reqrespTimeout)
		blocks, err := s.streams.RequestBlocksByRoot(reqCtx, pid, roots)
		cancel()
		if err == nil {
			return blocks, nil
		}
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "after %d retries", maxSyncRetries)
}

// peerCount returns how many peers completed a status exchange.
func (s *syncer) peerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peerStatus)
}
