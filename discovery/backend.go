package discovery

import (
	"context"
	"math/rand/v2"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
)

// PeerBackend proposes peers to connect to.
type PeerBackend interface {
	GetPeerCandidates(ctx context.Context, numRequested int, connected map[peer.ID]struct{}) ([]peer.AddrInfo, error)
}

// DiscoveryBackend asks the discovery responder for candidates.
type DiscoveryBackend struct {
	Bus *Bus
}

func (d DiscoveryBackend) GetPeerCandidates(ctx context.Context, numRequested int, connected map[peer.ID]struct{}) ([]peer.AddrInfo, error) {
	resp, err := d.Bus.Request(ctx, Request{Kind: PeerCandidatesRequest, NumRequested: numRequested})
	if err != nil {
		return nil, err
	}
	return excludeConnected(resp.Candidates, connected), nil
}

// BootnodesBackend falls back to bootnodes, and only while no peer is connected.
type BootnodesBackend struct {
	Bus *Bus
}

func (b BootnodesBackend) GetPeerCandidates(ctx context.Context, numRequested int, connected map[peer.ID]struct{}) ([]peer.AddrInfo, error) {
	if len(connected) > 0 {
		return nil, nil
	}
	resp, err := b.Bus.Request(ctx, Request{Kind: RandomBootnodeRequest, NumRequested: numRequested})
	if err != nil {
		return nil, err
	}
	return excludeConnected(resp.Candidates, connected), nil
}

func excludeConnected(candidates []peer.AddrInfo, connected map[peer.ID]struct{}) []peer.AddrInfo {
	out := make([]peer.AddrInfo, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := connected[c.ID]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// BootnodeResponder answers RandomBootnodeRequest with the bootnodes in
// random order.
func BootnodeResponder(bootnodes []peer.AddrInfo) Responder {
	return func(_ context.Context, req Request) (Response, error) {
		shuffled := append([]peer.AddrInfo(nil), bootnodes...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		return Response{Candidates: shuffled}, nil
	}
}

// PeerstoreResponder answers PeerCandidatesRequest with peers the host has
// learned addresses for, excluding itself.
func PeerstoreResponder(ps peerstore.Peerstore, self peer.ID) Responder {
	return func(_ context.Context, req Request) (Response, error) {
		var out []peer.AddrInfo
		for _, id := range ps.PeersWithAddrs() {
			if id == self {
				continue
			}
			if req.NumRequested > 0 && len(out) == req.NumRequested {
				break
			}
			out = append(out, ps.PeerInfo(id))
		}
		return Response{Candidates: out}, nil
	}
}
