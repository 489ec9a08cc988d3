// Package discovery supplies peer candidates to the networking layer.
//
// Backends ask a request/response Bus; whoever does discovery subscribes to
// the bus and answers. A request waits until a responder is subscribed. The
// wait has no timeout of its own and ends only through the caller's context.
package discovery

import (
	"context"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
)

var ErrAlreadySubscribed = errors.New("a responder is already subscribed")

// RequestKind identifies what a request asks for.
type RequestKind int

const (
	PeerCandidatesRequest RequestKind = iota // peers found by discovery
	RandomBootnodeRequest                    // bootnodes in random order
)

func (k RequestKind) String() string {
	switch k {
	case PeerCandidatesRequest:
		return "peer_candidates"
	case RandomBootnodeRequest:
		return "random_bootnode"
	default:
		return "unknown"
	}
}

// Request is sent over the bus.
type Request struct {
	Kind         RequestKind
	NumRequested int
}

// Response answers one Request.
type Response struct {
	Candidates []peer.AddrInfo
}

// Responder answers requests of one kind.
type Responder func(ctx context.Context, req Request) (Response, error)

// Bus routes each request kind to at most one responder.
type Bus struct {
	mu         sync.Mutex
	responders map[RequestKind]Responder
	ready      map[RequestKind]chan struct{} // closed while a responder is subscribed
}

func NewBus() *Bus {
	return &Bus{
		responders: make(map[RequestKind]Responder),
		ready:      make(map[RequestKind]chan struct{}),
	}
}

func (b *Bus) readyLocked(kind RequestKind) chan struct{} {
	ch, ok := b.ready[kind]
	if !ok {
		ch = make(chan struct{})
		b.ready[kind] = ch
	}
	return ch
}

// Subscribe registers responder for kind. The returned function removes it.
func (b *Bus) Subscribe(kind RequestKind, responder Responder) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.responders[kind]; ok {
		return nil, errors.Wrap(ErrAlreadySubscribed, kind.String())
	}
	b.responders[kind] = responder
	close(b.readyLocked(kind))

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.responders, kind)
		b.ready[kind] = make(chan struct{})
	}, nil
}

// WaitUntilSubscribed blocks until a responder for kind is subscribed.
func (b *Bus) WaitUntilSubscribed(ctx context.Context, kind RequestKind) (Responder, error) {
	for {
		b.mu.Lock()
		if r, ok := b.responders[kind]; ok {
			b.mu.Unlock()
			return r, nil
		}
		ready := b.readyLocked(kind)
		b.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "waiting for %s responder", kind)
		}
	}
}

// Request waits for a responder, sends req to it and waits for its response.
func (b *Bus) Request(ctx context.Context, req Request) (Response, error) {
	responder, err := b.WaitUntilSubscribed(ctx, req.Kind)
	if err != nil {
		return Response{}, err
	}

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := responder(ctx, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return Response{}, errors.Wrapf(ctx.Err(), "waiting for %s response", req.Kind)
	}
}
