package p2p

import (
	"context"
	"log/slog"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/chain"
	"github.com/geanlabs/beaconchain/metrics"
	"github.com/geanlabs/beaconchain/types"
)

// ErrDecode marks a gossip payload that could not be decoded.
var ErrDecode = errors.New("undecodable gossip payload")

// BlockHandler imports a block received from a peer.
type BlockHandler func(ctx context.Context, from peer.ID, block types.BeaconBlock) error

// AttestationHandler accepts an attestation received from a peer.
type AttestationHandler func(ctx context.Context, from peer.ID, att *types.Attestation) error

// Handlers are called from the topic validators. A nil handler accepts
// every well-formed message.
type Handlers struct {
	OnBlock       BlockHandler
	OnAttestation AttestationHandler
}

// ValidationResult maps a handler error to a gossip verdict. Blocks whose
// parent is unknown are ignored rather than rejected so the sender is not
// penalized.
func ValidationResult(err error) pubsub.ValidationResult {
	switch {
	case err == nil:
		return pubsub.ValidationAccept
	case errors.Is(err, chain.ErrMissingParent):
		return pubsub.ValidationIgnore
	case errors.Is(err, ErrDecode), chain.IsValidationError(err):
		return pubsub.ValidationReject
	default:
		return pubsub.ValidationIgnore
	}
}

func resultLabel(r pubsub.ValidationResult) string {
	switch r {
	case pubsub.ValidationAccept:
		return metrics.GossipAccept
	case pubsub.ValidationReject:
		return metrics.GossipReject
	default:
		return metrics.GossipIgnore
	}
}

type validator struct {
	self     peer.ID
	handlers Handlers
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func (v *validator) validateBlock(ctx context.Context, from peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	// Our own blocks are imported before they are published.
	if msg.ReceivedFrom == v.self {
		return pubsub.ValidationAccept
	}
	err := func() error {
		block, err := DecodeBlock(msg.Data)
		if err != nil {
			return errors.Wrap(ErrDecode, err.Error())
		}
		if v.handlers.OnBlock == nil {
			return nil
		}
		return v.handlers.OnBlock(ctx, from, block)
	}()
	return v.verdict(TopicBlocks, from, err)
}

func (v *validator) validateAttestation(ctx context.Context, from peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	if msg.ReceivedFrom == v.self {
		return pubsub.ValidationAccept
	}
	err := func() error {
		att, err := DecodeAttestation(msg.Data)
		if err != nil {
			return errors.Wrap(ErrDecode, err.Error())
		}
		if v.handlers.OnAttestation == nil {
			return nil
		}
		return v.handlers.OnAttestation(ctx, from, att)
	}()
	return v.verdict(TopicAttestations, from, err)
}

func (v *validator) verdict(topic string, from peer.ID, err error) pubsub.ValidationResult {
	result := ValidationResult(err)
	v.metrics.RecordGossip(topicLabel(topic), resultLabel(result))
	if result == pubsub.ValidationReject {
		v.log.Warn("rejected gossip message", "topic", topicLabel(topic), "peer", from, "error", err)
	} else if err != nil {
		v.log.Debug("ignored gossip message", "topic", topicLabel(topic), "peer", from, "error", err)
	}
	return result
}
