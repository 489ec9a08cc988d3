package p2p

import (
	"context"
	"io"
	"log/slog"
	"testing"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geanlabs/beaconchain/chain"
	"github.com/geanlabs/beaconchain/metrics"
	"github.com/geanlabs/beaconchain/statemachine"
	"github.com/geanlabs/beaconchain/types"
)

func TestValidationResult(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want pubsub.ValidationResult
	}{
		{"accepted", nil, pubsub.ValidationAccept},
		{"missing parent", &chain.MissingParentError{Slot: 3}, pubsub.ValidationIgnore},
		{"invalid block", errors.Wrap(statemachine.ErrInvalidBlock, "bad proposer"), pubsub.ValidationReject},
		{"mutated block", &chain.BlockMutationError{}, pubsub.ValidationReject},
		{"undecodable", errors.Wrap(ErrDecode, "snappy"), pubsub.ValidationReject},
		{"storage failure", errors.New("disk full"), pubsub.ValidationIgnore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidationResult(tt.err))
		})
	}
}

func newTestValidator(handlers Handlers) *validator {
	return &validator{
		self:     peer.ID("self"),
		handlers: handlers,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
}

func gossipMessage(from peer.ID, data []byte) *pubsub.Message {
	return &pubsub.Message{Message: &pb.Message{Data: data}, ReceivedFrom: from}
}

func TestValidateBlock(t *testing.T) {
	block, err := types.NewBlock(types.Phase0BlockKind)
	require.NoError(t, err)
	data, err := EncodeBlock(block)
	require.NoError(t, err)

	var handled []peer.ID
	var handlerErr error
	v := newTestValidator(Handlers{
		OnBlock: func(_ context.Context, from peer.ID, _ types.BeaconBlock) error {
			handled = append(handled, from)
			return handlerErr
		},
	})
	ctx := context.Background()

	assert.Equal(t, pubsub.ValidationAccept, v.validateBlock(ctx, "remote", gossipMessage("remote", data)))

	handlerErr = &chain.MissingParentError{}
	assert.Equal(t, pubsub.ValidationIgnore, v.validateBlock(ctx, "remote", gossipMessage("remote", data)))

	handlerErr = statemachine.ErrInvalidBlock
	assert.Equal(t, pubsub.ValidationReject, v.validateBlock(ctx, "remote", gossipMessage("remote", data)))

	assert.Equal(t, pubsub.ValidationReject, v.validateBlock(ctx, "remote", gossipMessage("remote", []byte{0xff})))

	// Own messages are accepted without reaching the handler.
	assert.Equal(t, pubsub.ValidationAccept, v.validateBlock(ctx, "self", gossipMessage("self", data)))

	assert.Equal(t, []peer.ID{"remote", "remote", "remote"}, handled)
}

func TestValidateAttestation_NilHandler(t *testing.T) {
	data, err := EncodeAttestation(&types.Attestation{AggregationBits: []byte{0x01}})
	require.NoError(t, err)

	v := newTestValidator(Handlers{})
	assert.Equal(t, pubsub.ValidationAccept, v.validateAttestation(context.Background(), "remote", gossipMessage("remote", data)))
}
