package p2p

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/golang/snappy"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/host"
)

// Message ID domains.
var (
	MessageDomainValidSnappy   = [4]byte{0x01, 0x00, 0x00, 0x00}
	MessageDomainInvalidSnappy = [4]byte{0x00, 0x00, 0x00, 0x00}
)

// justificationLookbackSlots bounds how long a message stays in the seen cache.
const justificationLookbackSlots = 32

// GossipsubParams holds the gossipsub mesh parameters.
type GossipsubParams struct {
	D                 int     // Target mesh peers
	DLow              int     // Low watermark
	DHigh             int     // High watermark
	DLazy             int     // Gossip-only peers
	HeartbeatInterval float64 // Seconds
	FanoutTTL         int     // Seconds
	MCacheLen         int     // Message cache windows
	MCacheGossip      int     // Gossip windows
	SeenTTL           int     // Seen message TTL (seconds)
}

// DefaultGossipsubParams returns the gossipsub parameters for a chain with
// the given slot duration.
func DefaultGossipsubParams(secondsPerSlot uint64) GossipsubParams {
	return GossipsubParams{
		D:                 8,
		DLow:              6,
		DHigh:             12,
		DLazy:             6,
		HeartbeatInterval: 0.7,
		FanoutTTL:         60,
		MCacheLen:         6,
		MCacheGossip:      3,
		SeenTTL:           int(secondsPerSlot) * justificationLookbackSlots * 2,
	}
}

// NewGossipSub creates a gossipsub router on h.
func NewGossipSub(ctx context.Context, h host.Host, params GossipsubParams) (*pubsub.PubSub, error) {
	gsParams := pubsub.DefaultGossipSubParams()
	gsParams.D = params.D
	gsParams.Dlo = params.DLow
	gsParams.Dhi = params.DHigh
	gsParams.Dlazy = params.DLazy
	gsParams.HeartbeatInterval = time.Duration(params.HeartbeatInterval * float64(time.Second))
	gsParams.FanoutTTL = time.Duration(params.FanoutTTL) * time.Second
	gsParams.HistoryLength = params.MCacheLen
	gsParams.HistoryGossip = params.MCacheGossip

	return pubsub.NewGossipSub(ctx, h,
		pubsub.WithMessageIdFn(messageID),
		pubsub.WithGossipSubParams(gsParams),
		pubsub.WithSeenMessagesTTL(time.Duration(params.SeenTTL)*time.Second),
		pubsub.WithMessageSignaturePolicy(pubsub.StrictNoSign),
		pubsub.WithFloodPublish(false),
	)
}

// MessageID is a 20-byte gossipsub message identifier.
type MessageID [20]byte

// ComputeMessageID computes the message ID for a gossipsub message.
// ID = SHA256(domain + uint64_le(len(topic)) + topic + data)[:20]
func ComputeMessageID(topic []byte, data []byte, snappyValid bool) MessageID {
	domain := MessageDomainInvalidSnappy
	if snappyValid {
		domain = MessageDomainValidSnappy
	}

	var topicLen [8]byte
	binary.LittleEndian.PutUint64(topicLen[:], uint64(len(topic)))

	h := sha256.New()
	h.Write(domain[:])
	h.Write(topicLen[:])
	h.Write(topic)
	h.Write(data)

	var id MessageID
	copy(id[:], h.Sum(nil)[:20])
	return id
}

// messageID hashes the decompressed payload when it is valid snappy and the
// raw payload otherwise.
func messageID(msg *pb.Message) string {
	topic := []byte(msg.GetTopic())
	if decoded, err := snappy.Decode(nil, msg.Data); err == nil {
		id := ComputeMessageID(topic, decoded, true)
		return string(id[:])
	}
	id := ComputeMessageID(topic, msg.Data, false)
	return string(id[:])
}
