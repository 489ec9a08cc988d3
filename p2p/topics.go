// Package p2p carries blocks and attestations between beacon nodes over
// libp2p gossipsub.
package p2p

// Gossip topic names.
const (
	TopicBlocks       = "/beaconchain/devnet/beacon_block/ssz_snappy"
	TopicAttestations = "/beaconchain/devnet/beacon_attestation/ssz_snappy"
)

// TopicEncoding specifies the encoding used for gossip messages.
const TopicEncoding = "ssz_snappy"

// topicLabel is the short topic name used in metrics.
func topicLabel(topic string) string {
	switch topic {
	case TopicBlocks:
		return "beacon_block"
	case TopicAttestations:
		return "beacon_attestation"
	default:
		return "unknown"
	}
}
