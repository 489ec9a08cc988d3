// Package types defines the primitive and composite types of the beacon chain.
package types

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
)

// Primitive types.
type Slot uint64
type ValidatorIndex uint64
type Root [32]byte

// Score is the fork-choice weight of a block. Higher wins.
type Score uint64

// BLSPubkey is a compressed BLS12-381 G1 public key.
type BLSPubkey [48]byte

// BLSSignature is a compressed BLS12-381 G2 signature.
type BLSSignature [96]byte

// ForkVersion tags a state with the protocol version that produced it.
type ForkVersion [4]byte

// Domain separates signatures over different message types.
type Domain [32]byte

func (r Root) IsZero() bool { return r == Root{} }

// Short returns a short hex representation of the root (first 4 bytes).
func (r Root) Short() string {
	return fmt.Sprintf("%x", r[:4])
}

func (r Root) Hex() string { return "0x" + hex.EncodeToString(r[:]) }

func (r Root) String() string { return r.Hex() }

// Compare compares two roots lexicographically.
// Returns 1 if r > other, -1 if r < other, 0 if equal.
func (r Root) Compare(other Root) int {
	return bytes.Compare(r[:], other[:])
}

// RootFromHex parses a 0x-prefixed or bare hex string into a Root.
func RootFromHex(s string) (Root, error) {
	var r Root
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return r, errors.Wrap(err, "decode root")
	}
	if len(b) != len(r) {
		return r, errors.Errorf("root must be %d bytes, got %d", len(r), len(b))
	}
	copy(r[:], b)
	return r, nil
}

func (v ForkVersion) String() string { return "0x" + hex.EncodeToString(v[:]) }

// Known fork versions.
var (
	Phase0ForkVersion = ForkVersion{0x00, 0x00, 0x00, 0x00}
	AltairForkVersion = ForkVersion{0x01, 0x00, 0x00, 0x00}
)

// Signature domains.
var (
	DomainBeaconProposer = Domain{0x00, 0x00, 0x00, 0x00}
	DomainBeaconAttester = Domain{0x01, 0x00, 0x00, 0x00}
	DomainRandao         = Domain{0x02, 0x00, 0x00, 0x00}
	DomainSyncCommittee  = Domain{0x07, 0x00, 0x00, 0x00}
)

// Protocol constants.
const (
	SecondsPerSlot uint64 = 6 // default slot duration, overridable by config

	MaxAttestations        = 128    // attestations per block body
	ValidatorRegistryLimit = 4096   // validators and aggregation bits
	HistoricalRootsLimit   = 262144 // historical block roots and justified slots
	SyncCommitteeSize      = 64     // bits in a sync aggregate

	// MinAttestationInclusionDelay is the number of slots before an attestation may be included.
	MinAttestationInclusionDelay Slot = 1

	// ScoreSlotWeight keeps attestation weight from outranking a later slot.
	ScoreSlotWeight Score = 1 << 20
)
