package chaindb

import (
	"encoding/binary"

	"github.com/geanlabs/beaconchain/types"
)

// Key layout. Slots are big-endian so keys sort by slot.
var (
	blockPrefix          = []byte("b/")  // block root -> kind byte + snappy(ssz block)
	statePrefix          = []byte("s/")  // state root -> snappy(ssz state)
	stateSlotPrefix      = []byte("ss/") // slot -> state root
	scorePrefix          = []byte("sc/") // block root -> score
	canonicalSlotPrefix  = []byte("cs/") // slot -> canonical block root
	attestationKeyPrefix = []byte("ak/") // attestation root -> block root + index

	headStateSlotKey = []byte("hs") // highest persisted state slot
	canonicalHeadKey = []byte("ch") // canonical head block root
)

func rootKey(prefix []byte, root types.Root) []byte {
	k := make([]byte, 0, len(prefix)+32)
	k = append(k, prefix...)
	return append(k, root[:]...)
}

func slotKey(prefix []byte, slot types.Slot) []byte {
	k := make([]byte, 0, len(prefix)+8)
	k = append(k, prefix...)
	return binary.BigEndian.AppendUint64(k, uint64(slot))
}

func encodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeUint64(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}

// AttestationKey locates an included attestation.
type AttestationKey struct {
	BlockRoot types.Root
	Index     uint64
}

func (k AttestationKey) encode() []byte {
	b := make([]byte, 0, 40)
	b = append(b, k.BlockRoot[:]...)
	return binary.BigEndian.AppendUint64(b, k.Index)
}

func decodeAttestationKey(b []byte) (AttestationKey, bool) {
	if len(b) != 40 {
		return AttestationKey{}, false
	}
	var k AttestationKey
	copy(k.BlockRoot[:], b[:32])
	k.Index = binary.BigEndian.Uint64(b[32:])
	return k, true
}
