package types

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/prysmaticlabs/go-bitfield"
)

func TestRoot_IsZero(t *testing.T) {
	tests := []struct {
		name string
		root Root
		want bool
	}{
		{"zero root", Root{}, true},
		{"non-zero first byte", Root{1}, false},
		{"non-zero last byte", func() Root { var r Root; r[31] = 1; return r }(), false},
		{"all ones", func() Root {
			var r Root
			for i := range r {
				r[i] = 0xff
			}
			return r
		}(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.root.IsZero(); got != tt.want {
				t.Errorf("Root.IsZero() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRootFromHex(t *testing.T) {
	want := Root{0xab, 0xcd}
	for _, in := range []string{want.Hex(), want.Hex()[2:]} {
		got, err := RootFromHex(in)
		if err != nil {
			t.Fatalf("RootFromHex(%q) error = %v", in, err)
		}
		if got != want {
			t.Errorf("RootFromHex(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := RootFromHex("0x1234"); err == nil {
		t.Error("RootFromHex accepted a short root")
	}
}

func TestCheckpoint_HashTreeRoot(t *testing.T) {
	cp := Checkpoint{Root: Root{1, 2, 3}, Slot: 100}

	root, err := cp.HashTreeRoot()
	if err != nil {
		t.Fatalf("HashTreeRoot() error = %v", err)
	}

	// Two-field container: sha256(root || uint64 chunk).
	var chunk [32]byte
	binary.LittleEndian.PutUint64(chunk[:], 100)
	want := sha256.Sum256(append(cp.Root[:], chunk[:]...))
	if root != Root(want) {
		t.Errorf("HashTreeRoot() = %x, want %x", root, want)
	}

	cp2 := Checkpoint{Root: Root{4, 5, 6}, Slot: 200}
	root2, _ := cp2.HashTreeRoot()
	if root == root2 {
		t.Error("different checkpoints should have different hashes")
	}
}

func testAttestation(slot Slot, bits ...uint64) *Attestation {
	agg := bitfield.NewBitlist(8)
	for _, b := range bits {
		agg.SetBitAt(b, true)
	}
	return &Attestation{
		AggregationBits: agg,
		Data: AttestationData{
			Slot:            slot,
			BeaconBlockRoot: Root{byte(slot)},
			Source:          Checkpoint{Root: Root{9}, Slot: 0},
			Target:          Checkpoint{Root: Root{byte(slot)}, Slot: slot},
		},
	}
}

func TestBlock_SigningRootMatchesHeader(t *testing.T) {
	blocks := []BeaconBlock{
		&Phase0Block{
			Slot:          10,
			ProposerIndex: 5,
			ParentRoot:    Root{1, 2, 3},
			StateRoot:     Root{4, 5, 6},
			Body:          Phase0BlockBody{Attestations: []*Attestation{testAttestation(9, 1, 3)}},
		},
		&AltairBlock{
			Slot:       11,
			ParentRoot: Root{7},
			Body: AltairBlockBody{
				Attestations:  []*Attestation{testAttestation(10, 0)},
				SyncAggregate: SyncAggregate{ParticipationBits: bitfield.Bitvector64{0xff, 0, 0, 0, 0, 0, 0, 1}},
			},
		},
	}

	for _, b := range blocks {
		t.Run(b.Kind().String(), func(t *testing.T) {
			root, err := b.SigningRoot()
			if err != nil {
				t.Fatalf("SigningRoot() error = %v", err)
			}
			header, err := b.Header()
			if err != nil {
				t.Fatalf("Header() error = %v", err)
			}
			headerRoot, err := header.HashTreeRoot()
			if err != nil {
				t.Fatalf("header HashTreeRoot() error = %v", err)
			}
			if root != headerRoot {
				t.Errorf("signing root %s != header root %s", root.Short(), headerRoot.Short())
			}

			signed := b.WithSignature(BLSSignature{0xaa})
			signedRoot, _ := signed.SigningRoot()
			if signedRoot != root {
				t.Error("signature must not change the signing root")
			}
			if b.GetSignature() != (BLSSignature{}) {
				t.Error("WithSignature mutated the receiver")
			}
		})
	}
}

func TestTaggedBlock_RoundTrip(t *testing.T) {
	orig := &AltairBlock{
		Slot:          3,
		ProposerIndex: 1,
		ParentRoot:    Root{1},
		StateRoot:     Root{2},
		Body: AltairBlockBody{
			RandaoReveal: BLSSignature{3},
			Graffiti:     Root{'g'},
			Attestations: []*Attestation{testAttestation(1, 0), testAttestation(2, 1, 2)},
		},
		Signature: BLSSignature{4},
	}

	enc, err := MarshalTaggedBlock(orig)
	if err != nil {
		t.Fatalf("MarshalTaggedBlock() error = %v", err)
	}
	if enc[0] != byte(AltairBlockKind) {
		t.Fatalf("tag = %d, want %d", enc[0], AltairBlockKind)
	}
	dec, err := UnmarshalTaggedBlock(enc)
	if err != nil {
		t.Fatalf("UnmarshalTaggedBlock() error = %v", err)
	}
	eq, err := BlocksEqual(orig, dec)
	if err != nil {
		t.Fatalf("BlocksEqual() error = %v", err)
	}
	if !eq {
		t.Error("decoded block differs from original")
	}
	if got := len(dec.GetAttestations()); got != 2 {
		t.Errorf("decoded %d attestations, want 2", got)
	}

	if _, err := UnmarshalTaggedBlock([]byte{7}); !errors.Is(err, ErrUnknownBlockKind) {
		t.Errorf("unknown tag error = %v, want ErrUnknownBlockKind", err)
	}
}

func TestBlocksEqual_DifferentKinds(t *testing.T) {
	eq, err := BlocksEqual(&Phase0Block{}, &AltairBlock{})
	if err != nil {
		t.Fatalf("BlocksEqual() error = %v", err)
	}
	if eq {
		t.Error("blocks of different kinds compared equal")
	}
}

func TestState_RoundTripAndCopy(t *testing.T) {
	justified := bitfield.NewBitlist(3)
	justified.SetBitAt(0, true)

	state := &BeaconState{
		GenesisTime:          1000000000,
		Slot:                 10,
		ForkVersion:          AltairForkVersion,
		LatestBlockHeader:    BlockHeader{Slot: 9},
		Validators:           []*Validator{{Pubkey: BLSPubkey{1}, EffectiveBalance: 32}},
		LatestJustified:      Checkpoint{Slot: 5},
		LatestFinalized:      Checkpoint{Slot: 3},
		HistoricalBlockRoots: []Root{{1}, {2}, {3}},
		JustifiedSlots:       justified,
	}

	root, err := state.HashTreeRoot()
	if err != nil {
		t.Fatalf("HashTreeRoot() error = %v", err)
	}
	if root.IsZero() {
		t.Error("HashTreeRoot() returned zero root")
	}
	if state.Kind() != AltairStateKind {
		t.Errorf("Kind() = %s, want altair", state.Kind())
	}

	enc, err := state.MarshalSSZ()
	if err != nil {
		t.Fatalf("MarshalSSZ() error = %v", err)
	}
	var dec BeaconState
	if err := dec.UnmarshalSSZ(enc); err != nil {
		t.Fatalf("UnmarshalSSZ() error = %v", err)
	}
	decRoot, _ := dec.HashTreeRoot()
	if decRoot != root {
		t.Error("decoded state root differs")
	}

	cp := state.Copy()
	cp.Validators[0].EffectiveBalance = 0
	cp.HistoricalBlockRoots[0] = Root{}
	cp.JustifiedSlots.SetBitAt(1, true)
	if state.Validators[0].EffectiveBalance != 32 || state.HistoricalBlockRoots[0] != (Root{1}) || state.JustifiedSlots.BitAt(1) {
		t.Error("Copy() shares memory with the original")
	}
}

func TestState_RejectsEmptyBitlist(t *testing.T) {
	state := &BeaconState{}
	if _, err := state.HashTreeRoot(); !errors.Is(err, ErrInvalidBitlist) {
		t.Errorf("HashTreeRoot() error = %v, want ErrInvalidBitlist", err)
	}
}

func TestStateKindOf(t *testing.T) {
	tests := []struct {
		version ForkVersion
		want    StateKind
	}{
		{Phase0ForkVersion, Phase0StateKind},
		{AltairForkVersion, AltairStateKind},
		{ForkVersion{9}, UnknownStateKind},
	}
	for _, tt := range tests {
		if got := StateKindOf(tt.version); got != tt.want {
			t.Errorf("StateKindOf(%s) = %s, want %s", tt.version, got, tt.want)
		}
	}
}
