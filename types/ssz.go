package types

import (
	"encoding/binary"

	ssz "github.com/ferranbt/fastssz"
	"github.com/pkg/errors"
	"github.com/prysmaticlabs/go-bitfield"
)

var (
	ErrSize             = errors.New("ssz: incorrect size")
	ErrOffset           = errors.New("ssz: invalid offset")
	ErrListTooBig       = errors.New("ssz: list too big")
	ErrInvalidBitlist   = errors.New("ssz: invalid bitlist")
	ErrUnknownBlockKind = errors.New("unknown block kind")
)

// Fixed sizes of the containers.
const (
	checkpointSize      = 40
	attestationDataSize = 128
	attestationFixed    = 4 + attestationDataSize + 96
	syncAggregateSize   = 8 + 96
	blockHeaderSize     = 112
	validatorSize       = 56
	phase0BodyFixed     = 96 + 32 + 4
	altairBodyFixed     = phase0BodyFixed + syncAggregateSize
	blockFixed          = 8 + 8 + 32 + 32 + 4 + 96
	stateFixed          = 8 + 8 + 4 + blockHeaderSize + 4 + 2*checkpointSize + 4 + 4
)

type hashable interface {
	HashTreeRootWith(hh ssz.HashWalker) error
}

func hashRoot(v hashable) (Root, error) {
	hh := ssz.NewHasher()
	if err := v.HashTreeRootWith(hh); err != nil {
		return Root{}, err
	}
	r, err := hh.HashRoot()
	if err != nil {
		return Root{}, err
	}
	return Root(r), nil
}

func appendUint64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

func appendOffset(dst []byte, off int) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(off))
}

func readUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

func readOffset(b []byte) int { return int(binary.LittleEndian.Uint32(b)) }

func sizeError(name string, got, want int) error {
	return errors.Wrapf(ErrSize, "%s: got %d, want %d", name, got, want)
}

// --- Checkpoint ---

func (c *Checkpoint) SizeSSZ() int { return checkpointSize }

func (c *Checkpoint) MarshalSSZTo(dst []byte) ([]byte, error) {
	dst = append(dst, c.Root[:]...)
	return appendUint64(dst, uint64(c.Slot)), nil
}

func (c *Checkpoint) UnmarshalSSZ(buf []byte) error {
	if len(buf) != checkpointSize {
		return sizeError("checkpoint", len(buf), checkpointSize)
	}
	copy(c.Root[:], buf[0:32])
	c.Slot = Slot(readUint64(buf[32:40]))
	return nil
}

func (c *Checkpoint) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutBytes(c.Root[:])
	hh.PutUint64(uint64(c.Slot))
	hh.Merkleize(indx)
	return nil
}

func (c *Checkpoint) HashTreeRoot() (Root, error) { return hashRoot(c) }

// --- AttestationData ---

func (d *AttestationData) SizeSSZ() int { return attestationDataSize }

func (d *AttestationData) MarshalSSZTo(dst []byte) ([]byte, error) {
	dst = appendUint64(dst, uint64(d.Slot))
	dst = appendUint64(dst, d.Index)
	dst = append(dst, d.BeaconBlockRoot[:]...)
	dst, _ = d.Source.MarshalSSZTo(dst)
	dst, _ = d.Target.MarshalSSZTo(dst)
	return dst, nil
}

func (d *AttestationData) UnmarshalSSZ(buf []byte) error {
	if len(buf) != attestationDataSize {
		return sizeError("attestation data", len(buf), attestationDataSize)
	}
	d.Slot = Slot(readUint64(buf[0:8]))
	d.Index = readUint64(buf[8:16])
	copy(d.BeaconBlockRoot[:], buf[16:48])
	if err := d.Source.UnmarshalSSZ(buf[48:88]); err != nil {
		return err
	}
	return d.Target.UnmarshalSSZ(buf[88:128])
}

func (d *AttestationData) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutUint64(uint64(d.Slot))
	hh.PutUint64(d.Index)
	hh.PutBytes(d.BeaconBlockRoot[:])
	if err := d.Source.HashTreeRootWith(hh); err != nil {
		return err
	}
	if err := d.Target.HashTreeRootWith(hh); err != nil {
		return err
	}
	hh.Merkleize(indx)
	return nil
}

// HashTreeRoot returns the root attesters sign over.
func (d *AttestationData) HashTreeRoot() (Root, error) { return hashRoot(d) }

// --- Attestation ---

func (a *Attestation) SizeSSZ() int { return attestationFixed + len(a.AggregationBits) }

func (a *Attestation) MarshalSSZ() ([]byte, error) {
	return a.MarshalSSZTo(make([]byte, 0, a.SizeSSZ()))
}

func (a *Attestation) MarshalSSZTo(dst []byte) ([]byte, error) {
	if err := checkBitlist(a.AggregationBits, ValidatorRegistryLimit); err != nil {
		return nil, errors.Wrap(err, "aggregation bits")
	}
	dst = appendOffset(dst, attestationFixed)
	dst, _ = a.Data.MarshalSSZTo(dst)
	dst = append(dst, a.Signature[:]...)
	return append(dst, a.AggregationBits...), nil
}

func (a *Attestation) UnmarshalSSZ(buf []byte) error {
	if len(buf) < attestationFixed {
		return sizeError("attestation", len(buf), attestationFixed)
	}
	if o := readOffset(buf[0:4]); o != attestationFixed {
		return errors.Wrapf(ErrOffset, "attestation bits at %d", o)
	}
	if err := a.Data.UnmarshalSSZ(buf[4 : 4+attestationDataSize]); err != nil {
		return err
	}
	copy(a.Signature[:], buf[4+attestationDataSize:attestationFixed])
	bits := bitfield.Bitlist(append([]byte(nil), buf[attestationFixed:]...))
	if err := checkBitlist(bits, ValidatorRegistryLimit); err != nil {
		return errors.Wrap(err, "aggregation bits")
	}
	a.AggregationBits = bits
	return nil
}

func (a *Attestation) HashTreeRootWith(hh ssz.HashWalker) error {
	if err := checkBitlist(a.AggregationBits, ValidatorRegistryLimit); err != nil {
		return errors.Wrap(err, "aggregation bits")
	}
	indx := hh.Index()
	hh.PutBitlist(a.AggregationBits, ValidatorRegistryLimit)
	if err := a.Data.HashTreeRootWith(hh); err != nil {
		return err
	}
	hh.PutBytes(a.Signature[:])
	hh.Merkleize(indx)
	return nil
}

// HashTreeRoot identifies the attestation in the pool and the chain db.
func (a *Attestation) HashTreeRoot() (Root, error) { return hashRoot(a) }

func checkBitlist(b bitfield.Bitlist, limit uint64) error {
	if len(b) == 0 || b[len(b)-1] == 0 {
		return ErrInvalidBitlist
	}
	if b.Len() > limit {
		return errors.Wrapf(ErrListTooBig, "%d bits > %d", b.Len(), limit)
	}
	return nil
}

// --- SyncAggregate ---

func (s *SyncAggregate) SizeSSZ() int { return syncAggregateSize }

func (s *SyncAggregate) bits() []byte {
	if len(s.ParticipationBits) == 0 {
		return make([]byte, 8)
	}
	return s.ParticipationBits
}

func (s *SyncAggregate) MarshalSSZTo(dst []byte) ([]byte, error) {
	bits := s.bits()
	if len(bits) != 8 {
		return nil, sizeError("sync participation bits", len(bits), 8)
	}
	dst = append(dst, bits...)
	return append(dst, s.Signature[:]...), nil
}

func (s *SyncAggregate) UnmarshalSSZ(buf []byte) error {
	if len(buf) != syncAggregateSize {
		return sizeError("sync aggregate", len(buf), syncAggregateSize)
	}
	s.ParticipationBits = append(bitfield.Bitvector64(nil), buf[0:8]...)
	copy(s.Signature[:], buf[8:104])
	return nil
}

func (s *SyncAggregate) HashTreeRootWith(hh ssz.HashWalker) error {
	bits := s.bits()
	if len(bits) != 8 {
		return sizeError("sync participation bits", len(bits), 8)
	}
	indx := hh.Index()
	hh.PutBytes(bits)
	hh.PutBytes(s.Signature[:])
	hh.Merkleize(indx)
	return nil
}

// --- BlockHeader ---

func (h *BlockHeader) SizeSSZ() int { return blockHeaderSize }

func (h *BlockHeader) MarshalSSZTo(dst []byte) ([]byte, error) {
	dst = appendUint64(dst, uint64(h.Slot))
	dst = appendUint64(dst, uint64(h.ProposerIndex))
	dst = append(dst, h.ParentRoot[:]...)
	dst = append(dst, h.StateRoot[:]...)
	return append(dst, h.BodyRoot[:]...), nil
}

func (h *BlockHeader) UnmarshalSSZ(buf []byte) error {
	if len(buf) != blockHeaderSize {
		return sizeError("block header", len(buf), blockHeaderSize)
	}
	h.Slot = Slot(readUint64(buf[0:8]))
	h.ProposerIndex = ValidatorIndex(readUint64(buf[8:16]))
	copy(h.ParentRoot[:], buf[16:48])
	copy(h.StateRoot[:], buf[48:80])
	copy(h.BodyRoot[:], buf[80:112])
	return nil
}

func (h *BlockHeader) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutUint64(uint64(h.Slot))
	hh.PutUint64(uint64(h.ProposerIndex))
	hh.PutBytes(h.ParentRoot[:])
	hh.PutBytes(h.StateRoot[:])
	hh.PutBytes(h.BodyRoot[:])
	hh.Merkleize(indx)
	return nil
}

// HashTreeRoot equals the signing root of the block the header summarizes.
func (h *BlockHeader) HashTreeRoot() (Root, error) { return hashRoot(h) }

// --- Validator ---

func (v *Validator) MarshalSSZTo(dst []byte) ([]byte, error) {
	dst = append(dst, v.Pubkey[:]...)
	return appendUint64(dst, v.EffectiveBalance), nil
}

func (v *Validator) UnmarshalSSZ(buf []byte) error {
	if len(buf) != validatorSize {
		return sizeError("validator", len(buf), validatorSize)
	}
	copy(v.Pubkey[:], buf[0:48])
	v.EffectiveBalance = readUint64(buf[48:56])
	return nil
}

func (v *Validator) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutBytes(v.Pubkey[:])
	hh.PutUint64(v.EffectiveBalance)
	hh.Merkleize(indx)
	return nil
}

// --- Block bodies ---

func attestationsSize(atts []*Attestation) int {
	n := 4 * len(atts)
	for _, a := range atts {
		n += a.SizeSSZ()
	}
	return n
}

func marshalAttestations(dst []byte, atts []*Attestation) ([]byte, error) {
	if len(atts) > MaxAttestations {
		return nil, errors.Wrapf(ErrListTooBig, "%d attestations", len(atts))
	}
	off := 4 * len(atts)
	for _, a := range atts {
		dst = appendOffset(dst, off)
		off += a.SizeSSZ()
	}
	var err error
	for _, a := range atts {
		if dst, err = a.MarshalSSZTo(dst); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func unmarshalAttestations(buf []byte) ([]*Attestation, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf) < 4 {
		return nil, sizeError("attestation list", len(buf), 4)
	}
	first := readOffset(buf[0:4])
	if first == 0 || first%4 != 0 || first > len(buf) {
		return nil, errors.Wrapf(ErrOffset, "first attestation at %d", first)
	}
	num := first / 4
	if num > MaxAttestations {
		return nil, errors.Wrapf(ErrListTooBig, "%d attestations", num)
	}
	offsets := make([]int, num+1)
	for i := 0; i < num; i++ {
		offsets[i] = readOffset(buf[i*4 : i*4+4])
	}
	offsets[num] = len(buf)
	atts := make([]*Attestation, num)
	for i := 0; i < num; i++ {
		if offsets[i] > offsets[i+1] || offsets[i+1] > len(buf) {
			return nil, errors.Wrapf(ErrOffset, "attestation %d", i)
		}
		a := new(Attestation)
		if err := a.UnmarshalSSZ(buf[offsets[i]:offsets[i+1]]); err != nil {
			return nil, errors.Wrapf(err, "attestation %d", i)
		}
		atts[i] = a
	}
	return atts, nil
}

func hashAttestations(hh ssz.HashWalker, atts []*Attestation) error {
	if len(atts) > MaxAttestations {
		return errors.Wrapf(ErrListTooBig, "%d attestations", len(atts))
	}
	indx := hh.Index()
	for _, a := range atts {
		if err := a.HashTreeRootWith(hh); err != nil {
			return err
		}
	}
	hh.MerkleizeWithMixin(indx, uint64(len(atts)), MaxAttestations)
	return nil
}

func (b *Phase0BlockBody) SizeSSZ() int { return phase0BodyFixed + attestationsSize(b.Attestations) }

func (b *Phase0BlockBody) MarshalSSZTo(dst []byte) ([]byte, error) {
	dst = append(dst, b.RandaoReveal[:]...)
	dst = append(dst, b.Graffiti[:]...)
	dst = appendOffset(dst, phase0BodyFixed)
	return marshalAttestations(dst, b.Attestations)
}

func (b *Phase0BlockBody) UnmarshalSSZ(buf []byte) error {
	if len(buf) < phase0BodyFixed {
		return sizeError("phase0 body", len(buf), phase0BodyFixed)
	}
	copy(b.RandaoReveal[:], buf[0:96])
	copy(b.Graffiti[:], buf[96:128])
	if o := readOffset(buf[128:132]); o != phase0BodyFixed {
		return errors.Wrapf(ErrOffset, "phase0 body attestations at %d", o)
	}
	atts, err := unmarshalAttestations(buf[phase0BodyFixed:])
	if err != nil {
		return err
	}
	b.Attestations = atts
	return nil
}

func (b *Phase0BlockBody) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutBytes(b.RandaoReveal[:])
	hh.PutBytes(b.Graffiti[:])
	if err := hashAttestations(hh, b.Attestations); err != nil {
		return err
	}
	hh.Merkleize(indx)
	return nil
}

func (b *AltairBlockBody) SizeSSZ() int { return altairBodyFixed + attestationsSize(b.Attestations) }

func (b *AltairBlockBody) MarshalSSZTo(dst []byte) ([]byte, error) {
	dst = append(dst, b.RandaoReveal[:]...)
	dst = append(dst, b.Graffiti[:]...)
	dst = appendOffset(dst, altairBodyFixed)
	dst, err := b.SyncAggregate.MarshalSSZTo(dst)
	if err != nil {
		return nil, err
	}
	return marshalAttestations(dst, b.Attestations)
}

func (b *AltairBlockBody) UnmarshalSSZ(buf []byte) error {
	if len(buf) < altairBodyFixed {
		return sizeError("altair body", len(buf), altairBodyFixed)
	}
	copy(b.RandaoReveal[:], buf[0:96])
	copy(b.Graffiti[:], buf[96:128])
	if o := readOffset(buf[128:132]); o != altairBodyFixed {
		return errors.Wrapf(ErrOffset, "altair body attestations at %d", o)
	}
	if err := b.SyncAggregate.UnmarshalSSZ(buf[132:altairBodyFixed]); err != nil {
		return err
	}
	atts, err := unmarshalAttestations(buf[altairBodyFixed:])
	if err != nil {
		return err
	}
	b.Attestations = atts
	return nil
}

func (b *AltairBlockBody) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutBytes(b.RandaoReveal[:])
	hh.PutBytes(b.Graffiti[:])
	if err := hashAttestations(hh, b.Attestations); err != nil {
		return err
	}
	if err := b.SyncAggregate.HashTreeRootWith(hh); err != nil {
		return err
	}
	hh.Merkleize(indx)
	return nil
}

// --- Blocks ---
// The encoding carries the signature after the body offset; the hash tree
// root covers the message fields only.

type blockBody interface {
	SizeSSZ() int
	MarshalSSZTo(dst []byte) ([]byte, error)
	UnmarshalSSZ(buf []byte) error
	HashTreeRootWith(hh ssz.HashWalker) error
}

func marshalBlock(dst []byte, slot Slot, proposer ValidatorIndex, parent, state Root, body blockBody, sig BLSSignature) ([]byte, error) {
	dst = appendUint64(dst, uint64(slot))
	dst = appendUint64(dst, uint64(proposer))
	dst = append(dst, parent[:]...)
	dst = append(dst, state[:]...)
	dst = appendOffset(dst, blockFixed)
	dst = append(dst, sig[:]...)
	return body.MarshalSSZTo(dst)
}

func unmarshalBlock(buf []byte, slot *Slot, proposer *ValidatorIndex, parent, state *Root, body blockBody, sig *BLSSignature) error {
	if len(buf) < blockFixed {
		return sizeError("block", len(buf), blockFixed)
	}
	*slot = Slot(readUint64(buf[0:8]))
	*proposer = ValidatorIndex(readUint64(buf[8:16]))
	copy(parent[:], buf[16:48])
	copy(state[:], buf[48:80])
	if o := readOffset(buf[80:84]); o != blockFixed {
		return errors.Wrapf(ErrOffset, "block body at %d", o)
	}
	copy(sig[:], buf[84:blockFixed])
	return body.UnmarshalSSZ(buf[blockFixed:])
}

func hashBlock(hh ssz.HashWalker, slot Slot, proposer ValidatorIndex, parent, state Root, body blockBody) error {
	indx := hh.Index()
	hh.PutUint64(uint64(slot))
	hh.PutUint64(uint64(proposer))
	hh.PutBytes(parent[:])
	hh.PutBytes(state[:])
	if err := body.HashTreeRootWith(hh); err != nil {
		return err
	}
	hh.Merkleize(indx)
	return nil
}

func (b *Phase0Block) SizeSSZ() int { return blockFixed + b.Body.SizeSSZ() }

func (b *Phase0Block) MarshalSSZ() ([]byte, error) {
	return b.MarshalSSZTo(make([]byte, 0, b.SizeSSZ()))
}

func (b *Phase0Block) MarshalSSZTo(dst []byte) ([]byte, error) {
	return marshalBlock(dst, b.Slot, b.ProposerIndex, b.ParentRoot, b.StateRoot, &b.Body, b.Signature)
}

func (b *Phase0Block) UnmarshalSSZ(buf []byte) error {
	return unmarshalBlock(buf, &b.Slot, &b.ProposerIndex, &b.ParentRoot, &b.StateRoot, &b.Body, &b.Signature)
}

func (b *Phase0Block) HashTreeRootWith(hh ssz.HashWalker) error {
	return hashBlock(hh, b.Slot, b.ProposerIndex, b.ParentRoot, b.StateRoot, &b.Body)
}

func (b *AltairBlock) SizeSSZ() int { return blockFixed + b.Body.SizeSSZ() }

func (b *AltairBlock) MarshalSSZ() ([]byte, error) {
	return b.MarshalSSZTo(make([]byte, 0, b.SizeSSZ()))
}

func (b *AltairBlock) MarshalSSZTo(dst []byte) ([]byte, error) {
	return marshalBlock(dst, b.Slot, b.ProposerIndex, b.ParentRoot, b.StateRoot, &b.Body, b.Signature)
}

func (b *AltairBlock) UnmarshalSSZ(buf []byte) error {
	return unmarshalBlock(buf, &b.Slot, &b.ProposerIndex, &b.ParentRoot, &b.StateRoot, &b.Body, &b.Signature)
}

func (b *AltairBlock) HashTreeRootWith(hh ssz.HashWalker) error {
	return hashBlock(hh, b.Slot, b.ProposerIndex, b.ParentRoot, b.StateRoot, &b.Body)
}

// --- BeaconState ---

func (s *BeaconState) SizeSSZ() int {
	return stateFixed + validatorSize*len(s.Validators) + 32*len(s.HistoricalBlockRoots) + len(s.JustifiedSlots)
}

func (s *BeaconState) MarshalSSZ() ([]byte, error) {
	return s.MarshalSSZTo(make([]byte, 0, s.SizeSSZ()))
}

func (s *BeaconState) MarshalSSZTo(dst []byte) ([]byte, error) {
	if len(s.Validators) > ValidatorRegistryLimit {
		return nil, errors.Wrapf(ErrListTooBig, "%d validators", len(s.Validators))
	}
	if len(s.HistoricalBlockRoots) > HistoricalRootsLimit {
		return nil, errors.Wrapf(ErrListTooBig, "%d historical roots", len(s.HistoricalBlockRoots))
	}
	if err := checkBitlist(s.JustifiedSlots, HistoricalRootsLimit); err != nil {
		return nil, errors.Wrap(err, "justified slots")
	}
	dst = appendUint64(dst, s.GenesisTime)
	dst = appendUint64(dst, uint64(s.Slot))
	dst = append(dst, s.ForkVersion[:]...)
	dst, _ = s.LatestBlockHeader.MarshalSSZTo(dst)

	off := stateFixed
	dst = appendOffset(dst, off)
	off += validatorSize * len(s.Validators)

	dst, _ = s.LatestJustified.MarshalSSZTo(dst)
	dst, _ = s.LatestFinalized.MarshalSSZTo(dst)

	dst = appendOffset(dst, off)
	off += 32 * len(s.HistoricalBlockRoots)
	dst = appendOffset(dst, off)

	for _, v := range s.Validators {
		dst, _ = v.MarshalSSZTo(dst)
	}
	for _, r := range s.HistoricalBlockRoots {
		dst = append(dst, r[:]...)
	}
	return append(dst, s.JustifiedSlots...), nil
}

func (s *BeaconState) UnmarshalSSZ(buf []byte) error {
	if len(buf) < stateFixed {
		return sizeError("state", len(buf), stateFixed)
	}
	s.GenesisTime = readUint64(buf[0:8])
	s.Slot = Slot(readUint64(buf[8:16]))
	copy(s.ForkVersion[:], buf[16:20])
	if err := s.LatestBlockHeader.UnmarshalSSZ(buf[20:132]); err != nil {
		return err
	}
	o0 := readOffset(buf[132:136])
	if err := s.LatestJustified.UnmarshalSSZ(buf[136:176]); err != nil {
		return err
	}
	if err := s.LatestFinalized.UnmarshalSSZ(buf[176:216]); err != nil {
		return err
	}
	o1 := readOffset(buf[216:220])
	o2 := readOffset(buf[220:224])
	if o0 != stateFixed || o1 < o0 || o2 < o1 || o2 > len(buf) {
		return errors.Wrapf(ErrOffset, "state offsets %d,%d,%d", o0, o1, o2)
	}

	vals := buf[o0:o1]
	if len(vals)%validatorSize != 0 {
		return sizeError("validators", len(vals), len(vals)/validatorSize*validatorSize)
	}
	n := len(vals) / validatorSize
	if n > ValidatorRegistryLimit {
		return errors.Wrapf(ErrListTooBig, "%d validators", n)
	}
	s.Validators = make([]*Validator, n)
	for i := range s.Validators {
		v := new(Validator)
		if err := v.UnmarshalSSZ(vals[i*validatorSize : (i+1)*validatorSize]); err != nil {
			return err
		}
		s.Validators[i] = v
	}

	roots := buf[o1:o2]
	if len(roots)%32 != 0 {
		return sizeError("historical roots", len(roots), len(roots)/32*32)
	}
	n = len(roots) / 32
	if n > HistoricalRootsLimit {
		return errors.Wrapf(ErrListTooBig, "%d historical roots", n)
	}
	s.HistoricalBlockRoots = make([]Root, n)
	for i := range s.HistoricalBlockRoots {
		copy(s.HistoricalBlockRoots[i][:], roots[i*32:(i+1)*32])
	}

	bits := bitfield.Bitlist(append([]byte(nil), buf[o2:]...))
	if err := checkBitlist(bits, HistoricalRootsLimit); err != nil {
		return errors.Wrap(err, "justified slots")
	}
	s.JustifiedSlots = bits
	return nil
}

func (s *BeaconState) HashTreeRootWith(hh ssz.HashWalker) error {
	if err := checkBitlist(s.JustifiedSlots, HistoricalRootsLimit); err != nil {
		return errors.Wrap(err, "justified slots")
	}
	indx := hh.Index()
	hh.PutUint64(s.GenesisTime)
	hh.PutUint64(uint64(s.Slot))
	hh.PutBytes(s.ForkVersion[:])
	if err := s.LatestBlockHeader.HashTreeRootWith(hh); err != nil {
		return err
	}

	{
		if len(s.Validators) > ValidatorRegistryLimit {
			return errors.Wrapf(ErrListTooBig, "%d validators", len(s.Validators))
		}
		sub := hh.Index()
		for _, v := range s.Validators {
			if err := v.HashTreeRootWith(hh); err != nil {
				return err
			}
		}
		hh.MerkleizeWithMixin(sub, uint64(len(s.Validators)), ValidatorRegistryLimit)
	}

	if err := s.LatestJustified.HashTreeRootWith(hh); err != nil {
		return err
	}
	if err := s.LatestFinalized.HashTreeRootWith(hh); err != nil {
		return err
	}

	{
		if len(s.HistoricalBlockRoots) > HistoricalRootsLimit {
			return errors.Wrapf(ErrListTooBig, "%d historical roots", len(s.HistoricalBlockRoots))
		}
		sub := hh.Index()
		for _, r := range s.HistoricalBlockRoots {
			hh.Append(r[:])
		}
		hh.MerkleizeWithMixin(sub, uint64(len(s.HistoricalBlockRoots)), HistoricalRootsLimit)
	}

	hh.PutBitlist(s.JustifiedSlots, HistoricalRootsLimit)
	hh.Merkleize(indx)
	return nil
}

// HashTreeRoot is the state root committed to by blocks.
func (s *BeaconState) HashTreeRoot() (Root, error) { return hashRoot(s) }

// --- Signing ---

type signingData struct {
	ObjectRoot Root
	Domain     Domain
}

func (s *signingData) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutBytes(s.ObjectRoot[:])
	hh.PutBytes(s.Domain[:])
	hh.Merkleize(indx)
	return nil
}

// ComputeSigningRoot binds an object root to a signature domain.
func ComputeSigningRoot(objectRoot Root, domain Domain) (Root, error) {
	return hashRoot(&signingData{ObjectRoot: objectRoot, Domain: domain})
}
