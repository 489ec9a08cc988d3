package chain

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/chaindb"
	"github.com/geanlabs/beaconchain/protocol"
	"github.com/geanlabs/beaconchain/statemachine"
	"github.com/geanlabs/beaconchain/types"
)

// Sentinel errors for chain configuration and block import.
// Callers may use errors.Is to check for specific failure types.
var (
	ErrEmptyConfiguration          = errors.New("chain configuration is incomplete")             // nil registry or database
	ErrGenesisBlockVersionMismatch = errors.New("genesis block does not match protocol version") // block kind differs from the genesis version
	ErrMissingParent               = errors.New("parent block not found")                        // block's parent root not persisted
	ErrUnexpectedBlockMutation     = errors.New("block changed during import")                   // caller block differs from the canonical one
	ErrInvalidSlotOverride         = errors.New("slot override not after parent")                // params.Slot <= parent slot
)

// Not-found errors of the chain database.
var (
	ErrBlockNotFound         = chaindb.ErrBlockNotFound
	ErrStateNotFound         = chaindb.ErrStateNotFound
	ErrHeadNotFound          = chaindb.ErrHeadNotFound
	ErrAttestationNotFound   = chaindb.ErrAttestationNotFound
	ErrScoreNotFound         = chaindb.ErrScoreNotFound
	ErrCanonicalRootNotFound = chaindb.ErrCanonicalRootNotFound
)

// MissingParentError reports a block whose parent is not known.
type MissingParentError struct {
	Slot       types.Slot
	BlockRoot  types.Root
	ParentRoot types.Root
}

func (e *MissingParentError) Error() string {
	return fmt.Sprintf("%v: block %s at slot %d, parent %s", ErrMissingParent, e.BlockRoot.Short(), e.Slot, e.ParentRoot.Short())
}

func (e *MissingParentError) Unwrap() error { return ErrMissingParent }

// BlockMutationError reports a block the state machine had to change.
type BlockMutationError struct {
	BlockRoot    types.Root
	ImportedRoot types.Root
	Diff         string // go-cmp diff, (-given +imported)
}

func (e *BlockMutationError) Error() string {
	return fmt.Sprintf("%v: given %s, imported %s\n%s", ErrUnexpectedBlockMutation, e.BlockRoot.Short(), e.ImportedRoot.Short(), e.Diff)
}

func (e *BlockMutationError) Unwrap() error { return ErrUnexpectedBlockMutation }

// IsValidationError reports whether err means the block itself is invalid.
func IsValidationError(err error) bool {
	return errors.Is(err, statemachine.ErrInvalidBlock) ||
		errors.Is(err, ErrUnexpectedBlockMutation) ||
		errors.Is(err, ErrInvalidSlotOverride) ||
		errors.Is(err, protocol.ErrNoVersionForSlot)
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	for _, target := range []error{
		ErrBlockNotFound, ErrStateNotFound, ErrHeadNotFound,
		ErrAttestationNotFound, ErrScoreNotFound, ErrCanonicalRootNotFound,
		ErrMissingParent,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
