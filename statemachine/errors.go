package statemachine

import "github.com/pkg/errors"

// ErrInvalidBlock is the root of every block validation failure.
var ErrInvalidBlock = errors.New("invalid block")

var (
	ErrSlotMismatch         = errors.Wrap(ErrInvalidBlock, "slot mismatch")
	ErrParentRootMismatch   = errors.Wrap(ErrInvalidBlock, "parent root mismatch")
	ErrInvalidProposer      = errors.Wrap(ErrInvalidBlock, "invalid proposer")
	ErrInvalidSignature     = errors.Wrap(ErrInvalidBlock, "invalid proposer signature")
	ErrStateRootMismatch    = errors.Wrap(ErrInvalidBlock, "state root mismatch")
	ErrInvalidAttestation   = errors.Wrap(ErrInvalidBlock, "invalid attestation")
	ErrInvalidSyncAggregate = errors.Wrap(ErrInvalidBlock, "invalid sync aggregate")
	ErrBlockKindMismatch    = errors.Wrap(ErrInvalidBlock, "block kind does not match protocol version")
)

var ErrUnknownRules = errors.New("unknown protocol rules")
