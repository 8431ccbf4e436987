package errors

import (
	stderrors "errors"
	"fmt"
)

// Error taxonomy shared by both domains. Callers match with errors.Is.
var (
	ErrUnauthorized      = stderrors.New("unauthorized")
	ErrInvalidInput      = stderrors.New("invalid input")
	ErrAlreadyUsed       = stderrors.New("already used")
	ErrInvalidProof      = stderrors.New("invalid proof")
	ErrCapacityExceeded  = stderrors.New("capacity exceeded")
	ErrSequenceViolation = stderrors.New("sequence violation")
	ErrPaused            = stderrors.New("paused")
	ErrChannelRejected   = stderrors.New("channel rejected")
)

// Specialisations of ErrInvalidInput.
var (
	ErrInvalidTier   = fmt.Errorf("%w: tier", ErrInvalidInput)
	ErrInvalidAmount = fmt.Errorf("%w: amount", ErrInvalidInput)
)

// Code returns a stable short identifier for err, used in metrics labels and
// audit records. Unknown errors map to "internal".
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case stderrors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case stderrors.Is(err, ErrInvalidTier):
		return "invalid_tier"
	case stderrors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case stderrors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case stderrors.Is(err, ErrAlreadyUsed):
		return "already_used"
	case stderrors.Is(err, ErrInvalidProof):
		return "invalid_proof"
	case stderrors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case stderrors.Is(err, ErrSequenceViolation):
		return "sequence_violation"
	case stderrors.Is(err, ErrPaused):
		return "paused"
	case stderrors.Is(err, ErrChannelRejected):
		return "channel_rejected"
	default:
		return "internal"
	}
}
