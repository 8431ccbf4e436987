package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestSpecialisedErrorsWrapInvalidInput(t *testing.T) {
	for _, err := range []error{ErrInvalidTier, ErrInvalidAmount} {
		if !stderrors.Is(err, ErrInvalidInput) {
			t.Fatalf("%v should match ErrInvalidInput", err)
		}
	}
	if stderrors.Is(ErrInvalidTier, ErrInvalidAmount) {
		t.Fatalf("tier and amount errors must stay distinct")
	}
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{ErrUnauthorized, "unauthorized"},
		{fmt.Errorf("lookup 9: %w", ErrInvalidTier), "invalid_tier"},
		{ErrInvalidAmount, "invalid_amount"},
		{ErrInvalidInput, "invalid_input"},
		{fmt.Errorf("nullifier: %w", ErrAlreadyUsed), "already_used"},
		{ErrInvalidProof, "invalid_proof"},
		{ErrCapacityExceeded, "capacity_exceeded"},
		{ErrSequenceViolation, "sequence_violation"},
		{ErrPaused, "paused"},
		{ErrChannelRejected, "channel_rejected"},
		{stderrors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.want {
			t.Fatalf("Code(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
