package claims

import (
	"fmt"

	"github.com/holiman/uint256"

	coreerrors "claimbridge/core/errors"
)

const (
	StandardRateBps uint64 = 800
	LegacyRateBps   uint64 = 8000
	bpsDenominator  uint64 = 10_000
	monthsPerYear   uint64 = 12
)

// GovernanceRate exposes the externally tuned annual rate.
type GovernanceRate interface {
	CurrentRateBps() uint64
}

// FixedRate is a GovernanceRate that never changes.
type FixedRate uint64

func (f FixedRate) CurrentRateBps() uint64 { return uint64(f) }

// QuoteReward derives a reward for a new tier. All factors are multiplied
// first and the product is divided once, truncating toward zero. Lookups of
// existing tiers never call this; the quoted amount is frozen into the
// schedule when the tier is appended.
func QuoteReward(principal, rateBps, termMonths uint64) (uint64, error) {
	if principal == 0 || rateBps == 0 || termMonths == 0 {
		return 0, fmt.Errorf("%w: principal, rate and term must be positive", coreerrors.ErrInvalidAmount)
	}
	num := new(uint256.Int).Mul(uint256.NewInt(principal), uint256.NewInt(rateBps))
	num.Mul(num, uint256.NewInt(termMonths))
	num.Div(num, uint256.NewInt(bpsDenominator*monthsPerYear))
	if !num.IsUint64() {
		return 0, fmt.Errorf("%w: quoted reward overflows", coreerrors.ErrInvalidAmount)
	}
	reward := num.Uint64()
	if reward == 0 {
		return 0, fmt.Errorf("%w: quoted reward truncates to zero", coreerrors.ErrInvalidAmount)
	}
	return reward, nil
}

// QuoteFromGovernance quotes a reward at the governance module's current rate.
func QuoteFromGovernance(g GovernanceRate, principal uint64, term TermClass) (uint64, error) {
	if g == nil {
		return 0, fmt.Errorf("%w: governance rate unavailable", coreerrors.ErrInvalidInput)
	}
	return QuoteReward(principal, g.CurrentRateBps(), term.Months())
}
