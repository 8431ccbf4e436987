package claims

import (
	"fmt"

	coreerrors "claimbridge/core/errors"
)

const (
	// AmountDecimals is the fixed-point scale of principal and reward amounts.
	AmountDecimals = 7
	// Unit is one whole token in atomic units.
	Unit uint64 = 10_000_000

	// MaxTiers bounds the schedule; indices run 0..MaxTiers-1.
	MaxTiers = 64
)

// TermClass is the lock duration bucket of a tier.
type TermClass uint8

const (
	TermShort TermClass = iota
	TermLong
)

// Months is the lock duration used when quoting a reward.
func (t TermClass) Months() uint64 {
	if t == TermLong {
		return 12
	}
	return 3
}

func (t TermClass) String() string {
	switch t {
	case TermShort:
		return "short"
	case TermLong:
		return "long"
	default:
		return fmt.Sprintf("term(%d)", uint8(t))
	}
}

func ParseTermClass(raw string) (TermClass, error) {
	switch raw {
	case "short", "Short", "SHORT":
		return TermShort, nil
	case "long", "Long", "LONG":
		return TermLong, nil
	}
	return 0, fmt.Errorf("%w: unknown term class %q", coreerrors.ErrInvalidInput, raw)
}

// Tier is one slot of the reward schedule. Amounts are atomic units.
type Tier struct {
	Index          uint8
	Principal      uint64
	Term           TermClass
	StandardReward uint64
	LegacyReward   uint64
	LegacyEligible bool
}

// Fixed tiers. Rewards are precomputed at 8% APY, legacy rewards at 80% APY;
// they are never recomputed at lookup time.
var fixedTiers = [...]Tier{
	{Index: 0, Principal: 8 * Unit / 10, Term: TermShort, StandardReward: 160_000},
	{Index: 1, Principal: 8 * Unit / 10, Term: TermLong, StandardReward: 640_000},
	{Index: 2, Principal: 8 * Unit, Term: TermShort, StandardReward: 1_600_000},
	{Index: 3, Principal: 8 * Unit, Term: TermLong, StandardReward: 6_400_000},
	{Index: 4, Principal: 80 * Unit, Term: TermShort, StandardReward: 16_000_000},
	{Index: 5, Principal: 80 * Unit, Term: TermLong, StandardReward: 64_000_000, LegacyReward: 640_000_000, LegacyEligible: true},
	{Index: 6, Principal: 800 * Unit, Term: TermShort, StandardReward: 160_000_000},
	{Index: 7, Principal: 800 * Unit, Term: TermLong, StandardReward: 640_000_000, LegacyReward: 6_400_000_000, LegacyEligible: true},
}

// legacyWhitelist is the explicit set of tiers that may pay the legacy rate.
// Tiers appended later are never added here.
var legacyWhitelist = map[uint8]struct{}{5: {}, 7: {}}

// IsLegacyEligible is a static predicate over the whitelist.
func IsLegacyEligible(tier uint8) bool {
	_, ok := legacyWhitelist[tier]
	return ok
}

// Schedule is an append-only array of tiers with a high-water mark. Slots
// beyond count are unused; a tier can only be written at index count.
type Schedule struct {
	tiers [MaxTiers]Tier
	count int
}

// DefaultSchedule returns the schedule holding only the fixed tiers.
func DefaultSchedule() Schedule {
	var s Schedule
	for _, t := range fixedTiers {
		s.tiers[s.count] = t
		s.count++
	}
	return s
}

// MaxIndex is the highest populated index.
func (s *Schedule) MaxIndex() uint8 {
	return uint8(s.count - 1)
}

func (s *Schedule) Len() int { return s.count }

// Tier returns the tier at idx.
func (s *Schedule) Tier(idx uint8) (Tier, error) {
	if int(idx) >= s.count {
		return Tier{}, fmt.Errorf("%w: %d exceeds max index %d", coreerrors.ErrInvalidTier, idx, s.MaxIndex())
	}
	return s.tiers[idx], nil
}

// LookupReward returns the reward for idx. A legacy request against a tier
// outside the whitelist yields the standard reward.
func (s *Schedule) LookupReward(idx uint8, legacy bool) (uint64, error) {
	t, err := s.Tier(idx)
	if err != nil {
		return 0, err
	}
	if legacy && t.LegacyEligible {
		return t.LegacyReward, nil
	}
	return t.StandardReward, nil
}

// Append adds a tier at index. Appended tiers are never legacy eligible.
func (s *Schedule) Append(index uint8, principal uint64, term TermClass, amount uint64) (Tier, error) {
	if s.count >= MaxTiers {
		return Tier{}, fmt.Errorf("%w: schedule full", coreerrors.ErrSequenceViolation)
	}
	if int(index) != s.count {
		return Tier{}, fmt.Errorf("%w: index %d, expected %d", coreerrors.ErrSequenceViolation, index, s.count)
	}
	if amount == 0 {
		return Tier{}, fmt.Errorf("%w: reward must be positive", coreerrors.ErrInvalidAmount)
	}
	if principal == 0 {
		return Tier{}, fmt.Errorf("%w: principal must be positive", coreerrors.ErrInvalidAmount)
	}
	if term != TermShort && term != TermLong {
		return Tier{}, fmt.Errorf("%w: unknown term class %d", coreerrors.ErrInvalidInput, term)
	}
	t := Tier{Index: index, Principal: principal, Term: term, StandardReward: amount}
	s.tiers[s.count] = t
	s.count++
	return t, nil
}

// TierInfo is the read model returned by queries.
type TierInfo struct {
	Index          uint8  `json:"index"`
	Principal      uint64 `json:"principal"`
	Term           string `json:"term"`
	TermMonths     uint64 `json:"termMonths"`
	Reward         uint64 `json:"reward"`
	Legacy         bool   `json:"legacy"`
	LegacyEligible bool   `json:"legacyEligible"`
}

func (s *Schedule) Info(idx uint8, legacy bool) (TierInfo, error) {
	t, err := s.Tier(idx)
	if err != nil {
		return TierInfo{}, err
	}
	reward, _ := s.LookupReward(idx, legacy)
	return TierInfo{
		Index:          t.Index,
		Principal:      t.Principal,
		Term:           t.Term.String(),
		TermMonths:     t.Term.Months(),
		Reward:         reward,
		Legacy:         legacy && t.LegacyEligible,
		LegacyEligible: t.LegacyEligible,
	}, nil
}
