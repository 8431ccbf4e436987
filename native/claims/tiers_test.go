package claims

import (
	"errors"
	"testing"
	"time"

	coreerrors "claimbridge/core/errors"
)

func TestFixedTierRewards(t *testing.T) {
	s := DefaultSchedule()
	want := []struct {
		standard uint64
		legacy   uint64
	}{
		{160_000, 160_000},
		{640_000, 640_000},
		{1_600_000, 1_600_000},
		{6_400_000, 6_400_000},
		{16_000_000, 16_000_000},
		{64_000_000, 640_000_000},
		{160_000_000, 160_000_000},
		{640_000_000, 6_400_000_000},
	}
	if int(s.MaxIndex()) != len(want)-1 {
		t.Fatalf("unexpected max index %d", s.MaxIndex())
	}
	for idx, w := range want {
		got, err := s.LookupReward(uint8(idx), false)
		if err != nil || got != w.standard {
			t.Fatalf("tier %d standard: got %d err %v, want %d", idx, got, err, w.standard)
		}
		got, err = s.LookupReward(uint8(idx), true)
		if err != nil || got != w.legacy {
			t.Fatalf("tier %d legacy: got %d err %v, want %d", idx, got, err, w.legacy)
		}
	}
}

func TestFixedTiersMatchQuotedRates(t *testing.T) {
	s := DefaultSchedule()
	for i := 0; i < s.Len(); i++ {
		tier, _ := s.Tier(uint8(i))
		quoted, err := QuoteReward(tier.Principal, StandardRateBps, tier.Term.Months())
		if err != nil || quoted != tier.StandardReward {
			t.Fatalf("tier %d: quoted %d (%v), constant %d", i, quoted, err, tier.StandardReward)
		}
		if tier.LegacyEligible {
			quoted, _ = QuoteReward(tier.Principal, LegacyRateBps, tier.Term.Months())
			if quoted != tier.LegacyReward {
				t.Fatalf("tier %d legacy: quoted %d, constant %d", i, quoted, tier.LegacyReward)
			}
		}
	}
}

func TestLookupIsDeterministic(t *testing.T) {
	s := DefaultSchedule()
	first, _ := s.LookupReward(3, false)
	for i := 0; i < 100; i++ {
		got, _ := s.LookupReward(3, false)
		if got != first {
			t.Fatalf("lookup drifted: %d != %d", got, first)
		}
	}
}

func TestLookupRejectsUnknownTier(t *testing.T) {
	s := DefaultSchedule()
	_, err := s.LookupReward(8, false)
	if !errors.Is(err, coreerrors.ErrInvalidTier) || !errors.Is(err, coreerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid tier, got %v", err)
	}
}

func TestAppendSequencing(t *testing.T) {
	s := DefaultSchedule()

	if _, err := s.Append(9, Unit, TermShort, 1); !errors.Is(err, coreerrors.ErrSequenceViolation) {
		t.Fatalf("gap should be a sequence violation, got %v", err)
	}
	if _, err := s.Append(7, Unit, TermShort, 1); !errors.Is(err, coreerrors.ErrSequenceViolation) {
		t.Fatalf("overwrite should be a sequence violation, got %v", err)
	}
	if _, err := s.Append(8, Unit, TermShort, 0); !errors.Is(err, coreerrors.ErrInvalidAmount) {
		t.Fatalf("zero amount should be invalid, got %v", err)
	}
	tier, err := s.Append(8, 8000*Unit, TermLong, 6_400_000_000)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if tier.LegacyEligible {
		t.Fatalf("appended tiers are never legacy eligible")
	}
	if s.MaxIndex() != 8 {
		t.Fatalf("max index not advanced: %d", s.MaxIndex())
	}
	got, _ := s.LookupReward(8, true)
	if got != 6_400_000_000 {
		t.Fatalf("legacy lookup on appended tier must yield standard reward, got %d", got)
	}
	if _, err := s.Append(8, Unit, TermShort, 1); !errors.Is(err, coreerrors.ErrSequenceViolation) {
		t.Fatalf("two tiers cannot share index 8, got %v", err)
	}
}

func TestAppendUntilFull(t *testing.T) {
	s := DefaultSchedule()
	for i := s.Len(); i < MaxTiers; i++ {
		if _, err := s.Append(uint8(i), Unit, TermShort, 1); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if _, err := s.Append(MaxTiers, Unit, TermShort, 1); !errors.Is(err, coreerrors.ErrSequenceViolation) {
		t.Fatalf("full schedule should reject, got %v", err)
	}
}

func TestInfo(t *testing.T) {
	s := DefaultSchedule()
	info, err := s.Info(7, true)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Reward != 6_400_000_000 || !info.Legacy || info.Term != "long" || info.TermMonths != 12 {
		t.Fatalf("unexpected info %+v", info)
	}
	info, _ = s.Info(0, true)
	if info.Legacy || info.Reward != 160_000 {
		t.Fatalf("tier 0 is not legacy eligible: %+v", info)
	}
}

func TestLegacyCutoverBoundary(t *testing.T) {
	cutover := NewCutover(DefaultCutover)
	at := DefaultCutover.Unix()

	if !cutover.IsLegacy(at-1, 5) {
		t.Fatalf("one second before cutover must be legacy")
	}
	if cutover.IsLegacy(at, 5) {
		t.Fatalf("exactly at cutover must not be legacy")
	}
	if cutover.IsLegacy(at+1, 7) {
		t.Fatalf("after cutover must not be legacy")
	}
	if cutover.IsLegacy(at-1, 0) || cutover.IsLegacy(at-1, 6) {
		t.Fatalf("non-whitelisted tiers are never legacy")
	}
	if !cutover.Instant().Equal(DefaultCutover) {
		t.Fatalf("instant round trip: %s", cutover.Instant())
	}
	custom := NewCutover(time.Unix(100, 0))
	if !custom.IsLegacy(99, 7) || custom.IsLegacy(100, 7) {
		t.Fatalf("custom cutover boundary wrong")
	}
}

func TestQuoteReward(t *testing.T) {
	// 1 atomic unit at 8% for 3 months: product 2400, divided by 120000 truncates to zero.
	if _, err := QuoteReward(1, 800, 3); !errors.Is(err, coreerrors.ErrInvalidAmount) {
		t.Fatalf("expected truncation to zero to be rejected, got %v", err)
	}
	// Truncates once, after the full product.
	got, err := QuoteReward(15, 800, 12)
	if err != nil || got != 1 {
		t.Fatalf("quote(15, 800, 12) = %d, %v; want 1", got, err)
	}
	if _, err := QuoteReward(0, 800, 3); !errors.Is(err, coreerrors.ErrInvalidAmount) {
		t.Fatalf("zero principal should fail, got %v", err)
	}
	got, err = QuoteFromGovernance(FixedRate(1200), 80*Unit, TermLong)
	if err != nil || got != 96_000_000 {
		t.Fatalf("governance quote = %d, %v", got, err)
	}
	if _, err := QuoteFromGovernance(nil, Unit, TermShort); err == nil {
		t.Fatalf("nil governance should fail")
	}
}

func TestParseTermClass(t *testing.T) {
	if term, err := ParseTermClass("long"); err != nil || term != TermLong {
		t.Fatalf("parse long: %v %v", term, err)
	}
	if _, err := ParseTermClass("medium"); !errors.Is(err, coreerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
