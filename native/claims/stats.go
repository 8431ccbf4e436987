package claims

import (
	"fmt"

	"github.com/holiman/uint256"

	"claimbridge/core/state"
)

// Stats are advisory counters. They are not used for any safety decision.
type Stats struct {
	Claims         uint64           `json:"claims"`
	LegacyClaims   uint64           `json:"legacyClaims"`
	TotalReward    *uint256.Int     `json:"totalReward"`
	TotalPrincipal *uint256.Int     `json:"totalPrincipal"`
	PerTier        map[uint8]uint64 `json:"perTier"`
}

type storedStats struct {
	Claims         uint64
	LegacyClaims   uint64
	TotalReward    string
	TotalPrincipal string
}

func parseAmount(raw string) (*uint256.Int, error) {
	if raw == "" {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("claims: parse amount %q: %w", raw, err)
	}
	return v, nil
}

func loadStats(r state.Reader, schedule *Schedule) (Stats, error) {
	var stored storedStats
	if _, err := r.KVGet(statsKey, &stored); err != nil {
		return Stats{}, err
	}
	reward, err := parseAmount(stored.TotalReward)
	if err != nil {
		return Stats{}, err
	}
	principal, err := parseAmount(stored.TotalPrincipal)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{
		Claims:         stored.Claims,
		LegacyClaims:   stored.LegacyClaims,
		TotalReward:    reward,
		TotalPrincipal: principal,
		PerTier:        make(map[uint8]uint64),
	}
	for i := 0; i < schedule.Len(); i++ {
		var n uint64
		ok, err := r.KVGet(tierCountKey(uint8(i)), &n)
		if err != nil {
			return Stats{}, err
		}
		if ok {
			out.PerTier[uint8(i)] = n
		}
	}
	return out, nil
}

func recordClaim(w state.Writer, tier Tier, reward uint64, legacy bool) error {
	var stored storedStats
	if _, err := w.KVGet(statsKey, &stored); err != nil {
		return err
	}
	totalReward, err := parseAmount(stored.TotalReward)
	if err != nil {
		return err
	}
	totalPrincipal, err := parseAmount(stored.TotalPrincipal)
	if err != nil {
		return err
	}
	totalReward.Add(totalReward, uint256.NewInt(reward))
	totalPrincipal.Add(totalPrincipal, uint256.NewInt(tier.Principal))
	stored.Claims++
	if legacy {
		stored.LegacyClaims++
	}
	stored.TotalReward = totalReward.Dec()
	stored.TotalPrincipal = totalPrincipal.Dec()
	if err := w.KVPut(statsKey, &stored); err != nil {
		return err
	}

	var perTier uint64
	if _, err := w.KVGet(tierCountKey(tier.Index), &perTier); err != nil {
		return err
	}
	return w.KVPut(tierCountKey(tier.Index), perTier+1)
}
