package claims

import "time"

// DefaultCutover is the instant after which legacy-eligible tiers fall back
// to the standard reward.
var DefaultCutover = time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)

// Cutover decides whether a claim earns the legacy reward.
type Cutover struct {
	instant int64
}

func NewCutover(instant time.Time) Cutover {
	return Cutover{instant: instant.Unix()}
}

func (c Cutover) Instant() time.Time { return time.Unix(c.instant, 0).UTC() }

// IsLegacy is true iff tier is whitelisted and the event happened strictly
// before the cutover instant.
func (c Cutover) IsLegacy(eventTime int64, tier uint8) bool {
	return IsLegacyEligible(tier) && eventTime < c.instant
}
