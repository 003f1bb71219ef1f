package enums

import "time"

type Tier string

const (
	TierNone      Tier = "none"
	TierMonthly   Tier = "monthly"
	TierLifetime  Tier = "lifetime"
	TierPromocode Tier = "promocode"
)

// Active is the single membership test for "has a working subscription".
// Monthly access depends on expiresAt; lifetime and promocode never expire.
func (t Tier) Active(now time.Time, expiresAt *time.Time) bool {
	switch t {
	case TierLifetime, TierPromocode:
		return true
	case TierMonthly:
		return expiresAt != nil && !now.After(*expiresAt)
	default:
		return false
	}
}
