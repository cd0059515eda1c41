package domain

import "time"

// BreakdownEntry represents the per-capsule detail retained for auditability
// and for the dashboard's yield display
type BreakdownEntry struct {
	CapsuleID     string  `json:"capsule_id"`
	CurrentYield  float64 `json:"current_yield"`
	CurrentReward float64 `json:"current_reward"`
	DailyRate     float64 `json:"daily_rate"`
	APY           float64 `json:"apy"`
	DaysActive    int     `json:"days_active"`
}

// Summary represents an account's aggregated claimable position
type Summary struct {
	AccountID    string           `json:"account_id"`
	Amount       float64          `json:"amount"`
	TotalYield   float64          `json:"total_yield"`
	AverageAPY   float64          `json:"average_apy"`
	CapsuleCount int              `json:"capsule_count"`
	Breakdown    []BreakdownEntry `json:"breakdown"`
	ComputedAt   time.Time        `json:"computed_at"`
}

// Converter turns yield scores into token amounts. The conversion rate and
// base APY are external configuration, never hardcoded here.
type Converter struct {
	conversionRate float64
	baseAPY        float64
}

// NewConverter creates a converter with the configured conversion rate
// (tokens per yield point) and base APY (fraction, e.g. 0.12)
func NewConverter(conversionRate, baseAPY float64) *Converter {
	return &Converter{conversionRate: conversionRate, baseAPY: baseAPY}
}

// ToReward converts a yield score into a token amount:
// tokenAmount = yieldScore * multiplier * conversionRate
func (c *Converter) ToReward(yieldScore, multiplier float64) float64 {
	return yieldScore * multiplier * c.conversionRate
}

// Breakdown builds the audit entry for a single capsule. DaysActive is floored
// at 1 so freshly published capsules report a finite daily rate; the
// APY-equivalent is the base APY scaled by the account's multiplier, expressed
// as a percentage.
func (c *Converter) Breakdown(capsule Capsule, yieldScore, multiplier float64, now time.Time) BreakdownEntry {
	days := int(now.Sub(capsule.CreatedAt).Hours() / 24)
	if days < 1 {
		days = 1
	}

	reward := c.ToReward(yieldScore, multiplier)
	return BreakdownEntry{
		CapsuleID:     capsule.ID,
		CurrentYield:  yieldScore,
		CurrentReward: reward,
		DailyRate:     reward / float64(days),
		APY:           c.baseAPY * multiplier * 100,
		DaysActive:    days,
	}
}

// Aggregate sums breakdown entries into an account summary. Summation is a
// plain left-to-right fold over the entries; callers relying on the
// conservation property (sum of entry rewards equals the total) must compare
// within epsilon 1e-9.
func Aggregate(accountID string, entries []BreakdownEntry, now time.Time) Summary {
	s := Summary{
		AccountID:    accountID,
		CapsuleCount: len(entries),
		Breakdown:    entries,
		ComputedAt:   now,
	}

	for _, e := range entries {
		s.TotalYield += e.CurrentYield
		s.Amount += e.CurrentReward
	}
	if len(entries) > 0 {
		var apySum float64
		for _, e := range entries {
			apySum += e.APY
		}
		s.AverageAPY = apySum / float64(len(entries))
	}

	return s
}
