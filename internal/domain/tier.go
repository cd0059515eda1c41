package domain

import "sort"

// Tier represents an ordered membership level
type Tier int

const (
	TierExplorer Tier = iota
	TierSeeker
	TierCreator
	TierSovereign
)

// String returns the canonical tier name
func (t Tier) String() string {
	switch t {
	case TierExplorer:
		return "explorer"
	case TierSeeker:
		return "seeker"
	case TierCreator:
		return "creator"
	case TierSovereign:
		return "sovereign"
	default:
		return "unknown"
	}
}

// ParseTier maps a tier name to its Tier value. Unknown names map to the
// lowest tier rather than erroring so that incomplete membership data never
// blocks reward computation.
func ParseTier(name string) Tier {
	switch name {
	case "seeker":
		return TierSeeker
	case "creator":
		return TierCreator
	case "sovereign":
		return TierSovereign
	default:
		return TierExplorer
	}
}

// PeriodBonus defines an additive bonus applied once a staking period reaches
// MinDays
type PeriodBonus struct {
	MinDays int
	Bonus   float64
}

// MultiplierParams holds the tier and staking-period bonus tables. Both tables
// are supplied by configuration so historical payouts remain reproducible.
type MultiplierParams struct {
	TierBonuses   map[Tier]float64
	PeriodBonuses []PeriodBonus
}

// Resolver computes reward multipliers from tier membership and staking period
type Resolver struct {
	params MultiplierParams
}

// NewResolver creates a resolver with the supplied bonus tables. Period
// bonuses are sorted by threshold so resolution is independent of config
// ordering.
func NewResolver(params MultiplierParams) *Resolver {
	sorted := make([]PeriodBonus, len(params.PeriodBonuses))
	copy(sorted, params.PeriodBonuses)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinDays < sorted[j].MinDays })
	params.PeriodBonuses = sorted
	return &Resolver{params: params}
}

// ResolveMultiplier returns 1 + tierBonus + periodBonus. Bonuses compose
// additively, not multiplicatively; historical payouts were computed with the
// additive form and replaying them must produce identical amounts. A tier
// missing from the bonus table falls back to the lowest tier's bonus.
func (r *Resolver) ResolveMultiplier(tier Tier, stakingPeriodDays int) float64 {
	tierBonus, ok := r.params.TierBonuses[tier]
	if !ok {
		tierBonus = r.params.TierBonuses[TierExplorer]
	}

	periodBonus := 0.0
	for _, pb := range r.params.PeriodBonuses {
		if stakingPeriodDays >= pb.MinDays {
			periodBonus = pb.Bonus
		}
	}

	return 1.0 + tierBonus + periodBonus
}
