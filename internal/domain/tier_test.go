package domain

import (
	"math"
	"testing"
)

func testMultiplierParams() MultiplierParams {
	return MultiplierParams{
		TierBonuses: map[Tier]float64{
			TierExplorer:  0.0,
			TierSeeker:    0.10,
			TierCreator:   0.25,
			TierSovereign: 0.50,
		},
		PeriodBonuses: []PeriodBonus{
			{MinDays: 90, Bonus: 0.10},
			{MinDays: 180, Bonus: 0.25},
			{MinDays: 365, Bonus: 0.50},
		},
	}
}

func TestResolveMultiplier_CreatorAt180Days(t *testing.T) {
	r := NewResolver(testMultiplierParams())

	// +25% tier, +25% period, additive composition
	got := r.ResolveMultiplier(TierCreator, 180)
	if math.Abs(got-1.50) > 1e-12 {
		t.Errorf("expected multiplier 1.50, got %f", got)
	}
}

func TestResolveMultiplier_Floor(t *testing.T) {
	r := NewResolver(testMultiplierParams())

	cases := []struct {
		tier Tier
		days int
	}{
		{TierExplorer, 0},
		{TierExplorer, 89},
		{Tier(99), 0}, // unknown tier defaults to explorer bonus
	}
	for _, c := range cases {
		if got := r.ResolveMultiplier(c.tier, c.days); got != 1.0 {
			t.Errorf("tier=%v days=%d: expected 1.0, got %f", c.tier, c.days, got)
		}
	}
}

func TestResolveMultiplier_MonotonicInTierAndPeriod(t *testing.T) {
	r := NewResolver(testMultiplierParams())

	tiers := []Tier{TierExplorer, TierSeeker, TierCreator, TierSovereign}
	periods := []int{0, 30, 90, 180, 365, 1000}

	for _, days := range periods {
		prev := 0.0
		for _, tier := range tiers {
			m := r.ResolveMultiplier(tier, days)
			if m < 1.0 {
				t.Errorf("tier=%v days=%d: multiplier %f below 1.0", tier, days, m)
			}
			if m < prev {
				t.Errorf("tier=%v days=%d: multiplier %f not monotonic in tier", tier, days, m)
			}
			prev = m
		}
	}

	for _, tier := range tiers {
		prev := 0.0
		for _, days := range periods {
			m := r.ResolveMultiplier(tier, days)
			if m < prev {
				t.Errorf("tier=%v days=%d: multiplier %f not monotonic in period", tier, days, m)
			}
			prev = m
		}
	}
}

func TestResolveMultiplier_UnsortedPeriodTable(t *testing.T) {
	params := testMultiplierParams()
	params.PeriodBonuses = []PeriodBonus{
		{MinDays: 365, Bonus: 0.50},
		{MinDays: 90, Bonus: 0.10},
		{MinDays: 180, Bonus: 0.25},
	}
	r := NewResolver(params)

	if got := r.ResolveMultiplier(TierExplorer, 200); got != 1.25 {
		t.Errorf("expected 1.25 for 200 days, got %f", got)
	}
}

func TestParseTier(t *testing.T) {
	cases := map[string]Tier{
		"explorer":  TierExplorer,
		"seeker":    TierSeeker,
		"creator":   TierCreator,
		"sovereign": TierSovereign,
		"":          TierExplorer,
		"whale":     TierExplorer,
	}
	for name, want := range cases {
		if got := ParseTier(name); got != want {
			t.Errorf("ParseTier(%q) = %v, want %v", name, got, want)
		}
	}
}
