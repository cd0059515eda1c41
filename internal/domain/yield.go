package domain

import "time"

// Capsule represents a unit of published content eligible for engagement
// rewards. Counters are mutated by the external engagement tracker; quality
// score is on a 0-100 scale.
type Capsule struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Views         int64     `json:"views"`
	Shares        int64     `json:"shares"`
	Verifications int64     `json:"verifications"`
	Minted        bool      `json:"minted"`
	VeritasSealed bool      `json:"veritas_sealed"`
	QualityScore  float64   `json:"quality_score"`
	Category      string    `json:"category,omitempty"`
}

// YieldParams holds the engagement weighting table and the quality multiplier
// clamp bounds
type YieldParams struct {
	ViewWeight         float64
	ShareWeight        float64
	VerificationWeight float64
	MintedBonus        float64
	SealedBonus        float64
	QualityMidpoint    float64
	QualityMin         float64
	QualityMax         float64
}

// Formula computes raw yield scores for capsules
type Formula struct {
	params YieldParams
}

// NewFormula creates a yield formula with the supplied weighting table
func NewFormula(params YieldParams) *Formula {
	return &Formula{params: params}
}

// ComputeYield returns the raw yield score for a capsule:
// weighted engagement counters plus flag bonuses, scaled by the quality
// multiplier. Negative counters are normalized to zero; engagement data is
// often incomplete and absent counters must not reject the whole computation.
// A capsule with zero engagement and no flags yields exactly 0.
func (f *Formula) ComputeYield(c Capsule) float64 {
	views := nonNegative(c.Views)
	shares := nonNegative(c.Shares)
	verifications := nonNegative(c.Verifications)

	score := float64(views)*f.params.ViewWeight +
		float64(shares)*f.params.ShareWeight +
		float64(verifications)*f.params.VerificationWeight

	if c.Minted {
		score += f.params.MintedBonus
	}
	if c.VeritasSealed {
		score += f.params.SealedBonus
	}

	if score == 0 {
		return 0
	}

	return score * f.qualityMultiplier(c.QualityScore)
}

// qualityMultiplier maps the 0-100 quality score onto a multiplier around the
// configured midpoint, clamped to the configured bounds. A score at the
// midpoint (default 50) is neutral.
func (f *Formula) qualityMultiplier(score float64) float64 {
	mid := f.params.QualityMidpoint
	if mid <= 0 {
		mid = 50
	}

	m := score / mid
	if m < f.params.QualityMin {
		return f.params.QualityMin
	}
	if m > f.params.QualityMax {
		return f.params.QualityMax
	}
	return m
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
