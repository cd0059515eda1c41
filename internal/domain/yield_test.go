package domain

import (
	"math"
	"testing"
)

func testYieldParams() YieldParams {
	return YieldParams{
		ViewWeight:         0.5,
		ShareWeight:        1.5,
		VerificationWeight: 3.0,
		MintedBonus:        10.0,
		SealedBonus:        5.0,
		QualityMidpoint:    50,
		QualityMin:         0.1,
		QualityMax:         2.0,
	}
}

func TestComputeYield_ZeroEngagement(t *testing.T) {
	f := NewFormula(testYieldParams())

	if got := f.ComputeYield(Capsule{ID: "c1", QualityScore: 80}); got != 0 {
		t.Errorf("zero-engagement capsule must yield exactly 0, got %f", got)
	}
}

func TestComputeYield_ReferenceCapsule(t *testing.T) {
	f := NewFormula(testYieldParams())

	// 1000*0.5 + 50*1.5 + 10*3.0 + 10 = 615 at neutral quality
	c := Capsule{
		ID:            "c1",
		Views:         1000,
		Shares:        50,
		Verifications: 10,
		Minted:        true,
		QualityScore:  50,
	}
	if got := f.ComputeYield(c); math.Abs(got-615.0) > 1e-9 {
		t.Errorf("expected yield 615, got %f", got)
	}
}

func TestComputeYield_NegativeCountersNormalized(t *testing.T) {
	f := NewFormula(testYieldParams())

	c := Capsule{ID: "c1", Views: -100, Shares: -5, Verifications: 2, QualityScore: 50}
	want := 2 * 3.0
	if got := f.ComputeYield(c); math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %f with negative counters zeroed, got %f", want, got)
	}
}

func TestComputeYield_QualityClamp(t *testing.T) {
	f := NewFormula(testYieldParams())

	base := Capsule{ID: "c1", Views: 100, QualityScore: 50}
	neutral := f.ComputeYield(base)

	low := base
	low.QualityScore = 0
	if got := f.ComputeYield(low); math.Abs(got-neutral*0.1) > 1e-9 {
		t.Errorf("quality 0 should clamp to 0.1x, got %f (neutral %f)", got, neutral)
	}

	high := base
	high.QualityScore = 1000
	if got := f.ComputeYield(high); math.Abs(got-neutral*2.0) > 1e-9 {
		t.Errorf("quality 1000 should clamp to 2.0x, got %f (neutral %f)", got, neutral)
	}
}

func TestComputeYield_SealedBonus(t *testing.T) {
	f := NewFormula(testYieldParams())

	c := Capsule{ID: "c1", VeritasSealed: true, QualityScore: 50}
	if got := f.ComputeYield(c); math.Abs(got-5.0) > 1e-9 {
		t.Errorf("expected sealed bonus 5.0, got %f", got)
	}
}

func TestComputeYield_NeverNegative(t *testing.T) {
	f := NewFormula(testYieldParams())

	cases := []Capsule{
		{},
		{Views: -1, Shares: -1, Verifications: -1},
		{Views: 1, QualityScore: -50},
	}
	for i, c := range cases {
		if got := f.ComputeYield(c); got < 0 {
			t.Errorf("case %d: negative yield %f", i, got)
		}
	}
}
