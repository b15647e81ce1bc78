package cueing

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

// TestBiquadStep verifies the difference equation and history shift.
func TestBiquadStep(t *testing.T) {
	b := Biquad{Coefficients: Coefficients{A1: 0.5, A2: 0.25, A3: 0.125, B1: 0.1, B2: 0.05}}

	// y0 = 0.5·1
	// y1 = 0.5·2 + 0.25·1 − 0.1·0.5
	// y2 = 0.5·0 + 0.25·2 + 0.125·1 − 0.1·y1 − 0.05·0.5
	y0 := 0.5
	y1 := 1.0 + 0.25 - 0.05
	y2 := 0.5 + 0.125 - 0.1*y1 - 0.025
	want := []float64{y0, y1, y2}

	for i, in := range []float64{1, 2, 0} {
		if got := b.Step(in); math.Abs(got-want[i]) > 1e-15 {
			t.Errorf("step %d = %v, want %v", i, got, want[i])
		}
	}

	b.Reset()
	if got := b.Step(1); got != 0.5 {
		t.Errorf("after Reset() step = %v, want 0.5", got)
	}
}

// dcGain returns the steady-state gain of a section.
func dcGain(c Coefficients) float64 {
	return (c.A1 + c.A2 + c.A3) / (1 + c.B1 + c.B2)
}

// TestButterworthDesign checks DC and Nyquist behaviour of designed sections.
func TestButterworthDesign(t *testing.T) {
	hp, err := ButterworthHighPass(1, 2000)
	if err != nil {
		t.Fatalf("ButterworthHighPass() error: %v", err)
	}
	if g := dcGain(hp); math.Abs(g) > 1e-12 {
		t.Errorf("high-pass DC gain = %v, want 0", g)
	}
	// Gain at Nyquist: z = -1.
	if g := (hp.A1 - hp.A2 + hp.A3) / (1 - hp.B1 + hp.B2); math.Abs(g-1) > 1e-9 {
		t.Errorf("high-pass Nyquist gain = %v, want 1", g)
	}

	lp, err := ButterworthLowPass(5, 2000)
	if err != nil {
		t.Fatalf("ButterworthLowPass() error: %v", err)
	}
	if g := dcGain(lp); math.Abs(g-1) > 1e-12 {
		t.Errorf("low-pass DC gain = %v, want 1", g)
	}

	for _, fc := range []float64{0, -1, 1000, 1500} {
		if _, err := ButterworthHighPass(fc, 2000); err == nil {
			t.Errorf("ButterworthHighPass(%v, 2000) error = nil, want error", fc)
		}
	}
}

// TestCascade verifies stages run in order on every axis.
func TestCascade(t *testing.T) {
	double := [3]Coefficients{{A1: 2}, {A1: 2}, {A1: 2}}
	delay := [3]Coefficients{{A2: 1}, {A2: 1}, {A2: 1}}
	c := Cascade{NewAxisBiquads(double), NewAxisBiquads(delay)}

	if got := c.Apply(mgl64.Vec3{1, 2, 3}); got != (mgl64.Vec3{}) {
		t.Errorf("first sample = %v, want zero (delayed)", got)
	}
	if got := c.Apply(mgl64.Vec3{0, 0, 0}); got != (mgl64.Vec3{2, 4, 6}) {
		t.Errorf("second sample = %v, want (2,4,6)", got)
	}

	c.Reset()
	if got := c.Apply(mgl64.Vec3{5, 5, 5}); got != (mgl64.Vec3{}) {
		t.Errorf("after Reset() = %v, want zero", got)
	}
}
