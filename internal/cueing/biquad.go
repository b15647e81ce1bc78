package cueing

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Coefficients are the normalised taps of a direct-form I biquad:
//
//	y[n] = A1·x[n] + A2·x[n-1] + A3·x[n-2] − B1·y[n-1] − B2·y[n-2]
type Coefficients struct {
	A1 float64 `yaml:"a1" json:"a1"`
	A2 float64 `yaml:"a2" json:"a2"`
	A3 float64 `yaml:"a3" json:"a3"`
	B1 float64 `yaml:"b1" json:"b1"`
	B2 float64 `yaml:"b2" json:"b2"`
}

// PassThrough returns coefficients with unity gain and no memory.
func PassThrough() Coefficients {
	return Coefficients{A1: 1}
}

// ButterworthHighPass designs a second-order high-pass section by bilinear
// transform.
func ButterworthHighPass(cutoffHz, sampleHz float64) (Coefficients, error) {
	cosw, alpha, err := prewarp(cutoffHz, sampleHz)
	if err != nil {
		return Coefficients{}, err
	}
	a0 := 1 + alpha
	return Coefficients{
		A1: (1 + cosw) / 2 / a0,
		A2: -(1 + cosw) / a0,
		A3: (1 + cosw) / 2 / a0,
		B1: -2 * cosw / a0,
		B2: (1 - alpha) / a0,
	}, nil
}

// ButterworthLowPass designs a second-order low-pass section by bilinear
// transform.
func ButterworthLowPass(cutoffHz, sampleHz float64) (Coefficients, error) {
	cosw, alpha, err := prewarp(cutoffHz, sampleHz)
	if err != nil {
		return Coefficients{}, err
	}
	a0 := 1 + alpha
	return Coefficients{
		A1: (1 - cosw) / 2 / a0,
		A2: (1 - cosw) / a0,
		A3: (1 - cosw) / 2 / a0,
		B1: -2 * cosw / a0,
		B2: (1 - alpha) / a0,
	}, nil
}

func prewarp(cutoffHz, sampleHz float64) (cosw, alpha float64, err error) {
	if cutoffHz <= 0 || sampleHz <= 0 || cutoffHz >= sampleHz/2 {
		return 0, 0, fmt.Errorf("cutoff %g Hz must be in (0, %g) for sample rate %g Hz",
			cutoffHz, sampleHz/2, sampleHz)
	}
	w0 := 2 * math.Pi * cutoffHz / sampleHz
	sin, cos := math.Sincos(w0)
	// Q = 1/√2
	return cos, sin / math.Sqrt2, nil
}

// Biquad is a single filter section with its two-sample history.
type Biquad struct {
	Coefficients
	inPrev  [2]float64
	outPrev [2]float64
}

// Step filters one sample.
func (b *Biquad) Step(in float64) float64 {
	out := b.A1*in + b.A2*b.inPrev[0] + b.A3*b.inPrev[1] - b.B1*b.outPrev[0] - b.B2*b.outPrev[1]
	b.inPrev[1], b.inPrev[0] = b.inPrev[0], in
	b.outPrev[1], b.outPrev[0] = b.outPrev[0], out
	return out
}

// Reset clears the history.
func (b *Biquad) Reset() {
	b.inPrev = [2]float64{}
	b.outPrev = [2]float64{}
}

// Stage is a per-sample vector filter that can be placed in the washout
// chain between rotation and integration.
type Stage interface {
	Apply(v mgl64.Vec3) mgl64.Vec3
	Reset()
}

// AxisBiquads filters each axis through its own section.
type AxisBiquads [3]Biquad

// NewAxisBiquads builds one section per axis from c.
func NewAxisBiquads(c [3]Coefficients) *AxisBiquads {
	var a AxisBiquads
	for i := range a {
		a[i].Coefficients = c[i]
	}
	return &a
}

func (a *AxisBiquads) Apply(v mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{a[0].Step(v[0]), a[1].Step(v[1]), a[2].Step(v[2])}
}

func (a *AxisBiquads) Reset() {
	for i := range a {
		a[i].Reset()
	}
}

// Cascade applies stages in order.
type Cascade []Stage

func (c Cascade) Apply(v mgl64.Vec3) mgl64.Vec3 {
	for _, s := range c {
		v = s.Apply(v)
	}
	return v
}

func (c Cascade) Reset() {
	for _, s := range c {
		s.Reset()
	}
}
