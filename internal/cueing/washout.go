package cueing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/jared-teets/flight-sim/internal/geometry"
)

// ErrNonFinite is returned when the washout chain produces NaN or Inf.
var ErrNonFinite = errors.New("non-finite washout output")

// Path selects a scale/limit parameter set.
type Path int

const (
	PathHighPass Path = iota
	PathLowPass
	PathOrientation
)

func (p Path) String() string {
	switch p {
	case PathHighPass:
		return "high_pass"
	case PathLowPass:
		return "low_pass"
	case PathOrientation:
		return "orientation"
	}
	return fmt.Sprintf("Path(%d)", int(p))
}

// ScaleLimit holds per-axis limits applied before per-axis scales.
type ScaleLimit struct {
	Scale [3]float64 `yaml:"scale" json:"scale"`
	Limit [3]float64 `yaml:"limit" json:"limit"`
}

func uniform(scale, limit float64) ScaleLimit {
	return ScaleLimit{
		Scale: [3]float64{scale, scale, scale},
		Limit: [3]float64{limit, limit, limit},
	}
}

// FilterConfig configures the optional drift-correcting stage inserted
// between rotation and integration. When CutoffHz is positive both sections
// are designed as Butterworth high-pass filters at that cutoff; otherwise the
// explicit coefficients are used.
//
// A low-pass section follows the high-pass pair when LowPassCutoffHz is
// positive or LowPass holds non-zero coefficients. Its output is scaled and
// limited on the low-pass path.
type FilterConfig struct {
	Enabled  bool            `yaml:"enabled" json:"enabled"`
	CutoffHz float64         `yaml:"cutoff_hz" json:"cutoff_hz"`
	Stage1   [3]Coefficients `yaml:"stage1" json:"stage1"`
	Stage2   [3]Coefficients `yaml:"stage2" json:"stage2"`

	LowPassCutoffHz float64         `yaml:"low_pass_cutoff_hz" json:"low_pass_cutoff_hz"`
	LowPass         [3]Coefficients `yaml:"low_pass" json:"low_pass"`
}

// WashoutConfig parameterises the washout chain.
type WashoutConfig struct {
	HighPass    ScaleLimit `yaml:"high_pass" json:"high_pass"`
	LowPass     ScaleLimit `yaml:"low_pass" json:"low_pass"`
	Orientation ScaleLimit `yaml:"orientation" json:"orientation"`

	// SubSteps is the number of integration steps per tick.
	SubSteps int `yaml:"sub_steps" json:"sub_steps"`

	// Gravity is projected onto the body frame each sub-step.
	// GravityReference is removed from the normal axis afterwards so that a
	// level platform at rest integrates to zero. Set it to 0 to integrate the
	// full projected gravity.
	Gravity          float64 `yaml:"gravity" json:"gravity"`
	GravityReference float64 `yaml:"gravity_reference" json:"gravity_reference"`

	Filter FilterConfig `yaml:"filter" json:"filter"`
}

// DefaultWashoutConfig returns the tuning used on the reference rig. The
// drift-correcting stage is disabled.
func DefaultWashoutConfig() WashoutConfig {
	return WashoutConfig{
		HighPass:         uniform(0.8, 5.0),
		LowPass:          uniform(0.8, 10.0),
		Orientation:      uniform(0.8, 100.0),
		SubSteps:         100,
		Gravity:          9.8,
		GravityReference: 9.8,
	}
}

// Validate checks the configuration for values the chain cannot use.
func (c WashoutConfig) Validate() error {
	if c.SubSteps < 1 {
		return fmt.Errorf("sub steps must be positive, got %d", c.SubSteps)
	}
	for _, sl := range []ScaleLimit{c.HighPass, c.LowPass, c.Orientation} {
		for i := 0; i < 3; i++ {
			if sl.Limit[i] < 0 {
				return fmt.Errorf("limit must be non-negative, got %g", sl.Limit[i])
			}
		}
	}
	return nil
}

// Washout converts conditioned accelerations into a translational
// displacement from the neutral pose. It is not safe for concurrent use; one
// control loop owns it.
type Washout struct {
	cfg   WashoutConfig
	stage Stage

	faaSum  mgl64.Vec3
	faaSum2 mgl64.Vec3
}

// NewWashout builds the chain. tick is the control period, used to derive the
// sub-step sample rate when the filter is designed from a cutoff.
func NewWashout(cfg WashoutConfig, tick time.Duration) (*Washout, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("washout config: %w", err)
	}
	w := &Washout{cfg: cfg}

	if !cfg.Filter.Enabled {
		return w, nil
	}

	s1, s2 := cfg.Filter.Stage1, cfg.Filter.Stage2
	if cfg.Filter.CutoffHz > 0 {
		sampleHz := float64(cfg.SubSteps) / tick.Seconds()
		c, err := ButterworthHighPass(cfg.Filter.CutoffHz, sampleHz)
		if err != nil {
			return nil, fmt.Errorf("washout filter: %w", err)
		}
		s1 = [3]Coefficients{c, c, c}
		s2 = s1
	}
	stages := Cascade{NewAxisBiquads(s1), NewAxisBiquads(s2)}

	lp := cfg.Filter.LowPass
	if cfg.Filter.LowPassCutoffHz > 0 {
		sampleHz := float64(cfg.SubSteps) / tick.Seconds()
		c, err := ButterworthLowPass(cfg.Filter.LowPassCutoffHz, sampleHz)
		if err != nil {
			return nil, fmt.Errorf("washout low-pass filter: %w", err)
		}
		lp = [3]Coefficients{c, c, c}
	}
	if lp != ([3]Coefficients{}) {
		stages = append(stages, limitedStage{Stage: NewAxisBiquads(lp), sl: cfg.LowPass})
	}
	w.stage = stages
	return w, nil
}

// limitedStage clamps and scales the output of a filter stage.
type limitedStage struct {
	Stage
	sl ScaleLimit
}

func (s limitedStage) Apply(v mgl64.Vec3) mgl64.Vec3 {
	return s.sl.apply(s.Stage.Apply(v))
}

// SetStage replaces the stage run between rotation and integration. A nil
// stage removes it.
func (w *Washout) SetStage(s Stage) {
	w.stage = s
}

// Config returns the configuration the chain was built with.
func (w *Washout) Config() WashoutConfig { return w.cfg }

// ScaleAndLimit clamps each axis of v to the path limit, then scales it.
func (w *Washout) ScaleAndLimit(v mgl64.Vec3, p Path) mgl64.Vec3 {
	switch p {
	case PathLowPass:
		return w.cfg.LowPass.apply(v)
	case PathOrientation:
		return w.cfg.Orientation.apply(v)
	}
	return w.cfg.HighPass.apply(v)
}

func (sl ScaleLimit) apply(v mgl64.Vec3) mgl64.Vec3 {
	var out mgl64.Vec3
	for i := 0; i < 3; i++ {
		out[i] = Clamp(v[i], -sl.Limit[i], sl.Limit[i]) * sl.Scale[i]
	}
	return out
}

// OrientationCue scales and limits the attitude cues on the orientation path.
func (w *Washout) OrientationCue(o Orientation) Orientation {
	v := w.ScaleAndLimit(mgl64.Vec3{o.Roll, o.YawDelta, o.Pitch}, PathOrientation)
	return Orientation{Roll: v[0], YawDelta: v[1], Pitch: v[2]}
}

// SubGravity compensates a body acceleration for gravity at the given pitch
// and roll.
func (w *Washout) SubGravity(a mgl64.Vec3, pitch, roll float64) mgl64.Vec3 {
	g := w.cfg.Gravity
	sp, cp := math.Sincos(pitch)
	sr, cr := math.Sincos(roll)
	return mgl64.Vec3{
		a[0] - g*sp,
		a[1] + g*cp*sr,
		a[2] + g*cp*cr - w.cfg.GravityReference,
	}
}

// Compute runs one tick of the chain against the current pose and returns
// the displacement to apply from neutral. The accumulators are reset first;
// only the optional stage carries history between ticks.
func (w *Washout) Compute(faa Acceleration, pose geometry.Pose) (mgl64.Vec3, error) {
	w.faaSum = mgl64.Vec3{}
	w.faaSum2 = mgl64.Vec3{}

	// Input and pose are held for the whole tick.
	a := w.ScaleAndLimit(faa, PathHighPass)
	a = w.SubGravity(a, pose.Pitch, pose.Roll)
	a = geometry.BodyToBase(pose.Rotation(), a)

	dt := 1 / float64(w.cfg.SubSteps)
	for n := 0; n < w.cfg.SubSteps; n++ {
		s := a
		if w.stage != nil {
			s = w.stage.Apply(s)
		}
		w.faaSum = w.faaSum.Add(s.Mul(dt))
		w.faaSum2 = w.faaSum2.Add(w.faaSum.Mul(dt))
	}

	for i, v := range w.faaSum2 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return mgl64.Vec3{}, fmt.Errorf("%w: axis %d = %v", ErrNonFinite, i, v)
		}
	}
	return w.faaSum2, nil
}

// Reset clears the stage history.
func (w *Washout) Reset() {
	w.faaSum = mgl64.Vec3{}
	w.faaSum2 = mgl64.Vec3{}
	if w.stage != nil {
		w.stage.Reset()
	}
}
