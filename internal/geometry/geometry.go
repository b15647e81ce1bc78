// Package geometry models the six-leg motion platform: attachment point
// layout, reachable heave envelope, the Euler rotation shared with the
// washout chain, and inverse kinematics from a Pose to six leg lengths.
//
// Base and platform points lie in their own z=0 planes. Platform point i is
// driven by the leg anchored at base point (i+5) mod 6, which crosses the
// legs over between neighbouring pairs as on a 6-6 hexapod.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Legs is the number of actuators on the platform.
const Legs = 6

// ErrNonPhysical is returned when construction parameters describe a
// platform that cannot be assembled.
var ErrNonPhysical = errors.New("non-physical platform geometry")

// Config holds the construction parameters of a platform. Lengths are in
// meters, angles in radians.
type Config struct {
	RadiusBase       float64 `yaml:"radius_base" json:"radius_base"`
	RadiusPlatform   float64 `yaml:"radius_platform" json:"radius_platform"`
	MidLength        float64 `yaml:"mid_length" json:"mid_length"`
	MinLength        float64 `yaml:"min_length" json:"min_length"`
	StrokeRange      float64 `yaml:"stroke_range" json:"stroke_range"`
	SepAngle         float64 `yaml:"sep_angle" json:"sep_angle"`
	SepAnglePlatform float64 `yaml:"sep_angle_platform" json:"sep_angle_platform"`
}

// DefaultConfig returns the reference rig: Electrak HD actuators with a
// 292 mm stroke on a 0.79 m base circle.
func DefaultConfig() Config {
	return Config{
		RadiusBase:       0.791,
		RadiusPlatform:   0.7835,
		MidLength:        0.74343,
		MinLength:        0.59706,
		StrokeRange:      0.292,
		SepAngle:         2.094,
		SepAnglePlatform: 1.753,
	}
}

// Geometry is the immutable rigid-body model of a platform.
type Geometry struct {
	cfg Config

	base     [Legs]mgl64.Vec3
	platform [Legs]mgl64.Vec3

	// span is the planar distance between a platform point and its paired
	// base point when the platform is level and centred.
	span float64

	midHeight float64
	minHeight float64
	maxHeight float64
}

// New builds a Geometry from cfg.
func New(cfg Config) (*Geometry, error) {
	if cfg.RadiusBase <= 0 || cfg.RadiusPlatform <= 0 {
		return nil, fmt.Errorf("%w: radii must be positive (base %g, platform %g)",
			ErrNonPhysical, cfg.RadiusBase, cfg.RadiusPlatform)
	}
	if cfg.MinLength <= 0 || cfg.StrokeRange <= 0 {
		return nil, fmt.Errorf("%w: min length %g and stroke %g must be positive",
			ErrNonPhysical, cfg.MinLength, cfg.StrokeRange)
	}
	if cfg.MidLength < cfg.MinLength || cfg.MidLength > cfg.MinLength+cfg.StrokeRange {
		return nil, fmt.Errorf("%w: mid length %g outside stroke [%g, %g]",
			ErrNonPhysical, cfg.MidLength, cfg.MinLength, cfg.MinLength+cfg.StrokeRange)
	}

	g := &Geometry{cfg: cfg}
	for i := 0; i < Legs; i++ {
		angle := 2*math.Pi*float64(i/2)/3 + math.Pi
		angleP := angle
		if i%2 == 1 {
			angle += cfg.SepAngle / 2
			angleP += cfg.SepAnglePlatform / 2
		} else {
			angle -= cfg.SepAngle / 2
			angleP -= cfg.SepAnglePlatform / 2
		}
		angleP -= math.Pi / 3

		g.base[i] = mgl64.Vec3{cfg.RadiusBase * math.Sin(angle), cfg.RadiusBase * math.Cos(angle), 0}
		g.platform[i] = mgl64.Vec3{cfg.RadiusPlatform * math.Sin(angleP), cfg.RadiusPlatform * math.Cos(angleP), 0}
	}

	delta := math.Pi/3 - cfg.SepAngle/2 - cfg.SepAnglePlatform/2
	g.span = planarSpan(cfg.RadiusBase, cfg.RadiusPlatform, delta)

	var err error
	if g.midHeight, err = height(cfg.MidLength, g.span); err != nil {
		return nil, fmt.Errorf("mid height: %w", err)
	}
	if g.maxHeight, err = height(cfg.MinLength+cfg.StrokeRange, g.span); err != nil {
		return nil, fmt.Errorf("max height: %w", err)
	}
	// A fully retracted leg shorter than the span never bottoms out before
	// the platform plane reaches the base plane.
	if cfg.MinLength > g.span {
		g.minHeight, _ = height(cfg.MinLength, g.span)
	}

	return g, nil
}

// planarSpan is the law-of-cosines distance between two points on circles of
// radius rb and rp separated by angle delta.
func planarSpan(rb, rp, delta float64) float64 {
	return math.Sqrt(rb*rb + rp*rp - 2*rb*rp*math.Cos(delta))
}

// height solves the vertical leg component for a leg of the given length
// whose horizontal component is span.
func height(length, span float64) (float64, error) {
	r := length*length - span*span
	if r < 0 || math.IsNaN(r) {
		return 0, fmt.Errorf("%w: leg length %g shorter than planar span %g",
			ErrNonPhysical, length, span)
	}
	return math.Sqrt(r), nil
}

// Config returns the construction parameters.
func (g *Geometry) Config() Config { return g.cfg }

// BasePoint returns base attachment point i.
func (g *Geometry) BasePoint(i int) mgl64.Vec3 { return g.base[i] }

// PlatformPoint returns platform attachment point i in the platform frame.
func (g *Geometry) PlatformPoint(i int) mgl64.Vec3 { return g.platform[i] }

// Anchor returns the base point paired with platform point i.
func (g *Geometry) Anchor(i int) mgl64.Vec3 { return g.base[(i+5)%Legs] }

// Span returns the planar leg span at the level, centred pose.
func (g *Geometry) Span() float64 { return g.span }

// MidHeight is the platform height with every leg at mid stroke.
func (g *Geometry) MidHeight() float64 { return g.midHeight }

// MinHeight is the lowest level platform height reachable by pure heave.
// It is zero when a fully retracted leg is shorter than the planar span.
func (g *Geometry) MinHeight() float64 { return g.minHeight }

// MaxHeight is the platform height with every leg fully extended.
func (g *Geometry) MaxHeight() float64 { return g.maxHeight }

// MinLength is the fully retracted leg length.
func (g *Geometry) MinLength() float64 { return g.cfg.MinLength }

// MaxLength is the fully extended leg length.
func (g *Geometry) MaxLength() float64 { return g.cfg.MinLength + g.cfg.StrokeRange }
