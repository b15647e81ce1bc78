// Package cueing turns flight-model samples into platform motion commands:
// the conditioner normalises forces into body accelerations, and the washout
// filter integrates them into a bounded translational displacement.
package cueing

import (
	"cmp"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/jared-teets/flight-sim/internal/telemetry"
)

const (
	// speedFade maps ground speed to the cue ratio; full scale above 5 m/s.
	speedFade = 0.2
	// massFloor keeps the force-to-acceleration division finite.
	massFloor = 1.0
	// normalDeadband is the half width of the normal-force quantizer.
	normalDeadband = 0.1
)

// Acceleration is a body-frame specific force ordered (side, axial, normal),
// in m/s².
type Acceleration = mgl64.Vec3

// Orientation carries the attitude cues of one sample, in radians. YawDelta
// is the heading change since the previous sample, not the absolute heading.
type Orientation struct {
	Roll     float64 `json:"roll"`
	YawDelta float64 `json:"yaw_delta"`
	Pitch    float64 `json:"pitch"`
}

// Clamp limits x to [lo, hi].
func Clamp[T cmp.Ordered](x, lo, hi T) T {
	return max(lo, min(x, hi))
}

// Fallout quantizes values inside [lo, hi] to the nearer bound, resolving the
// midpoint to hi. Values outside the band pass through unchanged.
func Fallout(x, lo, hi float64) float64 {
	if x < lo || x > hi {
		return x
	}
	if x < (lo+hi)*0.5 {
		return lo
	}
	return hi
}

// Conditioner converts raw snapshots into body accelerations and attitude
// cues. It keeps the previous heading to derive the yaw delta, so a
// Conditioner must be fed samples from a single stream in order.
type Conditioner struct {
	prevYaw float64
	seeded  bool
}

// Seed sets the heading the next yaw delta is measured from.
func (c *Conditioner) Seed(yaw float64) {
	c.prevYaw = yaw
	c.seeded = true
}

// Condition derives (faa, oaa) from s and advances the stored heading. The
// first sample after construction seeds the heading and yields a zero delta.
func (c *Conditioner) Condition(s telemetry.Snapshot) (Acceleration, Orientation) {
	if !c.seeded {
		c.Seed(s.Yaw)
	}

	ratio := Clamp(s.GroundSpeed*speedFade, 0, 1)
	mass := max(s.Mass, massFloor)

	normal := Fallout(s.NormalForce(), -normalDeadband, normalDeadband) / mass
	side := s.SideForce() / mass * ratio
	axial := s.AxialForce() / mass * ratio

	yawDelta := c.prevYaw - s.Yaw
	c.prevYaw = s.Yaw

	return Acceleration{-side, axial, normal}, Orientation{
		Roll:     s.Roll,
		YawDelta: yawDelta,
		Pitch:    s.Pitch,
	}
}
