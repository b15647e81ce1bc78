package geometry

import "github.com/go-gl/mathgl/mgl64"

// Pose is the commanded platform orientation and translation. T is measured
// from the centre of the base plane to the centre of the platform plane.
type Pose struct {
	Yaw   float64    `json:"yaw"`
	Pitch float64    `json:"pitch"`
	Roll  float64    `json:"roll"`
	T     mgl64.Vec3 `json:"t"`
}

// NewPose returns the neutral pose for g: level, centred, legs at mid stroke.
func NewPose(g *Geometry) Pose {
	return Pose{T: g.Neutral()}
}

// Neutral is the translation of the neutral pose.
func (g *Geometry) Neutral() mgl64.Vec3 {
	return mgl64.Vec3{0, 0, g.midHeight}
}

// Update replaces the orientation and sets the translation to the neutral
// translation offset by displacement. The resulting height is clamped to the
// heave envelope; clamped reports whether that happened.
func (p *Pose) Update(g *Geometry, yaw, pitch, roll float64, displacement mgl64.Vec3) (clamped bool) {
	p.Yaw, p.Pitch, p.Roll = yaw, pitch, roll
	p.T = g.Neutral().Add(displacement)

	switch {
	case p.T[2] < g.minHeight:
		p.T[2] = g.minHeight
		clamped = true
	case p.T[2] > g.maxHeight:
		p.T[2] = g.maxHeight
		clamped = true
	}
	return clamped
}

// Rotation returns the rotation matrix for the pose orientation.
func (p Pose) Rotation() mgl64.Mat3 {
	return RotationMatrix(p.Yaw, p.Pitch, p.Roll)
}
