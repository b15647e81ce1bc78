package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// RotationMatrix builds the yaw-pitch-roll matrix whose rows are the
// platform x, y and z axes expressed in the base frame.
func RotationMatrix(yaw, pitch, roll float64) mgl64.Mat3 {
	sy, cy := math.Sincos(yaw)
	sp, cp := math.Sincos(pitch)
	sr, cr := math.Sincos(roll)

	return mgl64.Mat3FromRows(
		mgl64.Vec3{cy * cp, sy * cp, -sp},
		mgl64.Vec3{-sy*cr + cy*sp*sr, cy*cr + sy*sp*sr, cp * sr},
		mgl64.Vec3{sy*sr + cy*sp*cr, -cy*sr + sy*sp*cr, cp * cr},
	)
}

// BodyToBase expresses a body-frame vector in the base frame using the rows
// of r as the body axes.
func BodyToBase(r mgl64.Mat3, v mgl64.Vec3) mgl64.Vec3 {
	return r.Transpose().Mul3x1(v)
}
