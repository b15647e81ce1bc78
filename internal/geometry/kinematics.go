package geometry

// LegLengths holds one length per actuator, in meters.
type LegLengths [Legs]float64

// InverseKinematics returns the leg lengths that realise pose. It does not
// clamp; see ClampLegs.
func InverseKinematics(g *Geometry, pose Pose) LegLengths {
	r := pose.Rotation()

	var out LegLengths
	for i := 0; i < Legs; i++ {
		leg := pose.T.Add(BodyToBase(r, g.platform[i])).Sub(g.Anchor(i))
		out[i] = leg.Len()
	}
	return out
}

// ClampLegs limits every length to the actuator stroke. flagged[i] is set
// when leg i was outside the stroke.
func ClampLegs(g *Geometry, lengths LegLengths) (clamped LegLengths, flagged [Legs]bool) {
	lo, hi := g.MinLength(), g.MaxLength()
	for i, l := range lengths {
		switch {
		case l < lo:
			clamped[i], flagged[i] = lo, true
		case l > hi:
			clamped[i], flagged[i] = hi, true
		default:
			clamped[i] = l
		}
	}
	return clamped, flagged
}

// ToMillimeters converts lengths to the actuator bus unit.
func (l LegLengths) ToMillimeters() [Legs]float64 {
	var mm [Legs]float64
	for i, v := range l {
		mm[i] = v * 1000
	}
	return mm
}
