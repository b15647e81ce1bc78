// Package telemetry supplies flight-model samples to the motion loop: the
// Source contract, an X-Plane Connect client, CSV recording and replay.
package telemetry

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrTimeout is returned by Source.Sample when no sample arrived in time.
var ErrTimeout = errors.New("telemetry sample timed out")

// Snapshot is one atomic sample of the flight model. Forces are in the
// simulator's native units (N), mass in kg, angles in radians.
type Snapshot struct {
	Time time.Time `json:"time"`

	GroundSpeed float64 `json:"groundspeed"`

	NormalProp float64 `json:"f_normal_prop"`
	SideProp   float64 `json:"f_side_prop"`
	AxialProp  float64 `json:"f_axial_prop"`

	NormalAero float64 `json:"f_normal_aero"`
	SideAero   float64 `json:"f_side_aero"`
	AxialAero  float64 `json:"f_axial_aero"`

	NormalGear float64 `json:"f_normal_gear"`
	SideGear   float64 `json:"f_side_gear"`
	AxialGear  float64 `json:"f_axial_gear"`

	Mass float64 `json:"m_total"`

	Pitch float64 `json:"theta"`
	Yaw   float64 `json:"psi"`
	Roll  float64 `json:"phi"`

	Paused bool `json:"paused"`
}

// NormalForce sums the normal-axis forces.
func (s Snapshot) NormalForce() float64 { return s.NormalProp + s.NormalAero + s.NormalGear }

// SideForce sums the side-axis forces.
func (s Snapshot) SideForce() float64 { return s.SideProp + s.SideAero + s.SideGear }

// AxialForce sums the axial-axis forces.
func (s Snapshot) AxialForce() float64 { return s.AxialProp + s.AxialAero + s.AxialGear }

// Finite reports whether every numeric field is finite.
func (s Snapshot) Finite() bool {
	for _, v := range s.values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// values returns the numeric fields in dataref order.
func (s Snapshot) values() []float64 {
	paused := 0.0
	if s.Paused {
		paused = 1
	}
	return []float64{
		s.GroundSpeed,
		s.NormalProp, s.SideProp, s.AxialProp,
		s.NormalAero, s.SideAero, s.AxialAero,
		s.NormalGear, s.SideGear, s.AxialGear,
		s.Mass,
		s.Pitch, s.Yaw, s.Roll,
		paused,
	}
}

// fromValues is the inverse of values.
func fromValues(v []float64) Snapshot {
	return Snapshot{
		GroundSpeed: v[0],
		NormalProp:  v[1],
		SideProp:    v[2],
		AxialProp:   v[3],
		NormalAero:  v[4],
		SideAero:    v[5],
		AxialAero:   v[6],
		NormalGear:  v[7],
		SideGear:    v[8],
		AxialGear:   v[9],
		Mass:        v[10],
		Pitch:       v[11],
		Yaw:         v[12],
		Roll:        v[13],
		Paused:      v[14] != 0,
	}
}

// Source produces telemetry snapshots. Sample blocks until a snapshot is
// available or ctx expires, in which case it returns ErrTimeout.
type Source interface {
	Sample(ctx context.Context) (Snapshot, error)
	Ready(ctx context.Context) error
	Close() error
}
