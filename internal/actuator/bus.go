// Package actuator drives the six linear actuators: the Bus contract used by
// the control loop, a CANopen driver for Thomson Electrak HD nodes over an
// SLCAN serial adapter, and an in-process simulation.
package actuator

import (
	"context"
	"errors"
	"time"
)

// Count is the number of actuators on the platform.
const Count = 6

// ErrBus wraps every transport or node failure reported by a Bus.
var ErrBus = errors.New("actuator bus error")

// Feedback is the state an actuator last reported.
type Feedback struct {
	PositionMM  float64   `json:"position_mm"`
	CurrentA    float64   `json:"current_a"`
	SpeedPct    float64   `json:"speed_pct"`
	MotionFlags uint8     `json:"motion_flags"`
	ErrorFlags  uint8     `json:"error_flags"`
	Time        time.Time `json:"time"`
}

// Bus accepts leg-length targets in millimetres for actuators 0..Count-1.
type Bus interface {
	SendTarget(ctx context.Context, index int, lengthMM float64) error
	ReadFeedback(ctx context.Context, index int) (Feedback, error)
	Ready(ctx context.Context) error
	Close() error
}
