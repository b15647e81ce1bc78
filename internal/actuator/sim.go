package actuator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.einride.tech/pid"
)

// SimConfig parameterises the simulated actuators.
type SimConfig struct {
	InitialMM  float64
	MinMM      float64
	MaxMM      float64
	MaxSpeedMM float64 // mm/s
	Gains      pid.ControllerConfig
}

// DefaultSimConfig models an Electrak HD on the reference rig.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		InitialMM:  743.43,
		MinMM:      597.06,
		MaxMM:      889.06,
		MaxSpeedMM: 71,
		Gains: pid.ControllerConfig{
			ProportionalGain: 20,
			IntegralGain:     0,
			DerivativeGain:   0,
		},
	}
}

type simActuator struct {
	servo    pid.Controller
	target   float64
	position float64
	speed    float64
	last     time.Time
}

// SimBus is an in-process Bus whose actuators track their targets through a
// speed-limited position servo.
type SimBus struct {
	cfg SimConfig
	now func() time.Time

	mu   sync.Mutex
	acts [Count]simActuator
}

// NewSimBus creates Count actuators at the configured initial length.
// now may be nil to use the wall clock.
func NewSimBus(cfg SimConfig, now func() time.Time) *SimBus {
	if now == nil {
		now = time.Now
	}
	b := &SimBus{cfg: cfg, now: now}
	t := now()
	for i := range b.acts {
		b.acts[i] = simActuator{
			servo:    pid.Controller{Config: cfg.Gains},
			target:   cfg.InitialMM,
			position: cfg.InitialMM,
			last:     t,
		}
	}
	return b
}

// advance integrates actuator i up to t.
func (b *SimBus) advance(i int, t time.Time) {
	a := &b.acts[i]
	dt := t.Sub(a.last)
	if dt <= 0 {
		return
	}
	a.last = t

	a.servo.Update(pid.ControllerInput{
		ReferenceSignal:  a.target,
		ActualSignal:     a.position,
		SamplingInterval: dt,
	})
	v := math.Max(-b.cfg.MaxSpeedMM, math.Min(b.cfg.MaxSpeedMM, a.servo.State.ControlSignal))
	// Do not overshoot within one step.
	step := v * dt.Seconds()
	if rem := a.target - a.position; math.Abs(step) > math.Abs(rem) {
		step = rem
	}
	a.position = math.Max(b.cfg.MinMM, math.Min(b.cfg.MaxMM, a.position+step))
	a.speed = v
}

func checkIndex(index int) error {
	if index < 0 || index >= Count {
		return fmt.Errorf("%w: actuator index %d out of range", ErrBus, index)
	}
	return nil
}

// SendTarget sets the target of actuator index.
func (b *SimBus) SendTarget(_ context.Context, index int, lengthMM float64) error {
	if err := checkIndex(index); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(index, b.now())
	b.acts[index].target = lengthMM
	return nil
}

// ReadFeedback reports the simulated state of actuator index.
func (b *SimBus) ReadFeedback(_ context.Context, index int) (Feedback, error) {
	if err := checkIndex(index); err != nil {
		return Feedback{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.now()
	b.advance(index, t)
	a := b.acts[index]

	var motion uint8
	if math.Abs(a.target-a.position) > 0.05 {
		motion = 0x01
	}
	return Feedback{
		PositionMM:  a.position,
		SpeedPct:    100 * math.Abs(a.speed) / b.cfg.MaxSpeedMM,
		MotionFlags: motion,
		Time:        t,
	}, nil
}

func (b *SimBus) Ready(context.Context) error { return nil }

func (b *SimBus) Close() error { return nil }
