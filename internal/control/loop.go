// Package control runs the fixed-rate motion loop: sample telemetry,
// condition it, wash it out into a pose, solve leg lengths and command the
// actuators.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jared-teets/flight-sim/internal/actuator"
	"github.com/jared-teets/flight-sim/internal/cueing"
	"github.com/jared-teets/flight-sim/internal/geometry"
	"github.com/jared-teets/flight-sim/internal/metrics"
	"github.com/jared-teets/flight-sim/internal/status"
	"github.com/jared-teets/flight-sim/internal/telemetry"
)

var (
	// ErrTelemetryLost is returned after too many consecutive samples failed.
	ErrTelemetryLost = errors.New("telemetry lost")
	// ErrBusEscalation is returned when one actuator keeps rejecting targets.
	ErrBusEscalation = errors.New("actuator bus escalation")
	// ErrNumericFault is returned when a non-finite value reaches the washout
	// or kinematics.
	ErrNumericFault = errors.New("numeric fault")
)

// State is the loop lifecycle state.
type State int32

const (
	StateInit State = iota
	StateRunning
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds loop configuration loaded from environment variables.
type Config struct {
	Period               time.Duration // Tick period (default: 50ms).
	TelemetryTimeout     time.Duration // Budget for one sample (default: 40ms).
	MaxTelemetryTimeouts int           // Consecutive failed samples before giving up (default: 20).
	MaxBusFailures       int           // Consecutive send failures per actuator (default: 5).
	SkipWhenPaused       bool          // Hold while the simulator is paused (default: true).
	FeedbackEvery        int           // Poll actuator feedback every N ticks, 0 disables (default: 20).
	FeedbackTimeout      time.Duration // Budget per actuator feedback read (default: 2ms).
	ScaleOrientation     bool          // Scale and limit attitude cues on the orientation path (default: false).
}

// DefaultConfig returns the 20 Hz loop settings.
func DefaultConfig() Config {
	return Config{
		Period:               50 * time.Millisecond,
		TelemetryTimeout:     40 * time.Millisecond,
		MaxTelemetryTimeouts: 20,
		MaxBusFailures:       5,
		SkipWhenPaused:       true,
		FeedbackEvery:        20,
		FeedbackTimeout:      2 * time.Millisecond,
	}
}

// Recorder receives every raw telemetry sample.
type Recorder interface {
	Record(s telemetry.Snapshot) error
}

// Loop drives the platform. Pose, conditioner and washout are owned by the
// goroutine calling Run.
type Loop struct {
	cfg     Config
	geo     *geometry.Geometry
	washout *cueing.Washout
	source  telemetry.Source
	bus     actuator.Bus
	store   *status.Store
	logger  *slog.Logger

	recorder Recorder

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once

	cond        cueing.Conditioner
	pose        geometry.Pose
	disp        [3]float64
	legs        geometry.LegLengths
	flagged     [geometry.Legs]bool
	heave       bool
	targets     [geometry.Legs]float64
	tick        uint64
	timeouts    int
	busFailures [actuator.Count]int
	feedback    []actuator.Feedback
}

// New performs INIT: it seeds the neutral pose and waits for both
// collaborators to report ready. On failure the collaborators are closed
// and the loop is left in StateShutdown.
func New(ctx context.Context, cfg Config, geo *geometry.Geometry, washout *cueing.Washout,
	source telemetry.Source, bus actuator.Bus, store *status.Store, logger *slog.Logger) (*Loop, error) {
	l := &Loop{
		cfg:     cfg,
		geo:     geo,
		washout: washout,
		source:  source,
		bus:     bus,
		store:   store,
		logger:  logger,
		stop:    make(chan struct{}),
		pose:    geometry.NewPose(geo),
	}
	l.legs = geometry.InverseKinematics(geo, l.pose)
	l.targets = l.legs.ToMillimeters()
	l.setState(StateInit)

	logger.Info("control loop initializing",
		"period_ms", cfg.Period.Milliseconds(),
		"telemetry_timeout_ms", cfg.TelemetryTimeout.Milliseconds(),
		"max_telemetry_timeouts", cfg.MaxTelemetryTimeouts,
		"max_bus_failures", cfg.MaxBusFailures,
		"mid_height_m", geo.MidHeight(),
	)

	if err := source.Ready(ctx); err != nil {
		l.shutdown()
		return nil, fmt.Errorf("telemetry not ready: %w", err)
	}
	if err := bus.Ready(ctx); err != nil {
		l.shutdown()
		return nil, fmt.Errorf("actuator bus not ready: %w", err)
	}
	return l, nil
}

// SetRecorder attaches r; it must be called before Run.
func (l *Loop) SetRecorder(r Recorder) {
	l.recorder = r
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stop asks Run to return after the current tick.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	l.store.SetState(s.String())
	metrics.SetLoopState(int(s))
}

// Run ticks at the configured period until ctx is done, Stop is called or
// a fatal error occurs. External stops return nil. The collaborators are
// closed before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(StateRunning)
	defer l.shutdown()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	l.logger.Info("control loop running")
	next := time.Now()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("control loop stopping", "reason", "context", "tick", l.tick)
			return nil
		case <-l.stop:
			l.logger.Info("control loop stopping", "reason", "stop", "tick", l.tick)
			return nil
		default:
		}

		if err := l.Step(ctx); err != nil {
			l.logger.Error("control loop failed", "tick", l.tick, "error", err)
			return err
		}

		next = next.Add(l.cfg.Period)
		now := time.Now()
		if drift := now.Sub(next); drift > 0 {
			// Start the next tick immediately and re-anchor the schedule.
			metrics.IncTickOverrun()
			l.logger.Warn("tick overrun", "tick", l.tick, "drift_ms", float64(drift.Microseconds())/1000)
			next = now
			continue
		}

		timer.Reset(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("control loop stopping", "reason", "context", "tick", l.tick)
			return nil
		case <-l.stop:
			timer.Stop()
			l.logger.Info("control loop stopping", "reason", "stop", "tick", l.tick)
			return nil
		case <-timer.C:
		}
	}
}

func (l *Loop) shutdown() {
	l.setState(StateShutdown)
	if err := l.source.Close(); err != nil {
		l.logger.Warn("closing telemetry source", "error", err)
	}
	if err := l.bus.Close(); err != nil {
		l.logger.Warn("closing actuator bus", "error", err)
	}
}

// Step runs one tick without waiting for the schedule. Run calls it once per
// period; offline tools may drive it directly instead of calling Run. An
// in-flight tick is not aborted by cancellation of ctx; only the telemetry
// budget bounds it.
func (l *Loop) Step(parent context.Context) error {
	ctx := context.WithoutCancel(parent)
	start := time.Now()
	l.tick++

	hold, err := l.update(ctx)
	if err != nil {
		return err
	}
	if hold != status.HoldNone {
		metrics.IncHeldTick(hold)
	}

	if err := l.send(ctx); err != nil {
		return err
	}
	if l.cfg.FeedbackEvery > 0 && l.tick%uint64(l.cfg.FeedbackEvery) == 0 {
		l.pollFeedback(ctx)
	}

	elapsed := time.Since(start)
	metrics.ObserveTick(elapsed)
	l.publish(start, hold, elapsed)
	return nil
}

// update samples telemetry and, unless the tick is held, advances the pose
// and recomputes the targets. It returns the hold reason.
func (l *Loop) update(ctx context.Context) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, l.cfg.TelemetryTimeout)
	s, err := l.source.Sample(sctx)
	cancel()

	if err != nil {
		l.timeouts++
		hold := status.HoldTelemetry
		if errors.Is(err, telemetry.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			hold = status.HoldTimeout
			metrics.IncTelemetryTimeout()
		}
		if l.timeouts >= l.cfg.MaxTelemetryTimeouts {
			return hold, fmt.Errorf("%w: %d consecutive failed samples: %v", ErrTelemetryLost, l.timeouts, err)
		}
		l.logger.Warn("holding pose",
			"tick", l.tick,
			"reason", hold,
			"consecutive", l.timeouts,
			"targets_mm", l.targets,
			"error", err,
		)
		return hold, nil
	}
	// The heading may have moved while no samples arrived; measure the next
	// yaw delta from this sample instead of the last one before the outage.
	resync := l.timeouts > 0
	l.timeouts = 0

	if l.recorder != nil {
		if err := l.recorder.Record(s); err != nil {
			l.logger.Warn("recording sample failed", "tick", l.tick, "error", err)
		}
	}

	if s.Paused && l.cfg.SkipWhenPaused {
		if !math.IsNaN(s.Yaw) && !math.IsInf(s.Yaw, 0) {
			l.cond.Seed(s.Yaw)
		}
		return status.HoldPaused, nil
	}
	if !s.Finite() {
		return status.HoldNone, fmt.Errorf("%w: tick %d: non-finite telemetry", ErrNumericFault, l.tick)
	}
	if resync {
		l.cond.Seed(s.Yaw)
	}

	faa, oaa := l.cond.Condition(s)
	if l.cfg.ScaleOrientation {
		oaa = l.washout.OrientationCue(oaa)
	}
	disp, err := l.washout.Compute(faa, l.pose)
	if err != nil {
		return status.HoldNone, fmt.Errorf("%w: tick %d: %v", ErrNumericFault, l.tick, err)
	}

	pose := l.pose
	heave := pose.Update(l.geo, oaa.YawDelta, oaa.Pitch, oaa.Roll, disp)
	legs := geometry.InverseKinematics(l.geo, pose)
	for i, v := range legs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return status.HoldNone, fmt.Errorf("%w: tick %d: leg %d = %v", ErrNumericFault, l.tick, i, v)
		}
	}

	clamped, flagged := geometry.ClampLegs(l.geo, legs)
	for i, f := range flagged {
		if !f {
			continue
		}
		metrics.IncLegOverrange(i)
		l.logger.Warn("leg overrange",
			"tick", l.tick,
			"leg", i,
			"value_m", legs[i],
			"clamped_m", clamped[i],
		)
	}
	if heave {
		l.logger.Debug("heave clamped", "tick", l.tick, "z_m", pose.T[2])
	}

	l.pose = pose
	l.disp = disp
	l.legs = clamped
	l.flagged = flagged
	l.heave = heave
	l.targets = clamped.ToMillimeters()
	return status.HoldNone, nil
}

// send emits the current targets. A failed actuator is skipped for this
// tick; MaxBusFailures consecutive failures escalate.
func (l *Loop) send(ctx context.Context) error {
	for i, mm := range l.targets {
		err := l.bus.SendTarget(ctx, i, mm)
		if err == nil {
			l.busFailures[i] = 0
			continue
		}
		l.busFailures[i]++
		metrics.IncBusError(i)
		l.logger.Warn("actuator send failed",
			"tick", l.tick,
			"actuator", i,
			"target_mm", mm,
			"consecutive", l.busFailures[i],
			"error", err,
		)
		if l.busFailures[i] >= l.cfg.MaxBusFailures {
			return fmt.Errorf("%w: actuator %d failed %d consecutive sends: %v", ErrBusEscalation, i, l.busFailures[i], err)
		}
	}
	return nil
}

// pollFeedback reads whatever the actuators last reported. Feedback is
// informational; failures are only logged. An actuator that does not answer
// keeps its previous report, whose Time shows its age; the slice is indexed
// by actuator.
func (l *Loop) pollFeedback(ctx context.Context) {
	fbs := make([]actuator.Feedback, actuator.Count)
	copy(fbs, l.feedback)
	missing := 0
	for i := 0; i < actuator.Count; i++ {
		fctx, cancel := context.WithTimeout(ctx, l.cfg.FeedbackTimeout)
		fb, err := l.bus.ReadFeedback(fctx, i)
		cancel()
		if err != nil {
			missing++
			l.logger.Debug("no actuator feedback", "tick", l.tick, "actuator", i, "error", err)
			continue
		}
		if fb.ErrorFlags != 0 {
			l.logger.Warn("actuator reports error", "tick", l.tick, "actuator", i, "error_flags", fb.ErrorFlags)
		}
		fbs[i] = fb
	}
	l.feedback = fbs
	l.logger.Debug("actuator feedback", "tick", l.tick, "missing", missing, "feedback", fbs)
}

func (l *Loop) publish(start time.Time, hold string, elapsed time.Duration) {
	l.store.Publish(status.Snapshot{
		Tick:         l.tick,
		Time:         start,
		State:        l.State().String(),
		Pose:         l.pose,
		Displacement: l.disp,
		Legs:         l.legs,
		Targets:      l.targets,
		Overrange:    l.flagged,
		HeaveClamped: l.heave,
		Hold:         hold,
		Duration:     elapsed,
		Feedback:     l.feedback,
	})
}
