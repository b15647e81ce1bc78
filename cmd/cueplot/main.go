// Command cueplot replays a telemetry recording through the motion pipeline
// against simulated actuators and plots the resulting leg commands.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/jared-teets/flight-sim/internal/actuator"
	"github.com/jared-teets/flight-sim/internal/config"
	"github.com/jared-teets/flight-sim/internal/control"
	"github.com/jared-teets/flight-sim/internal/cueing"
	"github.com/jared-teets/flight-sim/internal/geometry"
	"github.com/jared-teets/flight-sim/internal/status"
	"github.com/jared-teets/flight-sim/internal/telemetry"
)

type series struct {
	t         []float64
	targets   [actuator.Count][]float64
	position  [actuator.Count][]float64
	disp      [3][]float64
	held      int
	overrange int
	maxLag    float64
}

func main() {
	in := flag.String("in", "", "recording to replay (default: newest session in -dir)")
	dir := flag.String("dir", "/tmp/motionbase/recordings", "recording directory")
	platformFile := flag.String("platform", "", "platform file (default: reference rig)")
	out := flag.String("out", "plots", "output directory for PNG files")
	periodMS := flag.Int("period", 50, "tick period in milliseconds")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	if err := run(*in, *dir, *platformFile, *out, time.Duration(*periodMS)*time.Millisecond, logger); err != nil {
		fmt.Fprintln(os.Stderr, "cueplot:", err)
		os.Exit(1)
	}
}

func run(in, dir, platformFile, out string, period time.Duration, logger *slog.Logger) error {
	if period <= 0 {
		return fmt.Errorf("period must be positive")
	}
	if in == "" {
		latest, _, err := telemetry.NewRecorder(dir, 0).Latest()
		if err != nil {
			return err
		}
		in = latest
	}

	platform := config.Default()
	if platformFile != "" {
		var err error
		if platform, err = config.Load(platformFile); err != nil {
			return err
		}
	}

	s, err := replay(in, platform, period, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Replayed %s: %d ticks (%.1f s)\n", filepath.Base(in), len(s.t), float64(len(s.t))*period.Seconds())
	fmt.Printf("Held ticks: %d, overrange legs: %d, worst tracking lag: %.2f mm\n", s.held, s.overrange, s.maxLag)

	if err := plotLegs(s, platform.Geometry, filepath.Join(out, "legs.png")); err != nil {
		return err
	}
	if err := plotDisplacement(s, filepath.Join(out, "displacement.png")); err != nil {
		return err
	}
	fmt.Printf("Wrote %s and %s\n", filepath.Join(out, "legs.png"), filepath.Join(out, "displacement.png"))
	return nil
}

// replay steps the control loop once per recorded sample on a simulated
// clock so the actuators move exactly one period between ticks.
func replay(path string, platform config.Platform, period time.Duration, logger *slog.Logger) (*series, error) {
	geo, err := geometry.New(platform.Geometry)
	if err != nil {
		return nil, err
	}
	washout, err := cueing.NewWashout(platform.Washout, period)
	if err != nil {
		return nil, err
	}
	src, err := telemetry.OpenReplay(path, false)
	if err != nil {
		return nil, err
	}

	clock := time.Unix(0, 0)
	bus := actuator.NewSimBus(platform.SimConfig(), func() time.Time { return clock })

	cfg := control.DefaultConfig()
	cfg.Period = period
	cfg.FeedbackEvery = 1

	store := status.NewStore(1)
	ctx := context.Background()
	loop, err := control.New(ctx, cfg, geo, washout, src, bus, store, logger)
	if err != nil {
		return nil, err
	}

	n := src.Len()
	s := &series{}
	for i := 0; i < n; i++ {
		clock = clock.Add(period)
		if err := loop.Step(ctx); err != nil {
			return nil, fmt.Errorf("tick %d: %w", i+1, err)
		}
		snap := store.Latest()
		s.t = append(s.t, float64(i+1)*period.Seconds())
		for leg := 0; leg < actuator.Count; leg++ {
			s.targets[leg] = append(s.targets[leg], snap.Targets[leg])
			pos := snap.Targets[leg]
			if leg < len(snap.Feedback) {
				pos = snap.Feedback[leg].PositionMM
				// Lag against the target of the previous tick, which is what
				// the actuator was chasing.
				if i > 0 {
					s.maxLag = math.Max(s.maxLag, math.Abs(s.targets[leg][i-1]-pos))
				}
			}
			s.position[leg] = append(s.position[leg], pos)
			if snap.Overrange[leg] {
				s.overrange++
			}
		}
		for axis := 0; axis < 3; axis++ {
			s.disp[axis] = append(s.disp[axis], snap.Displacement[axis]*1000)
		}
		if snap.Hold != status.HoldNone {
			s.held++
		}
	}
	loop.Stop()
	return s, nil
}

func xys(t, v []float64) plotter.XYs {
	pts := make(plotter.XYs, len(t))
	for i := range t {
		pts[i].X = t[i]
		pts[i].Y = v[i]
	}
	return pts
}

func plotLegs(s *series, g geometry.Config, filename string) error {
	p := plot.New()
	p.Title.Text = "Leg length commands"
	p.X.Label.Text = "time [s]"
	p.Y.Label.Text = "leg length [mm]"
	stylePlot(p)

	for leg := 0; leg < actuator.Count; leg++ {
		line, err := plotter.NewLine(xys(s.t, s.targets[leg]))
		if err != nil {
			return err
		}
		line.LineStyle.Width = vg.Points(2.0)
		line.LineStyle.Color = plotutil.Color(leg)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("leg %d", leg), line)

		pos, err := plotter.NewLine(xys(s.t, s.position[leg]))
		if err != nil {
			return err
		}
		pos.LineStyle.Width = vg.Points(1.0)
		pos.LineStyle.Color = plotutil.Color(leg)
		pos.LineStyle.Dashes = plotutil.Dashes(1)
		p.Add(pos)
	}

	for _, mm := range []float64{g.MinLength * 1000, (g.MinLength + g.StrokeRange) * 1000} {
		limit, err := plotter.NewLine(plotter.XYs{{X: s.t[0], Y: mm}, {X: s.t[len(s.t)-1], Y: mm}})
		if err != nil {
			return err
		}
		limit.LineStyle.Width = vg.Points(1.0)
		limit.LineStyle.Dashes = plotutil.Dashes(2)
		p.Add(limit)
	}
	p.Legend.Top = true

	return savePlotPNG(p, 10, 6, filename)
}

func plotDisplacement(s *series, filename string) error {
	p := plot.New()
	p.Title.Text = "Washout displacement"
	p.X.Label.Text = "time [s]"
	p.Y.Label.Text = "displacement [mm]"
	stylePlot(p)

	for axis, name := range []string{"x", "y", "z"} {
		line, err := plotter.NewLine(xys(s.t, s.disp[axis]))
		if err != nil {
			return err
		}
		line.LineStyle.Width = vg.Points(2.0)
		line.LineStyle.Color = plotutil.Color(axis)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true

	return savePlotPNG(p, 10, 6, filename)
}

func stylePlot(p *plot.Plot) {
	p.Title.TextStyle.Font.Size = vg.Points(18)
	p.Title.Padding = vg.Points(10)
	p.X.Label.TextStyle.Font.Size = vg.Points(14)
	p.Y.Label.TextStyle.Font.Size = vg.Points(14)
	p.X.Tick.Label.Font.Size = vg.Points(11)
	p.Y.Tick.Label.Font.Size = vg.Points(11)
	p.X.Padding = vg.Points(12)
	p.Y.Padding = vg.Points(12)
	p.Add(plotter.NewGrid())
}

// savePlotPNG renders p to a 300 DPI PNG of widthIn x heightIn inches.
func savePlotPNG(p *plot.Plot, widthIn, heightIn float64, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}

	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch),
		vgimg.UseDPI(300),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return bw.Flush()
}
