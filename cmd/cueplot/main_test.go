package main

import (
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jared-teets/flight-sim/internal/config"
	"github.com/jared-teets/flight-sim/internal/telemetry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func writeRecording(t *testing.T, dir string, samples []telemetry.Snapshot) string {
	t.Helper()
	rec := telemetry.NewRecorder(dir, 5)
	if _, err := rec.Start(time.Unix(1770000000, 0)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	path := rec.Path()
	for _, s := range samples {
		if err := rec.Record(s); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestReplayLevelFlight(t *testing.T) {
	samples := make([]telemetry.Snapshot, 40)
	for i := range samples {
		samples[i] = telemetry.Snapshot{Mass: 1000}
	}
	path := writeRecording(t, t.TempDir(), samples)

	s, err := replay(path, config.Default(), 50*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(s.t) != len(samples) {
		t.Fatalf("replayed %d ticks, want %d", len(s.t), len(samples))
	}
	if s.held != 0 || s.overrange != 0 {
		t.Errorf("held = %d, overrange = %d, want 0", s.held, s.overrange)
	}
	for leg, targets := range s.targets {
		last := targets[len(targets)-1]
		if math.Abs(last-743.43) > 0.1 {
			t.Errorf("leg %d final target = %.3f mm, want ~743.43", leg, last)
		}
	}
	if s.maxLag > 0.5 {
		t.Errorf("max tracking lag = %.3f mm for a stationary platform", s.maxLag)
	}
}

func TestReplayPausedSamplesHold(t *testing.T) {
	samples := []telemetry.Snapshot{
		{Mass: 1000},
		{Mass: 1000, Paused: true},
		{Mass: 1000, Paused: true},
		{Mass: 1000},
	}
	path := writeRecording(t, t.TempDir(), samples)

	s, err := replay(path, config.Default(), 50*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if s.held != 2 {
		t.Errorf("held = %d, want 2", s.held)
	}
}

func TestRunWritesPlots(t *testing.T) {
	dir := t.TempDir()
	samples := make([]telemetry.Snapshot, 20)
	for i := range samples {
		samples[i] = telemetry.Snapshot{Mass: 1000, SideAero: 500, GroundSpeed: 40}
	}
	writeRecording(t, dir, samples)

	out := filepath.Join(dir, "plots")
	if err := run("", dir, "", out, 50*time.Millisecond, testLogger()); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, name := range []string{"legs.png", "displacement.png"} {
		info, err := os.Stat(filepath.Join(out, name))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		in     string
		period time.Duration
	}{
		{"no recordings", "", 50 * time.Millisecond},
		{"missing file", filepath.Join(dir, "nope.csv"), 50 * time.Millisecond},
		{"zero period", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := run(tt.in, dir, "", filepath.Join(dir, "out"), tt.period, testLogger()); err == nil {
				t.Error("run succeeded")
			}
		})
	}
}
