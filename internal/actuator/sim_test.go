package actuator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// TestSimBusTracksTarget verifies the speed limit and settling on target.
func TestSimBusTracksTarget(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cfg := DefaultSimConfig()
	b := NewSimBus(cfg, clock.now)
	ctx := context.Background()

	if err := b.SendTarget(ctx, 0, 800); err != nil {
		t.Fatalf("SendTarget: %v", err)
	}

	clock.advance(100 * time.Millisecond)
	fb, err := b.ReadFeedback(ctx, 0)
	if err != nil {
		t.Fatalf("ReadFeedback: %v", err)
	}
	if want := cfg.InitialMM + cfg.MaxSpeedMM*0.1; math.Abs(fb.PositionMM-want) > 1e-9 {
		t.Errorf("position after 100ms = %v, want %v", fb.PositionMM, want)
	}
	if fb.MotionFlags != 0x01 {
		t.Errorf("motion flags = %#x, want moving", fb.MotionFlags)
	}
	if math.Abs(fb.SpeedPct-100) > 1e-9 {
		t.Errorf("speed = %v%%, want 100%%", fb.SpeedPct)
	}

	for range 20 {
		clock.advance(100 * time.Millisecond)
		if fb, err = b.ReadFeedback(ctx, 0); err != nil {
			t.Fatalf("ReadFeedback: %v", err)
		}
	}
	if math.Abs(fb.PositionMM-800) > 1e-9 {
		t.Errorf("settled position = %v, want 800", fb.PositionMM)
	}
	if fb.MotionFlags != 0 {
		t.Errorf("motion flags = %#x after settling", fb.MotionFlags)
	}

	// Other actuators are untouched.
	if fb, _ := b.ReadFeedback(ctx, 5); fb.PositionMM != cfg.InitialMM {
		t.Errorf("actuator 5 moved to %v", fb.PositionMM)
	}
}

func TestSimBusTravelLimit(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cfg := DefaultSimConfig()
	b := NewSimBus(cfg, clock.now)
	ctx := context.Background()

	b.SendTarget(ctx, 3, 2000)
	for range 100 {
		clock.advance(100 * time.Millisecond)
		b.ReadFeedback(ctx, 3)
	}
	fb, _ := b.ReadFeedback(ctx, 3)
	if fb.PositionMM != cfg.MaxMM {
		t.Errorf("position = %v, want stop at %v", fb.PositionMM, cfg.MaxMM)
	}
}

func TestSimBusIndexRange(t *testing.T) {
	b := NewSimBus(DefaultSimConfig(), nil)
	for _, idx := range []int{-1, Count} {
		if err := b.SendTarget(context.Background(), idx, 700); !errors.Is(err, ErrBus) {
			t.Errorf("SendTarget(%d) err = %v, want ErrBus", idx, err)
		}
		if _, err := b.ReadFeedback(context.Background(), idx); !errors.Is(err, ErrBus) {
			t.Errorf("ReadFeedback(%d) err = %v, want ErrBus", idx, err)
		}
	}
}
