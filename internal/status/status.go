// Package status publishes what the control loop did on each tick for the
// HTTP surface. The loop is the only writer; readers get immutable copies.
package status

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jared-teets/flight-sim/internal/actuator"
	"github.com/jared-teets/flight-sim/internal/geometry"
)

// Hold reasons reported when a tick re-emits the previous targets.
const (
	HoldNone      = ""
	HoldTimeout   = "telemetry_timeout"
	HoldTelemetry = "telemetry_error"
	HoldPaused    = "paused"
)

// Snapshot describes one completed tick.
type Snapshot struct {
	Tick         uint64                 `json:"tick"`
	Time         time.Time              `json:"t"`
	State        string                 `json:"state"`
	Pose         geometry.Pose          `json:"pose"`
	Displacement [3]float64             `json:"displacement"`
	Legs         geometry.LegLengths    `json:"legs_m"`
	Targets      [geometry.Legs]float64 `json:"targets_mm"`
	Overrange    [geometry.Legs]bool    `json:"overrange"`
	HeaveClamped bool                   `json:"heave_clamped,omitempty"`
	Hold         string                 `json:"hold,omitempty"`
	Duration     time.Duration          `json:"duration_ns"`
	Feedback     []actuator.Feedback    `json:"feedback,omitempty"`
}

// Store holds the latest snapshot and a bounded history.
type Store struct {
	latest atomic.Pointer[Snapshot]
	state  atomic.Pointer[string]

	mu      sync.RWMutex
	history []Snapshot
	next    int
	full    bool
}

// NewStore creates a Store keeping the last size snapshots.
func NewStore(size int) *Store {
	if size < 1 {
		size = 1
	}
	s := &Store{history: make([]Snapshot, size)}
	s.SetState("init")
	return s
}

// Publish records snap as the latest tick.
func (s *Store) Publish(snap Snapshot) {
	s.mu.Lock()
	s.history[s.next] = snap
	s.next = (s.next + 1) % len(s.history)
	if s.next == 0 {
		s.full = true
	}
	s.mu.Unlock()

	s.latest.Store(&snap)
}

// Latest returns the most recent snapshot, or nil before the first tick.
func (s *Store) Latest() *Snapshot {
	return s.latest.Load()
}

// Recent returns up to n snapshots, oldest first, ending with the latest.
func (s *Store) Recent(n int) []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.next
	if s.full {
		count = len(s.history)
	}
	if n > count {
		n = count
	}
	if n <= 0 {
		return nil
	}

	out := make([]Snapshot, n)
	start := s.next - n
	if start < 0 {
		start += len(s.history)
	}
	for i := range out {
		out[i] = s.history[(start+i)%len(s.history)]
	}
	return out
}

// SetState records the loop state name.
func (s *Store) SetState(state string) {
	s.state.Store(&state)
}

// State returns the loop state name.
func (s *Store) State() string {
	return *s.state.Load()
}
