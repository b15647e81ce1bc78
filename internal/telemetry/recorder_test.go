package telemetry

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func sampleAt(i int) Snapshot {
	return Snapshot{
		Time:        time.Date(2026, 3, 1, 12, 0, 0, i*int(50*time.Millisecond), time.UTC),
		GroundSpeed: float64(i),
		NormalAero:  -9810.5,
		SideAero:    12.25,
		AxialProp:   3000,
		Mass:        1000,
		Pitch:       0.01 * float64(i),
		Yaw:         1.5,
		Roll:        -0.2,
		Paused:      i%2 == 1,
	}
}

// TestRecorderReplay verifies recorded sessions replay sample for sample.
func TestRecorderReplay(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(dir, 5)

	id, err := rec.Start(time.Unix(1770000000, 0))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if id == "" || !strings.Contains(rec.Path(), id) {
		t.Errorf("session path %q does not carry id %q", rec.Path(), id)
	}

	for i := 0; i < 4; i++ {
		if err := rec.Record(sampleAt(i)); err != nil {
			t.Fatalf("Record(%d) error: %v", i, err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	path, ts, err := rec.Latest()
	if err != nil {
		t.Fatalf("Latest() error: %v", err)
	}
	if ts.Unix() != 1770000000 {
		t.Errorf("Latest() ts = %v, want unix 1770000000", ts.Unix())
	}

	src, err := OpenReplay(path, false)
	if err != nil {
		t.Fatalf("OpenReplay() error: %v", err)
	}
	if src.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", src.Len())
	}

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		got, err := src.Sample(ctx)
		if err != nil {
			t.Fatalf("Sample(%d) error: %v", i, err)
		}
		want := sampleAt(i)
		if !got.Time.Equal(want.Time) {
			t.Errorf("sample %d time = %v, want %v", i, got.Time, want.Time)
		}
		got.Time = want.Time
		if got != want {
			t.Errorf("sample %d = %+v, want %+v", i, got, want)
		}
	}
	if _, err := src.Sample(ctx); !errors.Is(err, ErrEndOfRecording) {
		t.Errorf("Sample() past end error = %v, want ErrEndOfRecording", err)
	}
}

// TestReplayLoop verifies looping replay wraps around.
func TestReplayLoop(t *testing.T) {
	src := NewReplay([]Snapshot{sampleAt(0), sampleAt(1)}, true)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s, err := src.Sample(ctx)
		if err != nil {
			t.Fatalf("Sample(%d) error: %v", i, err)
		}
		if s.GroundSpeed != float64(i%2) {
			t.Errorf("sample %d groundspeed = %v, want %v", i, s.GroundSpeed, i%2)
		}
	}

	if err := NewReplay(nil, true).Ready(ctx); err == nil {
		t.Error("Ready() on empty replay = nil, want error")
	}
}

// TestReplayCancelledContext verifies an expired context reads as a timeout.
func TestReplayCancelledContext(t *testing.T) {
	src := NewReplay([]Snapshot{sampleAt(0)}, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Sample(ctx); !errors.Is(err, ErrTimeout) {
		t.Errorf("Sample() error = %v, want ErrTimeout", err)
	}
}

// TestRecorderPrune verifies only the newest maxFiles sessions are kept.
func TestRecorderPrune(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(dir, 2)

	for i := 0; i < 4; i++ {
		if _, err := rec.Start(time.Unix(int64(1000+i), 0)); err != nil {
			t.Fatalf("Start(%d) error: %v", i, err)
		}
		if err := rec.Close(); err != nil {
			t.Fatal(err)
		}
	}

	files, err := rec.listFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("kept %d sessions, want 2", len(files))
	}
	if files[0].ts.Unix() != 1002 || files[1].ts.Unix() != 1003 {
		t.Errorf("kept sessions %v, want 1002 and 1003", files)
	}

	// Foreign files are left alone.
	if err := os.WriteFile(dir+"/notes.txt", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if files, _ := rec.listFiles(); len(files) != 2 {
		t.Errorf("listFiles() counted foreign file: %v", files)
	}
}

// TestReadRecordingRejectsBadHeader verifies foreign CSV files are refused.
func TestReadRecordingRejectsBadHeader(t *testing.T) {
	in := "a,b,c,d,e,f,g,h,i,j,k,l,m,n,o,p\n"
	if _, err := ReadRecording(strings.NewReader(in)); err == nil {
		t.Error("ReadRecording() error = nil, want header error")
	}
}

// TestSnapshotForces verifies the per-axis force sums.
func TestSnapshotForces(t *testing.T) {
	s := Snapshot{
		NormalProp: 1, NormalAero: 2, NormalGear: 3,
		SideProp: 4, SideAero: 5, SideGear: 6,
		AxialProp: 7, AxialAero: 8, AxialGear: 9,
	}
	if s.NormalForce() != 6 || s.SideForce() != 15 || s.AxialForce() != 24 {
		t.Errorf("sums = (%v,%v,%v), want (6,15,24)", s.NormalForce(), s.SideForce(), s.AxialForce())
	}
	if !s.Finite() {
		t.Error("Finite() = false, want true")
	}
}
