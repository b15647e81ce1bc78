package actuator

import (
	"testing"
)

// TestEncodeCommand verifies the RPDO1 layout and limit clamping.
func TestEncodeCommand(t *testing.T) {
	f := EncodeCommand(1, Command{PositionMM: 150, CurrentA: 200, SpeedPct: 80, Enable: true})

	if f.ID != 0x201 {
		t.Errorf("ID = %#x, want 0x201", f.ID)
	}
	if f.Len != 8 {
		t.Errorf("Len = %d, want 8", f.Len)
	}
	want := [8]byte{0xDC, 0x05, 0xC8, 0x00, 0x20, 0x03, 0x00, 0x01}
	if f.Data != want {
		t.Errorf("Data = % X, want % X", f.Data, want)
	}
}

func TestEncodeCommandClamp(t *testing.T) {
	tests := []struct {
		name    string
		pos     float64
		wantPos uint16
	}{
		{"below range", -12, 0},
		{"above range", 400, 3600},
		{"truncated", 12.34, 123},
		{"upper bound", 360, 3600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := EncodeCommand(3, Command{PositionMM: tt.pos})
			got := uint16(f.Data[0]) | uint16(f.Data[1])<<8
			if got != tt.wantPos {
				t.Errorf("position = %d, want %d", got, tt.wantPos)
			}
			if f.Data[7] != 0 {
				t.Errorf("control = %#x, want 0 when not enabled", f.Data[7])
			}
		})
	}
}

func TestDecodeFeedback(t *testing.T) {
	f := Frame{ID: 0x183, Len: 8, Data: [8]byte{0xDC, 0x05, 0x7D, 0x00, 0x20, 0x03, 0x01, 0x04}}
	node, fb, ok := DecodeFeedback(f)
	if !ok {
		t.Fatal("DecodeFeedback rejected a TPDO1 frame")
	}
	if node != 3 {
		t.Errorf("node = %d, want 3", node)
	}
	if fb.PositionMM != 150 || fb.CurrentA != 12.5 || fb.SpeedPct != 80 {
		t.Errorf("feedback = %+v", fb)
	}
	if fb.MotionFlags != 0x01 || fb.ErrorFlags != 0x04 {
		t.Errorf("flags = %#x/%#x, want 0x01/0x04", fb.MotionFlags, fb.ErrorFlags)
	}

	for _, other := range []Frame{
		EncodeCommand(3, Command{}),
		{ID: 0x180, Len: 8},
		{ID: 0x183, Len: 4},
		NMTStartFrame(3),
	} {
		if _, _, ok := DecodeFeedback(other); ok {
			t.Errorf("DecodeFeedback accepted %s", other)
		}
	}
}

func TestNMTAndProbeFrames(t *testing.T) {
	nmt := NMTStartFrame(5)
	if nmt.ID != 0 || nmt.Len != 2 || nmt.Data[0] != 0x01 || nmt.Data[1] != 5 {
		t.Errorf("NMT start = %s", nmt)
	}

	probe := ProbeFrame(5)
	if probe.ID != 0x605 || probe.Data[0] != 0x40 || probe.Data[1] != 0x00 || probe.Data[2] != 0x10 {
		t.Errorf("probe = %s", probe)
	}

	if node, ok := ProbeReply(Frame{ID: 0x585, Len: 8}); !ok || node != 5 {
		t.Errorf("ProbeReply = %d, %v; want 5, true", node, ok)
	}
	if _, ok := ProbeReply(Frame{ID: 0x605, Len: 8}); ok {
		t.Error("ProbeReply accepted a request frame")
	}
}

func TestFrameString(t *testing.T) {
	f := Frame{ID: 0x201, Len: 2, Data: [8]byte{0xAB, 0x01}}
	if got, want := f.String(), "201#AB 01"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
