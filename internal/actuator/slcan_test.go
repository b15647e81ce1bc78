package actuator

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeAdapter stands in for the serial port: bytes written by the test to
// in are read by the transport, and everything the transport writes is
// captured in out.
type fakeAdapter struct {
	pr *io.PipeReader
	in *io.PipeWriter

	mu  sync.Mutex
	out bytes.Buffer
}

func newFakeAdapter() *fakeAdapter {
	pr, pw := io.Pipe()
	return &fakeAdapter{pr: pr, in: pw}
}

func (a *fakeAdapter) Read(p []byte) (int, error) { return a.pr.Read(p) }

func (a *fakeAdapter) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.out.Write(p)
}

func (a *fakeAdapter) Close() error { return a.pr.Close() }

func (a *fakeAdapter) written() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.out.String()
}

func TestEncodeSLCAN(t *testing.T) {
	tests := []struct {
		name string
		f    Frame
		want string
	}{
		{"rpdo", EncodeCommand(1, Command{PositionMM: 150, CurrentA: 20, SpeedPct: 80, Enable: true}), "t2018DC05C80020030001\r"},
		{"nmt", NMTStartFrame(6), "t00020106\r"},
		{"empty", Frame{ID: 0x7FF}, "t7FF0\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := encodeSLCAN(tt.f); got != tt.want {
				t.Errorf("encodeSLCAN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeSLCAN(t *testing.T) {
	f, err := decodeSLCAN([]byte("t1838DC057D0020030104"))
	if err != nil {
		t.Fatalf("decodeSLCAN: %v", err)
	}
	want := Frame{ID: 0x183, Len: 8, Data: [8]byte{0xDC, 0x05, 0x7D, 0x00, 0x20, 0x03, 0x01, 0x04}}
	if f != want {
		t.Errorf("frame = %s, want %s", f, want)
	}

	// Adapters with timestamps enabled append four hex digits.
	if _, err := decodeSLCAN([]byte("t58520102ABCD")); err != nil {
		t.Errorf("timestamped frame: %v", err)
	}

	for _, bad := range []string{"t18", "T12345678", "t1839", "t18320102030405", "t1832ZZZZ", "tXYZ0"} {
		if _, err := decodeSLCAN([]byte(bad)); err == nil {
			t.Errorf("decodeSLCAN(%q) accepted malformed input", bad)
		}
	}
}

// TestSLCANSetupAndReceive verifies the channel setup sequence and frame
// delivery through the read loop.
func TestSLCANSetupAndReceive(t *testing.T) {
	a := newFakeAdapter()
	s, err := NewSLCAN(a, 500000, testLogger())
	if err != nil {
		t.Fatalf("NewSLCAN: %v", err)
	}

	if got, want := a.written(), "C\rS6\rO\r"; got != want {
		t.Errorf("setup = %q, want %q", got, want)
	}

	go a.in.Write([]byte("z\rZt58580000000000000000\rgarbage\rt1X\r"))

	select {
	case f := <-s.Frames():
		if f.ID != 0x585 || f.Len != 8 {
			t.Errorf("frame = %s", f)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}

	if err := s.WriteFrame(NMTStartFrame(5)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if got := a.written(); !bytes.HasSuffix([]byte(got), []byte("t00020105\r")) {
		t.Errorf("written = %q", got)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-s.Frames(); ok {
		t.Error("Frames() still open after Close")
	}
}

func TestSLCANUnsupportedBitrate(t *testing.T) {
	_, err := NewSLCAN(newFakeAdapter(), 333333, testLogger())
	if !errors.Is(err, ErrBus) {
		t.Errorf("err = %v, want ErrBus", err)
	}
}
