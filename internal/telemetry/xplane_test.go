package telemetry

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// encodeRESP builds a reply carrying one float per dataref.
func encodeRESP(values []float32) []byte {
	var b bytes.Buffer
	b.WriteString("RESP")
	b.WriteByte(0)
	b.WriteByte(byte(len(values)))
	for _, v := range values {
		b.WriteByte(1)
		binary.Write(&b, binary.LittleEndian, v)
	}
	return b.Bytes()
}

// fakeXPC answers GETD requests on a loopback socket. When respond is false
// requests are read and dropped.
func fakeXPC(t *testing.T, values []float32, respond bool) (addr string, requests <-chan []byte) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	reqs := make(chan []byte, 16)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			reqs <- append([]byte(nil), buf[:n]...)
			if respond {
				pc.WriteTo(encodeRESP(values), from)
			}
		}
	}()
	return pc.LocalAddr().String(), reqs
}

// TestEncodeGETD verifies the request layout.
func TestEncodeGETD(t *testing.T) {
	b, err := encodeGETD([]string{"a/b", "cd"})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{'G', 'E', 'T', 'D', 0, 2, 3, 'a', '/', 'b', 2, 'c', 'd'}
	if !bytes.Equal(b, want) {
		t.Errorf("encodeGETD() = %v, want %v", b, want)
	}

	if _, err := encodeGETD([]string{""}); err == nil {
		t.Error("encodeGETD(empty dataref) error = nil, want error")
	}
}

// TestDecodeRESPErrors verifies malformed replies are rejected.
func TestDecodeRESPErrors(t *testing.T) {
	good := encodeRESP([]float32{1, 2})

	tests := []struct {
		name string
		b    []byte
		want int
	}{
		{"short", []byte("RES"), 2},
		{"wrong magic", append([]byte("DATA"), good[4:]...), 2},
		{"count mismatch", good, 3},
		{"truncated", good[:len(good)-2], 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeRESP(tt.b, tt.want); err == nil {
				t.Error("decodeRESP() error = nil, want error")
			}
		})
	}

	// Array datarefs contribute their first element.
	var b bytes.Buffer
	b.WriteString("RESP\x00\x01\x03")
	binary.Write(&b, binary.LittleEndian, []float32{7, 8, 9})
	vals, err := decodeRESP(b.Bytes(), 1)
	if err != nil || vals[0] != 7 {
		t.Errorf("decodeRESP(array) = %v, %v, want [7]", vals, err)
	}
}

// TestXPlaneSample verifies a full request/response exchange, including the
// degree-to-radian conversion of the attitude datarefs.
func TestXPlaneSample(t *testing.T) {
	values := []float32{12, 1, 2, 3, 4, 5, 6, 7, 8, 9, 1100, 10, 180, -30, 1}
	addr, reqs := fakeXPC(t, values, true)

	c, err := DialXPlane(addr, testLogger())
	if err != nil {
		t.Fatalf("DialXPlane() error: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := c.Sample(ctx)
	if err != nil {
		t.Fatalf("Sample() error: %v", err)
	}

	req := <-reqs
	want, _ := encodeGETD(Datarefs)
	if !bytes.Equal(req, want) {
		t.Errorf("request = %q, want %q", req, want)
	}

	if s.GroundSpeed != 12 || s.NormalProp != 1 || s.AxialGear != 9 || s.Mass != 1100 {
		t.Errorf("forces = %+v, want values in dataref order", s)
	}
	if math.Abs(s.Pitch-10*math.Pi/180) > 1e-6 || math.Abs(s.Yaw-math.Pi) > 1e-6 || math.Abs(s.Roll+math.Pi/6) > 1e-6 {
		t.Errorf("attitude = (%v,%v,%v), want radians", s.Pitch, s.Yaw, s.Roll)
	}
	if !s.Paused {
		t.Error("Paused = false, want true")
	}
	if s.Time.IsZero() {
		t.Error("Time not set")
	}
}

// TestXPlaneTimeout verifies a silent plugin yields ErrTimeout.
func TestXPlaneTimeout(t *testing.T) {
	addr, _ := fakeXPC(t, nil, false)

	c, err := DialXPlane(addr, testLogger())
	if err != nil {
		t.Fatalf("DialXPlane() error: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.Sample(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Sample() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Sample() blocked %v, want bounded by context", elapsed)
	}
}
