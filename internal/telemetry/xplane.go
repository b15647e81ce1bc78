package telemetry

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"time"
)

// DefaultXPlaneAddr is where the X-Plane Connect plugin listens.
const DefaultXPlaneAddr = "127.0.0.1:49009"

// Datarefs are requested in this order; see Snapshot.values.
var Datarefs = []string{
	"sim/flightmodel/position/groundspeed",
	"sim/flightmodel/forces/fnrml_prop",
	"sim/flightmodel/forces/fside_prop",
	"sim/flightmodel/forces/faxil_prop",
	"sim/flightmodel/forces/fnrml_aero",
	"sim/flightmodel/forces/fside_aero",
	"sim/flightmodel/forces/faxil_aero",
	"sim/flightmodel/forces/fnrml_gear",
	"sim/flightmodel/forces/fside_gear",
	"sim/flightmodel/forces/faxil_gear",
	"sim/flightmodel/weight/m_total",
	"sim/flightmodel/position/theta",
	"sim/flightmodel/position/psi",
	"sim/flightmodel/position/phi",
	"sim/time/paused",
}

// Indices of the attitude datarefs, which X-Plane reports in degrees.
const (
	idxTheta = 11
	idxPsi   = 12
	idxPhi   = 13
)

const maxDatagram = 65507

// XPlaneClient samples the flight model through the X-Plane Connect plugin.
// One request is outstanding at a time.
type XPlaneClient struct {
	conn    *net.UDPConn
	request []byte
	buf     []byte
	logger  *slog.Logger
}

// DialXPlane opens a UDP socket to the plugin at addr.
func DialXPlane(addr string, logger *slog.Logger) (*XPlaneClient, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving x-plane address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dialing x-plane: %w", err)
	}
	req, err := encodeGETD(Datarefs)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &XPlaneClient{
		conn:    conn,
		request: req,
		buf:     make([]byte, maxDatagram),
		logger:  logger,
	}, nil
}

// Sample requests every dataref and waits for the reply until ctx expires.
func (c *XPlaneClient) Sample(ctx context.Context) (Snapshot, error) {
	c.drain()

	if _, err := c.conn.Write(c.request); err != nil {
		return Snapshot{}, fmt.Errorf("sending GETD: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return Snapshot{}, fmt.Errorf("setting read deadline: %w", err)
	}

	n, err := c.conn.Read(c.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return Snapshot{}, ErrTimeout
		}
		return Snapshot{}, fmt.Errorf("reading RESP: %w", err)
	}

	values, err := decodeRESP(c.buf[:n], len(Datarefs))
	if err != nil {
		return Snapshot{}, err
	}
	for _, i := range []int{idxTheta, idxPsi, idxPhi} {
		values[i] *= math.Pi / 180
	}

	s := fromValues(values)
	s.Time = time.Now()
	return s, nil
}

// drain discards replies to earlier requests that arrived after their
// deadline so they are not mistaken for the next reply. An already expired
// deadline fails reads without polling the socket, hence the short window.
func (c *XPlaneClient) drain() {
	if err := c.conn.SetReadDeadline(time.Now().Add(100 * time.Microsecond)); err != nil {
		return
	}
	for {
		if _, err := c.conn.Read(c.buf); err != nil {
			return
		}
		c.logger.Debug("discarded late x-plane reply", "component", "telemetry")
	}
}

// Ready polls until the plugin answers or ctx ends.
func (c *XPlaneClient) Ready(ctx context.Context) error {
	for {
		attempt, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		_, err := c.Sample(attempt)
		cancel()
		if err == nil {
			return nil
		}
		c.logger.Info("waiting for x-plane", "component", "telemetry", "addr", c.conn.RemoteAddr().String(), "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("x-plane not ready: %w", err)
		case <-time.After(time.Second):
		}
	}
}

// Close releases the socket.
func (c *XPlaneClient) Close() error {
	return c.conn.Close()
}

// encodeGETD builds a dataref read request:
//
//	"GETD" 0x00 count { len dref }...
func encodeGETD(drefs []string) ([]byte, error) {
	if len(drefs) > 255 {
		return nil, fmt.Errorf("GETD supports at most 255 datarefs, got %d", len(drefs))
	}
	var b bytes.Buffer
	b.WriteString("GETD")
	b.WriteByte(0)
	b.WriteByte(byte(len(drefs)))
	for _, d := range drefs {
		if len(d) == 0 || len(d) > 255 {
			return nil, fmt.Errorf("dataref %q: length must be 1-255", d)
		}
		b.WriteByte(byte(len(d)))
		b.WriteString(d)
	}
	return b.Bytes(), nil
}

// decodeRESP parses a dataref reply and returns the first element of each
// dataref:
//
//	"RESP" 0x00 count { len float32... }...
func decodeRESP(b []byte, want int) ([]float64, error) {
	if len(b) < 6 || string(b[:4]) != "RESP" {
		return nil, fmt.Errorf("malformed RESP header")
	}
	count := int(b[5])
	if count != want {
		return nil, fmt.Errorf("RESP carries %d datarefs, want %d", count, want)
	}

	out := make([]float64, count)
	pos := 6
	for i := 0; i < count; i++ {
		if pos >= len(b) {
			return nil, fmt.Errorf("RESP truncated at dataref %d", i)
		}
		n := int(b[pos])
		pos++
		if n == 0 || pos+4*n > len(b) {
			return nil, fmt.Errorf("RESP dataref %d: bad value count %d", i, n)
		}
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[pos:])))
		pos += 4 * n
	}
	return out, nil
}
