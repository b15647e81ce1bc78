package actuator

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// Transport moves CAN frames to and from the bus.
type Transport interface {
	WriteFrame(f Frame) error
	Frames() <-chan Frame
	Close() error
}

// slcanBitrates maps bitrates to the Lawicel "Sn" setup codes.
var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// SLCAN is a Transport over a serial-line CAN adapter speaking the Lawicel
// ASCII protocol.
type SLCAN struct {
	rw     io.ReadWriteCloser
	frames chan Frame
	logger *slog.Logger

	wmu  sync.Mutex
	done chan struct{}
}

// OpenSLCAN opens the adapter on a serial port and brings the channel up at
// bitrate.
func OpenSLCAN(portName string, bitrate int, logger *slog.Logger) (*SLCAN, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: 115200})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrBus, portName, err)
	}
	s, err := NewSLCAN(port, bitrate, logger)
	if err != nil {
		port.Close()
		return nil, err
	}
	logger.Info("slcan channel open", "component", "actuator", "port", portName, "bitrate", bitrate)
	return s, nil
}

// NewSLCAN configures an adapter reachable through rw and starts reading
// frames from it.
func NewSLCAN(rw io.ReadWriteCloser, bitrate int, logger *slog.Logger) (*SLCAN, error) {
	code, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported bitrate %d", ErrBus, bitrate)
	}
	s := &SLCAN{
		rw:     rw,
		frames: make(chan Frame, 256),
		logger: logger,
		done:   make(chan struct{}),
	}
	// Close first in case the channel was left open by a previous run.
	for _, cmd := range []string{"C\r", "S" + string(code) + "\r", "O\r"} {
		if _, err := io.WriteString(rw, cmd); err != nil {
			return nil, fmt.Errorf("%w: slcan setup %q: %v", ErrBus, cmd[:len(cmd)-1], err)
		}
	}
	go s.readLoop()
	return s, nil
}

// WriteFrame transmits f.
func (s *SLCAN) WriteFrame(f Frame) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := io.WriteString(s.rw, encodeSLCAN(f)); err != nil {
		return fmt.Errorf("%w: writing frame %s: %v", ErrBus, f, err)
	}
	return nil
}

// Frames delivers received frames. The channel is closed when the adapter
// stops.
func (s *SLCAN) Frames() <-chan Frame { return s.frames }

// Close shuts the CAN channel and the serial port.
func (s *SLCAN) Close() error {
	s.wmu.Lock()
	io.WriteString(s.rw, "C\r")
	s.wmu.Unlock()
	err := s.rw.Close()
	<-s.done
	return err
}

func (s *SLCAN) readLoop() {
	defer close(s.done)
	defer close(s.frames)

	r := bufio.NewReader(s.rw)
	for {
		line, err := r.ReadBytes('\r')
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("slcan read stopped", "component", "actuator", "error", err)
			}
			return
		}
		line = trimSLCANAcks(line[:len(line)-1])
		if len(line) == 0 || line[0] != 't' {
			continue
		}
		f, err := decodeSLCAN(line)
		if err != nil {
			s.logger.Warn("dropping malformed slcan frame", "component", "actuator", "line", string(line), "error", err)
			continue
		}
		select {
		case s.frames <- f:
		default:
			s.logger.Warn("slcan receive buffer full, dropping frame", "component", "actuator", "frame", f.String())
		}
	}
}

// trimSLCANAcks strips transmit acknowledgements ("z", "Z") and error bells
// that adapters emit without a line terminator.
func trimSLCANAcks(b []byte) []byte {
	for len(b) > 0 && (b[0] == 'z' || b[0] == 'Z' || b[0] == '\a') {
		b = b[1:]
	}
	return b
}

// encodeSLCAN formats a standard data frame as "tIIIL<data>\r".
func encodeSLCAN(f Frame) string {
	return fmt.Sprintf("t%03X%d%s\r", f.ID&0x7FF, f.Len, strings.ToUpper(hex.EncodeToString(f.Data[:f.Len])))
}

// decodeSLCAN parses "tIIIL<data>" with an optional 4-digit timestamp.
func decodeSLCAN(line []byte) (Frame, error) {
	if len(line) < 5 || line[0] != 't' {
		return Frame{}, fmt.Errorf("not a standard data frame")
	}
	id, err := strconv.ParseUint(string(line[1:4]), 16, 11)
	if err != nil {
		return Frame{}, fmt.Errorf("identifier: %w", err)
	}
	n := int(line[4] - '0')
	if n < 0 || n > 8 {
		return Frame{}, fmt.Errorf("length %q out of range", line[4])
	}
	data := line[5:]
	if len(data) != 2*n && len(data) != 2*n+4 {
		return Frame{}, fmt.Errorf("payload has %d hex digits, want %d", len(data), 2*n)
	}

	f := Frame{ID: uint16(id), Len: uint8(n)}
	if _, err := hex.Decode(f.Data[:n], data[:2*n]); err != nil {
		return Frame{}, fmt.Errorf("payload: %w", err)
	}
	return f, nil
}
