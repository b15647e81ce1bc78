package actuator

import (
	"encoding/binary"
	"fmt"
	"math"
)

// CANopen function codes used by the Electrak HD.
const (
	cobNMT    = 0x000
	cobTPDO1  = 0x180
	cobRPDO1  = 0x200
	cobSDOTx  = 0x580
	cobSDORx  = 0x600
	nmtStart  = 0x01
	sdoUpload = 0x40

	maxNodeID = 127
)

// Electrak HD command limits.
const (
	MinPositionMM  = 0.0
	MaxPositionMM  = 360.0
	MaxCurrentA    = 20.0
	controlEnable  = 0x01
	profileDefault = 0
)

// Frame is a classic CAN data frame with an 11-bit identifier.
type Frame struct {
	ID   uint16
	Len  uint8
	Data [8]byte
}

func (f Frame) String() string {
	return fmt.Sprintf("%03X#% X", f.ID, f.Data[:f.Len])
}

// Command is one RPDO1 motion command.
type Command struct {
	PositionMM float64
	CurrentA   float64
	SpeedPct   float64
	Profile    uint8
	Enable     bool
}

// tenths converts to the 0.1-unit resolution of the object dictionary.
func tenths(v float64) uint16 {
	return uint16(math.Max(0, math.Min(v*10, math.MaxUint16)))
}

// EncodeCommand builds the RPDO1 frame for node. Position and current are
// clamped to the actuator limits.
func EncodeCommand(node uint8, c Command) Frame {
	pos := math.Max(MinPositionMM, math.Min(MaxPositionMM, c.PositionMM))
	cur := math.Min(c.CurrentA, MaxCurrentA)

	f := Frame{ID: cobRPDO1 + uint16(node), Len: 8}
	binary.LittleEndian.PutUint16(f.Data[0:], tenths(pos))
	binary.LittleEndian.PutUint16(f.Data[2:], tenths(cur))
	binary.LittleEndian.PutUint16(f.Data[4:], tenths(c.SpeedPct))
	f.Data[6] = c.Profile
	if c.Enable {
		f.Data[7] = controlEnable
	}
	return f
}

// DecodeFeedback parses a TPDO1 frame. ok is false for any other frame.
func DecodeFeedback(f Frame) (node uint8, fb Feedback, ok bool) {
	if f.ID <= cobTPDO1 || f.ID > cobTPDO1+maxNodeID || f.Len < 8 {
		return 0, Feedback{}, false
	}
	return uint8(f.ID - cobTPDO1), Feedback{
		PositionMM:  float64(binary.LittleEndian.Uint16(f.Data[0:])) / 10,
		CurrentA:    float64(binary.LittleEndian.Uint16(f.Data[2:])) / 10,
		SpeedPct:    float64(binary.LittleEndian.Uint16(f.Data[4:])) / 10,
		MotionFlags: f.Data[6],
		ErrorFlags:  f.Data[7],
	}, true
}

// NMTStartFrame moves node to OPERATIONAL.
func NMTStartFrame(node uint8) Frame {
	return Frame{ID: cobNMT, Len: 2, Data: [8]byte{nmtStart, node}}
}

// ProbeFrame is an SDO upload of the device type (0x1000:00), which every
// CANopen node answers.
func ProbeFrame(node uint8) Frame {
	return Frame{ID: cobSDORx + uint16(node), Len: 8, Data: [8]byte{sdoUpload, 0x00, 0x10, 0x00}}
}

// ProbeReply reports which node an SDO response came from.
func ProbeReply(f Frame) (node uint8, ok bool) {
	if f.ID <= cobSDOTx || f.ID > cobSDOTx+maxNodeID {
		return 0, false
	}
	return uint8(f.ID - cobSDOTx), true
}
