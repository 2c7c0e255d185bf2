// Package protocol implements the OmniTile binary command/telemetry codec.
// Packets are framed with a fixed start byte and protected by a truncated
// additive checksum over every byte after the start byte. Encoding and
// decoding are pure functions with no I/O.
package protocol

import "errors"

// StartByte is the sync sentinel that opens every packet on the wire.
const StartByte = 0xA5

// Message IDs. Commands are grouped per actuator; MsgTelemetry is the only
// inbound frame type.
const (
	MsgM1Extend      = 0x30
	MsgM1Retract     = 0x31
	MsgM1Brake       = 0x32
	MsgM1SetPosition = 0x33

	MsgM2Extend      = 0x40
	MsgM2Retract     = 0x41
	MsgM2Brake       = 0x42
	MsgM2SetPosition = 0x43

	MsgPing      = 0x50
	MsgTelemetry = 0x60
)

// Telemetry frame lengths. The full frame carries two ADC samples plus three
// 16-bit UWB ranges; firmware built without the ranging module sends the
// short frame with the ADC samples only.
const (
	TelemetryFrameLen      = 11
	TelemetryShortFrameLen = 5
)

// ErrMalformedFrame indicates a buffer that is not a valid telemetry frame:
// too short, wrong sync/type byte, or checksum mismatch. Receivers treat it
// as line noise and drop the buffer without surfacing an error.
var ErrMalformedFrame = errors.New("malformed telemetry frame")

var commandNames = map[byte]string{
	MsgM1Extend:      "M1_EXTEND",
	MsgM1Retract:     "M1_RETRACT",
	MsgM1Brake:       "M1_BRAKE",
	MsgM1SetPosition: "M1_SET_POSITION",
	MsgM2Extend:      "M2_EXTEND",
	MsgM2Retract:     "M2_RETRACT",
	MsgM2Brake:       "M2_BRAKE",
	MsgM2SetPosition: "M2_SET_POSITION",
	MsgPing:          "PING",
}

// Command is a single outbound operation: a message ID plus an optional
// one-byte payload (PWM duty or absolute target position). Commands are
// immutable values constructed per user action.
type Command struct {
	ID         byte
	Payload    int
	HasPayload bool
}

// NewCommand returns a payload-less command such as ping or brake.
func NewCommand(id byte) Command {
	return Command{ID: id}
}

// NewCommandWithPayload returns a command carrying a one-byte payload. The
// payload is clamped to [0,255] at encode time, not rejected; the console is
// a debug tool and out-of-range slider math must never abort a send.
func NewCommandWithPayload(id byte, payload int) Command {
	return Command{ID: id, Payload: payload, HasPayload: true}
}

// Name returns the human-readable command name used in transmit logs.
func (c Command) Name() string {
	if name, ok := commandNames[c.ID]; ok {
		return name
	}
	return "UNKNOWN"
}

// Encode produces the wire packet for the command: 3 bytes without payload,
// 4 bytes with. It never fails.
func (c Command) Encode() []byte {
	if !c.HasPayload {
		return []byte{StartByte, c.ID, c.ID}
	}
	p := clampByte(c.Payload)
	checksum := (c.ID + p) & 0xFF
	return []byte{StartByte, c.ID, p, checksum}
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// DecodeCommand validates and decodes an encoded command packet, the inverse
// of Command.Encode. Used by tests and by mock controllers; the real firmware
// runs its own parser.
func DecodeCommand(buf []byte) (Command, error) {
	if len(buf) != 3 && len(buf) != 4 {
		return Command{}, ErrMalformedFrame
	}
	if buf[0] != StartByte {
		return Command{}, ErrMalformedFrame
	}
	if buf[len(buf)-1] != Checksum(buf[1:len(buf)-1]) {
		return Command{}, ErrMalformedFrame
	}
	if len(buf) == 3 {
		return Command{ID: buf[1]}, nil
	}
	return Command{ID: buf[1], Payload: int(buf[2]), HasPayload: true}, nil
}

// Telemetry is a decoded, checksum-verified telemetry frame. RangesMM holds
// the three UWB anchor distances in millimeters when HasRanges is true.
type Telemetry struct {
	M1ADC     uint8
	M2ADC     uint8
	RangesMM  [3]uint16
	HasRanges bool
}

// DecodeTelemetry validates and decodes a received buffer. The buffer must
// open with the start byte and the telemetry type byte and close with a valid
// checksum; anything else yields ErrMalformedFrame. Extra trailing bytes in a
// full-length buffer are ignored.
func DecodeTelemetry(buf []byte) (Telemetry, error) {
	if len(buf) >= TelemetryFrameLen {
		return decodeFrame(buf[:TelemetryFrameLen], true)
	}
	if len(buf) >= TelemetryShortFrameLen {
		return decodeFrame(buf[:TelemetryShortFrameLen], false)
	}
	return Telemetry{}, ErrMalformedFrame
}

func decodeFrame(frame []byte, hasRanges bool) (Telemetry, error) {
	if frame[0] != StartByte || frame[1] != MsgTelemetry {
		return Telemetry{}, ErrMalformedFrame
	}
	if frame[len(frame)-1] != Checksum(frame[1:len(frame)-1]) {
		return Telemetry{}, ErrMalformedFrame
	}

	t := Telemetry{
		M1ADC:     frame[2],
		M2ADC:     frame[3],
		HasRanges: hasRanges,
	}
	if hasRanges {
		for i := 0; i < 3; i++ {
			hi, lo := frame[4+2*i], frame[5+2*i]
			t.RangesMM[i] = uint16(hi)<<8 | uint16(lo)
		}
	}
	return t, nil
}

// Checksum computes the truncated additive checksum over the given bytes.
// On the wire it covers every byte after the start byte and before the
// checksum byte itself.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}
