package protocol

import (
	"encoding/binary"
	"math"
)

// TelemetryFrame is a decoded device -> host reading.
type TelemetryFrame struct {
	Kind  Kind
	Raw   uint16 // value * ValueScale
	Value float64
}

// CommandFrame is a decoded host -> device command.
type CommandFrame struct {
	Kind    Kind
	Command Command
	Arg     uint16
}

// Checksum returns the 8-bit wraparound sum of b.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Encode builds a command-style frame from a kind and a raw 3-byte payload.
func Encode(kind Kind, payload [CommandPayloadSize]byte) [CommandFrameSize]byte {
	var f [CommandFrameSize]byte
	f[0] = Prefix
	f[1] = byte(kind)
	copy(f[HeaderSize:], payload[:])
	f[CommandFrameSize-1] = Checksum(f[:CommandFrameSize-1])
	return f
}

// EncodeCommand builds a command frame with a big-endian argument.
func EncodeCommand(kind Kind, cmd Command, arg uint16) [CommandFrameSize]byte {
	var p [CommandPayloadSize]byte
	p[0] = byte(cmd)
	binary.BigEndian.PutUint16(p[1:], arg)
	return Encode(kind, p)
}

// EncodeTelemetry builds a telemetry frame carrying value in fixed point.
func EncodeTelemetry(kind Kind, value float64) [TelemetryFrameSize]byte {
	return EncodeTelemetryRaw(kind, ToFixed(value))
}

// EncodeTelemetryRaw builds a telemetry frame from an already scaled value.
func EncodeTelemetryRaw(kind Kind, raw uint16) [TelemetryFrameSize]byte {
	var f [TelemetryFrameSize]byte
	f[0] = Prefix
	f[1] = byte(kind)
	binary.BigEndian.PutUint16(f[HeaderSize:], raw)
	f[TelemetryFrameSize-1] = Checksum(f[:TelemetryFrameSize-1])
	return f
}

// DecodeTelemetry validates and decodes a 5-byte telemetry frame.
// Only the first TelemetryFrameSize bytes of b are considered.
func DecodeTelemetry(b []byte) (TelemetryFrame, error) {
	if err := validate(b, TelemetryFrameSize); err != nil {
		return TelemetryFrame{}, err
	}
	raw := binary.BigEndian.Uint16(b[HeaderSize:])
	return TelemetryFrame{
		Kind:  Kind(b[1]),
		Raw:   raw,
		Value: FromFixed(raw),
	}, nil
}

// DecodeCommand validates and decodes a 6-byte command frame.
// Only the first CommandFrameSize bytes of b are considered.
func DecodeCommand(b []byte) (CommandFrame, error) {
	if err := validate(b, CommandFrameSize); err != nil {
		return CommandFrame{}, err
	}
	return CommandFrame{
		Kind:    Kind(b[1]),
		Command: Command(b[HeaderSize]),
		Arg:     binary.BigEndian.Uint16(b[HeaderSize+1:]),
	}, nil
}

// Decode validates a command-style frame and returns its kind and raw payload.
func Decode(b []byte) (Kind, [CommandPayloadSize]byte, error) {
	var p [CommandPayloadSize]byte
	if err := validate(b, CommandFrameSize); err != nil {
		return 0, p, err
	}
	copy(p[:], b[HeaderSize:CommandFrameSize-1])
	return Kind(b[1]), p, nil
}

func validate(b []byte, size int) error {
	if len(b) < size {
		return &FrameError{Err: ErrShortFrame, Want: byte(size), Got: byte(len(b))}
	}
	if b[0] != Prefix {
		return &FrameError{Err: ErrBadPrefix, Want: Prefix, Got: b[0]}
	}
	if sum := Checksum(b[:size-1]); b[size-1] != sum {
		return &FrameError{Err: ErrChecksumMismatch, Want: sum, Got: b[size-1]}
	}
	return nil
}

// ToFixed converts a physical value to the wire fixed-point encoding.
// Values outside the representable range are clamped.
func ToFixed(value float64) uint16 {
	if math.IsNaN(value) {
		return 0
	}
	v := math.Round(value * ValueScale)
	if v <= 0 {
		return 0
	}
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

// FromFixed converts a wire fixed-point value back to physical units.
func FromFixed(raw uint16) float64 {
	return float64(raw) / ValueScale
}
