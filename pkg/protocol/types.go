package protocol

import (
	"fmt"
	"strings"
)

// Kind identifies the sensor a frame concerns.
type Kind uint8

const (
	Temperature Kind = iota
	PH
	TDS
)

// Kinds lists every known sensor kind in wire order.
var Kinds = []Kind{Temperature, PH, TDS}

func (k Kind) String() string {
	switch k {
	case Temperature:
		return "temperature"
	case PH:
		return "ph"
	case TDS:
		return "tds"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is a known sensor kind.
func (k Kind) Valid() bool {
	return k <= TDS
}

// Unit returns the physical unit reported for the kind.
func (k Kind) Unit() string {
	switch k {
	case Temperature:
		return "°C"
	case PH:
		return "pH"
	case TDS:
		return "ppm"
	default:
		return ""
	}
}

// Range returns the nominal reporting range for the kind.
func (k Kind) Range() (min, max float64) {
	switch k {
	case Temperature:
		return -55, 125
	case PH:
		return 0, 14
	case TDS:
		return 0, 1250
	default:
		return 0, 0
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown sensor kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKind parses a sensor kind name such as "ph" or "TDS".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "temperature", "temp":
		return Temperature, nil
	case "ph":
		return PH, nil
	case "tds":
		return TDS, nil
	}
	return 0, fmt.Errorf("unknown sensor kind %q", s)
}

// Command is the first payload byte of a command frame.
type Command uint8

const (
	Reset Command = iota
	Calibrate
	CalibrateLow
	CalibrateMiddle
	CalibrateHigh
	SetMode
)

func (c Command) String() string {
	switch c {
	case Reset:
		return "reset"
	case Calibrate:
		return "calibrate"
	case CalibrateLow:
		return "calibrate-low"
	case CalibrateMiddle:
		return "calibrate-middle"
	case CalibrateHigh:
		return "calibrate-high"
	case SetMode:
		return "set-mode"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	return c <= SetMode
}

func (c Command) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown command %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Command) UnmarshalText(text []byte) error {
	v, err := ParseCommand(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseCommand parses a command name as produced by Command.String.
func ParseCommand(s string) (Command, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c := Reset; c <= SetMode; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", s)
}
