package module

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/itohio/gowrm/pkg/protocol"
)

// ErrInvalidArgument is returned for user input that cannot form a command.
// Nothing is sent when it is returned.
var ErrInvalidArgument = errors.New("invalid argument")

// PHPoint selects a pH calibration buffer.
type PHPoint uint8

const (
	// PHNeutral is the single pH 7 point of basic mode.
	PHNeutral PHPoint = iota
	// PHLow is the pH 4 point of advanced mode.
	PHLow
	// PHMiddle is the pH 7 point of advanced mode.
	PHMiddle
	// PHHigh is the pH 10 point of advanced mode.
	PHHigh
)

// Command returns the wire command for the point.
func (p PHPoint) Command() (protocol.Command, bool) {
	switch p {
	case PHNeutral:
		return protocol.Calibrate, true
	case PHLow:
		return protocol.CalibrateLow, true
	case PHMiddle:
		return protocol.CalibrateMiddle, true
	case PHHigh:
		return protocol.CalibrateHigh, true
	}
	return 0, false
}

// ParseReference parses a reference concentration in ppm, e.g. "707" or
// "707.5", into its x10 wire encoding.
func ParseReference(text string) (uint16, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: reference %q is not a number", ErrInvalidArgument, text)
	}
	if v < 0 || math.Round(v*protocol.ValueScale) > math.MaxUint16 {
		return 0, fmt.Errorf("%w: reference %q out of range [0, %.1f]", ErrInvalidArgument, text, math.MaxUint16/protocol.ValueScale)
	}
	return protocol.ToFixed(v), nil
}

// ParseMode parses a pH mode name into the SetMode argument.
func ParseMode(text string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "basic", "0", "off", "false":
		return modeArg(false), nil
	case "advanced", "1", "on", "true":
		return modeArg(true), nil
	}
	return 0, fmt.Errorf("%w: unknown pH mode %q", ErrInvalidArgument, text)
}

// ParseArg builds the argument of a command from user text. Commands that
// take no argument ignore the text.
func ParseArg(kind protocol.Kind, cmd protocol.Command, text string) (uint16, error) {
	if err := validateCommand(kind, cmd); err != nil {
		return 0, err
	}

	switch {
	case kind == protocol.TDS && cmd == protocol.Calibrate:
		return ParseReference(text)
	case cmd == protocol.SetMode:
		return ParseMode(text)
	}
	return 0, nil
}

// Execute parses text for the command and sends it.
func Execute(dev Device, kind protocol.Kind, cmd protocol.Command, text string) error {
	arg, err := ParseArg(kind, cmd, text)
	if err != nil {
		return err
	}
	return dev.SendCommand(kind, cmd, arg)
}

// CalibratePH records the current probe voltage as the given buffer point.
func CalibratePH(dev Device, point PHPoint) error {
	cmd, ok := point.Command()
	if !ok {
		return fmt.Errorf("%w: unknown pH calibration point %d", ErrInvalidArgument, point)
	}
	return dev.SendCommand(protocol.PH, cmd, 0)
}

// CalibrateTDS calibrates the TDS probe against a reference solution given in ppm.
func CalibrateTDS(dev Device, reference string) error {
	arg, err := ParseReference(reference)
	if err != nil {
		return err
	}
	return dev.SendCommand(protocol.TDS, protocol.Calibrate, arg)
}

// SetPHMode switches between basic (single point) and advanced (three point) pH calibration.
func SetPHMode(dev Device, advanced bool) error {
	return dev.SendCommand(protocol.PH, protocol.SetMode, modeArg(advanced))
}

// ResetCalibration restores the default calibration of a probe.
func ResetCalibration(dev Device, kind protocol.Kind) error {
	return dev.SendCommand(kind, protocol.Reset, 0)
}

func modeArg(advanced bool) uint16 {
	if advanced {
		return 1 << 8
	}
	return 0
}

// validateCommand rejects commands that no probe of the kind accepts.
func validateCommand(kind protocol.Kind, cmd protocol.Command) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown sensor kind %d", ErrInvalidArgument, uint8(kind))
	}
	if !cmd.Valid() {
		return fmt.Errorf("%w: unknown command %d", ErrInvalidArgument, uint8(cmd))
	}

	switch kind {
	case protocol.Temperature:
		return fmt.Errorf("%w: %s probe has no calibration", ErrInvalidArgument, kind)
	case protocol.TDS:
		if cmd != protocol.Reset && cmd != protocol.Calibrate {
			return fmt.Errorf("%w: %s does not support %s", ErrInvalidArgument, kind, cmd)
		}
	}
	return nil
}
