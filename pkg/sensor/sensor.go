package sensor

import (
	"errors"
	"fmt"

	"github.com/itohio/gowrm/pkg/calib"
	"github.com/itohio/gowrm/pkg/filter"
	"github.com/itohio/gowrm/pkg/protocol"
)

var (
	// ErrUnsupported is returned for commands that have no meaning for the sensor kind.
	ErrUnsupported = errors.New("command not supported by sensor")
	// ErrUnknownKind is returned when constructing a sensor of an unknown kind.
	ErrUnknownKind = errors.New("unknown sensor kind")
)

// Source is the raw signal primitive provided by a hardware driver. Analog
// probes return ADC counts; the temperature probe returns °C.
type Source interface {
	Sample() float32
}

// SourceFunc adapts a function to Source.
type SourceFunc func() float32

func (f SourceFunc) Sample() float32 { return f() }

// Config describes a sensor at construction time.
type Config struct {
	Kind       protocol.Kind
	Filtered   bool
	Filter     *filter.Kind // nil selects DefaultFilter(Kind)
	WindowSize int
	Initial    float32
	PH         calib.PHConfig
	TDS        calib.TDSConfig
}

// DefaultFilter returns the filter used for a kind: median for pH to reject
// electrode spikes, moving average otherwise.
func DefaultFilter(kind protocol.Kind) filter.Kind {
	if kind == protocol.PH {
		return filter.Median
	}
	return filter.MovingAverage
}

// Sensor couples a raw source, a calibration model and an optional filter.
// Exactly one of the model fields is set, matching kind.
type Sensor struct {
	kind   protocol.Kind
	src    Source
	window *filter.Window
	value  float32

	ph  *calib.PH
	tds *calib.TDS
}

// New creates a sensor. The stored value starts at cfg.Initial.
func New(cfg Config, src Source) (*Sensor, error) {
	if src == nil {
		return nil, fmt.Errorf("%s sensor: nil source", cfg.Kind)
	}

	s := &Sensor{
		kind:  cfg.Kind,
		src:   src,
		value: cfg.Initial,
	}

	switch cfg.Kind {
	case protocol.Temperature:
	case protocol.PH:
		s.ph = calib.NewPH(cfg.PH)
	case protocol.TDS:
		s.tds = calib.NewTDS(cfg.TDS)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(cfg.Kind))
	}

	if cfg.Filtered {
		kind := DefaultFilter(cfg.Kind)
		if cfg.Filter != nil {
			kind = *cfg.Filter
		}
		s.window = filter.New(kind, cfg.WindowSize, cfg.Initial)
	}

	return s, nil
}

// Kind returns the immutable sensor kind.
func (s *Sensor) Kind() protocol.Kind {
	return s.kind
}

// Filtered reports whether reads pass through a filter window.
func (s *Sensor) Filtered() bool {
	return s.window != nil
}

// Update samples the source and stores the calibrated physical value.
func (s *Sensor) Update() {
	raw := s.src.Sample()

	switch s.kind {
	case protocol.PH:
		s.value = s.ph.Value(s.ph.Voltage(raw))
	case protocol.TDS:
		s.value = s.tds.Value(s.tds.Voltage(raw))
	default:
		s.value = calib.Temperature{}.Value(raw)
	}
}

// Read returns the stored value, smoothed by the filter if one is present.
// Each filtered Read advances the window by one sample.
func (s *Sensor) Read() float32 {
	if s.window == nil {
		return s.value
	}
	return s.window.Push(s.value)
}

// Value returns the last stored value without touching the filter.
func (s *Sensor) Value() float32 {
	return s.value
}

// Apply executes a host command against the calibration model.
func (s *Sensor) Apply(cmd protocol.Command, arg uint16) error {
	switch s.kind {
	case protocol.PH:
		return s.applyPH(cmd, arg)
	case protocol.TDS:
		return s.applyTDS(cmd, arg)
	default:
		return fmt.Errorf("%s %s: %w", s.kind, cmd, ErrUnsupported)
	}
}

func (s *Sensor) applyPH(cmd protocol.Command, arg uint16) error {
	switch cmd {
	case protocol.Reset:
		s.ph.Reset()
	case protocol.Calibrate:
		s.ph.Calibrate(s.voltage())
	case protocol.CalibrateLow:
		s.ph.CalibrateLow(s.voltage())
	case protocol.CalibrateMiddle:
		s.ph.CalibrateMiddle(s.voltage())
	case protocol.CalibrateHigh:
		s.ph.CalibrateHigh(s.voltage())
	case protocol.SetMode:
		// Mode flag travels in the high argument byte.
		s.ph.SetAdvanced(arg>>8 != 0)
	default:
		return fmt.Errorf("%s %s: %w", s.kind, cmd, ErrUnsupported)
	}
	return nil
}

func (s *Sensor) applyTDS(cmd protocol.Command, arg uint16) error {
	switch cmd {
	case protocol.Reset:
		s.tds.Reset()
	case protocol.Calibrate:
		reference := float32(protocol.FromFixed(arg))
		if err := s.tds.Calibrate(reference, s.voltage()); err != nil {
			return fmt.Errorf("%s calibrate at %.1f ppm: %w", s.kind, reference, err)
		}
	default:
		return fmt.Errorf("%s %s: %w", s.kind, cmd, ErrUnsupported)
	}
	return nil
}

// SetTemperature feeds the ambient temperature used for TDS compensation.
// It is a no-op for other kinds.
func (s *Sensor) SetTemperature(celsius float32) {
	if s.tds != nil {
		s.tds.SetTemperature(celsius)
	}
}

// PH exposes the pH model, or nil for other kinds.
func (s *Sensor) PH() *calib.PH {
	return s.ph
}

// TDS exposes the TDS model, or nil for other kinds.
func (s *Sensor) TDS() *calib.TDS {
	return s.tds
}

// voltage samples the source for a calibration point.
func (s *Sensor) voltage() float32 {
	raw := s.src.Sample()
	switch s.kind {
	case protocol.PH:
		return s.ph.Voltage(raw)
	case protocol.TDS:
		return s.tds.Voltage(raw)
	default:
		return raw
	}
}
