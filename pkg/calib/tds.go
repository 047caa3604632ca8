package calib

import (
	"errors"

	"github.com/chewxy/math32"
)

// ReferenceTemperature is the temperature conductivity is normalised to (°C).
const ReferenceTemperature = 25.0

// ErrDegenerate is returned when a calibration point cannot determine the model.
var ErrDegenerate = errors.New("degenerate calibration point")

// Cubic voltage -> raw conductivity response of the probe (uS/cm per V^n).
const (
	ecCubic     = 133.42
	ecQuadratic = 255.86
	ecLinear    = 857.39
)

// TDSConfig holds the compiled-in constants of a TDS probe.
type TDSConfig struct {
	AnalogReference float32 `yaml:"analog_reference"` // ADC reference voltage (V)
	ADCRange        float32 `yaml:"adc_range"`        // ADC full-scale count
	KProbe          float32 `yaml:"k_probe"`          // default probe constant
	KTemp           float32 `yaml:"k_temp"`           // temperature coefficient (1/°C)
	KTds            float32 `yaml:"k_tds"`            // EC -> TDS conversion factor
}

// DefaultTDS returns the constants for the Troyka TDS-meter module.
func DefaultTDS() TDSConfig {
	return TDSConfig{
		AnalogReference: 5.0,
		ADCRange:        1023.0,
		KProbe:          0.5,
		KTemp:           0.02,
		KTds:            0.65,
	}
}

// TDS converts probe voltage to total dissolved solids (ppm) with linear
// temperature compensation.
type TDS struct {
	cfg TDSConfig

	KProbe      float32
	Temperature float32
}

// NewTDS creates a TDS model with the default probe constant and 25 °C.
// Zero fields of cfg fall back to DefaultTDS, except KTemp where zero
// disables compensation.
func NewTDS(cfg TDSConfig) *TDS {
	def := DefaultTDS()
	if cfg.AnalogReference == 0 {
		cfg.AnalogReference = def.AnalogReference
	}
	if cfg.ADCRange == 0 {
		cfg.ADCRange = def.ADCRange
	}
	if cfg.KProbe == 0 {
		cfg.KProbe = def.KProbe
	}
	if cfg.KTds == 0 {
		cfg.KTds = def.KTds
	}

	return &TDS{
		cfg:         cfg,
		KProbe:      cfg.KProbe,
		Temperature: ReferenceTemperature,
	}
}

// Voltage converts a raw ADC count to probe voltage.
func (t *TDS) Voltage(raw float32) float32 {
	return t.cfg.AnalogReference * raw / t.cfg.ADCRange
}

// Value returns the compensated TDS for a probe voltage.
func (t *TDS) Value(voltage float32) float32 {
	ec := t.KProbe * response(voltage)
	ec = ec / t.compensation()
	return t.cfg.KTds * ec
}

// Calibrate solves the probe constant so that voltage reads as reference ppm
// at the current temperature. State is unchanged on error.
func (t *TDS) Calibrate(reference, voltage float32) error {
	r := response(voltage)
	if r == 0 || math32.IsNaN(r) || math32.IsInf(r, 0) {
		return ErrDegenerate
	}
	rawEC := reference / t.cfg.KTds * t.compensation()
	t.KProbe = rawEC / r
	return nil
}

// SetTemperature sets the ambient temperature used for compensation.
func (t *TDS) SetTemperature(celsius float32) {
	t.Temperature = celsius
}

// Reset restores the compiled-in probe constant. Temperature is left as is.
func (t *TDS) Reset() {
	t.KProbe = t.cfg.KProbe
}

// DefaultKProbe returns the compiled-in probe constant.
func (t *TDS) DefaultKProbe() float32 {
	return t.cfg.KProbe
}

func (t *TDS) compensation() float32 {
	return 1.0 + t.cfg.KTemp*(t.Temperature-ReferenceTemperature)
}

func response(v float32) float32 {
	return ecCubic*math32.Pow(v, 3) - ecQuadratic*math32.Pow(v, 2) + ecLinear*v
}
