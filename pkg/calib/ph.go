package calib

// Reference pH of the neutral buffer used as the pivot of every pH model.
const neutralPH = 7.0

// PHConfig holds the compiled-in constants of a pH probe.
type PHConfig struct {
	AnalogReference float32 `yaml:"analog_reference"` // ADC reference voltage (V)
	ADCRange        float32 `yaml:"adc_range"`        // ADC full-scale count
	K               float32 `yaml:"k"`                // basic-mode slope (pH/V)
	Low             float32 `yaml:"low"`              // default pH 4 voltage (V)
	Middle          float32 `yaml:"middle"`           // default pH 7 voltage (V)
	High            float32 `yaml:"high"`             // default pH 10 voltage (V)
	Advanced        bool    `yaml:"advanced"`         // start in three-point mode
}

// DefaultPH returns the constants for the E-201-C probe module.
func DefaultPH() PHConfig {
	return PHConfig{
		AnalogReference: 5.0,
		ADCRange:        1023.0,
		K:               3.5,
		Low:             1.15,
		Middle:          2.0,
		High:            2.85,
	}
}

// PH converts probe voltage to pH.
//
// In basic mode value = K * (voltage + Zero), calibrated with a single pH 7
// buffer. In advanced mode three reference voltages are recorded and the
// value is interpolated piecewise around the middle (pH 7) point.
type PH struct {
	cfg PHConfig

	Zero     float32
	Low      float32
	Middle   float32
	High     float32
	advanced bool
}

// NewPH creates a pH model with default calibration.
func NewPH(cfg PHConfig) *PH {
	def := DefaultPH()
	if cfg.AnalogReference == 0 {
		cfg.AnalogReference = def.AnalogReference
	}
	if cfg.ADCRange == 0 {
		cfg.ADCRange = def.ADCRange
	}
	if cfg.K == 0 {
		cfg.K = def.K
	}
	if cfg.Low == 0 && cfg.Middle == 0 && cfg.High == 0 {
		cfg.Low, cfg.Middle, cfg.High = def.Low, def.Middle, def.High
	}

	return &PH{
		cfg:      cfg,
		Low:      cfg.Low,
		Middle:   cfg.Middle,
		High:     cfg.High,
		advanced: cfg.Advanced,
	}
}

// Voltage converts a raw ADC count to probe voltage.
func (p *PH) Voltage(raw float32) float32 {
	return p.cfg.AnalogReference * raw / p.cfg.ADCRange
}

// Value returns the pH for a probe voltage using the active mode.
func (p *PH) Value(voltage float32) float32 {
	if !p.advanced {
		return p.cfg.K * (voltage + p.Zero)
	}
	if voltage > p.Middle {
		return neutralPH - 3.0/(p.Middle-p.High)*(voltage-p.Middle)
	}
	return neutralPH - 3.0/(p.Low-p.Middle)*(voltage-p.Middle)
}

// Calibrate sets the zero offset so that voltage reads as pH 7 in basic mode.
func (p *PH) Calibrate(voltage float32) {
	p.Zero = neutralPH/p.cfg.K - voltage
}

func (p *PH) CalibrateLow(voltage float32)    { p.Low = voltage }
func (p *PH) CalibrateMiddle(voltage float32) { p.Middle = voltage }
func (p *PH) CalibrateHigh(voltage float32)   { p.High = voltage }

// SetAdvanced switches between basic and three-point mode. The choice
// persists until changed again.
func (p *PH) SetAdvanced(advanced bool) {
	p.advanced = advanced
}

// Advanced reports whether three-point mode is active.
func (p *PH) Advanced() bool {
	return p.advanced
}

// K returns the basic-mode slope.
func (p *PH) K() float32 {
	return p.cfg.K
}

// Reset restores the defaults of the active mode only.
func (p *PH) Reset() {
	if p.advanced {
		p.Low, p.Middle, p.High = p.cfg.Low, p.cfg.Middle, p.cfg.High
		return
	}
	p.Zero = 0
}
