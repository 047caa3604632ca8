package sim

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/itohio/gowrm/pkg/config"
	"github.com/itohio/gowrm/pkg/protocol"
	"github.com/itohio/gowrm/pkg/sensor"
)

// Bench is a simulated set of probes wired to the sensors described by a
// configuration.
type Bench struct {
	cfg     *config.Config
	signals map[protocol.Kind]*Signal
}

// NewBench creates one signal per sensor kind. Each kind gets its own noise
// sequence derived from the mock seed.
func NewBench(cfg *config.Config) *Bench {
	if cfg == nil {
		cfg = config.Default()
	}

	signals := map[protocol.Kind]*Signal{
		protocol.Temperature: NewSignal(cfg.Mock.Temperature, cfg.Mock.Seed),
		protocol.PH:          NewSignal(cfg.Mock.PH, cfg.Mock.Seed+1),
		protocol.TDS:         NewSignal(cfg.Mock.TDS, cfg.Mock.Seed+2),
	}

	return &Bench{cfg: cfg, signals: signals}
}

// Signal returns the generator behind a probe, or nil.
func (b *Bench) Signal(kind protocol.Kind) *Signal {
	return b.signals[kind]
}

// Source returns the raw source for a probe: °C for temperature, ADC counts
// for the analog probes.
func (b *Bench) Source(kind protocol.Kind) (sensor.Source, error) {
	sig, ok := b.signals[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %d", sensor.ErrUnknownKind, uint8(kind))
	}

	switch kind {
	case protocol.PH:
		ph := b.cfg.Sensors.PH
		return Analog(sig, ph.AnalogReference, ph.ADCRange), nil
	case protocol.TDS:
		tds := b.cfg.Sensors.TDS
		return Analog(sig, tds.AnalogReference, tds.ADCRange), nil
	default:
		return Direct(sig), nil
	}
}

// Sensors builds every enabled sensor in protocol order.
func (b *Bench) Sensors() ([]*sensor.Sensor, error) {
	var out []*sensor.Sensor
	for _, kind := range protocol.Kinds {
		cfg, enabled := b.cfg.Sensor(kind)
		if !enabled {
			continue
		}
		src, err := b.Source(kind)
		if err != nil {
			return nil, err
		}
		s, err := sensor.New(cfg, src)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s sensor: %w", kind, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Direct reports the signal value unchanged.
func Direct(sig *Signal) sensor.Source {
	return sensor.SourceFunc(func() float32 {
		return float32(sig.Value())
	})
}

// Analog reports the signal, in volts, as ADC counts clamped to [0, adcRange].
func Analog(sig *Signal, reference, adcRange float32) sensor.Source {
	return sensor.SourceFunc(func() float32 {
		if reference <= 0 {
			return 0
		}
		count := float32(sig.Value()) * adcRange / reference
		return math32.Max(0, math32.Min(count, adcRange))
	})
}
