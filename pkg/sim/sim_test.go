package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gowrm/pkg/config"
	"github.com/itohio/gowrm/pkg/protocol"
)

func TestSignal_Steady(t *testing.T) {
	s := NewSignal(config.SignalConfig{Base: 2.5}, 1)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 2.5, s.Value())
	}

	s.Set(1.25)
	assert.Equal(t, 1.25, s.Base())
	assert.Equal(t, 1.25, s.Value())
}

func TestSignal_NoiseBounded(t *testing.T) {
	s := NewSignal(config.SignalConfig{Base: 10, Noise: 0.5}, 42)
	varied := false
	for i := 0; i < 1000; i++ {
		v := s.Value()
		assert.InDelta(t, 10, v, 0.5)
		if v != 10 {
			varied = true
		}
	}
	assert.True(t, varied)
}

func TestSignal_Deterministic(t *testing.T) {
	cfg := config.SignalConfig{Base: 1, Noise: 0.1, SpikeRate: 0.3, Spike: 1}
	a, b := NewSignal(cfg, 7), NewSignal(cfg, 7)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Value(), b.Value())
	}
}

func TestSignal_Spikes(t *testing.T) {
	s := NewSignal(config.SignalConfig{Base: 5, SpikeRate: 1, Spike: 2}, 3)
	for i := 0; i < 20; i++ {
		v := s.Value()
		assert.True(t, v == 3 || v == 7, "got %v", v)
	}
}

func TestSignal_Drift(t *testing.T) {
	s := NewSignal(config.SignalConfig{Base: 20, Amplitude: 2, Period: 4 * time.Second}, 1)
	now := s.start
	s.now = func() time.Time { return now }

	assert.InDelta(t, 20, s.Value(), 1e-9)
	now = s.start.Add(time.Second)
	assert.InDelta(t, 22, s.Value(), 1e-9)
	now = s.start.Add(3 * time.Second)
	assert.InDelta(t, 18, s.Value(), 1e-9)
}

func TestAnalog(t *testing.T) {
	tests := []struct {
		name  string
		volts float64
		want  float32
	}{
		{"mid scale", 2.5, 512},
		{"zero", 0, 0},
		{"negative clamps", -1, 0},
		{"overrange clamps", 6, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := Analog(NewSignal(config.SignalConfig{Base: tt.volts}, 1), 5, 1024)
			assert.Equal(t, tt.want, src.Sample())
		})
	}

	assert.Equal(t, float32(0), Analog(NewSignal(config.SignalConfig{Base: 1}, 1), 0, 1024).Sample())
}

func TestBench_Sensors(t *testing.T) {
	cfg := config.Default()
	cfg.Mock.Temperature = config.SignalConfig{Base: 24}
	cfg.Mock.PH = config.SignalConfig{Base: 2.0}
	cfg.Sensors.PH.Filtered = false
	cfg.Sensors.TDS.Enabled = false

	b := NewBench(cfg)
	sensors, err := b.Sensors()
	require.NoError(t, err)
	require.Len(t, sensors, 2)
	assert.Equal(t, protocol.Temperature, sensors[0].Kind())
	assert.Equal(t, protocol.PH, sensors[1].Kind())

	// An uncalibrated probe at 2.0 V reads 3.5 * 2.0 = 7.0 give or take ADC rounding.
	sensors[1].Update()
	assert.InDelta(t, 7.0, sensors[1].Read(), 1e-3)

	sensors[0].Update()
	assert.Equal(t, float32(24), sensors[0].Value())
}

func TestBench_Source(t *testing.T) {
	b := NewBench(nil)

	_, err := b.Source(protocol.Kind(9))
	assert.Error(t, err)

	b.Signal(protocol.TDS).Set(0)
	b.Signal(protocol.TDS).cfg.Amplitude = 0
	b.Signal(protocol.TDS).cfg.Noise = 0
	src, err := b.Source(protocol.TDS)
	require.NoError(t, err)
	assert.Equal(t, float32(0), src.Sample())
}
