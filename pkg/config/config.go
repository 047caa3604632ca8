package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/gowrm/pkg/calib"
	"github.com/itohio/gowrm/pkg/filter"
	"github.com/itohio/gowrm/pkg/link"
	"github.com/itohio/gowrm/pkg/protocol"
	"github.com/itohio/gowrm/pkg/sensor"
)

// Config represents the application configuration.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Sensors SensorsConfig `yaml:"sensors"`
	Link    LinkConfig    `yaml:"link"`
	Monitor MonitorConfig `yaml:"monitor"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Log     LogConfig     `yaml:"log"`
	Mock    MockConfig    `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// ProbeConfig contains the filtering options shared by every probe.
type ProbeConfig struct {
	Enabled  bool        `yaml:"enabled"`
	Filtered bool        `yaml:"filtered"`
	Filter   filter.Kind `yaml:"filter"`
	Window   int         `yaml:"window"`
	Initial  float32     `yaml:"initial"`
}

// PHProbeConfig adds the pH model constants.
type PHProbeConfig struct {
	ProbeConfig    `yaml:",inline"`
	calib.PHConfig `yaml:",inline"`
}

// TDSProbeConfig adds the TDS model constants.
type TDSProbeConfig struct {
	ProbeConfig     `yaml:",inline"`
	calib.TDSConfig `yaml:",inline"`
}

// SensorsConfig contains per-probe configuration.
type SensorsConfig struct {
	Temperature ProbeConfig    `yaml:"temperature"`
	PH          PHProbeConfig  `yaml:"ph"`
	TDS         TDSProbeConfig `yaml:"tds"`
}

// LinkConfig contains device-side session parameters.
type LinkConfig struct {
	Interval   time.Duration `yaml:"interval"`   // telemetry tick
	Policy     link.Policy   `yaml:"policy"`     // always | on-change
	Compensate bool          `yaml:"compensate"` // feed temperature into TDS compensation
}

// MonitorConfig contains host-side telemetry history parameters.
type MonitorConfig struct {
	History int `yaml:"history"` // readings kept per sensor
	Buffer  int `yaml:"buffer"`  // readings channel capacity
}

// BridgeConfig contains the HTTP/WebSocket bridge parameters.
type BridgeConfig struct {
	Listen string `yaml:"listen"` // empty disables the bridge
}

// LogConfig contains logging parameters.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SignalConfig describes a simulated raw signal.
type SignalConfig struct {
	Base      float64       `yaml:"base"`       // nominal value (°C for temperature, V for analog probes)
	Amplitude float64       `yaml:"amplitude"`  // slow drift amplitude
	Period    time.Duration `yaml:"period"`     // slow drift period
	Noise     float64       `yaml:"noise"`      // peak uniform noise
	SpikeRate float64       `yaml:"spike_rate"` // probability of a spike per sample
	Spike     float64       `yaml:"spike"`      // spike magnitude
}

// MockConfig contains mock device configuration.
type MockConfig struct {
	Seed        int64        `yaml:"seed"`
	Temperature SignalConfig `yaml:"temperature"`
	PH          SignalConfig `yaml:"ph"`
	TDS         SignalConfig `yaml:"tds"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	probe := ProbeConfig{
		Enabled:  true,
		Filtered: true,
		Filter:   filter.MovingAverage,
		Window:   filter.DefaultSize,
	}
	phProbe := probe
	phProbe.Filter = filter.Median
	phProbe.Initial = 7.0

	return &Config{
		Serial: SerialConfig{
			Port:     "COM3", // Default for Windows, should be "/dev/ttyACM0" on Linux/Mac
			BaudRate: protocol.BaudRate,
		},
		Sensors: SensorsConfig{
			Temperature: probe,
			PH: PHProbeConfig{
				ProbeConfig: phProbe,
				PHConfig:    calib.DefaultPH(),
			},
			TDS: TDSProbeConfig{
				ProbeConfig: probe,
				TDSConfig:   calib.DefaultTDS(),
			},
		},
		Link: LinkConfig{
			Interval:   link.DefaultInterval,
			Policy:     link.Always,
			Compensate: true,
		},
		Monitor: MonitorConfig{
			History: 100,
			Buffer:  100,
		},
		Log: LogConfig{
			Level: "info",
		},
		Mock: MockConfig{
			Seed: 1,
			Temperature: SignalConfig{
				Base:      22.0,
				Amplitude: 1.5,
				Period:    2 * time.Minute,
				Noise:     0.1,
			},
			PH: SignalConfig{
				Base:      2.0, // pH 7 on an uncalibrated probe
				Amplitude: 0.05,
				Period:    90 * time.Second,
				Noise:     0.01,
				SpikeRate: 0.02,
				Spike:     0.5,
			},
			TDS: SignalConfig{
				Base:      1.2,
				Amplitude: 0.1,
				Period:    3 * time.Minute,
				Noise:     0.01,
			},
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Sensor returns the construction config for a probe kind and whether the
// probe is enabled.
func (c *Config) Sensor(kind protocol.Kind) (sensor.Config, bool) {
	var (
		probe ProbeConfig
		out   = sensor.Config{Kind: kind}
	)

	switch kind {
	case protocol.Temperature:
		probe = c.Sensors.Temperature
	case protocol.PH:
		probe = c.Sensors.PH.ProbeConfig
		out.PH = c.Sensors.PH.PHConfig
	case protocol.TDS:
		probe = c.Sensors.TDS.ProbeConfig
		out.TDS = c.Sensors.TDS.TDSConfig
	default:
		return out, false
	}

	out.Filtered = probe.Filtered
	filterKind := probe.Filter
	out.Filter = &filterKind
	out.WindowSize = probe.Window
	out.Initial = probe.Initial
	return out, probe.Enabled
}

// LinkOptions returns the session options.
func (c *Config) LinkOptions() link.Options {
	return link.Options{
		Policy:     c.Link.Policy,
		Compensate: c.Link.Compensate,
	}
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	for _, p := range []*ProbeConfig{&c.Sensors.Temperature, &c.Sensors.PH.ProbeConfig, &c.Sensors.TDS.ProbeConfig} {
		if p.Window <= 0 {
			p.Window = filter.DefaultSize
		}
	}

	ph := &c.Sensors.PH.PHConfig
	if ph.AnalogReference == 0 {
		ph.AnalogReference = def.Sensors.PH.AnalogReference
	}
	if ph.ADCRange == 0 {
		ph.ADCRange = def.Sensors.PH.ADCRange
	}
	if ph.K == 0 {
		ph.K = def.Sensors.PH.K
	}

	tds := &c.Sensors.TDS.TDSConfig
	if tds.AnalogReference == 0 {
		tds.AnalogReference = def.Sensors.TDS.AnalogReference
	}
	if tds.ADCRange == 0 {
		tds.ADCRange = def.Sensors.TDS.ADCRange
	}
	if tds.KProbe == 0 {
		tds.KProbe = def.Sensors.TDS.KProbe
	}
	if tds.KTds == 0 {
		tds.KTds = def.Sensors.TDS.KTds
	}

	if c.Link.Interval <= 0 {
		c.Link.Interval = def.Link.Interval
	}

	if c.Monitor.History <= 0 {
		c.Monitor.History = def.Monitor.History
	}
	if c.Monitor.Buffer <= 0 {
		c.Monitor.Buffer = def.Monitor.Buffer
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
