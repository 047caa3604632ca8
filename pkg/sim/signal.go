package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/itohio/gowrm/pkg/config"
)

// Signal simulates a physical quantity seen by a probe: a base level with a
// slow sinusoidal drift, uniform noise and occasional spikes.
type Signal struct {
	mu    sync.Mutex
	cfg   config.SignalConfig
	rng   *rand.Rand
	start time.Time
	now   func() time.Time
}

// NewSignal creates a signal generator with a deterministic noise sequence.
func NewSignal(cfg config.SignalConfig, seed int64) *Signal {
	return &Signal{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		start: time.Now(),
		now:   time.Now,
	}
}

// Set moves the base level, e.g. when the probe is dipped into a buffer.
func (s *Signal) Set(base float64) {
	s.mu.Lock()
	s.cfg.Base = base
	s.mu.Unlock()
}

// Base returns the current base level.
func (s *Signal) Base() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Base
}

// Value returns the next sample.
func (s *Signal) Value() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.cfg.Base
	if s.cfg.Amplitude != 0 && s.cfg.Period > 0 {
		elapsed := s.now().Sub(s.start).Seconds()
		v += s.cfg.Amplitude * math.Sin(2*math.Pi*elapsed/s.cfg.Period.Seconds())
	}
	if s.cfg.Noise > 0 {
		v += s.cfg.Noise * (2*s.rng.Float64() - 1)
	}
	if s.cfg.SpikeRate > 0 && s.rng.Float64() < s.cfg.SpikeRate {
		if s.rng.Intn(2) == 0 {
			v += s.cfg.Spike
		} else {
			v -= s.cfg.Spike
		}
	}
	return v
}
