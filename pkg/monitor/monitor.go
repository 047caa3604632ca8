package monitor

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/itohio/gowrm/pkg/module"
	"github.com/itohio/gowrm/pkg/protocol"
)

// DefaultHistory is the number of readings kept per sensor.
const DefaultHistory = 100

var _ Telemetry = (*Monitor)(nil)

// Telemetry consumes readings from a device and keeps a short history per sensor.
type Telemetry interface {
	Process(input <-chan module.Reading)
	History(kind protocol.Kind) []module.Reading // oldest first
	Snapshot() []Summary                         // one entry per sensor with data
	OnReading(func(r module.Reading))            // register callback for new readings
	Reset()
}

// Summary describes the recent history of one sensor.
type Summary struct {
	Kind      protocol.Kind `json:"kind"`
	Unit      string        `json:"unit"`
	Last      float64       `json:"last"`
	Timestamp time.Time     `json:"timestamp"`
	Count     int           `json:"count"`
	Mean      float64       `json:"mean"`
	StdDev    float64       `json:"stddev"`
	Min       float64       `json:"min"`
	Max       float64       `json:"max"`
}

// Monitor implements Telemetry. History is a FIFO per sensor kind, oldest
// reading first; once full the oldest reading is dropped.
type Monitor struct {
	size int

	mu       sync.RWMutex
	readings map[protocol.Kind][]module.Reading
	shutdown bool // set when the input channel closes, prevents further callbacks

	callbacks []func(r module.Reading)
	cbMu      sync.RWMutex
}

// New creates a monitor keeping size readings per sensor.
func New(size int) *Monitor {
	if size <= 0 {
		size = DefaultHistory
	}
	return &Monitor{
		size:     size,
		readings: make(map[protocol.Kind][]module.Reading),
	}
}

// Process consumes readings until the input channel closes.
func (m *Monitor) Process(input <-chan module.Reading) {
	for r := range input {
		m.Add(r)
	}
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
}

// Add records a reading and notifies callbacks.
func (m *Monitor) Add(r module.Reading) {
	m.mu.Lock()
	h := append(m.readings[r.Kind], r)
	if len(h) > m.size {
		h = append(h[:0], h[len(h)-m.size:]...)
	}
	m.readings[r.Kind] = h
	shutdown := m.shutdown
	m.mu.Unlock()

	if !shutdown {
		m.notify(r)
	}
}

// History returns a copy of the readings of one sensor.
func (m *Monitor) History(kind protocol.Kind) []module.Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]module.Reading, len(m.readings[kind]))
	copy(result, m.readings[kind])
	return result
}

// Snapshot summarizes every sensor that has reported, in protocol order.
func (m *Monitor) Snapshot() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Summary, 0, len(m.readings))
	for _, kind := range protocol.Kinds {
		if h := m.readings[kind]; len(h) > 0 {
			result = append(result, summarize(kind, h))
		}
	}
	return result
}

// OnReading registers a callback invoked for every new reading. The callback
// should return quickly.
func (m *Monitor) OnReading(callback func(r module.Reading)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Reset clears the history and re-enables callbacks. Call it before
// processing a new connection.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = make(map[protocol.Kind][]module.Reading)
	m.shutdown = false
}

func (m *Monitor) notify(r module.Reading) {
	m.cbMu.RLock()
	callbacks := make([]func(r module.Reading), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(r)
		}
	}
}

func summarize(kind protocol.Kind, h []module.Reading) Summary {
	values := make([]float64, len(h))
	for i, r := range h {
		values[i] = r.Value
	}

	last := h[len(h)-1]
	s := Summary{
		Kind:      kind,
		Unit:      kind.Unit(),
		Last:      last.Value,
		Timestamp: last.Timestamp,
		Count:     len(values),
		Min:       floats.Min(values),
		Max:       floats.Max(values),
	}
	if len(values) > 1 {
		s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	} else {
		s.Mean = values[0]
	}
	return s
}
