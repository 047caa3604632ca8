package module

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/itohio/gowrm/pkg/config"
	"github.com/itohio/gowrm/pkg/link"
	"github.com/itohio/gowrm/pkg/protocol"
	"github.com/itohio/gowrm/pkg/sim"
)

// Mock simulates a module for testing and development. It runs the device
// session on simulated probes behind an in-memory pipe, so every reading and
// command crosses the wire format.
type Mock struct {
	cfg   *config.Config
	log   zerolog.Logger
	bench *sim.Bench

	readings  chan Reading
	mu        sync.RWMutex
	writeMu   sync.Mutex
	host      net.Conn
	session   *link.Session
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	spent     bool
	connected bool
}

// NewMock creates a new mocked device instance.
func NewMock(cfg *config.Config, log zerolog.Logger) *Mock {
	if cfg == nil {
		cfg = config.Default()
	}

	bufSize := cfg.Monitor.Buffer
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	return &Mock{
		cfg:      cfg,
		log:      log.With().Str("port", "mock").Logger(),
		bench:    sim.NewBench(cfg),
		readings: make(chan Reading, bufSize),
	}
}

// Bench exposes the simulated probes.
func (m *Mock) Bench() *sim.Bench {
	return m.bench
}

// Session returns the simulated device session, or nil when disconnected.
func (m *Mock) Session() *link.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Connect boots the simulated device with fresh calibration state.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	sensors, err := m.bench.Sensors()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLinkUnavailable, err)
	}

	device, host := net.Pipe()
	session, err := link.New(device, sensors, m.cfg.LinkOptions(), m.log.With().Str("side", "device").Logger())
	if err != nil {
		device.Close()
		host.Close()
		return fmt.Errorf("%w: %w", ErrLinkUnavailable, err)
	}

	if m.spent {
		m.readings = make(chan Reading, cap(m.readings))
	}
	m.spent = true

	ctx, cancel := context.WithCancel(context.Background())
	m.host = host
	m.session = session
	m.cancel = cancel
	m.connected = true

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		defer device.Close()
		if err := session.Run(ctx, m.cfg.Link.Interval); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn().Err(err).Msg("simulated device stopped")
		}
	}()

	readings := m.readings
	go func() {
		defer m.wg.Done()
		defer close(readings)
		readFrames(ctx, host, protocol.NewScanner(protocol.TelemetryFrameSize), readings, m.log)
	}()

	return nil
}

// Close stops the mocked device.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.cancel()
	m.host.Close()
	m.wg.Wait()

	m.host = nil
	m.session = nil
	m.connected = false

	return nil
}

// Readings returns the channel for reading decoded telemetry.
func (m *Mock) Readings() <-chan Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readings
}

// SendCommand writes a command frame to the simulated device.
func (m *Mock) SendCommand(kind protocol.Kind, cmd protocol.Command, arg uint16) error {
	if err := validateCommand(kind, cmd); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return fmt.Errorf("%w: not connected", ErrLinkUnavailable)
	}

	return sendFrame(&m.writeMu, m.host, kind, cmd, arg, m.log)
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}
