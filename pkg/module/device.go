package module

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/itohio/gowrm/pkg/protocol"
)

const (
	// DefaultBaudRate is the fixed link speed of the module.
	DefaultBaudRate = protocol.BaudRate
	// DefaultBufferSize is the default size for the readings channel buffer.
	DefaultBufferSize = 100
)

// ErrLinkUnavailable is returned when the port cannot be opened or written,
// or when the device is not connected. The link may be reopened afterwards.
var ErrLinkUnavailable = errors.New("link unavailable")

// Port represents a serial port.
type Port struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	USB         bool   `json:"usb"`
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(details))
	for _, d := range details {
		desc := d.Name
		if d.IsUSB {
			desc = fmt.Sprintf("%s (USB %s:%s %s)", d.Name, d.VID, d.PID, d.Product)
		}
		result = append(result, Port{
			Name:        d.Name,
			Description: desc,
			USB:         d.IsUSB,
		})
	}

	return result, nil
}

type opener func(name string, mode *serial.Mode) (io.ReadWriteCloser, error)

func openSerial(name string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	return serial.Open(name, mode)
}

// Serial represents a connection to the module over a serial port.
type Serial struct {
	port     string
	baudRate int
	bufSize  int
	log      zerolog.Logger
	open     opener

	conn      io.ReadWriteCloser
	scanner   *protocol.Scanner
	readings  chan Reading
	mu        sync.RWMutex
	writeMu   sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	spent     bool
	connected bool
}

// New creates a new Serial instance with the specified port, baud rate, and buffer size.
func New(port string, baudRate int, bufSize int, log zerolog.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	return &Serial{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		log:      log.With().Str("port", port).Logger(),
		open:     openSerial,
		scanner:  protocol.NewScanner(protocol.TelemetryFrameSize),
		readings: make(chan Reading, bufSize),
	}
}

// Connect opens the serial port (8N1) and starts decoding telemetry.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	mode := &serial.Mode{
		BaudRate: d.baudRate,
		DataBits: protocol.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	conn, err := d.open(d.port, mode)
	if err != nil {
		return fmt.Errorf("%w: failed to open serial port %s: %w", ErrLinkUnavailable, d.port, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.conn = conn
	d.cancel = cancel
	d.done = make(chan struct{})
	d.connected = true

	// The previous session closed its channel.
	if d.spent {
		d.readings = make(chan Reading, d.bufSize)
	}
	d.spent = true

	// A partial frame left by the previous session must not prefix this one.
	d.scanner.Reset()

	readings, done, scanner := d.readings, d.done, d.scanner
	go func() {
		defer close(done)
		defer close(readings)
		readFrames(ctx, conn, scanner, readings, d.log)
	}()

	d.log.Info().Int("baud", d.baudRate).Msg("connected")
	return nil
}

// Close closes the port and waits for the reader to stop. The readings
// channel is closed once the reader exits.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()
	if err := d.conn.Close(); err != nil {
		d.log.Warn().Err(err).Msg("error closing serial port")
	}
	<-d.done

	d.conn = nil
	d.connected = false
	d.log.Info().Msg("disconnected")

	return nil
}

// Readings returns the channel of decoded telemetry for the current session.
func (d *Serial) Readings() <-chan Reading {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.readings
}

// SendCommand encodes and writes a command frame.
func (d *Serial) SendCommand(kind protocol.Kind, cmd protocol.Command, arg uint16) error {
	if err := validateCommand(kind, cmd); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return fmt.Errorf("%w: not connected", ErrLinkUnavailable)
	}

	return sendFrame(&d.writeMu, d.conn, kind, cmd, arg, d.log)
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func sendFrame(mu *sync.Mutex, w io.Writer, kind protocol.Kind, cmd protocol.Command, arg uint16, log zerolog.Logger) error {
	frame := protocol.EncodeCommand(kind, cmd, arg)

	mu.Lock()
	_, err := w.Write(frame[:])
	mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: failed to send %s %s: %w", ErrLinkUnavailable, kind, cmd, err)
	}

	log.Debug().
		Stringer("kind", kind).
		Stringer("command", cmd).
		Uint16("arg", arg).
		Msg("command sent")
	return nil
}
