package module

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/itohio/gowrm/pkg/protocol"
)

// ErrLinkStopped is returned by Open once the link has been stopped.
var ErrLinkStopped = errors.New("link stopped")

// Opener builds the device serving a port name.
type Opener func(port string) Device

// Link keeps at most one device open and forwards its readings into a channel
// that survives reconnects. It implements Device for the selected port.
type Link struct {
	open Opener
	log  zerolog.Logger
	out  chan Reading
	lost chan struct{}

	mu      sync.Mutex
	port    string
	dev     Device
	quit    chan struct{} // closed before dev is closed on purpose
	fwdDone chan struct{} // closed when the forwarder of dev exits
	stopped bool
}

// NewLink creates a closed link that will open port on Connect.
func NewLink(port string, bufSize int, open Opener, log zerolog.Logger) *Link {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Link{
		open: open,
		log:  log,
		out:  make(chan Reading, bufSize),
		lost: make(chan struct{}, 1),
		port: port,
	}
}

// Port returns the selected port name.
func (l *Link) Port() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// Device returns the open device, or nil.
func (l *Link) Device() Device {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dev
}

// Connect opens the selected port.
func (l *Link) Connect() error {
	return l.Open("")
}

// Open closes the current device, if any, and connects to port. An empty
// port reopens the selected one. The selection only changes on success.
func (l *Link) Open(port string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return ErrLinkStopped
	}
	if port == "" {
		port = l.port
	}

	if err := l.closeLocked(); err != nil {
		l.log.Warn().Err(err).Msg("error closing previous link")
	}

	dev := l.open(port)
	if err := dev.Connect(); err != nil {
		return err
	}

	l.dev = dev
	l.port = port
	l.quit = make(chan struct{})
	l.fwdDone = make(chan struct{})
	go l.forward(dev.Readings(), l.quit, l.fwdDone)

	l.log.Info().Str("port", port).Msg("link open")
	return nil
}

// Close closes the current device and discards its unread readings. The
// readings channel stays open so the link can be reopened.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

// Stop closes the link for good and closes the readings channel.
func (l *Link) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return nil
	}
	err := l.closeLocked()
	l.stopped = true
	close(l.out)
	return err
}

// Readings returns the channel of readings from every device opened by the
// link. It is closed by Stop.
func (l *Link) Readings() <-chan Reading {
	return l.out
}

// Lost signals when an open device stops sending readings without being
// closed through the link.
func (l *Link) Lost() <-chan struct{} {
	return l.lost
}

// SendCommand forwards a command to the open device.
func (l *Link) SendCommand(kind protocol.Kind, cmd protocol.Command, arg uint16) error {
	if err := validateCommand(kind, cmd); err != nil {
		return err
	}

	l.mu.Lock()
	dev := l.dev
	l.mu.Unlock()

	if dev == nil {
		return fmt.Errorf("%w: not connected", ErrLinkUnavailable)
	}
	return dev.SendCommand(kind, cmd, arg)
}

// IsConnected reports whether a device is open and connected.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dev != nil && l.dev.IsConnected()
}

func (l *Link) closeLocked() error {
	if l.dev == nil {
		return nil
	}

	close(l.quit)
	err := l.dev.Close()
	<-l.fwdDone
	l.drain()

	l.log.Info().Str("port", l.port).Msg("link closed")
	l.dev, l.quit, l.fwdDone = nil, nil, nil
	return err
}

// drain discards readings of the closed device that nobody consumed yet.
func (l *Link) drain() {
	for {
		select {
		case <-l.out:
		default:
			return
		}
	}
}

func (l *Link) forward(readings <-chan Reading, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for r := range readings {
		select {
		case l.out <- r:
		default:
			l.log.Warn().Stringer("kind", r.Kind).Msg("readings channel full, dropping reading")
		}
	}

	select {
	case <-quit:
	default:
		l.log.Warn().Msg("device stopped sending readings")
		select {
		case l.lost <- struct{}{}:
		default:
		}
	}
}
