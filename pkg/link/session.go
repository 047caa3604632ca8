package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/itohio/gowrm/pkg/protocol"
	"github.com/itohio/gowrm/pkg/sensor"
)

const (
	// DefaultInterval is the telemetry tick used when none is configured.
	DefaultInterval = 500 * time.Millisecond
	readChunk       = 64
)

// ErrUnknownSensor is returned when a command addresses a kind with no sensor.
var ErrUnknownSensor = errors.New("no sensor for kind")

// Policy decides when a telemetry frame is emitted for a sensor.
type Policy uint8

const (
	// Always emits one frame per sensor per tick.
	Always Policy = iota
	// OnChange emits only when the encoded value differs from the last one sent.
	OnChange
)

func (p Policy) String() string {
	if p == OnChange {
		return "on-change"
	}
	return "always"
}

func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Policy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "always":
		*p = Always
	case "on-change", "onchange", "change":
		*p = OnChange
	default:
		return fmt.Errorf("unknown telemetry policy %q", text)
	}
	return nil
}

// Options configure a Session.
type Options struct {
	Policy Policy
	// Compensate feeds the temperature reading into TDS compensation each tick.
	Compensate bool
}

// Stats counts session traffic.
type Stats struct {
	Received   int // valid command frames
	Dropped    int // frames rejected by checksum
	Discarded  int // stray bytes skipped before a prefix
	Dispatched int // commands applied to a sensor
	Rejected   int // valid frames whose command could not be applied
	Sent       int // telemetry frames written
}

// Session is the device end of the link. Feed, Dispatch and Tick are not safe
// for concurrent use; Run serialises them onto one goroutine. Stats may be
// called from anywhere.
type Session struct {
	rw      io.ReadWriter
	opts    Options
	log     zerolog.Logger
	sensors []*sensor.Sensor
	byKind  map[protocol.Kind]*sensor.Sensor
	scanner *protocol.Scanner
	last    map[protocol.Kind]uint16

	mu    sync.Mutex
	stats Stats
}

// New creates a session over rw serving the given sensors. At most one sensor
// per kind is allowed. Sensors are served in protocol order regardless of the
// order given, so temperature is sampled before TDS on every tick.
func New(rw io.ReadWriter, sensors []*sensor.Sensor, opts Options, log zerolog.Logger) (*Session, error) {
	sensors = append([]*sensor.Sensor(nil), sensors...)
	sort.SliceStable(sensors, func(i, j int) bool { return sensors[i].Kind() < sensors[j].Kind() })

	byKind := make(map[protocol.Kind]*sensor.Sensor, len(sensors))
	for _, s := range sensors {
		if _, dup := byKind[s.Kind()]; dup {
			return nil, fmt.Errorf("duplicate %s sensor", s.Kind())
		}
		byKind[s.Kind()] = s
	}

	return &Session{
		rw:      rw,
		opts:    opts,
		log:     log,
		sensors: sensors,
		byKind:  byKind,
		scanner: protocol.NewScanner(protocol.CommandFrameSize),
		last:    make(map[protocol.Kind]uint16, len(sensors)),
	}, nil
}

// Sensor returns the sensor serving kind, or nil.
func (s *Session) Sensor(kind protocol.Kind) *sensor.Sensor {
	return s.byKind[kind]
}

// Feed consumes inbound bytes and dispatches every complete valid command.
// Malformed frames are dropped without reply.
func (s *Session) Feed(p []byte) {
	s.scanner.Write(p)
	for {
		frame, ok := s.scanner.Next()
		if !ok {
			break
		}
		cmd, err := protocol.DecodeCommand(frame)
		if err != nil {
			s.log.Debug().Err(err).Msg("dropping frame")
			continue
		}
		s.count(func(st *Stats) { st.Received++ })
		if err := s.Dispatch(cmd); err != nil {
			s.count(func(st *Stats) { st.Rejected++ })
			s.log.Warn().Err(err).
				Stringer("kind", cmd.Kind).
				Stringer("command", cmd.Command).
				Uint16("arg", cmd.Arg).
				Msg("command rejected")
			continue
		}
		s.count(func(st *Stats) { st.Dispatched++ })
	}

	s.count(func(st *Stats) {
		if d := s.scanner.Dropped - st.Dropped; d > 0 {
			s.log.Debug().Int("frames", d).Msg("dropped corrupted frames")
		}
		st.Dropped = s.scanner.Dropped
		st.Discarded = s.scanner.Discarded
	})
}

// Dispatch applies a decoded command to the addressed sensor only.
func (s *Session) Dispatch(cmd protocol.CommandFrame) error {
	target, ok := s.byKind[cmd.Kind]
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownSensor, cmd.Kind)
	}
	if err := target.Apply(cmd.Command, cmd.Arg); err != nil {
		return err
	}
	// A changed calibration must be reported on the next tick even if the
	// encoded value happens to match.
	delete(s.last, cmd.Kind)
	s.log.Info().
		Stringer("kind", cmd.Kind).
		Stringer("command", cmd.Command).
		Uint16("arg", cmd.Arg).
		Msg("command applied")
	return nil
}

// Tick samples every sensor and emits telemetry according to the policy.
func (s *Session) Tick() error {
	values := make([]float32, len(s.sensors))
	for i, sn := range s.sensors {
		sn.Update()
		values[i] = sn.Read()
		if s.opts.Compensate && sn.Kind() == protocol.Temperature {
			if tds := s.byKind[protocol.TDS]; tds != nil {
				tds.SetTemperature(values[i])
			}
		}
	}

	for i, sn := range s.sensors {
		raw := protocol.ToFixed(float64(values[i]))
		if s.opts.Policy == OnChange {
			if prev, ok := s.last[sn.Kind()]; ok && prev == raw {
				continue
			}
		}

		frame := protocol.EncodeTelemetryRaw(sn.Kind(), raw)
		if _, err := s.rw.Write(frame[:]); err != nil {
			return fmt.Errorf("failed to send %s telemetry: %w", sn.Kind(), err)
		}
		s.last[sn.Kind()] = raw
		s.count(func(st *Stats) { st.Sent++ })
	}
	return nil
}

// Stats returns a copy of the traffic counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Session) count(fn func(st *Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

// Run reads commands and emits telemetry every interval until ctx is done or
// the stream fails. A reader goroutine only forwards bytes; all sensor state
// is touched from the calling goroutine.
func (s *Session) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	chunks := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go s.readLoop(ctx, chunks, readErr)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-chunks:
			s.Feed(p)
		case err := <-readErr:
			s.drain(chunks)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("link read failed: %w", err)
		case <-ticker.C:
			if err := s.Tick(); err != nil {
				return err
			}
		}
	}
}

func (s *Session) drain(chunks <-chan []byte) {
	for {
		select {
		case p := <-chunks:
			s.Feed(p)
		default:
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context, chunks chan<- []byte, errs chan<- error) {
	buf := make([]byte, readChunk)
	for {
		n, err := s.rw.Read(buf)
		if n > 0 {
			p := make([]byte, n)
			copy(p, buf[:n])
			select {
			case chunks <- p:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			errs <- err
			return
		}
	}
}
