package module

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/itohio/gowrm/pkg/protocol"
)

// pipeSerial returns a Serial whose port is one end of an in-memory pipe.
// Each Connect creates a new pipe and publishes the far end on remotes.
func pipeSerial(t *testing.T) (*Serial, <-chan net.Conn) {
	t.Helper()
	remotes := make(chan net.Conn, 4)
	d := New("test", 0, 10, zerolog.Nop())
	d.open = func(name string, mode *serial.Mode) (io.ReadWriteCloser, error) {
		assert.Equal(t, "test", name)
		assert.Equal(t, 115200, mode.BaudRate)
		assert.Equal(t, 8, mode.DataBits)
		assert.Equal(t, serial.NoParity, mode.Parity)
		assert.Equal(t, serial.OneStopBit, mode.StopBits)

		local, remote := net.Pipe()
		remotes <- remote
		t.Cleanup(func() { remote.Close() })
		return local, nil
	}
	return d, remotes
}

func telemetry(kind protocol.Kind, value float64) []byte {
	f := protocol.EncodeTelemetry(kind, value)
	return f[:]
}

func nextReading(t *testing.T, ch <-chan Reading) Reading {
	t.Helper()
	select {
	case r, ok := <-ch:
		require.True(t, ok, "readings channel closed")
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reading received")
	}
	return Reading{}
}

func TestSerial_Readings(t *testing.T) {
	d, remotes := pipeSerial(t)
	require.NoError(t, d.Connect())
	defer d.Close()
	remote := <-remotes

	var stream []byte
	stream = append(stream, 0x00, 0xFF)
	stream = append(stream, telemetry(protocol.PH, 7.0)...)
	bad := telemetry(protocol.TDS, 1)
	bad[4]++
	stream = append(stream, bad...)
	stream = append(stream, telemetry(protocol.TDS, 707.0)...)

	go remote.Write(stream)

	r := nextReading(t, d.Readings())
	assert.Equal(t, protocol.PH, r.Kind)
	assert.InDelta(t, 7.0, r.Value, 1e-9)
	assert.Equal(t, uint16(70), r.Raw)
	assert.False(t, r.Timestamp.IsZero())

	r = nextReading(t, d.Readings())
	assert.Equal(t, protocol.TDS, r.Kind)
	assert.InDelta(t, 707.0, r.Value, 1e-9)
}

func TestSerial_SendCommand(t *testing.T) {
	d, remotes := pipeSerial(t)

	err := d.SendCommand(protocol.PH, protocol.Reset, 0)
	assert.ErrorIs(t, err, ErrLinkUnavailable)

	require.NoError(t, d.Connect())
	defer d.Close()
	remote := <-remotes

	errc := make(chan error, 1)
	go func() { errc <- d.SendCommand(protocol.TDS, protocol.Calibrate, 7070) }()

	buf := make([]byte, protocol.CommandFrameSize)
	_, err = io.ReadFull(remote, buf)
	require.NoError(t, err)
	require.NoError(t, <-errc)

	cmd, err := protocol.DecodeCommand(buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.CommandFrame{Kind: protocol.TDS, Command: protocol.Calibrate, Arg: 7070}, cmd)

	// Rejected before anything reaches the wire.
	assert.ErrorIs(t, d.SendCommand(protocol.Temperature, protocol.Reset, 0), ErrInvalidArgument)
}

func TestSerial_WriteFailure(t *testing.T) {
	d, remotes := pipeSerial(t)
	require.NoError(t, d.Connect())
	defer d.Close()

	(<-remotes).Close()
	err := d.SendCommand(protocol.PH, protocol.Reset, 0)
	assert.ErrorIs(t, err, ErrLinkUnavailable)
}

func TestSerial_OpenFailure(t *testing.T) {
	d := New("missing", 0, 0, zerolog.Nop())
	d.open = func(string, *serial.Mode) (io.ReadWriteCloser, error) {
		return nil, errors.New("no such port")
	}

	err := d.Connect()
	assert.ErrorIs(t, err, ErrLinkUnavailable)
	assert.False(t, d.IsConnected())
}

func TestSerial_GracefulShutdownAndReopen(t *testing.T) {
	d, remotes := pipeSerial(t)

	require.NoError(t, d.Connect())
	assert.True(t, d.IsConnected())
	assert.Error(t, d.Connect())
	<-remotes

	readings := d.Readings()
	require.NoError(t, d.Close())
	assert.False(t, d.IsConnected())
	require.NoError(t, d.Close())

	_, ok := <-readings
	assert.False(t, ok, "Channel should be closed")

	// The link may be reopened after close.
	require.NoError(t, d.Connect())
	defer d.Close()
	remote := <-remotes

	go remote.Write(telemetry(protocol.Temperature, 21.5))
	r := nextReading(t, d.Readings())
	assert.Equal(t, protocol.Temperature, r.Kind)
	assert.InDelta(t, 21.5, r.Value, 1e-9)
}

func TestSerial_DeviceHangup(t *testing.T) {
	d, remotes := pipeSerial(t)
	require.NoError(t, d.Connect())
	defer d.Close()

	(<-remotes).Close()

	select {
	case _, ok := <-d.Readings():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("readings channel not closed after hangup")
	}
}

func TestSerial_ReopenDiscardsPartialFrame(t *testing.T) {
	d, remotes := pipeSerial(t)
	stale := telemetry(protocol.PH, 7.0)

	require.NoError(t, d.Connect())
	_, err := (<-remotes).Write(stale[:3])
	require.NoError(t, err)
	require.NoError(t, d.Close())

	require.NoError(t, d.Connect())
	defer d.Close()
	remote := <-remotes

	// The tail of the stale frame would complete it if the old bytes survived.
	stream := append(append([]byte{}, stale[3:]...), telemetry(protocol.Temperature, 21.5)...)
	go remote.Write(stream)

	r := nextReading(t, d.Readings())
	assert.Equal(t, protocol.Temperature, r.Kind)
	assert.InDelta(t, 21.5, r.Value, 1e-9)
}
