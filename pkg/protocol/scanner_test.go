package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanner_Resync(t *testing.T) {
	s := NewScanner(TelemetryFrameSize)

	f1 := EncodeTelemetry(PH, 7.0)
	f2 := EncodeTelemetry(TDS, 500)
	f2[4] ^= 0xFF
	f3 := EncodeTelemetry(Temperature, 21.5)

	s.Write([]byte{0x00, 0x11})
	s.Write(f1[:])
	s.Write(f2[:])
	s.Write(f3[:])

	var got []TelemetryFrame
	for {
		frame, ok := s.Next()
		if !ok {
			break
		}
		tf, err := DecodeTelemetry(frame)
		require.NoError(t, err)
		got = append(got, tf)
	}

	require.Len(t, got, 2)
	assert.Equal(t, PH, got[0].Kind)
	assert.InDelta(t, 7.0, got[0].Value, 1e-9)
	assert.Equal(t, Temperature, got[1].Kind)
	assert.InDelta(t, 21.5, got[1].Value, 1e-9)

	assert.Equal(t, 2, s.Frames)
	assert.Equal(t, 1, s.Dropped)
	assert.Equal(t, 6, s.Discarded)
}

func TestScanner_PartialFrame(t *testing.T) {
	s := NewScanner(CommandFrameSize)
	f := EncodeCommand(TDS, Calibrate, 7070)

	s.Write(f[:3])
	_, ok := s.Next()
	assert.False(t, ok)

	s.Write(f[3:])
	frame, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, f[:], frame)

	_, ok = s.Next()
	assert.False(t, ok)
}

func TestScanner_Reset(t *testing.T) {
	s := NewScanner(CommandFrameSize)
	f := EncodeCommand(PH, Reset, 0)

	s.Write(f[:4])
	s.Reset()
	s.Write(f[4:])

	_, ok := s.Next()
	assert.False(t, ok)
}
