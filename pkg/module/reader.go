package module

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/itohio/gowrm/pkg/protocol"
)

// Reading is one decoded telemetry frame.
type Reading struct {
	Kind      protocol.Kind `json:"kind"`
	Value     float64       `json:"value"`
	Raw       uint16        `json:"raw"`
	Timestamp time.Time     `json:"timestamp"`
}

// readFrames decodes telemetry frames from r until it fails or ctx is done.
// Readings are delivered without blocking; they are dropped when out is full.
func readFrames(ctx context.Context, r io.Reader, scanner *protocol.Scanner, out chan<- Reading, log zerolog.Logger) {
	buf := make([]byte, 64)
	dropped := scanner.Dropped

	for {
		n, err := r.Read(buf)
		if n > 0 {
			scanner.Write(buf[:n])
			for {
				frame, ok := scanner.Next()
				if !ok {
					break
				}
				t, derr := protocol.DecodeTelemetry(frame)
				if derr != nil {
					continue
				}
				if !t.Kind.Valid() {
					log.Debug().Uint8("kind", uint8(t.Kind)).Msg("ignoring telemetry for unknown sensor")
					continue
				}

				reading := Reading{
					Kind:      t.Kind,
					Value:     t.Value,
					Raw:       t.Raw,
					Timestamp: time.Now(),
				}

				// Send reading to channel (non-blocking)
				select {
				case out <- reading:
				case <-ctx.Done():
					return
				default:
					log.Warn().Stringer("kind", t.Kind).Msg("readings channel full, dropping reading")
				}
			}
			if d := scanner.Dropped; d > dropped {
				log.Debug().Int("frames", d-dropped).Msg("dropped corrupted telemetry")
				dropped = d
			}
		}

		if err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, io.EOF):
				log.Info().Msg("link closed by device")
			default:
				log.Error().Err(err).Msg("error reading from link")
			}
			return
		}
	}
}
