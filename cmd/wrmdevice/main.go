// Command wrmdevice runs the module's device side on a host: simulated probes
// answer a real serial port, so the host tools can be exercised over a
// null-modem cable or a virtual port pair.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/itohio/gowrm/pkg/config"
	"github.com/itohio/gowrm/pkg/link"
	"github.com/itohio/gowrm/pkg/logging"
	"github.com/itohio/gowrm/pkg/protocol"
	"github.com/itohio/gowrm/pkg/sim"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM4 or /dev/ttyUSB1)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		policyFlag = flag.String("policy", "", "Telemetry policy override (always, on-change)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *policyFlag != "" {
		if err := cfg.Link.Policy.UnmarshalText([]byte(*policyFlag)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	log := logging.New(cfg.Log.Level, os.Stderr).With().Str("side", "device").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	sensors, err := sim.NewBench(cfg).Sensors()
	if err != nil {
		return err
	}

	port, err := serial.Open(cfg.Serial.Port, &serial.Mode{
		BaudRate: cfg.Serial.BaudRate,
		DataBits: protocol.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", cfg.Serial.Port, err)
	}
	defer port.Close()

	session, err := link.New(port, sensors, cfg.LinkOptions(), log)
	if err != nil {
		return err
	}

	log.Info().
		Str("port", cfg.Serial.Port).
		Int("sensors", len(sensors)).
		Dur("interval", cfg.Link.Interval).
		Stringer("policy", cfg.Link.Policy).
		Msg("device running")

	err = session.Run(ctx, cfg.Link.Interval)
	st := session.Stats()
	log.Info().
		Int("received", st.Received).
		Int("dispatched", st.Dispatched).
		Int("rejected", st.Rejected).
		Int("dropped", st.Dropped).
		Int("discarded", st.Discarded).
		Int("sent", st.Sent).
		Msg("device stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
