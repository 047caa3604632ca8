package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/itohio/gowrm/pkg/bridge"
	"github.com/itohio/gowrm/pkg/config"
	"github.com/itohio/gowrm/pkg/logging"
	"github.com/itohio/gowrm/pkg/module"
	"github.com/itohio/gowrm/pkg/monitor"
	"github.com/itohio/gowrm/pkg/protocol"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use mocked device instead of serial port")
		listenFlag = flag.String("listen", "", "HTTP/WebSocket bridge address (e.g., :8080), overrides config")
		levelFlag  = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
		listFlag   = flag.Bool("list", false, "List available serial ports and exit")
	)
	flag.Parse()

	if *listFlag {
		if err := listPorts(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Override from command line
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *listenFlag != "" {
		cfg.Bridge.Listen = *listenFlag
	}
	if *levelFlag != "" {
		cfg.Log.Level = *levelFlag
	}

	log := logging.New(cfg.Log.Level, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mockFlag, os.Stdin, log); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, useMock bool, input io.Reader, log zerolog.Logger) error {
	var open module.Opener
	if useMock {
		mock := module.NewMock(cfg, log)
		open = func(string) module.Device { return mock }
	} else {
		open = func(port string) module.Device {
			return module.New(port, cfg.Serial.BaudRate, cfg.Monitor.Buffer, log)
		}
	}

	dev := module.NewLink(cfg.Serial.Port, cfg.Monitor.Buffer, open, log)
	if err := dev.Connect(); err != nil {
		return err
	}
	defer dev.Stop()

	mon := monitor.New(cfg.Monitor.History)
	mon.OnReading(func(r module.Reading) {
		log.Info().
			Stringer("kind", r.Kind).
			Float64("value", r.Value).
			Str("unit", r.Kind.Unit()).
			Msg("reading")
	})

	// Readings close when the link is stopped on return.
	go mon.Process(dev.Readings())

	bridgeErr := make(chan error, 1)
	if cfg.Bridge.Listen != "" {
		b := bridge.New(dev, mon, log.With().Str("component", "bridge").Logger())
		go func() { bridgeErr <- b.Start(ctx, cfg.Bridge.Listen) }()
	}

	commands := make(chan string)
	go readCommands(input, commands)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-bridgeErr:
			return err
		case <-dev.Lost():
			if cfg.Bridge.Listen == "" {
				return errors.New("device stopped sending readings")
			}
			log.Warn().Msg("link lost, reopen it over the bridge")
		case line, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			if err := handleCommand(dev, line); err != nil {
				log.Warn().Err(err).Str("input", line).Msg("command failed")
			}
		}
	}
}

func readCommands(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out <- line
		}
	}
}

// handleCommand executes one console line:
//
//	<kind> <command> [value]   e.g. "tds calibrate 707", "ph set-mode advanced"
//	dip <kind> <volts|°C>      move a simulated probe (mock only)
func handleCommand(dev module.Device, line string) error {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return fmt.Errorf("%w: expected <kind> <command> [value]", module.ErrInvalidArgument)
	}

	if fields[0] == "dip" {
		return dip(dev, fields[1:])
	}

	kind, err := protocol.ParseKind(fields[0])
	if err != nil {
		return fmt.Errorf("%w: %w", module.ErrInvalidArgument, err)
	}
	cmd, err := protocol.ParseCommand(fields[1])
	if err != nil {
		return fmt.Errorf("%w: %w", module.ErrInvalidArgument, err)
	}

	return module.Execute(dev, kind, cmd, strings.Join(fields[2:], " "))
}

func dip(dev module.Device, args []string) error {
	if l, ok := dev.(*module.Link); ok {
		dev = l.Device()
	}
	mock, ok := dev.(*module.Mock)
	if !ok {
		return fmt.Errorf("%w: dip needs the mock device", module.ErrInvalidArgument)
	}
	if len(args) != 2 {
		return fmt.Errorf("%w: expected dip <kind> <level>", module.ErrInvalidArgument)
	}

	kind, err := protocol.ParseKind(args[0])
	if err != nil {
		return fmt.Errorf("%w: %w", module.ErrInvalidArgument, err)
	}
	level, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("%w: level %q is not a number", module.ErrInvalidArgument, args[1])
	}

	mock.Bench().Signal(kind).Set(level)
	return nil
}

func listPorts(w io.Writer) error {
	ports, err := module.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(w, p.Description)
	}
	return nil
}
