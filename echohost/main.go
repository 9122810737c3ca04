package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/itohio/goecho/pkg/acquire"
	"github.com/itohio/goecho/pkg/bus"
	"github.com/itohio/goecho/pkg/channel"
	"github.com/itohio/goecho/pkg/config"
	"github.com/itohio/goecho/pkg/cycle"
	"github.com/itohio/goecho/pkg/frame"
	"github.com/itohio/goecho/pkg/host"
	"github.com/itohio/goecho/pkg/output"
	"github.com/itohio/goecho/pkg/output/console"
	"github.com/itohio/goecho/pkg/output/mqtt"
	"github.com/itohio/goecho/pkg/transport"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyUSB0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		listFlag   = flag.Bool("list", false, "List serial ports and exit")
		mockFlag   = flag.Bool("mock", false, "Receive from an in-process simulated node instead of serial port")
	)
	flag.Parse()

	if *listFlag {
		ports, err := host.Ports()
		if err != nil {
			log.Fatalf("Failed to list ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p.Name)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Host.Port = *portFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	reg, err := cfg.Registry()
	if err != nil {
		log.Fatalf("Invalid channel table: %v", err)
	}

	out, err := openOutputs(cfg.Host)
	if err != nil {
		log.Fatalf("Failed to open outputs: %v", err)
	}
	defer out.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	receiver := host.New(cfg.Host.Port, cfg.Host.BaudRate, 0, reg, cfg.ADC.ReferenceVoltage)
	if *mockFlag {
		err = receiver.Attach(simulate(ctx, cfg, reg))
	} else {
		err = receiver.Connect()
	}
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	go func() {
		<-ctx.Done()
		receiver.Close()
	}()

	for m := range receiver.Measurements() {
		if err := out.Publish(m); err != nil {
			log.Printf("Failed to publish: %v", err)
		}
	}
	log.Printf("Receiver stopped: %d frames dropped, %d bytes skipped", receiver.Dropped(), receiver.Skipped())
}

func openOutputs(cfg config.HostConfig) (output.Output, error) {
	var outs output.Multi
	for _, name := range cfg.Outputs {
		switch name {
		case config.OutputConsole:
			outs = append(outs, console.NewConsole())
		case config.OutputMQTT:
			o, err := mqtt.NewMQTT(cfg.MQTT)
			if err != nil {
				outs.Close()
				return nil, err
			}
			outs = append(outs, o)
		default:
			outs.Close()
			return nil, fmt.Errorf("%w: output %q", config.ErrInvalid, name)
		}
	}
	return outs, nil
}

// simulate runs an acquisition node on a mock bus and returns its frame stream.
func simulate(ctx context.Context, cfg *config.Config, reg *channel.Registry) io.ReadCloser {
	pr, pw := io.Pipe()
	busCtx := bus.NewContext(bus.NewMock(), 0)
	runner := cycle.New(
		reg,
		acquire.New(busCtx, cfg.Bus.Timeout),
		frame.NewWriter(transport.NewWriter(pw), cfg.Transport.Timeout),
		nil,
		cycle.Config{
			ReferenceVoltage: cfg.ADC.ReferenceVoltage,
			Interval:         cfg.Cycle.Interval,
			VoltageIDs:       cfg.VoltageIDs(reg),
			MaxFailures:      cfg.Cycle.MaxFailures,
			Backoff:          cfg.Cycle.Backoff,
		},
	)
	go func() {
		pw.CloseWithError(runner.Run(ctx))
	}()
	return pr
}
