package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/goecho/pkg/acquire"
	"github.com/itohio/goecho/pkg/bus"
	"github.com/itohio/goecho/pkg/config"
	"github.com/itohio/goecho/pkg/cycle"
	"github.com/itohio/goecho/pkg/frame"
	"github.com/itohio/goecho/pkg/transport"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., /dev/ttyAMA0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use simulated ADCs and write frames to stdout")
		onceFlag   = flag.Int("once", -1, "Run a single cycle for this voltage channel and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Transport.Port = *portFlag
	}
	if *mockFlag {
		cfg.Bus.Library = config.LibraryMock
		cfg.Transport.Kind = config.TransportStdout
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	reg, err := cfg.Registry()
	if err != nil {
		log.Fatalf("Invalid channel table: %v", err)
	}

	adapter, closer, err := openBus(cfg.Bus)
	if err != nil {
		log.Fatalf("Failed to open bus: %v", err)
	}
	defer closer.Close()

	busCtx := bus.NewContext(adapter, cfg.Bus.SettleDelay)
	if err := busCtx.Idle(); err != nil {
		log.Fatalf("Failed to release chip selects: %v", err)
	}

	direct, link, err := openLink(cfg.Transport)
	if err != nil {
		log.Fatalf("Failed to open transport: %v", err)
	}
	defer link.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		out  transport.Transport = direct
		fifo *transport.FIFO
	)
	pumpDone := make(chan error, 1)
	if !cfg.Transport.Direct {
		fifo = transport.NewFIFO(cfg.Transport.FIFOSize)
		out = fifo
		go func() {
			pumpDone <- fifo.Pump(ctx, link, time.Millisecond)
		}()
	}

	runner := cycle.New(
		reg,
		acquire.New(busCtx, cfg.Bus.Timeout),
		frame.NewWriter(out, cfg.Transport.Timeout),
		openHeartbeat(cfg.Heartbeat, cfg.Bus.Library),
		cycle.Config{
			ReferenceVoltage: cfg.ADC.ReferenceVoltage,
			Interval:         cfg.Cycle.Interval,
			VoltageIDs:       cfg.VoltageIDs(reg),
			MaxFailures:      cfg.Cycle.MaxFailures,
			Backoff:          cfg.Cycle.Backoff,
		},
	)

	if *onceFlag >= 0 {
		res, err := runner.RunOnce(ctx, *onceFlag)
		if err != nil {
			log.Fatalf("Cycle failed: %v", err)
		}
		if err := flush(ctx, fifo, pumpDone); err != nil {
			log.Fatalf("Failed to flush transport: %v", err)
		}
		stop()
		if fifo != nil {
			<-pumpDone
		}
		log.Printf("Sent %d bytes", res.Bytes)
		return
	}

	log.Printf("Acquiring %d channels every %s", reg.Len(), cfg.Cycle.Interval)
	runErr := make(chan error, 1)
	go func() {
		runErr <- runner.Run(ctx)
	}()

	select {
	case err = <-runErr:
	case err = <-pumpDone:
		stop()
		<-runErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Acquisition stopped: %v", err)
	}
	log.Printf("Stopped after %d cycles", runner.Cycles())
}

// flush waits until the pump has drained fifo.
func flush(ctx context.Context, fifo *transport.FIFO, pumpDone <-chan error) error {
	if fifo == nil {
		return nil
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for fifo.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-pumpDone:
			return err
		case <-ticker.C:
		}
	}
	return nil
}
