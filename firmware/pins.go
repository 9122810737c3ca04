package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/itohio/goecho/pkg/bus"
	"github.com/itohio/goecho/pkg/config"
	"github.com/itohio/goecho/pkg/cycle"
	"github.com/itohio/goecho/pkg/transport"
)

// openBus brings up the SPI bus and chip select pins of the configured library.
func openBus(cfg config.BusConfig) (bus.Adapter, io.Closer, error) {
	switch cfg.Library {
	case config.LibraryMock:
		return bus.NewMock(), nopWriteCloser{}, nil

	case config.LibraryPeriph:
		var cs [3]string
		copy(cs[:], cfg.ChipSelect)
		p, err := bus.OpenPeriph(bus.PeriphConfig{
			Device:     cfg.Device,
			Frequency:  cfg.Frequency,
			Mode:       cfg.Mode,
			ChipSelect: cs,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil

	case config.LibraryRpio:
		var cs [3]int
		copy(cs[:], cfg.ChipSelectPins)
		r, err := bus.OpenRpio(cfg.Frequency, cs)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	}
	return nil, nil, fmt.Errorf("%w: bus library %q", config.ErrInvalid, cfg.Library)
}

// openLink opens the host link. With direct set frames are written straight
// to it, otherwise through a FIFO pumped to the returned writer.
func openLink(cfg config.TransportConfig) (transport.Transport, io.WriteCloser, error) {
	switch cfg.Kind {
	case config.TransportStdout:
		return transport.NewWriter(os.Stdout), nopWriteCloser{os.Stdout}, nil
	case config.TransportSerial:
		s, err := transport.OpenSerial(cfg.Port, cfg.BaudRate)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Port(), nil
	}
	return nil, nil, fmt.Errorf("%w: transport %q", config.ErrInvalid, cfg.Kind)
}

// openHeartbeat returns the LED heartbeat, or a no-op one when the pin is
// unset or unavailable.
func openHeartbeat(cfg config.HeartbeatConfig, library string) cycle.Heartbeat {
	if cfg.Pin == "" || library == config.LibraryMock {
		return cycle.NopHeartbeat{}
	}
	hb, err := cycle.OpenPinHeartbeat(cfg.Pin)
	if err != nil {
		log.Printf("Heartbeat disabled: %v", err)
		return cycle.NopHeartbeat{}
	}
	return hb
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
