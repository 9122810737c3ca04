package bus

import (
	"context"
	"fmt"
	"log"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// PeriphConfig selects the SPI port and the GPIO pins used as select lines.
type PeriphConfig struct {
	Device     string    // spireg name, empty for the first port
	Frequency  int       // Hz
	Mode       int       // SPI mode 0..3
	ChipSelect [3]string // gpioreg names for lines 1..3
}

// Periph drives the bus through periph.io. Select lines are active low.
type Periph struct {
	port spi.PortCloser
	conn spi.Conn
	pins [4]gpio.PinIO
}

var _ Adapter = (*Periph)(nil)

// OpenPeriph initialises the host drivers, opens the SPI port and claims the select pins.
func OpenPeriph(cfg PeriphConfig) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	var pins [3]gpio.PinIO
	for i, name := range cfg.ChipSelect {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("unknown chip select pin %q", name)
		}
		pins[i] = pin
	}
	p, err := newPeriph(nil, pins)
	if err != nil {
		return nil, err
	}

	port, err := spireg.Open(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open spi %q: %w", cfg.Device, err)
	}
	conn, err := port.Connect(physic.Frequency(cfg.Frequency)*physic.Hertz, spi.Mode(cfg.Mode), 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("connect spi: %w", err)
	}
	p.port = port
	p.conn = conn

	log.Printf("SPI %s connected at %d Hz, mode %d", port, cfg.Frequency, cfg.Mode)
	return p, nil
}

func newPeriph(conn spi.Conn, pins [3]gpio.PinIO) (*Periph, error) {
	p := &Periph{conn: conn}
	for i, pin := range pins {
		if err := pin.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("failed to configure %s: %w", pin, err)
		}
		p.pins[i+1] = pin
	}
	return p, nil
}

// Transact performs a one-byte full-duplex exchange.
func (p *Periph) Transact(ctx context.Context, out byte) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var read [1]byte
	if err := p.conn.Tx([]byte{out}, read[:]); err != nil {
		return 0, err
	}
	// Tx cannot be interrupted, so a deadline passed during the exchange still counts.
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return read[0], nil
}

// Assert drives line low.
func (p *Periph) Assert(line Line) error {
	if !line.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLine, uint8(line))
	}
	return p.pins[line].Out(gpio.Low)
}

// Deassert drives line high.
func (p *Periph) Deassert(line Line) error {
	if !line.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLine, uint8(line))
	}
	return p.pins[line].Out(gpio.High)
}

// Close releases the SPI port.
func (p *Periph) Close() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}
