package bus

import (
	"context"
	"fmt"
	"log"

	"github.com/stianeikeland/go-rpio/v4"
)

// Rpio drives the bus through go-rpio on a Raspberry Pi. Select lines are
// BCM pin numbers, active low.
type Rpio struct {
	pins [4]rpio.Pin
	open bool
}

var _ Adapter = (*Rpio)(nil)

// OpenRpio maps the GPIO registers, starts SPI0 at frequency Hz and claims
// the select pins for lines 1..3.
func OpenRpio(frequency int, chipSelect [3]int) (*Rpio, error) {
	log.Println("Initialise GPIO and SPI (rpio)...")
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open rpio: %w", err)
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		rpio.Close()
		return nil, fmt.Errorf("failed to begin spi: %w", err)
	}
	rpio.SpiSpeed(frequency)

	r := &Rpio{open: true}
	for i, n := range chipSelect {
		pin := rpio.Pin(n)
		pin.Output()
		pin.High()
		r.pins[i+1] = pin
	}
	return r, nil
}

// Transact performs a one-byte full-duplex exchange.
func (r *Rpio) Transact(ctx context.Context, out byte) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	buf := []byte{out}
	rpio.SpiExchange(buf)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Assert drives line low.
func (r *Rpio) Assert(line Line) error {
	if !line.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLine, uint8(line))
	}
	r.pins[line].Low()
	return nil
}

// Deassert drives line high.
func (r *Rpio) Deassert(line Line) error {
	if !line.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLine, uint8(line))
	}
	r.pins[line].High()
	return nil
}

// Close stops SPI and unmaps the GPIO registers.
func (r *Rpio) Close() error {
	if !r.open {
		return nil
	}
	r.open = false
	rpio.SpiEnd(rpio.Spi0)
	if err := rpio.Close(); err != nil {
		return fmt.Errorf("failed to close rpio: %w", err)
	}
	return nil
}
