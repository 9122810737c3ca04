package cycle

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Heartbeat is toggled once per cycle.
type Heartbeat interface {
	Toggle() error
}

// NopHeartbeat does nothing.
type NopHeartbeat struct{}

func (NopHeartbeat) Toggle() error { return nil }

// PinHeartbeat blinks a GPIO output.
type PinHeartbeat struct {
	mu    sync.Mutex
	pin   gpio.PinOut
	level gpio.Level
}

// NewPinHeartbeat drives pin high and returns a heartbeat toggling it.
func NewPinHeartbeat(pin gpio.PinOut) (*PinHeartbeat, error) {
	if err := pin.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("failed to set heartbeat pin: %w", err)
	}
	return &PinHeartbeat{pin: pin, level: gpio.High}, nil
}

// OpenPinHeartbeat looks up the named pin in the periph.io registry.
func OpenPinHeartbeat(name string) (*PinHeartbeat, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("heartbeat pin %q not found", name)
	}
	return NewPinHeartbeat(pin)
}

func (h *PinHeartbeat) Toggle() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := !h.level
	if err := h.pin.Out(next); err != nil {
		return err
	}
	h.level = next
	return nil
}

// Level returns the level last driven.
func (h *PinHeartbeat) Level() gpio.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}
