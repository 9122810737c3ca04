package channel

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"

	"github.com/itohio/goecho/pkg/bus"
)

const (
	// MaxSamples is the capacity of a measurement batch.
	MaxSamples = 75
	// CurrentOffset pairs voltage channel n with current channel n+CurrentOffset.
	CurrentOffset = 7
	// Count is the number of channels wired on the board.
	Count = 14
)

var (
	ErrInvalidChannel   = errors.New("invalid channel")
	ErrCapacityExceeded = errors.New("sample count exceeds batch capacity")
	ErrEmptyChannel     = errors.New("sample count must be > 0")
	ErrInvalidConfig    = errors.New("invalid channel table")
)

// Descriptor describes how to acquire one channel.
type Descriptor struct {
	ID      int
	Name    string
	Bus     bus.Line
	Command byte
	Samples int
}

// Calibration maps a voltage at the ADC pin to engineering units:
// (v - Offset) * Scale.
type Calibration struct {
	Scale  float32
	Offset float32
}

// CheckSamples validates a sample count against the batch capacity.
func CheckSamples(n int) error {
	switch {
	case n <= 0:
		return fmt.Errorf("%w: got %d", ErrEmptyChannel, n)
	case n > MaxSamples:
		return fmt.Errorf("%w: %d > %d", ErrCapacityExceeded, n, MaxSamples)
	}
	return nil
}

// Registry is the immutable channel table.
type Registry struct {
	descs []Descriptor
	cals  []Calibration
}

// NewRegistry validates the table and returns a registry holding copies of it.
// Descriptor ids must be dense and ordered from 0.
func NewRegistry(descs []Descriptor, cals []Calibration) (*Registry, error) {
	if len(descs) == 0 || len(descs) > Count {
		return nil, fmt.Errorf("%w: %d channels, want 1..%d", ErrInvalidConfig, len(descs), Count)
	}
	if len(cals) != len(descs) {
		return nil, fmt.Errorf("%w: %d calibrations for %d channels", ErrInvalidConfig, len(cals), len(descs))
	}

	for i, d := range descs {
		if d.ID != i {
			return nil, fmt.Errorf("%w: entry %d has id %d", ErrInvalidConfig, i, d.ID)
		}
		if !d.Bus.Valid() {
			return nil, fmt.Errorf("%w: channel %d: %w", ErrInvalidConfig, i, bus.ErrInvalidLine)
		}
		if err := CheckSamples(d.Samples); err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		c := cals[i]
		if !finite(c.Scale) || !finite(c.Offset) {
			return nil, fmt.Errorf("%w: channel %d calibration is not finite", ErrInvalidConfig, i)
		}
	}

	return &Registry{
		descs: append([]Descriptor(nil), descs...),
		cals:  append([]Calibration(nil), cals...),
	}, nil
}

func finite(f float32) bool {
	return !math32.IsNaN(f) && !math32.IsInf(f, 0)
}

// Len returns the number of channels.
func (r *Registry) Len() int {
	return len(r.descs)
}

// Lookup returns the descriptor and calibration of id.
func (r *Registry) Lookup(id int) (Descriptor, Calibration, error) {
	if id < 0 || id >= len(r.descs) {
		return Descriptor{}, Calibration{}, fmt.Errorf("%w: %d, valid 0..%d", ErrInvalidChannel, id, len(r.descs)-1)
	}
	return r.descs[id], r.cals[id], nil
}

// Pair returns the descriptors of voltage channel id and its current channel.
func (r *Registry) Pair(voltageID int) (Descriptor, Descriptor, error) {
	if voltageID < 0 || voltageID >= CurrentOffset {
		return Descriptor{}, Descriptor{}, fmt.Errorf("%w: %d is not a voltage channel", ErrInvalidChannel, voltageID)
	}
	v, _, err := r.Lookup(voltageID)
	if err != nil {
		return Descriptor{}, Descriptor{}, err
	}
	c, _, err := r.Lookup(voltageID + CurrentOffset)
	if err != nil {
		return Descriptor{}, Descriptor{}, fmt.Errorf("voltage channel %d has no current pair: %w", voltageID, err)
	}
	return v, c, nil
}

// VoltageIDs lists the voltage channels that have a current pair.
func (r *Registry) VoltageIDs() []int {
	var ids []int
	for id := 0; id < CurrentOffset && id+CurrentOffset < len(r.descs); id++ {
		ids = append(ids, id)
	}
	return ids
}

// Descriptors returns a copy of the table.
func (r *Registry) Descriptors() []Descriptor {
	return append([]Descriptor(nil), r.descs...)
}

// Calibrations returns a copy of the calibration table.
func (r *Registry) Calibrations() []Calibration {
	return append([]Calibration(nil), r.cals...)
}
