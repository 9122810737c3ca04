package acquire

import (
	"context"
	"fmt"
	"time"

	"github.com/itohio/goecho/pkg/bus"
	"github.com/itohio/goecho/pkg/channel"
)

const (
	// Preamble is the start byte of every ADC transaction.
	Preamble byte = 0x01
	// CodeMask keeps the 10 bits of an ADC code.
	CodeMask = 0x3FF
)

// Batch holds the raw codes acquired for one channel in one cycle.
type Batch struct {
	Channel int
	Codes   []uint16
}

// Len returns the number of codes.
func (b Batch) Len() int {
	return len(b.Codes)
}

// Reconstruct assembles a 10-bit code from the two response bytes.
func Reconstruct(hi, lo byte) uint16 {
	return (uint16(hi)<<8 | uint16(lo)) & CodeMask
}

// Engine acquires channel bursts through an exclusively owned bus context.
type Engine struct {
	bus     *bus.Context
	timeout time.Duration
}

// New creates an engine. timeout bounds each three-byte transaction; zero
// waits for as long as ctx allows.
func New(b *bus.Context, timeout time.Duration) *Engine {
	return &Engine{
		bus:     b,
		timeout: timeout,
	}
}

// Acquire collects d.Samples codes from d. The burst is all-or-nothing: on any
// error the partial batch is discarded.
func (e *Engine) Acquire(ctx context.Context, d channel.Descriptor) (Batch, error) {
	if err := channel.CheckSamples(d.Samples); err != nil {
		return Batch{}, fmt.Errorf("channel %d: %w", d.ID, err)
	}

	codes := make([]uint16, 0, d.Samples)
	for i := 0; i < d.Samples; i++ {
		code, err := e.sample(ctx, d)
		if err != nil {
			return Batch{}, fmt.Errorf("channel %d sample %d: %w", d.ID, i, err)
		}
		codes = append(codes, code)
	}

	return Batch{Channel: d.ID, Codes: codes}, nil
}

// AcquirePair acquires the voltage burst, then the current burst.
func (e *Engine) AcquirePair(ctx context.Context, voltage, current channel.Descriptor) (Batch, Batch, error) {
	v, err := e.Acquire(ctx, voltage)
	if err != nil {
		return Batch{}, Batch{}, err
	}
	c, err := e.Acquire(ctx, current)
	if err != nil {
		return Batch{}, Batch{}, err
	}
	return v, c, nil
}

func (e *Engine) sample(ctx context.Context, d channel.Descriptor) (code uint16, err error) {
	h, err := e.bus.Select(d.Bus)
	if err != nil {
		return 0, err
	}
	defer func() {
		if rerr := h.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if _, err := h.Transact(ctx, Preamble); err != nil {
		return 0, err
	}
	hi, err := h.Transact(ctx, 0x00)
	if err != nil {
		return 0, err
	}
	lo, err := h.Transact(ctx, d.Command)
	if err != nil {
		return 0, err
	}

	return Reconstruct(hi, lo), nil
}
