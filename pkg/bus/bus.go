package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Line identifies one of the three chip-select lines sharing the serial bus.
type Line uint8

const (
	Line1 Line = 1
	Line2 Line = 2
	Line3 Line = 3
)

// Lines lists every select line in ascending order.
var Lines = [...]Line{Line1, Line2, Line3}

var (
	// ErrBusTimeout reports that the peer did not signal data-ready in time.
	ErrBusTimeout = errors.New("bus timeout")
	// ErrBusBusy reports an attempt to select a line while another selection is open.
	ErrBusBusy = errors.New("bus busy")
	// ErrInvalidLine reports a select line outside 1..3.
	ErrInvalidLine = errors.New("invalid select line")
	// ErrReleased reports use of a handle after Release.
	ErrReleased = errors.New("selection released")
)

// Valid reports whether l names one of the three select lines.
func (l Line) Valid() bool {
	return l >= Line1 && l <= Line3
}

func (l Line) String() string {
	return fmt.Sprintf("cs%d", uint8(l))
}

// Adapter is the synchronous serial bus with its three select lines.
// Transact must return once ctx is done.
type Adapter interface {
	Transact(ctx context.Context, out byte) (byte, error)
	Assert(line Line) error
	Deassert(line Line) error
}

// Context owns the select lines of an Adapter. At most one Handle is open at
// a time, so at most one line is ever asserted.
type Context struct {
	adapter Adapter
	settle  time.Duration

	mu     sync.Mutex
	active *Handle
}

// NewContext wraps adapter. settle is waited after every select transition.
func NewContext(adapter Adapter, settle time.Duration) *Context {
	return &Context{
		adapter: adapter,
		settle:  settle,
	}
}

// Idle deasserts all three lines. It fails with ErrBusBusy while a selection is open.
func (c *Context) Idle() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return ErrBusBusy
	}
	return c.deassertAll()
}

// Select asserts line and returns the handle that owns it until Release.
func (c *Context) Select(line Line) (*Handle, error) {
	if !line.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLine, uint8(line))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil, fmt.Errorf("%w: %s is selected", ErrBusBusy, c.active.line)
	}

	// Asserted twice: some boards miss the first edge after a long idle.
	for range 2 {
		if err := c.adapter.Assert(line); err != nil {
			c.deassertAll()
			return nil, fmt.Errorf("failed to assert %s: %w", line, err)
		}
		c.wait()
	}

	h := &Handle{owner: c, line: line}
	c.active = h
	return h, nil
}

// deassertAll must be called with mu held.
func (c *Context) deassertAll() error {
	var errs []error
	for _, l := range Lines {
		if err := c.adapter.Deassert(l); err != nil {
			errs = append(errs, fmt.Errorf("failed to deassert %s: %w", l, err))
		}
		c.wait()
	}
	return errors.Join(errs...)
}

func (c *Context) wait() {
	if c.settle > 0 {
		time.Sleep(c.settle)
	}
}

// Handle is an open selection of one line.
type Handle struct {
	owner    *Context
	line     Line
	released bool
}

// Line returns the asserted line.
func (h *Handle) Line() Line {
	return h.line
}

// Transact exchanges one byte on the selected device. A deadline expiring on
// ctx is reported as ErrBusTimeout.
func (h *Handle) Transact(ctx context.Context, out byte) (byte, error) {
	if h.released {
		return 0, ErrReleased
	}
	in, err := h.owner.adapter.Transact(ctx, out)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w on %s: %w", ErrBusTimeout, h.line, err)
		}
		return 0, fmt.Errorf("transact on %s: %w", h.line, err)
	}
	return in, nil
}

// Release deasserts every line and closes the handle. Repeated calls are no-ops.
func (h *Handle) Release() error {
	c := h.owner
	c.mu.Lock()
	defer c.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true
	c.active = nil
	return c.deassertAll()
}
