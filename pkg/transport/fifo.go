package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// DefaultFIFOSize matches a small UART transmit FIFO.
const DefaultFIFOSize = 64

var ErrFull = errors.New("fifo full")

// FIFO is a bounded byte queue. Ready reports false while it is full, which
// is the back-pressure seen by the frame writer. Pump drains it to a sink.
type FIFO struct {
	mu       sync.Mutex
	q        deque.Deque[byte]
	capacity int
}

var _ Transport = (*FIFO)(nil)

// NewFIFO creates a FIFO holding up to capacity bytes.
func NewFIFO(capacity int) *FIFO {
	if capacity <= 0 {
		capacity = DefaultFIFOSize
	}
	return &FIFO{capacity: capacity}
}

func (f *FIFO) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.q.Len() < f.capacity
}

func (f *FIFO) WriteByte(c byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.q.Len() >= f.capacity {
		return ErrFull
	}
	f.q.PushBack(c)
	return nil
}

// Len returns the number of queued bytes.
func (f *FIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.q.Len()
}

// Cap returns the capacity.
func (f *FIFO) Cap() int {
	return f.capacity
}

// Drain removes up to limit queued bytes, appending them to dst. limit <= 0 drains everything.
func (f *FIFO) Drain(dst []byte, limit int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.q.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	for range n {
		dst = append(dst, f.q.PopFront())
	}
	return dst
}

// Pump moves queued bytes to w until ctx is done or w fails. idle is the
// wait between polls of an empty queue.
func (f *FIFO) Pump(ctx context.Context, w io.Writer, idle time.Duration) error {
	if idle <= 0 {
		idle = time.Millisecond
	}
	buf := make([]byte, 0, f.capacity)
	for {
		buf = f.Drain(buf[:0], 0)
		if len(buf) > 0 {
			if _, err := w.Write(buf); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(idle):
		}
	}
}
