package frame

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itohio/goecho/pkg/acquire"
	"github.com/itohio/goecho/pkg/transport"
)

// DefaultPollInterval is how often a full transport is polled for room.
const DefaultPollInterval = 100 * time.Microsecond

var ErrTransportTimeout = errors.New("transport timeout")

// Writer pushes frames into a transport one byte at a time, each byte only
// once the transport reports ready.
type Writer struct {
	t       transport.Transport
	timeout time.Duration
	poll    time.Duration
}

// NewWriter creates a writer. timeout bounds the wait for each byte; zero
// waits for as long as ctx allows.
func NewWriter(t transport.Transport, timeout time.Duration) *Writer {
	return &Writer{
		t:       t,
		timeout: timeout,
		poll:    DefaultPollInterval,
	}
}

// SetPollInterval changes the readiness poll interval.
func (w *Writer) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.poll = d
	}
}

// WriteFrame encodes the batches and sends the frame. It returns the number of
// bytes handed to the transport.
func (w *Writer) WriteFrame(ctx context.Context, voltage, current acquire.Batch) (int, error) {
	data, err := Encode(voltage, current)
	if err != nil {
		return 0, err
	}
	return w.Send(ctx, data)
}

// Send writes data byte by byte. On failure the bytes already written stay on
// the wire and the host decoder has to resynchronize.
func (w *Writer) Send(ctx context.Context, data []byte) (int, error) {
	for i, c := range data {
		if err := w.waitReady(ctx); err != nil {
			return i, fmt.Errorf("byte %d of %d: %w", i, len(data), err)
		}
		if err := w.t.WriteByte(c); err != nil {
			return i, fmt.Errorf("byte %d of %d: %w", i, len(data), err)
		}
	}
	return len(data), nil
}

func (w *Writer) waitReady(ctx context.Context) error {
	if w.t.Ready() {
		return nil
	}

	var deadline <-chan time.Time
	if w.timeout > 0 {
		timer := time.NewTimer(w.timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			if w.t.Ready() {
				return nil
			}
			return fmt.Errorf("%w after %s", ErrTransportTimeout, w.timeout)
		case <-ticker.C:
			if w.t.Ready() {
				return nil
			}
		}
	}
}
