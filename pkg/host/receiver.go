package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/itohio/goecho/pkg/acquire"
	"github.com/itohio/goecho/pkg/channel"
	"github.com/itohio/goecho/pkg/convert"
	"github.com/itohio/goecho/pkg/frame"
	"github.com/itohio/goecho/pkg/transport"
)

// DefaultBufferSize is the default size of the measurements channel buffer.
const DefaultBufferSize = 16

var (
	ErrConnected    = errors.New("already connected")
	ErrNotConnected = errors.New("not connected")
)

// Measurement is one received frame converted with the host channel table.
type Measurement struct {
	Timestamp time.Time
	Frame     frame.Frame
	Voltage   convert.Reading
	Current   convert.Reading
}

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Convert converts a frame with the calibrations of reg.
func Convert(f frame.Frame, reg *channel.Registry, vref float32) (Measurement, error) {
	_, vcal, err := reg.Lookup(f.VoltageID)
	if err != nil {
		return Measurement{}, err
	}
	_, ccal, err := reg.Lookup(f.CurrentID())
	if err != nil {
		return Measurement{}, err
	}

	v, c := f.Batches()
	vr, err := convert.Convert(maskBatch(v), vcal, vref)
	if err != nil {
		return Measurement{}, err
	}
	cr, err := convert.Convert(maskBatch(c), ccal, vref)
	if err != nil {
		return Measurement{}, err
	}
	return Measurement{Frame: f, Voltage: vr, Current: cr}, nil
}

func maskBatch(b acquire.Batch) acquire.Batch {
	codes := make([]uint16, len(b.Codes))
	for i, c := range b.Codes {
		codes[i] = c & acquire.CodeMask
	}
	return acquire.Batch{Channel: b.Channel, Codes: codes}
}

// Receiver reads frames from the acquisition node and publishes measurements.
type Receiver struct {
	port     string
	baudRate int
	reg      *channel.Registry
	vref     float32

	conn         io.ReadCloser
	measurements chan Measurement
	done         chan struct{}
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	connected    bool
	started      bool
	closed       bool

	dropped atomic.Int64
	skipped atomic.Int64
}

// New creates a receiver for port converting frames with reg.
func New(port string, baudRate, bufSize int, reg *channel.Registry, vref float32) *Receiver {
	if baudRate == 0 {
		baudRate = transport.DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Receiver{
		port:         port,
		baudRate:     baudRate,
		reg:          reg,
		vref:         vref,
		measurements: make(chan Measurement, bufSize),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Connect opens the serial port and starts reading frames.
func (r *Receiver) Connect() error {
	r.mu.RLock()
	connected := r.connected
	r.mu.RUnlock()
	if connected {
		return ErrConnected
	}

	port, err := serial.Open(r.port, &serial.Mode{
		BaudRate: r.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", r.port, err)
	}

	if err := r.Attach(port); err != nil {
		port.Close()
		return err
	}
	return nil
}

// Attach starts reading frames from rc, which the receiver closes on Close.
func (r *Receiver) Attach(rc io.ReadCloser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connected {
		return ErrConnected
	}
	if r.ctx.Err() != nil {
		return fmt.Errorf("receiver closed: %w", ErrNotConnected)
	}

	r.conn = rc
	r.connected = true
	r.started = true

	go r.readFrames(rc)

	return nil
}

// Close stops reading and closes the connection. The measurements channel is
// closed once the reader goroutine has exited, or right away if the receiver
// never started reading. A closed receiver cannot be reconnected.
func (r *Receiver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.cancel()

	if !r.started {
		close(r.measurements)
		close(r.done)
		r.mu.Unlock()
		return nil
	}

	var err error
	if r.conn != nil {
		if err = r.conn.Close(); err != nil {
			log.Printf("Error closing serial port: %v", err)
		}
		r.conn = nil
	}
	r.connected = false
	r.mu.Unlock()

	<-r.done
	return err
}

// Measurements returns the channel of converted frames.
func (r *Receiver) Measurements() <-chan Measurement {
	return r.measurements
}

// IsConnected returns whether the receiver is reading.
func (r *Receiver) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// Dropped returns the number of measurements dropped on a full channel.
func (r *Receiver) Dropped() int64 {
	return r.dropped.Load()
}

// Skipped returns the number of stream bytes skipped while resynchronizing.
func (r *Receiver) Skipped() int64 {
	return r.skipped.Load()
}

func (r *Receiver) readFrames(rc io.Reader) {
	defer close(r.done)
	defer close(r.measurements)

	dec := frame.NewDecoder(rc)
	for {
		f, err := dec.Next()
		r.skipped.Store(int64(dec.Skipped()))
		if err != nil {
			if r.ctx.Err() == nil && !errors.Is(err, io.EOF) {
				log.Printf("Error reading from serial port: %v", err)
			}
			return
		}

		m, err := Convert(f, r.reg, r.vref)
		if err != nil {
			log.Printf("Failed to convert frame U%d: %v", f.VoltageID, err)
			continue
		}
		m.Timestamp = time.Now()

		select {
		case r.measurements <- m:
		case <-r.ctx.Done():
			return
		default:
			r.dropped.Add(1)
			log.Printf("Measurements channel full, dropping frame U%d", f.VoltageID)
		}
	}
}
