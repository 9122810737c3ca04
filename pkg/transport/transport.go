package transport

import (
	"fmt"
	"io"
	"log"

	"go.bug.st/serial"
)

// DefaultBaudRate is the host link rate.
const DefaultBaudRate = 115200

// Transport is a byte sink that reports when it can accept another byte.
type Transport interface {
	Ready() bool
	WriteByte(c byte) error
}

// Writer adapts an io.Writer. It is always ready; a blocking Write blocks WriteByte.
type Writer struct {
	w   io.Writer
	buf [1]byte
}

var _ Transport = (*Writer)(nil)

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Ready() bool {
	return true
}

func (w *Writer) WriteByte(c byte) error {
	w.buf[0] = c
	n, err := w.w.Write(w.buf[:])
	if err != nil {
		return err
	}
	if n != 1 {
		return io.ErrShortWrite
	}
	return nil
}

// Serial is a serial port opened for writing frames.
type Serial struct {
	*Writer
	port serial.Port
}

// OpenSerial opens name at baudRate, 8N1.
func OpenSerial(name string, baudRate int) (*Serial, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	log.Printf("Serial port %s opened at %d baud", name, baudRate)
	return &Serial{Writer: NewWriter(port), port: port}, nil
}

// Port exposes the underlying port.
func (s *Serial) Port() serial.Port {
	return s.port
}

// Close closes the port.
func (s *Serial) Close() error {
	return s.port.Close()
}
