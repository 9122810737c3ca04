package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/itohio/goecho/pkg/acquire"
	"github.com/itohio/goecho/pkg/channel"
)

// Wire layout, multi-byte fields little-endian:
//
//	0  sync 'P'
//	1  voltage channel id as an ASCII digit
//	2  voltage sample count (u16)
//	4  current sample count (u16)
//	6  element size, always 2
//	7  reserved, always 0
//	8  voltage codes (u16 each), then current codes
const (
	Sync        byte = 'P'
	HeaderSize       = 8
	ElementSize      = 2
	// MaxSize is the largest frame the decoder accepts.
	MaxSize = HeaderSize + 2*ElementSize*channel.MaxSamples
)

var (
	ErrUnpaired  = errors.New("current batch is not paired with voltage batch")
	ErrMalformed = errors.New("malformed frame")
)

// Frame is a decoded voltage/current batch pair.
type Frame struct {
	VoltageID int
	Voltage   []uint16
	Current   []uint16
}

// CurrentID returns the id of the paired current channel.
func (f Frame) CurrentID() int {
	return f.VoltageID + channel.CurrentOffset
}

// Size returns the encoded length of f.
func (f Frame) Size() int {
	return HeaderSize + ElementSize*(len(f.Voltage)+len(f.Current))
}

// Batches returns f as acquisition batches.
func (f Frame) Batches() (acquire.Batch, acquire.Batch) {
	return acquire.Batch{Channel: f.VoltageID, Codes: f.Voltage},
		acquire.Batch{Channel: f.CurrentID(), Codes: f.Current}
}

// Encode serializes a voltage batch and its paired current batch. Nothing is
// returned unless the whole frame is valid.
func Encode(voltage, current acquire.Batch) ([]byte, error) {
	if voltage.Channel < 0 || voltage.Channel >= channel.CurrentOffset {
		return nil, fmt.Errorf("%w: %d is not a voltage channel", ErrMalformed, voltage.Channel)
	}
	if current.Channel != voltage.Channel+channel.CurrentOffset {
		return nil, fmt.Errorf("%w: voltage %d, current %d", ErrUnpaired, voltage.Channel, current.Channel)
	}
	if err := channel.CheckSamples(voltage.Len()); err != nil {
		return nil, fmt.Errorf("voltage channel %d: %w", voltage.Channel, err)
	}
	if err := channel.CheckSamples(current.Len()); err != nil {
		return nil, fmt.Errorf("current channel %d: %w", current.Channel, err)
	}
	if err := checkCodes(voltage.Codes); err != nil {
		return nil, fmt.Errorf("voltage channel %d: %w", voltage.Channel, err)
	}
	if err := checkCodes(current.Codes); err != nil {
		return nil, fmt.Errorf("current channel %d: %w", current.Channel, err)
	}

	f := Frame{VoltageID: voltage.Channel, Voltage: voltage.Codes, Current: current.Codes}
	return Append(make([]byte, 0, f.Size()), f), nil
}

// Append appends the encoding of f to dst without validation.
func Append(dst []byte, f Frame) []byte {
	dst = append(dst, Sync, byte('0'+f.VoltageID))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(f.Voltage)))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(f.Current)))
	dst = append(dst, ElementSize, 0)
	for _, c := range f.Voltage {
		dst = binary.LittleEndian.AppendUint16(dst, c)
	}
	for _, c := range f.Current {
		dst = binary.LittleEndian.AppendUint16(dst, c)
	}
	return dst
}

// header is the parsed fixed part of a frame.
type header struct {
	voltageID    int
	voltageCount int
	currentCount int
}

func (h header) size() int {
	return HeaderSize + ElementSize*(h.voltageCount+h.currentCount)
}

func parseHeader(b []byte) (header, error) {
	if len(b) < HeaderSize {
		return header{}, fmt.Errorf("%w: %d byte header", ErrMalformed, len(b))
	}
	if b[0] != Sync {
		return header{}, fmt.Errorf("%w: sync 0x%02X", ErrMalformed, b[0])
	}
	if b[1] < '0' || b[1] >= '0'+channel.CurrentOffset {
		return header{}, fmt.Errorf("%w: voltage id 0x%02X", ErrMalformed, b[1])
	}
	if b[6] != ElementSize {
		return header{}, fmt.Errorf("%w: element size %d", ErrMalformed, b[6])
	}
	if b[7] != 0 {
		return header{}, fmt.Errorf("%w: reserved byte 0x%02X", ErrMalformed, b[7])
	}
	h := header{
		voltageID:    int(b[1] - '0'),
		voltageCount: int(binary.LittleEndian.Uint16(b[2:])),
		currentCount: int(binary.LittleEndian.Uint16(b[4:])),
	}
	if err := channel.CheckSamples(h.voltageCount); err != nil {
		return header{}, fmt.Errorf("%w: voltage count: %w", ErrMalformed, err)
	}
	if err := channel.CheckSamples(h.currentCount); err != nil {
		return header{}, fmt.Errorf("%w: current count: %w", ErrMalformed, err)
	}
	return h, nil
}

// checkCodes rejects codes wider than 10 bits. Such a code in a received
// frame means the payload ran into the header of another frame.
func checkCodes(codes []uint16) error {
	for i, c := range codes {
		if c > acquire.CodeMask {
			return fmt.Errorf("%w: code %d is 0x%04X", ErrMalformed, i, c)
		}
	}
	return nil
}

func decodeBody(h header, b []byte) (Frame, error) {
	f := Frame{
		VoltageID: h.voltageID,
		Voltage:   make([]uint16, h.voltageCount),
		Current:   make([]uint16, h.currentCount),
	}
	off := HeaderSize
	for i := range f.Voltage {
		f.Voltage[i] = binary.LittleEndian.Uint16(b[off:])
		off += ElementSize
	}
	for i := range f.Current {
		f.Current[i] = binary.LittleEndian.Uint16(b[off:])
		off += ElementSize
	}
	if err := checkCodes(f.Voltage); err != nil {
		return Frame{}, fmt.Errorf("voltage: %w", err)
	}
	if err := checkCodes(f.Current); err != nil {
		return Frame{}, fmt.Errorf("current: %w", err)
	}
	return f, nil
}

// Decode parses exactly one frame from b.
func Decode(b []byte) (Frame, error) {
	h, err := parseHeader(b)
	if err != nil {
		return Frame{}, err
	}
	if len(b) != h.size() {
		return Frame{}, fmt.Errorf("%w: %d bytes, header declares %d", ErrMalformed, len(b), h.size())
	}
	return decodeBody(h, b)
}
