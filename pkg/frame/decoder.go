package frame

import (
	"bufio"
	"errors"
	"io"
)

// Decoder reads frames from a byte stream. Bytes that do not start a valid
// frame are skipped, so the decoder recovers from truncated frames and
// interleaved text.
type Decoder struct {
	r       *bufio.Reader
	skipped int
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 2*MaxSize)}
}

// Skipped returns the number of bytes discarded while searching for frames.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Next returns the next frame. It returns io.EOF at a clean end of stream and
// io.ErrUnexpectedEOF when the stream ends inside a frame.
func (d *Decoder) Next() (Frame, error) {
	for {
		b, err := d.r.Peek(1)
		if err != nil {
			return Frame{}, err
		}
		if b[0] != Sync {
			d.discard(1)
			continue
		}

		hdr, err := d.r.Peek(HeaderSize)
		if err != nil {
			return Frame{}, unexpected(err)
		}
		h, err := parseHeader(hdr)
		if err != nil {
			d.discard(1)
			continue
		}

		buf, err := d.r.Peek(h.size())
		if err != nil {
			return Frame{}, unexpected(err)
		}
		f, err := decodeBody(h, buf)
		if err != nil {
			d.discard(1)
			continue
		}
		d.r.Discard(h.size())
		return f, nil
	}
}

func (d *Decoder) discard(n int) {
	m, _ := d.r.Discard(n)
	d.skipped += m
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
